package build

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/moby/patternmatcher"
	"github.com/moby/patternmatcher/ignorefile"
	"golang.org/x/sync/errgroup"
)

// Ignore file read from the root of the source tree.
const ignoreFilename = ".dockerignore"

// Returns the exclusion matcher for the source tree at root.
//
// Patterns from the tree's .dockerignore, if any, are appended to extra.
func sourceMatcher(root string, extra []string) (*patternmatcher.PatternMatcher, error) {
	patterns := append([]string(nil), extra...)

	f, err := os.Open(filepath.Join(root, ignoreFilename))
	switch {
	case err == nil:
		defer f.Close()
		fromFile, err := ignorefile.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", ignoreFilename, err)
		}
		patterns = append(patterns, fromFile...)
	case !errors.Is(err, fs.ErrNotExist):
		return nil, err
	}

	return patternmatcher.New(patterns)
}

// Streams the host source tree at root into destDir inside ctr.
//
// Paths matched by the ignore patterns are skipped. The archive is produced
// on a pipe while the container extracts it. A failed walk fails the copy
// even when the extracting side accepted the truncated stream.
func copySource(ctx context.Context, ctr Container, root, destDir string, ignore []string) error {
	matcher, err := sourceMatcher(root, ignore)
	if err != nil {
		return wrap(ErrCopy, err)
	}

	slog.Debug("copy source", "src", root, "dest", destDir)

	pr, pw := io.Pipe()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		tw := tar.NewWriter(pw)
		err := writeTree(tw, root, matcher)
		if closeErr := tw.Close(); err == nil {
			err = closeErr
		}
		pw.CloseWithError(err)
		if err != nil {
			return fmt.Errorf("%s: %w", root, err)
		}
		return nil
	})

	g.Go(func() error {
		if err := ctr.CopyTo(ctx, pr, destDir); err != nil {
			pr.CloseWithError(err)
			return err
		}
		// Trailing padding the extractor left unread.
		_, err := io.Copy(io.Discard, pr)
		return err
	})

	if err := g.Wait(); err != nil {
		return wrap(ErrCopy, err)
	}
	return nil
}

// Writes the tree at root to tw with paths relative to root, skipping paths
// excluded by matcher. Symbolic links are stored as links.
func writeTree(tw *tar.Writer, root string, matcher *patternmatcher.PatternMatcher) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		excluded, err := matcher.MatchesOrParentMatches(rel)
		if err != nil {
			return err
		}
		if excluded {
			// A directory can only be pruned when no pattern re-includes
			// something below it.
			if d.IsDir() && !matcher.Exclusions() {
				return filepath.SkipDir
			}
			return nil
		}

		return writeTarEntry(tw, p, rel, d)
	})
}

// Writes a single file, directory or symbolic link entry to tw.
func writeTarEntry(tw *tar.Writer, hostPath, archivePath string, d fs.DirEntry) error {
	info, err := d.Info()
	if err != nil {
		return err
	}

	var link string
	if info.Mode()&fs.ModeSymlink != 0 {
		if link, err = os.Readlink(hostPath); err != nil {
			return err
		}
	}

	header, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return err
	}
	header.Name = archivePath
	if info.IsDir() {
		header.Name += "/"
	}

	if err := tw.WriteHeader(header); err != nil {
		return err
	}

	if !info.Mode().IsRegular() {
		return nil
	}

	f, err := os.Open(hostPath)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(tw, f)
	return err
}

// Copies the file at src in the from container to the directory destDir in
// the to container, keeping its base name and mode.
//
// The tar stream is piped directly between the two containers. Both ends run
// concurrently; a failure on either side closes the pipe so the other side
// returns.
func copyBetween(ctx context.Context, from, to Container, src, destDir string) error {
	slog.Debug("cross-stage copy", "from", from.ID(), "src", src, "to", to.ID(), "dest", destDir)

	pr, pw := io.Pipe()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := from.CopyFrom(ctx, pw, src)
		pw.CloseWithError(err)
		return err
	})

	g.Go(func() error {
		err := to.CopyTo(ctx, pr, destDir)
		pr.CloseWithError(err)
		return err
	})

	if err := g.Wait(); err != nil {
		return wrap(ErrCopy, fmt.Errorf("%s:%s -> %s: %w", from.ID(), src, path.Join(destDir, path.Base(src)), err))
	}
	return nil
}
