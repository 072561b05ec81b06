package runtime

import (
	"context"
	"io"
	"path"
)

// Creates a directory inside the container, including parents.
func (c *Container) MkdirAll(ctx context.Context, dir string) error {
	return c.mustExec(ctx, "mkdir", nil, nil, "mkdir", "-p", dir)
}

// Extracts the tar stream r into destDir inside the container. File modes
// recorded in the stream, including execute bits, are preserved.
func (c *Container) CopyTo(ctx context.Context, r io.Reader, destDir string) error {
	return c.mustExec(ctx, "tar extract", r, nil, "tar", "xpf", "-", "-C", destDir)
}

// Streams the file or directory at p out of the container as a tar archive
// whose single top-level entry is the base name of p.
func (c *Container) CopyFrom(ctx context.Context, w io.Writer, p string) error {
	return c.mustExec(ctx, "tar archive", nil, w, "tar", "cf", "-", "-C", path.Dir(p), path.Base(p))
}

// Runs args and converts a non-zero exit code into an error mentioning desc.
func (c *Container) mustExec(ctx context.Context, desc string, stdin io.Reader, stdout io.Writer, args ...string) error {
	exitCode, stderr, err := c.execCommand(ctx, stdin, stdout, args...)
	if err != nil {
		return err
	}
	if exitCode != 0 {
		return wrapf(ErrRuntime, "%s failed with exit code %d (%s)", desc, exitCode, stderr)
	}
	return nil
}
