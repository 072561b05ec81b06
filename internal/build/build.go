package build

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/cruciblehq/popbuild/internal/config"
	"github.com/cruciblehq/popbuild/internal/paths"
	"github.com/cruciblehq/popbuild/internal/toolchain"
)

// Controls a build.
type Options struct {
	Pipeline  *config.Pipeline // Build declaration. Nil selects [config.Default].
	Output    string           // Directory receiving image.tar.
	Tag       string           // Image name to import the result under. Empty skips the import.
	Installer Installer        // Self-bootstrap contract. Nil selects the pipeline's install directive.
}

// Returned after a successful build.
type Result struct {
	Archive   string             // Path of the exported OCI archive.
	Tag       string             // Image name the archive was imported under, if any.
	Platform  string             // Platform the image was built for.
	Toolchain *toolchain.Outcome // Toolchain resolution outcome.
	Phase     Phase              // Always [PhaseReady].
	Duration  time.Duration
}

// Executes the two-stage build against the container runtime.
//
// The builder stage compiles the tool and is never exported. The runtime
// stage receives the binary, bootstraps its dependencies and is exported to
// opts.Output. Every failure is a *BuildError matching [ErrBuild].
func Run(ctx context.Context, rt Runtime, opts Options) (*Result, error) {
	r, err := newRecipe(rt, opts)
	if err != nil {
		return nil, &BuildError{Reached: PhaseStart, Err: err}
	}

	slog.Info("executing build",
		"name", r.pipeline.Name,
		"source", r.pipeline.Source,
		"output", r.output,
		"platform", r.platform,
	)

	if err := os.MkdirAll(r.output, paths.DefaultDirMode); err != nil {
		return nil, &BuildError{Reached: PhaseStart, Err: wrap(ErrFileSystemOperation, err)}
	}

	return r.build(ctx)
}
