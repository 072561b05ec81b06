package build

import (
	"context"
	"io"

	"github.com/cruciblehq/popbuild/internal/runtime"
	"github.com/cruciblehq/popbuild/internal/toolchain"
)

// Stage container operations used by the pipeline.
type Container interface {
	ID() string
	Exec(ctx context.Context, shell, command string, env []string, workdir string) (*runtime.ExecResult, error)
	ExecArgs(ctx context.Context, args []string, env []string, workdir string) (*runtime.ExecResult, error)
	MkdirAll(ctx context.Context, dir string) error
	CopyTo(ctx context.Context, r io.Reader, destDir string) error
	CopyFrom(ctx context.Context, w io.Writer, p string) error
	Stop(ctx context.Context) error
	Export(ctx context.Context, output string, opts runtime.ExportOptions) (string, error)
	Destroy(ctx context.Context) error
}

// Container runtime used by the pipeline.
type Runtime interface {
	StartContainer(ctx context.Context, ref, id, platform string) (Container, error)
	ImportImage(ctx context.Context, path, tag, platform string) error
}

// Adapts a containerd runtime to [Runtime].
func Containerd(rt *runtime.Runtime) Runtime {
	return &containerdRuntime{rt: rt}
}

type containerdRuntime struct {
	rt *runtime.Runtime
}

func (c *containerdRuntime) StartContainer(ctx context.Context, ref, id, platform string) (Container, error) {
	ctr, err := c.rt.StartContainer(ctx, ref, id, platform)
	if err != nil {
		return nil, err
	}
	return ctr, nil
}

func (c *containerdRuntime) ImportImage(ctx context.Context, path, tag, platform string) error {
	return c.rt.ImportImage(ctx, path, tag, platform)
}

// Runs toolchain commands inside a stage container.
type containerExecutor struct {
	ctr     Container
	env     []string
	workdir string
}

func (e *containerExecutor) Run(ctx context.Context, args ...string) (*toolchain.Result, error) {
	res, err := e.ctr.ExecArgs(ctx, args, e.env, e.workdir)
	if err != nil {
		return nil, err
	}
	return &toolchain.Result{
		ExitCode: res.ExitCode,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
	}, nil
}

var _ toolchain.Executor = (*containerExecutor)(nil)
