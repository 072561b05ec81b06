package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cruciblehq/popbuild/internal/build"
	"github.com/cruciblehq/popbuild/internal/runtime"
)

// Represents the 'popbuild build' command.
type BuildCmd struct {
	PipelineFlags
	OutputFlags

	Address   string `help:"Containerd socket address." default:"${containerd_address}" env:"POPBUILD_CONTAINERD_ADDRESS"`
	Namespace string `help:"Containerd namespace." default:"${containerd_namespace}" env:"POPBUILD_CONTAINERD_NAMESPACE"`
}

// Executes the build command.
//
// Runs both stages against containerd in this process and prints the path of
// the exported archive. A failed build logs the failing step.
func (c *BuildCmd) Run(ctx context.Context) error {
	pipeline, err := c.load()
	if err != nil {
		return err
	}

	output, err := c.output(pipeline.Name)
	if err != nil {
		return err
	}

	rt, err := runtime.New(c.Address, c.Namespace)
	if err != nil {
		return err
	}
	defer rt.Close()

	result, err := build.Run(ctx, build.Containerd(rt), build.Options{
		Pipeline: pipeline,
		Output:   output,
		Tag:      c.Tag,
	})
	if err != nil {
		return err
	}

	slog.Debug("toolchain", "branch", result.Toolchain.Branch, "toolchain", result.Toolchain.Toolchain)

	fmt.Println(result.Archive)
	return nil
}
