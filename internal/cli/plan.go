package cli

import (
	"context"
	"os"

	"github.com/cruciblehq/popbuild/internal/build"
)

// Represents the 'popbuild plan' command.
type PlanCmd struct {
	PipelineFlags
}

// Executes the plan command.
//
// Prints the ordered steps of both stages. The toolchain pin is read from the
// source tree; containerd is not contacted.
func (c *PlanCmd) Run(ctx context.Context) error {
	pipeline, err := c.load()
	if err != nil {
		return err
	}

	plan, err := build.NewPlan(build.Options{Pipeline: pipeline})
	if err != nil {
		return err
	}

	return plan.Write(os.Stdout)
}
