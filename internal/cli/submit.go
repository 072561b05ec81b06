package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cruciblehq/popbuild/internal/client"
	"github.com/cruciblehq/popbuild/internal/protocol"
)

// Represents the 'popbuild submit' command.
type SubmitCmd struct {
	PipelineFlags
	OutputFlags
}

// Executes the submit command.
//
// Sends the loaded pipeline to the daemon and waits for the build. Paths are
// made absolute before sending, since the daemon does not share the working
// directory. Interrupting the command cancels the build.
func (c *SubmitCmd) Run(ctx context.Context) error {
	pipeline, err := c.load()
	if err != nil {
		return err
	}

	output, err := c.output(pipeline.Name)
	if err != nil {
		return err
	}

	data, err := pipeline.Marshal()
	if err != nil {
		return err
	}

	result, err := client.New(RootCmd.Socket).Build(ctx, &protocol.BuildRequest{
		Pipeline: string(data),
		Output:   output,
		Tag:      c.Tag,
	})
	if err != nil {
		return err
	}

	slog.Info("build complete", "toolchain", result.Toolchain, "duration", result.Duration)

	fmt.Println(result.Archive)
	return nil
}
