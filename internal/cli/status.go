package cli

import (
	"context"
	"fmt"

	"github.com/cruciblehq/popbuild/internal/client"
)

// Represents the 'popbuild status' command.
type StatusCmd struct{}

// Executes the status command.
func (c *StatusCmd) Run(ctx context.Context) error {
	status, err := client.New(RootCmd.Socket).Status(ctx)
	if err != nil {
		return err
	}

	last := status.LastOutcome
	if last == "" {
		last = "none"
	}

	fmt.Printf("version:  %s\n", status.Version)
	fmt.Printf("pid:      %d\n", status.Pid)
	fmt.Printf("uptime:   %s\n", status.Uptime)
	fmt.Printf("building: %t\n", status.Building)
	fmt.Printf("builds:   %d (%d failed, last %s)\n", status.Builds, status.Failures, last)
	return nil
}

// Represents the 'popbuild shutdown' command.
type ShutdownCmd struct{}

// Executes the shutdown command.
func (c *ShutdownCmd) Run(ctx context.Context) error {
	return client.New(RootCmd.Socket).Shutdown(ctx)
}
