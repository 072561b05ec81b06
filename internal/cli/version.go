package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/cruciblehq/popbuild/internal"
)

// Represents the 'popbuild version' command.
type VersionCmd struct {
	JSON bool `help:"Print build information as JSON."`
}

// Executes the version command.
func (c *VersionCmd) Run(ctx context.Context) error {
	if c.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(internal.BuildInfo())
	}

	fmt.Println(internal.VersionString())
	return nil
}
