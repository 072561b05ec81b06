package build

import (
	"slices"

	"github.com/cruciblehq/popbuild/internal/config"
)

// Contract version of [SubcommandInstaller].
const ContractV1 = "v1"

// Self-bootstrap capability of the packaged tool.
//
// The runtime stage installs the tool's own dependencies by running the tool
// itself. Contract names the version of the command contract so a change in
// the tool's interface is visible in the image labels.
type Installer interface {
	Contract() string
	Args(binary string) []string
}

// Runs "<binary> <subcommand> <flags...>" without a shell.
//
// The invoked command must be non-interactive and exit non-zero on failure.
type SubcommandInstaller struct {
	Subcommand string
	Flags      []string
}

// Creates the installer declared by the pipeline.
func NewInstaller(cfg config.Install) *SubcommandInstaller {
	return &SubcommandInstaller{
		Subcommand: cfg.Subcommand,
		Flags:      slices.Clone(cfg.Flags),
	}
}

// Returns [ContractV1].
func (i *SubcommandInstaller) Contract() string {
	return ContractV1
}

// Returns binary followed by the subcommand and its flags, e.g.
// ["/usr/bin/pop", "install", "-y"].
func (i *SubcommandInstaller) Args(binary string) []string {
	args := make([]string, 0, 2+len(i.Flags))
	args = append(args, binary, i.Subcommand)
	return append(args, i.Flags...)
}
