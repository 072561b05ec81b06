package config

import (
	"fmt"
	"path"
	"slices"

	"github.com/containerd/platforms"
)

// Patterns always excluded from the source tree, ahead of [Pipeline.Ignore].
var DefaultIgnore = []string{"target", ".git"}

// Decides whether a failed cache cleanup fails the build.
type CleanupPolicy string

const (
	CleanupFatal CleanupPolicy = "fatal" // Cleanup failure fails the build.
	CleanupWarn  CleanupPolicy = "warn"  // Cleanup failure is logged and the build continues.
)

// Declarative two-stage build.
type Pipeline struct {
	Name      string    `yaml:"name"`               // Resource name, prefixes container IDs and the image title.
	Source    string    `yaml:"source,omitempty"`   // Host source tree. Relative paths resolve against the pipeline file.
	Platform  string    `yaml:"platform,omitempty"` // Target platform. Empty selects the host platform.
	Ignore    []string  `yaml:"ignore,omitempty"`   // Extra .dockerignore-style patterns excluded from the source tree.
	Builder   Builder   `yaml:"builder"`
	Toolchain Toolchain `yaml:"toolchain"`
	Compile   Compile   `yaml:"compile"`
	Runtime   Runtime   `yaml:"runtime"`
}

// Builder stage settings.
type Builder struct {
	Image          string            `yaml:"image"`
	Workdir        string            `yaml:"workdir"`
	PackageManager PackageManager    `yaml:"package_manager"`
	Commands       PackageCommands   `yaml:"package_commands,omitempty"`
	Packages       []string          `yaml:"packages,omitempty"` // Build-time packages, never present in the runtime image.
	Env            map[string]string `yaml:"env,omitempty"`
}

// Toolchain resolution settings.
type Toolchain struct {
	Tool    string `yaml:"tool"`    // Toolchain manager executable.
	Default string `yaml:"default"` // Channel installed when the source tree pins none.
	Profile string `yaml:"profile"` // Installation profile.
}

// Compilation settings.
type Compile struct {
	Binary   string   `yaml:"binary"`             // Name of the produced executable.
	Profile  string   `yaml:"profile"`            // Cargo profile; "release" is optimised.
	Locked   bool     `yaml:"locked,omitempty"`   // Require an up-to-date lock file.
	Bin      string   `yaml:"bin,omitempty"`      // Build only this binary target.
	Features []string `yaml:"features,omitempty"` // Cargo features to enable.
}

// Runtime stage settings.
type Runtime struct {
	Image          string            `yaml:"image"`
	PackageManager PackageManager    `yaml:"package_manager"`
	Commands       PackageCommands   `yaml:"package_commands,omitempty"`
	BinaryPath     string            `yaml:"binary_path"` // Location of the binary in the final image.
	Install        Install           `yaml:"install"`
	Cleanup        CleanupPolicy     `yaml:"cleanup"`
	Labels         map[string]string `yaml:"labels,omitempty"`
}

// Self-bootstrap directive: "<binary> <subcommand> <flags...>".
type Install struct {
	Subcommand string   `yaml:"subcommand"`
	Flags      []string `yaml:"flags,omitempty"`
}

// Returns the pipeline that packages the pop CLI.
func Default() *Pipeline {
	return &Pipeline{
		Name:   "pop",
		Source: ".",
		Builder: Builder{
			Image:          "docker.io/library/rust:latest",
			Workdir:        "/pop",
			PackageManager: Apt,
			Packages:       []string{"protobuf-compiler"},
		},
		Toolchain: Toolchain{
			Tool:    "rustup",
			Default: "stable",
			Profile: "minimal",
		},
		Compile: Compile{
			Binary:  "pop",
			Profile: "release",
		},
		Runtime: Runtime{
			Image:          "docker.io/library/ubuntu:22.04",
			PackageManager: Apt,
			BinaryPath:     "/usr/bin/pop",
			Install: Install{
				Subcommand: "install",
				Flags:      []string{"-y"},
			},
			Cleanup: CleanupFatal,
		},
	}
}

// Checks the pipeline for values that would fail late, inside a container.
func (p *Pipeline) Validate() error {
	switch {
	case p.Name == "":
		return invalid("name is required")
	case p.Builder.Image == "":
		return invalid("builder.image is required")
	case p.Runtime.Image == "":
		return invalid("runtime.image is required")
	case !path.IsAbs(p.Builder.Workdir):
		return invalid("builder.workdir %q must be absolute", p.Builder.Workdir)
	case !path.IsAbs(p.Runtime.BinaryPath):
		return invalid("runtime.binary_path %q must be absolute", p.Runtime.BinaryPath)
	case p.Toolchain.Tool == "":
		return invalid("toolchain.tool is required")
	case p.Toolchain.Default == "":
		return invalid("toolchain.default is required")
	case p.Compile.Binary == "":
		return invalid("compile.binary is required")
	case p.Compile.Profile == "":
		return invalid("compile.profile is required")
	case p.Runtime.Install.Subcommand == "":
		return invalid("runtime.install.subcommand is required")
	}

	if !slices.Contains([]CleanupPolicy{CleanupFatal, CleanupWarn}, p.Runtime.Cleanup) {
		return invalid("runtime.cleanup %q must be %q or %q", p.Runtime.Cleanup, CleanupFatal, CleanupWarn)
	}

	if _, err := p.Builder.PackageManager.Commands(p.Builder.Commands); err != nil {
		return fmt.Errorf("builder: %w", err)
	}
	if _, err := p.Runtime.PackageManager.Commands(p.Runtime.Commands); err != nil {
		return fmt.Errorf("runtime: %w", err)
	}

	if p.Platform != "" {
		if _, err := platforms.Parse(p.Platform); err != nil {
			return invalid("platform %q: %v", p.Platform, err)
		}
	}

	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidPipeline, fmt.Sprintf(format, args...))
}

// Returns [DefaultIgnore] followed by the pipeline's own patterns.
func (p *Pipeline) IgnorePatterns() []string {
	return append(slices.Clone(DefaultIgnore), p.Ignore...)
}
