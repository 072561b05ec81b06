package toolchain

import (
	"path"
	"strings"

	"github.com/cruciblehq/popbuild/internal/config"
)

// Describes the compilation of the tool.
type Compiler struct {
	cfg     config.Compile
	workdir string
}

// Creates a compiler for sources at workdir in the builder.
func NewCompiler(cfg config.Compile, workdir string) *Compiler {
	return &Compiler{cfg: cfg, workdir: workdir}
}

// Compile command line.
//
// The release profile uses "--release"; other profiles are passed with
// "--profile".
func (c *Compiler) Command() []string {
	args := []string{"cargo", "build"}

	if c.cfg.Profile == "release" {
		args = append(args, "--release")
	} else {
		args = append(args, "--profile", c.cfg.Profile)
	}
	if c.cfg.Locked {
		args = append(args, "--locked")
	}
	if c.cfg.Bin != "" {
		args = append(args, "--bin", c.cfg.Bin)
	}
	if len(c.cfg.Features) > 0 {
		args = append(args, "--features", strings.Join(c.cfg.Features, ","))
	}

	return args
}

// Fixed path of the compiled binary in the builder.
//
// Cargo writes the dev profile to target/debug; every other profile uses its
// own name.
func (c *Compiler) ArtifactPath() string {
	dir := c.cfg.Profile
	if dir == "dev" {
		dir = "debug"
	}
	return path.Join(c.workdir, "target", dir, c.cfg.Binary)
}
