package cli

import (
	"fmt"
	"path/filepath"

	"github.com/cruciblehq/popbuild/internal/config"
	"github.com/cruciblehq/popbuild/internal/paths"
)

// Flags shared by the commands that load a pipeline.
type PipelineFlags struct {
	Source   string `arg:"" optional:"" help:"Source tree of pop. Overrides the pipeline file." type:"path"`
	Platform string `short:"p" help:"Target platform, e.g. linux/arm64. Defaults to the host platform." placeholder:"OS/ARCH"`
}

// Loads the pipeline selected by --config and applies the command's flags.
//
// Without --config, the default pipeline file is used when it exists and the
// built-in defaults otherwise. The source tree is made absolute.
func (f *PipelineFlags) load() (*config.Pipeline, error) {
	var (
		p   *config.Pipeline
		err error
	)
	if RootCmd.Config != "" {
		p, err = config.Load(RootCmd.Config)
	} else {
		p, err = config.LoadOrDefault(pipelineFile())
	}
	if err != nil {
		return nil, err
	}

	if f.Source != "" {
		p.Source = f.Source
	}
	if f.Platform != "" {
		p.Platform = f.Platform
	}

	if p.Source, err = filepath.Abs(p.Source); err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrLoad, err)
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Flags naming the build output.
type OutputFlags struct {
	Output string `short:"o" help:"Directory receiving image.tar. Defaults to the data directory." placeholder:"DIR" type:"path"`
	Tag    string `short:"t" help:"Import the image into containerd under this name." placeholder:"NAME"`
}

// Returns the absolute output directory for the named resource.
func (f *OutputFlags) output(name string) (string, error) {
	if f.Output == "" {
		return paths.Output(name), nil
	}
	return filepath.Abs(f.Output)
}

// Default pipeline file.
func pipelineFile() string {
	return paths.PipelineFile()
}
