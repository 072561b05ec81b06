package paths

import (
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

const (

	// Subdirectory name under each XDG base directory.
	appName = "popbuild"

	// Name of the pipeline file under the config directory.
	pipelineFile = "pipeline.yaml"

	// Default permission mode for directories.
	DefaultDirMode os.FileMode = 0755

	// Default permission mode for files.
	DefaultFileMode os.FileMode = 0644
)

// Directory for runtime files (socket, PID).
//
//	Linux:   $XDG_RUNTIME_DIR/popbuild, falling back to $XDG_CACHE_HOME/popbuild/run
//	macOS:   ~/Library/Caches/popbuild/run
func Runtime() string {
	if xdg.RuntimeDir != "" {
		return filepath.Join(xdg.RuntimeDir, appName)
	}
	return filepath.Join(xdg.CacheHome, appName, "run")
}

// Default Unix socket of the build daemon.
func Socket() string {
	return filepath.Join(Runtime(), appName+".sock")
}

// Default PID file of the build daemon.
func PIDFile() string {
	return filepath.Join(Runtime(), appName+".pid")
}

// Default pipeline file.
//
//	Linux:   $XDG_CONFIG_HOME/popbuild/pipeline.yaml
//	macOS:   ~/Library/Application Support/popbuild/pipeline.yaml
func PipelineFile() string {
	return filepath.Join(xdg.ConfigHome, appName, pipelineFile)
}

// Default directory for exported image archives of the named resource.
//
//	Linux:   $XDG_DATA_HOME/popbuild/images/<name>
func Output(name string) string {
	return filepath.Join(xdg.DataHome, appName, "images", name)
}
