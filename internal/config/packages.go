package config

import (
	"fmt"
	"strings"
)

// Names a package manager preset.
type PackageManager string

const (
	Apt PackageManager = "apt"
	Apk PackageManager = "apk"
	Dnf PackageManager = "dnf"
)

// Shell commands of a package manager. Install is a prefix; package names
// are appended to it.
type PackageCommands struct {
	Refresh string `yaml:"refresh,omitempty"`
	Install string `yaml:"install,omitempty"`
	Clean   string `yaml:"clean,omitempty"`
}

var presets = map[PackageManager]PackageCommands{
	Apt: {
		Refresh: "apt-get update",
		Install: "DEBIAN_FRONTEND=noninteractive apt-get install -y --no-install-recommends",
		Clean:   "apt-get clean && rm -rf /var/lib/apt/lists/*",
	},
	Apk: {
		Refresh: "apk update",
		Install: "apk add --no-cache",
		Clean:   "rm -rf /var/cache/apk/*",
	},
	Dnf: {
		Refresh: "dnf makecache",
		Install: "dnf install -y",
		Clean:   "dnf clean all && rm -rf /var/cache/dnf",
	},
}

// Returns the preset commands with any non-empty override applied.
func (pm PackageManager) Commands(override PackageCommands) (PackageCommands, error) {
	cmds, ok := presets[pm]
	if !ok {
		return PackageCommands{}, fmt.Errorf("%w: unknown package manager %q", ErrInvalidPipeline, pm)
	}
	if override.Refresh != "" {
		cmds.Refresh = override.Refresh
	}
	if override.Install != "" {
		cmds.Install = override.Install
	}
	if override.Clean != "" {
		cmds.Clean = override.Clean
	}
	return cmds, nil
}

// Returns the install command line for pkgs.
func (c PackageCommands) InstallLine(pkgs []string) string {
	return c.Install + " " + strings.Join(pkgs, " ")
}
