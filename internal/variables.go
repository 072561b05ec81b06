package internal

import (
	"fmt"
	"runtime"
	"strings"
)

// Program name, used for logger groups, XDG subdirectories and image labels.
const Name = "popbuild"

const (
	undefined  = "(undefined)" // Placeholder for an unset linker variable.
	localBuild = "(local)"     // Version string of a build made outside the release pipeline.
	mainBranch = "main"        // Branch whose builds carry no stage suffix.
)

// Set via -ldflags "-X github.com/cruciblehq/popbuild/internal.<name>=<value>".
var (
	version   = ""
	stage     = ""
	gitCommit = ""

	rawQuiet   = "false"
	rawDebug   = "false"
	rawVerbose = "false"
)

// Describes the running binary.
type Info struct {
	Version   string `json:"version"`    // Release version without a "v" prefix.
	Stage     string `json:"stage"`      // Release stage or branch.
	GitCommit string `json:"git_commit"` // Commit the binary was built from.
	Arch      string `json:"arch"`       // GOARCH of the binary.
	Local     bool   `json:"local"`      // Whether any release variable is missing.
}

// Returns the build information of the running binary.
//
// Unset variables are reported as "(undefined)". A leading "v" is stripped
// from the version and the version and stage are lower-cased.
func BuildInfo() Info {
	return Info{
		Version:   orUndefined(strings.TrimPrefix(strings.ToLower(strings.TrimSpace(version)), "v")),
		Stage:     orUndefined(strings.ToLower(strings.TrimSpace(stage))),
		GitCommit: orUndefined(strings.TrimSpace(gitCommit)),
		Arch:      runtime.GOARCH,
		Local:     isLocal(version, stage, gitCommit),
	}
}

// Formats the build information as "<version>[+<stage>] <commit> [<arch>]".
//
// Local builds are formatted as "(local)". The stage suffix is omitted for
// builds of the main branch.
func (i Info) String() string {
	if i.Local {
		return localBuild
	}

	suffix := ""
	if i.Stage != mainBranch {
		suffix = "+" + i.Stage
	}

	return fmt.Sprintf("%s%s %s [%s]", i.Version, suffix, i.GitCommit, i.Arch)
}

// Shorthand for BuildInfo().String().
func VersionString() string {
	return BuildInfo().String()
}

func orUndefined(s string) string {
	if s == "" {
		return undefined
	}
	return s
}

func isLocal(values ...string) bool {
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			return true
		}
	}
	return false
}
