package build

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cruciblehq/popbuild/internal/toolchain"
)

// Failure taxonomy. Every build failure matches ErrBuild; a failing step also
// matches the sentinel of its step.
var (
	ErrBuild               = errors.New("build failed")
	ErrFileSystemOperation = errors.New("file system operation failed")
	ErrCopy                = errors.New("copy failed")
	ErrInvalidTransition   = errors.New("invalid phase transition")

	ErrToolchainUnavailable = toolchain.ErrUnavailable
	ErrBuildDependencies    = errors.New("build dependencies could not be installed")
	ErrCompilation          = errors.New("compilation failed")
	ErrArtifactPlacement    = errors.New("artifact placement failed")
	ErrDependencyIndex      = errors.New("package index refresh failed")
	ErrBootstrap            = errors.New("dependency bootstrap failed")
	ErrCleanup              = errors.New("cache cleanup failed")
	ErrExport               = errors.New("image export failed")
)

// Maximum number of stderr lines kept in a [StepError].
const stderrTail = 20

// Identifies the first failing step of a [Sequence].
type StepError struct {
	Sequence string // Name of the sequence.
	Step     string // Name of the failing step.
	ExitCode int    // Exit code, zero when the step failed without running a process.
	Stderr   string // Last lines of the process's standard error.
	Kind     error  // Taxonomy sentinel of the step.
	Cause    error  // Underlying error, nil when the process exited non-zero.
}

// Returns the sentinel, the failing step and its exit code or cause, followed
// by the captured stderr tail.
func (e *StepError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: step %s/%s", e.Kind, e.Sequence, e.Step)
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	} else {
		fmt.Fprintf(&b, ": exit code %d", e.ExitCode)
	}
	if e.Stderr != "" {
		fmt.Fprintf(&b, "\n%s", e.Stderr)
	}
	return b.String()
}

// Returns the step's sentinel and, when set, the underlying cause.
func (e *StepError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

// Returned by [Run] when the pipeline stops before reaching [PhaseReady].
type BuildError struct {
	Reached Phase // Last phase completed before the failure.
	Err     error
}

// Returns the failure prefixed with the last phase reached.
func (e *BuildError) Error() string {
	return fmt.Sprintf("build failed after phase %s: %v", e.Reached, e.Err)
}

// Returns [ErrBuild] and the wrapped failure.
func (e *BuildError) Unwrap() []error {
	return []error{ErrBuild, e.Err}
}

// Wraps err under a sentinel so both match errors.Is.
func wrap(sentinel, err error) error {
	return fmt.Errorf("%w: %w", sentinel, err)
}

// Returns the last n lines of s.
func tail(s string, n int) string {
	s = strings.TrimRight(s, "\n")
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
