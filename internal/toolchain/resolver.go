package toolchain

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cruciblehq/popbuild/internal/config"
)

// Output of a command run by an [Executor].
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Runs a command without a shell. A non-zero exit code is reported in the
// result, not as an error; errors mean the command could not be run at all.
type Executor interface {
	Run(ctx context.Context, args ...string) (*Result, error)
}

// Branch taken by [Resolver.Resolve].
type Branch string

const (
	BranchActive    Branch = "active"    // The active toolchain already satisfied the selector.
	BranchInstalled Branch = "installed" // A toolchain was installed.
)

// Logged and returned result of toolchain resolution.
type Outcome struct {
	Branch    Branch
	Toolchain string // Active toolchain name as reported by the tool.
	Channel   string // Requested channel, pinned or default.
	Pinned    bool   // Whether the source tree declared the channel.
}

// Resolves a toolchain through a rustup-compatible manager.
type Resolver struct {
	tool           string
	defaultChannel string
	profile        string
}

// Creates a resolver from the pipeline's toolchain settings.
func NewResolver(cfg config.Toolchain) *Resolver {
	return &Resolver{
		tool:           cfg.Tool,
		defaultChannel: cfg.Default,
		profile:        cfg.Profile,
	}
}

// Ensures a toolchain satisfying sel is active. With a nil sel any active
// toolchain is kept and the default channel is installed only when none is.
//
// The active toolchain is kept when it matches. Otherwise the channel is
// installed and, when unpinned, made the default; the active check is then
// repeated once. Every failure wraps [ErrUnavailable].
func (r *Resolver) Resolve(ctx context.Context, exec Executor, sel *Selector) (*Outcome, error) {
	outcome := &Outcome{
		Channel: r.defaultChannel,
		Pinned:  sel != nil,
	}
	if sel != nil {
		outcome.Channel = sel.Channel
	}

	if active, ok, err := r.active(ctx, exec, sel); err != nil {
		return nil, err
	} else if ok {
		outcome.Branch = BranchActive
		outcome.Toolchain = active
		r.log(outcome)
		return outcome, nil
	}

	slog.Debug("toolchain not active, installing", "channel", outcome.Channel, "pinned", outcome.Pinned)

	for _, args := range r.InstallCommands(sel) {
		res, err := exec.Run(ctx, args...)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		if res.ExitCode != 0 {
			return nil, fmt.Errorf("%w: %s exited with code %d: %s", ErrUnavailable, strings.Join(args, " "), res.ExitCode, strings.TrimSpace(res.Stderr))
		}
	}

	active, ok, err := r.active(ctx, exec, sel)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s installed but active toolchain is %q", ErrUnavailable, outcome.Channel, active)
	}

	outcome.Branch = BranchInstalled
	outcome.Toolchain = active
	r.log(outcome)
	return outcome, nil
}

// Command that reports the active toolchain.
func (r *Resolver) CheckCommand() []string {
	return []string{r.tool, "show", "active-toolchain"}
}

// Commands run by the install branch, in order.
func (r *Resolver) InstallCommands(sel *Selector) [][]string {
	channel, profile := r.defaultChannel, r.profile
	if sel != nil {
		channel = sel.Channel
		if sel.Profile != "" {
			profile = sel.Profile
		}
	}

	install := []string{r.tool, "toolchain", "install", channel}
	if profile != "" {
		install = append(install, "--profile", profile)
	}
	if sel != nil {
		for _, c := range sel.Components {
			install = append(install, "--component", c)
		}
		for _, t := range sel.Targets {
			install = append(install, "--target", t)
		}
	}

	// A pinned channel is selected by the toolchain file in the workdir; the
	// default channel has to be made the default explicitly.
	if sel != nil {
		return [][]string{install}
	}
	return [][]string{install, {r.tool, "default", channel}}
}

// Queries the active toolchain. Returns its name and whether it satisfies sel.
func (r *Resolver) active(ctx context.Context, exec Executor, sel *Selector) (string, bool, error) {
	res, err := exec.Run(ctx, r.CheckCommand()...)
	if err != nil {
		return "", false, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if res.ExitCode != 0 {
		return "", false, nil
	}

	fields := strings.Fields(res.Stdout)
	if len(fields) == 0 {
		return "", false, nil
	}

	// Without a pin any active toolchain will do.
	name := fields[0]
	return name, sel.Matches(name), nil
}

func (r *Resolver) log(o *Outcome) {
	slog.Info("toolchain resolved",
		"branch", o.Branch,
		"toolchain", o.Toolchain,
		"channel", o.Channel,
		"pinned", o.Pinned,
	)
}
