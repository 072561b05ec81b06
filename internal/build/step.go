package build

import (
	"context"
	"log/slog"
	"strings"

	"github.com/cruciblehq/popbuild/internal/runtime"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// A single fallible operation of a [Sequence].
//
// Exactly one of Run, Args or Action is set. Run is a shell command, Args is
// executed without a shell, and Action is arbitrary Go code operating on the
// stage container.
type Step struct {
	Name     string
	Run      string
	Args     []string
	Action   func(ctx context.Context, ctr Container, env []string, workdir string) error
	Detail   string            // Human-readable description of Action.
	Env      map[string]string // Overrides the stage environment for this step.
	Workdir  string            // Overrides the stage workdir for this step.
	Optional bool              // Failure is logged and the sequence continues.
	Kind     error             // Taxonomy sentinel reported on failure.
	Phase    Phase             // Entered when the step completes, if set.
}

// Returns the command line or action description of the step.
func (s Step) Describe() string {
	switch {
	case s.Run != "":
		return s.Run
	case len(s.Args) > 0:
		return strings.Join(s.Args, " ")
	default:
		return s.Detail
	}
}

// Runs the step with the resolved state. Returns nil or a *StepError
// without the sequence name.
func (s Step) execute(ctx context.Context, ctr Container, state *stepState) *StepError {
	fail := &StepError{Step: s.Name, Kind: s.Kind}
	env := state.environ()

	switch {
	case s.Action != nil:
		if err := s.Action(ctx, ctr, env, state.workdir); err != nil {
			fail.Cause = err
			return fail
		}
		return nil

	case s.Run != "":
		slog.Debug("run", "step", s.Name, "command", s.Run, "shell", state.shell)
		res, err := ctr.Exec(ctx, state.shell, s.Run, env, state.workdir)
		return check(fail, res, err)

	default:
		slog.Debug("exec", "step", s.Name, "args", s.Args)
		res, err := ctr.ExecArgs(ctx, s.Args, env, state.workdir)
		return check(fail, res, err)
	}
}

// Converts an exec outcome into a step failure.
func check(fail *StepError, res *runtime.ExecResult, err error) *StepError {
	if err != nil {
		fail.Cause = err
		return fail
	}
	if res.ExitCode != 0 {
		fail.ExitCode = res.ExitCode
		fail.Stderr = tail(res.Stderr, stderrTail)
		return fail
	}
	return nil
}

// Ordered list of steps executed as one transaction.
//
// Steps run strictly in order. The first failure of a non-optional step
// aborts the sequence; later steps never run.
type Sequence struct {
	Name  string
	Steps []Step
}

// Runs the sequence against ctr. Phases named by completed steps are entered
// on tracker.
func (q Sequence) run(ctx context.Context, ctr Container, state *stepState, tracker *Tracker) error {
	ctx, span := tracer.Start(ctx, "sequence "+q.Name, trace.WithAttributes(
		attribute.String("popbuild.sequence", q.Name),
		attribute.String("popbuild.container", ctr.ID()),
	))
	defer span.End()

	for _, step := range q.Steps {
		if err := ctx.Err(); err != nil {
			return err
		}

		if fail := step.execute(ctx, ctr, state.resolve(step)); fail != nil {
			fail.Sequence = q.Name
			if !step.Optional {
				span.RecordError(fail)
				span.SetStatus(codes.Error, fail.Error())
				return fail
			}
			slog.Warn("optional step failed", "sequence", q.Name, "step", step.Name, "error", fail)
		}

		if step.Phase != "" {
			if err := tracker.Advance(step.Phase); err != nil {
				return err
			}
		}
	}

	span.SetStatus(codes.Ok, "")
	return nil
}
