package build

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// Build progress. Phases are entered strictly in the order of [phaseOrder];
// any failure moves the build to [PhaseFailed], which is terminal.
type Phase string

const (
	PhaseStart                    Phase = "start"
	PhaseToolchainResolved        Phase = "toolchain-resolved"
	PhaseCompiled                 Phase = "compiled"
	PhaseCopied                   Phase = "copied"
	PhaseDependenciesBootstrapped Phase = "dependencies-bootstrapped"
	PhaseCleaned                  Phase = "cleaned"
	PhaseReady                    Phase = "ready"
	PhaseFailed                   Phase = "failed"
)

var phaseOrder = []Phase{
	PhaseStart,
	PhaseToolchainResolved,
	PhaseCompiled,
	PhaseCopied,
	PhaseDependenciesBootstrapped,
	PhaseCleaned,
	PhaseReady,
}

// A recorded phase change.
type Transition struct {
	From Phase
	To   Phase
	At   time.Time
}

// Enforces the phase order of a single build.
type Tracker struct {
	mu      sync.Mutex
	current Phase
	reached Phase // Last non-failed phase.
	history []Transition
	now     func() time.Time
}

// Creates a tracker in [PhaseStart].
func NewTracker() *Tracker {
	return &Tracker{
		current: PhaseStart,
		reached: PhaseStart,
		now:     time.Now,
	}
}

// Returns the current phase.
func (t *Tracker) Current() Phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Returns the last phase entered before any failure.
func (t *Tracker) Reached() Phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reached
}

// Moves to the phase immediately following the current one.
//
// Skipping a phase, repeating one, or advancing a failed build returns
// [ErrInvalidTransition].
func (t *Tracker) Advance(to Phase) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	i := slices.Index(phaseOrder, t.current)
	if i < 0 || i+1 >= len(phaseOrder) || phaseOrder[i+1] != to {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.current, to)
	}

	t.record(to)
	t.reached = to
	slog.Debug("phase entered", "phase", to)
	return nil
}

// Moves the build to [PhaseFailed]. Failing a failed build is a no-op.
func (t *Tracker) Fail() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current == PhaseFailed {
		return
	}
	t.record(PhaseFailed)
}

// Returns the recorded transitions in order.
func (t *Tracker) History() []Transition {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.history)
}

// Must be called with the lock held.
func (t *Tracker) record(to Phase) {
	t.history = append(t.history, Transition{From: t.current, To: to, At: t.now()})
	t.current = to
}
