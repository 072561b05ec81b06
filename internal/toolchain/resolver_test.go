package toolchain

import (
	"errors"
	"testing"

	"github.com/cruciblehq/popbuild/internal/config"
	"github.com/google/go-cmp/cmp"
)

const (
	checkCmd = "rustup show active-toolchain"
)

func newTestResolver() *Resolver {
	return NewResolver(config.Default().Toolchain)
}

func TestResolveActiveUnpinned(t *testing.T) {
	exec := newFakeExec(t).
		on(checkCmd, ok("1.80.1-x86_64-unknown-linux-gnu (default)\n"))

	outcome, err := newTestResolver().Resolve(t.Context(), exec, nil)
	if err != nil {
		t.Fatal(err)
	}

	want := &Outcome{Branch: BranchActive, Toolchain: "1.80.1-x86_64-unknown-linux-gnu", Channel: "stable"}
	if diff := cmp.Diff(want, outcome); diff != "" {
		t.Fatalf("outcome (-want +got):\n%s", diff)
	}
	if len(exec.calls) != 1 {
		t.Fatalf("calls = %v, want only the active check", exec.calls)
	}
}

func TestResolveActivePinned(t *testing.T) {
	exec := newFakeExec(t).
		on(checkCmd, ok("1.81.0-x86_64-unknown-linux-gnu (overridden by '/pop/rust-toolchain.toml')"))

	outcome, err := newTestResolver().Resolve(t.Context(), exec, &Selector{Channel: "1.81.0"})
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Branch != BranchActive || !outcome.Pinned {
		t.Fatalf("outcome = %+v, want active pinned", outcome)
	}
}

func TestResolveInstallsDefault(t *testing.T) {
	exec := newFakeExec(t).
		on(checkCmd, exit(1, "no active toolchain"), ok("stable-x86_64-unknown-linux-gnu (default)")).
		on("rustup toolchain install stable --profile minimal", ok("")).
		on("rustup default stable", ok(""))

	outcome, err := newTestResolver().Resolve(t.Context(), exec, nil)
	if err != nil {
		t.Fatal(err)
	}

	if outcome.Branch != BranchInstalled {
		t.Fatalf("branch = %q, want installed", outcome.Branch)
	}
	want := []string{
		checkCmd,
		"rustup toolchain install stable --profile minimal",
		"rustup default stable",
		checkCmd,
	}
	if diff := cmp.Diff(want, exec.calls); diff != "" {
		t.Fatalf("calls (-want +got):\n%s", diff)
	}
}

func TestResolveInstallsPinMismatch(t *testing.T) {
	sel := &Selector{
		Channel:    "nightly-2024-09-01",
		Components: []string{"rust-src"},
		Targets:    []string{"wasm32-unknown-unknown"},
		Profile:    "default",
	}
	exec := newFakeExec(t).
		on(checkCmd, ok("stable-x86_64-unknown-linux-gnu"), ok("nightly-2024-09-01-x86_64-unknown-linux-gnu")).
		on("rustup toolchain install nightly-2024-09-01 --profile default --component rust-src --target wasm32-unknown-unknown", ok(""))

	outcome, err := newTestResolver().Resolve(t.Context(), exec, sel)
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Branch != BranchInstalled || outcome.Channel != sel.Channel {
		t.Fatalf("outcome = %+v", outcome)
	}
}

func TestResolveInstallFailureIsFatal(t *testing.T) {
	exec := newFakeExec(t).
		on(checkCmd, exit(1, "")).
		on("rustup toolchain install 1.81.0 --profile minimal", exit(1, "error: no release found"))

	_, err := newTestResolver().Resolve(t.Context(), exec, &Selector{Channel: "1.81.0"})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	for _, c := range exec.calls {
		if c == "rustup default 1.81.0" {
			t.Fatal("fallback command run after failed install")
		}
	}
}

func TestResolveStillInactiveAfterInstall(t *testing.T) {
	exec := newFakeExec(t).
		on(checkCmd, ok("stable-x86_64-unknown-linux-gnu")).
		on("rustup toolchain install 1.81.0 --profile minimal", ok(""))

	_, err := newTestResolver().Resolve(t.Context(), exec, &Selector{Channel: "1.81.0"})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestResolveExecError(t *testing.T) {
	exec := newFakeExec(t).on(checkCmd, nil)

	_, err := newTestResolver().Resolve(t.Context(), exec, nil)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestSelectorMatches(t *testing.T) {
	tests := []struct {
		channel string
		active  string
		want    bool
	}{
		{"1.81.0", "1.81.0-x86_64-unknown-linux-gnu", true},
		{"1.81.0", "1.81.0", true},
		{"1.81", "1.81.0-x86_64-unknown-linux-gnu", false},
		{"stable", "stable-aarch64-unknown-linux-gnu", true},
		{"nightly", "nightly-2024-09-01-x86_64-unknown-linux-gnu", true},
		{"stable", "beta-x86_64-unknown-linux-gnu", false},
	}

	for _, tt := range tests {
		t.Run(tt.channel+"/"+tt.active, func(t *testing.T) {
			if got := (&Selector{Channel: tt.channel}).Matches(tt.active); got != tt.want {
				t.Fatalf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}
