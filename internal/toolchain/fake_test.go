package toolchain

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// Scripted [Executor]. Each command line maps to the results it returns on
// successive calls; the last result repeats.
type fakeExec struct {
	t       *testing.T
	results map[string][]*Result
	calls   []string
}

func newFakeExec(t *testing.T) *fakeExec {
	return &fakeExec{t: t, results: make(map[string][]*Result)}
}

func (f *fakeExec) on(cmd string, results ...*Result) *fakeExec {
	f.results[cmd] = results
	return f
}

func (f *fakeExec) Run(_ context.Context, args ...string) (*Result, error) {
	cmd := strings.Join(args, " ")
	f.calls = append(f.calls, cmd)

	rs, ok := f.results[cmd]
	if !ok || len(rs) == 0 {
		f.t.Fatalf("unexpected command %q", cmd)
		return nil, errors.New("unexpected command")
	}
	r := rs[0]
	if len(rs) > 1 {
		f.results[cmd] = rs[1:]
	}
	if r == nil {
		return nil, errors.New("exec failed")
	}
	return r, nil
}

func ok(stdout string) *Result { return &Result{Stdout: stdout} }

func exit(code int, stderr string) *Result { return &Result{ExitCode: code, Stderr: stderr} }
