package build

import (
	"maps"
	"slices"
)

// Default shell for Run steps.
const defaultShell = "/bin/sh"

// Execution settings shared by the steps of a stage.
//
// Steps read their effective settings through resolve, which overlays the
// step's own workdir and environment without modifying the stage state.
type stepState struct {
	shell   string
	workdir string
	env     map[string]string
}

// Creates a stage state with the default shell.
func newStepState(workdir string, env map[string]string) *stepState {
	s := &stepState{
		shell:   defaultShell,
		workdir: workdir,
		env:     make(map[string]string, len(env)),
	}
	maps.Copy(s.env, env)
	return s
}

// Returns the settings for step. The receiver is not modified.
func (s *stepState) resolve(step Step) *stepState {
	resolved := &stepState{
		shell:   s.shell,
		workdir: s.workdir,
		env:     make(map[string]string, len(s.env)+len(step.Env)),
	}
	maps.Copy(resolved.env, s.env)
	maps.Copy(resolved.env, step.Env)

	if step.Workdir != "" {
		resolved.workdir = step.Workdir
	}
	return resolved
}

// Formats the environment as sorted "KEY=value" entries.
func (s *stepState) environ() []string {
	env := make([]string, 0, len(s.env))
	for _, k := range slices.Sorted(maps.Keys(s.env)) {
		env = append(env, k+"="+s.env[k])
	}
	return env
}
