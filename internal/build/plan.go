package build

import (
	"context"
	"fmt"
	"io"
	"maps"
	"path"
	"strings"

	"github.com/cruciblehq/popbuild/internal/config"
)

// Stage names. Container IDs and cross-stage copy sources use them.
const (
	BuilderStage = "builder"
	RuntimeStage = "runtime"
)

// A container started from Image, running Sequences in order.
type Stage struct {
	Name      string
	Image     string
	Transient bool // Never exported.
	Workdir   string
	Env       map[string]string
	Sequences []Sequence
}

// Ordered stages of a build.
type Plan struct {
	Stages []Stage
}

// Returns the plan for opts without contacting the container runtime.
//
// The toolchain selector is read from the source tree, as it would be by
// [Run].
func NewPlan(opts Options) (*Plan, error) {
	r, err := newRecipe(nil, opts)
	if err != nil {
		return nil, err
	}
	return r.plan(), nil
}

// Writes a human-readable listing of the plan to w.
func (p *Plan) Write(w io.Writer) error {
	for i, stage := range p.Stages {
		if i > 0 {
			if _, err := fmt.Fprintln(w); err != nil {
				return err
			}
		}

		kind := "exported"
		if stage.Transient {
			kind = "transient"
		}
		if _, err := fmt.Fprintf(w, "stage %s (%s, %s)\n", stage.Name, stage.Image, kind); err != nil {
			return err
		}

		for _, seq := range stage.Sequences {
			for _, step := range seq.Steps {
				var flags []string
				if step.Optional {
					flags = append(flags, "optional")
				}
				if step.Phase != "" {
					flags = append(flags, "-> "+string(step.Phase))
				}

				line := fmt.Sprintf("  %-32s %s", seq.Name+"/"+step.Name, step.Describe())
				if len(flags) > 0 {
					line += "  [" + strings.Join(flags, ", ") + "]"
				}
				if _, err := fmt.Fprintln(w, line); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// Returns the builder and runtime stages of the recipe.
func (r *recipe) plan() *Plan {
	return &Plan{Stages: []Stage{r.builderStage(), r.runtimeStage()}}
}

// Source tree, build packages, toolchain, compilation.
func (r *recipe) builderStage() Stage {
	cfg := r.pipeline.Builder
	pkg, _ := cfg.PackageManager.Commands(cfg.Commands)

	source := Sequence{Name: "source", Steps: []Step{
		{
			Name:   "workdir",
			Detail: "mkdir -p " + cfg.Workdir,
			Kind:   ErrFileSystemOperation,
			Action: func(ctx context.Context, ctr Container, _ []string, _ string) error {
				return ctr.MkdirAll(ctx, cfg.Workdir)
			},
		},
		{
			Name:   "copy",
			Detail: fmt.Sprintf("copy %s -> %s", r.pipeline.Source, cfg.Workdir),
			Kind:   ErrCopy,
			Action: func(ctx context.Context, ctr Container, _ []string, _ string) error {
				return copySource(ctx, ctr, r.pipeline.Source, cfg.Workdir, r.pipeline.IgnorePatterns())
			},
		},
	}}

	var deps Sequence
	if len(cfg.Packages) > 0 {
		deps = Sequence{Name: "build-dependencies", Steps: []Step{
			{Name: "refresh", Run: pkg.Refresh, Kind: ErrBuildDependencies},
			{Name: "install", Run: pkg.InstallLine(cfg.Packages), Kind: ErrBuildDependencies},
		}}
	}

	resolve := Sequence{Name: "toolchain", Steps: []Step{
		{
			Name:   "resolve",
			Detail: r.resolveDetail(),
			Kind:   ErrToolchainUnavailable,
			Phase:  PhaseToolchainResolved,
			Action: r.resolveToolchain,
		},
	}}

	compile := Sequence{Name: "compile", Steps: []Step{
		{Name: "cargo", Args: r.compiler.Command(), Kind: ErrCompilation},
		{Name: "artifact", Args: []string{"test", "-f", r.compiler.ArtifactPath()}, Kind: ErrCompilation, Phase: PhaseCompiled},
	}}

	sequences := []Sequence{source}
	if len(deps.Steps) > 0 {
		sequences = append(sequences, deps)
	}
	sequences = append(sequences, resolve, compile)

	return Stage{
		Name:      BuilderStage,
		Image:     cfg.Image,
		Transient: true,
		Workdir:   cfg.Workdir,
		Env:       maps.Clone(cfg.Env),
		Sequences: sequences,
	}
}

// Artifact placement, dependency bootstrap, cache cleanup.
func (r *recipe) runtimeStage() Stage {
	cfg := r.pipeline.Runtime
	pkg, _ := cfg.PackageManager.Commands(cfg.Commands)

	artifact := r.compiler.ArtifactPath()
	dir := path.Dir(cfg.BinaryPath)

	placement := Sequence{Name: "placement", Steps: []Step{
		{
			Name:   "directory",
			Detail: "mkdir -p " + dir,
			Kind:   ErrArtifactPlacement,
			Action: func(ctx context.Context, ctr Container, _ []string, _ string) error {
				return ctr.MkdirAll(ctx, dir)
			},
		},
		{
			Name:   "copy",
			Detail: fmt.Sprintf("copy %s:%s -> %s", BuilderStage, artifact, dir),
			Kind:   ErrArtifactPlacement,
			Action: func(ctx context.Context, ctr Container, _ []string, _ string) error {
				from, ok := r.stages[BuilderStage]
				if !ok {
					return fmt.Errorf("%w: stage %q not running", ErrCopy, BuilderStage)
				}
				return copyBetween(ctx, from, ctr, artifact, dir)
			},
		},
	}}
	if copied := path.Join(dir, path.Base(artifact)); copied != cfg.BinaryPath {
		placement.Steps = append(placement.Steps, Step{
			Name: "rename",
			Args: []string{"mv", "-f", copied, cfg.BinaryPath},
			Kind: ErrArtifactPlacement,
		})
	}
	placement.Steps = append(placement.Steps, Step{
		Name:  "executable",
		Args:  []string{"test", "-x", cfg.BinaryPath},
		Kind:  ErrArtifactPlacement,
		Phase: PhaseCopied,
	})

	bootstrap := Sequence{Name: "bootstrap", Steps: []Step{
		{Name: "refresh", Run: pkg.Refresh, Kind: ErrDependencyIndex},
		{Name: "install", Args: r.installer.Args(cfg.BinaryPath), Kind: ErrBootstrap, Phase: PhaseDependenciesBootstrapped},
		{Name: "clean", Run: pkg.Clean, Kind: ErrCleanup, Optional: cfg.Cleanup == config.CleanupWarn, Phase: PhaseCleaned},
	}}

	return Stage{
		Name:      RuntimeStage,
		Image:     cfg.Image,
		Sequences: []Sequence{placement, bootstrap},
	}
}

// Describes the toolchain decision for plan listings.
func (r *recipe) resolveDetail() string {
	check := strings.Join(r.resolver.CheckCommand(), " ")
	var installs []string
	for _, args := range r.resolver.InstallCommands(r.selector) {
		installs = append(installs, strings.Join(args, " "))
	}
	return check + " || " + strings.Join(installs, " && ")
}

// Resolves the toolchain inside the builder container and records the outcome.
func (r *recipe) resolveToolchain(ctx context.Context, ctr Container, env []string, workdir string) error {
	exec := &containerExecutor{ctr: ctr, env: env, workdir: workdir}
	outcome, err := r.resolver.Resolve(ctx, exec, r.selector)
	if err != nil {
		return err
	}
	r.outcome = outcome
	return nil
}
