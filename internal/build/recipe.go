package build

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cruciblehq/popbuild/internal/config"
	"github.com/cruciblehq/popbuild/internal/runtime"
	"github.com/cruciblehq/popbuild/internal/toolchain"
)

// Image labels set on export.
const (
	LabelTitle     = "org.opencontainers.image.title"
	LabelToolchain = "io.popbuild.toolchain"
	LabelInstaller = "io.popbuild.installer.contract"
)

var tracer = otel.Tracer("github.com/cruciblehq/popbuild/internal/build")

// Holds shared state for a single build.
type recipe struct {
	rt        Runtime
	pipeline  *config.Pipeline
	output    string
	tag       string
	platform  string
	installer Installer
	selector  *toolchain.Selector
	resolver  *toolchain.Resolver
	compiler  *toolchain.Compiler
	tracker   *Tracker

	stages     map[string]Container // Running stage containers by stage name.
	containers []Container          // All started containers, destroyed after the build.
	outcome    *toolchain.Outcome   // Set once the toolchain is resolved.
}

// Creates a recipe from opts. The toolchain selector is read from the source
// tree here, before any container is started.
func newRecipe(rt Runtime, opts Options) (*recipe, error) {
	p := opts.Pipeline
	if p == nil {
		p = config.Default()
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	sel, err := toolchain.ReadSelector(p.Source)
	if err != nil {
		return nil, wrap(ErrToolchainUnavailable, err)
	}

	installer := opts.Installer
	if installer == nil {
		installer = NewInstaller(p.Runtime.Install)
	}

	platform := p.Platform
	if platform == "" {
		platform = runtime.DefaultPlatform()
	}

	return &recipe{
		rt:        rt,
		pipeline:  p,
		output:    opts.Output,
		tag:       opts.Tag,
		platform:  platform,
		installer: installer,
		selector:  sel,
		resolver:  toolchain.NewResolver(p.Toolchain),
		compiler:  toolchain.NewCompiler(p.Compile, p.Builder.Workdir),
		tracker:   NewTracker(),
		stages:    make(map[string]Container),
	}, nil
}

// Runs both stages, exports the runtime stage and optionally tags it.
//
// Any failure moves the tracker to [PhaseFailed] and is returned as a
// *BuildError carrying the last phase reached. All stage containers are
// destroyed before returning.
func (r *recipe) build(ctx context.Context) (result *Result, err error) {
	start := time.Now()

	ctx, span := tracer.Start(ctx, "build", trace.WithAttributes(
		attribute.String("popbuild.name", r.pipeline.Name),
		attribute.String("popbuild.platform", r.platform),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	defer r.destroyContainers(ctx)

	plan := r.plan()
	for _, stage := range plan.Stages {
		if err := r.buildStage(ctx, stage); err != nil {
			return nil, r.fail(err)
		}
	}

	archive, err := r.export(ctx)
	if err != nil {
		return nil, r.fail(err)
	}

	if err := r.tracker.Advance(PhaseReady); err != nil {
		return nil, r.fail(err)
	}

	result = &Result{
		Archive:   archive,
		Tag:       r.tag,
		Platform:  r.platform,
		Toolchain: r.outcome,
		Phase:     r.tracker.Current(),
		Duration:  time.Since(start),
	}

	slog.Info("build complete",
		"archive", archive,
		"tag", r.tag,
		"duration", result.Duration.Round(time.Millisecond),
	)

	return result, nil
}

// Starts the stage container and runs its sequences.
func (r *recipe) buildStage(ctx context.Context, stage Stage) error {
	slog.Info(fmt.Sprintf("building stage %s", stage.Name), "image", stage.Image, "platform", r.platform)

	ctx, span := tracer.Start(ctx, "stage "+stage.Name, trace.WithAttributes(
		attribute.String("popbuild.stage", stage.Name),
		attribute.String("popbuild.image", stage.Image),
	))
	defer span.End()

	ctr, err := r.rt.StartContainer(ctx, stage.Image, r.containerID(stage.Name), r.platform)
	if err != nil {
		return fmt.Errorf("stage %s: %w", stage.Name, err)
	}

	r.containers = append(r.containers, ctr)
	r.stages[stage.Name] = ctr

	state := newStepState(stage.Workdir, stage.Env)
	for _, seq := range stage.Sequences {
		if err := seq.run(ctx, ctr, state, r.tracker); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}

	return nil
}

// Commits the runtime stage to output/image.tar and imports it under the tag.
//
// The import runs only after the archive has been written, so a tag never
// points to an image that was not exported.
func (r *recipe) export(ctx context.Context) (string, error) {
	ctr := r.stages[RuntimeStage]

	if err := ctr.Stop(ctx); err != nil {
		return "", wrap(ErrExport, err)
	}

	archive, err := ctr.Export(ctx, r.output, runtime.ExportOptions{
		Entrypoint: []string{r.pipeline.Runtime.BinaryPath},
		Labels:     r.labels(),
	})
	if err != nil {
		return "", wrap(ErrExport, err)
	}

	slog.Info("image exported", "archive", archive)

	if r.tag != "" {
		if err := r.rt.ImportImage(ctx, archive, r.tag, r.platform); err != nil {
			return "", wrap(ErrExport, err)
		}
		slog.Info("image tagged", "tag", r.tag, "platform", r.platform)
	}

	return archive, nil
}

// Returns the labels of the exported image. Pipeline labels take precedence.
func (r *recipe) labels() map[string]string {
	labels := map[string]string{
		LabelTitle:     r.pipeline.Name,
		LabelInstaller: r.installer.Contract(),
	}
	if r.outcome != nil {
		labels[LabelToolchain] = r.outcome.Toolchain
	}
	maps.Copy(labels, r.pipeline.Runtime.Labels)
	return labels
}

// Marks the build failed and wraps err with the last phase reached.
func (r *recipe) fail(err error) error {
	r.tracker.Fail()
	slog.Debug("build failed", "phase", r.tracker.Reached(), "error", err)
	return &BuildError{Reached: r.tracker.Reached(), Err: err}
}

// Destroys all stage containers.
//
// Runs on a context detached from cancellation so an interrupted build still
// removes its containers. Failures are logged, never returned.
func (r *recipe) destroyContainers(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)

	var result *multierror.Error
	for _, ctr := range r.containers {
		if err := ctr.Destroy(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", ctr.ID(), err))
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		slog.Warn("failed to destroy stage containers", "error", err)
	}
}

// Returns the container ID of a stage, scoped to this resource and platform.
func (r *recipe) containerID(stage string) string {
	return fmt.Sprintf("%s-%s-%s", r.pipeline.Name, platformSlug(r.platform), stage)
}

// Converts a platform string to an identifier-safe slug.
//
// Replaces slashes with dashes (e.g., "linux/amd64" becomes "linux-amd64").
func platformSlug(platform string) string {
	return strings.ReplaceAll(platform, "/", "-")
}
