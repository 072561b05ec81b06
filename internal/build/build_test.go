package build

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/cruciblehq/popbuild/internal/config"
	"github.com/cruciblehq/popbuild/internal/runtime"
	"github.com/cruciblehq/popbuild/internal/toolchain"
)

const installCmd = "/usr/bin/pop install -y"

var (
	aptRefresh = "apt-get update"
	aptClean   = "apt-get clean && rm -rf /var/lib/apt/lists/*"
)

func TestRunSuccess(t *testing.T) {
	p := testPipeline(t)
	writeFile(t, filepath.Join(p.Source, "target", "release", "pop"), "stale")
	writeFile(t, filepath.Join(p.Source, "README.md"), "docs")
	writeFile(t, filepath.Join(p.Source, ".dockerignore"), "*.md\n")
	p.Builder.Packages = []string{"protobuf-compiler"}
	builderPkgs, err := p.Builder.PackageManager.Commands(p.Builder.Commands)
	if err != nil {
		t.Fatal(err)
	}
	buildDeps := builderPkgs.InstallLine(p.Builder.Packages)

	rt := newFakeRuntime()
	output := t.TempDir()

	result, err := Run(context.Background(), rt, Options{Pipeline: p, Output: output, Tag: "docker.io/library/pop:test"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Phase != PhaseReady {
		t.Errorf("phase = %s, want %s", result.Phase, PhaseReady)
	}
	wantArchive := filepath.Join(output, runtime.ExportFilename)
	if result.Archive != wantArchive {
		t.Errorf("archive = %q, want %q", result.Archive, wantArchive)
	}
	if _, err := os.Stat(wantArchive); err != nil {
		t.Errorf("archive not written: %v", err)
	}
	if result.Toolchain == nil || result.Toolchain.Branch != toolchain.BranchActive {
		t.Errorf("toolchain outcome = %+v, want active branch", result.Toolchain)
	}

	wantStarted := []string{"pop-linux-amd64-builder", "pop-linux-amd64-runtime"}
	if diff := cmp.Diff(wantStarted, rt.started); diff != "" {
		t.Errorf("started containers (-want +got):\n%s", diff)
	}

	wantImports := []imported{{Archive: wantArchive, Tag: "docker.io/library/pop:test", Platform: "linux/amd64"}}
	if diff := cmp.Diff(wantImports, rt.imports); diff != "" {
		t.Errorf("imports (-want +got):\n%s", diff)
	}

	builder := rt.container(BuilderStage)
	sources := builder.received["/pop"]
	for _, want := range []string{"Cargo.toml", "src/", "src/main.rs"} {
		if !slices.Contains(sources, want) {
			t.Errorf("source tree missing %q: %v", want, sources)
		}
	}
	for _, excluded := range []string{"target/", "README.md"} {
		if slices.Contains(sources, excluded) {
			t.Errorf("source tree contains excluded %q", excluded)
		}
	}

	if !builder.ran(buildDeps) {
		t.Errorf("builder did not install %q: %v", buildDeps, builder.log)
	}
	if !builder.ran("cargo build --release") {
		t.Errorf("builder did not compile: %v", builder.log)
	}
	if builder.exported != nil {
		t.Error("builder stage was exported")
	}

	ctr := rt.container(RuntimeStage)
	order := []string{"copy-to /usr/bin", "test -x /usr/bin/pop", aptRefresh, installCmd, aptClean}
	for i := 1; i < len(order); i++ {
		if ctr.index(order[i-1]) >= ctr.index(order[i]) || ctr.index(order[i-1]) < 0 {
			t.Fatalf("runtime commands out of order %v: %v", order, ctr.log)
		}
	}
	for _, cmd := range ctr.log {
		if strings.Contains(cmd, "protobuf-compiler") {
			t.Errorf("runtime stage ran build-time install %q", cmd)
		}
	}
	if got := ctr.modes["/usr/bin/pop"]; got&0o111 == 0 {
		t.Errorf("placed binary mode = %o, want executable", got)
	}

	if !ctr.stopped || ctr.exported == nil {
		t.Fatal("runtime stage was not stopped and exported")
	}
	if diff := cmp.Diff([]string{"/usr/bin/pop"}, ctr.exported.Entrypoint); diff != "" {
		t.Errorf("entrypoint (-want +got):\n%s", diff)
	}
	wantLabels := map[string]string{
		LabelTitle:     "pop",
		LabelToolchain: "stable-x86_64-unknown-linux-gnu",
		LabelInstaller: ContractV1,
	}
	if diff := cmp.Diff(wantLabels, ctr.exported.Labels); diff != "" {
		t.Errorf("labels (-want +got):\n%s", diff)
	}

	if !builder.destroyed || !ctr.destroyed {
		t.Error("stage containers were not destroyed")
	}
}

func TestRunToolchainUnavailable(t *testing.T) {
	rt := newFakeRuntime()
	rt.script(BuilderStage, "rustup show active-toolchain", runtime.ExecResult{ExitCode: 1})
	rt.script(BuilderStage, "rustup toolchain install stable --profile minimal", runtime.ExecResult{ExitCode: 1, Stderr: "network unreachable"})

	_, err := Run(context.Background(), rt, Options{Pipeline: testPipeline(t), Output: t.TempDir()})

	if !errors.Is(err, ErrToolchainUnavailable) || !errors.Is(err, ErrBuild) {
		t.Fatalf("error = %v, want toolchain unavailable build error", err)
	}

	var buildErr *BuildError
	if !errors.As(err, &buildErr) || buildErr.Reached != PhaseStart {
		t.Errorf("reached = %v, want %s", buildErr, PhaseStart)
	}

	builder := rt.container(BuilderStage)
	if builder.ran("cargo build --release") {
		t.Error("compilation ran after toolchain failure")
	}
	if rt.container(RuntimeStage) != nil {
		t.Error("runtime stage started after toolchain failure")
	}
	if !builder.destroyed {
		t.Error("builder container was not destroyed")
	}
}

func TestRunCompilationFailure(t *testing.T) {
	rt := newFakeRuntime()
	rt.script(BuilderStage, "cargo build --release", runtime.ExecResult{ExitCode: 101, Stderr: "error[E0425]: cannot find value"})
	output := t.TempDir()

	_, err := Run(context.Background(), rt, Options{Pipeline: testPipeline(t), Output: output, Tag: "pop:test"})

	if !errors.Is(err, ErrCompilation) {
		t.Fatalf("error = %v, want %v", err, ErrCompilation)
	}

	var stepErr *StepError
	if !errors.As(err, &stepErr) {
		t.Fatalf("error %v carries no step", err)
	}
	if stepErr.Sequence != "compile" || stepErr.Step != "cargo" || stepErr.ExitCode != 101 {
		t.Errorf("step error = %+v", stepErr)
	}

	var buildErr *BuildError
	if errors.As(err, &buildErr) && buildErr.Reached != PhaseToolchainResolved {
		t.Errorf("reached = %s, want %s", buildErr.Reached, PhaseToolchainResolved)
	}

	if rt.container(RuntimeStage) != nil {
		t.Error("runtime stage started after compilation failure")
	}
	assertNoImage(t, rt, output)
}

func TestRunBootstrapFailure(t *testing.T) {
	rt := newFakeRuntime()
	rt.script(RuntimeStage, installCmd, runtime.ExecResult{ExitCode: 1, Stderr: "dependency download failed"})
	output := t.TempDir()

	_, err := Run(context.Background(), rt, Options{Pipeline: testPipeline(t), Output: output, Tag: "pop:test"})

	if !errors.Is(err, ErrBootstrap) {
		t.Fatalf("error = %v, want %v", err, ErrBootstrap)
	}

	var buildErr *BuildError
	if errors.As(err, &buildErr) && buildErr.Reached != PhaseCopied {
		t.Errorf("reached = %s, want %s", buildErr.Reached, PhaseCopied)
	}

	ctr := rt.container(RuntimeStage)
	if ctr.ran(aptClean) {
		t.Error("cleanup ran after bootstrap failure")
	}
	if ctr.exported != nil {
		t.Error("image exported after bootstrap failure")
	}
	assertNoImage(t, rt, output)
}

func TestRunDependencyIndexFailure(t *testing.T) {
	rt := newFakeRuntime()
	rt.script(RuntimeStage, aptRefresh, runtime.ExecResult{ExitCode: 100})

	_, err := Run(context.Background(), rt, Options{Pipeline: testPipeline(t), Output: t.TempDir()})

	if !errors.Is(err, ErrDependencyIndex) {
		t.Fatalf("error = %v, want %v", err, ErrDependencyIndex)
	}
	if rt.container(RuntimeStage).ran(installCmd) {
		t.Error("bootstrap ran after index refresh failure")
	}
}

func TestRunBuildDependenciesFailure(t *testing.T) {
	p := testPipeline(t)
	p.Builder.Packages = []string{"protobuf-compiler"}
	pkg, err := p.Builder.PackageManager.Commands(p.Builder.Commands)
	if err != nil {
		t.Fatal(err)
	}

	rt := newFakeRuntime()
	rt.script(BuilderStage, pkg.InstallLine(p.Builder.Packages), runtime.ExecResult{ExitCode: 100, Stderr: "E: Unable to locate package"})
	output := t.TempDir()

	_, err = Run(context.Background(), rt, Options{Pipeline: p, Output: output, Tag: "pop:test"})

	if !errors.Is(err, ErrBuildDependencies) {
		t.Fatalf("error = %v, want %v", err, ErrBuildDependencies)
	}

	var buildErr *BuildError
	if errors.As(err, &buildErr) && buildErr.Reached != PhaseStart {
		t.Errorf("reached = %s, want %s", buildErr.Reached, PhaseStart)
	}

	builder := rt.container(BuilderStage)
	if builder.ran("rustup show active-toolchain") || builder.ran("cargo build --release") {
		t.Errorf("builder continued after dependency failure: %v", builder.log)
	}
	if rt.container(RuntimeStage) != nil {
		t.Error("runtime stage started after dependency failure")
	}
	assertNoImage(t, rt, output)
}

func TestRunArtifactPlacementFailure(t *testing.T) {
	tests := []struct {
		name   string
		binary string
		cmd    string
	}{
		{"not executable", "/usr/bin/pop", "test -x /usr/bin/pop"},
		{"rename", "/usr/local/bin/pop-cli", "mv -f /usr/local/bin/pop /usr/local/bin/pop-cli"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testPipeline(t)
			p.Runtime.BinaryPath = tt.binary

			rt := newFakeRuntime()
			rt.script(RuntimeStage, tt.cmd, runtime.ExecResult{ExitCode: 1})
			output := t.TempDir()

			_, err := Run(context.Background(), rt, Options{Pipeline: p, Output: output, Tag: "pop:test"})

			if !errors.Is(err, ErrArtifactPlacement) {
				t.Fatalf("error = %v, want %v", err, ErrArtifactPlacement)
			}

			var stepErr *StepError
			if !errors.As(err, &stepErr) || stepErr.Sequence != "placement" {
				t.Errorf("step error = %+v, want placement failure", stepErr)
			}
			var buildErr *BuildError
			if errors.As(err, &buildErr) && buildErr.Reached != PhaseCompiled {
				t.Errorf("reached = %s, want %s", buildErr.Reached, PhaseCompiled)
			}

			ctr := rt.container(RuntimeStage)
			if ctr.ran(aptRefresh) {
				t.Error("bootstrap ran after placement failure")
			}
			assertNoImage(t, rt, output)
		})
	}
}

func TestRunExportFailure(t *testing.T) {
	rt := newFakeRuntime()
	rt.exportErr = runtime.ErrRuntime
	output := t.TempDir()

	_, err := Run(context.Background(), rt, Options{Pipeline: testPipeline(t), Output: output, Tag: "pop:test"})

	if !errors.Is(err, ErrExport) || !errors.Is(err, runtime.ErrRuntime) {
		t.Fatalf("error = %v, want export failure", err)
	}

	var buildErr *BuildError
	if errors.As(err, &buildErr) && buildErr.Reached != PhaseCleaned {
		t.Errorf("reached = %s, want %s", buildErr.Reached, PhaseCleaned)
	}
	assertNoImage(t, rt, output)
}

func TestRunImportFailure(t *testing.T) {
	rt := newFakeRuntime()
	rt.importErr = runtime.ErrRuntime
	output := t.TempDir()

	_, err := Run(context.Background(), rt, Options{Pipeline: testPipeline(t), Output: output, Tag: "pop:test"})

	if !errors.Is(err, ErrExport) || !errors.Is(err, runtime.ErrRuntime) {
		t.Fatalf("error = %v, want export failure", err)
	}

	var buildErr *BuildError
	if errors.As(err, &buildErr) && buildErr.Reached != PhaseCleaned {
		t.Errorf("reached = %s, want %s", buildErr.Reached, PhaseCleaned)
	}

	// The archive is written before the tag is imported.
	if _, err := os.Stat(filepath.Join(output, runtime.ExportFilename)); err != nil {
		t.Errorf("archive missing after import failure: %v", err)
	}
	if len(rt.imports) != 0 {
		t.Errorf("image tagged after import failure: %v", rt.imports)
	}
	if !rt.container(RuntimeStage).destroyed {
		t.Error("runtime container was not destroyed")
	}
}

func TestRunImportsForBuildPlatform(t *testing.T) {
	p := testPipeline(t)
	p.Platform = "linux/arm64"

	var logs bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&logs, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	rt := newFakeRuntime()
	result, err := Run(context.Background(), rt, Options{Pipeline: p, Output: t.TempDir(), Tag: "pop:arm64"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []imported{{Archive: result.Archive, Tag: "pop:arm64", Platform: "linux/arm64"}}
	if diff := cmp.Diff(want, rt.imports); diff != "" {
		t.Errorf("imports (-want +got):\n%s", diff)
	}

	for _, msg := range []string{`msg="image exported"`, `msg="image tagged"`} {
		if n := strings.Count(logs.String(), msg); n != 1 {
			t.Errorf("%s logged %d times, want 1", msg, n)
		}
	}
}

func TestRunCleanupPolicy(t *testing.T) {
	tests := []struct {
		name    string
		policy  config.CleanupPolicy
		wantErr bool
	}{
		{"fatal", config.CleanupFatal, true},
		{"warn", config.CleanupWarn, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testPipeline(t)
			p.Runtime.Cleanup = tt.policy

			rt := newFakeRuntime()
			rt.script(RuntimeStage, aptClean, runtime.ExecResult{ExitCode: 1, Stderr: "rm: cannot remove"})

			result, err := Run(context.Background(), rt, Options{Pipeline: p, Output: t.TempDir()})

			if !tt.wantErr {
				if err != nil {
					t.Fatalf("Run: %v", err)
				}
				if result.Phase != PhaseReady {
					t.Errorf("phase = %s, want %s", result.Phase, PhaseReady)
				}
				return
			}

			if !errors.Is(err, ErrCleanup) {
				t.Fatalf("error = %v, want %v", err, ErrCleanup)
			}
			var buildErr *BuildError
			if errors.As(err, &buildErr) && buildErr.Reached != PhaseDependenciesBootstrapped {
				t.Errorf("reached = %s, want %s", buildErr.Reached, PhaseDependenciesBootstrapped)
			}
			if rt.container(RuntimeStage).exported != nil {
				t.Error("image exported after fatal cleanup failure")
			}
		})
	}
}

func TestRunPinnedToolchain(t *testing.T) {
	p := testPipeline(t)
	writeFile(t, filepath.Join(p.Source, "rust-toolchain.toml"), "[toolchain]\nchannel = \"1.81.0\"\ncomponents = [\"clippy\"]\n")

	rt := newFakeRuntime()
	rt.script(BuilderStage, "rustup show active-toolchain",
		runtime.ExecResult{Stdout: activeStable},
		runtime.ExecResult{Stdout: "1.81.0-x86_64-unknown-linux-gnu (overridden by '/pop/rust-toolchain.toml')\n"},
	)

	result, err := Run(context.Background(), rt, Options{Pipeline: p, Output: t.TempDir()})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := &toolchain.Outcome{
		Branch:    toolchain.BranchInstalled,
		Toolchain: "1.81.0-x86_64-unknown-linux-gnu",
		Channel:   "1.81.0",
		Pinned:    true,
	}
	if diff := cmp.Diff(want, result.Toolchain); diff != "" {
		t.Errorf("outcome (-want +got):\n%s", diff)
	}

	builder := rt.container(BuilderStage)
	if !builder.ran("rustup toolchain install 1.81.0 --profile minimal --component clippy") {
		t.Errorf("pinned channel not installed: %v", builder.log)
	}
	if builder.ran("rustup default 1.81.0") {
		t.Error("pinned channel made the default")
	}
}

func TestRunRenamesBinary(t *testing.T) {
	p := testPipeline(t)
	p.Runtime.BinaryPath = "/usr/local/bin/pop-cli"
	p.Runtime.Install.Flags = []string{"--yes"}

	rt := newFakeRuntime()
	if _, err := Run(context.Background(), rt, Options{Pipeline: p, Output: t.TempDir()}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	ctr := rt.container(RuntimeStage)
	for _, cmd := range []string{
		"mkdir -p /usr/local/bin",
		"mv -f /usr/local/bin/pop /usr/local/bin/pop-cli",
		"test -x /usr/local/bin/pop-cli",
		"/usr/local/bin/pop-cli install --yes",
	} {
		if !ctr.ran(cmd) {
			t.Errorf("runtime stage did not run %q: %v", cmd, ctr.log)
		}
	}
	if diff := cmp.Diff([]string{"/usr/local/bin/pop-cli"}, ctr.exported.Entrypoint); diff != "" {
		t.Errorf("entrypoint (-want +got):\n%s", diff)
	}
}

func TestRunInvalidPipeline(t *testing.T) {
	p := testPipeline(t)
	p.Runtime.BinaryPath = "pop"

	rt := newFakeRuntime()
	_, err := Run(context.Background(), rt, Options{Pipeline: p, Output: t.TempDir()})

	if !errors.Is(err, config.ErrInvalidPipeline) || !errors.Is(err, ErrBuild) {
		t.Fatalf("error = %v, want invalid pipeline build error", err)
	}
	if len(rt.started) != 0 {
		t.Errorf("containers started for invalid pipeline: %v", rt.started)
	}
}

func TestRunStartFailure(t *testing.T) {
	rt := newFakeRuntime()
	rt.startErr[RuntimeStage] = runtime.ErrRuntime

	_, err := Run(context.Background(), rt, Options{Pipeline: testPipeline(t), Output: t.TempDir()})

	if !errors.Is(err, runtime.ErrRuntime) || !errors.Is(err, ErrBuild) {
		t.Fatalf("error = %v, want runtime build error", err)
	}
	if !rt.container(BuilderStage).destroyed {
		t.Error("builder container was not destroyed")
	}
}

func assertNoImage(t *testing.T, rt *fakeRuntime, output string) {
	t.Helper()
	if _, err := os.Stat(filepath.Join(output, runtime.ExportFilename)); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("archive present after failure: %v", err)
	}
	if len(rt.imports) != 0 {
		t.Errorf("image tagged after failure: %v", rt.imports)
	}
}
