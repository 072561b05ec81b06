package build

import (
	"archive/tar"
	"context"
	"errors"
	"io"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/cruciblehq/popbuild/internal/config"
	"github.com/cruciblehq/popbuild/internal/runtime"
)

const activeStable = "stable-x86_64-unknown-linux-gnu (default)\n"

// Scripted exec results keyed by command line. Results are consumed in
// order; the last one repeats.
type responses map[string][]runtime.ExecResult

// In-memory stage container.
type fakeContainer struct {
	mu        sync.Mutex
	id        string
	responses responses
	log       []string
	received  map[string][]string // Entry names extracted per destination directory.
	modes     map[string]int64    // Mode of each extracted entry.
	exported  *runtime.ExportOptions
	exportErr error
	stopped   bool
	destroyed bool
}

func (c *fakeContainer) ID() string { return c.id }

func (c *fakeContainer) respond(cmd string) *runtime.ExecResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.log = append(c.log, cmd)
	q := c.responses[cmd]
	if len(q) == 0 {
		return &runtime.ExecResult{}
	}
	res := q[0]
	if len(q) > 1 {
		c.responses[cmd] = q[1:]
	}
	return &res
}

func (c *fakeContainer) Exec(_ context.Context, _, command string, _ []string, _ string) (*runtime.ExecResult, error) {
	return c.respond(command), nil
}

func (c *fakeContainer) ExecArgs(_ context.Context, args []string, _ []string, _ string) (*runtime.ExecResult, error) {
	return c.respond(strings.Join(args, " ")), nil
}

func (c *fakeContainer) MkdirAll(_ context.Context, dir string) error {
	c.respond("mkdir -p " + dir)
	return nil
}

func (c *fakeContainer) CopyTo(_ context.Context, r io.Reader, destDir string) error {
	c.respond("copy-to " + destDir)

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		c.mu.Lock()
		c.received[destDir] = append(c.received[destDir], hdr.Name)
		c.modes[path.Join(destDir, hdr.Name)] = hdr.Mode
		c.mu.Unlock()
	}
	_, err := io.Copy(io.Discard, r)
	return err
}

func (c *fakeContainer) CopyFrom(_ context.Context, w io.Writer, p string) error {
	c.respond("copy-from " + p)

	tw := tar.NewWriter(w)
	body := []byte("\x7fELF")
	if err := tw.WriteHeader(&tar.Header{
		Name:     path.Base(p),
		Mode:     0o755,
		Size:     int64(len(body)),
		Typeflag: tar.TypeReg,
	}); err != nil {
		return err
	}
	if _, err := tw.Write(body); err != nil {
		return err
	}
	return tw.Close()
}

func (c *fakeContainer) Stop(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	return nil
}

func (c *fakeContainer) Export(_ context.Context, output string, opts runtime.ExportOptions) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.exportErr != nil {
		return "", c.exportErr
	}
	c.exported = &opts

	archive := filepath.Join(output, runtime.ExportFilename)
	if err := os.WriteFile(archive, []byte("oci"), 0o644); err != nil {
		return "", err
	}
	return archive, nil
}

func (c *fakeContainer) Destroy(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.destroyed = true
	return nil
}

// Whether cmd was executed.
func (c *fakeContainer) ran(cmd string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Contains(c.log, cmd)
}

// Position of cmd in the log, -1 when absent.
func (c *fakeContainer) index(cmd string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Index(c.log, cmd)
}

// An image import recorded by [fakeRuntime].
type imported struct {
	Archive  string
	Tag      string
	Platform string
}

// In-memory runtime handing out fake containers.
type fakeRuntime struct {
	mu         sync.Mutex
	scripts    map[string]responses // Exec scripts by stage name.
	containers map[string]*fakeContainer
	started    []string
	imports    []imported
	startErr   map[string]error
	exportErr  error // Returned by Export on every container.
	importErr  error
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		scripts: map[string]responses{
			BuilderStage: {
				"rustup show active-toolchain": {{Stdout: activeStable}},
			},
		},
		containers: make(map[string]*fakeContainer),
		startErr:   make(map[string]error),
	}
}

// Scripts cmd in stage to return results in order.
func (f *fakeRuntime) script(stage, cmd string, results ...runtime.ExecResult) {
	if f.scripts[stage] == nil {
		f.scripts[stage] = responses{}
	}
	f.scripts[stage][cmd] = results
}

func (f *fakeRuntime) StartContainer(_ context.Context, ref, id, platform string) (Container, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	stage := id[strings.LastIndex(id, "-")+1:]
	if err := f.startErr[stage]; err != nil {
		return nil, err
	}

	ctr := &fakeContainer{
		id:        id,
		responses: responses{},
		received:  make(map[string][]string),
		modes:     make(map[string]int64),
		exportErr: f.exportErr,
	}
	for cmd, results := range f.scripts[stage] {
		ctr.responses[cmd] = slices.Clone(results)
	}

	f.started = append(f.started, id)
	f.containers[stage] = ctr
	return ctr, nil
}

func (f *fakeRuntime) ImportImage(_ context.Context, path, tag, platform string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.importErr != nil {
		return f.importErr
	}
	f.imports = append(f.imports, imported{Archive: path, Tag: tag, Platform: platform})
	return nil
}

func (f *fakeRuntime) container(stage string) *fakeContainer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.containers[stage]
}

// Returns the default pipeline over a fresh source tree.
func testPipeline(t *testing.T) *config.Pipeline {
	t.Helper()

	src := t.TempDir()
	writeFile(t, filepath.Join(src, "Cargo.toml"), "[package]\nname = \"pop\"\n")
	writeFile(t, filepath.Join(src, "src", "main.rs"), "fn main() {}\n")

	p := config.Default()
	p.Source = src
	p.Platform = "linux/amd64"
	return p
}

func writeFile(t *testing.T, name, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(name, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
