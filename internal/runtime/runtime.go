package runtime

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	goruntime "runtime"
	"strings"

	containerd "github.com/containerd/containerd/v2/client"
	"github.com/containerd/containerd/v2/core/images"
	"github.com/containerd/errdefs"
	"github.com/containerd/platforms"
	"github.com/distribution/reference"
)

const (

	// Default containerd socket.
	DefaultAddress = "/run/containerd/containerd.sock"

	// Default containerd namespace. Images and containers created by builds
	// live here.
	DefaultNamespace = "popbuild"

	// Snapshotter used for container filesystems. fuse-overlayfs provides
	// overlay semantics without mount(2), so the daemon can run unprivileged.
	snapshotter = "fuse-overlayfs"

	// OCI runtime shim for running containers.
	ociRuntime = "io.containerd.runc.v2"
)

// Wraps the containerd client.
type Runtime struct {
	client *containerd.Client
}

// Connects to the containerd socket at address. All operations are scoped to
// namespace. The runtime must be closed when no longer needed.
func New(address, namespace string) (*Runtime, error) {
	client, err := containerd.New(address, containerd.WithDefaultNamespace(namespace))
	if err != nil {
		return nil, wrap(ErrRuntime, err)
	}
	return &Runtime{client: client}, nil
}

// Closes the containerd client connection.
func (rt *Runtime) Close() error {
	return rt.client.Close()
}

// Prepares the base image ref and starts a container from it.
//
// ref is either a path to a local OCI archive or a registry reference. A
// stale container with the same ID is removed first. The container runs
// "sleep infinity" so that exec processes have a task to attach to.
func (rt *Runtime) StartContainer(ctx context.Context, ref, id, platform string) (*Container, error) {
	tag, err := rt.prepareImage(ctx, ref, platform)
	if err != nil {
		return nil, wrap(ErrRuntime, err)
	}

	c := &Container{
		client:   rt.client,
		id:       id,
		platform: platform,
	}

	c.remove(ctx)

	image, err := rt.resolveImage(ctx, tag, platform)
	if err != nil {
		return nil, wrap(ErrRuntime, err)
	}

	ctr, err := c.create(ctx, image)
	if err != nil {
		return nil, wrap(ErrRuntime, err)
	}

	if err := c.startTask(ctx, ctr); err != nil {
		ctr.Delete(ctx, containerd.WithSnapshotCleanup)
		return nil, wrap(ErrRuntime, err)
	}

	slog.Debug("container started", "id", id, "image", tag, "platform", platform)
	return c, nil
}

// Makes ref available as an unpacked image and returns its containerd name.
func (rt *Runtime) prepareImage(ctx context.Context, ref, platform string) (string, error) {
	if isArchive(ref) {
		tag := imageTag(ref)
		if err := rt.importAs(ctx, ref, tag, platform); err != nil {
			return "", err
		}
		return tag, nil
	}
	return rt.pullImage(ctx, ref, platform)
}

// Pulls a registry image for platform and unpacks it into the snapshotter.
//
// Short references such as "ubuntu:22.04" are normalised to their fully
// qualified form.
func (rt *Runtime) pullImage(ctx context.Context, ref, platform string) (string, error) {
	named, err := reference.ParseDockerRef(ref)
	if err != nil {
		return "", err
	}

	p, err := platforms.Parse(platform)
	if err != nil {
		return "", err
	}

	slog.Info("pulling image", "ref", named.String(), "platform", platform)

	img, err := rt.client.Pull(ctx, named.String(),
		containerd.WithPlatformMatcher(platforms.Only(p)),
		containerd.WithPullUnpack,
		containerd.WithPullSnapshotter(snapshotter),
	)
	if err != nil {
		return "", err
	}

	return img.Name(), nil
}

// Imports an OCI archive under tag and unpacks it for platform.
func (rt *Runtime) importAs(ctx context.Context, path, tag, platform string) error {
	source, err := rt.importArchive(ctx, path)
	if err != nil {
		return err
	}
	if err := rt.tagImage(ctx, source, tag); err != nil {
		return err
	}
	return rt.unpackImage(ctx, tag, platform)
}

// Imports an OCI archive into the content store.
//
// The archive must describe exactly one image, which may be a multi-platform
// index.
func (rt *Runtime) importArchive(ctx context.Context, path string) (images.Image, error) {
	fh, err := os.Open(path)
	if err != nil {
		return images.Image{}, err
	}
	defer fh.Close()

	imported, err := rt.client.Import(ctx, fh)
	if err != nil {
		return images.Image{}, err
	}

	switch len(imported) {
	case 0:
		return images.Image{}, ErrEmptyArchive
	case 1:
		return imported[0], nil
	default:
		return images.Image{}, ErrMultipleImages
	}
}

// Points tag at the imported image, replacing any previous target. The
// import record is removed when its name differs from tag.
func (rt *Runtime) tagImage(ctx context.Context, source images.Image, tag string) error {
	is := rt.client.ImageService()

	img := images.Image{
		Name:   tag,
		Target: source.Target,
	}

	if _, err := is.Create(ctx, img); err != nil {
		if !errdefs.IsAlreadyExists(err) {
			return err
		}
		if _, err := is.Update(ctx, img, "target"); err != nil {
			return err
		}
	}

	if source.Name != tag {
		_ = is.Delete(ctx, source.Name)
	}

	return nil
}

// Unpacks the image layers for platform into the snapshotter.
func (rt *Runtime) unpackImage(ctx context.Context, tag, platform string) error {
	image, err := rt.resolveImage(ctx, tag, platform)
	if err != nil {
		return err
	}
	return image.Unpack(ctx, snapshotter)
}

// Looks up a stored image restricted to the manifest for platform.
func (rt *Runtime) resolveImage(ctx context.Context, tag, platform string) (containerd.Image, error) {
	p, err := platforms.Parse(platform)
	if err != nil {
		return nil, err
	}

	img, err := rt.client.ImageService().Get(ctx, tag)
	if err != nil {
		return nil, err
	}

	return containerd.NewImageWithPlatform(rt.client, img, platforms.Only(p)), nil
}

// Imports an exported image archive under tag and unpacks it for platform.
//
// Used to publish a finished build into containerd. Callers must only invoke
// it after the archive has been completely written. An empty platform means
// the host platform.
func (rt *Runtime) ImportImage(ctx context.Context, path, tag, platform string) error {
	named, err := reference.ParseDockerRef(tag)
	if err != nil {
		return wrap(ErrRuntime, err)
	}

	if platform == "" {
		platform = DefaultPlatform()
	}

	if err := rt.importAs(ctx, path, named.String(), platform); err != nil {
		return wrap(ErrRuntime, err)
	}
	return nil
}

// Host platform in OCI notation, e.g. "linux/amd64".
func DefaultPlatform() string {
	return "linux/" + goruntime.GOARCH
}

// Derives a valid containerd image name from an archive path.
func imageTag(path string) string {
	h := sha256.Sum256([]byte(path))
	return fmt.Sprintf("import/%s:latest", hex.EncodeToString(h[:]))
}

// Reports whether ref names an existing local OCI archive.
func isArchive(ref string) bool {
	if !strings.HasSuffix(ref, ".tar") {
		return false
	}
	info, err := os.Stat(ref)
	return err == nil && info.Mode().IsRegular()
}
