package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"

	"github.com/containerd/containerd/v2/core/containers"
	"github.com/containerd/containerd/v2/core/content"
	"github.com/containerd/containerd/v2/core/images"
	"github.com/containerd/containerd/v2/core/images/archive"
	"github.com/containerd/containerd/v2/pkg/rootfs"
	"github.com/containerd/platforms"
	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// File name of the archive written by [Container.Export].
const ExportFilename = "image.tar"

// Image configuration applied on export.
type ExportOptions struct {
	Entrypoint []string          // Replaces the entrypoint and clears Cmd when non-empty.
	Labels     map[string]string // Merged into the image config labels.
}

// Commits the container's filesystem and writes an OCI archive to
// output/image.tar, returning its path.
//
// The snapshot diff becomes a new top layer. The stored base image record is
// never modified: the mutated manifest, config and index are written as
// ephemeral blobs held by a lease until the export completes. The archive is
// written to a temporary file in output and renamed into place, so a failed
// export never leaves an archive behind.
func (c *Container) Export(ctx context.Context, output string, opts ExportOptions) (string, error) {
	loaded, err := c.client.LoadContainer(ctx, c.id)
	if err != nil {
		return "", wrap(ErrRuntime, err)
	}

	info, err := loaded.Info(ctx)
	if err != nil {
		return "", wrap(ErrRuntime, err)
	}

	layer, diffID, err := c.snapshotDiff(ctx, info)
	if err != nil {
		return "", wrap(ErrRuntime, err)
	}

	ctx, done, err := c.client.WithLease(ctx)
	if err != nil {
		return "", wrap(ErrRuntime, err)
	}
	defer done(context.Background())

	target, err := c.buildExportTarget(ctx, info.Image, func(m *ocispec.Manifest, cfg *ocispec.Image) {
		m.Layers = append(m.Layers, layer)
		cfg.RootFS.DiffIDs = append(cfg.RootFS.DiffIDs, diffID)
		applyExportOptions(cfg, opts)
	})
	if err != nil {
		return "", wrap(ErrRuntime, err)
	}

	exportPath := filepath.Join(output, ExportFilename)
	if err := c.writeArchive(ctx, target, info.Image, exportPath); err != nil {
		return "", wrap(ErrRuntime, err)
	}

	return exportPath, nil
}

// Applies entrypoint and labels to an image config.
func applyExportOptions(cfg *ocispec.Image, opts ExportOptions) {
	if len(opts.Entrypoint) > 0 {
		cfg.Config.Entrypoint = opts.Entrypoint
		cfg.Config.Cmd = nil
	}
	if len(opts.Labels) > 0 {
		if cfg.Config.Labels == nil {
			cfg.Config.Labels = make(map[string]string, len(opts.Labels))
		}
		maps.Copy(cfg.Config.Labels, opts.Labels)
	}
}

// Computes the layer descriptor and diff ID of the container's changes.
func (c *Container) snapshotDiff(ctx context.Context, info containers.Container) (ocispec.Descriptor, digest.Digest, error) {
	layer, err := rootfs.CreateDiff(ctx,
		info.SnapshotKey,
		c.client.SnapshotService(info.Snapshotter),
		c.client.DiffService(),
	)
	if err != nil {
		return ocispec.Descriptor{}, "", err
	}

	diffID, err := images.GetDiffID(ctx, c.client.ContentStore(), layer)
	if err != nil {
		return ocispec.Descriptor{}, "", err
	}

	return layer, diffID, nil
}

// Exports target to dest through a temporary file in the same directory.
//
// Only the manifest for the container's platform is included. imageName is
// attached as the OCI reference annotation.
func (c *Container) writeArchive(ctx context.Context, target ocispec.Descriptor, imageName, dest string) (err error) {
	p, err := platforms.Parse(c.platform)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".image-*.tar")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	err = c.client.Export(ctx, tmp,
		archive.WithManifest(target, imageName),
		archive.WithPlatform(platforms.Only(p)),
	)
	if err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dest)
}

// Writes a mutated copy of the image's platform manifest and config and
// returns the descriptor to export.
//
// When the image root is an index, a new single-entry index referencing the
// mutated manifest is written; other platforms are dropped because their
// layers were never fetched.
func (c *Container) buildExportTarget(ctx context.Context, imageName string, mutate func(*ocispec.Manifest, *ocispec.Image)) (ocispec.Descriptor, error) {
	img, err := c.client.ImageService().Get(ctx, imageName)
	if err != nil {
		return ocispec.Descriptor{}, err
	}

	manifestDesc, index, err := c.platformManifest(ctx, img.Target, imageName)
	if err != nil {
		return ocispec.Descriptor{}, err
	}

	manifest, err := readJSON[ocispec.Manifest](ctx, c.client.ContentStore(), manifestDesc)
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	config, err := readJSON[ocispec.Image](ctx, c.client.ContentStore(), manifest.Config)
	if err != nil {
		return ocispec.Descriptor{}, err
	}

	mutate(&manifest, &config)

	manifest.Config, err = c.writeBlob(ctx, manifest.Config.MediaType, config, imageName+"-config")
	if err != nil {
		return ocispec.Descriptor{}, err
	}

	newManifest, err := c.writeBlob(ctx, manifestDesc.MediaType, manifest, imageName+"-manifest",
		content.WithLabels(manifestGCLabels(manifest)))
	if err != nil || index == nil {
		return newManifest, err
	}

	index.Manifests = []ocispec.Descriptor{newManifest}
	return c.writeBlob(ctx, img.Target.MediaType, index, imageName+"-index",
		content.WithLabels(indexGCLabels(*index)))
}

// Resolves root to the manifest for the container's platform. The returned
// index is nil when root already is a manifest.
//
// Index entries without platform metadata, as served by some registries, are
// matched by reading the platform from their image config.
func (c *Container) platformManifest(ctx context.Context, root ocispec.Descriptor, imageName string) (ocispec.Descriptor, *ocispec.Index, error) {
	if !images.IsIndexType(root.MediaType) {
		return root, nil, nil
	}

	idx, err := readJSON[ocispec.Index](ctx, c.client.ContentStore(), root)
	if err != nil {
		return ocispec.Descriptor{}, nil, err
	}
	if len(idx.Manifests) == 0 {
		return ocispec.Descriptor{}, nil, wrapf(ErrEmptyIndex, "%s", imageName)
	}

	p, err := platforms.Parse(c.platform)
	if err != nil {
		return ocispec.Descriptor{}, nil, err
	}
	matcher := platforms.OnlyStrict(p)

	for _, m := range idx.Manifests {
		if m.Platform != nil && matcher.Match(*m.Platform) {
			return m, &idx, nil
		}
	}
	for _, m := range idx.Manifests {
		if m.Platform != nil || !images.IsManifestType(m.MediaType) {
			continue
		}
		if cp, ok := c.configPlatform(ctx, m); ok && matcher.Match(cp) {
			return m, &idx, nil
		}
	}

	return idx.Manifests[0], &idx, nil
}

// Reads the platform declared in the config of the manifest desc.
func (c *Container) configPlatform(ctx context.Context, desc ocispec.Descriptor) (ocispec.Platform, bool) {
	cs := c.client.ContentStore()
	manifest, err := readJSON[ocispec.Manifest](ctx, cs, desc)
	if err != nil {
		return ocispec.Platform{}, false
	}
	config, err := readJSON[ocispec.Image](ctx, cs, manifest.Config)
	if err != nil {
		return ocispec.Platform{}, false
	}
	return ocispec.Platform{
		OS:           config.OS,
		Architecture: config.Architecture,
		Variant:      config.Variant,
	}, true
}

// Reads and decodes a JSON blob from the content store.
func readJSON[T any](ctx context.Context, p content.Provider, desc ocispec.Descriptor) (T, error) {
	var v T
	b, err := content.ReadBlob(ctx, p, desc)
	if err != nil {
		return v, err
	}
	err = json.Unmarshal(b, &v)
	return v, err
}

// Encodes v and stores it in the content store.
func (c *Container) writeBlob(ctx context.Context, mediaType string, v any, ref string, opts ...content.Opt) (ocispec.Descriptor, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	desc := ocispec.Descriptor{
		MediaType: mediaType,
		Digest:    digest.FromBytes(b),
		Size:      int64(len(b)),
	}
	if err := content.WriteBlob(ctx, c.client.ContentStore(), ref, bytes.NewReader(b), desc, opts...); err != nil {
		return ocispec.Descriptor{}, err
	}
	return desc, nil
}

// GC reference labels from a manifest to its config and layers.
func manifestGCLabels(m ocispec.Manifest) map[string]string {
	labels := map[string]string{
		"containerd.io/gc.ref.content.config": m.Config.Digest.String(),
	}
	for i, layer := range m.Layers {
		labels[fmt.Sprintf("containerd.io/gc.ref.content.l.%d", i)] = layer.Digest.String()
	}
	return labels
}

// GC reference labels from an index to its manifests.
func indexGCLabels(idx ocispec.Index) map[string]string {
	labels := make(map[string]string, len(idx.Manifests))
	for i, m := range idx.Manifests {
		labels[fmt.Sprintf("containerd.io/gc.ref.content.m.%d", i)] = m.Digest.String()
	}
	return labels
}
