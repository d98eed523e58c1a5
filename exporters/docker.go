package exporters

import (
	"context"
	"fmt"

	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/layout"
	"github.com/google/go-containerregistry/pkg/v1/tarball"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/bibin-skaria/ocidir/ocidir"
)

const defaultReference = "ocidir/image:latest"

// DockerExporter writes one image of the layout as a docker-archive
// tarball, loadable with `docker load`.
type DockerExporter struct{}

func init() {
	RegisterExporter("docker", &DockerExporter{})
}

func (e *DockerExporter) Export(ctx context.Context, dir *ocidir.OCIDir, opts Options) error {
	if opts.Output == "" {
		return fmt.Errorf("docker export requires an output path")
	}

	desc, err := e.selectManifest(dir, opts.Tag)
	if err != nil {
		return err
	}

	ref, err := e.reference(opts)
	if err != nil {
		return err
	}

	p, err := layout.FromPath(dir.Dir().Name())
	if err != nil {
		return fmt.Errorf("failed to open layout: %w", err)
	}
	index, err := p.ImageIndex()
	if err != nil {
		return fmt.Errorf("failed to read index: %w", err)
	}
	hash, err := v1.NewHash(desc.Digest.String())
	if err != nil {
		return fmt.Errorf("invalid manifest digest: %w", err)
	}
	img, err := index.Image(hash)
	if err != nil {
		return fmt.Errorf("failed to load image %s: %w", hash, err)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := tarball.WriteToFile(opts.Output, ref, img); err != nil {
		return fmt.Errorf("failed to write docker archive: %w", err)
	}
	return nil
}

func (e *DockerExporter) selectManifest(dir *ocidir.OCIDir, tag string) (ocispec.Descriptor, error) {
	if tag == "" {
		_, desc, err := dir.ReadManifestAndDescriptor()
		return desc, err
	}
	desc, err := dir.FindManifestDescriptorWithTag(tag)
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	if desc == nil {
		return ocispec.Descriptor{}, fmt.Errorf("tag %q not found", tag)
	}
	return *desc, nil
}

func (e *DockerExporter) reference(opts Options) (name.Reference, error) {
	ref := opts.Reference
	if ref == "" && opts.Tag != "" {
		ref = "ocidir/image:" + opts.Tag
	}
	if ref == "" {
		ref = defaultReference
	}
	parsed, err := name.ParseReference(ref)
	if err != nil {
		return nil, fmt.Errorf("invalid image reference %q: %w", ref, err)
	}
	return parsed, nil
}
