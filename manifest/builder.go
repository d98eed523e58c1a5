package manifest

import (
	"maps"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	ocierrors "github.com/bibin-skaria/ocidir/internal/errors"
)

// DescriptorBuilder assembles a descriptor field by field. Required fields
// are checked by Build.
type DescriptorBuilder struct {
	desc    ocispec.Descriptor
	hasSize bool
}

// NewDescriptorBuilder returns an empty builder.
func NewDescriptorBuilder() *DescriptorBuilder {
	return &DescriptorBuilder{}
}

// FromDescriptor starts a builder from an existing descriptor.
func FromDescriptor(desc ocispec.Descriptor) *DescriptorBuilder {
	b := &DescriptorBuilder{desc: desc, hasSize: true}
	b.desc.Annotations = maps.Clone(desc.Annotations)
	return b
}

func (b *DescriptorBuilder) MediaType(mediaType string) *DescriptorBuilder {
	b.desc.MediaType = mediaType
	return b
}

func (b *DescriptorBuilder) Digest(d digest.Digest) *DescriptorBuilder {
	b.desc.Digest = d
	return b
}

func (b *DescriptorBuilder) Size(size int64) *DescriptorBuilder {
	b.desc.Size = size
	b.hasSize = true
	return b
}

// Annotation sets a single annotation.
func (b *DescriptorBuilder) Annotation(key, value string) *DescriptorBuilder {
	if b.desc.Annotations == nil {
		b.desc.Annotations = make(map[string]string)
	}
	b.desc.Annotations[key] = value
	return b
}

// Annotations merges annotations into the descriptor.
func (b *DescriptorBuilder) Annotations(annotations map[string]string) *DescriptorBuilder {
	for k, v := range annotations {
		b.Annotation(k, v)
	}
	return b
}

func (b *DescriptorBuilder) Platform(platform ocispec.Platform) *DescriptorBuilder {
	b.desc.Platform = &platform
	return b
}

// Build validates the descriptor and returns it.
func (b *DescriptorBuilder) Build() (ocispec.Descriptor, error) {
	const op = "building descriptor"
	switch {
	case b.desc.MediaType == "":
		return ocispec.Descriptor{}, ocierrors.Format(op, string(b.desc.Digest), "missing media type")
	case b.desc.Digest == "":
		return ocispec.Descriptor{}, ocierrors.Format(op, "", "missing digest")
	case !b.hasSize:
		return ocispec.Descriptor{}, ocierrors.Format(op, string(b.desc.Digest), "missing size")
	case b.desc.Size < 0:
		return ocispec.Descriptor{}, ocierrors.Format(op, string(b.desc.Digest), "negative size %d", b.desc.Size)
	}
	if err := b.desc.Digest.Validate(); err != nil {
		return ocispec.Descriptor{}, ocierrors.FormatCause(op, string(b.desc.Digest), err)
	}
	return b.desc, nil
}
