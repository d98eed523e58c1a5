package manifest

import (
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// OCI media types for manifests and configurations
const (
	// OCI Image Manifest
	MediaTypeOCIManifest = ocispec.MediaTypeImageManifest
	// OCI Image Index
	MediaTypeOCIIndex = ocispec.MediaTypeImageIndex
	// OCI Image Configuration
	MediaTypeOCIConfig = ocispec.MediaTypeImageConfig
	// OCI Layer media types
	MediaTypeOCILayer     = ocispec.MediaTypeImageLayer
	MediaTypeOCILayerGzip = ocispec.MediaTypeImageLayerGzip
	MediaTypeOCILayerZstd = ocispec.MediaTypeImageLayerZstd
)

const (
	// SchemaVersion is the schemaVersion of manifests and indexes.
	SchemaVersion = 2

	// TagAnnotation holds the tag of a manifest descriptor in an index.
	TagAnnotation = ocispec.AnnotationRefName

	// RootFSTypeLayers is the only rootfs type defined by the image spec.
	RootFSTypeLayers = "layers"
)

// Tag returns the tag carried by desc, if any.
func Tag(desc ocispec.Descriptor) (string, bool) {
	tag, ok := desc.Annotations[TagAnnotation]
	return tag, ok
}

// IsTagged reports whether desc carries exactly the given tag.
func IsTagged(desc ocispec.Descriptor, tag string) bool {
	got, ok := Tag(desc)
	return ok && got == tag
}
