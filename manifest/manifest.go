// Package manifest holds the in-memory side of an OCI image: constructors
// for manifests and configurations, descriptor building, validation and the
// composer that folds completed layers into a manifest/config pair.
//
// Nothing in this package touches the disk; persisting manifests and
// configurations is the job of package ocidir.
package manifest

import (
	"time"

	"github.com/opencontainers/go-digest"
	specs "github.com/opencontainers/image-spec/specs-go"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	ocierrors "github.com/bibin-skaria/ocidir/internal/errors"
	"github.com/bibin-skaria/ocidir/layers"
)

// now is replaced in tests.
var now = time.Now

// emptyConfigDescriptor is a placeholder config reference, replaced once the
// real config blob is written. Its digest is never read.
func emptyConfigDescriptor() ocispec.Descriptor {
	return ocispec.Descriptor{
		MediaType: MediaTypeOCIConfig,
		Size:      7023,
		Digest:    "sha256:a5b2b2c507a0944348e0303114d8d93aaaa081732b86451d9bce1f432a537bc7",
	}
}

// NewEmptyManifest returns a manifest with no layers and a placeholder config.
func NewEmptyManifest() ocispec.Manifest {
	return ocispec.Manifest{
		Versioned: specs.Versioned{SchemaVersion: SchemaVersion},
		MediaType: MediaTypeOCIManifest,
		Config:    emptyConfigDescriptor(),
		Layers:    []ocispec.Descriptor{},
	}
}

// NewImageConfig returns a configuration for platform with an empty rootfs.
func NewImageConfig(platform ocispec.Platform) ocispec.Image {
	return ocispec.Image{
		Platform: platform,
		RootFS: ocispec.RootFS{
			Type:    RootFSTypeLayers,
			DiffIDs: []digest.Digest{},
		},
	}
}

// PushLayer adds layer to the top of the image stack; the first pushed
// layer becomes the root. The layer descriptor is appended to the manifest,
// its diff id to the config's rootfs and a history entry recording
// description, stamped with the current UTC time at second precision.
//
// Given a manifest and config whose layer and diff id lists have equal
// length, they still do afterwards.
func PushLayer(m *ocispec.Manifest, config *ocispec.Image, layer layers.Layer, description string, annotations map[string]string) error {
	desc, err := FromDescriptor(layer.Descriptor()).Annotations(annotations).Build()
	if err != nil {
		return err
	}
	diffID := layer.DiffID()
	if err := diffID.Validate(); err != nil {
		return ocierrors.FormatCause("pushing layer", string(diffID), err)
	}

	m.Layers = append(m.Layers, desc)
	if config.RootFS.Type == "" {
		config.RootFS.Type = RootFSTypeLayers
	}
	config.RootFS.DiffIDs = append(config.RootFS.DiffIDs, diffID)
	created := now().UTC().Truncate(time.Second)
	config.History = append(config.History, ocispec.History{
		Created:   &created,
		CreatedBy: description,
	})
	return nil
}
