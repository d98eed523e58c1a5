package manifest

import (
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	ocierrors "github.com/bibin-skaria/ocidir/internal/errors"
)

var validLayerMediaTypes = map[string]bool{
	MediaTypeOCILayer:     true,
	MediaTypeOCILayerGzip: true,
	MediaTypeOCILayerZstd: true,
}

// ValidateImageManifest checks the schema version, media types and
// descriptors of a manifest.
func ValidateImageManifest(m ocispec.Manifest) error {
	const op = "validating manifest"
	if m.SchemaVersion != SchemaVersion {
		return ocierrors.Format(op, "", "invalid schema version: expected %d, got %d", SchemaVersion, m.SchemaVersion)
	}
	if m.MediaType != "" && m.MediaType != MediaTypeOCIManifest {
		return ocierrors.Format(op, "", "invalid manifest media type: %s", m.MediaType)
	}
	if m.Config.MediaType != MediaTypeOCIConfig {
		return ocierrors.Format(op, string(m.Config.Digest), "invalid config media type: %s", m.Config.MediaType)
	}
	if _, err := FromDescriptor(m.Config).Build(); err != nil {
		return ocierrors.Wrap(op, err)
	}
	for i, layer := range m.Layers {
		if !validLayerMediaTypes[layer.MediaType] {
			return ocierrors.Format(op, string(layer.Digest), "invalid layer media type at index %d: %s", i, layer.MediaType)
		}
		if _, err := FromDescriptor(layer).Build(); err != nil {
			return ocierrors.Wrap(op, err)
		}
	}
	return nil
}

// ValidateLayerParity checks that the manifest's layers and the config's
// diff ids and non-empty history entries line up one to one.
func ValidateLayerParity(m ocispec.Manifest, config ocispec.Image) error {
	const op = "validating layers"
	if len(m.Layers) != len(config.RootFS.DiffIDs) {
		return ocierrors.Format(op, "", "manifest has %d layers but config has %d diff ids", len(m.Layers), len(config.RootFS.DiffIDs))
	}
	nonEmpty := 0
	for _, h := range config.History {
		if !h.EmptyLayer {
			nonEmpty++
		}
	}
	if len(config.History) > 0 && nonEmpty != len(m.Layers) {
		return ocierrors.Format(op, "", "manifest has %d layers but config has %d layer history entries", len(m.Layers), nonEmpty)
	}
	for _, d := range config.RootFS.DiffIDs {
		if err := d.Validate(); err != nil {
			return ocierrors.FormatCause(op, string(d), err)
		}
	}
	return nil
}
