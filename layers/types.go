package layers

import (
	"fmt"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

const (
	// BlobDir is the directory holding blobs, relative to the layout root.
	BlobDir = "blobs/sha256"
	// BlobSHA256Len is the length of a hex encoded sha256 digest, which is
	// also the length of every blob filename.
	BlobSHA256Len = 64
)

// Blob is a committed blob.
type Blob struct {
	// SHA256 is the lowercase hex digest of the content, and its filename.
	SHA256 string
	Size   int64
}

// Digest returns the "sha256:<hex>" form used in descriptors.
func (b Blob) Digest() digest.Digest {
	return digest.NewDigestFromEncoded(digest.SHA256, b.SHA256)
}

// Descriptor returns a descriptor referencing the blob.
func (b Blob) Descriptor(mediaType string) ocispec.Descriptor {
	return ocispec.Descriptor{
		MediaType: mediaType,
		Digest:    b.Digest(),
		Size:      b.Size,
	}
}

// Layer is a committed layer blob together with the digest of its
// uncompressed content.
type Layer struct {
	// Blob is the stored (usually compressed) content.
	Blob Blob
	// UncompressedSHA256 is the hex digest of the tar stream before
	// compression, used as the layer's diff id.
	UncompressedSHA256 string
	// MediaType of the stored blob.
	MediaType string
}

// DiffID returns the "sha256:<hex>" digest of the uncompressed content.
func (l Layer) DiffID() digest.Digest {
	return digest.NewDigestFromEncoded(digest.SHA256, l.UncompressedSHA256)
}

// Descriptor returns the layer descriptor, defaulting to the gzip media type.
func (l Layer) Descriptor() ocispec.Descriptor {
	mediaType := l.MediaType
	if mediaType == "" {
		mediaType = ocispec.MediaTypeImageLayerGzip
	}
	return l.Blob.Descriptor(mediaType)
}

// LayerConfig holds configuration for layer creation
type LayerConfig struct {
	Compression CompressionType `json:"compression" yaml:"compression"`
	// Level is the encoder specific compression level; nil selects the
	// encoder default.
	Level *int `json:"level,omitempty" yaml:"level,omitempty"`
}

// CompressionType represents the compression algorithm used for layers
type CompressionType string

const (
	CompressionNone CompressionType = "none"
	CompressionGzip CompressionType = "gzip"
	CompressionZstd CompressionType = "zstd"
)

// ParseCompression parses a compression name. The empty string selects gzip.
func ParseCompression(s string) (CompressionType, error) {
	switch CompressionType(s) {
	case "", CompressionGzip:
		return CompressionGzip, nil
	case CompressionZstd:
		return CompressionZstd, nil
	case CompressionNone:
		return CompressionNone, nil
	}
	return "", fmt.Errorf("unsupported compression type: %q", s)
}

// GetMediaType returns the appropriate OCI media type for the compression
func (c CompressionType) GetMediaType() string {
	switch c {
	case CompressionZstd:
		return ocispec.MediaTypeImageLayerZstd
	case CompressionNone:
		return ocispec.MediaTypeImageLayer
	default:
		return ocispec.MediaTypeImageLayerGzip
	}
}
