package layers

import (
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/opencontainers/go-digest"

	ocierrors "github.com/bibin-skaria/ocidir/internal/errors"
	"github.com/bibin-skaria/ocidir/internal/fsutil"
)

// LayerWriter compresses a tar stream into a blob. The stored blob is
// hashed by the inner BlobWriter while a second digest tracks the
// uncompressed input, so neither form is ever held in memory.
//
// The content is not parsed; it is expected to be a tarball.
type LayerWriter struct {
	bw           *BlobWriter
	uncompressed digest.Digester
	compressor   io.WriteCloser
	mediaType    string
	done         bool
}

// NewLayerWriter creates a layer writer staging into dir.
func NewLayerWriter(dir *fsutil.Dir, config LayerConfig) (*LayerWriter, error) {
	compression, err := ParseCompression(string(config.Compression))
	if err != nil {
		return nil, ocierrors.Format("creating layer writer", "", "%v", err)
	}
	bw, err := NewBlobWriter(dir)
	if err != nil {
		return nil, err
	}
	compressor, err := newCompressor(bw, compression, config.Level)
	if err != nil {
		bw.Close()
		return nil, ocierrors.Format("creating layer writer", "", "%v", err)
	}
	return &LayerWriter{
		bw:           bw,
		uncompressed: digest.SHA256.Digester(),
		compressor:   compressor,
		mediaType:    compression.GetMediaType(),
	}, nil
}

func newCompressor(w io.Writer, compression CompressionType, level *int) (io.WriteCloser, error) {
	switch compression {
	case CompressionZstd:
		var opts []zstd.EOption
		if level != nil {
			opts = append(opts, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(*level)))
		}
		return zstd.NewWriter(w, opts...)
	case CompressionNone:
		return nopWriteCloser{w}, nil
	default:
		l := gzip.DefaultCompression
		if level != nil {
			l = *level
		}
		return gzip.NewWriterLevel(w, l)
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// MediaType returns the media type of the blob being produced.
func (w *LayerWriter) MediaType() string {
	return w.mediaType
}

func (w *LayerWriter) Write(p []byte) (int, error) {
	if w.done {
		return 0, ocierrors.Misuse("writing layer", "layer writer already completed")
	}
	n, err := w.compressor.Write(p)
	w.uncompressed.Hash().Write(p[:n])
	return n, err
}

// Complete finalizes the compressed stream, publishes the blob and returns
// the layer. The writer cannot be used afterwards.
func (w *LayerWriter) Complete() (Layer, error) {
	if w.done {
		return Layer{}, ocierrors.Misuse("completing layer", "layer writer already completed")
	}
	w.done = true
	if err := w.compressor.Close(); err != nil {
		w.bw.Close()
		return Layer{}, ocierrors.Wrap("completing layer", err)
	}
	blob, err := w.bw.Complete()
	if err != nil {
		return Layer{}, ocierrors.Wrap("completing layer", err)
	}
	return Layer{
		Blob:               blob,
		UncompressedSHA256: w.uncompressed.Digest().Encoded(),
		MediaType:          w.mediaType,
	}, nil
}

// Close discards the staged layer unless Complete already succeeded.
func (w *LayerWriter) Close() error {
	if w.done {
		return nil
	}
	w.done = true
	w.compressor.Close()
	return w.bw.Close()
}
