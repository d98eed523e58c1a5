package layers

import (
	"bufio"
	_ "crypto/sha256"
	"path"

	"github.com/opencontainers/go-digest"

	ocierrors "github.com/bibin-skaria/ocidir/internal/errors"
	"github.com/bibin-skaria/ocidir/internal/fsutil"
)

// BlobWriter hashes everything written to it while staging the bytes in a
// temporary file. Complete publishes the file under its digest.
//
// A BlobWriter is not safe for concurrent use.
type BlobWriter struct {
	hash   digest.Digester
	target *fsutil.TempFile
	buf    *bufio.Writer
	size   int64
	done   bool
}

// NewBlobWriter creates a writer staging into dir, which must be the root
// of an OCI directory with BlobDir present.
func NewBlobWriter(dir *fsutil.Dir) (*BlobWriter, error) {
	target, err := dir.CreateTemp()
	if err != nil {
		return nil, ocierrors.Wrap("creating blob writer", err)
	}
	return &BlobWriter{
		hash:   digest.SHA256.Digester(),
		target: target,
		buf:    bufio.NewWriterSize(target, 64*1024),
	}, nil
}

func (w *BlobWriter) Write(p []byte) (int, error) {
	if w.done {
		return 0, ocierrors.Misuse("writing blob", "blob writer already completed")
	}
	n, err := w.buf.Write(p)
	w.hash.Hash().Write(p[:n])
	w.size += int64(n)
	return n, err
}

// Size returns the number of bytes written so far.
func (w *BlobWriter) Size() int64 {
	return w.size
}

// Complete finishes the blob and atomically publishes it as
// blobs/sha256/<digest>. The writer cannot be used afterwards.
func (w *BlobWriter) Complete() (Blob, error) {
	if w.done {
		return Blob{}, ocierrors.Misuse("completing blob", "blob writer already completed")
	}
	w.done = true
	if err := w.buf.Flush(); err != nil {
		w.target.Discard()
		return Blob{}, ocierrors.Wrap("completing blob", err)
	}
	sha256 := w.hash.Digest().Encoded()
	if err := w.target.RenameTo(path.Join(BlobDir, sha256)); err != nil {
		return Blob{}, ocierrors.Wrap("completing blob", err)
	}
	return Blob{SHA256: sha256, Size: w.size}, nil
}

// Close discards the staged content unless Complete already succeeded.
// It is safe to defer Close right after creating the writer.
func (w *BlobWriter) Close() error {
	if w.done {
		return nil
	}
	w.done = true
	return w.target.Discard()
}
