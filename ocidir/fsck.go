package ocidir

import (
	"bufio"
	"io"
	"path"

	"github.com/opencontainers/go-digest"

	ocierrors "github.com/bibin-skaria/ocidir/internal/errors"
	"github.com/bibin-skaria/ocidir/layers"
)

// Fsck verifies that every blob's content hashes to its filename and
// returns the number of blobs verified. It stops at the first mismatch,
// returning an integrity error; the blob is left in place. Entries that are
// not regular files named like a sha256 digest are skipped.
func (d *OCIDir) Fsck() (int, error) {
	const op = "fsck"
	entries, err := d.dir.ReadDir(layers.BlobDir)
	if err != nil {
		return 0, ocierrors.Wrap(op, err)
	}
	verified := 0
	for _, ent := range entries {
		name := ent.Name()
		// For now ignore non-blobs
		if len(name) != layers.BlobSHA256Len || !ent.Type().IsRegular() {
			continue
		}
		found, err := d.hashBlob(path.Join(layers.BlobDir, name))
		if err != nil {
			return verified, ocierrors.Wrap(op, err)
		}
		if found != name {
			return verified, ocierrors.Integrity(op, "sha256:"+name, "expected blob digest %s but found %s", name, found)
		}
		verified++
	}
	d.log.WithField("blobs", verified).Debug("fsck complete")
	return verified, nil
}

func (d *OCIDir) hashBlob(p string) (string, error) {
	f, err := d.dir.Open(p)
	if err != nil {
		return "", err
	}
	defer f.Close()
	digester := digest.SHA256.Digester()
	if _, err := io.Copy(digester.Hash(), bufio.NewReader(f)); err != nil {
		return "", err
	}
	return digester.Digest().Encoded(), nil
}
