package ocidir

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path"
	"strings"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/sirupsen/logrus"

	ocierrors "github.com/bibin-skaria/ocidir/internal/errors"
	"github.com/bibin-skaria/ocidir/layers"
	"github.com/bibin-skaria/ocidir/manifest"
)

// parseOneFilename accepts s only if it names an entry directly inside a
// directory: no separators, and not "." or "..".
func parseOneFilename(s string) (string, error) {
	if s == "" || s == "." || s == ".." || strings.ContainsAny(s, "/\\\x00") {
		return "", ocierrors.Format("parsing filename", "", "invalid filename %q", s)
	}
	return s, nil
}

// blobPath maps a digest to its path relative to the layout root.
func blobPath(d digest.Digest) (string, error) {
	const op = "resolving blob"
	alg, hash, ok := strings.Cut(string(d), ":")
	if !ok {
		return "", ocierrors.Format(op, string(d), "invalid digest")
	}
	alg, err := parseOneFilename(alg)
	if err != nil {
		return "", ocierrors.Wrap(op, err)
	}
	if alg != string(digest.SHA256) {
		return "", ocierrors.Format(op, string(d), "unsupported digest algorithm")
	}
	hash, err = parseOneFilename(hash)
	if err != nil {
		return "", ocierrors.Wrap(op, err)
	}
	return path.Join(layers.BlobDir, hash), nil
}

// ReadBlob opens the blob desc refers to.
func (d *OCIDir) ReadBlob(desc ocispec.Descriptor) (*os.File, error) {
	p, err := blobPath(desc.Digest)
	if err != nil {
		return nil, err
	}
	f, err := d.dir.Open(p)
	if err != nil {
		return nil, ocierrors.Wrap("reading blob "+string(desc.Digest), err)
	}
	return f, nil
}

// HasBlob reports whether the blob desc refers to is present.
func (d *OCIDir) HasBlob(desc ocispec.Descriptor) (bool, error) {
	p, err := blobPath(desc.Digest)
	if err != nil {
		return false, err
	}
	ok, err := d.dir.Exists(p)
	if err != nil {
		return false, ocierrors.Wrap("checking blob", err)
	}
	return ok, nil
}

// ReadJSONBlob decodes the JSON blob desc refers to into v.
func (d *OCIDir) ReadJSONBlob(desc ocispec.Descriptor, v interface{}) error {
	f, err := d.ReadBlob(desc)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := json.NewDecoder(bufio.NewReader(f)).Decode(v); err != nil {
		return ocierrors.FormatCause("parsing object", string(desc.Digest), err)
	}
	return nil
}

// marshalJSON is json.Marshal without HTML escaping, so annotations such as
// tags are stored as written.
func marshalJSON(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// writeJSONBlob serializes v as a new blob and returns a builder for its
// descriptor, so callers can attach a platform or annotations.
func (d *OCIDir) writeJSONBlob(v interface{}, mediaType string) (*manifest.DescriptorBuilder, error) {
	const op = "writing json blob"
	data, err := marshalJSON(v)
	if err != nil {
		return nil, ocierrors.FormatCause(op, "", err)
	}
	w, err := layers.NewBlobWriter(d.dir)
	if err != nil {
		return nil, ocierrors.Wrap(op, err)
	}
	defer w.Close()
	if _, err := w.Write(data); err != nil {
		return nil, ocierrors.Wrap(op, err)
	}
	blob, err := w.Complete()
	if err != nil {
		return nil, ocierrors.Wrap(op, err)
	}
	d.log.WithFields(logrus.Fields{
		"digest":     blob.Digest(),
		"size":       blob.Size,
		"media_type": mediaType,
	}).Debug("wrote json blob")
	return manifest.NewDescriptorBuilder().
		MediaType(mediaType).
		Digest(blob.Digest()).
		Size(blob.Size), nil
}

// WriteJSONBlob serializes v as a new blob with the given media type.
func (d *OCIDir) WriteJSONBlob(v interface{}, mediaType string) (ocispec.Descriptor, error) {
	b, err := d.writeJSONBlob(v, mediaType)
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	return b.Build()
}

// WriteConfig writes an image configuration blob.
func (d *OCIDir) WriteConfig(config ocispec.Image) (ocispec.Descriptor, error) {
	return d.WriteJSONBlob(config, manifest.MediaTypeOCIConfig)
}

// ReadConfig reads the configuration a manifest refers to.
func (d *OCIDir) ReadConfig(m ocispec.Manifest) (ocispec.Image, error) {
	var config ocispec.Image
	if err := d.ReadJSONBlob(m.Config, &config); err != nil {
		return ocispec.Image{}, err
	}
	return config, nil
}
