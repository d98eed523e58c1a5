package ocidir

import (
	"path"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	ocierrors "github.com/bibin-skaria/ocidir/internal/errors"
	"github.com/bibin-skaria/ocidir/internal/fsutil"
	"github.com/bibin-skaria/ocidir/layers"
	"github.com/bibin-skaria/ocidir/manifest"
)

const (
	// LayoutFile is the marker file identifying an OCI image layout.
	LayoutFile = ocispec.ImageLayoutFile
	// IndexFile is the top-level image index.
	IndexFile = ocispec.ImageIndexFile

	layoutContent = `{"imageLayoutVersion":"1.0.0"}`

	defaultCloneConcurrency = 4
)

// OCIDir is an opened OCI image layout directory.
type OCIDir struct {
	dir   *fsutil.Dir
	owned bool

	log              logrus.FieldLogger
	cloneConcurrency int
}

// Option configures an OCIDir.
type Option func(*OCIDir)

// WithLogger sets the logger; the default is the logrus standard logger.
// The package only logs at debug level.
func WithLogger(log logrus.FieldLogger) Option {
	return func(d *OCIDir) {
		d.log = log
	}
}

// WithCloneConcurrency bounds the number of blobs CloneTo copies at once.
func WithCloneConcurrency(n int) Option {
	return func(d *OCIDir) {
		if n > 0 {
			d.cloneConcurrency = n
		}
	}
}

func newOCIDir(dir *fsutil.Dir, opts []Option) *OCIDir {
	d := &OCIDir{
		dir:              dir,
		log:              logrus.StandardLogger(),
		cloneConcurrency: defaultCloneConcurrency,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Ensure opens dir as an OCI directory, creating the blob tree and the
// oci-layout marker if they are missing. It is idempotent and must be
// called once on a fresh directory before any other operation.
func Ensure(dir *fsutil.Dir, opts ...Option) (*OCIDir, error) {
	const op = "opening OCI dir"
	if err := dir.EnsureDirAll(layers.BlobDir, 0o755); err != nil {
		return nil, ocierrors.Wrap(op, err)
	}
	exists, err := dir.Exists(LayoutFile)
	if err != nil {
		return nil, ocierrors.Wrap(op, err)
	}
	if !exists {
		if err := dir.AtomicWrite(LayoutFile, []byte(layoutContent)); err != nil {
			return nil, ocierrors.Wrap(op, err)
		}
	}
	return Open(dir, opts...)
}

// Open attaches to an existing OCI directory without modifying it. The
// caller keeps ownership of dir.
func Open(dir *fsutil.Dir, opts ...Option) (*OCIDir, error) {
	return newOCIDir(dir, opts), nil
}

// EnsurePath is Ensure on a host path. The returned OCIDir owns its
// directory handle; release it with Close.
func EnsurePath(p string, opts ...Option) (*OCIDir, error) {
	dir, err := fsutil.OpenDir(p)
	if err != nil {
		return nil, ocierrors.Wrap("opening OCI dir", err)
	}
	d, err := Ensure(dir, opts...)
	if err != nil {
		dir.Close()
		return nil, err
	}
	d.owned = true
	return d, nil
}

// OpenPath is Open on a host path. The returned OCIDir owns its directory
// handle; release it with Close.
func OpenPath(p string, opts ...Option) (*OCIDir, error) {
	dir, err := fsutil.OpenDir(p)
	if err != nil {
		return nil, ocierrors.Wrap("opening OCI dir", err)
	}
	d, _ := Open(dir, opts...)
	d.owned = true
	return d, nil
}

// Dir returns the underlying directory handle.
func (d *OCIDir) Dir() *fsutil.Dir {
	return d.dir
}

// Close releases the directory handle if this OCIDir owns it.
func (d *OCIDir) Close() error {
	if !d.owned {
		return nil
	}
	return d.dir.Close()
}

// CloneTo creates a new OCI directory at destdir/p and copies every blob
// into it, sharing data copy-on-write where the filesystem allows. Only
// blobs are copied; index.json is not, so the clone starts without any
// manifests referenced. p must not exist yet. The returned OCIDir owns its
// directory handle.
func (d *OCIDir) CloneTo(destdir *fsutil.Dir, p string) (*OCIDir, error) {
	const op = "cloning OCI dir"
	if err := destdir.Mkdir(p, 0o755); err != nil {
		return nil, ocierrors.Wrap(op, err)
	}
	sub, err := destdir.OpenDir(p)
	if err != nil {
		return nil, ocierrors.Wrap(op, err)
	}
	cloned, err := Ensure(sub, WithLogger(d.log), WithCloneConcurrency(d.cloneConcurrency))
	if err != nil {
		sub.Close()
		return nil, err
	}
	cloned.owned = true

	entries, err := d.dir.ReadDir(layers.BlobDir)
	if err != nil {
		cloned.Close()
		return nil, ocierrors.Wrap(op, err)
	}

	var g errgroup.Group
	g.SetLimit(d.cloneConcurrency)
	reflinked := make([]bool, len(entries))
	for i, ent := range entries {
		if len(ent.Name()) != layers.BlobSHA256Len || !ent.Type().IsRegular() {
			continue
		}
		name := path.Join(layers.BlobDir, ent.Name())
		g.Go(func() error {
			ok, err := fsutil.CopyFile(d.dir, name, sub, name)
			if err != nil {
				return ocierrors.Wrap(op, err)
			}
			reflinked[i] = ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		cloned.Close()
		return nil, err
	}

	copied, shared := 0, 0
	for i, ent := range entries {
		if len(ent.Name()) == layers.BlobSHA256Len && ent.Type().IsRegular() {
			copied++
			if reflinked[i] {
				shared++
			}
		}
	}
	d.log.WithFields(logrus.Fields{
		"dest":      path.Join(destdir.Name(), p),
		"blobs":     copied,
		"reflinked": shared,
	}).Debug("cloned OCI dir")
	return cloned, nil
}

// CreateBlob returns a writer for a new blob.
func (d *OCIDir) CreateBlob() (*layers.BlobWriter, error) {
	return layers.NewBlobWriter(d.dir)
}

// CreateLayer returns a writer for a new compressed layer blob.
func (d *OCIDir) CreateLayer(config layers.LayerConfig) (*layers.LayerWriter, error) {
	return layers.NewLayerWriter(d.dir, config)
}

// CreateGzipLayer returns a writer for a gzip compressed layer; a nil level
// selects the default compression level.
func (d *OCIDir) CreateGzipLayer(level *int) (*layers.LayerWriter, error) {
	return d.CreateLayer(layers.LayerConfig{Compression: layers.CompressionGzip, Level: level})
}

// PushLayer adds layer to the top of the image described by m and config.
// See manifest.PushLayer.
func (d *OCIDir) PushLayer(m *ocispec.Manifest, config *ocispec.Image, layer layers.Layer, description string, annotations map[string]string) error {
	if err := manifest.PushLayer(m, config, layer, description, annotations); err != nil {
		return err
	}
	d.log.WithFields(logrus.Fields{
		"digest":  layer.Blob.Digest(),
		"diff_id": layer.DiffID(),
		"layers":  len(m.Layers),
	}).Debug("pushed layer")
	return nil
}
