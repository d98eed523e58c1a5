package ocidir

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"

	specs "github.com/opencontainers/image-spec/specs-go"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/sirupsen/logrus"

	ocierrors "github.com/bibin-skaria/ocidir/internal/errors"
	"github.com/bibin-skaria/ocidir/manifest"
)

func newIndex(manifests ...ocispec.Descriptor) *ocispec.Index {
	if manifests == nil {
		manifests = []ocispec.Descriptor{}
	}
	return &ocispec.Index{
		Versioned: specs.Versioned{SchemaVersion: manifest.SchemaVersion},
		Manifests: manifests,
	}
}

// ReadIndex reads the image index. It returns nil and no error if the
// directory has no index.json yet.
func (d *OCIDir) ReadIndex() (*ocispec.Index, error) {
	const op = "reading index"
	f, err := d.dir.OpenOptional(IndexFile)
	if err != nil {
		return nil, ocierrors.Wrap(op, err)
	}
	if f == nil {
		return nil, nil
	}
	defer f.Close()
	var index ocispec.Index
	if err := json.NewDecoder(bufio.NewReader(f)).Decode(&index); err != nil {
		return nil, ocierrors.FormatCause(op, "", err)
	}
	return &index, nil
}

// readRequiredIndex is ReadIndex treating an absent index as an error.
func (d *OCIDir) readRequiredIndex(op string) (*ocispec.Index, error) {
	index, err := d.ReadIndex()
	if err != nil {
		return nil, err
	}
	if index == nil {
		return nil, ocierrors.Wrap(op, fmt.Errorf("opening %s: %w", IndexFile, fs.ErrNotExist))
	}
	return index, nil
}

func (d *OCIDir) writeIndex(index *ocispec.Index) error {
	err := d.dir.AtomicReplaceWith(IndexFile, func(w io.Writer) error {
		data, err := marshalJSON(index)
		if err != nil {
			return ocierrors.FormatCause("serializing index", "", err)
		}
		_, err = w.Write(data)
		return err
	})
	if err != nil {
		return ocierrors.Wrap("writing index", err)
	}
	d.log.WithField("manifests", len(index.Manifests)).Debug("wrote index")
	return nil
}

// writeManifest writes m as a blob and builds its index descriptor.
func (d *OCIDir) writeManifest(m ocispec.Manifest, tag string, platform ocispec.Platform) (ocispec.Descriptor, error) {
	b, err := d.writeJSONBlob(m, manifest.MediaTypeOCIManifest)
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	b.Platform(platform)
	if tag != "" {
		b.Annotation(manifest.TagAnnotation, tag)
	}
	return b.Build()
}

// InsertManifest writes m as a blob and adds it to the index. A non-empty
// tag is recorded as the descriptor's ref name annotation and replaces any
// manifest already holding that tag; an empty tag adds an untagged entry.
// The previously tagged manifest's blob stays on disk.
//
// The index is rewritten atomically but not locked: concurrent callers on
// the same directory can lose each other's updates.
func (d *OCIDir) InsertManifest(m ocispec.Manifest, tag string, platform ocispec.Platform) (ocispec.Descriptor, error) {
	desc, err := d.writeManifest(m, tag, platform)
	if err != nil {
		return ocispec.Descriptor{}, err
	}

	index, err := d.ReadIndex()
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	if index == nil {
		index = newIndex()
	}
	manifests := make([]ocispec.Descriptor, 0, len(index.Manifests)+1)
	for _, existing := range index.Manifests {
		if tag != "" && manifest.IsTagged(existing, tag) {
			continue
		}
		manifests = append(manifests, existing)
	}
	index.Manifests = append(manifests, desc)

	if err := d.writeIndex(index); err != nil {
		return ocispec.Descriptor{}, err
	}
	d.log.WithFields(logrus.Fields{
		"digest": desc.Digest,
		"tag":    tag,
	}).Debug("inserted manifest")
	return desc, nil
}

// InsertManifestAndConfig writes config, points m at it, then calls
// InsertManifest.
func (d *OCIDir) InsertManifestAndConfig(m ocispec.Manifest, config ocispec.Image, tag string, platform ocispec.Platform) (ocispec.Descriptor, error) {
	configDesc, err := d.WriteConfig(config)
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	m.Config = configDesc
	return d.InsertManifest(m, tag, platform)
}

// ReplaceWithSingleManifest writes m as a blob and replaces the whole index
// with one referencing only m, untagged.
func (d *OCIDir) ReplaceWithSingleManifest(m ocispec.Manifest, platform ocispec.Platform) error {
	desc, err := d.writeManifest(m, "", platform)
	if err != nil {
		return err
	}
	return d.writeIndex(newIndex(desc))
}

// ReadManifest returns the manifest of a directory holding exactly one.
func (d *OCIDir) ReadManifest() (ocispec.Manifest, error) {
	m, _, err := d.ReadManifestAndDescriptor()
	return m, err
}

// ReadManifestAndDescriptor returns the manifest and its index descriptor
// for a directory holding exactly one manifest. Zero or several manifests
// is an error; use FindManifestWithTag for multi-image directories.
func (d *OCIDir) ReadManifestAndDescriptor() (ocispec.Manifest, ocispec.Descriptor, error) {
	const op = "reading manifest"
	index, err := d.readRequiredIndex(op)
	if err != nil {
		return ocispec.Manifest{}, ocispec.Descriptor{}, err
	}
	if n := len(index.Manifests); n != 1 {
		return ocispec.Manifest{}, ocispec.Descriptor{}, ocierrors.Format(op, "", "expected exactly 1 manifest, found %d", n)
	}
	desc := index.Manifests[0]
	var m ocispec.Manifest
	if err := d.ReadJSONBlob(desc, &m); err != nil {
		return ocispec.Manifest{}, ocispec.Descriptor{}, err
	}
	return m, desc, nil
}

// FindManifestDescriptorWithTag returns the index entry holding tag, or
// nil if there is none.
func (d *OCIDir) FindManifestDescriptorWithTag(tag string) (*ocispec.Descriptor, error) {
	index, err := d.ReadIndex()
	if err != nil || index == nil {
		return nil, err
	}
	for _, desc := range index.Manifests {
		if manifest.IsTagged(desc, tag) {
			return &desc, nil
		}
	}
	return nil, nil
}

// FindManifestWithTag returns the manifest holding tag, or nil if there is
// none.
func (d *OCIDir) FindManifestWithTag(tag string) (*ocispec.Manifest, error) {
	desc, err := d.FindManifestDescriptorWithTag(tag)
	if err != nil || desc == nil {
		return nil, err
	}
	var m ocispec.Manifest
	if err := d.ReadJSONBlob(*desc, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Tags lists the tags in the index, in index order.
func (d *OCIDir) Tags() ([]string, error) {
	index, err := d.ReadIndex()
	if err != nil || index == nil {
		return nil, err
	}
	var tags []string
	for _, desc := range index.Manifests {
		if tag, ok := manifest.Tag(desc); ok {
			tags = append(tags, tag)
		}
	}
	return tags, nil
}
