package exporters

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/opencontainers/go-digest"
	specs "github.com/opencontainers/image-spec/specs-go"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/bibin-skaria/ocidir/layers"
	"github.com/bibin-skaria/ocidir/manifest"
	"github.com/bibin-skaria/ocidir/ocidir"
)

// OCIArchiveExporter writes the layout directory itself as a tar archive,
// the "oci-archive" transport understood by skopeo and podman. Without a
// tag every image of the layout is archived. With a tag the archive holds
// an index.json listing only that image, and only the blobs it references.
type OCIArchiveExporter struct{}

func init() {
	RegisterExporter("oci-archive", &OCIArchiveExporter{})
}

// archiveContent selects what goes into an archive.
type archiveContent struct {
	// index replaces the layout's index.json when set.
	index []byte
	// blobs lists the hex digests to include; nil means every blob.
	blobs []string
}

func (e *OCIArchiveExporter) Export(ctx context.Context, dir *ocidir.OCIDir, opts Options) error {
	if opts.Output == "" {
		return fmt.Errorf("oci-archive export requires an output path")
	}
	var content archiveContent
	if opts.Tag != "" {
		var err error
		if content, err = e.selectTag(dir, opts.Tag); err != nil {
			return err
		}
	}

	out, err := os.Create(opts.Output)
	if err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}
	defer out.Close()

	var w io.Writer = out
	var gz *gzip.Writer
	if opts.Compress || strings.HasSuffix(opts.Output, ".gz") {
		gz = gzip.NewWriter(out)
		w = gz
	}

	tw := tar.NewWriter(w)
	if err := e.addLayout(ctx, tw, dir, content); err != nil {
		os.Remove(opts.Output)
		return fmt.Errorf("failed to archive layout: %w", err)
	}
	if err := tw.Close(); err != nil {
		return err
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return err
		}
	}
	return out.Close()
}

// selectTag builds the index and blob list for the image holding tag.
func (e *OCIArchiveExporter) selectTag(dir *ocidir.OCIDir, tag string) (archiveContent, error) {
	desc, err := dir.FindManifestDescriptorWithTag(tag)
	if err != nil {
		return archiveContent{}, err
	}
	if desc == nil {
		return archiveContent{}, fmt.Errorf("tag %q not found", tag)
	}
	var m ocispec.Manifest
	if err := dir.ReadJSONBlob(*desc, &m); err != nil {
		return archiveContent{}, err
	}

	seen := map[string]bool{}
	refs := append([]ocispec.Descriptor{*desc, m.Config}, m.Layers...)
	for _, ref := range refs {
		if ref.Digest.Algorithm() != digest.SHA256 || ref.Digest.Validate() != nil {
			return archiveContent{}, fmt.Errorf("unsupported blob digest %q", ref.Digest)
		}
		seen[ref.Digest.Encoded()] = true
	}
	blobs := make([]string, 0, len(seen))
	for hex := range seen {
		blobs = append(blobs, hex)
	}
	sort.Strings(blobs)

	index := ocispec.Index{
		Versioned: specs.Versioned{SchemaVersion: manifest.SchemaVersion},
		Manifests: []ocispec.Descriptor{*desc},
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(index); err != nil {
		return archiveContent{}, err
	}
	return archiveContent{
		index: bytes.TrimSuffix(buf.Bytes(), []byte("\n")),
		blobs: blobs,
	}, nil
}

func (e *OCIArchiveExporter) addLayout(ctx context.Context, tw *tar.Writer, dir *ocidir.OCIDir, content archiveContent) error {
	if err := e.addFileToTar(tw, dir, ocidir.LayoutFile); err != nil {
		return err
	}
	if content.index != nil {
		hdr := &tar.Header{
			Typeflag: tar.TypeReg,
			Name:     ocidir.IndexFile,
			Mode:     0o644,
			Size:     int64(len(content.index)),
			ModTime:  time.Now(),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if _, err := tw.Write(content.index); err != nil {
			return err
		}
	} else if err := e.addFileToTar(tw, dir, ocidir.IndexFile); err != nil {
		return err
	}
	for _, d := range []string{"blobs/", layers.BlobDir + "/"} {
		hdr := &tar.Header{Typeflag: tar.TypeDir, Name: d, Mode: 0o755}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
	}

	blobs := content.blobs
	if blobs == nil {
		entries, err := dir.Dir().ReadDir(layers.BlobDir)
		if err != nil {
			return err
		}
		for _, ent := range entries {
			if len(ent.Name()) == layers.BlobSHA256Len && ent.Type().IsRegular() {
				blobs = append(blobs, ent.Name())
			}
		}
	}
	for _, hex := range blobs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.addFileToTar(tw, dir, path.Join(layers.BlobDir, hex)); err != nil {
			return err
		}
	}
	return nil
}

func (e *OCIArchiveExporter) addFileToTar(tw *tar.Writer, dir *ocidir.OCIDir, name string) error {
	file, err := dir.Dir().Open(name)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	header := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     name,
		Mode:     0o644,
		Size:     info.Size(),
		ModTime:  info.ModTime(),
	}
	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	_, err = io.Copy(tw, file)
	return err
}
