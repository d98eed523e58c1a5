package ocidir

import (
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/sirupsen/logrus"

	"github.com/bibin-skaria/ocidir/internal/fsutil"
	"github.com/bibin-skaria/ocidir/layers"
	"github.com/bibin-skaria/ocidir/manifest"
)

var defaultPlatform = ocispec.Platform{OS: "linux", Architecture: "amd64"}

func newTestOCIDir(t *testing.T) (*OCIDir, string) {
	t.Helper()
	path := t.TempDir()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	d, err := EnsurePath(path, WithLogger(logger))
	if err != nil {
		t.Fatalf("EnsurePath failed: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d, path
}

func writeTestLayer(t *testing.T, d *OCIDir, content string) layers.Layer {
	t.Helper()
	lw, err := d.CreateGzipLayer(nil)
	if err != nil {
		t.Fatalf("CreateGzipLayer failed: %v", err)
	}
	defer lw.Close()
	if _, err := lw.Write([]byte(content)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	layer, err := lw.Complete()
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	return layer
}

func mustFsck(t *testing.T, d *OCIDir, want int) {
	t.Helper()
	n, err := d.Fsck()
	if err != nil {
		t.Fatalf("Fsck failed: %v", err)
	}
	if n != want {
		t.Fatalf("Fsck = %d, want %d", n, want)
	}
}

var manifestOpts = cmp.Options{cmpopts.EquateEmpty()}

func TestEnsureIdempotent(t *testing.T) {
	d, path := newTestOCIDir(t)

	data, err := os.ReadFile(filepath.Join(path, LayoutFile))
	if err != nil {
		t.Fatalf("oci-layout missing: %v", err)
	}
	if string(data) != `{"imageLayoutVersion":"1.0.0"}` {
		t.Errorf("oci-layout = %s", data)
	}
	if fi, err := os.Stat(filepath.Join(path, "blobs", "sha256")); err != nil || !fi.IsDir() {
		t.Fatalf("blob directory missing: %v", err)
	}

	writeTestLayer(t, d, "content")
	again, err := Ensure(d.Dir())
	if err != nil {
		t.Fatalf("second Ensure failed: %v", err)
	}
	mustFsck(t, again, 1)

	index, err := d.ReadIndex()
	if err != nil {
		t.Fatalf("ReadIndex failed: %v", err)
	}
	if index != nil {
		t.Error("fresh directory should have no index")
	}
}

func TestBuild(t *testing.T) {
	d, path := newTestOCIDir(t)

	rootLayer := writeTestLayer(t, d, "pretend this is a tarball")
	if rootLayer.UncompressedSHA256 != "349438e5faf763e8875b43de4d7101540ef4d865190336c2cc549a11f33f8d7c" {
		t.Errorf("UncompressedSHA256 = %s", rootLayer.UncompressedSHA256)
	}
	mustFsck(t, d, 1)

	// Corrupting a blob is detected, restoring it is accepted again.
	blobFile := filepath.Join(path, "blobs", "sha256", rootLayer.Blob.SHA256)
	f, err := os.OpenFile(blobFile, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write([]byte{0}); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Fsck(); !errors.Is(err, ErrIntegrity) {
		t.Fatalf("expected integrity error, got %v", err)
	}
	if err := f.Truncate(rootLayer.Blob.Size); err != nil {
		t.Fatal(err)
	}
	f.Close()
	mustFsck(t, d, 1)

	m := manifest.NewEmptyManifest()
	config := manifest.NewImageConfig(defaultPlatform)
	if err := d.PushLayer(&m, &config, rootLayer, "root", nil); err != nil {
		t.Fatalf("PushLayer failed: %v", err)
	}
	configDesc, err := d.WriteConfig(config)
	if err != nil {
		t.Fatalf("WriteConfig failed: %v", err)
	}
	m.Config = configDesc
	if err := d.ReplaceWithSingleManifest(m, defaultPlatform); err != nil {
		t.Fatalf("ReplaceWithSingleManifest failed: %v", err)
	}
	index, err := d.ReadIndex()
	if err != nil || index == nil {
		t.Fatalf("ReadIndex = %v, %v", index, err)
	}
	if len(index.Manifests) != 1 {
		t.Fatalf("index has %d manifests, want 1", len(index.Manifests))
	}
	mustFsck(t, d, 3)

	readManifest, err := d.ReadManifest()
	if err != nil {
		t.Fatalf("ReadManifest failed: %v", err)
	}
	if diff := cmp.Diff(m, readManifest, manifestOpts); diff != "" {
		t.Errorf("manifest mismatch (-want +got):\n%s", diff)
	}

	if _, err := d.InsertManifest(m, "latest", defaultPlatform); err != nil {
		t.Fatalf("InsertManifest failed: %v", err)
	}
	// There's more than one now
	if _, err := d.ReadManifest(); !errors.Is(err, ErrFormat) {
		t.Errorf("ReadManifest with two manifests: got %v, want format error", err)
	}
	index, _ = d.ReadIndex()
	if len(index.Manifests) != 2 {
		t.Fatalf("index has %d manifests, want 2", len(index.Manifests))
	}

	notFound, err := d.FindManifestWithTag("noent")
	if err != nil || notFound != nil {
		t.Errorf("FindManifestWithTag(noent) = %v, %v", notFound, err)
	}
	found, err := d.FindManifestWithTag("latest")
	if err != nil || found == nil {
		t.Fatalf("FindManifestWithTag(latest) = %v, %v", found, err)
	}
	if diff := cmp.Diff(readManifest, *found, manifestOpts); diff != "" {
		t.Errorf("tagged manifest mismatch (-want +got):\n%s", diff)
	}

	updated := writeTestLayer(t, d, "pretend this is an updated tarball")
	m2 := manifest.NewEmptyManifest()
	config2 := manifest.NewImageConfig(defaultPlatform)
	if err := d.PushLayer(&m2, &config2, updated, "root", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := d.InsertManifestAndConfig(m2, config2, "latest", defaultPlatform); err != nil {
		t.Fatalf("InsertManifestAndConfig failed: %v", err)
	}
	index, _ = d.ReadIndex()
	if len(index.Manifests) != 2 {
		t.Fatalf("retagging grew the index to %d manifests", len(index.Manifests))
	}
	mustFsck(t, d, 6)

	found, err = d.FindManifestWithTag("latest")
	if err != nil || found == nil {
		t.Fatalf("FindManifestWithTag(latest) = %v, %v", found, err)
	}
	if found.Layers[0].Digest != updated.Blob.Digest() {
		t.Error("tag still points at the old manifest")
	}
	gotConfig, err := d.ReadConfig(*found)
	if err != nil {
		t.Fatalf("ReadConfig failed: %v", err)
	}
	if len(gotConfig.RootFS.DiffIDs) != 1 || gotConfig.RootFS.DiffIDs[0] != updated.DiffID() {
		t.Errorf("config diff ids = %v", gotConfig.RootFS.DiffIDs)
	}
}

func TestInsertManifestTagReplacement(t *testing.T) {
	d, _ := newTestOCIDir(t)

	insert := func(content, tag string) ocispec.Descriptor {
		t.Helper()
		layer := writeTestLayer(t, d, content)
		m := manifest.NewEmptyManifest()
		config := manifest.NewImageConfig(defaultPlatform)
		if err := d.PushLayer(&m, &config, layer, content, nil); err != nil {
			t.Fatal(err)
		}
		desc, err := d.InsertManifestAndConfig(m, config, tag, defaultPlatform)
		if err != nil {
			t.Fatalf("InsertManifestAndConfig(%q) failed: %v", tag, err)
		}
		return desc
	}

	first := insert("one", "latest")
	insert("two", "stable")
	insert("three", "")
	second := insert("four", "latest")

	index, err := d.ReadIndex()
	if err != nil {
		t.Fatal(err)
	}
	if len(index.Manifests) != 3 {
		t.Fatalf("index has %d manifests, want 3", len(index.Manifests))
	}
	latest := 0
	for _, desc := range index.Manifests {
		if manifest.IsTagged(desc, "latest") {
			latest++
			if desc.Digest != second.Digest {
				t.Error("latest points at the replaced manifest")
			}
		}
		if desc.Digest == first.Digest {
			t.Error("replaced manifest still referenced by the index")
		}
	}
	if latest != 1 {
		t.Errorf("found %d manifests tagged latest, want 1", latest)
	}

	// The replaced manifest's blob stays on disk.
	ok, err := d.HasBlob(first)
	if err != nil || !ok {
		t.Errorf("HasBlob(old manifest) = %v, %v", ok, err)
	}

	tags, err := d.Tags()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"stable", "latest"}, tags); diff != "" {
		t.Errorf("Tags mismatch (-want +got):\n%s", diff)
	}

	if second.Platform == nil || !cmp.Equal(*second.Platform, defaultPlatform) {
		t.Errorf("descriptor platform = %+v", second.Platform)
	}
	if second.MediaType != manifest.MediaTypeOCIManifest {
		t.Errorf("descriptor media type = %s", second.MediaType)
	}
}

func TestReadManifestCount(t *testing.T) {
	d, _ := newTestOCIDir(t)

	if _, err := d.ReadManifest(); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("ReadManifest without index: got %v, want not-exist", err)
	}

	if err := d.dir.AtomicWrite(IndexFile, []byte(`{"schemaVersion":2,"manifests":[]}`)); err != nil {
		t.Fatal(err)
	}
	_, err := d.ReadManifest()
	if !errors.Is(err, ErrFormat) {
		t.Fatalf("ReadManifest with empty index: got %v", err)
	}
	if want := "reading manifest: expected exactly 1 manifest, found 0"; err.Error() != want {
		t.Errorf("error = %q, want %q", err.Error(), want)
	}

	index, err := d.ReadIndex()
	if err != nil || index == nil {
		t.Fatalf("ReadIndex = %v, %v", index, err)
	}
	if len(index.Manifests) != 0 {
		t.Error("expected an index with zero manifests")
	}

	m := manifest.NewEmptyManifest()
	if _, err := d.InsertManifest(m, "a", defaultPlatform); err != nil {
		t.Fatal(err)
	}
	if _, err := d.ReadManifest(); err != nil {
		t.Errorf("ReadManifest with one manifest: %v", err)
	}
	if _, err := d.InsertManifest(m, "b", defaultPlatform); err != nil {
		t.Fatal(err)
	}
	_, err = d.ReadManifest()
	if want := "reading manifest: expected exactly 1 manifest, found 2"; err == nil || err.Error() != want {
		t.Errorf("error = %v, want %q", err, want)
	}

	if err := d.ReplaceWithSingleManifest(m, defaultPlatform); err != nil {
		t.Fatal(err)
	}
	_, desc, err := d.ReadManifestAndDescriptor()
	if err != nil {
		t.Fatalf("ReadManifestAndDescriptor failed: %v", err)
	}
	if _, tagged := manifest.Tag(desc); tagged {
		t.Error("single manifest should be untagged")
	}
}

func TestReadBlobRejectsBadDigests(t *testing.T) {
	d, _ := newTestOCIDir(t)

	tests := []struct {
		name   string
		digest digest.Digest
	}{
		{"no separator", "sha256"},
		{"unsupported algorithm", "sha512:" + digest.Digest(digest.FromString("x").Encoded())},
		{"traversal in hash", "sha256:../../oci-layout"},
		{"slash in hash", "sha256:a/b"},
		{"dotdot hash", "sha256:.."},
		{"traversal in algorithm", "../sha256:abc"},
		{"empty hash", "sha256:"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.ReadBlob(ocispec.Descriptor{Digest: tt.digest})
			if !errors.Is(err, ErrFormat) {
				t.Errorf("ReadBlob(%s): got %v, want format error", tt.digest, err)
			}
		})
	}

	_, err := d.ReadBlob(ocispec.Descriptor{Digest: digest.FromString("absent")})
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("ReadBlob(absent): got %v, want not-exist", err)
	}
}

func TestReadJSONBlob(t *testing.T) {
	d, _ := newTestOCIDir(t)

	desc, err := d.WriteJSONBlob(map[string]string{"hello": "world"}, "application/json")
	if err != nil {
		t.Fatalf("WriteJSONBlob failed: %v", err)
	}
	var got map[string]string
	if err := d.ReadJSONBlob(desc, &got); err != nil {
		t.Fatalf("ReadJSONBlob failed: %v", err)
	}
	if got["hello"] != "world" {
		t.Errorf("got %v", got)
	}

	w, err := d.CreateBlob()
	if err != nil {
		t.Fatal(err)
	}
	w.Write([]byte("not json"))
	blob, err := w.Complete()
	if err != nil {
		t.Fatal(err)
	}
	err = d.ReadJSONBlob(blob.Descriptor("application/json"), &got)
	if !errors.Is(err, ErrFormat) {
		t.Fatalf("expected format error, got %v", err)
	}
	var ce *Error
	if !errors.As(err, &ce) || ce.Digest != string(blob.Digest()) {
		t.Errorf("error does not name the offending digest: %v", err)
	}
}

func TestFsckSkipsNonBlobs(t *testing.T) {
	d, path := newTestOCIDir(t)

	writeTestLayer(t, d, "a")
	blobs := filepath.Join(path, "blobs", "sha256")
	if err := os.WriteFile(filepath.Join(blobs, "README"), []byte("not a blob"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(blobs, digest.FromString("dir").Encoded()), 0o755); err != nil {
		t.Fatal(err)
	}
	mustFsck(t, d, 1)

	// A digest-named file with the wrong content fails.
	bogus := digest.FromString("expected").Encoded()
	if err := os.WriteFile(filepath.Join(blobs, bogus), []byte("actual"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := d.Fsck()
	if !errors.Is(err, ErrIntegrity) {
		t.Fatalf("expected integrity error, got %v", err)
	}
	var ce *Error
	if !errors.As(err, &ce) || ce.Digest != "sha256:"+bogus {
		t.Errorf("error does not name the corrupt blob: %v", err)
	}
}

func TestCloneTo(t *testing.T) {
	d, _ := newTestOCIDir(t)

	layer := writeTestLayer(t, d, "clone me")
	m := manifest.NewEmptyManifest()
	config := manifest.NewImageConfig(defaultPlatform)
	if err := d.PushLayer(&m, &config, layer, "root", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := d.InsertManifestAndConfig(m, config, "latest", defaultPlatform); err != nil {
		t.Fatal(err)
	}
	mustFsck(t, d, 3)

	destPath := t.TempDir()
	dest, err := fsutil.OpenDir(destPath)
	if err != nil {
		t.Fatal(err)
	}
	defer dest.Close()

	cloned, err := d.CloneTo(dest, "copy")
	if err != nil {
		t.Fatalf("CloneTo failed: %v", err)
	}
	defer cloned.Close()

	mustFsck(t, cloned, 3)
	if index, err := cloned.ReadIndex(); err != nil || index != nil {
		t.Errorf("clone should not carry an index: %v, %v", index, err)
	}
	if _, err := os.Stat(filepath.Join(destPath, "copy", LayoutFile)); err != nil {
		t.Errorf("clone missing oci-layout: %v", err)
	}

	// The clone's blobs are independent files.
	clonedBlob := filepath.Join(destPath, "copy", "blobs", "sha256", layer.Blob.SHA256)
	if err := os.WriteFile(clonedBlob, []byte("scribble"), 0o644); err != nil {
		t.Fatal(err)
	}
	mustFsck(t, d, 3)

	if _, err := d.CloneTo(dest, "copy"); err == nil {
		t.Error("cloning onto an existing path should fail")
	}
}

func TestIndexJSONShape(t *testing.T) {
	d, path := newTestOCIDir(t)

	m := manifest.NewEmptyManifest()
	if _, err := d.InsertManifest(m, "v1", defaultPlatform); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(path, IndexFile))
	if err != nil {
		t.Fatal(err)
	}
	var raw struct {
		SchemaVersion int `json:"schemaVersion"`
		Manifests     []map[string]json.RawMessage
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	if raw.SchemaVersion != 2 || len(raw.Manifests) != 1 {
		t.Fatalf("unexpected index %s", data)
	}
	entry := raw.Manifests[0]
	for _, key := range []string{"mediaType", "digest", "size", "annotations", "platform"} {
		if _, ok := entry[key]; !ok {
			t.Errorf("manifest descriptor missing %q: %s", key, data)
		}
	}
	for _, key := range []string{"urls", "data", "artifactType"} {
		if _, ok := entry[key]; ok {
			t.Errorf("manifest descriptor has unset field %q: %s", key, data)
		}
	}
	var annotations map[string]string
	json.Unmarshal(entry["annotations"], &annotations)
	if annotations["org.opencontainers.image.ref.name"] != "v1" {
		t.Errorf("annotations = %v", annotations)
	}
}

func TestJSONKeepsHTMLCharacters(t *testing.T) {
	d, path := newTestOCIDir(t)

	const tag = "a<b&c>"
	desc, err := d.InsertManifest(manifest.NewEmptyManifest(), tag, defaultPlatform)
	if err != nil {
		t.Fatalf("InsertManifest failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(path, IndexFile))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"`+tag+`"`) {
		t.Errorf("index.json does not hold the raw tag: %s", data)
	}
	if strings.HasSuffix(string(data), "\n") {
		t.Error("index.json ends with a newline")
	}

	tags, err := d.Tags()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{tag}, tags); diff != "" {
		t.Errorf("Tags mismatch (-want +got):\n%s", diff)
	}

	blobDesc, err := d.WriteJSONBlob(map[string]string{"k": "<&>"}, "application/json")
	if err != nil {
		t.Fatal(err)
	}
	f, err := d.ReadBlob(blobDesc)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	raw, err := io.ReadAll(f)
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != `{"k":"<&>"}` {
		t.Errorf("blob content = %s", raw)
	}
	if blobDesc.Digest != digest.FromBytes(raw) || blobDesc.Size != int64(len(raw)) {
		t.Errorf("descriptor %v does not match content", blobDesc)
	}
	if desc.Annotations[manifest.TagAnnotation] != tag {
		t.Errorf("descriptor annotations = %v", desc.Annotations)
	}
}
