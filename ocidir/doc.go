// Package ocidir reads and writes OCI image layout directories: a tree of
// content-addressed blobs plus the index.json document naming the
// manifests stored in it.
//
//	<root>/oci-layout              {"imageLayoutVersion":"1.0.0"}
//	<root>/index.json              image index
//	<root>/blobs/sha256/<hex>      one file per blob, named by its digest
//
// Blobs are staged in temporary files and renamed into place only once
// their digest is known, so every file under blobs/sha256 is named by the
// digest of its complete content. Documents (index, manifests, configs)
// are likewise published by atomic rename and never patched in place.
//
// # Getting started
//
//	d, err := ocidir.EnsurePath("/path/to/ocidir")
//	if err != nil {
//		return err
//	}
//	defer d.Close()
//
//	lw, err := d.CreateLayer(layers.LayerConfig{})
//	if err != nil {
//		return err
//	}
//	defer lw.Close()
//	// stream a tarball into lw ...
//	layer, err := lw.Complete()
//	if err != nil {
//		return err
//	}
//
//	m := manifest.NewEmptyManifest()
//	config := manifest.NewImageConfig(platform)
//	if err := d.PushLayer(&m, &config, layer, "root", nil); err != nil {
//		return err
//	}
//	_, err = d.InsertManifestAndConfig(m, config, "latest", platform)
//
// # Concurrency
//
// Blob writers are independent of each other and may run concurrently on
// the same directory. Index updates are read-modify-write of the whole
// document without locking: concurrent InsertManifest calls on one
// directory can lose updates, so callers must serialize index mutation.
// Fsck may run alongside writers adding new blobs but not alongside
// anything replacing or deleting existing ones.
package ocidir
