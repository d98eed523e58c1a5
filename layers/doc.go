// Package layers writes content-addressed blobs and compressed layer blobs
// into an OCI image layout directory.
//
// # Blobs
//
// A BlobWriter stages bytes in a temporary file while hashing them. Only
// Complete picks the final name, blobs/sha256/<digest>, and publishes the
// file with an atomic rename, so a blob is never visible under a name that
// does not match its content:
//
//	w, err := layers.NewBlobWriter(dir)
//	if err != nil {
//		return err
//	}
//	defer w.Close()
//	if _, err := w.Write(data); err != nil {
//		return err
//	}
//	blob, err := w.Complete()
//
// # Layers
//
// A LayerWriter wraps a BlobWriter with a streaming compressor (gzip by
// default, zstd or none) and a second digest over the uncompressed input.
// The resulting Layer carries both the stored blob and the diff id:
//
//	lw, err := layers.NewLayerWriter(dir, layers.LayerConfig{})
//	if err != nil {
//		return err
//	}
//	defer lw.Close()
//	if err := layers.WriteDirectory(lw, "/path/to/rootfs", layers.DefaultTarOptions()); err != nil {
//		return err
//	}
//	layer, err := lw.Complete()
//
// # Thread Safety
//
// Writers are not thread-safe; each is owned by the goroutine using it.
// Separate writers on the same directory do not interfere with each other.
package layers
