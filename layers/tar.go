package layers

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// TarOptions controls how WriteDirectory renders a directory tree.
type TarOptions struct {
	// Timestamp, when set, replaces every entry's modification time so that
	// identical trees produce identical layers.
	Timestamp *time.Time
	// UID and GID, when non-negative, override entry ownership.
	UID int
	GID int
}

// DefaultTarOptions keeps the filesystem's ownership and timestamps.
func DefaultTarOptions() TarOptions {
	return TarOptions{UID: -1, GID: -1}
}

// WriteDirectory writes the tree rooted at root as a tar stream to w, in
// lexical path order. The tar trailer is written but w is not closed; w is
// typically a LayerWriter.
func WriteDirectory(w io.Writer, root string, opts TarOptions) error {
	tw := tar.NewWriter(w)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return addEntryToTar(tw, path, filepath.ToSlash(rel), info, opts)
	})
	if err != nil {
		return fmt.Errorf("writing %s as tar: %w", root, err)
	}
	return tw.Close()
}

func addEntryToTar(tw *tar.Writer, path, name string, info fs.FileInfo, opts TarOptions) error {
	var linkname string
	mode := info.Mode()
	switch {
	case mode.IsDir(), mode.IsRegular():
	case mode&os.ModeSymlink != 0:
		target, err := os.Readlink(path)
		if err != nil {
			return err
		}
		linkname = target
	default:
		return fmt.Errorf("unsupported file mode %v for %s", mode, name)
	}

	header, err := tar.FileInfoHeader(info, linkname)
	if err != nil {
		return err
	}
	header.Name = name
	if mode.IsDir() {
		header.Name += "/"
	}
	header.Mode = int64(mode.Perm())
	header.Uname, header.Gname = "", ""
	if opts.Timestamp != nil {
		header.ModTime = *opts.Timestamp
		header.AccessTime = time.Time{}
		header.ChangeTime = time.Time{}
	}
	if opts.UID >= 0 {
		header.Uid = opts.UID
	}
	if opts.GID >= 0 {
		header.Gid = opts.GID
	}
	// PAX records would embed atime/ctime; keep the plain format.
	header.Format = tar.FormatUnknown
	header.PAXRecords = nil

	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	if !mode.IsRegular() {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	written, err := io.Copy(tw, f)
	if err != nil {
		return err
	}
	if written != header.Size {
		return fmt.Errorf("size mismatch for %s: expected %d bytes, wrote %d bytes", name, header.Size, written)
	}
	return nil
}
