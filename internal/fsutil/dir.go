// Package fsutil provides a directory handle whose operations cannot escape
// the directory it was opened on, plus the staging primitives (temporary
// files published by rename) that the OCI directory code builds on.
//
// All paths accepted by Dir are relative to the directory root. Absolute
// paths, ".." components escaping the root and symlinks pointing outside of
// it are rejected by the underlying os.Root.
package fsutil

import (
	"errors"
	"io/fs"
	"os"
)

// Dir is an open directory. It is safe for concurrent use.
type Dir struct {
	root *os.Root
}

// OpenDir opens an existing directory on the host filesystem.
func OpenDir(path string) (*Dir, error) {
	root, err := os.OpenRoot(path)
	if err != nil {
		return nil, err
	}
	return &Dir{root: root}, nil
}

// Name returns the name the directory was opened with.
func (d *Dir) Name() string {
	return d.root.Name()
}

// Close releases the directory handle. Files already opened through it stay valid.
func (d *Dir) Close() error {
	return d.root.Close()
}

// OpenDir opens a subdirectory as a new Dir rooted there.
func (d *Dir) OpenDir(name string) (*Dir, error) {
	root, err := d.root.OpenRoot(name)
	if err != nil {
		return nil, err
	}
	return &Dir{root: root}, nil
}

// Open opens a file for reading.
func (d *Dir) Open(name string) (*os.File, error) {
	return d.root.Open(name)
}

// OpenOptional is like Open but returns a nil file and a nil error when name
// does not exist.
func (d *Dir) OpenOptional(name string) (*os.File, error) {
	f, err := d.root.Open(name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// OpenFile is the generalized open call, see os.OpenFile.
func (d *Dir) OpenFile(name string, flag int, perm fs.FileMode) (*os.File, error) {
	return d.root.OpenFile(name, flag, perm)
}

// Exists reports whether name exists. A dangling symlink counts as existing.
func (d *Dir) Exists(name string) (bool, error) {
	_, err := d.root.Lstat(name)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Stat returns file info for name, following symlinks inside the root.
func (d *Dir) Stat(name string) (fs.FileInfo, error) {
	return d.root.Stat(name)
}

// Mkdir creates a single directory.
func (d *Dir) Mkdir(name string, perm fs.FileMode) error {
	return d.root.Mkdir(name, perm)
}

// EnsureDirAll creates name and any missing parents. Existing directories
// are left untouched.
func (d *Dir) EnsureDirAll(name string, perm fs.FileMode) error {
	return d.root.MkdirAll(name, perm)
}

// ReadDir lists the entries of a directory sorted by filename.
func (d *Dir) ReadDir(name string) ([]fs.DirEntry, error) {
	return fs.ReadDir(d.root.FS(), name)
}

// Remove removes a file or an empty directory.
func (d *Dir) Remove(name string) error {
	return d.root.Remove(name)
}

// Rename renames oldname to newname, replacing newname if it exists.
func (d *Dir) Rename(oldname, newname string) error {
	return d.root.Rename(oldname, newname)
}
