package fsutil

import (
	"bufio"
	"errors"
	"io"
	"os"

	"github.com/google/uuid"
)

// TempPrefix is the filename prefix of staging files. Staged files live in
// the root of the Dir that created them until they are renamed into place.
const TempPrefix = ".tmp-"

var errTempFileDone = errors.New("temporary file already renamed or discarded")

// TempFile is an anonymous staging file. Its content becomes visible under a
// real name only through RenameTo; Discard removes it.
type TempFile struct {
	dir  *Dir
	name string
	file *os.File
	done bool
}

// CreateTemp creates a new uniquely named staging file in the root of d.
func (d *Dir) CreateTemp() (*TempFile, error) {
	name := TempPrefix + uuid.NewString()
	f, err := d.root.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, err
	}
	return &TempFile{dir: d, name: name, file: f}, nil
}

// File returns the underlying file.
func (t *TempFile) File() *os.File {
	return t.file
}

// Name returns the staging name relative to the owning Dir.
func (t *TempFile) Name() string {
	return t.name
}

func (t *TempFile) Write(p []byte) (int, error) {
	if t.done {
		return 0, errTempFileDone
	}
	return t.file.Write(p)
}

// RenameTo syncs and closes the file, then atomically publishes it as dest,
// replacing any existing file of that name. On failure the staging file is
// removed.
func (t *TempFile) RenameTo(dest string) error {
	if t.done {
		return errTempFileDone
	}
	t.done = true
	if err := t.file.Sync(); err != nil {
		t.file.Close()
		t.dir.root.Remove(t.name)
		return err
	}
	if err := t.file.Close(); err != nil {
		t.dir.root.Remove(t.name)
		return err
	}
	if err := t.dir.root.Rename(t.name, dest); err != nil {
		t.dir.root.Remove(t.name)
		return err
	}
	return nil
}

// Discard closes and removes the staging file. It is a no-op after RenameTo
// or a previous Discard.
func (t *TempFile) Discard() error {
	if t.done {
		return nil
	}
	t.done = true
	cerr := t.file.Close()
	if err := t.dir.root.Remove(t.name); err != nil {
		return err
	}
	return cerr
}

// AtomicReplaceWith stages the output of fn in a temporary file and renames
// it over name once fn returns successfully. Readers observe either the old
// content or the complete new content.
func (d *Dir) AtomicReplaceWith(name string, fn func(w io.Writer) error) error {
	t, err := d.CreateTemp()
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(t.file)
	if err := fn(bw); err != nil {
		t.Discard()
		return err
	}
	if err := bw.Flush(); err != nil {
		t.Discard()
		return err
	}
	return t.RenameTo(name)
}

// AtomicWrite atomically replaces name with data.
func (d *Dir) AtomicWrite(name string, data []byte) error {
	return d.AtomicReplaceWith(name, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}
