package fsutil

import (
	"io"
)

// CopyFile duplicates srcName from src into dstName in dst. The copy is
// staged and renamed into place. Where the filesystem supports it the data
// is shared copy-on-write (a reflink); otherwise the bytes are copied. In
// both cases the result is an independent file.
func CopyFile(src *Dir, srcName string, dst *Dir, dstName string) (reflinked bool, err error) {
	in, err := src.Open(srcName)
	if err != nil {
		return false, err
	}
	defer in.Close()

	t, err := dst.CreateTemp()
	if err != nil {
		return false, err
	}
	if err := reflink(t.file, in); err == nil {
		reflinked = true
	} else if _, err := io.Copy(t.file, in); err != nil {
		t.Discard()
		return false, err
	}
	if err := t.RenameTo(dstName); err != nil {
		return false, err
	}
	return reflinked, nil
}
