//go:build !linux

package fsutil

import (
	"errors"
	"os"
)

func reflink(dst, src *os.File) error {
	return errors.ErrUnsupported
}
