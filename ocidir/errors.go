package ocidir

import (
	ocierrors "github.com/bibin-skaria/ocidir/internal/errors"
)

// Error is the error type returned by this package and package layers.
type Error = ocierrors.Error

// Category sentinels, for use with errors.Is.
var (
	// ErrFormat: malformed digests, unsupported algorithms, bad JSON and
	// index shape violations.
	ErrFormat = ocierrors.ErrFormat
	// ErrIntegrity: a blob whose content does not match its name.
	ErrIntegrity = ocierrors.ErrIntegrity
	// ErrIO: failures of the underlying filesystem.
	ErrIO = ocierrors.ErrIO
	// ErrMisuse: writing to or completing an already completed writer.
	ErrMisuse = ocierrors.ErrMisuse
)
