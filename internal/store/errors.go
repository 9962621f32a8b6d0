package store

import (
	"errors"
	"fmt"
)

var (
	// ErrIO wraps every failure to read or write a persisted file.
	ErrIO = errors.New("store: i/o error")

	ErrWrongPassphrase    = errors.New("store: wrong passphrase or corrupted key file")
	ErrIdentityExists     = errors.New("store: identity already exists")
	ErrUnknownFingerprint = errors.New("store: unknown fingerprint")
)

// ParseError reports a persisted file whose content could not be decoded or
// failed validation.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("store: parse %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

func ioError(op, path string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", ErrIO, op, path, err)
}
