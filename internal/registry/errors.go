package registry

import "errors"

var (
	ErrNotFound = errors.New("pending call not found")
	ErrExists   = errors.New("pending call already tracked")

	// ErrSkip is returned from an update function to leave the entry
	// untouched without treating it as a failure.
	ErrSkip = errors.New("update skipped")
)
