package apperr

import "errors"

var (
	// ErrNotFound is a generic sentinel for missing resources.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput is a generic sentinel for rejected input.
	ErrInvalidInput = errors.New("invalid input")
	// ErrStoreFailure marks a transactional store error; callers may retry
	// the whole operation.
	ErrStoreFailure = errors.New("store failure")
	// ErrDuplicateRun marks an upload whose run already exists.
	ErrDuplicateRun = errors.New("duplicate run")
)
