package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an operation references an unknown
	// upload id.
	ErrNotFound = errors.New("upload not found")

	// ErrInvalidState is returned for transitions the record does not
	// allow, such as declaring an upload length twice.
	ErrInvalidState = errors.New("invalid upload state")

	// ErrSizeExceeded is returned when an append would push the offset past
	// the declared upload length or the configured maximum size.
	ErrSizeExceeded = errors.New("upload size exceeded")
)

// ValidationError rejects a creation or concatenation request over missing
// or malformed metadata. It is a request-level failure, not retryable.
type ValidationError struct {
	Key    string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid upload metadata: %s %s", e.Key, e.Reason)
}

// StorageError wraps a failure of the backing database. It is always
// propagated; retry policy belongs to the caller.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IOError wraps a blob filesystem failure. The metadata record is left
// unmodified so the client can resume from the last recorded offset.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("blob %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}
