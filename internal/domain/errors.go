package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfiguration signals settings that would make an operation nonsensical.
	ErrInvalidConfiguration = errors.New("invalid configuration")
	// ErrInvalidArgument signals a bad call argument such as a non-positive top_k.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrDimensionMismatch signals a vector whose length disagrees with the index dimension.
	ErrDimensionMismatch = errors.New("dimension mismatch")
	// ErrStorageIO signals a failure reading or writing the persisted index.
	ErrStorageIO = errors.New("storage i/o error")
	// ErrEmbeddingFailure signals an embedder error or a malformed embedder response.
	ErrEmbeddingFailure = errors.New("embedding failure")
	// ErrIndexLocked signals that another process holds the index lock.
	ErrIndexLocked = errors.New("index locked by another process")
)

// DimensionMismatchError carries the expected and actual vector lengths.
type DimensionMismatchError struct {
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("%s: expected %d, got %d", ErrDimensionMismatch.Error(), e.Expected, e.Actual)
}

func (e *DimensionMismatchError) Unwrap() error { return ErrDimensionMismatch }

// NewDimensionMismatch creates a dimension mismatch error.
func NewDimensionMismatch(expected, actual int) error {
	return &DimensionMismatchError{Expected: expected, Actual: actual}
}

// StorageError describes a failed operation on a persisted artifact.
// It matches both ErrStorageIO and the underlying cause.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %s %s: %v", ErrStorageIO.Error(), e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() []error { return []error{ErrStorageIO, e.Err} }
