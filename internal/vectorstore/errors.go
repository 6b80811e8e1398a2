package vectorstore

import "errors"

// Sentinel errors for vector store operations.
var (
	// ErrDimensionMismatch is returned when an embedding length differs from
	// the collection's fixed dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrNotFound is returned when a record id does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidVector is returned when an embedding contains NaN or Inf.
	ErrInvalidVector = errors.New("embedding contains NaN or Inf")

	// ErrClosed is returned when operating on a closed store.
	ErrClosed = errors.New("vector store closed")

	// ErrCorruptLog indicates a checksum mismatch while replaying the
	// write-ahead log. The store recovers the valid prefix; the caller must
	// treat the tail as lost and schedule an index rebuild.
	ErrCorruptLog = errors.New("write-ahead log corrupt")
)
