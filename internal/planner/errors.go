package planner

import "errors"

// Sentinel errors for query planning.
var (
	// ErrQueryDimensionMismatch is returned when the query embedding's
	// length differs from the collection dimension.
	ErrQueryDimensionMismatch = errors.New("query dimension mismatch")

	// ErrInvalidFilter is returned for malformed metadata filters.
	ErrInvalidFilter = errors.New("invalid metadata filter")

	// ErrTimeout is returned when the query deadline expires before the
	// plan completes. Partial results are never returned; the caller may
	// retry with a longer deadline.
	ErrTimeout = errors.New("query deadline exceeded")
)
