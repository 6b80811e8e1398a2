package index

import "time"

// Generation is an immutable published snapshot of an index.
//
// Readers obtain a generation through an atomically-swapped pointer and use
// it for the whole query; a rebuild publishes a new generation rather than
// mutating this one. The one sanctioned exception is HNSW incremental
// maintenance, which the variant serializes internally, so a concurrent
// search still observes a consistent graph.
type Generation struct {
	// ID increases monotonically per collection with every publish.
	ID uint64

	// Index is the built structure serving this generation.
	Index Index

	// CoveredVersion is the store version the build observed. Staleness is
	// the gap between this and the store's current version.
	CoveredVersion uint64

	// CreatedAt is the publish time.
	CreatedAt time.Time
}
