// Package index implements the interchangeable ANN engines: Flat (exact),
// IVF (clustered), and HNSW (graph-based), behind one uniform interface.
//
// The variant set is closed and fixed at collection-creation time. Every
// variant excludes tombstoned and out-of-scope ids through the Filter the
// caller supplies, independent of its own internal structure, so deletes
// never require a rebuild.
package index

import (
	"context"
	"errors"

	"github.com/fyrsmithlabs/vectord/internal/vectorstore"
)

// Sentinel errors for index operations.
var (
	// ErrNotSupported is returned by Insert on variants that only support
	// batch builds (IVF).
	ErrNotSupported = errors.New("operation not supported by index variant")

	// ErrDimensionMismatch is returned when a vector's length differs from
	// the index dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrMemoryLimit is returned when a build would exceed the configured
	// memory budget. The manager degrades to an exact search subset.
	ErrMemoryLimit = errors.New("index memory limit exceeded")

	// ErrNotTrained is returned when searching an IVF index before Build.
	ErrNotTrained = errors.New("index not trained")
)

// Variant identifies an index strategy.
type Variant string

const (
	// VariantFlat performs exhaustive exact search, O(N*D) per query.
	VariantFlat Variant = "flat"
	// VariantIVF partitions vectors into nlist clusters and probes the
	// nprobe nearest at query time.
	VariantIVF Variant = "ivf"
	// VariantHNSW searches a multi-layer proximity graph.
	VariantHNSW Variant = "hnsw"
)

// Valid reports whether v is a recognized variant.
func (v Variant) Valid() bool {
	switch v {
	case VariantFlat, VariantIVF, VariantHNSW:
		return true
	}
	return false
}

// Params holds variant-specific tuning knobs.
type Params struct {
	// Nlist is the IVF centroid count.
	Nlist int
	// Nprobe is the number of IVF clusters visited per query. Lower trades
	// recall for speed.
	Nprobe int
	// M is the HNSW per-layer out-degree (layer 0 allows 2*M).
	M int
	// EfConstruction is the HNSW build-time candidate frontier size.
	EfConstruction int
	// EfSearch is the HNSW query-time candidate frontier size.
	EfSearch int
	// MemoryLimitBytes bounds a build's estimated footprint. Zero means
	// unlimited.
	MemoryLimitBytes int64
}

// WithDefaults fills unset parameters with documented defaults.
func (p Params) WithDefaults() Params {
	if p.Nlist <= 0 {
		p.Nlist = 64
	}
	if p.Nprobe <= 0 {
		p.Nprobe = 8
	}
	if p.M <= 0 {
		p.M = 16
	}
	if p.EfConstruction <= 0 {
		p.EfConstruction = 200
	}
	if p.EfSearch <= 0 {
		p.EfSearch = 64
	}
	return p
}

// Candidate is one ranked search hit: smaller distance is better.
type Candidate struct {
	ID       uint64
	Distance float32
}

// Filter admits ids into a result set. Implementations compose the live-id
// bitmap, the tenant scope, and any metadata predicate. A nil Filter admits
// everything.
type Filter func(id uint64) bool

// Index is the uniform contract over the closed variant set.
//
// Search results are ranked by ascending distance with ties broken by lower
// id, and never include ids the filter rejects. Implementations must honor
// context cancellation at safe checkpoints (between rows, clusters, or graph
// nodes) and return ctx.Err() rather than partial results.
type Index interface {
	// Build constructs the index from scratch over records.
	Build(ctx context.Context, records []vectorstore.Record) error

	// Insert adds a single record where the variant supports incremental
	// maintenance; batch-only variants return ErrNotSupported.
	Insert(rec vectorstore.Record) error

	// Search returns up to k candidates passing the filter.
	Search(ctx context.Context, query []float32, k int, filter Filter) ([]Candidate, error)

	// Size returns the number of indexed vectors.
	Size() int

	// MemoryEstimate returns the approximate resident bytes.
	MemoryEstimate() int64

	// Variant identifies the strategy.
	Variant() Variant
}

// New constructs an index of the given variant.
func New(v Variant, dim int, metric Metric, params Params) (Index, error) {
	params = params.WithDefaults()
	switch v {
	case VariantFlat:
		return NewFlat(dim, metric), nil
	case VariantIVF:
		return NewIVF(dim, metric, params), nil
	case VariantHNSW:
		return NewHNSW(dim, metric, params), nil
	default:
		return nil, errors.New("unknown index variant: " + string(v))
	}
}
