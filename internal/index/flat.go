package index

import (
	"context"
	"fmt"
	"sync"

	"github.com/fyrsmithlabs/vectord/internal/vectorstore"
)

// flatCheckpointRows is how many rows a Flat scan covers between context
// deadline checks.
const flatCheckpointRows = 1024

// Flat is the exact brute-force index: every query scans all vectors.
//
// Used below the size threshold where exact recall is required, and as the
// reference the approximate variants are tested against. Recall is 1.0 by
// construction.
type Flat struct {
	mu     sync.RWMutex
	dim    int
	metric Metric
	ids    []uint64
	vecs   [][]float32
}

// NewFlat creates an empty Flat index.
func NewFlat(dim int, metric Metric) *Flat {
	return &Flat{dim: dim, metric: metric}
}

// Build replaces the index contents with records.
func (f *Flat) Build(ctx context.Context, records []vectorstore.Record) error {
	ids := make([]uint64, 0, len(records))
	vecs := make([][]float32, 0, len(records))
	for i, rec := range records {
		if len(rec.Embedding) != f.dim {
			return fmt.Errorf("%w: record %d has dim %d, want %d", ErrDimensionMismatch, rec.ID, len(rec.Embedding), f.dim)
		}
		ids = append(ids, rec.ID)
		vecs = append(vecs, rec.Embedding)
		if i%flatCheckpointRows == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
	}

	f.mu.Lock()
	f.ids = ids
	f.vecs = vecs
	f.mu.Unlock()
	return nil
}

// Insert appends a single vector.
func (f *Flat) Insert(rec vectorstore.Record) error {
	if len(rec.Embedding) != f.dim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(rec.Embedding), f.dim)
	}
	f.mu.Lock()
	f.ids = append(f.ids, rec.ID)
	f.vecs = append(f.vecs, rec.Embedding)
	f.mu.Unlock()
	return nil
}

// Search scans every vector, admitting only ids the filter accepts.
func (f *Flat) Search(ctx context.Context, query []float32, k int, filter Filter) ([]Candidate, error) {
	if len(query) != f.dim {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(query), f.dim)
	}
	if k <= 0 {
		return nil, nil
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	best := newTopK(k)
	for i := range f.vecs {
		if i%flatCheckpointRows == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		id := f.ids[i]
		if filter != nil && !filter(id) {
			continue
		}
		best.add(Candidate{ID: id, Distance: f.metric.Distance(query, f.vecs[i])})
	}
	return best.sorted(), nil
}

// Size returns the number of indexed vectors.
func (f *Flat) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.ids)
}

// MemoryEstimate approximates resident bytes: one float32 row plus id per
// vector.
func (f *Flat) MemoryEstimate() int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return int64(len(f.ids)) * int64(4*f.dim+8)
}

// Variant returns VariantFlat.
func (f *Flat) Variant() Variant { return VariantFlat }

var _ Index = (*Flat)(nil)
