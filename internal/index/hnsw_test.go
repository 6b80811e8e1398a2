package index

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/vectord/internal/vectorstore"
)

func TestHNSWSmallDataset(t *testing.T) {
	ix := NewHNSW(4, MetricL2, Params{})
	require.NoError(t, ix.Build(context.Background(), []vectorstore.Record{
		{ID: 1, Embedding: []float32{0, 0, 0, 0}},
		{ID: 2, Embedding: []float32{1, 0, 0, 0}},
		{ID: 3, Embedding: []float32{5, 5, 5, 5}},
	}))

	got, err := ix.Search(context.Background(), []float32{0.9, 0, 0, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(2), got[0].ID)
	assert.InDelta(t, 0.01, got[0].Distance, 1e-5)
	assert.Equal(t, uint64(1), got[1].ID)
	assert.InDelta(t, 0.81, got[1].Distance, 1e-5)
}

func TestHNSWEmpty(t *testing.T) {
	ix := NewHNSW(4, MetricL2, Params{})
	got, err := ix.Search(context.Background(), []float32{1, 2, 3, 4}, 5, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestHNSWRecallMonotoneInEfSearch(t *testing.T) {
	records := randomRecords(t, 200, 8, 11)
	queries := testQueries(20, 8, 12)

	var last float64
	for _, ef := range []int{10, 50, 200} {
		ix := NewHNSW(8, MetricL2, Params{M: 16, EfConstruction: 200, EfSearch: ef})
		require.NoError(t, ix.Build(context.Background(), records))
		recall := recallAgainstExact(t, ix, records, queries, 10)
		assert.GreaterOrEqual(t, recall, last,
			"recall must not decrease when efSearch grows (efSearch=%d)", ef)
		last = recall
	}
	// With efSearch covering the whole graph the frontier visits every
	// reachable node, so recall is exact on a connected graph.
	assert.Equal(t, 1.0, last)
}

func TestHNSWFilterExcludesTombstoned(t *testing.T) {
	records := randomRecords(t, 150, 4, 13)
	ix := NewHNSW(4, MetricL2, Params{M: 16, EfSearch: 150})
	require.NoError(t, ix.Build(context.Background(), records))

	banned := map[uint64]bool{2: true, 75: true, 150: true}
	filter := Filter(func(id uint64) bool { return !banned[id] })

	for _, q := range testQueries(5, 4, 14) {
		got, err := ix.Search(context.Background(), q, 140, filter)
		require.NoError(t, err)
		for _, c := range got {
			assert.False(t, banned[c.ID], "filtered id %d surfaced", c.ID)
		}
	}
}

func TestHNSWIncrementalInsert(t *testing.T) {
	records := randomRecords(t, 100, 4, 15)
	ix := NewHNSW(4, MetricL2, Params{M: 16, EfSearch: 100})
	require.NoError(t, ix.Build(context.Background(), records))

	added := vectorstore.Record{ID: 9999, Embedding: []float32{-40, -40, -40, -40}}
	require.NoError(t, ix.Insert(added))
	assert.Equal(t, 101, ix.Size())

	got, err := ix.Search(context.Background(), []float32{-40, -40, -40, -40}, 1, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(9999), got[0].ID)
}

func TestHNSWDuplicateInsertIsNoop(t *testing.T) {
	ix := NewHNSW(2, MetricL2, Params{})
	rec := vectorstore.Record{ID: 7, Embedding: []float32{1, 2}}
	require.NoError(t, ix.Insert(rec))
	require.NoError(t, ix.Insert(rec))
	assert.Equal(t, 1, ix.Size())
}

func TestHNSWDimensionMismatch(t *testing.T) {
	ix := NewHNSW(4, MetricL2, Params{})
	err := ix.Insert(vectorstore.Record{ID: 1, Embedding: []float32{1, 2}})
	require.ErrorIs(t, err, ErrDimensionMismatch)

	require.NoError(t, ix.Insert(vectorstore.Record{ID: 2, Embedding: []float32{1, 2, 3, 4}}))
	_, err = ix.Search(context.Background(), []float32{1}, 1, nil)
	require.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestHNSWMemoryLimit(t *testing.T) {
	records := randomRecords(t, 1000, 16, 16)
	ix := NewHNSW(16, MetricL2, Params{M: 16, MemoryLimitBytes: 2048})
	err := ix.Build(context.Background(), records)
	require.ErrorIs(t, err, ErrMemoryLimit)
}

func TestHNSWDeadlineExceeded(t *testing.T) {
	records := randomRecords(t, 500, 8, 17)
	ix := NewHNSW(8, MetricL2, Params{M: 16, EfSearch: 500})
	require.NoError(t, ix.Build(context.Background(), records))

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	_, err := ix.Search(ctx, records[0].Embedding, 10, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
