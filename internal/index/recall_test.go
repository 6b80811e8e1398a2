package index

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/vectord/internal/vectorstore"
)

// randomRecords generates a deterministic clustered dataset.
func randomRecords(t *testing.T, n, dim int, seed int64) []vectorstore.Record {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	recs := make([]vectorstore.Record, n)
	for i := range recs {
		vec := make([]float32, dim)
		// Cluster around one of 8 anchors to give k-means structure.
		anchor := float32(rng.Intn(8)) * 10
		for d := range vec {
			vec[d] = anchor + float32(rng.NormFloat64())
		}
		recs[i] = vectorstore.Record{ID: uint64(i + 1), Embedding: vec, Version: uint64(i + 1)}
	}
	return recs
}

// recallAgainstExact returns the fraction of true top-k ids the approximate
// index recovered, averaged over queries.
func recallAgainstExact(t *testing.T, approx Index, records []vectorstore.Record, queries [][]float32, k int) float64 {
	t.Helper()
	exact := NewFlat(len(records[0].Embedding), MetricL2)
	require.NoError(t, exact.Build(context.Background(), records))

	var hits, total int
	for _, q := range queries {
		want, err := exact.Search(context.Background(), q, k, nil)
		require.NoError(t, err)
		got, err := approx.Search(context.Background(), q, k, nil)
		require.NoError(t, err)

		truth := make(map[uint64]bool, len(want))
		for _, c := range want {
			truth[c.ID] = true
		}
		for _, c := range got {
			if truth[c.ID] {
				hits++
			}
		}
		total += len(want)
	}
	return float64(hits) / float64(total)
}

func testQueries(n, dim int, seed int64) [][]float32 {
	rng := rand.New(rand.NewSource(seed))
	queries := make([][]float32, n)
	for i := range queries {
		q := make([]float32, dim)
		anchor := float32(rng.Intn(8)) * 10
		for d := range q {
			q[d] = anchor + float32(rng.NormFloat64())
		}
		queries[i] = q
	}
	return queries
}
