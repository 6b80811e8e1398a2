package planner

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vectord/internal/index"
	"github.com/fyrsmithlabs/vectord/internal/tenant"
	"github.com/fyrsmithlabs/vectord/internal/vectorstore"
)

func newTestStore(t *testing.T, dim int) *vectorstore.Store {
	t.Helper()
	store, err := vectorstore.New(vectorstore.Config{
		Name:      "test",
		Dimension: dim,
		Dir:       t.TempDir(),
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func tenantCtx(id string) context.Context {
	return tenant.NewContext(context.Background(), &tenant.Info{TenantID: id})
}

func buildGeneration(t *testing.T, store *vectorstore.Store) *index.Generation {
	t.Helper()
	flat := index.NewFlat(store.Dimension(), index.MetricL2)
	require.NoError(t, flat.Build(context.Background(), store.LiveRecords()))
	return &index.Generation{ID: 1, Index: flat, CoveredVersion: store.CurrentVersion()}
}

type fakeLexical struct {
	hits []LexicalHit
	err  error
}

func (f *fakeLexical) Search(context.Context, string, string, int) ([]LexicalHit, error) {
	return f.hits, f.err
}

func TestSearchFailsClosedWithoutTenant(t *testing.T) {
	store := newTestStore(t, 2)
	p := New(store, index.MetricL2, nil, Config{}, nil)

	_, err := p.Search(context.Background(), buildGeneration(t, store), Query{
		Embedding: []float32{1, 2}, K: 5,
	})
	require.ErrorIs(t, err, tenant.ErrMissingTenant)
}

func TestSearchQueryDimensionMismatch(t *testing.T) {
	store := newTestStore(t, 4)
	p := New(store, index.MetricL2, nil, Config{}, nil)

	_, err := p.Search(tenantCtx("acme"), buildGeneration(t, store), Query{
		Embedding: []float32{1, 2}, K: 5,
	})
	require.ErrorIs(t, err, ErrQueryDimensionMismatch)
}

func TestSearchEmptyCollection(t *testing.T) {
	store := newTestStore(t, 2)
	p := New(store, index.MetricL2, nil, Config{}, nil)

	got, err := p.Search(tenantCtx("acme"), buildGeneration(t, store), Query{
		Embedding: []float32{1, 2}, K: 5,
	})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSearchInvalidFilter(t *testing.T) {
	store := newTestStore(t, 2)
	_, _, err := store.Insert(context.Background(), "acme", []float32{1, 0}, nil)
	require.NoError(t, err)
	p := New(store, index.MetricL2, nil, Config{}, nil)

	_, err = p.Search(tenantCtx("acme"), buildGeneration(t, store), Query{
		Embedding: []float32{1, 0}, K: 5,
		Filter:    map[string]string{"": "x"},
	})
	require.ErrorIs(t, err, ErrInvalidFilter)
}

func TestSearchTenantIsolationOnSharedIndex(t *testing.T) {
	store := newTestStore(t, 2)
	ctx := context.Background()

	acmeID, _, err := store.Insert(ctx, "acme", []float32{1, 0}, nil)
	require.NoError(t, err)
	_, _, err = store.Insert(ctx, "globex", []float32{1, 0.01}, nil)
	require.NoError(t, err)
	_, _, err = store.Insert(ctx, "globex", []float32{0.9, 0}, nil)
	require.NoError(t, err)

	p := New(store, index.MetricL2, nil, Config{}, nil)
	gen := buildGeneration(t, store)

	got, err := p.Search(tenantCtx("acme"), gen, Query{
		Embedding: []float32{1, 0}, K: 10,
	})
	require.NoError(t, err)
	require.Len(t, got, 1, "globex rows share the index but must not surface")
	assert.Equal(t, acmeID, got[0].ID)
}

func TestSearchExcludesTombstones(t *testing.T) {
	store := newTestStore(t, 4)
	ctx := context.Background()

	var ids []uint64
	for _, v := range [][]float32{
		{0, 0, 0, 0},
		{1, 0, 0, 0},
		{5, 5, 5, 5},
	} {
		id, _, err := store.Insert(ctx, "acme", v, nil)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	p := New(store, index.MetricL2, nil, Config{}, nil)
	gen := buildGeneration(t, store)

	got, err := p.Search(tenantCtx("acme"), gen, Query{
		Embedding: []float32{0.9, 0, 0, 0}, K: 2,
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, ids[1], got[0].ID)
	assert.Equal(t, ids[0], got[1].ID)

	// Tombstoned ids vanish from results without a rebuild.
	require.NoError(t, store.Delete(ctx, ids[1]))
	got, err = p.Search(tenantCtx("acme"), gen, Query{
		Embedding: []float32{0.9, 0, 0, 0}, K: 2,
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, ids[0], got[0].ID)
	assert.Equal(t, ids[2], got[1].ID)
}

func TestSearchSelectiveFilterExactScan(t *testing.T) {
	store := newTestStore(t, 2)
	ctx := context.Background()

	var wantID uint64
	for i := 0; i < 100; i++ {
		payload := map[string]any{"category": "common"}
		if i == 42 {
			payload = map[string]any{"category": "rare"}
		}
		id, _, err := store.Insert(ctx, "acme", []float32{float32(i), 0}, payload)
		require.NoError(t, err)
		if i == 42 {
			wantID = id
		}
	}

	p := New(store, index.MetricL2, nil, Config{SelectivityRatio: 0.05}, nil)
	gen := buildGeneration(t, store)

	got, err := p.Search(tenantCtx("acme"), gen, Query{
		Embedding: []float32{0, 0}, K: 5,
		Filter:    map[string]string{"category": "rare"},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, wantID, got[0].ID)
	assert.Equal(t, "rare", got[0].Payload["category"])
}

func TestSearchBroadFilterDuringIndexSearch(t *testing.T) {
	store := newTestStore(t, 2)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		category := "even"
		if i%2 == 1 {
			category = "odd"
		}
		_, _, err := store.Insert(ctx, "acme", []float32{float32(i), 0},
			map[string]any{"category": category})
		require.NoError(t, err)
	}

	// Half the rows match, well above the ratio, so the plan filters during
	// index search rather than scanning.
	p := New(store, index.MetricL2, nil, Config{SelectivityRatio: 0.05}, nil)
	gen := buildGeneration(t, store)

	got, err := p.Search(tenantCtx("acme"), gen, Query{
		Embedding: []float32{0, 0}, K: 5,
		Filter:    map[string]string{"category": "odd"},
	})
	require.NoError(t, err)
	require.Len(t, got, 5)
	for _, r := range got {
		assert.Equal(t, "odd", r.Payload["category"])
	}
}

func TestSearchFusesLexicalHits(t *testing.T) {
	store := newTestStore(t, 2)
	ctx := context.Background()

	id1, _, err := store.Insert(ctx, "acme", []float32{1, 0}, map[string]any{"text": "alpha"})
	require.NoError(t, err)
	id2, _, err := store.Insert(ctx, "acme", []float32{0.9, 0}, map[string]any{"text": "beta"})
	require.NoError(t, err)
	id3, _, err := store.Insert(ctx, "acme", []float32{0, 5}, map[string]any{"text": "gamma"})
	require.NoError(t, err)

	// The lexical leg strongly prefers the vector-distant id3.
	lex := &fakeLexical{hits: []LexicalHit{{ID: id3, Score: 10}, {ID: id2, Score: 1}}}
	p := New(store, index.MetricL2, lex, Config{}, nil)
	gen := buildGeneration(t, store)

	got, err := p.Search(tenantCtx("acme"), gen, Query{
		Embedding: []float32{1, 0}, K: 3, Text: "gamma",
	})
	require.NoError(t, err)
	require.Len(t, got, 3)

	// id2 ranks in both legs, so fusion puts it first; the other two appear
	// once each.
	assert.Equal(t, id2, got[0].ID)
	rest := []uint64{got[1].ID, got[2].ID}
	assert.Contains(t, rest, id1)
	assert.Contains(t, rest, id3)
}

func TestSearchTombstoneExclusionRandomized(t *testing.T) {
	const (
		dim   = 4
		steps = 400
		seed  = 42
	)
	variants := []struct {
		name  string
		build func() index.Index
	}{
		{"flat", func() index.Index { return index.NewFlat(dim, index.MetricL2) }},
		{"ivf", func() index.Index { return index.NewIVF(dim, index.MetricL2, index.Params{Nlist: 4, Nprobe: 4}) }},
		{"hnsw", func() index.Index { return index.NewHNSW(dim, index.MetricL2, index.Params{}) }},
	}
	for _, v := range variants {
		t.Run(v.name, func(t *testing.T) {
			rng := rand.New(rand.NewSource(seed))
			store := newTestStore(t, dim)
			ctx := context.Background()
			p := New(store, index.MetricL2, nil, Config{}, nil)

			randVec := func() []float32 {
				vec := make([]float32, dim)
				for i := range vec {
					vec[i] = rng.Float32()
				}
				return vec
			}
			genID := uint64(0)
			rebuild := func() *index.Generation {
				genID++
				idx := v.build()
				require.NoError(t, idx.Build(ctx, store.LiveRecords()))
				return &index.Generation{ID: genID, Index: idx, CoveredVersion: store.CurrentVersion()}
			}

			live := make(map[uint64]bool)
			var ids []uint64
			gen := rebuild()

			// Random interleaving of inserts, deletes, rebuilds, and
			// queries. The invariant under test: no query, against any
			// generation, ever surfaces a tombstoned id. Deletes landing
			// after a rebuild are the interesting case, since the built
			// structure still holds those vectors.
			for step := 0; step < steps; step++ {
				switch op := rng.Intn(10); {
				case op < 4:
					id, _, err := store.Insert(ctx, "acme", randVec(), nil)
					require.NoError(t, err)
					live[id] = true
					ids = append(ids, id)
				case op < 6:
					if len(ids) == 0 {
						continue
					}
					id := ids[rng.Intn(len(ids))]
					if !live[id] {
						continue
					}
					require.NoError(t, store.Delete(ctx, id))
					delete(live, id)
				case op < 7:
					gen = rebuild()
				default:
					got, err := p.Search(tenantCtx("acme"), gen, Query{
						Embedding: randVec(), K: 1 + rng.Intn(8),
					})
					require.NoError(t, err)
					for _, r := range got {
						assert.True(t, live[r.ID],
							"step %d: tombstoned id %d surfaced", step, r.ID)
					}
				}
			}

			got, err := p.Search(tenantCtx("acme"), gen, Query{Embedding: randVec(), K: len(ids)})
			require.NoError(t, err)
			for _, r := range got {
				assert.True(t, live[r.ID], "tombstoned id %d surfaced in final query", r.ID)
			}
		})
	}
}

func TestSearchLexicalFailureDegradesToVectorOnly(t *testing.T) {
	store := newTestStore(t, 2)
	ctx := context.Background()

	id1, _, err := store.Insert(ctx, "acme", []float32{1, 0}, nil)
	require.NoError(t, err)

	lex := &fakeLexical{err: assert.AnError}
	p := New(store, index.MetricL2, lex, Config{}, nil)

	got, err := p.Search(tenantCtx("acme"), buildGeneration(t, store), Query{
		Embedding: []float32{1, 0}, K: 1, Text: "anything",
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, id1, got[0].ID)
}

func TestSearchZeroK(t *testing.T) {
	store := newTestStore(t, 2)
	_, _, err := store.Insert(context.Background(), "acme", []float32{1, 0}, nil)
	require.NoError(t, err)
	p := New(store, index.MetricL2, nil, Config{}, nil)

	got, err := p.Search(tenantCtx("acme"), buildGeneration(t, store), Query{
		Embedding: []float32{1, 0}, K: 0,
	})
	require.NoError(t, err)
	assert.Empty(t, got)
}
