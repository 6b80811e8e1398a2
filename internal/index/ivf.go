package index

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"

	"github.com/fyrsmithlabs/vectord/internal/vectorstore"
)

const (
	// kmeansMaxIterations bounds training time; assignments converge well
	// before this on realistic data.
	kmeansMaxIterations = 25

	// kmeansSamplePerCentroid caps the training sample at this many vectors
	// per centroid.
	kmeansSamplePerCentroid = 256

	// kmeansSeed keeps training deterministic for a fixed input set.
	kmeansSeed = 0x5eed
)

// IVF is the inverted-file index: vectors are partitioned into nlist
// clusters by k-means, and a query visits only the nprobe nearest clusters,
// reducing cost to roughly O((N/nlist)*nprobe*D).
//
// Training is batch-oriented, so Insert is not supported; the index manager
// buffers new records until the next rebuild.
type IVF struct {
	mu     sync.RWMutex
	dim    int
	metric Metric
	params Params

	centroids [][]float32
	lists     [][]ivfEntry
	size      int

	// trainedMeanDist is the mean vector-to-centroid distance observed at
	// build time, the baseline for drift detection.
	trainedMeanDist float64
}

type ivfEntry struct {
	id  uint64
	vec []float32
}

// NewIVF creates an untrained IVF index.
func NewIVF(dim int, metric Metric, params Params) *IVF {
	return &IVF{dim: dim, metric: metric, params: params.WithDefaults()}
}

// Build trains nlist centroids over a sample of records and assigns every
// vector to its nearest centroid.
func (ix *IVF) Build(ctx context.Context, records []vectorstore.Record) error {
	for _, rec := range records {
		if len(rec.Embedding) != ix.dim {
			return fmt.Errorf("%w: record %d has dim %d, want %d", ErrDimensionMismatch, rec.ID, len(rec.Embedding), ix.dim)
		}
	}

	nlist := ix.params.Nlist
	if nlist > len(records) {
		nlist = len(records)
	}
	if limit := ix.params.MemoryLimitBytes; limit > 0 {
		estimate := int64(len(records))*int64(4*ix.dim+8) + int64(nlist)*int64(4*ix.dim)
		if estimate > limit {
			return fmt.Errorf("%w: estimated %d bytes, limit %d", ErrMemoryLimit, estimate, limit)
		}
	}
	if len(records) == 0 {
		ix.mu.Lock()
		ix.centroids, ix.lists, ix.size, ix.trainedMeanDist = nil, nil, 0, 0
		ix.mu.Unlock()
		return nil
	}

	vectors := make([][]float32, len(records))
	for i, rec := range records {
		vectors[i] = rec.Embedding
	}

	centroids, err := kmeans(ctx, vectors, nlist, ix.metric)
	if err != nil {
		return err
	}

	lists := make([][]ivfEntry, len(centroids))
	var distSum float64
	for i, rec := range records {
		if i%flatCheckpointRows == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		c, d := nearestCentroid(centroids, rec.Embedding, ix.metric)
		lists[c] = append(lists[c], ivfEntry{id: rec.ID, vec: rec.Embedding})
		distSum += float64(d)
	}

	ix.mu.Lock()
	ix.centroids = centroids
	ix.lists = lists
	ix.size = len(records)
	ix.trainedMeanDist = distSum / float64(len(records))
	ix.mu.Unlock()
	return nil
}

// Insert is not supported: IVF training is inherently batch-oriented.
func (ix *IVF) Insert(vectorstore.Record) error {
	return fmt.Errorf("%w: ivf requires batch rebuild", ErrNotSupported)
}

// Search probes the nprobe clusters whose centroids are nearest the query.
func (ix *IVF) Search(ctx context.Context, query []float32, k int, filter Filter) ([]Candidate, error) {
	if len(query) != ix.dim {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(query), ix.dim)
	}
	if k <= 0 {
		return nil, nil
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if ix.size == 0 {
		return nil, nil
	}
	if len(ix.centroids) == 0 {
		return nil, ErrNotTrained
	}

	// Rank clusters by centroid distance.
	order := make([]Candidate, len(ix.centroids))
	for i, c := range ix.centroids {
		order[i] = Candidate{ID: uint64(i), Distance: ix.metric.Distance(query, c)}
	}
	sort.Slice(order, func(i, j int) bool { return candidateLess(order[i], order[j]) })

	nprobe := ix.params.Nprobe
	if nprobe > len(order) {
		nprobe = len(order)
	}

	best := newTopK(k)
	for p := 0; p < nprobe; p++ {
		// Deadline checkpoint between clusters: abandon cleanly, never
		// return a partial ranking.
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, e := range ix.lists[order[p].ID] {
			if filter != nil && !filter(e.id) {
				continue
			}
			best.add(Candidate{ID: e.id, Distance: ix.metric.Distance(query, e.vec)})
		}
	}
	return best.sorted(), nil
}

// Size returns the number of indexed vectors.
func (ix *IVF) Size() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.size
}

// MemoryEstimate approximates resident bytes for vectors plus centroids.
func (ix *IVF) MemoryEstimate() int64 {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return int64(ix.size)*int64(4*ix.dim+8) + int64(len(ix.centroids))*int64(4*ix.dim)
}

// Variant returns VariantIVF.
func (ix *IVF) Variant() Variant { return VariantIVF }

// DriftRatio compares the current mean vector-to-centroid distance against
// the build-time baseline. A ratio well above 1.0 means the trained
// centroids no longer describe the data and a retrain is due.
func (ix *IVF) DriftRatio() float64 {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if ix.trainedMeanDist == 0 || ix.size == 0 {
		return 1
	}
	var sum float64
	var n int
	for c, list := range ix.lists {
		for _, e := range list {
			sum += float64(ix.metric.Distance(ix.centroids[c], e.vec))
			n++
		}
	}
	if n == 0 {
		return 1
	}
	return (sum / float64(n)) / ix.trainedMeanDist
}

var _ Index = (*IVF)(nil)

// kmeans trains k centroids over a bounded sample of vectors. Deterministic
// for a fixed input: the sample and initial centroids come from a seeded RNG.
func kmeans(ctx context.Context, vectors [][]float32, k int, metric Metric) ([][]float32, error) {
	if k <= 0 || len(vectors) == 0 {
		return nil, nil
	}
	if k > len(vectors) {
		k = len(vectors)
	}

	rng := rand.New(rand.NewSource(kmeansSeed))

	sample := vectors
	if limit := k * kmeansSamplePerCentroid; len(vectors) > limit {
		sample = make([][]float32, limit)
		for i, j := range rng.Perm(len(vectors))[:limit] {
			sample[i] = vectors[j]
		}
	}

	dim := len(sample[0])
	centroids := make([][]float32, k)
	for i, j := range rng.Perm(len(sample))[:k] {
		centroids[i] = append([]float32(nil), sample[j]...)
	}

	assign := make([]int, len(sample))
	for iter := 0; iter < kmeansMaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		changed := false
		for i, v := range sample {
			c, _ := nearestCentroid(centroids, v, metric)
			if assign[i] != c {
				assign[i] = c
				changed = true
			}
		}
		if !changed && iter > 0 {
			break
		}

		sums := make([][]float64, k)
		counts := make([]int, k)
		for i := range sums {
			sums[i] = make([]float64, dim)
		}
		for i, v := range sample {
			c := assign[i]
			counts[c]++
			for d, x := range v {
				sums[c][d] += float64(x)
			}
		}
		for c := range centroids {
			if counts[c] == 0 {
				// Empty cluster: re-seed from a random sample vector.
				centroids[c] = append([]float32(nil), sample[rng.Intn(len(sample))]...)
				continue
			}
			for d := range centroids[c] {
				centroids[c][d] = float32(sums[c][d] / float64(counts[c]))
			}
		}
	}
	return centroids, nil
}

// nearestCentroid returns the index and distance of the closest centroid.
func nearestCentroid(centroids [][]float32, v []float32, metric Metric) (int, float32) {
	bestIdx := 0
	bestDist := metric.Distance(v, centroids[0])
	for i := 1; i < len(centroids); i++ {
		if d := metric.Distance(v, centroids[i]); d < bestDist {
			bestIdx, bestDist = i, d
		}
	}
	return bestIdx, bestDist
}
