package index

import (
	"container/heap"
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/fyrsmithlabs/vectord/internal/vectorstore"
)

// hnswCheckpointPops is how many frontier pops a layer search makes between
// context deadline checks.
const hnswCheckpointPops = 256

// hnswSeed keeps level assignment deterministic for a fixed insert order.
const hnswSeed = 0x9e3779b9

// HNSW is the hierarchical navigable small world graph: a multi-layer
// proximity graph where each node's layer is drawn from an exponentially
// decaying distribution and search descends greedily from the sparse top
// layer, widening to an efSearch-sized frontier on layer 0.
//
// Inserts are supported but comparatively expensive. There is no native
// deletion: tombstoned ids are screened out by the caller's filter at
// search time, never removed from the graph.
type HNSW struct {
	mu     sync.RWMutex
	dim    int
	metric Metric
	params Params

	nodes    []hnswNode
	byID     map[uint64]int
	entry    int
	maxLevel int

	levelMul float64
	rng      *rand.Rand
}

type hnswNode struct {
	id  uint64
	vec []float32
	// neighbors[l] holds node indices linked at layer l, 0 <= l <= level.
	neighbors [][]int
}

// NewHNSW creates an empty HNSW index.
func NewHNSW(dim int, metric Metric, params Params) *HNSW {
	params = params.WithDefaults()
	return &HNSW{
		dim:      dim,
		metric:   metric,
		params:   params,
		byID:     make(map[uint64]int),
		entry:    -1,
		levelMul: 1 / math.Log(float64(params.M)),
		rng:      rand.New(rand.NewSource(hnswSeed)),
	}
}

// maxConn is the out-degree cap per layer: 2*M on layer 0, M above.
func (h *HNSW) maxConn(layer int) int {
	if layer == 0 {
		return 2 * h.params.M
	}
	return h.params.M
}

// randomLevel draws a layer with exponentially decaying probability.
func (h *HNSW) randomLevel() int {
	return int(-math.Log(h.rng.Float64()) * h.levelMul)
}

// Build constructs the graph by sequential inserts.
func (h *HNSW) Build(ctx context.Context, records []vectorstore.Record) error {
	h.mu.Lock()
	h.nodes = nil
	h.byID = make(map[uint64]int)
	h.entry = -1
	h.maxLevel = 0
	h.mu.Unlock()

	if limit := h.params.MemoryLimitBytes; limit > 0 {
		estimate := int64(len(records)) * int64(4*h.dim+16*h.params.M)
		if estimate > limit {
			return fmt.Errorf("%w: estimated %d bytes, limit %d", ErrMemoryLimit, estimate, limit)
		}
	}

	for i, rec := range records {
		if i%64 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if err := h.Insert(rec); err != nil {
			return err
		}
	}
	return nil
}

// Insert links a single record into the graph.
func (h *HNSW) Insert(rec vectorstore.Record) error {
	if len(rec.Embedding) != h.dim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(rec.Embedding), h.dim)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.byID[rec.ID]; exists {
		return nil
	}

	level := h.randomLevel()
	node := hnswNode{
		id:        rec.ID,
		vec:       rec.Embedding,
		neighbors: make([][]int, level+1),
	}
	idx := len(h.nodes)
	h.nodes = append(h.nodes, node)
	h.byID[rec.ID] = idx

	if h.entry == -1 {
		h.entry = idx
		h.maxLevel = level
		return nil
	}

	curr := h.entry
	currDist := h.metric.Distance(rec.Embedding, h.nodes[curr].vec)

	// Greedy descent through layers above the new node's level.
	for l := h.maxLevel; l > level; l-- {
		curr, currDist = h.greedyStep(rec.Embedding, curr, currDist, l)
	}

	// Link at each layer from min(level, maxLevel) down to 0.
	top := level
	if top > h.maxLevel {
		top = h.maxLevel
	}
	for l := top; l >= 0; l-- {
		found, err := h.searchLayer(context.Background(), rec.Embedding, curr, h.params.EfConstruction, l)
		if err != nil {
			return err
		}

		m := h.params.M
		if m > len(found) {
			m = len(found)
		}
		for _, nb := range found[:m] {
			h.nodes[idx].neighbors[l] = append(h.nodes[idx].neighbors[l], nb.idx)
			h.nodes[nb.idx].neighbors[l] = append(h.nodes[nb.idx].neighbors[l], idx)
			h.pruneNeighbors(nb.idx, l)
		}
		if len(found) > 0 {
			curr = found[0].idx
		}
	}

	if level > h.maxLevel {
		h.maxLevel = level
		h.entry = idx
	}
	return nil
}

// greedyStep walks to the closest neighbor at the given layer until no
// neighbor improves on the current distance.
func (h *HNSW) greedyStep(q []float32, curr int, currDist float32, layer int) (int, float32) {
	for {
		improved := false
		for _, nb := range h.neighborsAt(curr, layer) {
			if d := h.metric.Distance(q, h.nodes[nb].vec); d < currDist {
				curr, currDist = nb, d
				improved = true
			}
		}
		if !improved {
			return curr, currDist
		}
	}
}

func (h *HNSW) neighborsAt(idx, layer int) []int {
	if layer >= len(h.nodes[idx].neighbors) {
		return nil
	}
	return h.nodes[idx].neighbors[layer]
}

// pruneNeighbors caps a node's out-degree at maxConn, keeping the closest.
func (h *HNSW) pruneNeighbors(idx, layer int) {
	limit := h.maxConn(layer)
	nbrs := h.nodes[idx].neighbors[layer]
	if len(nbrs) <= limit {
		return
	}
	best := newTopK(limit)
	for _, nb := range nbrs {
		best.add(Candidate{
			ID:       uint64(nb),
			Distance: h.metric.Distance(h.nodes[idx].vec, h.nodes[nb].vec),
		})
	}
	kept := best.sorted()
	pruned := make([]int, len(kept))
	for i, c := range kept {
		pruned[i] = int(c.ID)
	}
	h.nodes[idx].neighbors[layer] = pruned
}

// nodeDist pairs an internal node index with its distance to a query.
type nodeDist struct {
	idx  int
	dist float32
}

type minNodeHeap []nodeDist

func (q minNodeHeap) Len() int           { return len(q) }
func (q minNodeHeap) Less(i, j int) bool { return q[i].dist < q[j].dist }
func (q minNodeHeap) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *minNodeHeap) Push(x any)        { *q = append(*q, x.(nodeDist)) }
func (q *minNodeHeap) Pop() any {
	old := *q
	n := len(old)
	v := old[n-1]
	*q = old[:n-1]
	return v
}

type maxNodeHeap []nodeDist

func (q maxNodeHeap) Len() int           { return len(q) }
func (q maxNodeHeap) Less(i, j int) bool { return q[i].dist > q[j].dist }
func (q maxNodeHeap) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *maxNodeHeap) Push(x any)        { *q = append(*q, x.(nodeDist)) }
func (q *maxNodeHeap) Pop() any {
	old := *q
	n := len(old)
	v := old[n-1]
	*q = old[:n-1]
	return v
}

// searchLayer runs the widened best-first search at one layer, returning up
// to ef nodes ordered by ascending distance. Caller holds at least a read
// lock.
func (h *HNSW) searchLayer(ctx context.Context, q []float32, entry, ef, layer int) ([]nodeDist, error) {
	entryDist := h.metric.Distance(q, h.nodes[entry].vec)

	visited := map[int]bool{entry: true}
	frontier := &minNodeHeap{{entry, entryDist}}
	results := &maxNodeHeap{{entry, entryDist}}

	pops := 0
	for frontier.Len() > 0 {
		pops++
		if pops%hnswCheckpointPops == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		c := heap.Pop(frontier).(nodeDist)
		if results.Len() >= ef && c.dist > (*results)[0].dist {
			break
		}
		for _, nb := range h.neighborsAt(c.idx, layer) {
			if visited[nb] {
				continue
			}
			visited[nb] = true
			d := h.metric.Distance(q, h.nodes[nb].vec)
			if results.Len() < ef {
				heap.Push(frontier, nodeDist{nb, d})
				heap.Push(results, nodeDist{nb, d})
			} else if d < (*results)[0].dist {
				heap.Push(frontier, nodeDist{nb, d})
				heap.Pop(results)
				heap.Push(results, nodeDist{nb, d})
			}
		}
	}

	out := make([]nodeDist, results.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(results).(nodeDist)
	}
	return out, nil
}

// Search descends greedily to layer 1, then runs a frontier of size
// max(efSearch, k) on layer 0. The filter screens candidates at admission;
// traversal still crosses filtered nodes so tombstones do not fragment the
// graph.
func (h *HNSW) Search(ctx context.Context, query []float32, k int, filter Filter) ([]Candidate, error) {
	if len(query) != h.dim {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(query), h.dim)
	}
	if k <= 0 {
		return nil, nil
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.entry == -1 {
		return nil, nil
	}

	curr := h.entry
	currDist := h.metric.Distance(query, h.nodes[curr].vec)
	for l := h.maxLevel; l >= 1; l-- {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		curr, currDist = h.greedyStep(query, curr, currDist, l)
	}

	ef := h.params.EfSearch
	if ef < k {
		ef = k
	}
	found, err := h.searchLayer(ctx, query, curr, ef, 0)
	if err != nil {
		return nil, err
	}

	best := newTopK(k)
	for _, nd := range found {
		id := h.nodes[nd.idx].id
		if filter != nil && !filter(id) {
			continue
		}
		best.add(Candidate{ID: id, Distance: nd.dist})
	}
	return best.sorted(), nil
}

// Size returns the number of indexed vectors, including ones a live filter
// would exclude.
func (h *HNSW) Size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.nodes)
}

// MemoryEstimate approximates resident bytes for vectors and adjacency.
func (h *HNSW) MemoryEstimate() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var links int64
	for i := range h.nodes {
		for _, nbrs := range h.nodes[i].neighbors {
			links += int64(len(nbrs))
		}
	}
	return int64(len(h.nodes))*int64(4*h.dim+8) + links*8
}

// Variant returns VariantHNSW.
func (h *HNSW) Variant() Variant { return VariantHNSW }

var _ Index = (*HNSW)(nil)
