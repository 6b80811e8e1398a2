package index

import (
	"container/heap"
	"sort"
)

// candidateLess is the uniform result ordering: ascending distance, ties by
// lower id, so identical datasets always rank identically.
func candidateLess(a, b Candidate) bool {
	if a.Distance != b.Distance {
		return a.Distance < b.Distance
	}
	return a.ID < b.ID
}

// topK collects the k best candidates seen, dropping the current worst when
// full. It is a max-heap on candidateLess.
type topK struct {
	k     int
	cands []Candidate
}

func newTopK(k int) *topK {
	return &topK{k: k, cands: make([]Candidate, 0, k)}
}

func (t *topK) Len() int           { return len(t.cands) }
func (t *topK) Less(i, j int) bool { return candidateLess(t.cands[j], t.cands[i]) }
func (t *topK) Swap(i, j int)      { t.cands[i], t.cands[j] = t.cands[j], t.cands[i] }
func (t *topK) Push(x any)         { t.cands = append(t.cands, x.(Candidate)) }
func (t *topK) Pop() any {
	old := t.cands
	n := len(old)
	c := old[n-1]
	t.cands = old[:n-1]
	return c
}

// add offers a candidate, keeping only the k best.
func (t *topK) add(c Candidate) {
	if t.k <= 0 {
		return
	}
	if len(t.cands) < t.k {
		heap.Push(t, c)
		return
	}
	if candidateLess(c, t.cands[0]) {
		t.cands[0] = c
		heap.Fix(t, 0)
	}
}

// sorted drains into ascending (distance, id) order.
func (t *topK) sorted() []Candidate {
	out := append([]Candidate(nil), t.cands...)
	sort.Slice(out, func(i, j int) bool { return candidateLess(out[i], out[j]) })
	return out
}
