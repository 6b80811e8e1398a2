package planner

import (
	"math"
	"sort"

	"github.com/fyrsmithlabs/vectord/internal/index"
)

// fused is an intermediate hit carrying the combined score plus the vector
// distance for tie-breaking. Lexical-only hits have no meaningful distance
// and sort behind equally-scored vector hits.
type fused struct {
	id       uint64
	score    float64
	distance float32
}

// fuseRRF combines vector and lexical rankings with weighted reciprocal rank
// fusion: score(id) = sum over sources of weight_s / (rank_s(id) + c), with
// ranks starting at 1. An id present in only one source scores from that
// source alone.
func fuseRRF(vector []index.Candidate, lexical []LexicalHit, cfg Config) []fused {
	scores := make(map[uint64]*fused, len(vector)+len(lexical))

	for i, c := range vector {
		scores[c.ID] = &fused{
			id:       c.ID,
			score:    cfg.VectorWeight / (float64(i+1) + cfg.RRFConstant),
			distance: c.Distance,
		}
	}
	for i, h := range lexical {
		contribution := cfg.LexicalWeight / (float64(i+1) + cfg.RRFConstant)
		if f, ok := scores[h.ID]; ok {
			f.score += contribution
			continue
		}
		scores[h.ID] = &fused{
			id:       h.ID,
			score:    contribution,
			distance: math.MaxFloat32,
		}
	}

	out := make([]fused, 0, len(scores))
	for _, f := range scores {
		out = append(out, *f)
	}
	sortFused(out)
	return out
}

// sortFused orders by descending fused score, breaking ties by lower
// distance, then lower id, keeping result order deterministic.
func sortFused(out []fused) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		if out[i].distance != out[j].distance {
			return out[i].distance < out[j].distance
		}
		return out[i].id < out[j].id
	})
}
