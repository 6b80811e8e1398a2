package reranker

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/vectord/internal/planner"
)

// ErrNilContext is returned when a nil context is passed to Rerank.
var ErrNilContext = errors.New("context cannot be nil")

// defaultMaxCandidates bounds the second pass when the caller sets no cap.
const defaultMaxCandidates = 64

// termOverlapModel is the model identifier reported by Model().
const termOverlapModel = "term-overlap/1"

// TermOverlap is the default re-ranker: it blends the candidate's planner
// score with the term overlap between the query and the candidate's payload
// text, half weight each. Cheap, deterministic, and dependency-free.
type TermOverlap struct {
	// MaxCandidates caps how many candidates the pass considers; the rest
	// keep their planner order behind the re-ranked head.
	MaxCandidates int
}

// NewTermOverlap creates the default re-ranker.
func NewTermOverlap(maxCandidates int) *TermOverlap {
	if maxCandidates <= 0 {
		maxCandidates = defaultMaxCandidates
	}
	return &TermOverlap{MaxCandidates: maxCandidates}
}

// Rerank blends each candidate's normalized planner score with its query
// term overlap:
//  1. The query is tokenized into lowercase terms, stopwords dropped.
//  2. Each candidate's payload string fields are tokenized the same way.
//  3. combined = 0.5*normalizedScore + 0.5*overlapFraction.
//  4. Candidates sort by combined score descending; ties break by lower
//     distance, then lower id.
func (r *TermOverlap) Rerank(ctx context.Context, query string, candidates []planner.Result, topK int) ([]planner.Result, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if topK <= 0 {
		topK = len(candidates)
	}
	if len(candidates) == 0 {
		return []planner.Result{}, nil
	}

	head := candidates
	var tail []planner.Result
	if len(head) > r.MaxCandidates {
		head, tail = head[:r.MaxCandidates], head[r.MaxCandidates:]
	}

	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		// Nothing to overlap against: keep the planner's ordering.
		out := append([]planner.Result(nil), candidates...)
		if len(out) > topK {
			out = out[:topK]
		}
		return out, nil
	}

	maxScore := 0.0
	for _, c := range head {
		if c.Score > maxScore {
			maxScore = c.Score
		}
	}

	rescored := make([]planner.Result, len(head))
	for i, c := range head {
		normalized := 0.0
		if maxScore > 0 {
			normalized = c.Score / maxScore
		}
		overlap := termOverlap(queryTokens, tokenize(payloadText(c.Payload)))
		rescored[i] = c
		rescored[i].Score = 0.5*normalized + 0.5*overlap
	}
	sort.Slice(rescored, func(i, j int) bool {
		a, b := rescored[i], rescored[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Distance != b.Distance {
			return a.Distance < b.Distance
		}
		return a.ID < b.ID
	})

	out := append(rescored, tail...)
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

// Model identifies the scoring model.
func (r *TermOverlap) Model() string { return termOverlapModel }

// Close is a no-op; the model holds no resources.
func (r *TermOverlap) Close() error { return nil }

var _ Reranker = (*TermOverlap)(nil)

// payloadText concatenates the payload's string fields in key order, so the
// text a candidate exposes to the scorer never depends on map iteration.
func payloadText(payload map[string]any) string {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		if _, ok := payload[k].(string); ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(payload[k].(string))
	}
	return b.String()
}

// tokenize splits text into lowercase terms, dropping stopwords and tokens
// shorter than three characters.
func tokenize(text string) []string {
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !isAlphanumeric(r)
	})
	filtered := tokens[:0]
	for _, tok := range tokens {
		if len(tok) > 2 && !stopwords[tok] {
			filtered = append(filtered, tok)
		}
	}
	return filtered
}

func isAlphanumeric(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') || r == '_'
}

// termOverlap returns the fraction of unique query terms present in the
// candidate's tokens, in [0, 1].
func termOverlap(queryTokens, candidateTokens []string) float64 {
	present := make(map[string]bool, len(candidateTokens))
	for _, tok := range candidateTokens {
		present[tok] = true
	}
	matched := make(map[string]bool, len(queryTokens))
	unique := make(map[string]bool, len(queryTokens))
	for _, tok := range queryTokens {
		unique[tok] = true
		if present[tok] {
			matched[tok] = true
		}
	}
	return float64(len(matched)) / float64(len(unique))
}

var stopwords = map[string]bool{
	"the": true, "and": true, "but": true, "for": true, "with": true,
	"from": true, "was": true, "are": true, "been": true, "being": true,
	"have": true, "has": true, "had": true, "does": true, "did": true,
	"will": true, "would": true, "could": true, "should": true, "may": true,
	"might": true, "can": true, "this": true, "that": true, "these": true,
	"those": true, "you": true, "she": true, "they": true, "what": true,
	"which": true, "who": true, "when": true, "where": true, "why": true,
	"how": true, "not": true,
}
