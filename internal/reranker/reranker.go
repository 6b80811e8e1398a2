// Package reranker provides the optional second scoring pass over the
// planner's over-fetched candidates.
package reranker

import (
	"context"

	"github.com/fyrsmithlabs/vectord/internal/planner"
)

// Reranker re-scores a bounded candidate set with a costlier model than the
// index distance. Implementations must be pure (no side effects on the
// candidates or any shared state) and deterministic: identical candidates,
// query, and model version always produce the identical ordering.
type Reranker interface {
	// Rerank re-scores candidates against the query text and returns them
	// ordered by descending score, truncated to topK. The input slice is
	// not modified.
	Rerank(ctx context.Context, query string, candidates []planner.Result, topK int) ([]planner.Result, error)

	// Model identifies the scoring model and version.
	Model() string

	// Close releases any resources held by the model.
	Close() error
}
