// Package planner turns a tenant's search request into an execution plan
// over a published index generation: tenant restriction first, then a
// selectivity-driven choice between pre-filtered exact scan and filtered
// index search, over-fetching, and optional lexical fusion.
package planner

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vectord/internal/index"
	"github.com/fyrsmithlabs/vectord/internal/tenant"
	"github.com/fyrsmithlabs/vectord/internal/vectorstore"
)

// scanCheckpointRows is how many rows a pre-filtered exact scan processes
// between context deadline checks.
const scanCheckpointRows = 1024

// LexicalHit is one ranked hit from the lexical collaborator. Score is the
// collaborator's own relevance score; only its rank participates in fusion.
type LexicalHit struct {
	ID    uint64
	Score float64
}

// LexicalSearcher is the external keyword-search collaborator. A nil
// searcher, or an empty query text, disables the lexical leg.
type LexicalSearcher interface {
	Search(ctx context.Context, tenantID, text string, limit int) ([]LexicalHit, error)
}

// Config holds the planner's tuning knobs.
type Config struct {
	// OverfetchFactor multiplies k for the index fetch so downstream
	// filtering and re-ranking have slack.
	OverfetchFactor int

	// SelectivityRatio is the matched-fraction threshold below which a
	// metadata filter switches the plan to a pre-filtered exact scan.
	SelectivityRatio float64

	// RRFConstant dampens the contribution of deep ranks in fusion.
	RRFConstant float64

	// VectorWeight and LexicalWeight scale each source's reciprocal-rank
	// contribution.
	VectorWeight  float64
	LexicalWeight float64
}

// WithDefaults fills unset knobs with documented defaults.
func (c Config) WithDefaults() Config {
	if c.OverfetchFactor <= 0 {
		c.OverfetchFactor = 3
	}
	if c.SelectivityRatio <= 0 {
		c.SelectivityRatio = 0.05
	}
	if c.RRFConstant <= 0 {
		c.RRFConstant = 60
	}
	if c.VectorWeight <= 0 {
		c.VectorWeight = 1.0
	}
	if c.LexicalWeight <= 0 {
		c.LexicalWeight = 0.5
	}
	return c
}

// Query is one search request. Filter holds payload equality predicates;
// Text, when non-empty, enables the lexical leg.
type Query struct {
	Embedding []float32
	K         int
	Filter    map[string]string
	Text      string
}

// Result is one ranked hit with its payload attached. Score is the fused
// reciprocal-rank score when a lexical leg ran, otherwise a similarity
// derived from the vector distance; higher is better either way.
type Result struct {
	ID       uint64
	Score    float64
	Distance float32
	Payload  map[string]any
}

// Planner executes queries against a store and a published generation.
type Planner struct {
	store   *vectorstore.Store
	metric  index.Metric
	lexical LexicalSearcher
	cfg     Config
	logger  *zap.Logger
}

// New creates a planner. lexical may be nil.
func New(store *vectorstore.Store, metric index.Metric, lexical LexicalSearcher, cfg Config, logger *zap.Logger) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{
		store:   store,
		metric:  metric,
		lexical: lexical,
		cfg:     cfg.WithDefaults(),
		logger:  logger,
	}
}

// Search plans and executes q against gen, truncating to the final top-K.
// The caller's context must carry tenant identity; without it the planner
// fails closed before touching any data.
func (p *Planner) Search(ctx context.Context, gen *index.Generation, q Query) ([]Result, error) {
	results, err := p.SearchCandidates(ctx, gen, q)
	if err != nil {
		return nil, err
	}
	if len(results) > q.K {
		results = results[:q.K]
	}
	return results, nil
}

// SearchCandidates runs the same plan as Search but returns the full fused
// over-fetched list (up to K times the overfetch factor), ranked, for
// callers that re-rank before truncating to the final top-K.
func (p *Planner) SearchCandidates(ctx context.Context, gen *index.Generation, q Query) ([]Result, error) {
	info, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	if len(q.Embedding) != p.store.Dimension() {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrQueryDimensionMismatch, len(q.Embedding), p.store.Dimension())
	}
	if err := validateFilter(q.Filter); err != nil {
		return nil, err
	}
	if q.K <= 0 {
		return nil, nil
	}

	live := p.store.Live()
	if live.Count() == 0 || gen == nil || gen.Index == nil {
		return nil, nil
	}

	fetchK := q.K * p.cfg.OverfetchFactor

	var candidates []index.Candidate
	if len(q.Filter) > 0 {
		matched, selectivity, err := p.matchFilter(ctx, info.TenantID, q.Filter, live)
		if err != nil {
			return nil, err
		}
		if selectivity <= p.cfg.SelectivityRatio {
			// Few matches: an exact scan over just the matching rows beats
			// probing the index and discarding most candidates.
			candidates, err = p.exactScan(ctx, q.Embedding, matched, fetchK)
			if err != nil {
				return nil, err
			}
		} else {
			candidates, err = p.indexSearch(ctx, gen, q.Embedding, fetchK, p.admit(info.TenantID, live, q.Filter))
			if err != nil {
				return nil, err
			}
		}
	} else {
		candidates, err = p.indexSearch(ctx, gen, q.Embedding, fetchK, p.admit(info.TenantID, live, nil))
		if err != nil {
			return nil, err
		}
	}

	var lexHits []LexicalHit
	if q.Text != "" && p.lexical != nil {
		lexHits, err = p.lexicalSearch(ctx, info.TenantID, live, q)
		if err != nil {
			// The collaborator is best-effort: degrade to vector-only.
			p.logger.Warn("lexical search failed, serving vector-only",
				zap.String("tenant_id", info.TenantID), zap.Error(err))
			lexHits = nil
		}
	}

	return p.assemble(candidates, lexHits, fetchK), nil
}

// admit composes the live bitmap, tenant scope, and metadata predicate into
// one index filter.
func (p *Planner) admit(tenantID string, live *vectorstore.LiveSet, filter map[string]string) index.Filter {
	return func(id uint64) bool {
		if !live.Contains(id) {
			return false
		}
		rec, ok := p.store.Record(id)
		if !ok || rec.TenantID != tenantID {
			return false
		}
		return matchesPayload(rec.Payload, filter)
	}
}

// matchFilter scans live records for tenant-scoped metadata matches and
// reports the matched fraction of the live set.
func (p *Planner) matchFilter(ctx context.Context, tenantID string, filter map[string]string, live *vectorstore.LiveSet) ([]vectorstore.Record, float64, error) {
	records := p.store.LiveRecords()
	matched := make([]vectorstore.Record, 0, 64)
	for i, rec := range records {
		if i%scanCheckpointRows == 0 {
			if err := ctx.Err(); err != nil {
				return nil, 0, wrapDeadline(err)
			}
		}
		if rec.TenantID != tenantID || !live.Contains(rec.ID) {
			continue
		}
		if matchesPayload(rec.Payload, filter) {
			matched = append(matched, rec)
		}
	}
	return matched, float64(len(matched)) / float64(live.Count()), nil
}

// exactScan ranks the pre-filtered records by distance, bypassing the index.
func (p *Planner) exactScan(ctx context.Context, query []float32, records []vectorstore.Record, k int) ([]index.Candidate, error) {
	candidates := make([]index.Candidate, 0, len(records))
	for i, rec := range records {
		if i%scanCheckpointRows == 0 {
			if err := ctx.Err(); err != nil {
				return nil, wrapDeadline(err)
			}
		}
		candidates = append(candidates, index.Candidate{
			ID:       rec.ID,
			Distance: p.metric.Distance(query, rec.Embedding),
		})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Distance != candidates[j].Distance {
			return candidates[i].Distance < candidates[j].Distance
		}
		return candidates[i].ID < candidates[j].ID
	})
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates, nil
}

func (p *Planner) indexSearch(ctx context.Context, gen *index.Generation, query []float32, k int, filter index.Filter) ([]index.Candidate, error) {
	candidates, err := gen.Index.Search(ctx, query, k, filter)
	if err != nil {
		return nil, wrapDeadline(err)
	}
	return candidates, nil
}

// lexicalSearch runs the keyword leg and screens its hits through the same
// admission rules as vector candidates.
func (p *Planner) lexicalSearch(ctx context.Context, tenantID string, live *vectorstore.LiveSet, q Query) ([]LexicalHit, error) {
	hits, err := p.lexical.Search(ctx, tenantID, q.Text, q.K*p.cfg.OverfetchFactor)
	if err != nil {
		return nil, err
	}
	admit := p.admit(tenantID, live, q.Filter)
	kept := hits[:0]
	for _, h := range hits {
		if admit(h.ID) {
			kept = append(kept, h)
		}
	}
	return kept, nil
}

// assemble fuses the two legs (or ranks the single leg), truncates to limit,
// and attaches payloads.
func (p *Planner) assemble(candidates []index.Candidate, lexHits []LexicalHit, limit int) []Result {
	var ranked []fused
	if len(lexHits) > 0 {
		ranked = fuseRRF(candidates, lexHits, p.cfg)
	} else {
		ranked = make([]fused, len(candidates))
		for i, c := range candidates {
			ranked[i] = fused{
				id:       c.ID,
				score:    1 / (1 + float64(c.Distance)),
				distance: c.Distance,
			}
		}
	}
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	results := make([]Result, 0, len(ranked))
	for _, f := range ranked {
		rec, ok := p.store.Record(f.id)
		if !ok {
			continue
		}
		results = append(results, Result{
			ID:       f.id,
			Score:    f.score,
			Distance: f.distance,
			Payload:  rec.Payload,
		})
	}
	return results
}

func validateFilter(filter map[string]string) error {
	for key := range filter {
		if key == "" {
			return fmt.Errorf("%w: empty field name", ErrInvalidFilter)
		}
	}
	return nil
}

// matchesPayload reports whether every filter predicate matches the payload
// by string equality. A nil filter matches everything.
func matchesPayload(payload map[string]any, filter map[string]string) bool {
	for key, want := range filter {
		got, ok := payload[key]
		if !ok {
			return false
		}
		if fmt.Sprint(got) != want {
			return false
		}
	}
	return true
}

// wrapDeadline converts a context deadline error into the planner's
// retryable timeout sentinel.
func wrapDeadline(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}
