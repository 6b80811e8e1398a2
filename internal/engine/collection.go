package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vectord/internal/events"
	"github.com/fyrsmithlabs/vectord/internal/index"
	"github.com/fyrsmithlabs/vectord/internal/lexical"
	"github.com/fyrsmithlabs/vectord/internal/logging"
	"github.com/fyrsmithlabs/vectord/internal/manager"
	"github.com/fyrsmithlabs/vectord/internal/planner"
	"github.com/fyrsmithlabs/vectord/internal/reranker"
	"github.com/fyrsmithlabs/vectord/internal/semcache"
	"github.com/fyrsmithlabs/vectord/internal/tenant"
	"github.com/fyrsmithlabs/vectord/internal/vectorstore"
)

// CollectionConfig describes one collection. Zero values select documented
// defaults; only Name and Dimension are required.
type CollectionConfig struct {
	Name      string
	Dimension int

	// Metric is the distance metric (l2, cosine, dot). Default l2.
	Metric index.Metric

	// Variant pins an index strategy; empty lets the manager choose by
	// collection size and workload.
	Variant index.Variant

	// Params tunes the index variant.
	Params index.Params

	// Workload hints automatic strategy choice (bulk or incremental).
	Workload manager.Workload

	// Manager carries rebuild thresholds and maintenance pacing.
	Manager manager.Config

	// Planner carries overfetch, selectivity, and fusion knobs.
	Planner planner.Config

	// Cache carries similarity threshold, TTL, and per-tenant capacity.
	Cache semcache.Config

	// CacheDisabled turns the semantic cache off for this collection.
	CacheDisabled bool

	// LexicalEnabled indexes payload text for hybrid keyword fusion.
	LexicalEnabled bool

	// RerankDisabled turns the second scoring pass off. The pass only runs
	// for queries that carry text anyway.
	RerankDisabled bool

	// MaxRerankCandidates caps the re-ranker's input set.
	MaxRerankCandidates int
}

func (c CollectionConfig) validate() error {
	if !collectionNameRE.MatchString(c.Name) || len(c.Name) > 128 {
		return fmt.Errorf("%w: bad name %q", ErrInvalidCollectionConfig, c.Name)
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidCollectionConfig)
	}
	if c.Metric != "" && !c.Metric.Valid() {
		return fmt.Errorf("%w: unknown metric %q", ErrInvalidCollectionConfig, c.Metric)
	}
	if c.Variant != "" && !c.Variant.Valid() {
		return fmt.Errorf("%w: unknown index variant %q", ErrInvalidCollectionConfig, c.Variant)
	}
	return nil
}

// SearchRequest is one search call against a collection.
type SearchRequest struct {
	Embedding []float32
	K         int
	Filter    map[string]string
	Text      string
}

// SearchResponse carries the ranked results plus the serving metadata the
// API surfaces on every response.
type SearchResponse struct {
	Results    []planner.Result
	Stale      bool
	CacheHit   bool
	Generation uint64
}

// Info is a point-in-time summary of a collection.
type Info struct {
	Name       string `json:"name"`
	Dimension  int    `json:"dimension"`
	Metric     string `json:"metric"`
	Variant    string `json:"index_variant"`
	LiveCount  int    `json:"live_count"`
	Generation uint64 `json:"generation"`
	Stale      bool   `json:"stale"`
}

// Collection wires one collection's store, manager, planner, cache, and
// optional collaborators, and runs its maintenance loop.
type Collection struct {
	cfg     CollectionConfig
	metric  index.Metric
	store   *vectorstore.Store
	manager *manager.Manager
	planner *planner.Planner
	cache   *semcache.Cache
	lexical *lexical.BleveIndex
	rerank  reranker.Reranker
	logger  *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newCollection(ctx context.Context, dataDir string, cfg CollectionConfig, publisher *events.Publisher, logger *zap.Logger) (*Collection, error) {
	metric := cfg.Metric
	if metric == "" {
		metric = index.MetricL2
	}

	store, err := vectorstore.New(vectorstore.Config{
		Name:      cfg.Name,
		Dimension: cfg.Dimension,
		Dir:       filepath.Join(dataDir, cfg.Name),
	}, logger)
	if err != nil {
		// A corrupt log tail is recoverable: the store replayed the valid
		// prefix and truncated the rest, and the initial rebuild below
		// reconstructs the index from those records. Anything else is fatal.
		if store == nil || !errors.Is(err, vectorstore.ErrCorruptLog) {
			return nil, fmt.Errorf("opening store: %w", err)
		}
		logger.Error("write-ahead log corrupt; serving recovered prefix",
			zap.String("collection", cfg.Name), zap.Error(err))
	}

	var cache *semcache.Cache
	if !cfg.CacheDisabled {
		cache = semcache.New(cfg.Cache, logger)
	}

	var lex *lexical.BleveIndex
	if cfg.LexicalEnabled {
		lex, err = lexical.NewBleveIndex("", logger)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("opening lexical index: %w", err)
		}
		// The lexical index is in-memory; replay the durable records so
		// keyword search survives restarts the same way vectors do.
		for _, rec := range store.LiveRecords() {
			if err := lex.Index(ctx, rec.ID, rec.TenantID, rec.Payload); err != nil {
				_ = store.Close()
				_ = lex.Close()
				return nil, fmt.Errorf("replaying lexical index: %w", err)
			}
		}
	}

	mgrCfg := cfg.Manager
	mgrCfg.Variant = cfg.Variant
	mgrCfg.Metric = metric
	mgrCfg.Params = cfg.Params
	mgrCfg.Workload = cfg.Workload
	mgr, err := manager.New(ctx, store, cache, publisher, mgrCfg, logger)
	if err != nil {
		_ = store.Close()
		if lex != nil {
			_ = lex.Close()
		}
		return nil, err
	}

	var lexSearcher planner.LexicalSearcher
	if lex != nil {
		lexSearcher = lex
	}
	var rr reranker.Reranker
	if !cfg.RerankDisabled {
		rr = reranker.NewTermOverlap(cfg.MaxRerankCandidates)
	}

	coll := &Collection{
		cfg:     cfg,
		metric:  metric,
		store:   store,
		manager: mgr,
		planner: planner.New(store, metric, lexSearcher, cfg.Planner, logger),
		cache:   cache,
		lexical: lex,
		rerank:  rr,
		logger:  logger,
	}

	maintainCtx, cancel := context.WithCancel(context.Background())
	coll.cancel = cancel
	coll.wg.Add(1)
	go func() {
		defer coll.wg.Done()
		mgr.Maintain(maintainCtx)
	}()
	return coll, nil
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.cfg.Name }

// Insert stores one vector under the caller's tenant and indexes its payload
// text when the lexical leg is enabled. Fails closed without tenant identity.
func (c *Collection) Insert(ctx context.Context, embedding []float32, payload map[string]any) (uint64, uint64, error) {
	info, err := tenant.FromContext(ctx)
	if err != nil {
		return 0, 0, err
	}
	id, version, err := c.store.Insert(ctx, info.TenantID, embedding, payload)
	if err != nil {
		return 0, 0, err
	}
	if c.lexical != nil {
		if err := c.lexical.Index(ctx, id, info.TenantID, payload); err != nil {
			c.logger.Warn("lexical indexing failed; vector remains searchable",
				append(logging.ContextFields(ctx), zap.Uint64("id", id), zap.Error(err))...)
		}
	}
	return id, version, nil
}

// Delete tombstones a record. Idempotent for repeated deletes; ids that
// never existed, or that belong to another tenant, report not found.
func (c *Collection) Delete(ctx context.Context, id uint64) error {
	info, err := tenant.FromContext(ctx)
	if err != nil {
		return err
	}
	rec, ok := c.store.Record(id)
	if !ok || rec.TenantID != info.TenantID {
		return fmt.Errorf("%w: id %d", vectorstore.ErrNotFound, id)
	}
	if err := c.store.Delete(ctx, id); err != nil {
		return err
	}
	if c.lexical != nil {
		if err := c.lexical.Delete(ctx, id); err != nil {
			c.logger.Warn("lexical delete failed",
				append(logging.ContextFields(ctx), zap.Uint64("id", id), zap.Error(err))...)
		}
	}
	if c.cache != nil {
		// A tombstone changes result sets without bumping the generation,
		// so the tenant's cached results can no longer be trusted.
		c.cache.InvalidateTenant(info.TenantID)
	}
	return nil
}

// Search answers one query: semantic cache first, then the planner against
// the current generation, then the optional re-ranking pass. Every response
// carries the serving generation and staleness metadata.
func (c *Collection) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	info, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}

	gen := c.manager.Generation()
	stale := c.manager.Stale()

	if c.cache != nil {
		if cached, ok := c.cache.Lookup(info.TenantID, req.Embedding, req.Text, req.Filter, gen.ID); ok {
			return &SearchResponse{
				Results:    cached,
				Stale:      stale,
				CacheHit:   true,
				Generation: gen.ID,
			}, nil
		}
	}

	query := planner.Query{
		Embedding: req.Embedding,
		K:         req.K,
		Filter:    req.Filter,
		Text:      req.Text,
	}

	var results []planner.Result
	if c.rerank != nil && req.Text != "" {
		// The re-ranker rescores the full over-fetched candidate list so it
		// can promote hits the vector ordering alone would have cut.
		results, err = c.planner.SearchCandidates(ctx, gen, query)
		if err == nil && len(results) > 0 {
			results, err = c.rerank.Rerank(ctx, req.Text, results, req.K)
		}
	} else {
		results, err = c.planner.Search(ctx, gen, query)
	}
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		c.cache.Store(info.TenantID, req.Embedding, req.Text, req.Filter, results, gen.ID)
	}
	return &SearchResponse{
		Results:    results,
		Stale:      stale,
		Generation: gen.ID,
	}, nil
}

// TriggerRebuild schedules an immediate background rebuild.
func (c *Collection) TriggerRebuild() {
	c.manager.TriggerRebuild()
}

// Info summarizes the collection's current serving state.
func (c *Collection) Info() Info {
	gen := c.manager.Generation()
	return Info{
		Name:       c.cfg.Name,
		Dimension:  c.store.Dimension(),
		Metric:     string(c.metric),
		Variant:    string(gen.Index.Variant()),
		LiveCount:  c.store.Live().Count(),
		Generation: gen.ID,
		Stale:      c.manager.Stale(),
	}
}

// Close stops maintenance and releases the store and lexical index.
func (c *Collection) Close() error {
	c.cancel()
	c.wg.Wait()
	if c.rerank != nil {
		_ = c.rerank.Close()
	}
	if c.lexical != nil {
		_ = c.lexical.Close()
	}
	return c.store.Close()
}
