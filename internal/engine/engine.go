// Package engine is the composition root: it owns the collection registry
// and wires each collection's store, index manager, planner, re-ranker, and
// semantic cache together behind one facade the HTTP layer calls.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vectord/internal/events"
	"github.com/fyrsmithlabs/vectord/internal/manager"
	"github.com/fyrsmithlabs/vectord/internal/planner"
	"github.com/fyrsmithlabs/vectord/internal/semcache"
)

// Sentinel errors for collection registry operations.
var (
	// ErrUnknownCollection is returned for operations on a collection that
	// does not exist.
	ErrUnknownCollection = errors.New("unknown collection")

	// ErrCollectionExists is returned when creating a collection whose name
	// is taken.
	ErrCollectionExists = errors.New("collection already exists")

	// ErrInvalidCollectionConfig is returned for malformed collection
	// configuration.
	ErrInvalidCollectionConfig = errors.New("invalid collection config")
)

var collectionNameRE = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// CollectionDefaults seed collections created without explicit overrides,
// typically from daemon configuration. Zero fields fall through to the
// per-package documented defaults.
type CollectionDefaults struct {
	Planner planner.Config
	Cache   semcache.Config
	Manager manager.Config
}

// Engine owns every collection in the process.
type Engine struct {
	mu          sync.RWMutex
	collections map[string]*Collection

	dataDir   string
	defaults  CollectionDefaults
	publisher *events.Publisher
	logger    *zap.Logger
}

// New creates an empty engine. dataDir is the root for per-collection WALs
// and lexical indexes; publisher may be nil.
func New(dataDir string, defaults CollectionDefaults, publisher *events.Publisher, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		collections: make(map[string]*Collection),
		dataDir:     dataDir,
		defaults:    defaults,
		publisher:   publisher,
		logger:      logger,
	}
}

// seedDefaults fills unset knobs from the engine-level defaults. Explicit
// per-collection values always win; only zero fields are seeded, so a create
// request overriding one knob does not lose the configured rest.
func (e *Engine) seedDefaults(cfg CollectionConfig) CollectionConfig {
	d := e.defaults

	if cfg.Planner.OverfetchFactor == 0 {
		cfg.Planner.OverfetchFactor = d.Planner.OverfetchFactor
	}
	if cfg.Planner.SelectivityRatio == 0 {
		cfg.Planner.SelectivityRatio = d.Planner.SelectivityRatio
	}
	if cfg.Planner.RRFConstant == 0 {
		cfg.Planner.RRFConstant = d.Planner.RRFConstant
	}
	if cfg.Planner.VectorWeight == 0 {
		cfg.Planner.VectorWeight = d.Planner.VectorWeight
	}
	if cfg.Planner.LexicalWeight == 0 {
		cfg.Planner.LexicalWeight = d.Planner.LexicalWeight
	}

	if cfg.Cache.SimilarityThreshold == 0 {
		cfg.Cache.SimilarityThreshold = d.Cache.SimilarityThreshold
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = d.Cache.TTL
	}
	if cfg.Cache.MaxPerTenant == 0 {
		cfg.Cache.MaxPerTenant = d.Cache.MaxPerTenant
	}

	if cfg.Manager.FlatThreshold == 0 {
		cfg.Manager.FlatThreshold = d.Manager.FlatThreshold
	}
	if cfg.Manager.RebuildThreshold == 0 {
		cfg.Manager.RebuildThreshold = d.Manager.RebuildThreshold
	}
	if cfg.Manager.DriftThreshold == 0 {
		cfg.Manager.DriftThreshold = d.Manager.DriftThreshold
	}
	if cfg.Manager.DeadRatio == 0 {
		cfg.Manager.DeadRatio = d.Manager.DeadRatio
	}
	if cfg.Manager.MaintainInterval == 0 {
		cfg.Manager.MaintainInterval = d.Manager.MaintainInterval
	}
	if cfg.Manager.RetryInterval == 0 {
		cfg.Manager.RetryInterval = d.Manager.RetryInterval
	}
	return cfg
}

// CreateCollection creates, wires, and starts a collection. The initial
// index generation is built synchronously, so the collection is searchable
// when this returns.
func (e *Engine) CreateCollection(ctx context.Context, cfg CollectionConfig) (*Collection, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg = e.seedDefaults(cfg)

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.collections[cfg.Name]; exists {
		return nil, fmt.Errorf("%w: %s", ErrCollectionExists, cfg.Name)
	}

	coll, err := newCollection(ctx, e.dataDir, cfg, e.publisher, e.logger.Named(cfg.Name))
	if err != nil {
		return nil, err
	}
	if err := saveManifest(filepath.Join(e.dataDir, cfg.Name), cfg); err != nil {
		_ = coll.Close()
		return nil, fmt.Errorf("writing collection manifest: %w", err)
	}
	e.collections[cfg.Name] = coll
	e.logger.Info("collection created",
		zap.String("collection", cfg.Name),
		zap.Int("dimension", cfg.Dimension),
		zap.String("metric", string(cfg.Metric)))
	return coll, nil
}

// LoadCollections reopens every collection persisted under the data
// directory by replaying its manifest through CreateCollection, so a restart
// recovers the WAL without clients re-creating anything. Directories without
// a manifest are skipped.
func (e *Engine) LoadCollections(ctx context.Context) error {
	entries, err := os.ReadDir(e.dataDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("scanning data dir: %w", err)
	}
	for _, ent := range entries {
		if !ent.IsDir() {
			continue
		}
		cfg, err := loadManifest(filepath.Join(e.dataDir, ent.Name()))
		if errors.Is(err, os.ErrNotExist) {
			e.logger.Warn("skipping directory without collection manifest",
				zap.String("dir", ent.Name()))
			continue
		}
		if err != nil {
			return fmt.Errorf("loading manifest for %s: %w", ent.Name(), err)
		}
		if _, err := e.CreateCollection(ctx, cfg); err != nil {
			return fmt.Errorf("reopening collection %s: %w", cfg.Name, err)
		}
	}
	return nil
}

// Collection returns the named collection.
func (e *Engine) Collection(name string) (*Collection, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	coll, ok := e.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCollection, name)
	}
	return coll, nil
}

// Collections returns the names of all collections.
func (e *Engine) Collections() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.collections))
	for name := range e.collections {
		names = append(names, name)
	}
	return names
}

// Close stops every collection's maintenance loop and releases resources.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var firstErr error
	for name, coll := range e.collections {
		if err := coll.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing collection %s: %w", name, err)
		}
		delete(e.collections, name)
	}
	return firstErr
}
