// Package manager owns the index lifecycle for one collection: choosing a
// variant, keeping the served index fresh through incremental maintenance,
// and running double-buffered background rebuilds that swap in atomically.
//
// Queries always read the currently published generation; a rebuild works on
// a private structure and publishes it in one pointer store, so a query
// observes exactly one generation end to end. Rebuild failure keeps the
// prior generation serving and surfaces only as staleness metadata.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/vectord/internal/events"
	"github.com/fyrsmithlabs/vectord/internal/index"
	"github.com/fyrsmithlabs/vectord/internal/semcache"
	"github.com/fyrsmithlabs/vectord/internal/vectorstore"
)

// Config holds the manager's tuning knobs.
type Config struct {
	// Variant pins an index strategy; empty selects automatically.
	Variant index.Variant

	// Metric is the collection's distance metric.
	Metric index.Metric

	// Params tunes the chosen variant.
	Params index.Params

	// Workload hints the automatic strategy choice.
	Workload Workload

	// FlatThreshold is the live count below which the automatic choice
	// stays with the exact Flat scan.
	FlatThreshold int

	// RebuildThreshold is how many unindexed writes accumulate before a
	// batch variant schedules a rebuild.
	RebuildThreshold int

	// DriftThreshold is the IVF drift ratio above which the maintain loop
	// schedules a retrain.
	DriftThreshold float64

	// DeadRatio is the tombstone fraction of the indexed set above which a
	// compacting rebuild is scheduled.
	DeadRatio float64

	// MaintainInterval is the poll period of the maintain loop.
	MaintainInterval time.Duration

	// RetryInterval paces rebuild attempts after a failure.
	RetryInterval time.Duration
}

// WithDefaults fills unset knobs with documented defaults.
func (c Config) WithDefaults() Config {
	if c.Metric == "" {
		c.Metric = index.MetricL2
	}
	if c.Workload == "" {
		c.Workload = WorkloadIncremental
	}
	if c.FlatThreshold <= 0 {
		c.FlatThreshold = 10000
	}
	if c.RebuildThreshold <= 0 {
		c.RebuildThreshold = 1000
	}
	if c.DriftThreshold <= 0 {
		c.DriftThreshold = 1.5
	}
	if c.DeadRatio <= 0 {
		c.DeadRatio = 0.5
	}
	if c.MaintainInterval <= 0 {
		c.MaintainInterval = 2 * time.Second
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 10 * time.Second
	}
	return c
}

// Manager maintains the serving index for one collection.
type Manager struct {
	store     *vectorstore.Store
	cache     *semcache.Cache
	publisher *events.Publisher
	cfg       Config
	logger    *zap.Logger

	gen   atomic.Pointer[index.Generation]
	genID atomic.Uint64

	// appliedVersion is the highest store version reflected in the served
	// index, whether by rebuild or by incremental insert.
	appliedVersion atomic.Uint64

	// rebuildMu serializes rebuilds; queries never take it.
	rebuildMu sync.Mutex

	// retryLimiter paces automatic rebuild attempts after a failure so a
	// persistently failing build cannot spin the maintain loop.
	retryLimiter *rate.Limiter

	trigger chan struct{}
}

// New creates a manager and synchronously builds the first generation so a
// collection is searchable from the moment it exists. cache and publisher
// may be nil.
func New(ctx context.Context, store *vectorstore.Store, cache *semcache.Cache, publisher *events.Publisher, cfg Config, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.WithDefaults()
	m := &Manager{
		store:     store,
		cache:     cache,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
		trigger:   make(chan struct{}, 1),
	}
	m.retryLimiter = rate.NewLimiter(rate.Every(cfg.RetryInterval), 1)
	if err := m.Rebuild(ctx); err != nil {
		return nil, fmt.Errorf("initial index build: %w", err)
	}
	return m, nil
}

// Generation returns the currently served generation. Never nil after New.
func (m *Manager) Generation() *index.Generation {
	return m.gen.Load()
}

// Stale reports whether the store has writes the served index has not yet
// absorbed. Stale results are still correct for every record the index
// covers; the flag is metadata, not an error.
func (m *Manager) Stale() bool {
	stale := m.store.CurrentVersion() > m.appliedVersion.Load()
	if stale {
		staleGauge.WithLabelValues(m.store.Name()).Set(1)
	} else {
		staleGauge.WithLabelValues(m.store.Name()).Set(0)
	}
	return stale
}

// TriggerRebuild schedules an immediate rebuild on the maintain loop. It
// never blocks; a rebuild already pending absorbs the request.
func (m *Manager) TriggerRebuild() {
	select {
	case m.trigger <- struct{}{}:
	default:
	}
}

// Maintain runs the background maintenance loop until ctx is canceled:
// incremental inserts for variants that support them, rebuild scheduling for
// batch variants, drift-triggered retrains, and admin-triggered rebuilds.
func (m *Manager) Maintain(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.MaintainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.trigger:
			if err := m.Rebuild(ctx); err != nil && !errors.Is(err, context.Canceled) {
				m.logger.Error("triggered rebuild failed", zap.Error(err))
			}
		case <-ticker.C:
			m.maintainPass(ctx)
		}
	}
}

// maintainPass absorbs writes since the last pass and decides whether a
// rebuild is due.
func (m *Manager) maintainPass(ctx context.Context) {
	gen := m.gen.Load()
	if gen == nil {
		return
	}

	rebuildDue := false

	scanner := m.store.ScanSince(m.appliedVersion.Load())
	pending := 0
	for {
		rec, ok := scanner.Next()
		if !ok {
			break
		}
		if gen.Index.Variant() == index.VariantHNSW {
			// HNSW absorbs writes in place; the graph serializes inserts
			// against concurrent searches internally.
			if err := gen.Index.Insert(rec); err != nil {
				m.logger.Warn("incremental insert failed, scheduling rebuild",
					zap.Uint64("record_id", rec.ID), zap.Error(err))
				rebuildDue = true
				break
			}
			m.appliedVersion.Store(scanner.Cursor())
			continue
		}
		pending++
	}
	if gen.Index.Variant() == index.VariantHNSW {
		// Tombstone-only tail: the live filter already hides deletes.
		m.appliedVersion.Store(scanner.Cursor())
	}

	if pending >= m.cfg.RebuildThreshold {
		rebuildDue = true
	}
	if ivf, ok := gen.Index.(*index.IVF); ok && ivf.DriftRatio() > m.cfg.DriftThreshold {
		m.logger.Info("ivf drift above threshold, scheduling retrain",
			zap.Float64("drift_ratio", ivf.DriftRatio()))
		rebuildDue = true
	}
	if size := gen.Index.Size(); size > 0 {
		if dead := 1 - float64(m.store.Live().Count())/float64(size); dead > m.cfg.DeadRatio {
			rebuildDue = true
		}
	}

	m.Stale()

	if !rebuildDue || !m.retryLimiter.Allow() {
		return
	}
	if err := m.Rebuild(ctx); err != nil && !errors.Is(err, context.Canceled) {
		m.logger.Error("background rebuild failed, prior generation keeps serving",
			zap.Error(err))
	}
}

// Rebuild builds a fresh index from live records and publishes it as a new
// generation. The previous generation serves every query that started before
// the swap; failure leaves it in place.
func (m *Manager) Rebuild(ctx context.Context) error {
	m.rebuildMu.Lock()
	defer m.rebuildMu.Unlock()

	start := time.Now()
	coveredVersion := m.store.CurrentVersion()
	records := m.store.LiveRecords()

	variant := ChooseStrategy(m.cfg.Variant, len(records), m.cfg.FlatThreshold, m.cfg.Workload)
	idx, err := m.buildIndex(ctx, variant, records)
	if err != nil {
		rebuildsTotal.WithLabelValues(m.store.Name(), "failure").Inc()
		return err
	}

	gen := &index.Generation{
		ID:             m.genID.Add(1),
		Index:          idx,
		CoveredVersion: coveredVersion,
		CreatedAt:      time.Now(),
	}
	m.gen.Store(gen)
	m.appliedVersion.Store(coveredVersion)

	if m.cache != nil {
		m.cache.InvalidateGeneration(gen.ID)
	}
	m.publisher.PublishGenerationChanged(events.GenerationChanged{
		Collection:     m.store.Name(),
		Generation:     gen.ID,
		Variant:        string(idx.Variant()),
		CoveredVersion: coveredVersion,
		PublishedAt:    gen.CreatedAt,
	})

	rebuildsTotal.WithLabelValues(m.store.Name(), "success").Inc()
	generationGauge.WithLabelValues(m.store.Name()).Set(float64(gen.ID))
	rebuildDuration.WithLabelValues(m.store.Name()).Observe(time.Since(start).Seconds())
	m.logger.Info("published index generation",
		zap.Uint64("generation", gen.ID),
		zap.String("variant", string(idx.Variant())),
		zap.Int("records", len(records)),
		zap.Uint64("covered_version", coveredVersion),
		zap.Duration("took", time.Since(start)))
	return nil
}

// buildIndex builds the chosen variant, degrading to the exact Flat scan
// when the approximate structure would blow the memory budget.
func (m *Manager) buildIndex(ctx context.Context, variant index.Variant, records []vectorstore.Record) (index.Index, error) {
	idx, err := index.New(variant, m.store.Dimension(), m.cfg.Metric, m.cfg.Params)
	if err != nil {
		return nil, err
	}
	err = idx.Build(ctx, records)
	if errors.Is(err, index.ErrMemoryLimit) && variant != index.VariantFlat {
		m.logger.Warn("index over memory budget, falling back to flat",
			zap.String("variant", string(variant)), zap.Error(err))
		flat := index.NewFlat(m.store.Dimension(), m.cfg.Metric)
		if err := flat.Build(ctx, records); err != nil {
			return nil, err
		}
		return flat, nil
	}
	if err != nil {
		return nil, err
	}
	return idx, nil
}
