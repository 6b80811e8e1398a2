package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Config holds store configuration for one collection.
type Config struct {
	// Name is the collection name, used for log fields and metric labels.
	Name string

	// Dimension is the fixed embedding dimension D. Required.
	Dimension int

	// Dir is the directory for the write-ahead log. Empty disables
	// durability (tests, ephemeral collections).
	Dir string
}

// Store is the append-only, versioned record storage for one collection.
//
// The in-memory record slice is the serving copy; the WAL is the durable
// copy. Records are held in version order, which makes version cursors a
// binary search.
type Store struct {
	mu      sync.RWMutex
	name    string
	dim     int
	records []Record
	byID    map[uint64]int
	version uint64
	nextID  uint64
	closed  bool

	live atomic.Pointer[LiveSet]

	wal    *WAL
	logger *zap.Logger
}

// New creates a store, replaying the write-ahead log when Dir is set.
//
// A corrupt log tail is truncated and surfaced as ErrCorruptLog alongside a
// usable store; the caller decides whether to rebuild indexes from the
// recovered prefix.
func New(cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("invalid dimension %d", cfg.Dimension)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Store{
		name:   cfg.Name,
		dim:    cfg.Dimension,
		byID:   make(map[uint64]int),
		logger: logger,
	}
	s.live.Store(NewLiveSet())

	if cfg.Dir == "" {
		return s, nil
	}

	wal, err := OpenWAL(cfg.Dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open wal: %w", err)
	}
	s.wal = wal

	entries, replayErr := wal.Replay()
	for _, e := range entries {
		switch e.Op {
		case opInsert:
			s.applyInsert(e.Record)
		case opDelete:
			s.applyDelete(e.RecordID)
		}
	}
	if replayErr != nil {
		logger.Error("wal replay recovered partial state",
			zap.Int("entries", len(entries)),
			zap.Error(replayErr))
		return s, replayErr
	}
	if len(entries) > 0 {
		logger.Info("wal replayed",
			zap.Int("entries", len(entries)),
			zap.Uint64("version", s.version))
	}
	return s, nil
}

// Dimension returns the collection's fixed embedding dimension.
func (s *Store) Dimension() int { return s.dim }

// Name returns the collection name.
func (s *Store) Name() string { return s.name }

// Insert appends a record and returns its assigned id and version.
//
// The insert is durable (WAL appended and synced) before it is acknowledged.
// Fails with ErrDimensionMismatch when the embedding length differs from the
// collection's dimension.
func (s *Store) Insert(ctx context.Context, tenantID string, embedding []float32, payload map[string]any) (uint64, uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	if len(embedding) != s.dim {
		return 0, 0, fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, s.dim, len(embedding))
	}
	for i, v := range embedding {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return 0, 0, fmt.Errorf("%w: index %d", ErrInvalidVector, i)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, 0, ErrClosed
	}

	rec := Record{
		ID:        s.nextID + 1,
		TenantID:  tenantID,
		Embedding: append([]float32(nil), embedding...),
		Version:   s.version + 1,
	}
	if payload != nil {
		rec.Payload = make(map[string]any, len(payload))
		for k, v := range payload {
			rec.Payload[k] = v
		}
	}

	// Durability failures surface as hard errors to the caller: the record
	// is not applied in memory unless the WAL accepted it.
	if s.wal != nil {
		if err := s.wal.AppendInsert(rec); err != nil {
			return 0, 0, fmt.Errorf("wal append: %w", err)
		}
	}

	s.applyInsert(rec)
	insertsTotal.WithLabelValues(s.name).Inc()
	recordsLive.WithLabelValues(s.name).Set(float64(s.live.Load().Count()))
	return rec.ID, rec.Version, nil
}

// applyInsert applies an insert to in-memory state. Caller holds mu
// (or is single-threaded replay).
func (s *Store) applyInsert(rec Record) {
	s.byID[rec.ID] = len(s.records)
	s.records = append(s.records, rec)
	if rec.ID > s.nextID {
		s.nextID = rec.ID
	}
	if rec.Version > s.version {
		s.version = rec.Version
	}
	s.live.Store(s.live.Load().withSet(rec.ID))
}

// Delete tombstones a record. Repeated deletes of the same id are no-ops.
// Deleting an id that never existed returns ErrNotFound.
func (s *Store) Delete(ctx context.Context, id uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	idx, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	if s.records[idx].Deleted {
		return nil
	}

	if s.wal != nil {
		if err := s.wal.AppendDelete(id); err != nil {
			return fmt.Errorf("wal append: %w", err)
		}
	}

	s.applyDelete(id)
	deletesTotal.WithLabelValues(s.name).Inc()
	recordsLive.WithLabelValues(s.name).Set(float64(s.live.Load().Count()))
	return nil
}

// applyDelete applies a tombstone to in-memory state.
func (s *Store) applyDelete(id uint64) {
	idx, ok := s.byID[id]
	if !ok || s.records[idx].Deleted {
		return
	}
	s.records[idx].Deleted = true
	s.live.Store(s.live.Load().withCleared(id))
}

// Live returns the current live-id snapshot. The snapshot is immutable and
// safe to hold for the duration of a search.
func (s *Store) Live() *LiveSet {
	return s.live.Load()
}

// Record returns a copy of the record with the given id.
func (s *Store) Record(id uint64) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.byID[id]
	if !ok {
		return Record{}, false
	}
	return s.records[idx].clone(), true
}

// LiveRecords returns copies of all non-tombstoned records in version order.
// Used by index rebuilds; tombstones are physically absent from the result,
// which is where compaction happens.
func (s *Store) LiveRecords() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		if !rec.Deleted {
			out = append(out, rec.clone())
		}
	}
	return out
}

// Count returns the total number of records, tombstones included.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// CurrentVersion returns the latest assigned version.
func (s *Store) CurrentVersion() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// ScanSince returns a cursor over non-tombstoned records with version
// strictly greater than version, in version order. The cursor is finite and
// restartable: Cursor() after any Next() can seed a later ScanSince.
func (s *Store) ScanSince(version uint64) *Scanner {
	return &Scanner{store: s, cursor: version}
}

// Close releases the WAL. Further operations return ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.wal != nil {
		return s.wal.Close()
	}
	return nil
}
