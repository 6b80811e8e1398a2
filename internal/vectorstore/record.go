// Package vectorstore provides durable, versioned storage of vector records.
//
// The store is the engine's source of truth: append-only record storage with
// a strictly increasing per-collection version counter, tombstone deletes,
// and restartable version cursors for index builders. Durability comes from
// a write-ahead log that is synced before an insert is acknowledged.
package vectorstore

// Record is one stored vector with its payload metadata.
//
// Records are never mutated after insert except for the tombstone flag.
// Deleted records stay in place until a rebuild compacts them; search paths
// exclude them through the shared LiveSet.
type Record struct {
	// ID is the store-assigned identifier, monotonically increasing from 1.
	ID uint64

	// TenantID is the owning tenant. A record belongs to exactly one tenant.
	TenantID string

	// Embedding is the fixed-dimension vector.
	Embedding []float32

	// Payload is opaque metadata carried through to results and usable in
	// filter predicates.
	Payload map[string]any

	// Version is the per-collection insert version, strictly increasing.
	Version uint64

	// Deleted marks a tombstoned record.
	Deleted bool
}

// clone returns a deep enough copy for handing outside the store lock.
func (r Record) clone() Record {
	cp := r
	cp.Embedding = append([]float32(nil), r.Embedding...)
	if r.Payload != nil {
		cp.Payload = make(map[string]any, len(r.Payload))
		for k, v := range r.Payload {
			cp.Payload[k] = v
		}
	}
	return cp
}
