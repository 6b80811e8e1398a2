package vectorstore

import "sort"

// Scanner is a restartable version cursor over a store's records.
//
// Next takes the store's read lock per call, so a scan interleaves with
// concurrent inserts: records appended after the scan started are still
// visible once their version exceeds the cursor. Tombstoned records are
// skipped.
type Scanner struct {
	store  *Store
	cursor uint64
}

// Next returns the next non-tombstoned record with version > cursor.
// The second return is false when the scan is exhausted.
func (sc *Scanner) Next() (Record, bool) {
	sc.store.mu.RLock()
	defer sc.store.mu.RUnlock()

	recs := sc.store.records
	// Records are held in version order; find the first past the cursor.
	i := sort.Search(len(recs), func(i int) bool {
		return recs[i].Version > sc.cursor
	})
	for ; i < len(recs); i++ {
		sc.cursor = recs[i].Version
		if recs[i].Deleted {
			continue
		}
		return recs[i].clone(), true
	}
	return Record{}, false
}

// Cursor returns the version of the last record surfaced (or the seed
// version before any Next). ScanSince(Cursor()) resumes the scan.
func (sc *Scanner) Cursor() uint64 {
	return sc.cursor
}
