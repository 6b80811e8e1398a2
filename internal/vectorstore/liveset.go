package vectorstore

// LiveSet is an immutable bitmap of non-tombstoned record ids.
//
// The store is the single writer: Delete clones the current set, clears the
// bit, and publishes the clone atomically. Readers hold a snapshot for the
// duration of a search and can never observe a half-updated bitmap. Every
// index variant consults the same snapshot during candidate filtering, so a
// delete takes effect immediately without touching index internals.
type LiveSet struct {
	bits  []uint64
	count int
}

// NewLiveSet returns an empty LiveSet.
func NewLiveSet() *LiveSet {
	return &LiveSet{}
}

// Contains reports whether id is live.
func (l *LiveSet) Contains(id uint64) bool {
	word := id / 64
	if word >= uint64(len(l.bits)) {
		return false
	}
	return l.bits[word]&(1<<(id%64)) != 0
}

// Count returns the number of live ids.
func (l *LiveSet) Count() int {
	return l.count
}

// withSet returns a copy of l with id set.
func (l *LiveSet) withSet(id uint64) *LiveSet {
	word := id / 64
	bits := make([]uint64, max(len(l.bits), int(word)+1))
	copy(bits, l.bits)
	n := l.count
	if bits[word]&(1<<(id%64)) == 0 {
		bits[word] |= 1 << (id % 64)
		n++
	}
	return &LiveSet{bits: bits, count: n}
}

// withCleared returns a copy of l with id cleared.
func (l *LiveSet) withCleared(id uint64) *LiveSet {
	word := id / 64
	if word >= uint64(len(l.bits)) {
		return l
	}
	bits := append([]uint64(nil), l.bits...)
	n := l.count
	if bits[word]&(1<<(id%64)) != 0 {
		bits[word] &^= 1 << (id % 64)
		n--
	}
	return &LiveSet{bits: bits, count: n}
}
