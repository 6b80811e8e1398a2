// Package semcache is the semantic result cache: queries whose embeddings
// are near-duplicates of a recent query, under the same tenant and filter,
// reuse the cached result set instead of re-searching the index.
//
// A hit requires all three of: cosine similarity at or above the configured
// threshold, entry generation equal to the current index generation, and an
// unexpired TTL. Entries are bucketed by a fingerprint of tenant plus
// normalized lexical text plus canonicalized filter, so near-match comparison
// only ever runs inside one tenant's bucket, never mixes queries whose text
// would fuse or re-rank differently, and results cannot cross tenants.
package semcache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vectord/internal/index"
	"github.com/fyrsmithlabs/vectord/internal/planner"
)

// Config holds the cache's tuning knobs.
type Config struct {
	// SimilarityThreshold is the minimum cosine similarity between a query
	// embedding and a cached one for the cached results to be reused.
	SimilarityThreshold float64

	// TTL bounds how long an entry may serve after being stored.
	TTL time.Duration

	// MaxPerTenant caps entries per tenant; the least recently used entry
	// is evicted at the cap, so one tenant cannot exhaust shared capacity.
	MaxPerTenant int
}

// WithDefaults fills unset knobs with documented defaults.
func (c Config) WithDefaults() Config {
	if c.SimilarityThreshold <= 0 {
		c.SimilarityThreshold = 0.97
	}
	if c.TTL <= 0 {
		c.TTL = 5 * time.Minute
	}
	if c.MaxPerTenant <= 0 {
		c.MaxPerTenant = 128
	}
	return c
}

type entry struct {
	fingerprint string
	tenantID    string
	embedding   []float32
	results     []planner.Result
	generation  uint64
	expiresAt   time.Time
	elem        *list.Element
}

// Cache is a per-collection semantic cache. Safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	cfg     Config
	buckets map[string][]*entry
	tenants map[string]*list.List
	logger  *zap.Logger

	// now is swappable for TTL tests.
	now func() time.Time
}

// New creates an empty cache.
func New(cfg Config, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		cfg:     cfg.WithDefaults(),
		buckets: make(map[string][]*entry),
		tenants: make(map[string]*list.List),
		logger:  logger,
		now:     time.Now,
	}
}

// Lookup returns cached results for a near-duplicate query under the same
// tenant, text, and filter, or false. Expired and stale-generation entries
// encountered on the way are dropped lazily.
func (c *Cache) Lookup(tenantID string, embedding []float32, text string, filter map[string]string, currentGen uint64) ([]planner.Result, bool) {
	fp := fingerprint(tenantID, text, filter)

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	bucket := c.buckets[fp]
	for i := 0; i < len(bucket); i++ {
		e := bucket[i]
		if now.After(e.expiresAt) || e.generation != currentGen {
			c.remove(e)
			bucket = c.buckets[fp]
			i--
			continue
		}
		if float64(index.CosineSimilarity(embedding, e.embedding)) >= c.cfg.SimilarityThreshold {
			c.tenants[e.tenantID].MoveToFront(e.elem)
			lookupsTotal.WithLabelValues("hit").Inc()
			return append([]planner.Result(nil), e.results...), true
		}
	}
	lookupsTotal.WithLabelValues("miss").Inc()
	return nil, false
}

// Store caches results for the query under its tenant+text+filter bucket,
// evicting the tenant's least recently used entries at capacity. Store never
// fails: a full cache degrades to eviction.
func (c *Cache) Store(tenantID string, embedding []float32, text string, filter map[string]string, results []planner.Result, generation uint64) {
	e := &entry{
		fingerprint: fingerprint(tenantID, text, filter),
		tenantID:    tenantID,
		embedding:   append([]float32(nil), embedding...),
		results:     append([]planner.Result(nil), results...),
		generation:  generation,
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e.expiresAt = c.now().Add(c.cfg.TTL)

	lru := c.tenants[tenantID]
	if lru == nil {
		lru = list.New()
		c.tenants[tenantID] = lru
	}

	// Link the new entry before evicting: if eviction drained the list to
	// zero first, remove would unregister the tenant's LRU and the new entry
	// would land on an orphaned list, invisible to InvalidateTenant.
	e.elem = lru.PushFront(e)
	c.buckets[e.fingerprint] = append(c.buckets[e.fingerprint], e)
	entriesGauge.Inc()

	for lru.Len() > c.cfg.MaxPerTenant {
		oldest := lru.Back()
		c.remove(oldest.Value.(*entry))
		evictionsTotal.WithLabelValues("lru").Inc()
	}
}

// InvalidateGeneration drops every entry whose generation differs from
// current. Called by the manager when a rebuild publishes.
func (c *Cache) InvalidateGeneration(current uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var dropped int
	for _, bucket := range c.buckets {
		// remove mutates the bucket slice; walk a copy.
		for _, e := range append([]*entry(nil), bucket...) {
			if e.generation != current {
				c.remove(e)
				dropped++
			}
		}
	}
	if dropped > 0 {
		evictionsTotal.WithLabelValues("generation").Add(float64(dropped))
		c.logger.Debug("cache invalidated on generation change",
			zap.Uint64("generation", current), zap.Int("dropped", dropped))
	}
}

// InvalidateTenant drops every entry belonging to the tenant. Called on
// deletes: a tombstone changes result sets without bumping the generation,
// and only the deleting tenant's cached results can be affected.
func (c *Cache) InvalidateTenant(tenantID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	lru := c.tenants[tenantID]
	if lru == nil {
		return
	}
	var dropped int
	for e := lru.Front(); e != nil; {
		next := e.Next()
		c.remove(e.Value.(*entry))
		dropped++
		e = next
	}
	evictionsTotal.WithLabelValues("delete").Add(float64(dropped))
}

// Len returns the total number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, bucket := range c.buckets {
		n += len(bucket)
	}
	return n
}

// remove unlinks e from its bucket and its tenant's LRU. Caller holds c.mu.
func (c *Cache) remove(e *entry) {
	bucket := c.buckets[e.fingerprint]
	for i, candidate := range bucket {
		if candidate == e {
			bucket = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if len(bucket) == 0 {
		delete(c.buckets, e.fingerprint)
	} else {
		c.buckets[e.fingerprint] = bucket
	}
	if lru := c.tenants[e.tenantID]; lru != nil {
		lru.Remove(e.elem)
		if lru.Len() == 0 {
			delete(c.tenants, e.tenantID)
		}
	}
	entriesGauge.Dec()
}

// fingerprint hashes the tenant, the normalized lexical text, and the
// canonicalized filter. Filter keys are sorted and text is case- and
// whitespace-normalized, so logically-equal queries always land in the same
// bucket. Text is part of the key because it drives fusion and re-ranking:
// the same embedding with different text produces different results.
func fingerprint(tenantID, text string, filter map[string]string) string {
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(tenantID)
	b.WriteByte(0)
	b.WriteString(normalizeText(text))
	for _, k := range keys {
		b.WriteByte(0)
		b.WriteString(k)
		b.WriteByte(0)
		b.WriteString(filter[k])
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// normalizeText lowercases and collapses whitespace.
func normalizeText(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}
