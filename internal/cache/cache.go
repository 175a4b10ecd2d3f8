// Package cache holds the per-process memo of previously computed results.
//
// A worker consults its Cache before doing any work and stores every result
// it produces, base cases included, keyed by the input matrix's fingerprint.
// Entries never expire; Clear wipes everything and is driven administratively
// (for example between benchmark runs), never by the solver itself.
package cache

import (
	"sync"
	"sync/atomic"

	"github.com/dreamware/schur/internal/matrix"
)

// Stats is a point-in-time view of cache occupancy and effectiveness.
type Stats struct {
	Inverses uint64 `json:"inverses" msgpack:"inverses"` // Cached inverses
	LogDets  uint64 `json:"logdets" msgpack:"logdets"`   // Cached log-determinants
	Hits     uint64 `json:"hits" msgpack:"hits"`         // Lookups answered from the cache
	Misses   uint64 `json:"misses" msgpack:"misses"`     // Lookups that found nothing
	Evicted  uint64 `json:"evicted" msgpack:"evicted"`   // Entries dropped to honour MaxEntries
}

// Cache maps matrix fingerprints to inverses and log-determinants.
// Uses sync.RWMutex so a reader never observes a partially written entry.
type Cache struct {
	mu       sync.RWMutex
	inverses *table[matrix.Matrix]
	logdets  *table[matrix.LogDet]

	hits    atomic.Uint64
	misses  atomic.Uint64
	evicted atomic.Uint64
}

// New creates a cache. maxEntries bounds each of the two tables; zero means
// unbounded, which is the normal configuration for a benchmark run.
func New(maxEntries int) *Cache {
	return &Cache{
		inverses: newTable[matrix.Matrix](maxEntries),
		logdets:  newTable[matrix.LogDet](maxEntries),
	}
}

// Inverse returns the cached inverse for fp, if any.
func (c *Cache) Inverse(fp matrix.Fingerprint) (matrix.Matrix, bool) {
	c.mu.RLock()
	v, ok := c.inverses.get(fp)
	c.mu.RUnlock()
	c.count(ok)
	return v, ok
}

// PutInverse stores inv as the inverse of the matrix fingerprinted by fp.
// Matrices are immutable, so no defensive copy is needed.
func (c *Cache) PutInverse(fp matrix.Fingerprint, inv matrix.Matrix) {
	c.mu.Lock()
	n := c.inverses.put(fp, inv)
	c.mu.Unlock()
	c.evicted.Add(uint64(n))
}

// LogDet returns the cached log-determinant for fp, if any.
func (c *Cache) LogDet(fp matrix.Fingerprint) (matrix.LogDet, bool) {
	c.mu.RLock()
	v, ok := c.logdets.get(fp)
	c.mu.RUnlock()
	c.count(ok)
	return v, ok
}

// PutLogDet stores v as the log-determinant of the matrix fingerprinted by fp.
func (c *Cache) PutLogDet(fp matrix.Fingerprint, v matrix.LogDet) {
	c.mu.Lock()
	n := c.logdets.put(fp, v)
	c.mu.Unlock()
	c.evicted.Add(uint64(n))
}

// Clear drops both tables in one critical section. Counters are kept.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inverses.reset()
	c.logdets.reset()
}

// Stats returns current occupancy and lifetime counters.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		Inverses: uint64(len(c.inverses.entries)),
		LogDets:  uint64(len(c.logdets.entries)),
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
		Evicted:  c.evicted.Load(),
	}
}

func (c *Cache) count(hit bool) {
	if hit {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
}

// table is one fingerprint-keyed map with optional FIFO bounding.
// Callers hold the Cache lock.
type table[V any] struct {
	entries map[matrix.Fingerprint]V
	order   []matrix.Fingerprint // insertion order, only tracked when bounded
	max     int
}

func newTable[V any](max int) *table[V] {
	return &table[V]{entries: make(map[matrix.Fingerprint]V), max: max}
}

func (t *table[V]) get(fp matrix.Fingerprint) (V, bool) {
	v, ok := t.entries[fp]
	return v, ok
}

// put stores v and returns how many entries were evicted to make room.
func (t *table[V]) put(fp matrix.Fingerprint, v V) int {
	if _, exists := t.entries[fp]; exists || t.max <= 0 {
		t.entries[fp] = v
		return 0
	}
	evicted := 0
	for len(t.entries) >= t.max && len(t.order) > 0 {
		delete(t.entries, t.order[0])
		t.order = t.order[1:]
		evicted++
	}
	t.entries[fp] = v
	t.order = append(t.order, fp)
	return evicted
}

func (t *table[V]) reset() {
	t.entries = make(map[matrix.Fingerprint]V)
	t.order = nil
}
