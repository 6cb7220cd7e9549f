// Package cache provides a sharded, bounded, concurrent map used to
// memoize expensive per-decision lookups on the event hot path.
//
// The cache enforces its maximum size by clearing every entry when an
// insert would push it over the limit. Entries are cheap to recompute, so
// an occasional full flush is an acceptable trade for a hard bound on
// memory; no LRU bookkeeping runs on the lookup path.
//
// The zero value of V is a sentinel meaning "absent": Get returns it for
// missing keys and Set with the zero value removes the entry.
package cache

import (
	"hash/maphash"
	"sync"
	"sync/atomic"
)

const (
	// DefaultMaxSize bounds the cache when the caller passes 0.
	DefaultMaxSize = 10000

	// defaultPerBucket is the target number of entries per bucket when
	// the cache is full. Higher values trade lookup time for memory.
	defaultPerBucket = 5

	// maxPerBucket keeps buckets from growing unsearchably long.
	maxPerBucket = 64
)

type entry[K comparable, V comparable] struct {
	key   K
	value V
	next  *entry[K, V]
}

// bucket is a singly linked entry list guarded by its own lock, so
// operations on different buckets proceed fully in parallel.
type bucket[K comparable, V comparable] struct {
	mu   sync.Mutex
	head *entry[K, V]
}

// Cache is a fixed-bucket-count concurrent hash map with clear-on-overflow
// eviction. The zero value is not usable; construct with New.
type Cache[K comparable, V comparable] struct {
	buckets []bucket[K, V]
	mask    uint64
	maxSize uint64
	count   atomic.Int64
	seed    maphash.Seed

	// clearMu serializes overflow-triggered clears so two inserting
	// goroutines never race to lock every bucket.
	clearMu sync.Mutex

	zero V
}

// New creates a cache holding at most maxSize entries. A maxSize of 0
// selects DefaultMaxSize. perBucket is the target entries per bucket when
// full; 0 selects a default and values are clamped to [1, 64].
func New[K comparable, V comparable](maxSize uint64, perBucket uint8) *Cache[K, V] {
	if maxSize == 0 {
		maxSize = DefaultMaxSize
	}
	pb := uint64(perBucket)
	if pb == 0 {
		pb = defaultPerBucket
	}
	if pb > maxPerBucket {
		pb = maxPerBucket
	}
	if pb > maxSize {
		pb = maxSize
	}

	n := nextPowerOfTwo(maxSize / pb)
	return &Cache[K, V]{
		buckets: make([]bucket[K, V], n),
		mask:    n - 1,
		maxSize: maxSize,
		seed:    maphash.MakeSeed(),
	}
}

func nextPowerOfTwo(v uint64) uint64 {
	if v < 1 {
		return 1
	}
	n := uint64(1)
	for n < v {
		n <<= 1
	}
	return n
}

func (c *Cache[K, V]) bucketFor(key K) *bucket[K, V] {
	h := maphash.Comparable(c.seed, key)
	return &c.buckets[h&c.mask]
}

// Get returns the value stored for key, or the zero value of V if the key
// is absent.
func (c *Cache[K, V]) Get(key K) V {
	b := c.bucketFor(key)
	b.mu.Lock()
	for e := b.head; e != nil; e = e.next {
		if e.key == key {
			v := e.value
			b.mu.Unlock()
			return v
		}
	}
	b.mu.Unlock()
	return c.zero
}

// Set stores value for key, clearing the whole cache first if the insert
// would exceed the maximum size. Setting the zero value removes the entry.
// It reports whether the cache was modified.
func (c *Cache[K, V]) Set(key K, value V) bool {
	return c.set(key, value, nil, c.zero, false)
}

// CompareAndSet stores value for key only if the current value equals
// previous. A missing key compares equal to the zero value. It reports
// whether the swap happened.
func (c *Cache[K, V]) CompareAndSet(key K, value, previous V) bool {
	return c.set(key, value, nil, previous, true)
}

// Update calls fn with a pointer to the value stored for key while holding
// the bucket lock. If the key is absent a zero-valued entry is created
// first. fn must not call back into the cache.
func (c *Cache[K, V]) Update(key K, fn func(*V)) bool {
	return c.set(key, c.zero, fn, c.zero, false)
}

// Remove deletes the entry for key. It is an alias for Set(key, zero).
func (c *Cache[K, V]) Remove(key K) {
	c.Set(key, c.zero)
}

// Contains reports whether key is present. If pred is non-nil it is called
// with the stored value under the bucket lock and its result is returned
// instead, letting the caller filter on the value without a racy Get.
func (c *Cache[K, V]) Contains(key K, pred func(V) bool) bool {
	b := c.bucketFor(key)
	b.mu.Lock()
	defer b.mu.Unlock()
	for e := b.head; e != nil; e = e.next {
		if e.key == key {
			if pred != nil {
				return pred(e.value)
			}
			return true
		}
	}
	return false
}

// ForEach calls fn for every entry. Every bucket lock is held for the
// duration, in ascending index order; the same order Clear uses, so the
// two can never deadlock against each other. fn must not call back into
// the cache.
func (c *Cache[K, V]) ForEach(fn func(K, V)) {
	for i := range c.buckets {
		c.buckets[i].mu.Lock()
	}
	for i := range c.buckets {
		for e := c.buckets[i].head; e != nil; e = e.next {
			fn(e.key, e.value)
		}
	}
	for i := range c.buckets {
		c.buckets[i].mu.Unlock()
	}
}

// Clear removes every entry. If fn is non-nil it is called for each entry
// just before removal, under the bucket locks.
func (c *Cache[K, V]) Clear(fn func(K, V)) {
	for i := range c.buckets {
		c.buckets[i].mu.Lock()
	}
	for i := range c.buckets {
		if fn != nil {
			for e := c.buckets[i].head; e != nil; e = e.next {
				fn(e.key, e.value)
			}
		}
		c.buckets[i].head = nil
	}
	c.count.Store(0)
	for i := range c.buckets {
		c.buckets[i].mu.Unlock()
	}
}

// Len returns the number of entries currently in the cache.
func (c *Cache[K, V]) Len() int {
	return int(c.count.Load())
}

// set is the single mutation path. Exactly one of value/fn is meaningful:
// when fn is non-nil the entry is created zero-valued if needed and fn is
// invoked under the bucket lock; otherwise value is stored, with zero
// meaning removal. When hasPrevious is set the store becomes conditional
// on the current value equaling previous.
func (c *Cache[K, V]) set(key K, value V, fn func(*V), previous V, hasPrevious bool) bool {
	b := c.bucketFor(key)
	b.mu.Lock()

	var prev *entry[K, V]
	for e := b.head; e != nil; e = e.next {
		if e.key == key {
			if fn != nil {
				fn(&e.value)
				b.mu.Unlock()
				return true
			}
			if hasPrevious && e.value != previous {
				b.mu.Unlock()
				return false
			}
			e.value = value
			if value == c.zero {
				if prev != nil {
					prev.next = e.next
				} else {
					b.head = e.next
				}
				c.count.Add(-1)
			}
			b.mu.Unlock()
			return true
		}
		prev = e
	}

	// Key absent. Removals have nothing to do, and a conditional store
	// expecting a non-zero previous value must fail.
	if fn == nil && (value == c.zero || (hasPrevious && previous != c.zero)) {
		b.mu.Unlock()
		return false
	}

	// Inserting must not push the cache over its maximum size. The
	// dedicated clear lock ensures only one goroutine performs the flush;
	// the overflow condition is re-checked because another goroutine may
	// already have cleared while we waited.
	if uint64(c.count.Load())+1 > c.maxSize {
		b.mu.Unlock()
		c.clearMu.Lock()
		if uint64(c.count.Load())+1 > c.maxSize {
			c.Clear(nil)
		}
		b.mu.Lock()
		c.clearMu.Unlock()
	}

	e := &entry[K, V]{key: key, next: b.head}
	if fn != nil {
		fn(&e.value)
	} else {
		e.value = value
	}
	b.head = e
	c.count.Add(1)

	b.mu.Unlock()
	return true
}
