// Package cache implements the pinning LRU block cache that backs the
// paging engine (spec §3.3/§4.1): at most one live in-memory buffer per
// block index, a reference count that distinguishes "pinned" (refs > 0,
// never evicted) from "cached" (refs == 0, resident and evictable), and a
// dirty bit cleared on flush.
//
// Grounded on pebble's internal/cache package: a shard-table lookup backed
// by a refcounted Value, the same shape this cache uses for its Entry.
package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/cockroachdb/crlib/crtime"
	"github.com/cockroachdb/swiss"
	"github.com/prequeldb/prequel/internal/base"
)

// Entry is one resident block buffer. Entries are obtained from a Cache via
// TryPin or Create and must be released with Unpin exactly once per
// acquisition (a successful TryPin and a Create each count as one).
type Entry struct {
	Key        base.BlockIndex
	Buf        []byte
	dirty      bool
	refs       int32
	elem       *list.Element // valid only while refs == 0 (present in the LRU list)
	lastPinned crtime.Mono   // stamped whenever refs goes 0 -> >0
}

// Dirty reports whether the entry has unflushed writes.
func (e *Entry) Dirty() bool { return e.dirty }

// Cache is a fixed-block-size, reference-counted LRU cache of block
// buffers. Capacity is a target, not a hard cap: pinned entries are never
// evicted, so the resident set may temporarily exceed Capacity when many
// blocks are pinned at once (spec §4.1).
type Cache struct {
	mu        sync.Mutex
	blockSize uint32
	capacity  int

	index *swiss.Map[base.BlockIndex, *Entry]
	lru   *list.List // of *Entry, refs == 0, most-recently-used at Front

	hist *hdrhistogram.Histogram
}

// New returns a Cache holding blocks of blockSize bytes, targeting capacity
// resident blocks.
func New(blockSize uint32, capacity int) *Cache {
	return &Cache{
		blockSize: blockSize,
		capacity:  capacity,
		index:     swiss.New[base.BlockIndex, *Entry](capacity),
		lru:       list.New(),
		hist:      hdrhistogram.New(0, 1_000_000, 3),
	}
}

// Len returns the number of resident blocks (pinned + cached).
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index.Len()
}

// PinResult describes the outcome of TryPin.
type PinResult int

const (
	// NotResident: the block is not in memory at all.
	NotResident PinResult = iota
	// Pinned: the block was resident and unpinned; it is now pinned.
	Pinned
	// AlreadyPinned: the block was already pinned by another live handle.
	AlreadyPinned
)

// TryPin attempts to pin the resident entry for key. Per spec §4.1, pinning
// an already-pinned block is refused (AlreadyPinned) rather than nesting:
// nested references are the typed-handle layer's job, not the cache's.
func (c *Cache) TryPin(key base.BlockIndex) (*Entry, PinResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.index.Get(key)
	if !ok {
		c.hist.RecordValue(0)
		return nil, NotResident
	}
	c.hist.RecordValue(1)
	if e.refs > 0 {
		return nil, AlreadyPinned
	}
	c.pinLocked(e)
	return e, Pinned
}

// Create makes a new resident entry for key with an undefined buffer,
// pins it (refs=1), and evicts LRU unpinned entries as needed to respect
// Capacity. key must not already be resident. The returned entry's buffer
// has length blockSize and undefined content; the caller is expected to
// overwrite it (read from disk, or zero it for a freshly grown block).
func (c *Cache) Create(key base.BlockIndex) *Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := &Entry{Key: key, Buf: make([]byte, c.blockSize), refs: 1, lastPinned: crtime.NowMono()}
	c.index.Put(key, e)
	c.evictIfNeededLocked()
	return e
}

// Unpin decrements e's reference count. When it reaches zero the entry
// becomes eligible for eviction (moved to the LRU list's most-recently-used
// position).
func (c *Cache) Unpin(e *Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e.refs == 0 {
		panic("prequel/cache: Unpin of an already-unpinned entry")
	}
	e.refs--
	if e.refs == 0 {
		e.elem = c.lru.PushFront(e)
		c.evictIfNeededLocked()
	}
}

// Pinned reports whether key is currently resident with refs > 0.
func (c *Cache) Pinned(key base.BlockIndex) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.index.Get(key)
	return ok && e.refs > 0
}

// MarkDirty marks e dirty. The caller must hold a pin on e.
func (c *Cache) MarkDirty(e *Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e.dirty = true
}

// ClearDirty clears e's dirty bit, typically after a successful flush.
func (c *Cache) ClearDirty(e *Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e.dirty = false
}

// pinLocked removes e from the LRU list (if present) and increments refs.
// c.mu must be held.
func (c *Cache) pinLocked(e *Entry) {
	if e.refs == 0 && e.elem != nil {
		c.lru.Remove(e.elem)
		e.elem = nil
	}
	e.refs++
	e.lastPinned = crtime.NowMono()
}

// evictIfNeededLocked evicts least-recently-used unpinned entries until the
// resident set is at or below capacity, or until there is nothing left
// eligible for eviction. It stops at the first dirty LRU entry and leaves it
// for the pager, which writes it back via EvictCandidate/RemoveEvicted;
// writing is the pager's job, not the cache's, since the cache has no I/O
// dependency.
func (c *Cache) evictIfNeededLocked() {
	for c.index.Len() > c.capacity && c.lru.Len() > 0 {
		back := c.lru.Back()
		e := back.Value.(*Entry)
		if e.dirty {
			// The cache cannot perform I/O itself; EvictCandidate (below) is
			// how the pager drives writeback-then-eviction. Stop here and
			// let the pager decide: without a pager-mediated writeback we
			// must not silently drop dirty data.
			return
		}
		c.lru.Remove(back)
		c.index.Delete(e.Key)
	}
}

// EvictCandidate returns the least-recently-used unpinned entry, if the
// resident set exceeds capacity, without removing it. The pager calls this,
// writes the entry back if dirty, and then calls RemoveEvicted to finish
// the eviction. This two-step protocol keeps I/O out of the cache package.
func (c *Cache) EvictCandidate() (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.index.Len() <= c.capacity || c.lru.Len() == 0 {
		return nil, false
	}
	e := c.lru.Back().Value.(*Entry)
	return e, true
}

// RemoveEvicted removes e from the cache. e must have refs == 0 and must
// not be dirty (the caller is responsible for having flushed it).
func (c *Cache) RemoveEvicted(e *Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e.refs != 0 {
		panic("prequel/cache: RemoveEvicted of a pinned entry")
	}
	if e.elem != nil {
		c.lru.Remove(e.elem)
		e.elem = nil
	}
	c.index.Delete(e.Key)
}

// Remove forcibly drops key from the cache regardless of dirty state, used
// when the engine is discarding a block it knows is no longer meaningful
// (e.g. a block returned to the allocator's free pool). The entry must not
// be pinned.
func (c *Cache) Remove(key base.BlockIndex) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.index.Get(key)
	if !ok {
		return
	}
	if e.refs != 0 {
		panic("prequel/cache: Remove of a pinned entry")
	}
	if e.elem != nil {
		c.lru.Remove(e.elem)
	}
	c.index.Delete(key)
}

// All calls fn for every resident entry, in unspecified order.
func (c *Cache) All(fn func(*Entry)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index.All(func(_ base.BlockIndex, e *Entry) bool {
		fn(e)
		return true
	})
}

// OldestUnpinnedAge returns how long the least-recently-used unpinned
// entry — the next eviction candidate — was last pinned, using crlib's
// monotonic clock so the figure is immune to wall-clock adjustments. The
// second return is false if no entry is currently evictable.
func (c *Cache) OldestUnpinnedAge() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lru.Len() == 0 {
		return 0, false
	}
	e := c.lru.Back().Value.(*Entry)
	return e.lastPinned.Elapsed(), true
}

// HitRate returns the fraction of TryPin calls that found a resident block
// since the cache was created (approximate; backed by an HDR histogram the
// same way pebble's cache exposes latency/hit metrics).
func (c *Cache) HitRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.hist.TotalCount()
	if total == 0 {
		return 0
	}
	return c.hist.Mean()
}
