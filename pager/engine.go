// Package pager implements the paging engine of spec §4.1: fixed-size
// block I/O over a vfs.File, pin/unpin with a pinning LRU cache, dirty
// tracking, and flush.
//
// Grounded on pebble's scoped-acquisition handle idiom (spec §9's design
// note references pebble-style reference-counted block handles) and on
// pebble's own block-cache-backed reader path, adapted here to a
// single-writer, no-compression, no-checksum block store since this layer
// has no notion of sstable-style block trailers.
package pager

import (
	"context"
	"sync"

	"github.com/cockroachdb/tokenbucket"
	"github.com/prequeldb/prequel/internal/base"
	"github.com/prequeldb/prequel/internal/cache"
	"github.com/prequeldb/prequel/vfs"
)

// DefaultBlockSize is used when Options.BlockSize is zero.
const DefaultBlockSize = 4096

// cacheHeadroom is the number of additional resident blocks the cache is
// allowed beyond Options.CacheBlocks before eviction is attempted (spec
// §4.1: "Target set size = cache_blocks + 8").
const cacheHeadroom = 8

// Options configures an Engine.
type Options struct {
	// BlockSize must be a power of two. Default DefaultBlockSize.
	BlockSize uint32
	// CacheBlocks is the target number of resident blocks, not counting the
	// +8 headroom spec §4.1 allows. Default 256.
	CacheBlocks int
	// Logger receives diagnostics (stashed eviction-write failures, etc).
	Logger base.Logger
	// RateLimit, if non-nil, paces Flush()'s write-back bytes/sec. Off by
	// default; exists so callers writing very large dirty sets don't starve
	// foreground I/O on spinning disks.
	RateLimit *tokenbucket.TokenBucket
}

// EnsureDefaults fills zero fields with their defaults and returns o.
func (o *Options) EnsureDefaults() *Options {
	if o.BlockSize == 0 {
		o.BlockSize = DefaultBlockSize
	}
	if o.CacheBlocks == 0 {
		o.CacheBlocks = 256
	}
	if o.Logger == nil {
		o.Logger = base.NoopLogger{}
	}
	return o
}

func isPowerOfTwo(n uint32) bool { return n != 0 && n&(n-1) == 0 }

// Engine owns the backing file and its block cache. It is not safe for
// concurrent use (spec §5: single-threaded cooperative).
type Engine struct {
	opts  Options
	fs    vfs.FS
	file  vfs.File
	cache *cache.Cache

	mu sync.Mutex

	// stashedErr records a failed eviction write so it can be surfaced to
	// the caller of the next operation that touches this engine (spec §7:
	// "Failed writes during cache eviction ... are stashed on the engine
	// and re-raised on the next user operation").
	stashedErr error

	metrics Metrics
}

// Open opens path via fs with the given access mode and flags, and
// constructs an Engine over it.
func Open(fs vfs.FS, path string, access vfs.AccessMode, flags vfs.OpenFlags, opts Options) (*Engine, error) {
	opts.EnsureDefaults()
	if !isPowerOfTwo(opts.BlockSize) {
		return nil, base.BadArgumentf("pager: block size %d is not a power of two", opts.BlockSize)
	}
	f, err := fs.Open(path, access, flags)
	if err != nil {
		return nil, err
	}
	return &Engine{
		opts:  opts,
		fs:    fs,
		file:  f,
		cache: cache.New(opts.BlockSize, opts.CacheBlocks+cacheHeadroom),
	}, nil
}

// BlockSize returns the engine's fixed block size.
func (e *Engine) BlockSize() uint32 { return e.opts.BlockSize }

// Size returns the number of blocks currently in the file.
func (e *Engine) Size() (base.BlockIndex, error) {
	if err := e.takeStashedErr(); err != nil {
		return 0, err
	}
	sz, err := e.file.Size()
	if err != nil {
		return 0, err
	}
	return base.BlockIndex(uint64(sz) / uint64(e.opts.BlockSize)), nil
}

// Grow extends the file by n blocks. New block content is not initialized.
func (e *Engine) Grow(n uint64) error {
	if err := e.takeStashedErr(); err != nil {
		return err
	}
	cur, err := e.file.Size()
	if err != nil {
		return err
	}
	return e.file.Truncate(cur + int64(n)*int64(e.opts.BlockSize))
}

// takeStashedErr returns and clears any previously stashed eviction-write
// failure.
func (e *Engine) takeStashedErr() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	err := e.stashedErr
	e.stashedErr = nil
	return err
}

func (e *Engine) stash(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stashedErr == nil {
		e.stashedErr = err
	}
}

// readBlock reads block index's content from disk into buf.
func (e *Engine) readBlock(index base.BlockIndex, buf []byte) error {
	return e.file.ReadAt(buf, int64(uint64(index)*uint64(e.opts.BlockSize)))
}

// writeBlock writes buf to block index's location on disk.
func (e *Engine) writeBlock(index base.BlockIndex, buf []byte) error {
	return e.file.WriteAt(buf, int64(uint64(index)*uint64(e.opts.BlockSize)))
}

// evictOneIfNeeded writes back (if dirty) and drops LRU unpinned entries
// while the resident set exceeds the cache's target. It stops early, leaving
// the entry resident and dirty, when a write-back fails.
func (e *Engine) evictOneIfNeeded() error {
	for {
		cand, ok := e.cache.EvictCandidate()
		if !ok {
			return nil
		}
		if cand.Dirty() {
			if err := e.writeBlock(cand.Key, cand.Buf); err != nil {
				// Spec §4.1: "A failed eviction write is retried on the
				// next flush(); the block remains in memory and dirty."
				e.opts.Logger.Errorf("pager: eviction write-back of %s failed: %v", cand.Key, err)
				e.stash(base.IOErrorf("pager: eviction write-back of %s failed: %v", cand.Key, err))
				return nil
			}
			e.cache.ClearDirty(cand)
		}
		e.cache.RemoveEvicted(cand)
		e.metrics.Evictions++
	}
}

// Pin makes block index resident and returns a handle holding it pinned.
// If initialize is true and the block was not already resident, its
// content is read from disk; otherwise a freshly-created buffer's content
// is undefined. If the block is already resident, initialize is ignored.
// Pinning an already-pinned block is an error (spec §4.1).
func (e *Engine) Pin(index base.BlockIndex, initialize bool) (*BlockHandle, error) {
	if err := e.takeStashedErr(); err != nil {
		return nil, err
	}
	if !index.Valid() {
		return nil, base.BadArgumentf("pager: cannot pin the invalid block sentinel")
	}

	entry, result := e.cache.TryPin(index)
	switch result {
	case cache.AlreadyPinned:
		return nil, base.BadArgumentf("pager: block %s is already pinned", index)
	case cache.Pinned:
		e.metrics.Hits++
		return &BlockHandle{e: e, entry: entry}, nil
	}

	// Not resident: make room, then create and optionally load.
	if err := e.evictOneIfNeeded(); err != nil {
		return nil, err
	}
	e.metrics.Misses++
	entry = e.cache.Create(index)
	if initialize {
		if err := e.readBlock(index, entry.Buf); err != nil {
			e.cache.Unpin(entry)
			return nil, err
		}
	}
	return &BlockHandle{e: e, entry: entry}, nil
}

// MarkDirty records that h's block has been modified; it will be written
// on flush or eviction.
func (e *Engine) MarkDirty(h *BlockHandle) {
	e.cache.MarkDirty(h.entry)
}

// FlushBlock writes h's block if dirty.
func (e *Engine) FlushBlock(h *BlockHandle) error {
	if !h.entry.Dirty() {
		return nil
	}
	if err := e.writeBlock(h.entry.Key, h.entry.Buf); err != nil {
		return err
	}
	e.cache.ClearDirty(h.entry)
	e.metrics.BlocksFlushed++
	return nil
}

// Flush writes every dirty resident block, in block-index order, then
// fsyncs the file.
func (e *Engine) Flush() error {
	if err := e.takeStashedErr(); err != nil {
		return err
	}

	var dirty []*cache.Entry
	e.cache.All(func(ent *cache.Entry) {
		if ent.Dirty() {
			dirty = append(dirty, ent)
		}
	})
	sortEntriesByKey(dirty)

	for _, ent := range dirty {
		if e.opts.RateLimit != nil {
			// Pacing only; correctness never depends on the rate limiter,
			// so a context.Background() wait is always appropriate here.
			if err := e.opts.RateLimit.WaitN(context.Background(), tokenbucket.Tokens(e.opts.BlockSize)); err != nil {
				return err
			}
		}
		if err := e.writeBlock(ent.Key, ent.Buf); err != nil {
			return err
		}
		e.cache.ClearDirty(ent)
		e.metrics.BlocksFlushed++
	}
	if err := e.file.Sync(); err != nil {
		return err
	}
	return nil
}

// Close flushes and closes the underlying file. A repeated Close flushes,
// syncs and closes the file again, so it succeeds only where the vfs File
// accepts Sync after Close: vfs.Mem does, vfs.Disk returns an error.
func (e *Engine) Close() error {
	if err := e.Flush(); err != nil {
		return err
	}
	return e.file.Close()
}

// Metrics returns a snapshot of the engine's counters.
func (e *Engine) Metrics() Metrics {
	m := e.metrics
	m.ResidentBlocks = e.cache.Len()
	m.CacheHitRate = e.cache.HitRate()
	m.OldestUnpinnedAge, _ = e.cache.OldestUnpinnedAge()
	return m
}

func sortEntriesByKey(es []*cache.Entry) {
	// Simple insertion sort: flush batches are small relative to typical
	// dirty-set sizes in this single-writer model, and this avoids pulling
	// in sort.Slice's reflection-based comparator for a handful of entries.
	for i := 1; i < len(es); i++ {
		for j := i; j > 0 && es[j-1].Key > es[j].Key; j-- {
			es[j-1], es[j] = es[j], es[j-1]
		}
	}
}
