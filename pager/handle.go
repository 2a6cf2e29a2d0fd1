package pager

import (
	"github.com/prequeldb/prequel/internal/base"
	"github.com/prequeldb/prequel/internal/cache"
)

// BlockHandle is a scoped, exclusive pin on a resident block (spec §3.3,
// §9 "scoped acquisition"): the block is pinned on Pin and released on
// Release, which must be called exactly once, typically via defer.
type BlockHandle struct {
	e        *Engine
	entry    *cache.Entry
	released bool
}

// Index returns the block index this handle refers to.
func (h *BlockHandle) Index() base.BlockIndex { return h.entry.Key }

// Data returns the block's byte buffer. The buffer is valid only until
// Release is called; writes to it are not durable or visible to later
// pins of the same block as "dirty" unless followed by a call to
// (*Engine).MarkDirty.
func (h *BlockHandle) Data() []byte { return h.entry.Buf }

// Release unpins the block. It is an error to use h after calling Release.
// Calling Release more than once panics, the same way double-freeing a
// resource would — callers are expected to release exactly once, typically
// via defer immediately after Pin succeeds.
func (h *BlockHandle) Release() {
	if h.released {
		panic("prequel/pager: BlockHandle released twice")
	}
	h.released = true
	h.e.cache.Unpin(h.entry)
}
