// Package freelist implements the allocator-internal metadata free list of
// spec §3.4/§4.4: an intrusive LIFO stack of block indices, stored in the
// blocks themselves (each free block's first 8 bytes hold the index of the
// next free block, or the sentinel). Used only by the default allocator
// for its own metadata blocks (freelist.Push/Pop never touch user data
// blocks).
//
// The head of the list is not owned by this package: it lives in the
// allocator's persistent anchor (meta_freelist_head), so every operation
// here takes the current head and returns the new one, the same
// caller-owns-the-anchor shape the allocator uses throughout.
package freelist

import (
	"github.com/prequeldb/prequel/internal/base"
	"github.com/prequeldb/prequel/pager"
	"github.com/prequeldb/prequel/serial"
)

var nextCodec serial.Uint64Codec

// Empty reports whether head is the sentinel (an empty list).
func Empty(head base.BlockIndex) bool { return head == base.InvalidBlock }

// Push prepends block b onto the list whose current head is head, writing
// b's next-pointer to head, and returns the new head (b).
func Push(e *pager.Engine, head base.BlockIndex, b base.BlockIndex) (base.BlockIndex, error) {
	if !b.Valid() {
		return head, base.BadArgumentf("freelist: cannot push the invalid block sentinel")
	}
	bh, err := e.Pin(b, false)
	if err != nil {
		return head, err
	}
	defer bh.Release()
	nextCodec.Encode(uint64(head), bh.Data()[:8])
	e.MarkDirty(bh)
	return b, nil
}

// Pop removes and returns the block at the head of the list, along with
// the list's new head. It is an error to Pop an empty list.
func Pop(e *pager.Engine, head base.BlockIndex) (block base.BlockIndex, newHead base.BlockIndex, err error) {
	if Empty(head) {
		return 0, head, base.BadArgumentf("freelist: pop from an empty free list")
	}
	bh, err := e.Pin(head, true)
	if err != nil {
		return 0, head, err
	}
	next := base.BlockIndex(nextCodec.Decode(bh.Data()[:8]))
	bh.Release()
	return head, next, nil
}
