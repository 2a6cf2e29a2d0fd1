package alloc

import (
	"sync"

	"github.com/prequeldb/prequel/btree"
	"github.com/prequeldb/prequel/freelist"
	"github.com/prequeldb/prequel/handle"
	"github.com/prequeldb/prequel/internal/base"
	"github.com/prequeldb/prequel/pager"
	"golang.org/x/sync/singleflight"
)

// Allocator is the default block allocator (spec §4.5): a best-fit
// free-extent allocator over the file's data region, backed by two B+-tree
// indexes of free extents (by position, by size) whose own node blocks are
// drawn from a separate metadata free list rather than from the pool they
// index.
type Allocator struct {
	engine  *pager.Engine
	opts    Options
	anchorH handle.Handle[Anchor]

	byPosition *btree.Tree[extentRecord]
	bySize     *btree.Tree[extentRecord]

	sf singleflight.Group
}

// metaAllocator lets the two extent-index trees draw their node blocks from
// the allocator's own metadata free list, never from the data extents they
// index (the recursive problem spec §4.5 calls out: the allocator's
// bookkeeping must not itself need the allocator to already work).
type metaAllocator struct{ a *Allocator }

func (m metaAllocator) Allocate(size int) (base.BlockIndex, error) { return m.a.allocMetaBlock() }
func (m metaAllocator) Free(block base.BlockIndex, size int) error { return m.a.freeMetaBlock(block) }

// Open attaches an Allocator to an already-initialized anchor (anchorH must
// have been Set to a zero Anchor{} the first time one is created).
func Open(engine *pager.Engine, opts Options, anchorH handle.Handle[Anchor]) *Allocator {
	a := &Allocator{engine: engine, opts: opts, anchorH: anchorH}
	meta := metaAllocator{a}
	byPositionAnchorH := handle.Member(anchorH, extentsByPositionOffset, btree.AnchorCodec)
	bySizeAnchorH := handle.Member(anchorH, extentsBySizeOffset, btree.AnchorCodec)
	a.byPosition = btree.NewTree[extentRecord](engine, meta, positionCodec, positionKeySize, positionDeriveKey, positionKeyLess, byPositionAnchorH)
	a.bySize = btree.NewTree[extentRecord](engine, meta, sizeCodec, sizeKeySize, sizeDeriveKey, sizeKeyLess, bySizeAnchorH)
	return a
}

func (a *Allocator) blockSize() int { return int(a.engine.BlockSize()) }

// DataTotal, DataFree, MetaTotal, MetaFree report the anchor's running
// totals (spec §3.5).
func (a *Allocator) DataTotal() uint64 { return a.anchorH.Get().DataTotal }
func (a *Allocator) DataFree() uint64  { return a.anchorH.Get().DataFree }
func (a *Allocator) MetaTotal() uint64 { return a.anchorH.Get().MetaTotal }
func (a *Allocator) MetaFree() uint64  { return a.anchorH.Get().MetaFree }

// requiredFreeMetaBlocks is how many metadata blocks must be available
// before an extent-index mutation is attempted: each tree can grow its
// height by at most one per operation, plus the new leaf/root it might
// need, so the sum of both trees' current heights plus one is always
// enough headroom (spec §4.5).
func (a *Allocator) requiredFreeMetaBlocks() uint64 {
	anchor := a.anchorH.Get()
	return anchor.ExtentsByPosition.Height + anchor.ExtentsBySize.Height + 1
}

// fixFreelist grows the metadata free list, via direct file growth (never
// through the data-extent machinery, which is what this guards against
// recursing into), until it holds at least requiredFreeMetaBlocks blocks.
// singleflight collapses overlapping callers into one run; a caller that
// comes after the reserve is already met returns on the first check
// without growing anything.
func (a *Allocator) fixFreelist() error {
	_, err, _ := a.sf.Do("fix", func() (interface{}, error) {
		return nil, a.fixFreelistLocked()
	})
	return err
}

func (a *Allocator) fixFreelistLocked() error {
	for {
		anchor := a.anchorH.Get()
		need := a.requiredFreeMetaBlocks()
		if anchor.MetaFree >= need {
			return nil
		}
		total, err := a.engine.Size()
		if err != nil {
			return err
		}
		if err := a.engine.Grow(1); err != nil {
			return err
		}
		newHead, err := freelist.Push(a.engine, anchor.MetaFreelistHead, total)
		if err != nil {
			return err
		}
		anchor.MetaFreelistHead = newHead
		anchor.MetaTotal++
		anchor.MetaFree++
		a.anchorH.Set(a.engine, anchor)
	}
}

func (a *Allocator) allocMetaBlock() (base.BlockIndex, error) {
	anchor := a.anchorH.Get()
	if freelist.Empty(anchor.MetaFreelistHead) {
		total, err := a.engine.Size()
		if err != nil {
			return 0, err
		}
		if err := a.engine.Grow(1); err != nil {
			return 0, err
		}
		anchor.MetaTotal++
		a.anchorH.Set(a.engine, anchor)
		return total, nil
	}
	block, newHead, err := freelist.Pop(a.engine, anchor.MetaFreelistHead)
	if err != nil {
		return 0, err
	}
	anchor.MetaFreelistHead = newHead
	anchor.MetaFree--
	a.anchorH.Set(a.engine, anchor)
	return block, nil
}

func (a *Allocator) freeMetaBlock(block base.BlockIndex) error {
	anchor := a.anchorH.Get()
	newHead, err := freelist.Push(a.engine, anchor.MetaFreelistHead, block)
	if err != nil {
		return err
	}
	anchor.MetaFreelistHead = newHead
	anchor.MetaFree++
	a.anchorH.Set(a.engine, anchor)
	return nil
}

// insertExtent records a free extent in both indexes.
func (a *Allocator) insertExtent(e extentRecord) error {
	if err := a.fixFreelist(); err != nil {
		return err
	}
	if _, err := a.byPosition.Insert(e, btree.Overwrite); err != nil {
		return err
	}
	if _, err := a.bySize.Insert(e, btree.Overwrite); err != nil {
		return err
	}
	return nil
}

// removeExtent deletes a known extent from both indexes.
func (a *Allocator) removeExtent(e extentRecord) error {
	if err := a.fixFreelist(); err != nil {
		return err
	}
	if _, err := a.byPosition.Erase(encodePositionKey(e.Block)); err != nil {
		return err
	}
	if _, err := a.bySize.Erase(encodeSizeKey(e.Size, e.Block)); err != nil {
		return err
	}
	return nil
}

// predecessorAt returns the free extent, if any, whose [Block,Block+Size)
// immediately precedes position (i.e. ends exactly at it).
func (a *Allocator) predecessorAt(position base.BlockIndex) (extentRecord, bool, error) {
	c, err := a.byPosition.LowerBound(encodePositionKey(position))
	if err != nil {
		return extentRecord{}, false, err
	}
	var candidate extentRecord
	var ok bool
	if c.Valid() {
		// Something starts at or after position: step back to the entry
		// immediately before it, if any.
		if err := c.Prev(); err != nil {
			c.Close()
			return extentRecord{}, false, err
		}
		if c.Valid() {
			candidate, ok = c.Value(), true
		}
	} else {
		// Nothing starts at or after position: the rightmost extent overall
		// is the only possible predecessor.
		candidate, ok, err = a.maxPositionExtent()
		if err != nil {
			c.Close()
			return extentRecord{}, false, err
		}
	}
	c.Close()
	if !ok {
		return extentRecord{}, false, nil
	}
	if candidate.Block+base.BlockIndex(candidate.Size) != position {
		return extentRecord{}, false, nil
	}
	return candidate, true, nil
}

// successorAt returns the free extent, if any, that starts exactly at
// position.
func (a *Allocator) successorAt(position base.BlockIndex) (extentRecord, bool, error) {
	c, err := a.byPosition.LowerBound(encodePositionKey(position))
	if err != nil {
		return extentRecord{}, false, err
	}
	defer c.Close()
	if !c.Valid() {
		return extentRecord{}, false, nil
	}
	e := c.Value()
	if e.Block != position {
		return extentRecord{}, false, nil
	}
	return e, true, nil
}

// maxPositionExtent returns the free extent with the largest starting
// position, if any (used for the grow-in-place strategy: a free extent
// bordering the current end of the file can be extended instead of
// allocating a whole fresh chunk).
func (a *Allocator) maxPositionExtent() (extentRecord, bool, error) {
	c := a.byPosition.CreateCursor(btree.SeekMax)
	defer c.Close()
	if !c.Valid() {
		return extentRecord{}, false, nil
	}
	return c.Value(), true, nil
}

// Allocate reserves size bytes (rounded up to whole blocks) from the data
// region and returns the first block of the run (spec §4.5's three-step
// strategy: best-fit, then grow-in-place, then plain growth).
func (a *Allocator) Allocate(size int) (base.BlockIndex, error) {
	blocks := (size + a.blockSize() - 1) / a.blockSize()
	if blocks < 1 {
		blocks = 1
	}
	return a.AllocateRun(blocks, a.blockSize())
}

// AllocateRun reserves a contiguous run of blocks blocks long.
func (a *Allocator) AllocateRun(blocks int, blockSize int) (base.BlockIndex, error) {
	if blocks < 1 {
		return 0, base.BadArgumentf("alloc: cannot allocate %d blocks", blocks)
	}
	if err := a.fixFreelist(); err != nil {
		return 0, err
	}

	// Step 1: best-fit via the size index.
	c, err := a.bySize.LowerBound(encodeSizeKey(uint64(blocks), 0))
	if err != nil {
		return 0, err
	}
	if c.Valid() {
		found := c.Value()
		c.Close()
		if err := a.removeExtent(found); err != nil {
			return 0, err
		}
		if found.Size > uint64(blocks) {
			remainder := extentRecord{Block: found.Block + base.BlockIndex(blocks), Size: found.Size - uint64(blocks)}
			if err := a.insertExtent(remainder); err != nil {
				return 0, err
			}
		}
		anchor := a.anchorH.Get()
		anchor.DataFree -= uint64(blocks)
		a.anchorH.Set(a.engine, anchor)
		return found.Block, nil
	}
	c.Close()

	total, err := a.engine.Size()
	if err != nil {
		return 0, err
	}

	// Step 2: grow-in-place, if the free extent with the largest position
	// borders the end of the file.
	if max, ok, err := a.maxPositionExtent(); err != nil {
		return 0, err
	} else if ok && max.Block+base.BlockIndex(max.Size) == total {
		grow := uint64(blocks) - max.Size
		if err := a.removeExtent(max); err != nil {
			return 0, err
		}
		if err := a.engine.Grow(grow); err != nil {
			return 0, err
		}
		anchor := a.anchorH.Get()
		anchor.DataTotal += grow
		anchor.DataFree -= max.Size
		a.anchorH.Set(a.engine, anchor)
		return max.Block, nil
	}

	// Step 3: plain growth, reserving a whole chunk and freeing any
	// surplus back to the pool.
	if !a.opts.CanGrow {
		return 0, base.BadAllocf("alloc: out of space and growth is disabled")
	}
	chunk := uint64(a.opts.chunkSize(blocks))
	if err := a.engine.Grow(chunk); err != nil {
		return 0, err
	}
	block := total
	anchor := a.anchorH.Get()
	anchor.DataTotal += chunk
	a.anchorH.Set(a.engine, anchor)
	if chunk > uint64(blocks) {
		surplus := extentRecord{Block: block + base.BlockIndex(blocks), Size: chunk - uint64(blocks)}
		if err := a.insertExtent(surplus); err != nil {
			return 0, err
		}
		anchor = a.anchorH.Get()
		anchor.DataFree += surplus.Size
		a.anchorH.Set(a.engine, anchor)
	}
	return block, nil
}

// Free releases size bytes (rounded up to whole blocks) starting at block,
// merging with any contiguous neighboring free extent (spec §4.5's
// free/merge policy).
func (a *Allocator) Free(block base.BlockIndex, size int) error {
	blocks := (size + a.blockSize() - 1) / a.blockSize()
	if blocks < 1 {
		blocks = 1
	}
	return a.FreeRun(block, blocks, a.blockSize())
}

// FreeRun releases a contiguous run of blocks blocks long starting at
// first.
func (a *Allocator) FreeRun(first base.BlockIndex, blocks int, blockSize int) error {
	if blocks < 1 {
		return base.BadArgumentf("alloc: cannot free %d blocks", blocks)
	}
	if err := a.fixFreelist(); err != nil {
		return err
	}

	merged := extentRecord{Block: first, Size: uint64(blocks)}

	pred, ok, err := a.predecessorAt(merged.Block)
	if err != nil {
		return err
	}
	if ok {
		if err := a.removeExtent(pred); err != nil {
			return err
		}
		merged.Block = pred.Block
		merged.Size += pred.Size
	}

	succ, ok, err := a.successorAt(merged.Block + base.BlockIndex(merged.Size))
	if err != nil {
		return err
	}
	if ok {
		if err := a.removeExtent(succ); err != nil {
			return err
		}
		merged.Size += succ.Size
	}

	if err := a.insertExtent(merged); err != nil {
		return err
	}
	anchor := a.anchorH.Get()
	anchor.DataFree += uint64(blocks)
	a.anchorH.Set(a.engine, anchor)
	return nil
}

// Reallocate resizes the block run [current, current+oldBlocks) to
// newBlocks blocks, trying in this order: no-op, shrink, consume a
// contiguous right neighbor (growing the file when that neighbor is too
// small but borders the file's end), consume a contiguous left neighbor
// (moving the data down to the new start), grow the file when the run
// itself borders the file's end, and finally allocate-copy-free. A right
// neighbor that borders the file's end is thus grown into before a left
// neighbor is tried.
func (a *Allocator) Reallocate(current base.BlockIndex, oldBlocks, newBlocks int, blockSize int) (base.BlockIndex, error) {
	if newBlocks == oldBlocks {
		return current, nil
	}
	if newBlocks < oldBlocks {
		if err := a.FreeRun(current+base.BlockIndex(newBlocks), oldBlocks-newBlocks, blockSize); err != nil {
			return 0, err
		}
		return current, nil
	}

	need := newBlocks - oldBlocks
	if err := a.fixFreelist(); err != nil {
		return 0, err
	}
	total, err := a.engine.Size()
	if err != nil {
		return 0, err
	}

	rightPos := current + base.BlockIndex(oldBlocks)
	if right, ok, err := a.successorAt(rightPos); err != nil {
		return 0, err
	} else if ok {
		switch {
		case right.Size >= uint64(need):
			if err := a.removeExtent(right); err != nil {
				return 0, err
			}
			if right.Size > uint64(need) {
				leftover := extentRecord{Block: right.Block + base.BlockIndex(need), Size: right.Size - uint64(need)}
				if err := a.insertExtent(leftover); err != nil {
					return 0, err
				}
			}
			anchor := a.anchorH.Get()
			anchor.DataFree -= uint64(need)
			a.anchorH.Set(a.engine, anchor)
			return current, nil
		case right.Block+base.BlockIndex(right.Size) == total:
			grow := uint64(need) - right.Size
			if err := a.removeExtent(right); err != nil {
				return 0, err
			}
			if err := a.engine.Grow(grow); err != nil {
				return 0, err
			}
			anchor := a.anchorH.Get()
			anchor.DataTotal += grow
			anchor.DataFree -= right.Size
			a.anchorH.Set(a.engine, anchor)
			return current, nil
		}
	}

	if left, ok, err := a.predecessorAt(current); err != nil {
		return 0, err
	} else if ok && left.Size >= uint64(need) {
		if err := a.removeExtent(left); err != nil {
			return 0, err
		}
		newStart := current - base.BlockIndex(need)
		if left.Size > uint64(need) {
			leftover := extentRecord{Block: left.Block, Size: left.Size - uint64(need)}
			if err := a.insertExtent(leftover); err != nil {
				return 0, err
			}
		}
		// The old data sits at [current, current+oldBlocks); move it to the
		// start of the widened run. Ascending order is safe: each
		// destination block lies below its source.
		for i := 0; i < oldBlocks; i++ {
			oldBh, err := a.engine.Pin(current+base.BlockIndex(i), true)
			if err != nil {
				return 0, err
			}
			newBh, err := a.engine.Pin(newStart+base.BlockIndex(i), false)
			if err != nil {
				oldBh.Release()
				return 0, err
			}
			copy(newBh.Data(), oldBh.Data())
			a.engine.MarkDirty(newBh)
			oldBh.Release()
			newBh.Release()
		}
		anchor := a.anchorH.Get()
		anchor.DataFree -= uint64(need)
		a.anchorH.Set(a.engine, anchor)
		return newStart, nil
	}

	if current+base.BlockIndex(oldBlocks) == total {
		if err := a.engine.Grow(uint64(need)); err != nil {
			return 0, err
		}
		anchor := a.anchorH.Get()
		anchor.DataTotal += uint64(need)
		a.anchorH.Set(a.engine, anchor)
		return current, nil
	}

	// Step 7: no contiguous neighbor can absorb the growth; allocate a
	// fresh run, copy the old contents over, and free the old one.
	newBlock, err := a.AllocateRun(newBlocks, blockSize)
	if err != nil {
		return 0, err
	}
	for i := 0; i < oldBlocks; i++ {
		oldBh, err := a.engine.Pin(current+base.BlockIndex(i), true)
		if err != nil {
			return 0, err
		}
		newBh, err := a.engine.Pin(newBlock+base.BlockIndex(i), false)
		if err != nil {
			oldBh.Release()
			return 0, err
		}
		copy(newBh.Data(), oldBh.Data())
		a.engine.MarkDirty(newBh)
		oldBh.Release()
		newBh.Release()
	}
	if err := a.FreeRun(current, oldBlocks, blockSize); err != nil {
		return 0, err
	}
	return newBlock, nil
}

// AddRegion donates a fresh, already-grown block run to the data pool: used
// when a caller wants to pre-extend the file in one shot (e.g. while
// formatting a new store) rather than relying on plain-growth chunking.
func (a *Allocator) AddRegion(block base.BlockIndex, blocks int) error {
	anchor := a.anchorH.Get()
	anchor.DataTotal += uint64(blocks)
	a.anchorH.Set(a.engine, anchor)
	return a.FreeRun(block, blocks, a.blockSize())
}

// Validate cross-checks the allocator's invariants: both extent indexes
// describe the same set of extents, no two free extents overlap or touch
// (adjacent ones must have been merged), and the sum of their sizes equals
// data_free (spec §3.5).
func (a *Allocator) Validate() error {
	anchor := a.anchorH.Get()

	var sum uint64
	var prevEnd base.BlockIndex
	havePrev := false
	c := a.byPosition.CreateCursor(btree.SeekMin)
	defer c.Close()
	for c.Valid() {
		e := c.Value()
		if havePrev && prevEnd >= e.Block {
			return base.CorruptionErrorf("alloc: free extents at %s and %s overlap or are unmerged neighbors", prevEnd, e.Block)
		}
		sum += e.Size
		prevEnd = e.Block + base.BlockIndex(e.Size)
		havePrev = true

		if _, found, err := a.bySize.Find(encodeSizeKey(e.Size, e.Block)); err != nil {
			return err
		} else if !found {
			return base.CorruptionErrorf("alloc: extent at %s missing from the size index", e.Block)
		}
		if err := c.Next(); err != nil {
			return err
		}
	}

	if n, m := a.byPosition.Size(), a.bySize.Size(); n != m {
		return base.CorruptionErrorf("alloc: position index holds %d extents, size index %d", n, m)
	}
	if sum != anchor.DataFree {
		return base.CorruptionErrorf("alloc: sum of free extents %d does not match data_free %d", sum, anchor.DataFree)
	}
	return nil
}
