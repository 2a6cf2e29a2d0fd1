package heap

import (
	"github.com/prequeldb/prequel/btree"
	"github.com/prequeldb/prequel/handle"
	"github.com/prequeldb/prequel/internal/base"
	"github.com/prequeldb/prequel/pager"
)

// Heap stores variable-size opaque blobs and returns stable References
// (spec §4.8).
type Heap struct {
	engine  *pager.Engine
	alloc   Allocator
	opts    Options
	anchorH handle.Handle[Anchor]
	pageMap *btree.Tree[pageMapEntry]
	freeMap *btree.Tree[freeMapEntry]
}

// btreeAllocAdapter lets a heap.Allocator serve as a btree.Allocator: the
// two interfaces have the same single-block methods, just a structural
// mismatch in Go's type system since each package declares its own.
type btreeAllocAdapter struct{ a Allocator }

func (b btreeAllocAdapter) Allocate(size int) (base.BlockIndex, error) { return b.a.Allocate(size) }
func (b btreeAllocAdapter) Free(block base.BlockIndex, size int) error {
	return b.a.Free(block, size)
}

// Open attaches a Heap to an already-initialized anchor (anchorH must have
// been Set to a zero Anchor{} the first time a heap is created).
func Open(engine *pager.Engine, alloc Allocator, opts Options, anchorH handle.Handle[Anchor]) *Heap {
	pageMapAnchorH := handle.Member(anchorH, 24, btree.AnchorCodec)
	freeMapAnchorH := handle.Member(anchorH, 24+btree.AnchorSize, btree.AnchorCodec)

	btAlloc := btreeAllocAdapter{alloc}
	pageMap := btree.NewTree[pageMapEntry](engine, btAlloc, pageMapValueCodec, pageMapKeySize, pageMapDeriveKey, pageMapKeyLess, pageMapAnchorH)
	freeMap := btree.NewTree[freeMapEntry](engine, btAlloc, freeMapValueCodec, freeMapKeySize, freeMapDeriveKey, freeMapKeyLess, freeMapAnchorH)

	return &Heap{engine: engine, alloc: alloc, opts: opts, anchorH: anchorH, pageMap: pageMap, freeMap: freeMap}
}

func (h *Heap) blockSize() int { return int(h.engine.BlockSize()) }

func (h *Heap) maxSmallObjectSize() int { return (3 * h.blockSize()) / 4 }

func (h *Heap) pinPage(b base.BlockIndex, initialize bool) page {
	bh, err := h.engine.Pin(b, initialize)
	if err != nil {
		panic(err)
	}
	return page{bh: bh, engine: h.engine, blockSize: h.blockSize()}
}

// ObjectsCount, ObjectsSize, BlocksCount report the anchor's running
// totals (spec §3.8).
func (h *Heap) ObjectsCount() uint64 { return h.anchorH.Get().ObjectsCount }
func (h *Heap) ObjectsSize() uint64  { return h.anchorH.Get().ObjectsSize }
func (h *Heap) BlocksCount() uint64  { return h.anchorH.Get().BlocksCount }

// Store copies data into the heap and returns a stable reference to it.
func (h *Heap) Store(data []byte) (Ref, error) {
	if len(data) <= h.maxSmallObjectSize() {
		return h.storeSmall(data)
	}
	return h.storeLarge(data)
}

func (h *Heap) storeSmall(data []byte) (Ref, error) {
	size := len(data)
	block, slot, err := h.findOrCreatePageFor(size)
	if err != nil {
		return 0, err
	}

	p := h.pinPage(block, false)
	h.removeFreeMapEntry(block, p.effectiveFreeBytes())

	fits := func() bool {
		if slot < 0 {
			return p.hasRoomForNewSlot(size)
		}
		return p.slotOffset(p.slotCount())+size <= p.freePtr()
	}
	if !fits() {
		p.compact()
	}
	if !fits() {
		p.bh.Release()
		return 0, base.BadAllocf("heap: page %d has insufficient room after compaction", block)
	}
	if slot < 0 {
		slot = p.slotCount()
		p.setSlotCount(slot + 1)
	}

	newFreePtr := p.freePtr() - size
	copy(p.objectBytes(newFreePtr, size), data)
	p.dirty()
	p.setFreePtr(newFreePtr)
	p.setSlotEntry(slot, newFreePtr, size)

	h.insertFreeMapEntry(block, p.effectiveFreeBytes())
	p.bh.Release()

	a := h.anchorH.Get()
	a.ObjectsCount++
	a.ObjectsSize += uint64(size)
	h.anchorH.Set(h.engine, a)

	return makeSmallRef(block, slot), nil
}

// findOrCreatePageFor locates a page with enough effective free space for
// size (spec §4.8: "search the free_map for the smallest page with enough
// effective free bytes"), or allocates a fresh one. Returns slot=-1 when
// the object should be appended as a new slot rather than reusing one.
func (h *Heap) findOrCreatePageFor(size int) (block base.BlockIndex, slot int, err error) {
	needed := uint32(size)
	c, err := h.freeMap.LowerBound(encodeFreeMapKey(needed, 0))
	if err != nil {
		return 0, -1, err
	}
	defer c.Close()
	if c.Valid() {
		entry := c.Value()
		p := h.pinPage(entry.Block, false)
		reuse := p.findReusableSlot()
		p.bh.Release()
		return entry.Block, reuse, nil
	}

	block, err = h.alloc.Allocate(h.blockSize())
	if err != nil {
		return 0, -1, err
	}
	p := h.pinPage(block, true)
	p.init()
	p.bh.Release()

	if _, err := h.pageMap.Insert(pageMapEntry{Block: block, BlockCount: 1, IsLarge: false}, btree.Overwrite); err != nil {
		return 0, -1, err
	}
	a := h.anchorH.Get()
	a.BlocksCount++
	h.anchorH.Set(h.engine, a)
	return block, -1, nil
}

func (h *Heap) insertFreeMapEntry(block base.BlockIndex, avail int) {
	h.freeMap.Insert(freeMapEntry{AvailBytes: uint32(avail), Block: block}, btree.Overwrite)
}

func (h *Heap) removeFreeMapEntry(block base.BlockIndex, avail int) {
	h.freeMap.Erase(encodeFreeMapKey(uint32(avail), block))
}

func (h *Heap) storeLarge(data []byte) (Ref, error) {
	payload := data
	if h.opts.Compress != nil {
		payload = h.opts.Compress.Compress(nil, data)
	}
	blocks := (len(payload) + 4 + h.blockSize() - 1) / h.blockSize()
	first, err := h.alloc.AllocateRun(blocks, h.blockSize())
	if err != nil {
		return 0, err
	}

	// Write the u32 size header followed by payload bytes, spanning
	// blocks as needed; both fit entirely within contiguous pager blocks
	// since AllocateRun guarantees contiguity.
	remaining := payload
	bh, err := h.engine.Pin(first, true)
	if err != nil {
		return 0, err
	}
	pu32.Encode(uint32(len(payload)), bh.Data()[0:4])
	n := copy(bh.Data()[4:], remaining)
	h.engine.MarkDirty(bh)
	remaining = remaining[n:]
	bh.Release()
	for i := 1; i < blocks && len(remaining) > 0; i++ {
		bh, err := h.engine.Pin(first+base.BlockIndex(i), true)
		if err != nil {
			return 0, err
		}
		n := copy(bh.Data(), remaining)
		h.engine.MarkDirty(bh)
		remaining = remaining[n:]
		bh.Release()
	}

	if _, err := h.pageMap.Insert(pageMapEntry{Block: first, BlockCount: uint32(blocks), IsLarge: true}, btree.Overwrite); err != nil {
		return 0, err
	}

	a := h.anchorH.Get()
	a.ObjectsCount++
	a.ObjectsSize += uint64(len(data))
	a.BlocksCount += uint64(blocks)
	h.anchorH.Set(h.engine, a)

	return makeLargeRef(first), nil
}

// Load copies the object addressed by ref into a freshly allocated slice.
func (h *Heap) Load(ref Ref) ([]byte, error) {
	if ref.IsSmall() {
		block, slot := ref.smallBlockSlot()
		p := h.pinPage(block, false)
		defer p.bh.Release()
		offset, size := p.slotEntry(slot)
		if size == 0 {
			return nil, base.BadArgumentf("heap: Load: slot %d on block %d is not live", slot, block)
		}
		return append([]byte(nil), p.objectBytes(offset, size)...), nil
	}
	block := ref.largeBlock()
	entry, found, err := h.pageMap.Find(encodePageMapKey(block))
	if err != nil || !found {
		return nil, base.BadArgumentf("heap: Load: no large object at block %d", block)
	}
	bh, err := h.engine.Pin(block, false)
	if err != nil {
		return nil, err
	}
	size := int(pu32.Decode(bh.Data()[0:4]))
	out := make([]byte, 0, size)
	out = append(out, bh.Data()[4:]...)
	bh.Release()
	for i := 1; i < int(entry.BlockCount) && len(out) < size; i++ {
		bh, err := h.engine.Pin(block+base.BlockIndex(i), false)
		if err != nil {
			return nil, err
		}
		out = append(out, bh.Data()...)
		bh.Release()
	}
	out = out[:size]
	if h.opts.Compress != nil {
		return h.opts.Compress.Decompress(nil, out)
	}
	return out, nil
}

// StoreInPlace overwrites the bytes addressed by ref without changing its
// size (spec §4.8's in-place store; the new data must be exactly as long
// as the object currently stored there).
func (h *Heap) StoreInPlace(ref Ref, data []byte) error {
	if ref.IsSmall() {
		block, slot := ref.smallBlockSlot()
		p := h.pinPage(block, false)
		defer p.bh.Release()
		offset, size := p.slotEntry(slot)
		if size != len(data) {
			return base.BadArgumentf("heap: StoreInPlace: size mismatch (have %d, want %d)", len(data), size)
		}
		copy(p.objectBytes(offset, size), data)
		p.dirty()
		return nil
	}
	return base.BadOperationf("heap: StoreInPlace does not support large objects")
}

// Free releases the object addressed by ref (spec §4.8).
func (h *Heap) Free(ref Ref) error {
	if ref.IsSmall() {
		return h.freeSmall(ref)
	}
	return h.freeLarge(ref)
}

func (h *Heap) freeSmall(ref Ref) error {
	block, slot := ref.smallBlockSlot()
	p := h.pinPage(block, false)
	offset, size := p.slotEntry(slot)
	if size == 0 {
		p.bh.Release()
		return base.BadArgumentf("heap: Free: slot %d on block %d already free", slot, block)
	}

	h.removeFreeMapEntry(block, p.effectiveFreeBytes())

	if offset == p.freePtr() {
		p.setFreePtr(offset + size)
	} else {
		p.setFreeFragmented(p.freeFragmented() + size)
	}
	p.setSlotEntry(slot, 0, 0)
	p.truncateTrailingInvalidSlots()

	empty := p.slotCount() == 0
	effFree := p.effectiveFreeBytes()
	p.bh.Release()

	a := h.anchorH.Get()
	a.ObjectsCount--
	a.ObjectsSize -= uint64(size)

	if empty {
		if _, err := h.pageMap.Erase(encodePageMapKey(block)); err != nil {
			return err
		}
		if err := h.alloc.Free(block, h.blockSize()); err != nil {
			return err
		}
		a.BlocksCount--
	} else {
		h.insertFreeMapEntry(block, effFree)
	}
	h.anchorH.Set(h.engine, a)
	return nil
}

func (h *Heap) freeLarge(ref Ref) error {
	block := ref.largeBlock()
	entry, found, err := h.pageMap.Find(encodePageMapKey(block))
	if err != nil {
		return err
	}
	if !found {
		return base.BadArgumentf("heap: Free: no large object at block %d", block)
	}
	bh, err := h.engine.Pin(block, false)
	if err != nil {
		return err
	}
	size := uint64(pu32.Decode(bh.Data()[0:4]))
	bh.Release()

	if _, err := h.pageMap.Erase(encodePageMapKey(block)); err != nil {
		return err
	}
	if err := h.alloc.FreeRun(block, int(entry.BlockCount), h.blockSize()); err != nil {
		return err
	}

	a := h.anchorH.Get()
	a.ObjectsCount--
	a.ObjectsSize -= size
	a.BlocksCount -= uint64(entry.BlockCount)
	h.anchorH.Set(h.engine, a)
	return nil
}
