package heap

import (
	"github.com/prequeldb/prequel/pager"
	"github.com/prequeldb/prequel/serial"
)

// Small-object page layout (spec §3.8): header {slot_count, free_ptr,
// free_fragmented}, then a slot array growing from the header outward,
// with object bytes packed from the block end inward.
const pageHeaderSize = 4 + 4 + 4
const slotEntrySize = 4 + 4

var pu32 serial.Uint32Codec

type page struct {
	bh        *pager.BlockHandle
	engine    *pager.Engine
	blockSize int
}

func (p page) dirty() { p.engine.MarkDirty(p.bh) }

func (p page) slotCount() int { return int(pu32.Decode(p.bh.Data()[0:4])) }
func (p page) setSlotCount(v int) {
	pu32.Encode(uint32(v), p.bh.Data()[0:4])
	p.dirty()
}
func (p page) freePtr() int { return int(pu32.Decode(p.bh.Data()[4:8])) }
func (p page) setFreePtr(v int) {
	pu32.Encode(uint32(v), p.bh.Data()[4:8])
	p.dirty()
}
func (p page) freeFragmented() int { return int(pu32.Decode(p.bh.Data()[8:12])) }
func (p page) setFreeFragmented(v int) {
	pu32.Encode(uint32(v), p.bh.Data()[8:12])
	p.dirty()
}

func (p page) slotOffset(i int) int { return pageHeaderSize + i*slotEntrySize }

func (p page) slotEntry(i int) (offset, size int) {
	off := p.slotOffset(i)
	return int(pu32.Decode(p.bh.Data()[off : off+4])), int(pu32.Decode(p.bh.Data()[off+4 : off+8]))
}

func (p page) setSlotEntry(i, offset, size int) {
	off := p.slotOffset(i)
	pu32.Encode(uint32(offset), p.bh.Data()[off:off+4])
	pu32.Encode(uint32(size), p.bh.Data()[off+4:off+8])
	p.dirty()
}

func (p page) objectBytes(offset, size int) []byte {
	return p.bh.Data()[offset : offset+size]
}

func (p page) init() {
	p.setSlotCount(0)
	p.setFreePtr(p.blockSize)
	p.setFreeFragmented(0)
}

// effectiveFreeBytes is the page's compaction-reachable free space: the
// gap below the slot array plus bytes already invalidated within the used
// region (spec §3.8's free_map value).
func (p page) effectiveFreeBytes() int {
	return (p.freePtr() - p.slotOffset(p.slotCount())) + p.freeFragmented()
}

// hasRoomForNewSlot reports whether appending one more slot (without
// compaction) leaves room for an object of size.
func (p page) hasRoomForNewSlot(size int) bool {
	return p.slotOffset(p.slotCount()+1) <= p.freePtr()-size
}

// findReusableSlot returns the index of an invalidated (size == 0) slot,
// or -1 if none exists.
func (p page) findReusableSlot() int {
	for i := 0; i < p.slotCount(); i++ {
		if _, size := p.slotEntry(i); size == 0 {
			return i
		}
	}
	return -1
}

// compact slides every live object toward the block end in descending
// offset order, eliminating gaps, and rewrites slot offsets in place
// (spec §4.8). Slot indices never change, so references stay valid.
func (p page) compact() {
	type live struct {
		slot, size int
	}
	var order []live
	for i := 0; i < p.slotCount(); i++ {
		if _, size := p.slotEntry(i); size > 0 {
			order = append(order, live{i, size})
		}
	}
	// Slide starting from whichever object currently sits closest to the
	// block end, packing each subsequent one immediately below it.
	for i := range order {
		for j := i + 1; j < len(order); j++ {
			oi, _ := p.slotEntry(order[i].slot)
			oj, _ := p.slotEntry(order[j].slot)
			if oj > oi {
				order[i], order[j] = order[j], order[i]
			}
		}
	}
	cursor := p.blockSize
	for _, l := range order {
		oldOff, _ := p.slotEntry(l.slot)
		newOff := cursor - l.size
		if newOff != oldOff {
			copy(p.bh.Data()[newOff:newOff+l.size], p.bh.Data()[oldOff:oldOff+l.size])
		}
		p.setSlotEntry(l.slot, newOff, l.size)
		cursor = newOff
	}
	p.setFreeFragmented(0)
	p.setFreePtr(cursor)
}

// truncateTrailingInvalidSlots drops trailing slots whose size is 0,
// shrinking slot_count (spec §4.8's erase rule).
func (p page) truncateTrailingInvalidSlots() {
	c := p.slotCount()
	for c > 0 {
		_, size := p.slotEntry(c - 1)
		if size != 0 {
			break
		}
		c--
	}
	p.setSlotCount(c)
}
