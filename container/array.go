package container

import (
	"github.com/prequeldb/prequel/handle"
	"github.com/prequeldb/prequel/internal/base"
	"github.com/prequeldb/prequel/pager"
	"github.com/prequeldb/prequel/serial"
)

// ArrayAnchor is the persistent state of an Array: a logical length, the
// physical capacity currently backing it, and the first block of the
// contiguous run holding its values.
type ArrayAnchor struct {
	Length   uint64
	Capacity uint64
	Start    base.BlockIndex
}

const ArrayAnchorSize = 8 + 8 + 8

type arrayAnchorCodec struct{}

func (arrayAnchorCodec) Size() int { return ArrayAnchorSize }
func (arrayAnchorCodec) Encode(v ArrayAnchor, dst []byte) {
	var u64 serial.Uint64Codec
	u64.Encode(v.Length, dst[0:8])
	u64.Encode(v.Capacity, dst[8:16])
	u64.Encode(uint64(v.Start), dst[16:24])
}
func (arrayAnchorCodec) Decode(src []byte) ArrayAnchor {
	var u64 serial.Uint64Codec
	return ArrayAnchor{
		Length:   u64.Decode(src[0:8]),
		Capacity: u64.Decode(src[8:16]),
		Start:    base.BlockIndex(u64.Decode(src[16:24])),
	}
}

var ArrayAnchorCodec serial.Codec[ArrayAnchor] = arrayAnchorCodec{}

// Array is a dense, fixed-item-size array stored across a contiguous
// block extent (original extpp/stream.hpp's simpler cousin): items never
// straddle a block boundary, so indexing is a direct offset computation.
type Array[T any] struct {
	engine  *pager.Engine
	alloc   Allocator
	codec   serial.Codec[T]
	anchorH handle.Handle[ArrayAnchor]
}

func NewArray[T any](engine *pager.Engine, alloc Allocator, codec serial.Codec[T], anchorH handle.Handle[ArrayAnchor]) *Array[T] {
	return &Array[T]{engine: engine, alloc: alloc, codec: codec, anchorH: anchorH}
}

func (a *Array[T]) itemsPerBlock() int { return int(a.engine.BlockSize()) / a.codec.Size() }

func (a *Array[T]) blocksFor(capacity uint64) int {
	if capacity == 0 {
		return 0
	}
	ipb := uint64(a.itemsPerBlock())
	return int((capacity + ipb - 1) / ipb)
}

func (a *Array[T]) Length() uint64 { return a.anchorH.Get().Length }

func (a *Array[T]) locate(i uint64) (base.BlockIndex, int) {
	anchor := a.anchorH.Get()
	ipb := uint64(a.itemsPerBlock())
	return anchor.Start + base.BlockIndex(i/ipb), int(i % ipb) * a.codec.Size()
}

// Get returns the value at logical index i.
func (a *Array[T]) Get(i uint64) (T, error) {
	var zero T
	anchor := a.anchorH.Get()
	if i >= anchor.Length {
		return zero, base.BadArgumentf("container: Array index %d out of range (length %d)", i, anchor.Length)
	}
	block, offset := a.locate(i)
	bh, err := a.engine.Pin(block, false)
	if err != nil {
		return zero, err
	}
	defer bh.Release()
	return a.codec.Decode(bh.Data()[offset : offset+a.codec.Size()]), nil
}

// Set overwrites the value at logical index i.
func (a *Array[T]) Set(i uint64, v T) error {
	anchor := a.anchorH.Get()
	if i >= anchor.Length {
		return base.BadArgumentf("container: Array index %d out of range (length %d)", i, anchor.Length)
	}
	block, offset := a.locate(i)
	bh, err := a.engine.Pin(block, false)
	if err != nil {
		return err
	}
	defer bh.Release()
	a.codec.Encode(v, bh.Data()[offset:offset+a.codec.Size()])
	a.engine.MarkDirty(bh)
	return nil
}

// Grow sets the logical length to n, growing the backing block extent
// through alloc.Reallocate if n exceeds the current physical capacity.
func (a *Array[T]) Grow(n uint64) error {
	anchor := a.anchorH.Get()
	if n > anchor.Capacity {
		oldBlocks := a.blocksFor(anchor.Capacity)
		newBlocks := a.blocksFor(n)
		if newBlocks > oldBlocks {
			newStart, err := a.alloc.Reallocate(anchor.Start, oldBlocks, newBlocks, int(a.engine.BlockSize()))
			if err != nil {
				return err
			}
			anchor.Start = newStart
		}
		anchor.Capacity = uint64(newBlocks) * uint64(a.itemsPerBlock())
	}
	anchor.Length = n
	a.anchorH.Set(a.engine, anchor)
	return nil
}
