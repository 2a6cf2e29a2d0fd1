package container

import (
	"github.com/prequeldb/prequel/internal/base"
	"github.com/prequeldb/prequel/pager"
	"github.com/prequeldb/prequel/serial"
)

// Extent is an unanchored typed view over a raw allocator extent (a
// contiguous block run the caller already owns and tracks the bounds of
// itself): indexed access without a separate node header, grounded on the
// allocator's own extent concept rather than an owned persistent anchor.
type Extent[T any] struct {
	engine *pager.Engine
	codec  serial.Codec[T]
	start  base.BlockIndex
	count  uint64
}

// NewExtent wraps the block run [start, start+blocks) as a Count-item
// array of T (Count derived from how many T fit in blocks*blockSize).
func NewExtent[T any](engine *pager.Engine, codec serial.Codec[T], start base.BlockIndex, blocks int) *Extent[T] {
	itemsPerBlock := int(engine.BlockSize()) / codec.Size()
	return &Extent[T]{engine: engine, codec: codec, start: start, count: uint64(itemsPerBlock * blocks)}
}

func (e *Extent[T]) Len() uint64 { return e.count }

func (e *Extent[T]) itemsPerBlock() int { return int(e.engine.BlockSize()) / e.codec.Size() }

func (e *Extent[T]) locate(i uint64) (base.BlockIndex, int) {
	ipb := uint64(e.itemsPerBlock())
	return e.start + base.BlockIndex(i/ipb), int(i%ipb) * e.codec.Size()
}

func (e *Extent[T]) Get(i uint64) (T, error) {
	var zero T
	if i >= e.count {
		return zero, base.BadArgumentf("container: Extent index %d out of range (len %d)", i, e.count)
	}
	block, offset := e.locate(i)
	bh, err := e.engine.Pin(block, false)
	if err != nil {
		return zero, err
	}
	defer bh.Release()
	return e.codec.Decode(bh.Data()[offset : offset+e.codec.Size()]), nil
}

func (e *Extent[T]) Set(i uint64, v T) error {
	if i >= e.count {
		return base.BadArgumentf("container: Extent index %d out of range (len %d)", i, e.count)
	}
	block, offset := e.locate(i)
	bh, err := e.engine.Pin(block, false)
	if err != nil {
		return err
	}
	defer bh.Release()
	e.codec.Encode(v, bh.Data()[offset:offset+e.codec.Size()])
	e.engine.MarkDirty(bh)
	return nil
}
