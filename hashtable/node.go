package hashtable

import (
	"github.com/prequeldb/prequel/internal/base"
	"github.com/prequeldb/prequel/pager"
	"github.com/prequeldb/prequel/serial"
)

// Bucket layout: header {overflow_next BlockIndex(8), count u32(4)} followed
// by count value_size-byte slots (spec §3.7).
const bucketHeaderSize = 8 + 4

var u32Codec serial.Uint32Codec
var u64Codec serial.Uint64Codec

func (t *Raw) bucketCapacity() int {
	return (int(t.engine.BlockSize()) - bucketHeaderSize) / t.opts.ValueSize
}

type bucket struct {
	t  *Raw
	bh *pager.BlockHandle
}

func (n bucket) overflowNext() base.BlockIndex {
	return base.BlockIndex(u64Codec.Decode(n.bh.Data()[0:8]))
}
func (n bucket) setOverflowNext(v base.BlockIndex) {
	u64Codec.Encode(uint64(v), n.bh.Data()[0:8])
	n.t.engine.MarkDirty(n.bh)
}
func (n bucket) count() int {
	return int(u32Codec.Decode(n.bh.Data()[8:12]))
}
func (n bucket) setCount(v int) {
	u32Codec.Encode(uint32(v), n.bh.Data()[8:12])
	n.t.engine.MarkDirty(n.bh)
}
func (n bucket) valueAt(i int) []byte {
	off := bucketHeaderSize + i*n.t.opts.ValueSize
	return n.bh.Data()[off : off+n.t.opts.ValueSize]
}
func (n bucket) setValueAt(i int, v []byte) {
	copy(n.valueAt(i), v)
	n.t.engine.MarkDirty(n.bh)
}
func (n bucket) append(v []byte) {
	c := n.count()
	n.setValueAt(c, v)
	n.setCount(c + 1)
}

// removeAt drops slot i by moving the last slot into it (order doesn't
// matter in a hash bucket — spec §4.7's erase rule).
func (n bucket) removeAt(i int) {
	c := n.count()
	if i != c-1 {
		copy(n.valueAt(i), n.valueAt(c-1))
	}
	n.setCount(c - 1)
}

func (n bucket) release() { n.bh.Release() }

func (n bucket) init() {
	n.setOverflowNext(base.InvalidBlock)
	n.setCount(0)
}
