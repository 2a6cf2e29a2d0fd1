package btree

import (
	"github.com/prequeldb/prequel/internal/base"
	"github.com/prequeldb/prequel/pager"
	"github.com/prequeldb/prequel/serial"
)

// Leaf layout: header {prevLeaf u64, nextLeaf u64, count u32} followed by
// count value_size-byte values, sorted by derived key (spec §3.6).
const leafHeaderSize = 8 + 8 + 4

// Internal layout: header {count u32} followed by (count-1) key_size-byte
// keys followed by count 8-byte child block indices (spec §3.6).
const internalHeaderSize = 4

var u32Codec serial.Uint32Codec
var u64Codec serial.Uint64Codec

func (t *Raw) leafCapacity() int {
	return (int(t.engine.BlockSize()) - leafHeaderSize) / t.opts.ValueSize
}

func (t *Raw) internalCapacity() int {
	return (int(t.engine.BlockSize()) - internalHeaderSize + t.opts.KeySize) / (t.opts.KeySize + 8)
}

// leaf is a live view onto a pinned leaf block.
type leaf struct {
	t  *Raw
	bh *pager.BlockHandle
}

func (n leaf) prev() base.BlockIndex {
	return base.BlockIndex(u64Codec.Decode(n.bh.Data()[0:8]))
}
func (n leaf) setPrev(v base.BlockIndex) {
	u64Codec.Encode(uint64(v), n.bh.Data()[0:8])
	n.t.engine.MarkDirty(n.bh)
}
func (n leaf) next() base.BlockIndex {
	return base.BlockIndex(u64Codec.Decode(n.bh.Data()[8:16]))
}
func (n leaf) setNext(v base.BlockIndex) {
	u64Codec.Encode(uint64(v), n.bh.Data()[8:16])
	n.t.engine.MarkDirty(n.bh)
}
func (n leaf) count() int {
	return int(u32Codec.Decode(n.bh.Data()[16:20]))
}
func (n leaf) setCount(v int) {
	u32Codec.Encode(uint32(v), n.bh.Data()[16:20])
	n.t.engine.MarkDirty(n.bh)
}
func (n leaf) valueAt(i int) []byte {
	off := leafHeaderSize + i*n.t.opts.ValueSize
	return n.bh.Data()[off : off+n.t.opts.ValueSize]
}
func (n leaf) keyAt(i int) []byte {
	return n.t.opts.DeriveKey(n.valueAt(i))
}
func (n leaf) setValueAt(i int, v []byte) {
	copy(n.valueAt(i), v)
	n.t.engine.MarkDirty(n.bh)
}

// insertAt shifts values [i, count) right by one slot and writes v at i.
func (n leaf) insertAt(i int, v []byte) {
	c := n.count()
	for j := c; j > i; j-- {
		copy(n.valueAt(j), n.valueAt(j-1))
	}
	copy(n.valueAt(i), v)
	n.setCount(c + 1)
}

// removeAt shifts values (i, count) left by one slot, dropping index i.
func (n leaf) removeAt(i int) {
	c := n.count()
	for j := i; j < c-1; j++ {
		copy(n.valueAt(j), n.valueAt(j+1))
	}
	n.setCount(c - 1)
}

func (n leaf) release() { n.bh.Release() }

// internal is a live view onto a pinned internal block.
type internal struct {
	t  *Raw
	bh *pager.BlockHandle
}

func (n internal) count() int {
	return int(u32Codec.Decode(n.bh.Data()[0:4]))
}
func (n internal) setCount(v int) {
	u32Codec.Encode(uint32(v), n.bh.Data()[0:4])
	n.t.engine.MarkDirty(n.bh)
}

func (n internal) keysOffset() int { return internalHeaderSize }

func (n internal) childrenOffset(count int) int {
	return internalHeaderSize + (count-1)*n.t.opts.KeySize
}

// keyAt returns the i'th separator key (0 <= i < count-1).
func (n internal) keyAt(i int) []byte {
	off := n.keysOffset() + i*n.t.opts.KeySize
	return n.bh.Data()[off : off+n.t.opts.KeySize]
}

func (n internal) setKeyAt(i int, k []byte) {
	off := n.keysOffset() + i*n.t.opts.KeySize
	copy(n.bh.Data()[off:off+n.t.opts.KeySize], k)
	n.t.engine.MarkDirty(n.bh)
}

// childAt returns the i'th child pointer (0 <= i < count).
func (n internal) childAt(i int) base.BlockIndex {
	c := n.count()
	off := n.childrenOffset(c) + i*8
	return base.BlockIndex(u64Codec.Decode(n.bh.Data()[off : off+8]))
}

func (n internal) setChildAt(i int, b base.BlockIndex) {
	c := n.count()
	off := n.childrenOffset(c) + i*8
	u64Codec.Encode(uint64(b), n.bh.Data()[off:off+8])
	n.t.engine.MarkDirty(n.bh)
}

// rebuild rewrites the entire node from parallel key/child slices (used
// after any structural change, since shifting the children array also
// shifts where the keys array ends — with count-dependent offsets it is
// simplest to rewrite both arrays together rather than patch in place).
func (n internal) rebuild(keys [][]byte, children []base.BlockIndex) {
	if len(children) != len(keys)+1 {
		panic("btree: internal.rebuild: children must outnumber keys by one")
	}
	n.setCount(len(children))
	for i, k := range keys {
		off := n.keysOffset() + i*n.t.opts.KeySize
		copy(n.bh.Data()[off:off+n.t.opts.KeySize], k)
	}
	childOff := n.childrenOffset(len(children))
	for i, c := range children {
		off := childOff + i*8
		u64Codec.Encode(uint64(c), n.bh.Data()[off:off+8])
	}
	n.t.engine.MarkDirty(n.bh)
}

// keys returns copies of all (count-1) separator keys.
func (n internal) keys() [][]byte {
	c := n.count()
	out := make([][]byte, c-1)
	for i := range out {
		out[i] = append([]byte(nil), n.keyAt(i)...)
	}
	return out
}

// children returns all count child pointers.
func (n internal) children() []base.BlockIndex {
	c := n.count()
	out := make([]base.BlockIndex, c)
	for i := range out {
		out[i] = n.childAt(i)
	}
	return out
}

func (n internal) release() { n.bh.Release() }

// childIndexFor returns the index of the child that covers key: each
// separator is the first key of the child to its right, so the covering
// child is the first one whose separator is greater than key — i.e. child
// i covers [keys[i-1], keys[i]).
func (n internal) childIndexFor(key []byte) int {
	c := n.count()
	for i := 0; i < c-1; i++ {
		if n.t.opts.KeyLess(key, n.keyAt(i)) {
			return i
		}
	}
	return c - 1
}
