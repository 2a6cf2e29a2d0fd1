// Package hashtable implements the raw linear-hash table of spec §3.7/§4.7:
// an unordered fixed-size-record set indexed by a derived key, growing one
// bucket at a time via linear hashing instead of a full rehash, plus a
// generic typed wrapper Table[T].
//
// Grounded on the original's include/prequel/container/hash_table.hpp for
// the bucket/overflow-chain layout and the split-step growth rule, and on
// btree's handle/cursor-free style (lookups re-derive everything from the
// anchor, nothing is cached across calls) for the package shape.
package hashtable

import (
	"github.com/prequeldb/prequel/internal/base"
	"github.com/prequeldb/prequel/serial"
)

// maxChunks bounds the number of bucket_ranges chunks. Chunks double in
// size, so this comfortably covers any table that fits in a 64-bit block
// address space.
const maxChunks = 48

// Anchor is the persistent state of a hash table (spec §3.7).
type Anchor struct {
	Size            uint64
	PrimaryBuckets  uint64
	OverflowBuckets uint64
	Step            uint64
	Level           uint64
	NumChunks       uint32
	ChunkFirst      [maxChunks]base.BlockIndex
	ChunkSize       [maxChunks]uint64
}

// AnchorSize is Anchor's fixed encoded size.
const AnchorSize = 8*5 + 4 + maxChunks*8 + maxChunks*8

type anchorCodec struct{}

func (anchorCodec) Size() int { return AnchorSize }

func (anchorCodec) Encode(v Anchor, dst []byte) {
	var u64 serial.Uint64Codec
	var u32 serial.Uint32Codec
	u64.Encode(v.Size, dst[0:8])
	u64.Encode(v.PrimaryBuckets, dst[8:16])
	u64.Encode(v.OverflowBuckets, dst[16:24])
	u64.Encode(v.Step, dst[24:32])
	u64.Encode(v.Level, dst[32:40])
	u32.Encode(v.NumChunks, dst[40:44])
	off := 44
	for i := 0; i < maxChunks; i++ {
		u64.Encode(uint64(v.ChunkFirst[i]), dst[off:off+8])
		off += 8
	}
	for i := 0; i < maxChunks; i++ {
		u64.Encode(v.ChunkSize[i], dst[off:off+8])
		off += 8
	}
}

func (anchorCodec) Decode(src []byte) Anchor {
	var u64 serial.Uint64Codec
	var u32 serial.Uint32Codec
	var v Anchor
	v.Size = u64.Decode(src[0:8])
	v.PrimaryBuckets = u64.Decode(src[8:16])
	v.OverflowBuckets = u64.Decode(src[16:24])
	v.Step = u64.Decode(src[24:32])
	v.Level = u64.Decode(src[32:40])
	v.NumChunks = u32.Decode(src[40:44])
	off := 44
	for i := 0; i < maxChunks; i++ {
		v.ChunkFirst[i] = base.BlockIndex(u64.Decode(src[off : off+8]))
		off += 8
	}
	for i := 0; i < maxChunks; i++ {
		v.ChunkSize[i] = u64.Decode(src[off : off+8])
		off += 8
	}
	return v
}

// AnchorCodec is the serial.Codec for Anchor.
var AnchorCodec serial.Codec[Anchor] = anchorCodec{}

func (a Anchor) Empty() bool { return a.Size == 0 }
