// Package alloc implements the default block allocator of spec §3.5/§4.5:
// a best-fit free-extent allocator with grow-in-place and plain-growth
// fallbacks, a seven-step reallocation strategy, and the self-hosting
// metadata bootstrap that lets its own two B+-tree extent indexes draw
// their node blocks from a dedicated metadata free list instead of from
// the pool of data blocks they themselves index.
//
// Grounded on the original's extpp/default_allocator.hpp and
// src/extpp/default_allocator.cpp (fix_freelist, the two-tree extent
// indexing, the seven-step reallocate cascade).
package alloc

import (
	"github.com/prequeldb/prequel/btree"
	"github.com/prequeldb/prequel/internal/base"
	"github.com/prequeldb/prequel/serial"
)

// Anchor is the persistent state of a default allocator (spec §3.5).
type Anchor struct {
	DataTotal         uint64
	DataFree          uint64
	MetaTotal         uint64
	MetaFree          uint64
	MetaFreelistHead  base.BlockIndex
	ExtentsByPosition btree.Anchor
	ExtentsBySize     btree.Anchor
}

// Byte offsets of Anchor's embedded btree anchors, used to derive handles
// onto them without re-encoding the whole Anchor.
const (
	extentsByPositionOffset = 8*4 + 8
	extentsBySizeOffset     = extentsByPositionOffset + btree.AnchorSize
)

// AnchorSize is Anchor's fixed encoded size.
const AnchorSize = extentsBySizeOffset + btree.AnchorSize

type anchorCodec struct{}

func (anchorCodec) Size() int { return AnchorSize }

func (anchorCodec) Encode(v Anchor, dst []byte) {
	var u64 serial.Uint64Codec
	u64.Encode(v.DataTotal, dst[0:8])
	u64.Encode(v.DataFree, dst[8:16])
	u64.Encode(v.MetaTotal, dst[16:24])
	u64.Encode(v.MetaFree, dst[24:32])
	u64.Encode(uint64(v.MetaFreelistHead), dst[32:40])
	btree.AnchorCodec.Encode(v.ExtentsByPosition, dst[extentsByPositionOffset:extentsByPositionOffset+btree.AnchorSize])
	btree.AnchorCodec.Encode(v.ExtentsBySize, dst[extentsBySizeOffset:extentsBySizeOffset+btree.AnchorSize])
}

func (anchorCodec) Decode(src []byte) Anchor {
	var u64 serial.Uint64Codec
	var v Anchor
	v.DataTotal = u64.Decode(src[0:8])
	v.DataFree = u64.Decode(src[8:16])
	v.MetaTotal = u64.Decode(src[16:24])
	v.MetaFree = u64.Decode(src[24:32])
	v.MetaFreelistHead = base.BlockIndex(u64.Decode(src[32:40]))
	v.ExtentsByPosition = btree.AnchorCodec.Decode(src[extentsByPositionOffset : extentsByPositionOffset+btree.AnchorSize])
	v.ExtentsBySize = btree.AnchorCodec.Decode(src[extentsBySizeOffset : extentsBySizeOffset+btree.AnchorSize])
	return v
}

// AnchorCodec is the serial.Codec for Anchor.
var AnchorCodec serial.Codec[Anchor] = anchorCodec{}
