package heap

import (
	"github.com/prequeldb/prequel/btree"
	"github.com/prequeldb/prequel/serial"
)

// Anchor is the persistent state of a heap (spec §3.8): object accounting
// plus the two B+-tree indexes (page_map, free_map) that locate every
// block run the heap owns.
type Anchor struct {
	ObjectsCount uint64
	ObjectsSize  uint64
	BlocksCount  uint64
	PageMap      btree.Anchor
	FreeMap      btree.Anchor
}

// AnchorSize is Anchor's fixed encoded size: three u64 counters plus two
// embedded btree anchors.
const AnchorSize = 3*8 + btree.AnchorSize*2

type anchorCodec struct{}

func (anchorCodec) Size() int { return AnchorSize }

func (anchorCodec) Encode(v Anchor, dst []byte) {
	var u64 serial.Uint64Codec
	u64.Encode(v.ObjectsCount, dst[0:8])
	u64.Encode(v.ObjectsSize, dst[8:16])
	u64.Encode(v.BlocksCount, dst[16:24])
	btree.AnchorCodec.Encode(v.PageMap, dst[24:24+btree.AnchorSize])
	btree.AnchorCodec.Encode(v.FreeMap, dst[24+btree.AnchorSize:24+2*btree.AnchorSize])
}

func (anchorCodec) Decode(src []byte) Anchor {
	var u64 serial.Uint64Codec
	var v Anchor
	v.ObjectsCount = u64.Decode(src[0:8])
	v.ObjectsSize = u64.Decode(src[8:16])
	v.BlocksCount = u64.Decode(src[16:24])
	v.PageMap = btree.AnchorCodec.Decode(src[24 : 24+btree.AnchorSize])
	v.FreeMap = btree.AnchorCodec.Decode(src[24+btree.AnchorSize : 24+2*btree.AnchorSize])
	return v
}

// AnchorCodec is the serial.Codec for Anchor.
var AnchorCodec serial.Codec[Anchor] = anchorCodec{}
