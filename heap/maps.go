package heap

import (
	"github.com/prequeldb/prequel/internal/base"
	"github.com/prequeldb/prequel/serial"
)

// pageMapEntry records one block run the heap owns (spec §3.8's page_map):
// its starting block, how many blocks it spans, and whether it is a large
// object (a dedicated run of one or more blocks) or a single small-object
// page.
type pageMapEntry struct {
	Block      base.BlockIndex
	BlockCount uint32
	IsLarge    bool
}

const pageMapValueSize = 8 + 4 + 1 + 3 // padded to a 4-byte-aligned 16 bytes
const pageMapKeySize = 8

type pageMapCodec struct{}

func (pageMapCodec) Size() int { return pageMapValueSize }

func (pageMapCodec) Encode(v pageMapEntry, dst []byte) {
	var u64 serial.Uint64Codec
	var u32 serial.Uint32Codec
	var b serial.BoolCodec
	u64.Encode(uint64(v.Block), dst[0:8])
	u32.Encode(v.BlockCount, dst[8:12])
	b.Encode(v.IsLarge, dst[12:13])
}

func (pageMapCodec) Decode(src []byte) pageMapEntry {
	var u64 serial.Uint64Codec
	var u32 serial.Uint32Codec
	var b serial.BoolCodec
	return pageMapEntry{
		Block:      base.BlockIndex(u64.Decode(src[0:8])),
		BlockCount: u32.Decode(src[8:12]),
		IsLarge:    b.Decode(src[12:13]),
	}
}

var pageMapValueCodec serial.Codec[pageMapEntry] = pageMapCodec{}

func pageMapDeriveKey(encoded []byte) []byte { return encoded[0:pageMapKeySize] }

// freeMapEntry is both the key and the stored record of the heap's
// free_map: keyed by (available_bytes, block) so the smallest page with
// enough room is found by a lower-bound scan (spec §4.8's allocation
// rule), per the Open Question decision to keep the whole record as the
// key rather than a separate indirection.
type freeMapEntry struct {
	AvailBytes uint32
	Block      base.BlockIndex
}

const freeMapSize = 4 + 8
const freeMapKeySize = freeMapSize

type freeMapCodec struct{}

func (freeMapCodec) Size() int { return freeMapSize }

func (freeMapCodec) Encode(v freeMapEntry, dst []byte) {
	var u32 serial.Uint32Codec
	var u64 serial.Uint64Codec
	u32.Encode(v.AvailBytes, dst[0:4])
	u64.Encode(uint64(v.Block), dst[4:12])
}

func (freeMapCodec) Decode(src []byte) freeMapEntry {
	var u32 serial.Uint32Codec
	var u64 serial.Uint64Codec
	return freeMapEntry{
		AvailBytes: u32.Decode(src[0:4]),
		Block:      base.BlockIndex(u64.Decode(src[4:12])),
	}
}

var freeMapValueCodec serial.Codec[freeMapEntry] = freeMapCodec{}

func freeMapDeriveKey(encoded []byte) []byte { return encoded[0:freeMapKeySize] }

func freeMapKeyLess(a, b []byte) bool {
	for i := 0; i < freeMapKeySize; i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

func encodeFreeMapKey(avail uint32, block base.BlockIndex) []byte {
	buf := make([]byte, freeMapKeySize)
	freeMapValueCodec.Encode(freeMapEntry{AvailBytes: avail, Block: block}, buf)
	return buf
}

func pageMapKeyLess(a, b []byte) bool {
	for i := 0; i < pageMapKeySize; i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

func encodePageMapKey(block base.BlockIndex) []byte {
	buf := make([]byte, pageMapKeySize)
	var u64 serial.Uint64Codec
	u64.Encode(uint64(block), buf)
	return buf
}
