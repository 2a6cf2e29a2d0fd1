package alloc

import (
	"github.com/prequeldb/prequel/internal/base"
	"github.com/prequeldb/prequel/serial"
)

// extentRecord is a free extent: blocks [Block, Block+Size). It is stored
// twice, under two different wire encodings, so that each index tree's key
// ordering falls directly out of the encoded byte prefix it compares:
// extents_by_position orders by Block, extents_by_size orders by (Size,
// Block) (spec §3.5).
type extentRecord struct {
	Block base.BlockIndex
	Size  uint64
}

const extentRecordSize = 8 + 8

// positionRecordCodec encodes Block first, so DeriveKey's 8-byte prefix is
// the position key.
type positionRecordCodec struct{}

func (positionRecordCodec) Size() int { return extentRecordSize }
func (positionRecordCodec) Encode(v extentRecord, dst []byte) {
	var u64 serial.Uint64Codec
	u64.Encode(uint64(v.Block), dst[0:8])
	u64.Encode(v.Size, dst[8:16])
}
func (positionRecordCodec) Decode(src []byte) extentRecord {
	var u64 serial.Uint64Codec
	return extentRecord{Block: base.BlockIndex(u64.Decode(src[0:8])), Size: u64.Decode(src[8:16])}
}

var positionCodec serial.Codec[extentRecord] = positionRecordCodec{}

const positionKeySize = 8

func positionDeriveKey(encoded []byte) []byte { return encoded[0:8] }

func positionKeyLess(a, b []byte) bool {
	var u64 serial.Uint64Codec
	return u64.Decode(a) < u64.Decode(b)
}

func encodePositionKey(block base.BlockIndex) []byte {
	buf := make([]byte, 8)
	var u64 serial.Uint64Codec
	u64.Encode(uint64(block), buf)
	return buf
}

// sizeRecordCodec encodes Size first, so the whole 16-byte record is the
// (size, block) composite key used by extents_by_size.
type sizeRecordCodec struct{}

func (sizeRecordCodec) Size() int { return extentRecordSize }
func (sizeRecordCodec) Encode(v extentRecord, dst []byte) {
	var u64 serial.Uint64Codec
	u64.Encode(v.Size, dst[0:8])
	u64.Encode(uint64(v.Block), dst[8:16])
}
func (sizeRecordCodec) Decode(src []byte) extentRecord {
	var u64 serial.Uint64Codec
	return extentRecord{Size: u64.Decode(src[0:8]), Block: base.BlockIndex(u64.Decode(src[8:16]))}
}

var sizeCodec serial.Codec[extentRecord] = sizeRecordCodec{}

const sizeKeySize = extentRecordSize

func sizeDeriveKey(encoded []byte) []byte { return encoded }

func sizeKeyLess(a, b []byte) bool {
	var u64 serial.Uint64Codec
	as, bs := u64.Decode(a[0:8]), u64.Decode(b[0:8])
	if as != bs {
		return as < bs
	}
	return u64.Decode(a[8:16]) < u64.Decode(b[8:16])
}

func encodeSizeKey(size uint64, block base.BlockIndex) []byte {
	buf := make([]byte, 16)
	var u64 serial.Uint64Codec
	u64.Encode(size, buf[0:8])
	u64.Encode(uint64(block), buf[8:16])
	return buf
}
