package serial

import "encoding/binary"

// Primitive widths, spec §3.2.
const (
	SizeBool    = 1
	SizeUint8   = 1
	SizeUint16  = 2
	SizeUint32  = 4
	SizeUint64  = 8
	SizeInt8    = 1
	SizeInt16   = 2
	SizeInt32   = 4
	SizeInt64   = 8
	SizeFloat32 = 4
	SizeFloat64 = 8
)

// BoolCodec encodes a bool as a single 0/1 byte.
type BoolCodec struct{}

func (BoolCodec) Size() int { return SizeBool }
func (BoolCodec) Encode(v bool, dst []byte) {
	if v {
		dst[0] = 1
	} else {
		dst[0] = 0
	}
}
func (BoolCodec) Decode(src []byte) bool { return src[0] != 0 }

// Uint8Codec encodes a uint8 as a single byte.
type Uint8Codec struct{}

func (Uint8Codec) Size() int                { return SizeUint8 }
func (Uint8Codec) Encode(v uint8, dst []byte) { dst[0] = v }
func (Uint8Codec) Decode(src []byte) uint8  { return src[0] }

// Int8Codec encodes an int8 as a single two's-complement byte.
type Int8Codec struct{}

func (Int8Codec) Size() int                { return SizeInt8 }
func (Int8Codec) Encode(v int8, dst []byte) { dst[0] = byte(v) }
func (Int8Codec) Decode(src []byte) int8   { return int8(src[0]) }

// Uint16Codec encodes a uint16 big-endian.
type Uint16Codec struct{}

func (Uint16Codec) Size() int { return SizeUint16 }
func (Uint16Codec) Encode(v uint16, dst []byte) { binary.BigEndian.PutUint16(dst, v) }
func (Uint16Codec) Decode(src []byte) uint16    { return binary.BigEndian.Uint16(src) }

// Int16Codec encodes an int16 big-endian, two's complement.
type Int16Codec struct{}

func (Int16Codec) Size() int { return SizeInt16 }
func (Int16Codec) Encode(v int16, dst []byte) { binary.BigEndian.PutUint16(dst, uint16(v)) }
func (Int16Codec) Decode(src []byte) int16    { return int16(binary.BigEndian.Uint16(src)) }

// Uint32Codec encodes a uint32 big-endian.
type Uint32Codec struct{}

func (Uint32Codec) Size() int { return SizeUint32 }
func (Uint32Codec) Encode(v uint32, dst []byte) { binary.BigEndian.PutUint32(dst, v) }
func (Uint32Codec) Decode(src []byte) uint32    { return binary.BigEndian.Uint32(src) }

// Int32Codec encodes an int32 big-endian, two's complement.
type Int32Codec struct{}

func (Int32Codec) Size() int { return SizeInt32 }
func (Int32Codec) Encode(v int32, dst []byte) { binary.BigEndian.PutUint32(dst, uint32(v)) }
func (Int32Codec) Decode(src []byte) int32    { return int32(binary.BigEndian.Uint32(src)) }

// Uint64Codec encodes a uint64 big-endian.
type Uint64Codec struct{}

func (Uint64Codec) Size() int { return SizeUint64 }
func (Uint64Codec) Encode(v uint64, dst []byte) { binary.BigEndian.PutUint64(dst, v) }
func (Uint64Codec) Decode(src []byte) uint64    { return binary.BigEndian.Uint64(src) }

// Int64Codec encodes an int64 big-endian, two's complement.
type Int64Codec struct{}

func (Int64Codec) Size() int { return SizeInt64 }
func (Int64Codec) Encode(v int64, dst []byte) { binary.BigEndian.PutUint64(dst, uint64(v)) }
func (Int64Codec) Decode(src []byte) int64    { return int64(binary.BigEndian.Uint64(src)) }

// Float32Codec encodes a float32 as its IEEE-754 bit pattern, big-endian.
type Float32Codec struct{}

func (Float32Codec) Size() int { return SizeFloat32 }
func (Float32Codec) Encode(v float32, dst []byte) {
	binary.BigEndian.PutUint32(dst, float32bits(v))
}
func (Float32Codec) Decode(src []byte) float32 {
	return float32frombits(binary.BigEndian.Uint32(src))
}

// Float64Codec encodes a float64 as its IEEE-754 bit pattern, big-endian.
type Float64Codec struct{}

func (Float64Codec) Size() int { return SizeFloat64 }
func (Float64Codec) Encode(v float64, dst []byte) {
	binary.BigEndian.PutUint64(dst, float64bits(v))
}
func (Float64Codec) Decode(src []byte) float64 {
	return float64frombits(binary.BigEndian.Uint64(src))
}
