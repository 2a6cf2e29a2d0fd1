package serial

import "github.com/prequeldb/prequel/internal/base"

// MaxVariantAlternatives is the fixed ceiling spec §3.2/§9 hard-codes for
// the variant encoding. The tag byte could hold more values; any tag value
// at or above the alternative count is rejected by Decode as an I/O error
// rather than silently wrapping.
const MaxVariantAlternatives = 16

// AnyCodec is a type-erased Codec, used to build Variant out of
// heterogeneous per-alternative codecs (Go's type system has no way to
// express "a Codec[T] for some T chosen at runtime" otherwise — spec's
// variant is exactly such a sum type, and AsAny below is the bridge).
type AnyCodec interface {
	Size() int
	EncodeAny(v interface{}, dst []byte)
	DecodeAny(src []byte) interface{}
}

type anyCodecAdapter[T any] struct{ c Codec[T] }

func (a anyCodecAdapter[T]) Size() int { return a.c.Size() }
func (a anyCodecAdapter[T]) EncodeAny(v interface{}, dst []byte) {
	a.c.Encode(v.(T), dst)
}
func (a anyCodecAdapter[T]) DecodeAny(src []byte) interface{} {
	return a.c.Decode(src)
}

// AsAny adapts a Codec[T] to an AnyCodec for use as one alternative of a
// Variant.
func AsAny[T any](c Codec[T]) AnyCodec { return anyCodecAdapter[T]{c} }

// Variant implements spec §3.2's "Variant of up to 16 alternatives": 1 tag
// byte (0..N-1) followed by max(serialized_size(Alt_i)) bytes of payload;
// unused tail bytes are zeroed. Decode returns base.ErrIOError when the tag
// byte is out of range, matching spec §4.2's "fails with io_error if the
// tag exceeds the alternative count".
type Variant struct {
	alts    []AnyCodec
	maxSize int
}

// NewVariant builds a Variant over the given per-alternative codecs, in tag
// order. len(alts) must be in [1, MaxVariantAlternatives].
func NewVariant(alts ...AnyCodec) Variant {
	if len(alts) == 0 || len(alts) > MaxVariantAlternatives {
		panic("serial: Variant must have between 1 and 16 alternatives")
	}
	max := 0
	for _, a := range alts {
		if a.Size() > max {
			max = a.Size()
		}
	}
	return Variant{alts: alts, maxSize: max}
}

// Size returns 1 + the largest alternative's size.
func (v Variant) Size() int { return 1 + v.maxSize }

// Encode writes tag (the alternative index) and value (which must match the
// type expected by alts[tag]) to dst.
func (v Variant) Encode(tag int, value interface{}, dst []byte) {
	if tag < 0 || tag >= len(v.alts) {
		panic("serial: Variant.Encode: tag out of range")
	}
	dst[0] = byte(tag)
	payload := dst[1:v.Size()]
	n := v.alts[tag].Size()
	v.alts[tag].EncodeAny(value, payload[:n])
	for i := n; i < len(payload); i++ {
		payload[i] = 0
	}
}

// Decode reads the tag byte and decodes the corresponding alternative.
func (v Variant) Decode(src []byte) (tag int, value interface{}, err error) {
	t := int(src[0])
	if t >= len(v.alts) {
		return 0, nil, base.IOErrorf("serial: variant tag %d exceeds %d alternatives", t, len(v.alts))
	}
	n := v.alts[t].Size()
	return t, v.alts[t].DecodeAny(src[1 : 1+n]), nil
}
