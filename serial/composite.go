package serial

// BytesCodec is the memcpy fast path for fixed-size byte-array types (spec
// §3.2 "1-byte bytes (memcpy)"). It encodes/decodes exactly N bytes,
// allocating a fresh slice on Decode so the caller can't alias the source
// buffer.
type BytesCodec struct{ N int }

func (c BytesCodec) Size() int { return c.N }

func (c BytesCodec) Encode(v []byte, dst []byte) {
	if len(v) != c.N {
		panic("serial: BytesCodec.Encode: wrong length")
	}
	copy(dst[:c.N], v)
}

func (c BytesCodec) Decode(src []byte) []byte {
	out := make([]byte, c.N)
	copy(out, src[:c.N])
	return out
}

// ArrayCodec encodes a fixed-length slice of N elements, each encoded with
// elem, contiguously (spec §3.2 "Fixed array [T; N]: N contiguous T
// encodings"). N is a constructor argument rather than a Go array-length
// type parameter: Go generics cannot parameterize an array's length at
// compile time the way the C++ original's non-type template parameter
// does, so this is the closest idiomatic equivalent (a runtime-fixed N,
// computed once and never mutated after construction).
type ArrayCodec[T any] struct {
	Elem Codec[T]
	N    int
}

func NewArrayCodec[T any](elem Codec[T], n int) ArrayCodec[T] {
	return ArrayCodec[T]{Elem: elem, N: n}
}

func (c ArrayCodec[T]) Size() int { return c.Elem.Size() * c.N }

func (c ArrayCodec[T]) Encode(v []T, dst []byte) {
	if len(v) != c.N {
		panic("serial: ArrayCodec.Encode: wrong length")
	}
	sz := c.Elem.Size()
	for i, e := range v {
		c.Elem.Encode(e, dst[i*sz:(i+1)*sz])
	}
}

func (c ArrayCodec[T]) Decode(src []byte) []T {
	sz := c.Elem.Size()
	out := make([]T, c.N)
	for i := range out {
		out[i] = c.Elem.Decode(src[i*sz : (i+1)*sz])
	}
	return out
}

// Pair is the in-memory representation of a serialized tuple (spec §3.2
// "Pair / tuple: fields concatenated in declaration order").
type Pair[A, B any] struct {
	First  A
	Second B
}

// PairCodec composes two codecs into a Codec for Pair[A, B], concatenating
// their encodings in declaration order with no padding between them.
type PairCodec[A, B any] struct {
	CA Codec[A]
	CB Codec[B]
}

func NewPairCodec[A, B any](ca Codec[A], cb Codec[B]) PairCodec[A, B] {
	return PairCodec[A, B]{CA: ca, CB: cb}
}

func (c PairCodec[A, B]) Size() int { return c.CA.Size() + c.CB.Size() }

func (c PairCodec[A, B]) Encode(v Pair[A, B], dst []byte) {
	n := c.CA.Size()
	c.CA.Encode(v.First, dst[:n])
	c.CB.Encode(v.Second, dst[n:n+c.CB.Size()])
}

func (c PairCodec[A, B]) Decode(src []byte) Pair[A, B] {
	n := c.CA.Size()
	return Pair[A, B]{
		First:  c.CA.Decode(src[:n]),
		Second: c.CB.Decode(src[n : n+c.CB.Size()]),
	}
}

// Option is the in-memory representation of spec §3.2's Option<T>: a
// presence flag plus a payload that is zeroed when absent.
type Option[T any] struct {
	Valid bool
	Value T
}

// Some constructs a present Option.
func Some[T any](v T) Option[T] { return Option[T]{Valid: true, Value: v} }

// None constructs an absent Option.
func None[T any]() Option[T] { return Option[T]{} }

// OptionCodec encodes Option[T] as 1 presence byte + Size() payload bytes,
// the payload zeroed when absent (spec §3.2).
type OptionCodec[T any] struct {
	Elem Codec[T]
}

func NewOptionCodec[T any](elem Codec[T]) OptionCodec[T] {
	return OptionCodec[T]{Elem: elem}
}

func (c OptionCodec[T]) Size() int { return 1 + c.Elem.Size() }

func (c OptionCodec[T]) Encode(v Option[T], dst []byte) {
	payload := dst[1 : 1+c.Elem.Size()]
	if v.Valid {
		dst[0] = 1
		c.Elem.Encode(v.Value, payload)
	} else {
		dst[0] = 0
		for i := range payload {
			payload[i] = 0
		}
	}
}

func (c OptionCodec[T]) Decode(src []byte) Option[T] {
	if src[0] == 0 {
		return Option[T]{}
	}
	return Option[T]{Valid: true, Value: c.Elem.Decode(src[1 : 1+c.Elem.Size()])}
}
