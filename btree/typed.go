package btree

import (
	"github.com/prequeldb/prequel/handle"
	"github.com/prequeldb/prequel/pager"
	"github.com/prequeldb/prequel/serial"
)

// Tree wraps Raw with a serial.Codec, presenting Go values of T instead of
// raw byte records. Key derivation and ordering still operate on the
// encoded byte representation, since that is what is actually stored.
type Tree[T any] struct {
	raw   *Raw
	codec serial.Codec[T]
}

// NewTree builds a typed tree over values of size codec.Size(), deriving
// keys from the encoded bytes via deriveKey/keyLess (both operate on the
// wire encoding, not on T directly, matching how the on-disk tree compares
// records).
func NewTree[T any](engine *pager.Engine, alloc Allocator, codec serial.Codec[T], keySize int, deriveKey func(encoded []byte) []byte, keyLess func(a, b []byte) bool, anchorH handle.Handle[Anchor]) *Tree[T] {
	opts := Options{
		KeySize:   keySize,
		ValueSize: codec.Size(),
		DeriveKey: deriveKey,
		KeyLess:   keyLess,
	}
	return &Tree[T]{raw: NewRaw(engine, alloc, opts, anchorH), codec: codec}
}

func (t *Tree[T]) Raw() *Raw { return t.raw }

func (t *Tree[T]) Size() uint64 { return t.raw.Size() }

func (t *Tree[T]) Empty() bool { return t.raw.Empty() }

// Insert encodes v and inserts it, keyed by DeriveKey(encode(v)).
func (t *Tree[T]) Insert(v T, mode InsertMode) (inserted bool, err error) {
	buf := make([]byte, t.codec.Size())
	t.codec.Encode(v, buf)
	return t.raw.Insert(buf, mode)
}

// Find looks up the value whose derived key equals probeKey. probeKey is
// already a derived key (KeySize bytes in the wire encoding DeriveKey
// produces), not a whole encoded record; it is passed to Raw.Find as is.
func (t *Tree[T]) Find(probeKey []byte) (value T, found bool, err error) {
	buf, found, err := t.raw.Find(probeKey)
	if err != nil || !found {
		var zero T
		return zero, found, err
	}
	return t.codec.Decode(buf), true, nil
}

// Erase removes the entry with the given derived key.
func (t *Tree[T]) Erase(key []byte) (erased bool, err error) {
	return t.raw.Erase(key)
}

// Clear empties the tree.
func (t *Tree[T]) Clear() error { return t.raw.Clear() }

// TypedCursor wraps Cursor, decoding values to T.
type TypedCursor[T any] struct {
	c     *Cursor
	codec serial.Codec[T]
}

func (t *Tree[T]) CreateCursor(mode SeekMode) *TypedCursor[T] {
	return &TypedCursor[T]{c: t.raw.CreateCursor(mode), codec: t.codec}
}

func (t *Tree[T]) LowerBound(key []byte) (*TypedCursor[T], error) {
	c, err := t.raw.LowerBound(key)
	return &TypedCursor[T]{c: c, codec: t.codec}, err
}

func (c *TypedCursor[T]) Close()       { c.c.Close() }
func (c *TypedCursor[T]) Valid() bool  { return c.c.Valid() }
func (c *TypedCursor[T]) Next() error  { return c.c.Next() }
func (c *TypedCursor[T]) Prev() error  { return c.c.Prev() }
func (c *TypedCursor[T]) Value() T     { return c.codec.Decode(c.c.Value()) }
