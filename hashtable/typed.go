package hashtable

import (
	"github.com/prequeldb/prequel/handle"
	"github.com/prequeldb/prequel/pager"
	"github.com/prequeldb/prequel/serial"
)

// Table wraps Raw with a serial.Codec, presenting Go values of T.
type Table[T any] struct {
	raw   *Raw
	codec serial.Codec[T]
}

func NewTable[T any](engine *pager.Engine, alloc Allocator, codec serial.Codec[T], deriveKey func(encoded []byte) []byte, keyHash func(key []byte) uint64, keyEqual func(a, b []byte) bool, anchorH handle.Handle[Anchor]) *Table[T] {
	opts := Options{
		ValueSize: codec.Size(),
		DeriveKey: deriveKey,
		KeyHash:   keyHash,
		KeyEqual:  keyEqual,
	}
	return &Table[T]{raw: NewRaw(engine, alloc, opts, anchorH), codec: codec}
}

func (tb *Table[T]) Raw() *Raw   { return tb.raw }
func (tb *Table[T]) Size() uint64 { return tb.raw.Size() }
func (tb *Table[T]) Empty() bool  { return tb.raw.Empty() }

func (tb *Table[T]) Insert(v T, mode InsertMode) (inserted bool, err error) {
	buf := make([]byte, tb.codec.Size())
	tb.codec.Encode(v, buf)
	return tb.raw.Insert(buf, mode)
}

// Find looks up by a pre-derived key (see FindBy for a compatible-key
// lookup that avoids constructing one).
func (tb *Table[T]) Find(key []byte) (value T, found bool, err error) {
	buf, found, err := tb.raw.Find(key)
	if err != nil || !found {
		var zero T
		return zero, found, err
	}
	return tb.codec.Decode(buf), true, nil
}

func (tb *Table[T]) Erase(key []byte) (erased bool, err error) {
	return tb.raw.Erase(key)
}

func (tb *Table[T]) Clear() error { return tb.raw.Clear() }

// FindBy performs a compatible-key query (spec §4.7): hash and compare a
// search key of a different type K than the stored value T, without
// constructing a full T just to derive its key. hash/equal operate on K
// directly against the already-decoded candidate value.
func FindBy[T, K any](tb *Table[T], key K, hash func(K) uint64, equal func(T, K) bool) (value T, found bool, err error) {
	raw := tb.raw
	a := raw.Anchor()
	if a.PrimaryBuckets == 0 {
		var zero T
		return zero, false, nil
	}
	mod := uint64(1) << a.Level
	b := hash(key) % mod
	if b < a.Step {
		b = hash(key) % (mod << 1)
	}
	block := raw.blockForBucket(a, b)
	for block.Valid() {
		n := raw.pinBucket(block, false)
		c := n.count()
		for i := 0; i < c; i++ {
			candidate := tb.codec.Decode(n.valueAt(i))
			if equal(candidate, key) {
				n.release()
				return candidate, true, nil
			}
		}
		next := n.overflowNext()
		n.release()
		block = next
	}
	var zero T
	return zero, false, nil
}
