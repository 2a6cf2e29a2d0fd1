// Package handle implements the typed handle layer of spec §4.3: a typed
// reference onto an engine block and a field offset within it, composing
// serial.Codec with pager.BlockHandle so callers can get/set a whole value
// or a single nested field without a full struct round-trip.
package handle

import (
	"github.com/prequeldb/prequel/pager"
	"github.com/prequeldb/prequel/serial"
)

// Handle is a typed view onto byte range [Offset, Offset+Codec.Size()) of a
// pinned block. It does not own the underlying pager.BlockHandle's pin —
// callers release the BlockHandle themselves once done with every Handle
// derived from it.
type Handle[T any] struct {
	Block  *pager.BlockHandle
	Offset int
	Codec  serial.Codec[T]
}

// New constructs a Handle at the given byte offset within block.
func New[T any](block *pager.BlockHandle, offset int, codec serial.Codec[T]) Handle[T] {
	return Handle[T]{Block: block, Offset: offset, Codec: codec}
}

// Get deserializes the value at the handle's offset.
func (h Handle[T]) Get() T {
	buf := h.Block.Data()[h.Offset : h.Offset+h.Codec.Size()]
	return h.Codec.Decode(buf)
}

// Set serializes v at the handle's offset and marks the block dirty.
func (h Handle[T]) Set(engine *pager.Engine, v T) {
	buf := h.Block.Data()[h.Offset : h.Offset+h.Codec.Size()]
	h.Codec.Encode(v, buf)
	engine.MarkDirty(h.Block)
}

// Member derives a handle for a nested field of T, found at byte
// fieldOffset relative to h's own offset and described by fieldCodec. This
// is spec §4.3's member<path>(): a new handle sharing the same pin.
func Member[T, F any](h Handle[T], fieldOffset int, fieldCodec serial.Codec[F]) Handle[F] {
	return Handle[F]{Block: h.Block, Offset: h.Offset + fieldOffset, Codec: fieldCodec}
}

// GetMember reads a single nested field without deserializing the whole of
// T, using a precomputed byte offset (e.g. from serial.FieldOffsets).
func GetMember[T, F any](h Handle[T], fieldOffset int, fieldCodec serial.Codec[F]) F {
	return Member(h, fieldOffset, fieldCodec).Get()
}

// SetMember writes a single nested field in place and marks the block
// dirty, without rewriting the rest of T.
func SetMember[T, F any](h Handle[T], engine *pager.Engine, fieldOffset int, fieldCodec serial.Codec[F], v F) {
	Member(h, fieldOffset, fieldCodec).Set(engine, v)
}
