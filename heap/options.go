package heap

import "github.com/prequeldb/prequel/internal/base"

// Allocator is the block-allocation capability the heap needs: single
// blocks for small-object pages, contiguous runs for large objects.
type Allocator interface {
	Allocate(size int) (base.BlockIndex, error)
	AllocateRun(blocks int, blockSize int) (base.BlockIndex, error)
	Free(block base.BlockIndex, size int) error
	FreeRun(first base.BlockIndex, blocks int, blockSize int) error
}

// Compressor optionally compresses large-object bytes before they're
// written to their block run, and decompresses them on load. Left unset
// (the default), objects are stored verbatim, matching spec §3.8's binary
// contract exactly; a Compressor is an opt-in storage optimization on top
// of it.
type Compressor interface {
	Compress(dst, src []byte) []byte
	Decompress(dst, src []byte) ([]byte, error)
}

// Options configures a Heap.
type Options struct {
	// Compress, if set, is applied to large objects only (small objects
	// are too small for the framing overhead to pay for itself).
	Compress Compressor
}
