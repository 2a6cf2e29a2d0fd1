package hashtable

import "github.com/prequeldb/prequel/internal/base"

// Allocator is the block-allocation capability the raw table needs:
// single blocks for overflow nodes, contiguous runs for a fresh bucket
// chunk (spec §4.7's "chunks are allocated in powers of two").
type Allocator interface {
	Allocate(size int) (base.BlockIndex, error)
	AllocateRun(blocks int, blockSize int) (base.BlockIndex, error)
	Free(block base.BlockIndex, size int) error
	FreeRun(first base.BlockIndex, blocks int, blockSize int) error
}

// InsertMode mirrors btree.InsertMode: what Insert does on a key collision.
type InsertMode int

const (
	KeepExisting InsertMode = iota
	Overwrite
)

// Options configures a Raw table. KeyHash and KeyEqual operate on the
// derived key bytes; DeriveKey extracts those bytes from a stored value.
type Options struct {
	ValueSize int
	DeriveKey func(value []byte) []byte
	KeyHash   func(key []byte) uint64
	KeyEqual  func(a, b []byte) bool
}
