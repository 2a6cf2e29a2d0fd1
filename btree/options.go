package btree

import "github.com/prequeldb/prequel/internal/base"

// Allocator is the minimal block-allocation capability the raw tree needs.
// The default allocator (package alloc) implements this; so does any
// simpler bump/free-list allocator a test wants to supply.
type Allocator interface {
	Allocate(size int) (base.BlockIndex, error)
	Free(block base.BlockIndex, size int) error
}

// InsertMode controls what Insert does when a value with the same derived
// key already exists (spec §4.6).
type InsertMode int

const (
	// KeepExisting leaves the existing value untouched; Insert reports
	// inserted=false.
	KeepExisting InsertMode = iota
	// Overwrite replaces the existing value; Insert reports inserted=false
	// (the key already existed) but the cursor now observes the new value.
	Overwrite
)

// SeekMode controls where CreateCursor initially positions its cursor.
type SeekMode int

const (
	// SeekNone creates a cursor with no current position (at_end).
	SeekNone SeekMode = iota
	// SeekMin positions the cursor at the smallest key.
	SeekMin
	// SeekMax positions the cursor at the largest key.
	SeekMax
)

// Options configures a Raw tree. KeySize and ValueSize are fixed for the
// tree's lifetime. DeriveKey must return a slice of exactly KeySize bytes
// for any ValueSize-byte value; KeyLess must be a strict weak ordering.
type Options struct {
	KeySize   int
	ValueSize int
	DeriveKey func(value []byte) []byte
	KeyLess   func(a, b []byte) bool
}
