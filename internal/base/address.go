package base

import "fmt"

// BlockIndex is a 64-bit opaque identifier for a block in the backing file.
// The zero value is the sentinel for "no block" (spec §3.1).
type BlockIndex uint64

// InvalidBlock is the sentinel block index meaning "no block".
const InvalidBlock BlockIndex = 0

// Valid reports whether b refers to an actual block.
func (b BlockIndex) Valid() bool { return b != InvalidBlock }

func (b BlockIndex) String() string {
	if b == InvalidBlock {
		return "<invalid-block>"
	}
	return fmt.Sprintf("block(%d)", uint64(b))
}

// Addr is a raw 64-bit byte offset into the backing file. It equals
// blockIndex*blockSize + offsetInBlock. The zero value is the invalid
// address: it is also the address of the first byte of block 0, which is
// therefore never a user-addressable datum (spec §3.1).
type Addr uint64

// InvalidAddr is the sentinel raw address.
const InvalidAddr Addr = 0

// Valid reports whether a refers to an actual byte in the file.
func (a Addr) Valid() bool { return a != InvalidAddr }

// MakeAddr computes the raw address of offset bytes into block index,
// given the engine's block size.
func MakeAddr(index BlockIndex, offset uint32, blockSize uint32) Addr {
	return Addr(uint64(index)*uint64(blockSize) + uint64(offset))
}

// Block returns the block index that address a falls within, given
// blockSize.
func (a Addr) Block(blockSize uint32) BlockIndex {
	return BlockIndex(uint64(a) / uint64(blockSize))
}

// Offset returns the byte offset of address a within its block, given
// blockSize.
func (a Addr) Offset(blockSize uint32) uint32 {
	return uint32(uint64(a) % uint64(blockSize))
}

func (a Addr) String() string {
	if a == InvalidAddr {
		return "<invalid-addr>"
	}
	return fmt.Sprintf("addr(%d)", uint64(a))
}
