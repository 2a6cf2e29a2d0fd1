// Package container implements the typed container wrappers named in spec
// §3.1's layer table but not spelled out in the spec body: Stack[T] (a
// block-chained LIFO), Array[T] (a dense fixed-logical-length array over a
// contiguous block extent), and Extent[T] (an unanchored typed view over a
// raw allocator extent).
//
// Grounded on the original source's src/container/stack.cpp (Stack) and
// extpp/stream.hpp (Array/Extent).
package container

import (
	"github.com/prequeldb/prequel/handle"
	"github.com/prequeldb/prequel/internal/base"
	"github.com/prequeldb/prequel/pager"
	"github.com/prequeldb/prequel/serial"
)

// Allocator is the block-allocation capability these containers need.
type Allocator interface {
	Allocate(size int) (base.BlockIndex, error)
	AllocateRun(blocks int, blockSize int) (base.BlockIndex, error)
	Reallocate(current base.BlockIndex, oldBlocks, newBlocks int, blockSize int) (base.BlockIndex, error)
	Free(block base.BlockIndex, size int) error
	FreeRun(first base.BlockIndex, blocks int, blockSize int) error
}

// StackAnchor is the persistent state of a Stack.
type StackAnchor struct {
	Size uint64
	Top  base.BlockIndex
}

const StackAnchorSize = 8 + 8

type stackAnchorCodec struct{}

func (stackAnchorCodec) Size() int { return StackAnchorSize }
func (stackAnchorCodec) Encode(v StackAnchor, dst []byte) {
	var u64 serial.Uint64Codec
	u64.Encode(v.Size, dst[0:8])
	u64.Encode(uint64(v.Top), dst[8:16])
}
func (stackAnchorCodec) Decode(src []byte) StackAnchor {
	var u64 serial.Uint64Codec
	return StackAnchor{Size: u64.Decode(src[0:8]), Top: base.BlockIndex(u64.Decode(src[8:16]))}
}

var StackAnchorCodec serial.Codec[StackAnchor] = stackAnchorCodec{}

// stackNodeHeaderSize is {prev BlockIndex, count u32}.
const stackNodeHeaderSize = 8 + 4

// Stack is a block-chained LIFO of fixed-size values (original stack.cpp):
// each node holds a header plus as many packed values as fit; a full
// node's push allocates a fresh node linked via prev; a node that becomes
// empty on pop is freed unless it is the only remaining node.
type Stack[T any] struct {
	engine  *pager.Engine
	alloc   Allocator
	codec   serial.Codec[T]
	anchorH handle.Handle[StackAnchor]
}

func NewStack[T any](engine *pager.Engine, alloc Allocator, codec serial.Codec[T], anchorH handle.Handle[StackAnchor]) *Stack[T] {
	return &Stack[T]{engine: engine, alloc: alloc, codec: codec, anchorH: anchorH}
}

func (s *Stack[T]) Size() uint64 { return s.anchorH.Get().Size }
func (s *Stack[T]) Empty() bool  { return s.Size() == 0 }

func (s *Stack[T]) capacityPerNode() int {
	return (int(s.engine.BlockSize()) - stackNodeHeaderSize) / s.codec.Size()
}

func (s *Stack[T]) nodeCount(bh *pager.BlockHandle) int {
	var u32 serial.Uint32Codec
	return int(u32.Decode(bh.Data()[8:12]))
}
func (s *Stack[T]) setNodeCount(bh *pager.BlockHandle, v int) {
	var u32 serial.Uint32Codec
	u32.Encode(uint32(v), bh.Data()[8:12])
	s.engine.MarkDirty(bh)
}
func (s *Stack[T]) nodePrev(bh *pager.BlockHandle) base.BlockIndex {
	var u64 serial.Uint64Codec
	return base.BlockIndex(u64.Decode(bh.Data()[0:8]))
}
func (s *Stack[T]) setNodePrev(bh *pager.BlockHandle, v base.BlockIndex) {
	var u64 serial.Uint64Codec
	u64.Encode(uint64(v), bh.Data()[0:8])
	s.engine.MarkDirty(bh)
}
func (s *Stack[T]) slotOffset(i int) int { return stackNodeHeaderSize + i*s.codec.Size() }

// Push adds v to the top of the stack.
func (s *Stack[T]) Push(v T) error {
	a := s.anchorH.Get()
	var bh *pager.BlockHandle
	var err error

	if !a.Top.Valid() {
		block, allocErr := s.alloc.Allocate(int(s.engine.BlockSize()))
		if allocErr != nil {
			return allocErr
		}
		bh, err = s.engine.Pin(block, true)
		if err != nil {
			return err
		}
		s.setNodePrev(bh, base.InvalidBlock)
		s.setNodeCount(bh, 0)
		a.Top = block
	} else {
		bh, err = s.engine.Pin(a.Top, false)
		if err != nil {
			return err
		}
		if s.nodeCount(bh) >= s.capacityPerNode() {
			bh.Release()
			block, allocErr := s.alloc.Allocate(int(s.engine.BlockSize()))
			if allocErr != nil {
				return allocErr
			}
			bh, err = s.engine.Pin(block, true)
			if err != nil {
				return err
			}
			s.setNodePrev(bh, a.Top)
			s.setNodeCount(bh, 0)
			a.Top = block
		}
	}

	c := s.nodeCount(bh)
	buf := bh.Data()[s.slotOffset(c) : s.slotOffset(c)+s.codec.Size()]
	s.codec.Encode(v, buf)
	s.engine.MarkDirty(bh)
	s.setNodeCount(bh, c+1)
	bh.Release()

	a.Size++
	s.anchorH.Set(s.engine, a)
	return nil
}

// Top returns the value at the top of the stack without removing it.
func (s *Stack[T]) Top() (T, error) {
	var zero T
	a := s.anchorH.Get()
	if a.Size == 0 {
		return zero, base.BadOperationf("container: Top on an empty stack")
	}
	bh, err := s.engine.Pin(a.Top, false)
	if err != nil {
		return zero, err
	}
	defer bh.Release()
	c := s.nodeCount(bh)
	return s.codec.Decode(bh.Data()[s.slotOffset(c-1) : s.slotOffset(c-1)+s.codec.Size()]), nil
}

// Pop removes and returns the value at the top of the stack.
func (s *Stack[T]) Pop() (T, error) {
	var zero T
	a := s.anchorH.Get()
	if a.Size == 0 {
		return zero, base.BadOperationf("container: Pop on an empty stack")
	}
	bh, err := s.engine.Pin(a.Top, false)
	if err != nil {
		return zero, err
	}
	c := s.nodeCount(bh)
	v := s.codec.Decode(bh.Data()[s.slotOffset(c-1) : s.slotOffset(c-1)+s.codec.Size()])
	s.setNodeCount(bh, c-1)

	if c-1 == 0 {
		prev := s.nodePrev(bh)
		top := a.Top
		bh.Release()
		if prev.Valid() {
			if err := s.alloc.Free(top, int(s.engine.BlockSize())); err != nil {
				return zero, err
			}
			a.Top = prev
		}
		// If prev is invalid, this was the only node: keep it around
		// empty rather than freeing the stack's sole remaining block.
	} else {
		bh.Release()
	}

	a.Size--
	s.anchorH.Set(s.engine, a)
	return v, nil
}
