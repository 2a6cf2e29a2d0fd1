package container

import (
	"testing"

	"github.com/prequeldb/prequel/handle"
	"github.com/prequeldb/prequel/internal/base"
	"github.com/prequeldb/prequel/pager"
	"github.com/prequeldb/prequel/serial"
	"github.com/prequeldb/prequel/vfs"
	"github.com/stretchr/testify/require"
)

type bumpAllocator struct {
	e    *pager.Engine
	next base.BlockIndex
}

func newBumpAllocator(e *pager.Engine, next base.BlockIndex) *bumpAllocator {
	return &bumpAllocator{e: e, next: next}
}

func (a *bumpAllocator) Allocate(size int) (base.BlockIndex, error) {
	b := a.next
	a.next++
	return b, a.e.Grow(1)
}

func (a *bumpAllocator) AllocateRun(blocks int, blockSize int) (base.BlockIndex, error) {
	first := a.next
	a.next += base.BlockIndex(blocks)
	return first, a.e.Grow(uint64(blocks))
}

func (a *bumpAllocator) Reallocate(current base.BlockIndex, oldBlocks, newBlocks int, blockSize int) (base.BlockIndex, error) {
	newStart, err := a.AllocateRun(newBlocks, blockSize)
	if err != nil {
		return 0, err
	}
	if current.Valid() {
		for i := 0; i < oldBlocks; i++ {
			oldBh, err := a.e.Pin(current+base.BlockIndex(i), false)
			if err != nil {
				return 0, err
			}
			newBh, err := a.e.Pin(newStart+base.BlockIndex(i), false)
			if err != nil {
				oldBh.Release()
				return 0, err
			}
			copy(newBh.Data(), oldBh.Data())
			a.e.MarkDirty(newBh)
			oldBh.Release()
			newBh.Release()
		}
	}
	return newStart, nil
}

func (a *bumpAllocator) Free(block base.BlockIndex, size int) error { return nil }

func (a *bumpAllocator) FreeRun(first base.BlockIndex, blocks int, blockSize int) error { return nil }

func newEngine(t *testing.T) (*pager.Engine, *bumpAllocator) {
	t.Helper()
	mem := vfs.NewMem()
	e, err := pager.Open(mem, "db", vfs.ReadWrite, vfs.Create, pager.Options{BlockSize: 128, CacheBlocks: 64})
	require.NoError(t, err)
	require.NoError(t, e.Grow(1))
	return e, newBumpAllocator(e, 1)
}

func TestStackPushPopLIFO(t *testing.T) {
	e, alloc := newEngine(t)
	bh, err := e.Pin(0, true)
	require.NoError(t, err)
	anchorH := handle.New[StackAnchor](bh, 0, StackAnchorCodec)
	anchorH.Set(e, StackAnchor{})

	var u64 serial.Uint64Codec
	s := NewStack[uint64](e, alloc, u64, anchorH)
	require.True(t, s.Empty())

	const n = 500
	for i := uint64(0); i < n; i++ {
		require.NoError(t, s.Push(i))
	}
	require.Equal(t, uint64(n), s.Size())

	for i := uint64(n); i > 0; i-- {
		top, err := s.Top()
		require.NoError(t, err)
		require.Equal(t, i-1, top)
		v, err := s.Pop()
		require.NoError(t, err)
		require.Equal(t, i-1, v)
	}
	require.True(t, s.Empty())
	_, err = s.Pop()
	require.Error(t, err)
}

func TestArrayGetSetGrow(t *testing.T) {
	e, alloc := newEngine(t)
	bh, err := e.Pin(0, true)
	require.NoError(t, err)
	anchorH := handle.New[ArrayAnchor](bh, 0, ArrayAnchorCodec)
	anchorH.Set(e, ArrayAnchor{})

	var u64 serial.Uint64Codec
	arr := NewArray[uint64](e, alloc, u64, anchorH)
	require.NoError(t, arr.Grow(100))
	require.Equal(t, uint64(100), arr.Length())

	for i := uint64(0); i < 100; i++ {
		require.NoError(t, arr.Set(i, i*i))
	}
	for i := uint64(0); i < 100; i++ {
		v, err := arr.Get(i)
		require.NoError(t, err)
		require.Equal(t, i*i, v)
	}

	require.NoError(t, arr.Grow(500))
	for i := uint64(0); i < 100; i++ {
		v, err := arr.Get(i)
		require.NoError(t, err)
		require.Equal(t, i*i, v)
	}
	require.NoError(t, arr.Set(499, 12345))
	v, err := arr.Get(499)
	require.NoError(t, err)
	require.Equal(t, uint64(12345), v)
}

func TestExtentGetSet(t *testing.T) {
	e, alloc := newEngine(t)
	block, err := alloc.AllocateRun(3, int(e.BlockSize()))
	require.NoError(t, err)
	var u32 serial.Uint32Codec
	ext := NewExtent[uint32](e, u32, block, 3)
	for i := uint64(0); i < ext.Len(); i++ {
		require.NoError(t, ext.Set(i, uint32(i*7)))
	}
	for i := uint64(0); i < ext.Len(); i++ {
		v, err := ext.Get(i)
		require.NoError(t, err)
		require.Equal(t, uint32(i*7), v)
	}
	_, err = ext.Get(ext.Len())
	require.Error(t, err)
}
