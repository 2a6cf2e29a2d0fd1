package heap

import (
	"testing"

	"github.com/prequeldb/prequel/handle"
	"github.com/prequeldb/prequel/internal/base"
	"github.com/prequeldb/prequel/pager"
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

func (a *bumpAllocator) Free(block base.BlockIndex, size int) error { return nil }

func (a *bumpAllocator) FreeRun(first base.BlockIndex, blocks int, blockSize int) error { return nil }

func newTestHeap(t *testing.T) (*Heap, *pager.Engine) {
	t.Helper()
	mem := vfs.NewMem()
	e, err := pager.Open(mem, "db", vfs.ReadWrite, vfs.Create, pager.Options{BlockSize: 512, CacheBlocks: 128})
	require.NoError(t, err)
	require.NoError(t, e.Grow(1))

	bh, err := e.Pin(0, true)
	require.NoError(t, err)
	anchorH := handle.New[Anchor](bh, 0, AnchorCodec)
	anchorH.Set(e, Anchor{})

	alloc := newBumpAllocator(e, 1)
	h := Open(e, alloc, Options{}, anchorH)
	return h, e
}

func newTestHeapWithOptions(t *testing.T, opts Options) (*Heap, *pager.Engine) {
	t.Helper()
	mem := vfs.NewMem()
	e, err := pager.Open(mem, "db", vfs.ReadWrite, vfs.Create, pager.Options{BlockSize: 512, CacheBlocks: 128})
	require.NoError(t, err)
	require.NoError(t, e.Grow(1))

	bh, err := e.Pin(0, true)
	require.NoError(t, err)
	anchorH := handle.New[Anchor](bh, 0, AnchorCodec)
	anchorH.Set(e, Anchor{})

	alloc := newBumpAllocator(e, 1)
	return Open(e, alloc, opts, anchorH), e
}

func TestStoreLoadSmallObject(t *testing.T) {
	h, _ := newTestHeap(t)
	data := []byte("hello, heap")
	ref, err := h.Store(data)
	require.NoError(t, err)
	require.True(t, ref.IsSmall())

	got, err := h.Load(ref)
	require.NoError(t, err)
	require.Equal(t, data, got)
	require.Equal(t, uint64(1), h.ObjectsCount())
	require.Equal(t, uint64(len(data)), h.ObjectsSize())
}

func TestStoreLoadLargeObject(t *testing.T) {
	h, _ := newTestHeap(t)
	data := make([]byte, 2000)
	for i := range data {
		data[i] = byte(i)
	}
	ref, err := h.Store(data)
	require.NoError(t, err)
	require.False(t, ref.IsSmall())

	got, err := h.Load(ref)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestStoreLoadLargeObjectWithZstdCompression(t *testing.T) {
	z, err := NewZstdCompressor()
	require.NoError(t, err)
	defer z.Close()

	h, _ := newTestHeapWithOptions(t, Options{Compress: z})
	data := make([]byte, 4000)
	for i := range data {
		data[i] = byte(i % 7) // compresses well: low-entropy repeating pattern
	}
	ref, err := h.Store(data)
	require.NoError(t, err)
	require.False(t, ref.IsSmall())

	got, err := h.Load(ref)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestStoreLoadLargeObjectWithSnappyCompression(t *testing.T) {
	h, _ := newTestHeapWithOptions(t, Options{Compress: SnappyCompressor{}})
	data := make([]byte, 4000)
	for i := range data {
		data[i] = byte(i % 7)
	}
	ref, err := h.Store(data)
	require.NoError(t, err)
	require.False(t, ref.IsSmall())

	got, err := h.Load(ref)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestManySmallObjectsShareAPage(t *testing.T) {
	h, _ := newTestHeap(t)
	var refs []Ref
	for i := 0; i < 20; i++ {
		ref, err := h.Store([]byte{byte(i), byte(i + 1), byte(i + 2)})
		require.NoError(t, err)
		refs = append(refs, ref)
	}
	require.Equal(t, uint64(20), h.ObjectsCount())
	for i, ref := range refs {
		got, err := h.Load(ref)
		require.NoError(t, err)
		require.Equal(t, []byte{byte(i), byte(i + 1), byte(i + 2)}, got)
	}
}

func TestFreeSmallObjectReclaimsSpace(t *testing.T) {
	h, _ := newTestHeap(t)
	ref1, err := h.Store([]byte("first"))
	require.NoError(t, err)
	ref2, err := h.Store([]byte("second"))
	require.NoError(t, err)

	require.NoError(t, h.Free(ref1))
	require.Equal(t, uint64(1), h.ObjectsCount())

	got, err := h.Load(ref2)
	require.NoError(t, err)
	require.Equal(t, []byte("second"), got)

	_, err = h.Load(ref1)
	require.Error(t, err)
}

func TestFreeAllEmptiesPage(t *testing.T) {
	h, _ := newTestHeap(t)
	ref, err := h.Store([]byte("solo"))
	require.NoError(t, err)
	require.NoError(t, h.Free(ref))
	require.Equal(t, uint64(0), h.ObjectsCount())
	require.Equal(t, uint64(0), h.ObjectsSize())
}

func TestStoreInPlaceOverwritesSameSize(t *testing.T) {
	h, _ := newTestHeap(t)
	ref, err := h.Store([]byte("abcde"))
	require.NoError(t, err)
	require.NoError(t, h.StoreInPlace(ref, []byte("ABCDE")))
	got, err := h.Load(ref)
	require.NoError(t, err)
	require.Equal(t, []byte("ABCDE"), got)
}

func TestStoreInPlaceRejectsSizeMismatch(t *testing.T) {
	h, _ := newTestHeap(t)
	ref, err := h.Store([]byte("abcde"))
	require.NoError(t, err)
	err = h.StoreInPlace(ref, []byte("short"))
	require.NoError(t, err) // same length, should succeed
	err = h.StoreInPlace(ref, []byte("too long now"))
	require.Error(t, err)
	require.True(t, base.IsBadArgument(err))
}

func TestCompactionReclaimsFragmentedSpace(t *testing.T) {
	h, _ := newTestHeap(t)
	var refs []Ref
	payload := make([]byte, 40)
	for i := 0; i < 8; i++ {
		ref, err := h.Store(payload)
		require.NoError(t, err)
		refs = append(refs, ref)
	}
	// Free every other object, fragmenting the page, then allocate
	// something that only fits if compaction reclaims the fragments.
	for i := 0; i < len(refs); i += 2 {
		require.NoError(t, h.Free(refs[i]))
	}
	big := make([]byte, 150)
	ref, err := h.Store(big)
	require.NoError(t, err)
	got, err := h.Load(ref)
	require.NoError(t, err)
	require.Equal(t, big, got)
}
