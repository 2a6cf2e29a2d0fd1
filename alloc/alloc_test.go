package alloc

import (
	"testing"

	"github.com/prequeldb/prequel/handle"
	"github.com/prequeldb/prequel/internal/base"
	"github.com/prequeldb/prequel/pager"
	"github.com/prequeldb/prequel/vfs"
	"github.com/stretchr/testify/require"
)

func newTestAllocator(t *testing.T, opts Options) (*pager.Engine, *Allocator) {
	t.Helper()
	mem := vfs.NewMem()
	e, err := pager.Open(mem, "db", vfs.ReadWrite, vfs.Create, pager.Options{BlockSize: 256, CacheBlocks: 64})
	require.NoError(t, err)
	require.NoError(t, e.Grow(1))

	bh, err := e.Pin(0, true)
	require.NoError(t, err)
	anchorH := handle.New[Anchor](bh, 0, AnchorCodec)
	anchorH.Set(e, Anchor{})
	bh.Release()

	return e, Open(e, opts, anchorH)
}

func TestAllocateGrowsAndTracksTotals(t *testing.T) {
	_, a := newTestAllocator(t, Options{CanGrow: true, MinChunk: 1})

	// Power-of-two sizes grow the file by exactly the request, with no
	// leftover surplus extent, keeping the totals here exact.
	b1, err := a.AllocateRun(2, 256)
	require.NoError(t, err)
	require.True(t, b1.Valid())
	require.Equal(t, uint64(2), a.DataTotal())
	require.Equal(t, uint64(0), a.DataFree())

	b2, err := a.AllocateRun(4, 256)
	require.NoError(t, err)
	require.NotEqual(t, b1, b2)
	require.Equal(t, uint64(6), a.DataTotal())
	require.Equal(t, uint64(0), a.DataFree())
}

func TestFreeThenAllocateReusesExtent(t *testing.T) {
	_, a := newTestAllocator(t, Options{CanGrow: true, MinChunk: 1})

	b1, err := a.AllocateRun(4, 256)
	require.NoError(t, err)
	totalAfterFirst := a.DataTotal()

	require.NoError(t, a.FreeRun(b1, 4, 256))
	require.Equal(t, uint64(4), a.DataFree())
	require.NoError(t, a.Validate())

	b2, err := a.AllocateRun(4, 256)
	require.NoError(t, err)
	require.Equal(t, b1, b2, "best-fit should reuse the freed extent instead of growing the file")
	require.Equal(t, totalAfterFirst, a.DataTotal())
	require.Equal(t, uint64(0), a.DataFree())
}

func TestFreeMergesAdjacentExtents(t *testing.T) {
	_, a := newTestAllocator(t, Options{CanGrow: true, MinChunk: 1})

	b1, err := a.AllocateRun(2, 256)
	require.NoError(t, err)
	b2, err := a.AllocateRun(2, 256)
	require.NoError(t, err)
	require.Equal(t, b1+2, b2, "consecutive plain-growth allocations are contiguous")

	require.NoError(t, a.FreeRun(b1, 2, 256))
	require.NoError(t, a.FreeRun(b2, 2, 256))
	require.NoError(t, a.Validate())

	// The two freed runs should have merged into one 4-block extent
	// starting at b1: a fresh 4-block request must be satisfiable by
	// best-fit without growing the file.
	before := a.DataTotal()
	b3, err := a.AllocateRun(4, 256)
	require.NoError(t, err)
	require.Equal(t, b1, b3)
	require.Equal(t, before, a.DataTotal())
}

func TestAllocateWithoutGrowthFailsWhenExhausted(t *testing.T) {
	_, a := newTestAllocator(t, Options{CanGrow: false})
	_, err := a.AllocateRun(1, 256)
	require.Error(t, err)
	require.True(t, base.IsBadAlloc(err))
}

func TestReallocateShrinkFreesSuffix(t *testing.T) {
	_, a := newTestAllocator(t, Options{CanGrow: true, MinChunk: 1})
	b1, err := a.AllocateRun(8, 256)
	require.NoError(t, err)

	b2, err := a.Reallocate(b1, 8, 2, 256)
	require.NoError(t, err)
	require.Equal(t, b1, b2)
	require.Equal(t, uint64(6), a.DataFree())
	require.NoError(t, a.Validate())
}

func TestReallocateConsumesRightNeighbor(t *testing.T) {
	_, a := newTestAllocator(t, Options{CanGrow: true, MinChunk: 1})
	b1, err := a.AllocateRun(2, 256)
	require.NoError(t, err)
	b2, err := a.AllocateRun(2, 256)
	require.NoError(t, err)
	require.NoError(t, a.FreeRun(b2, 2, 256))

	grown, err := a.Reallocate(b1, 2, 4, 256)
	require.NoError(t, err)
	require.Equal(t, b1, grown, "growing into a free right neighbor must not move the data")
	require.NoError(t, a.Validate())
}

func TestReallocateFallbackCopiesData(t *testing.T) {
	e, a := newTestAllocator(t, Options{CanGrow: true, MinChunk: 1})
	b1, err := a.AllocateRun(2, 256)
	require.NoError(t, err)

	bh, err := e.Pin(b1, false)
	require.NoError(t, err)
	bh.Data()[0] = 0xAB
	e.MarkDirty(bh)
	bh.Release()

	// Allocate something else immediately to the right so growth cannot
	// happen in place, forcing the allocate-copy-free fallback.
	_, err = a.AllocateRun(1, 256)
	require.NoError(t, err)

	b2, err := a.Reallocate(b1, 2, 5, 256)
	require.NoError(t, err)
	require.NotEqual(t, b1, b2)

	bh2, err := e.Pin(b2, false)
	require.NoError(t, err)
	require.Equal(t, byte(0xAB), bh2.Data()[0])
	bh2.Release()
	require.NoError(t, a.Validate())
}

func TestAddRegionDonatesBlocksToPool(t *testing.T) {
	e, a := newTestAllocator(t, Options{CanGrow: false})
	require.NoError(t, e.Grow(4))
	require.NoError(t, a.AddRegion(1, 4))
	require.Equal(t, uint64(4), a.DataTotal())
	require.Equal(t, uint64(4), a.DataFree())

	block, err := a.AllocateRun(4, 256)
	require.NoError(t, err)
	require.Equal(t, base.BlockIndex(1), block)
}
