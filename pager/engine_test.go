package pager

import (
	"testing"
	"time"

	"github.com/prequeldb/prequel/internal/base"
	"github.com/prequeldb/prequel/vfs"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, cacheBlocks int) (*Engine, *vfs.Mem) {
	t.Helper()
	mem := vfs.NewMem()
	e, err := Open(mem, "db", vfs.ReadWrite, vfs.Create, Options{BlockSize: 512, CacheBlocks: cacheBlocks})
	require.NoError(t, err)
	require.NoError(t, e.Grow(64))
	return e, mem
}

func TestPinWriteFlushReopen(t *testing.T) {
	e, mem := newTestEngine(t, 16)

	h, err := e.Pin(1, false)
	require.NoError(t, err)
	copy(h.Data(), []byte("hello block"))
	e.MarkDirty(h)
	h.Release()

	// Visible to a subsequent pin before flush.
	h2, err := e.Pin(1, true)
	require.NoError(t, err)
	require.Equal(t, "hello block", string(h2.Data()[:11]))
	h2.Release()

	require.NoError(t, e.Flush())
	require.NoError(t, e.Close())

	// Reopen and confirm durability.
	e2, err := Open(mem, "db", vfs.ReadWrite, vfs.Normal, Options{BlockSize: 512, CacheBlocks: 16})
	require.NoError(t, err)
	h3, err := e2.Pin(1, true)
	require.NoError(t, err)
	require.Equal(t, "hello block", string(h3.Data()[:11]))
	h3.Release()
	require.NoError(t, e2.Close())
}

func TestPinAlreadyPinnedFails(t *testing.T) {
	e, _ := newTestEngine(t, 16)
	h, err := e.Pin(2, false)
	require.NoError(t, err)
	defer h.Release()

	_, err = e.Pin(2, false)
	require.Error(t, err)
	require.True(t, base.IsBadArgument(err))
}

func TestPinInvalidSentinel(t *testing.T) {
	e, _ := newTestEngine(t, 16)
	_, err := e.Pin(base.InvalidBlock, false)
	require.Error(t, err)
	require.True(t, base.IsBadArgument(err))
}

func TestCacheSizeBoundedByTargetPlusPinned(t *testing.T) {
	e, _ := newTestEngine(t, 4)

	var handles []*BlockHandle
	for i := base.BlockIndex(1); i <= 10; i++ {
		h, err := e.Pin(i, false)
		require.NoError(t, err)
		handles = append(handles, h)
	}
	// All 10 are pinned: eviction must not have touched them.
	require.Equal(t, 10, e.Metrics().ResidentBlocks)
	for _, h := range handles {
		h.Release()
	}

	// Once released, pinning more blocks should keep resident count near
	// target+headroom (4+8), not grow unbounded.
	for i := base.BlockIndex(11); i <= 30; i++ {
		h, err := e.Pin(i, false)
		require.NoError(t, err)
		h.Release()
	}
	require.LessOrEqual(t, e.Metrics().ResidentBlocks, 4+8)
}

func TestOldestUnpinnedAgeReflectsLRUTail(t *testing.T) {
	e, _ := newTestEngine(t, 16)

	m := e.Metrics()
	require.Zero(t, m.OldestUnpinnedAge, "nothing resident yet")

	h, err := e.Pin(1, false)
	require.NoError(t, err)
	h.Release()

	m = e.Metrics()
	require.GreaterOrEqual(t, m.OldestUnpinnedAge, time.Duration(0))
}

func TestEvictingDirtyBlockWritesItBack(t *testing.T) {
	e, _ := newTestEngine(t, 1)

	h1, err := e.Pin(1, false)
	require.NoError(t, err)
	copy(h1.Data(), []byte("first"))
	e.MarkDirty(h1)
	h1.Release()

	// Pin enough other blocks to force block 1 out of the cache via
	// eviction (target is 1+8=9 resident).
	for i := base.BlockIndex(2); i <= 12; i++ {
		h, err := e.Pin(i, false)
		require.NoError(t, err)
		h.Release()
	}

	h2, err := e.Pin(1, true)
	require.NoError(t, err)
	require.Equal(t, "first", string(h2.Data()[:5]))
	h2.Release()
}
