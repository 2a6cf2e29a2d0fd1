package hashtable

import (
	"encoding/binary"
	"math/rand"
	"testing"

	"github.com/cespare/xxhash/v2"
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

const testValueSize = 16

func encodeRecord(key, payload uint64) []byte {
	buf := make([]byte, testValueSize)
	binary.BigEndian.PutUint64(buf[0:8], key)
	binary.BigEndian.PutUint64(buf[8:16], payload)
	return buf
}

func deriveKey(v []byte) []byte { return v[0:8] }
func keyHash(k []byte) uint64   { return xxhash.Sum64(k) }
func keyEqual(a, b []byte) bool {
	return string(a) == string(b)
}

func encodeKey(key uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, key)
	return buf
}

func newTestTable(t *testing.T) (*Raw, *pager.Engine) {
	t.Helper()
	mem := vfs.NewMem()
	e, err := pager.Open(mem, "db", vfs.ReadWrite, vfs.Create, pager.Options{BlockSize: 1024, CacheBlocks: 128})
	require.NoError(t, err)
	require.NoError(t, e.Grow(1))

	bh, err := e.Pin(0, true)
	require.NoError(t, err)
	anchorH := handle.New[Anchor](bh, 0, AnchorCodec)
	anchorH.Set(e, Anchor{})

	alloc := newBumpAllocator(e, 1)
	opts := Options{ValueSize: testValueSize, DeriveKey: deriveKey, KeyHash: keyHash, KeyEqual: keyEqual}
	table := NewRaw(e, alloc, opts, anchorH)
	return table, e
}

func TestInsertFindMany(t *testing.T) {
	table, _ := newTestTable(t)
	const n = 3000
	for i := uint64(0); i < n; i++ {
		inserted, err := table.Insert(encodeRecord(i, i*3), KeepExisting)
		require.NoError(t, err)
		require.True(t, inserted)
	}
	require.Equal(t, uint64(n), table.Size())
	require.NoError(t, table.Validate())

	for i := uint64(0); i < n; i++ {
		v, found, err := table.Find(encodeKey(i))
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, i*3, binary.BigEndian.Uint64(v[8:16]))
	}
	_, found, err := table.Find(encodeKey(n + 50))
	require.NoError(t, err)
	require.False(t, found)
}

func TestInsertRandomOrder(t *testing.T) {
	table, _ := newTestTable(t)
	const n = 2000
	perm := rand.New(rand.NewSource(7)).Perm(n)
	for _, i := range perm {
		_, err := table.Insert(encodeRecord(uint64(i), uint64(i)), KeepExisting)
		require.NoError(t, err)
	}
	require.NoError(t, table.Validate())
	for i := 0; i < n; i++ {
		_, found, err := table.Find(encodeKey(uint64(i)))
		require.NoError(t, err)
		require.True(t, found)
	}
}

func TestInsertDuplicateKeepVsOverwrite(t *testing.T) {
	table, _ := newTestTable(t)
	_, err := table.Insert(encodeRecord(42, 1), KeepExisting)
	require.NoError(t, err)
	inserted, err := table.Insert(encodeRecord(42, 2), KeepExisting)
	require.NoError(t, err)
	require.False(t, inserted)
	v, _, _ := table.Find(encodeKey(42))
	require.Equal(t, uint64(1), binary.BigEndian.Uint64(v[8:16]))

	_, err = table.Insert(encodeRecord(42, 2), Overwrite)
	require.NoError(t, err)
	v, _, _ = table.Find(encodeKey(42))
	require.Equal(t, uint64(2), binary.BigEndian.Uint64(v[8:16]))
}

func TestEraseRemovesAndCompacts(t *testing.T) {
	table, _ := newTestTable(t)
	const n = 1000
	for i := uint64(0); i < n; i++ {
		_, err := table.Insert(encodeRecord(i, i), KeepExisting)
		require.NoError(t, err)
	}
	for i := uint64(0); i < n; i += 2 {
		erased, err := table.Erase(encodeKey(i))
		require.NoError(t, err)
		require.True(t, erased)
	}
	require.Equal(t, uint64(n/2), table.Size())
	require.NoError(t, table.Validate())
	for i := uint64(0); i < n; i++ {
		_, found, err := table.Find(encodeKey(i))
		require.NoError(t, err)
		require.Equal(t, i%2 != 0, found)
	}
	erased, err := table.Erase(encodeKey(0))
	require.NoError(t, err)
	require.False(t, erased)
}

func TestEraseAllThenReinsert(t *testing.T) {
	table, _ := newTestTable(t)
	const n = 500
	for i := uint64(0); i < n; i++ {
		_, err := table.Insert(encodeRecord(i, i), KeepExisting)
		require.NoError(t, err)
	}
	for i := uint64(0); i < n; i++ {
		erased, err := table.Erase(encodeKey(i))
		require.NoError(t, err)
		require.True(t, erased)
	}
	require.Equal(t, uint64(0), table.Size())
	require.NoError(t, table.Validate())

	_, err := table.Insert(encodeRecord(1, 1), KeepExisting)
	require.NoError(t, err)
	v, found, err := table.Find(encodeKey(1))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(1), binary.BigEndian.Uint64(v[8:16]))
}
