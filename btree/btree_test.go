package btree

import (
	"bytes"
	"encoding/binary"
	"math/rand"
	"testing"

	"github.com/prequeldb/prequel/handle"
	"github.com/prequeldb/prequel/internal/base"
	"github.com/prequeldb/prequel/pager"
	"github.com/prequeldb/prequel/vfs"
	"github.com/stretchr/testify/require"
)

// bumpAllocator is a minimal Allocator for tests: it only ever grows the
// file, never reuses freed blocks. Good enough to exercise tree structure
// without pulling in the real allocator package.
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
	if err := a.e.Grow(1); err != nil {
		return 0, err
	}
	return b, nil
}

func (a *bumpAllocator) Free(block base.BlockIndex, size int) error { return nil }

const (
	testKeySize   = 8
	testValueSize = 16
)

func encodeRecord(key, payload uint64) []byte {
	buf := make([]byte, testValueSize)
	binary.BigEndian.PutUint64(buf[0:8], key)
	binary.BigEndian.PutUint64(buf[8:16], payload)
	return buf
}

func deriveKey(v []byte) []byte { return v[0:testKeySize] }
func keyLess(a, b []byte) bool  { return bytes.Compare(a, b) < 0 }

func encodeKey(key uint64) []byte {
	buf := make([]byte, testKeySize)
	binary.BigEndian.PutUint64(buf, key)
	return buf
}

func newTestTree(t *testing.T) (*Raw, *pager.Engine) {
	t.Helper()
	mem := vfs.NewMem()
	e, err := pager.Open(mem, "db", vfs.ReadWrite, vfs.Create, pager.Options{BlockSize: 256, CacheBlocks: 64})
	require.NoError(t, err)
	require.NoError(t, e.Grow(1))

	bh, err := e.Pin(0, true)
	require.NoError(t, err)
	anchorH := handle.New[Anchor](bh, 0, AnchorCodec)
	anchorH.Set(e, Anchor{})

	alloc := newBumpAllocator(e, 1)
	opts := Options{KeySize: testKeySize, ValueSize: testValueSize, DeriveKey: deriveKey, KeyLess: keyLess}
	tree := NewRaw(e, alloc, opts, anchorH)
	return tree, e
}

func TestInsertFindAscending(t *testing.T) {
	tree, _ := newTestTree(t)
	const n = 2000
	for i := uint64(0); i < n; i++ {
		inserted, err := tree.Insert(encodeRecord(i, i*7), KeepExisting)
		require.NoError(t, err)
		require.True(t, inserted)
	}
	require.Equal(t, uint64(n), tree.Size())

	for i := uint64(0); i < n; i++ {
		v, found, err := tree.Find(encodeKey(i))
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, i*7, binary.BigEndian.Uint64(v[8:16]))
	}

	_, found, err := tree.Find(encodeKey(n + 100))
	require.NoError(t, err)
	require.False(t, found)
}

func TestInsertRandomPermutation(t *testing.T) {
	tree, _ := newTestTree(t)
	const n = 1000
	perm := rand.New(rand.NewSource(1)).Perm(n)
	for _, i := range perm {
		_, err := tree.Insert(encodeRecord(uint64(i), uint64(i)), KeepExisting)
		require.NoError(t, err)
	}
	require.Equal(t, uint64(n), tree.Size())
	for i := 0; i < n; i++ {
		v, found, err := tree.Find(encodeKey(uint64(i)))
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, uint64(i), binary.BigEndian.Uint64(v[8:16]))
	}
}

func TestInsertDuplicateKey(t *testing.T) {
	tree, _ := newTestTree(t)
	_, err := tree.Insert(encodeRecord(5, 100), KeepExisting)
	require.NoError(t, err)
	inserted, err := tree.Insert(encodeRecord(5, 999), KeepExisting)
	require.NoError(t, err)
	require.False(t, inserted)
	v, _, _ := tree.Find(encodeKey(5))
	require.Equal(t, uint64(100), binary.BigEndian.Uint64(v[8:16]))

	inserted, err = tree.Insert(encodeRecord(5, 999), Overwrite)
	require.NoError(t, err)
	require.False(t, inserted)
	v, _, _ = tree.Find(encodeKey(5))
	require.Equal(t, uint64(999), binary.BigEndian.Uint64(v[8:16]))
}

func TestEraseShrinksSizeAndRemovesEntry(t *testing.T) {
	tree, _ := newTestTree(t)
	const n = 500
	for i := uint64(0); i < n; i++ {
		_, err := tree.Insert(encodeRecord(i, i), KeepExisting)
		require.NoError(t, err)
	}
	for i := uint64(0); i < n; i += 2 {
		erased, err := tree.Erase(encodeKey(i))
		require.NoError(t, err)
		require.True(t, erased)
	}
	require.Equal(t, uint64(n/2), tree.Size())
	for i := uint64(0); i < n; i++ {
		_, found, err := tree.Find(encodeKey(i))
		require.NoError(t, err)
		require.Equal(t, i%2 != 0, found)
	}
	erased, err := tree.Erase(encodeKey(0))
	require.NoError(t, err)
	require.False(t, erased)
}

func TestEraseAllEmptiesTree(t *testing.T) {
	tree, _ := newTestTree(t)
	const n = 300
	for i := uint64(0); i < n; i++ {
		_, err := tree.Insert(encodeRecord(i, i), KeepExisting)
		require.NoError(t, err)
	}
	for i := uint64(0); i < n; i++ {
		erased, err := tree.Erase(encodeKey(i))
		require.NoError(t, err)
		require.True(t, erased)
	}
	require.True(t, tree.Empty())
	require.Equal(t, uint64(0), tree.Size())
}

func TestCursorIteratesInOrder(t *testing.T) {
	tree, _ := newTestTree(t)
	const n = 200
	for _, i := range rand.New(rand.NewSource(2)).Perm(n) {
		_, err := tree.Insert(encodeRecord(uint64(i), uint64(i)), KeepExisting)
		require.NoError(t, err)
	}
	c := tree.CreateCursor(SeekMin)
	defer c.Close()
	var got []uint64
	for c.Valid() {
		v := c.Value()
		got = append(got, binary.BigEndian.Uint64(v[0:8]))
		require.NoError(t, c.Next())
	}
	require.Len(t, got, n)
	for i := 1; i < len(got); i++ {
		require.Less(t, got[i-1], got[i])
	}
}

func TestCursorSurvivesConcurrentInsert(t *testing.T) {
	tree, _ := newTestTree(t)
	for i := uint64(0); i < 50; i++ {
		_, err := tree.Insert(encodeRecord(i*2, i), KeepExisting)
		require.NoError(t, err)
	}
	c, err := tree.LowerBound(encodeKey(10))
	require.NoError(t, err)
	defer c.Close()
	require.True(t, c.Valid())
	before := c.Value()

	// Insert many more keys, all larger than the cursor's, forcing leaf and
	// internal-node splits elsewhere in the tree while the cursor is live.
	for i := uint64(100); i < 5000; i++ {
		_, err := tree.Insert(encodeRecord(i, i), KeepExisting)
		require.NoError(t, err)
	}

	require.True(t, c.Valid())
	require.Equal(t, before, c.Value())
}

func TestBulkLoadMatchesIncrementalInsert(t *testing.T) {
	tree, _ := newTestTree(t)
	loader, err := NewLoader(tree)
	require.NoError(t, err)
	const n = 3000
	for i := uint64(0); i < n; i++ {
		loader.Add(encodeRecord(i, i))
	}
	require.NoError(t, loader.Finish())
	require.Equal(t, uint64(n), tree.Size())

	for i := uint64(0); i < n; i++ {
		v, found, err := tree.Find(encodeKey(i))
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, i, binary.BigEndian.Uint64(v[8:16]))
	}

	c := tree.CreateCursor(SeekMin)
	defer c.Close()
	count := 0
	for c.Valid() {
		count++
		require.NoError(t, c.Next())
	}
	require.Equal(t, n, count)
}

func TestCursorNextAfterEraseLastSlotInLeaf(t *testing.T) {
	tree, _ := newTestTree(t)
	for _, k := range []uint64{1, 2, 3} {
		_, err := tree.Insert(encodeRecord(k, k), KeepExisting)
		require.NoError(t, err)
	}

	c, err := tree.LowerBound(encodeKey(3))
	require.NoError(t, err)
	defer c.Close()
	require.True(t, c.Valid())
	require.Equal(t, uint64(3), binary.BigEndian.Uint64(c.Value()[0:8]))

	erased, err := tree.Erase(encodeKey(3))
	require.NoError(t, err)
	require.True(t, erased)

	require.False(t, c.Valid(), "cursor must not report the just-erased entry as valid")
	require.NoError(t, c.Next())
	require.False(t, c.Valid(), "no successor exists past the erased last entry")
}

func TestCursorPrevAfterEraseFirstSlotInLeaf(t *testing.T) {
	tree, _ := newTestTree(t)
	for _, k := range []uint64{1, 2, 3} {
		_, err := tree.Insert(encodeRecord(k, k), KeepExisting)
		require.NoError(t, err)
	}

	c, err := tree.LowerBound(encodeKey(1))
	require.NoError(t, err)
	defer c.Close()
	require.True(t, c.Valid())

	erased, err := tree.Erase(encodeKey(1))
	require.NoError(t, err)
	require.True(t, erased)

	require.False(t, c.Valid())
	require.NoError(t, c.Prev())
	require.False(t, c.Valid(), "no predecessor exists before the erased first entry")
}

func TestCursorNextAfterEraseMiddleSlotLandsOnSuccessor(t *testing.T) {
	tree, _ := newTestTree(t)
	for _, k := range []uint64{1, 2, 3} {
		_, err := tree.Insert(encodeRecord(k, k), KeepExisting)
		require.NoError(t, err)
	}

	c, err := tree.LowerBound(encodeKey(2))
	require.NoError(t, err)
	defer c.Close()
	require.True(t, c.Valid())

	erased, err := tree.Erase(encodeKey(2))
	require.NoError(t, err)
	require.True(t, erased)

	require.False(t, c.Valid())
	require.NoError(t, c.Next())
	require.True(t, c.Valid())
	require.Equal(t, uint64(3), binary.BigEndian.Uint64(c.Value()[0:8]))
}

func TestBulkLoadRequiresEmptyTree(t *testing.T) {
	tree, _ := newTestTree(t)
	_, err := tree.Insert(encodeRecord(1, 1), KeepExisting)
	require.NoError(t, err)
	_, err = NewLoader(tree)
	require.Error(t, err)
	require.True(t, base.IsBadOperation(err))
}
