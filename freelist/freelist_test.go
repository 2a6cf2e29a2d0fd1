package freelist

import (
	"testing"

	"github.com/prequeldb/prequel/internal/base"
	"github.com/prequeldb/prequel/pager"
	"github.com/prequeldb/prequel/vfs"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T) *pager.Engine {
	t.Helper()
	mem := vfs.NewMem()
	e, err := pager.Open(mem, "db", vfs.ReadWrite, vfs.Create, pager.Options{BlockSize: 128, CacheBlocks: 8})
	require.NoError(t, err)
	require.NoError(t, e.Grow(8))
	return e
}

func TestPushPopLIFO(t *testing.T) {
	e := newEngine(t)
	head := base.InvalidBlock
	require.True(t, Empty(head))

	var err error
	for _, b := range []base.BlockIndex{1, 2, 3} {
		head, err = Push(e, head, b)
		require.NoError(t, err)
	}
	require.False(t, Empty(head))

	var popped []base.BlockIndex
	for !Empty(head) {
		var b base.BlockIndex
		b, head, err = Pop(e, head)
		require.NoError(t, err)
		popped = append(popped, b)
	}
	require.Equal(t, []base.BlockIndex{3, 2, 1}, popped)
	require.True(t, Empty(head))
}

func TestPopEmptyErrors(t *testing.T) {
	e := newEngine(t)
	_, _, err := Pop(e, base.InvalidBlock)
	require.Error(t, err)
	require.True(t, base.IsBadArgument(err))
}
