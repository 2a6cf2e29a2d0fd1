package handle

import (
	"testing"

	"github.com/prequeldb/prequel/pager"
	"github.com/prequeldb/prequel/serial"
	"github.com/prequeldb/prequel/vfs"
	"github.com/stretchr/testify/require"
)

type widget struct {
	X uint32
	Y uint8
	Z uint32
}

var widgetOffsets = serial.FieldOffsets(serial.SizeUint32, serial.SizeUint8, serial.SizeUint32)

func newEngine(t *testing.T) *pager.Engine {
	t.Helper()
	mem := vfs.NewMem()
	e, err := pager.Open(mem, "db", vfs.ReadWrite, vfs.Create, pager.Options{BlockSize: 256, CacheBlocks: 8})
	require.NoError(t, err)
	require.NoError(t, e.Grow(4))
	return e
}

func TestMemberReadWriteTouchesOnlySelectedField(t *testing.T) {
	e := newEngine(t)
	bh, err := e.Pin(1, false)
	require.NoError(t, err)
	defer bh.Release()

	base := 10
	xh := New(bh, base+widgetOffsets[0], serial.Uint32Codec{})
	yh := New(bh, base+widgetOffsets[1], serial.Uint8Codec{})
	zh := New(bh, base+widgetOffsets[2], serial.Uint32Codec{})

	xh.Set(e, 111)
	yh.Set(e, 7)
	zh.Set(e, 222)

	require.Equal(t, uint32(111), xh.Get())
	require.Equal(t, uint8(7), yh.Get())
	require.Equal(t, uint32(222), zh.Get())

	zh.Set(e, 999)
	require.Equal(t, uint32(999), zh.Get())
	require.Equal(t, uint32(111), xh.Get())
	require.Equal(t, uint8(7), yh.Get())
}

func TestSetMarksBlockDirty(t *testing.T) {
	e := newEngine(t)
	bh, err := e.Pin(2, false)
	require.NoError(t, err)

	h := New(bh, 0, serial.Uint64Codec{})
	h.Set(e, 42)
	bh.Release()

	require.NoError(t, e.Flush())
	require.Equal(t, int64(1), e.Metrics().BlocksFlushed)
}
