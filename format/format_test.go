package format

import (
	"testing"

	"github.com/prequeldb/prequel/alloc"
	"github.com/prequeldb/prequel/pager"
	"github.com/prequeldb/prequel/vfs"
	"github.com/stretchr/testify/require"
)

func testOptions() Options {
	return Options{
		Magic:   "PREQDB01",
		Version: 1,
		Pager:   pager.Options{BlockSize: 256, CacheBlocks: 64},
		Alloc:   alloc.Options{CanGrow: true, MinChunk: 1},
	}
}

func TestCreateThenOpenRoundTripsUserAnchor(t *testing.T) {
	mem := vfs.NewMem()

	f, err := Create(mem, "db", 8, testOptions())
	require.NoError(t, err)
	f.UserRaw.Set(f.Engine, []byte("userdat\x00"))
	b, err := f.Alloc.AllocateRun(2, 256)
	require.NoError(t, err)
	require.True(t, b.Valid())
	require.NoError(t, f.Close())

	f2, err := Open(mem, "db", 8, testOptions())
	require.NoError(t, err)
	require.Equal(t, []byte("userdat\x00"), f2.UserRaw.Get())
	require.Equal(t, uint64(2), f2.Alloc.DataTotal())
	require.NoError(t, f2.Close())
}

func TestOpenRejectsWrongMagic(t *testing.T) {
	mem := vfs.NewMem()
	f, err := Create(mem, "db", 8, testOptions())
	require.NoError(t, err)
	require.NoError(t, f.Close())

	other := testOptions()
	other.Magic = "OTHERMAG"
	_, err = Open(mem, "db", 8, other)
	require.Error(t, err)
}

func TestOpenRejectsWrongVersion(t *testing.T) {
	mem := vfs.NewMem()
	f, err := Create(mem, "db", 8, testOptions())
	require.NoError(t, err)
	require.NoError(t, f.Close())

	other := testOptions()
	other.Version = 2
	_, err = Open(mem, "db", 8, other)
	require.Error(t, err)
}

func TestCreateRejectsExistingFile(t *testing.T) {
	mem := vfs.NewMem()
	f, err := Create(mem, "db", 8, testOptions())
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = Create(mem, "db", 8, testOptions())
	require.Error(t, err)
}

func TestOpenRejectsEmptyFile(t *testing.T) {
	mem := vfs.NewMem()
	fl, err := mem.Open("db", vfs.ReadWrite, vfs.Create)
	require.NoError(t, err)
	require.NoError(t, fl.Close())

	_, err = Open(mem, "db", 8, testOptions())
	require.Error(t, err)
}
