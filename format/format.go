// Package format implements the simple file format helper of spec §6: a
// thin façade that checks a magic string and format version at block 0,
// then hands the caller a typed handle onto their own anchor struct plus a
// ready-to-use default allocator. The block 0 layout is this package's own
// convention, not part of the core wire format defined by serial/btree/etc:
//
//	[0:8)   magic
//	[8:16)  version (uint64)
//	[16:16+alloc.AnchorSize) allocator anchor
//	[16+alloc.AnchorSize:)   caller's user anchor, size given by the caller's codec
//
// Grounded on spec §6's description of the "simple file format helper" and
// on pebble's top-level Open (check the format, construct the subsystems,
// return one façade the caller drives).
package format

import (
	"github.com/prequeldb/prequel/alloc"
	"github.com/prequeldb/prequel/handle"
	"github.com/prequeldb/prequel/internal/base"
	"github.com/prequeldb/prequel/pager"
	"github.com/prequeldb/prequel/serial"
	"github.com/prequeldb/prequel/vfs"
)

const (
	magicOffset    = 0
	magicSize      = 8
	versionOffset  = magicOffset + magicSize
	versionSize    = 8
	allocOffset    = versionOffset + versionSize
	userAnchorBase = allocOffset + alloc.AnchorSize
)

// Options configures Open/Create.
type Options struct {
	// Magic identifies the file type, stored in 8 bytes; shorter strings
	// are zero-padded, longer ones are a caller bug (BadArgumentf).
	Magic string
	// Version is the format version this build writes and expects to read.
	// A file written with a different version is rejected with IOErrorf
	// rather than silently misinterpreted.
	Version uint64
	// Pager configures the underlying paging engine. BlockSize must be at
	// least userAnchorBase + the caller's anchor size.
	Pager pager.Options
	// Alloc configures the default allocator's growth policy.
	Alloc alloc.Options
}

// File is an opened database file: the paging engine, the default
// allocator, and the caller's own anchor handle, ready to build typed
// containers (btree.Tree, hashtable.Table, heap.Heap, container.*) on top
// of.
type File struct {
	Engine  *pager.Engine
	Alloc   *alloc.Allocator
	block0  *pager.BlockHandle
	UserRaw handle.Handle[[]byte]
}

func encodeMagic(magic string) ([magicSize]byte, error) {
	var buf [magicSize]byte
	if len(magic) > magicSize {
		return buf, base.BadArgumentf("format: magic %q longer than %d bytes", magic, magicSize)
	}
	copy(buf[:], magic)
	return buf, nil
}

// Create opens a new file at path, writing a fresh block 0 with the given
// magic/version and an empty allocator anchor. It is an error for the file
// to already exist, even empty; use Open to reopen one.
func Create(fs vfs.FS, path string, userAnchorSize int, opts Options) (*File, error) {
	opts.Pager.EnsureDefaults()
	if int(opts.Pager.BlockSize) < userAnchorBase+userAnchorSize {
		return nil, base.BadArgumentf("format: block size %d too small for anchor layout (need %d)",
			opts.Pager.BlockSize, userAnchorBase+userAnchorSize)
	}
	magic, err := encodeMagic(opts.Magic)
	if err != nil {
		return nil, err
	}

	engine, err := pager.Open(fs, path, vfs.ReadWrite, vfs.Exclusive, opts.Pager)
	if err != nil {
		return nil, err
	}
	if err := engine.Grow(1); err != nil {
		return nil, err
	}
	block0, err := engine.Pin(0, false)
	if err != nil {
		return nil, err
	}

	data := block0.Data()
	copy(data[magicOffset:magicOffset+magicSize], magic[:])
	var u64 serial.Uint64Codec
	u64.Encode(opts.Version, data[versionOffset:versionOffset+versionSize])
	engine.MarkDirty(block0)

	anchorH := handle.New[alloc.Anchor](block0, allocOffset, alloc.AnchorCodec)
	anchorH.Set(engine, alloc.Anchor{})

	return &File{
		Engine:  engine,
		Alloc:   alloc.Open(engine, opts.Alloc, anchorH),
		block0:  block0,
		UserRaw: handle.New[[]byte](block0, userAnchorBase, rawBytesCodec{userAnchorSize}),
	}, nil
}

// Open opens an existing file at path, validating its magic and version
// before constructing the allocator. A magic or version mismatch is
// reported as an IOErrorf, never silently ignored (spec §7).
func Open(fs vfs.FS, path string, userAnchorSize int, opts Options) (*File, error) {
	opts.Pager.EnsureDefaults()
	magic, err := encodeMagic(opts.Magic)
	if err != nil {
		return nil, err
	}

	engine, err := pager.Open(fs, path, vfs.ReadWrite, vfs.Normal, opts.Pager)
	if err != nil {
		return nil, err
	}
	size, err := engine.Size()
	if err != nil {
		return nil, err
	}
	if size < 1 {
		return nil, base.IOErrorf("format: %s has no block 0", path)
	}

	block0, err := engine.Pin(0, true)
	if err != nil {
		return nil, err
	}
	data := block0.Data()
	if string(data[magicOffset:magicOffset+magicSize]) != string(magic[:]) {
		block0.Release()
		return nil, base.IOErrorf("format: %s: bad magic", path)
	}
	var u64 serial.Uint64Codec
	if got := u64.Decode(data[versionOffset : versionOffset+versionSize]); got != opts.Version {
		block0.Release()
		return nil, base.IOErrorf("format: %s: version %d, want %d", path, got, opts.Version)
	}

	anchorH := handle.New[alloc.Anchor](block0, allocOffset, alloc.AnchorCodec)

	return &File{
		Engine:  engine,
		Alloc:   alloc.Open(engine, opts.Alloc, anchorH),
		block0:  block0,
		UserRaw: handle.New[[]byte](block0, userAnchorBase, rawBytesCodec{userAnchorSize}),
	}, nil
}

// Close flushes pending writes, releases block 0, and closes the engine.
func (f *File) Close() error {
	f.block0.Release()
	return f.Engine.Close()
}

// rawBytesCodec is a fixed-size pass-through codec, letting a caller treat
// its user anchor region as a plain byte slice to decode with its own
// struct codec rather than requiring format to know its shape.
type rawBytesCodec struct{ size int }

func (c rawBytesCodec) Size() int { return c.size }
func (c rawBytesCodec) Encode(v []byte, dst []byte) {
	if len(v) != c.size {
		panic("format: user anchor encode length mismatch")
	}
	copy(dst, v)
}
func (c rawBytesCodec) Decode(src []byte) []byte {
	out := make([]byte, c.size)
	copy(out, src)
	return out
}
