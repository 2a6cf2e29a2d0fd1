package vfs

import "github.com/prequeldb/prequel/internal/base"

// InjectedFS wraps an FS and lets tests force the next N operations of a
// given kind to fail, mirroring pebble's vfs/errorfs fault-injection style
// in a much smaller form (only what the engine/allocator test suites need:
// forcing a write or sync failure to exercise §4.1's "failed eviction write
// is retried on the next flush" behavior).
type InjectedFS struct {
	FS
	FailWrites int
	FailSyncs  int
}

var _ FS = (*InjectedFS)(nil)

// Open implements FS.
func (fs *InjectedFS) Open(path string, access AccessMode, flags OpenFlags) (File, error) {
	f, err := fs.FS.Open(path, access, flags)
	if err != nil {
		return nil, err
	}
	return &injectedFile{File: f, fs: fs}, nil
}

type injectedFile struct {
	File
	fs *InjectedFS
}

func (f *injectedFile) WriteAt(p []byte, offset int64) error {
	if f.fs.FailWrites > 0 {
		f.fs.FailWrites--
		return base.IOErrorf("vfs: injected write failure")
	}
	return f.File.WriteAt(p, offset)
}

func (f *injectedFile) Sync() error {
	if f.fs.FailSyncs > 0 {
		f.fs.FailSyncs--
		return base.IOErrorf("vfs: injected sync failure")
	}
	return f.File.Sync()
}
