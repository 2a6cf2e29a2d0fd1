package vfs

import (
	"os"
	"sync"

	"github.com/prequeldb/prequel/internal/base"
)

// Disk is the default FS, backed by the operating system's file system.
type Disk struct{}

var _ FS = Disk{}

// Open implements FS.
func (Disk) Open(path string, access AccessMode, flags OpenFlags) (File, error) {
	osFlags := os.O_RDONLY
	if access == ReadWrite {
		osFlags = os.O_RDWR
	}
	switch flags {
	case Create:
		osFlags |= os.O_CREATE
	case Exclusive:
		osFlags |= os.O_CREATE | os.O_EXCL
	}
	f, err := os.OpenFile(path, osFlags, 0o644)
	if err != nil {
		return nil, base.IOErrorf("vfs: open %q: %v", path, err)
	}
	return &diskFile{f: f, writable: access == ReadWrite}, nil
}

// Remove implements FS.
func (Disk) Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return base.IOErrorf("vfs: remove %q: %v", path, err)
	}
	return nil
}

type diskFile struct {
	mu       sync.Mutex
	f        *os.File
	writable bool
	closed   bool
}

var _ File = (*diskFile)(nil)

func (d *diskFile) ReadAt(p []byte, offset int64) error {
	n, err := d.f.ReadAt(p, offset)
	if err != nil {
		return base.IOErrorf("vfs: read at %d: %v", offset, err)
	}
	if n != len(p) {
		return base.IOErrorf("vfs: short read at %d: got %d want %d", offset, n, len(p))
	}
	return nil
}

func (d *diskFile) WriteAt(p []byte, offset int64) error {
	if !d.writable {
		return base.BadOperationf("vfs: write on read-only file")
	}
	n, err := d.f.WriteAt(p, offset)
	if err != nil {
		return base.IOErrorf("vfs: write at %d: %v", offset, err)
	}
	if n != len(p) {
		return base.IOErrorf("vfs: short write at %d: wrote %d want %d", offset, n, len(p))
	}
	return nil
}

func (d *diskFile) Size() (int64, error) {
	fi, err := d.f.Stat()
	if err != nil {
		return 0, base.IOErrorf("vfs: stat: %v", err)
	}
	return fi.Size(), nil
}

func (d *diskFile) Truncate(size int64) error {
	if !d.writable {
		return base.BadOperationf("vfs: truncate on read-only file")
	}
	if err := d.f.Truncate(size); err != nil {
		return base.IOErrorf("vfs: truncate to %d: %v", size, err)
	}
	return nil
}

func (d *diskFile) Sync() error {
	if err := d.f.Sync(); err != nil {
		return base.IOErrorf("vfs: sync: %v", err)
	}
	return nil
}

func (d *diskFile) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if err := d.f.Close(); err != nil {
		return base.IOErrorf("vfs: close: %v", err)
	}
	return nil
}
