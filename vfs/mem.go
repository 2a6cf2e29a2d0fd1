package vfs

import (
	"sync"

	"github.com/prequeldb/prequel/internal/base"
)

// Mem is an in-memory FS, primarily for tests that want a fast, disposable
// backing store without touching the real file system.
type Mem struct {
	mu    sync.Mutex
	files map[string]*memData
}

// NewMem returns an empty in-memory FS.
func NewMem() *Mem {
	return &Mem{files: make(map[string]*memData)}
}

var _ FS = (*Mem)(nil)

type memData struct {
	mu   sync.Mutex
	data []byte
}

// Open implements FS.
func (m *Mem) Open(path string, access AccessMode, flags OpenFlags) (File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.files[path]
	switch {
	case ok && flags == Exclusive:
		return nil, base.IOErrorf("vfs: %q already exists", path)
	case !ok && flags == Normal:
		return nil, base.IOErrorf("vfs: %q does not exist", path)
	case !ok:
		d = &memData{}
		m.files[path] = d
	}
	return &memFile{d: d, writable: access == ReadWrite}, nil
}

// Remove implements FS.
func (m *Mem) Remove(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, path)
	return nil
}

type memFile struct {
	d        *memData
	writable bool
	closed   bool
}

var _ File = (*memFile)(nil)

func (f *memFile) ReadAt(p []byte, offset int64) error {
	f.d.mu.Lock()
	defer f.d.mu.Unlock()
	if offset < 0 || offset+int64(len(p)) > int64(len(f.d.data)) {
		return base.IOErrorf("vfs: short read at %d: file size %d", offset, len(f.d.data))
	}
	copy(p, f.d.data[offset:offset+int64(len(p))])
	return nil
}

func (f *memFile) WriteAt(p []byte, offset int64) error {
	if !f.writable {
		return base.BadOperationf("vfs: write on read-only file")
	}
	f.d.mu.Lock()
	defer f.d.mu.Unlock()
	end := offset + int64(len(p))
	if end > int64(len(f.d.data)) {
		grown := make([]byte, end)
		copy(grown, f.d.data)
		f.d.data = grown
	}
	copy(f.d.data[offset:end], p)
	return nil
}

func (f *memFile) Size() (int64, error) {
	f.d.mu.Lock()
	defer f.d.mu.Unlock()
	return int64(len(f.d.data)), nil
}

func (f *memFile) Truncate(size int64) error {
	if !f.writable {
		return base.BadOperationf("vfs: truncate on read-only file")
	}
	f.d.mu.Lock()
	defer f.d.mu.Unlock()
	if size <= int64(len(f.d.data)) {
		f.d.data = f.d.data[:size]
		return nil
	}
	grown := make([]byte, size)
	copy(grown, f.d.data)
	f.d.data = grown
	return nil
}

func (f *memFile) Sync() error { return nil }

func (f *memFile) Close() error {
	f.closed = true
	return nil
}
