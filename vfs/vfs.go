// Package vfs defines the file abstraction the paging engine is built on
// (spec §6): positional reads and writes that must be full (a short read or
// write is an I/O error), size/truncate/sync, and idempotent close. Two
// implementations are provided: Disk (backed by *os.File) and Mem (an
// in-memory FS for tests).
package vfs

import "io"

// AccessMode selects whether File.WriteAt is permitted.
type AccessMode int

const (
	// ReadOnly forbids File.WriteAt.
	ReadOnly AccessMode = iota
	// ReadWrite permits both ReadAt and WriteAt.
	ReadWrite
)

// OpenFlags controls creation semantics, mirroring the O_CREAT/O_EXCL shape
// of the underlying os.OpenFile flags.
type OpenFlags int

const (
	// Normal opens an existing file; it is an error if it does not exist.
	Normal OpenFlags = iota
	// Create creates the file if it does not already exist.
	Create
	// Exclusive creates the file and fails if it already exists.
	Exclusive
)

// File is a positional, full-read/full-write file handle.
type File interface {
	io.Closer

	// ReadAt reads exactly len(p) bytes starting at offset. A short read is
	// reported as base.ErrIOError.
	ReadAt(p []byte, offset int64) error

	// WriteAt writes exactly len(p) bytes starting at offset. A short write
	// is reported as base.ErrIOError.
	WriteAt(p []byte, offset int64) error

	// Size returns the current length of the file in bytes.
	Size() (int64, error)

	// Truncate resizes the file to exactly size bytes.
	Truncate(size int64) error

	// Sync flushes any OS-buffered writes to stable storage.
	Sync() error
}

// FS opens files. Close is idempotent on the returned File: calling it more
// than once, or after an implicit close on drop, must not error.
type FS interface {
	// Open opens path with the given access mode and creation flags.
	Open(path string, access AccessMode, flags OpenFlags) (File, error)

	// Remove deletes the file at path, if present.
	Remove(path string) error
}
