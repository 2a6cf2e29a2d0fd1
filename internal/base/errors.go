// Package base holds the primitives shared by every other package in this
// module: block/address types, the error-kind taxonomy, and a minimal
// logging interface. Nothing in here depends on any other package of this
// module.
package base

import "github.com/cockroachdb/errors"

// The five error kinds named in spec §7. Call sites wrap one of these with
// errors.Wrap/Wrapf to attach context while keeping the kind visible to
// errors.Is.
var (
	// ErrBadArgument is returned for caller-supplied input that is invalid
	// without needing any I/O to detect: an out-of-range index, invalid
	// cursor use, an impossible size, a double free.
	ErrBadArgument = errors.New("prequel: bad argument")

	// ErrBadAlloc is returned when the allocator cannot satisfy a request:
	// growth disabled, or the backing file cannot be grown further.
	ErrBadAlloc = errors.New("prequel: allocation failed")

	// ErrBadOperation is returned for an operation attempted on a closed or
	// otherwise unusable object.
	ErrBadOperation = errors.New("prequel: bad operation")

	// ErrIOError wraps any failure reported by the vfs layer, including
	// short reads/writes and invalid on-disk encodings (e.g. a variant tag
	// out of range).
	ErrIOError = errors.New("prequel: I/O error")

	// ErrCorruption is returned by Validate() methods when an on-disk
	// invariant (counts, sort order, linkage) doesn't hold.
	ErrCorruption = errors.New("prequel: corruption detected")
)

// BadArgumentf wraps ErrBadArgument with a formatted message.
func BadArgumentf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrBadArgument, format, args...)
}

// BadAllocf wraps ErrBadAlloc with a formatted message.
func BadAllocf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrBadAlloc, format, args...)
}

// BadOperationf wraps ErrBadOperation with a formatted message.
func BadOperationf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrBadOperation, format, args...)
}

// IOErrorf wraps ErrIOError with a formatted message.
func IOErrorf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrIOError, format, args...)
}

// CorruptionErrorf wraps ErrCorruption with a formatted message.
func CorruptionErrorf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrCorruption, format, args...)
}

// IsBadArgument reports whether err (or one it wraps) is ErrBadArgument.
func IsBadArgument(err error) bool { return errors.Is(err, ErrBadArgument) }

// IsBadAlloc reports whether err (or one it wraps) is ErrBadAlloc.
func IsBadAlloc(err error) bool { return errors.Is(err, ErrBadAlloc) }

// IsBadOperation reports whether err (or one it wraps) is ErrBadOperation.
func IsBadOperation(err error) bool { return errors.Is(err, ErrBadOperation) }

// IsIOError reports whether err (or one it wraps) is ErrIOError.
func IsIOError(err error) bool { return errors.Is(err, ErrIOError) }

// IsCorruption reports whether err (or one it wraps) is ErrCorruption.
func IsCorruption(err error) bool { return errors.Is(err, ErrCorruption) }
