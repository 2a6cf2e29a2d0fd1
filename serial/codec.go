// Package serial implements the binary format contract of spec §3.2/§4.2: a
// deterministic, padding-free, big-endian mapping between in-memory values
// and byte buffers, plus the composite encodings (fixed arrays, pairs,
// options, fixed-alternative variants) and the nested-field-offset
// computation used by the handle layer to read/write a single field of a
// stored struct in place.
//
// The C++ original drives this from compile-time member-pointer template
// metaprogramming (spec §9 "Compile-time field reflection"). Go has no
// equivalent macro facility, so this package follows the same idiom pebble
// itself uses for its own on-disk encodings (sstable/table.go's footer type
// computes byte offsets from declared constants and encodes/decodes with
// plain arithmetic, rather than runtime reflection): every Codec's Size is
// fixed once at construction and offsets are plain prefix sums computed by
// FieldOffsets.
package serial

// Codec describes how to encode/decode a fixed-size value of type T to/from
// a big-endian, padding-free byte buffer. Size is constant for the lifetime
// of a Codec value (there is no notion of a variable-size Codec anywhere in
// this package).
type Codec[T any] interface {
	// Size returns the number of bytes Encode writes / Decode reads.
	Size() int
	// Encode writes exactly Size() bytes to dst[:Size()].
	Encode(v T, dst []byte)
	// Decode reads exactly Size() bytes from src[:Size()].
	Decode(src []byte) T
}

// FieldOffsets computes the byte offset of each field given the ordered
// list of field sizes, mirroring spec §3.2's nested-field-offset rule:
// "the byte offset of c within Outer is the sum of the preceding fields'
// sizes". FieldOffsets(4, 1, 4) returns []int{0, 4, 5} — the example from
// spec §8.
func FieldOffsets(sizes ...int) []int {
	offsets := make([]int, len(sizes))
	off := 0
	for i, sz := range sizes {
		offsets[i] = off
		off += sz
	}
	return offsets
}

// SizeOf is a convenience for the total size of a sequence of fields, equal
// to FieldOffsets(sizes...)'s implicit trailing offset.
func SizeOf(sizes ...int) int {
	total := 0
	for _, sz := range sizes {
		total += sz
	}
	return total
}
