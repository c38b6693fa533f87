package codec

import (
	"encoding/binary"
	"fmt"
)

// Envelope tags. Any other first byte starts a raw value stored verbatim.
const (
	TagCompressed byte = 0xFE
	TagEscaped    byte = 0xFF
)

// VersionSize is the width of the version prefix of versioned databases.
const VersionSize = 8

// needsEscape reports whether a raw value would be mistaken for a tagged one
func needsEscape(raw []byte) bool {
	return len(raw) > 0 && raw[0] >= TagCompressed
}

// escape returns raw in its stored form
func escape(raw []byte) []byte {
	if !needsEscape(raw) {
		return raw
	}
	out := make([]byte, len(raw)+1)
	out[0] = TagEscaped
	copy(out[1:], raw)
	return out
}

// IsCompressed reports whether enc holds a compressed value.
func IsCompressed(enc []byte) bool {
	return len(enc) > 0 && enc[0] == TagCompressed
}

// Unwrap returns the raw form of a stored value that is not compressed. It
// returns false for compressed values, which need Decompress.
func Unwrap(enc []byte) ([]byte, bool) {
	if len(enc) == 0 {
		return enc, true
	}
	switch enc[0] {
	case TagCompressed:
		return nil, false
	case TagEscaped:
		return enc[1:], true
	default:
		return enc, true
	}
}

// UncompressedSize returns the size declared by a compressed value's prefix.
func UncompressedSize(enc []byte) (int, error) {
	size, _, err := header(enc)
	return size, err
}

// header parses the size prefix of a compressed value and returns the payload
func header(enc []byte) (int, []byte, error) {
	if !IsCompressed(enc) {
		return 0, nil, fmt.Errorf("%w: missing compression tag", ErrCorrupt)
	}
	size, n := binary.Uvarint(enc[1:])
	if n <= 0 || size > maxDeclaredSize {
		return 0, nil, fmt.Errorf("%w: invalid size prefix", ErrCorrupt)
	}
	return int(size), enc[1+n:], nil
}

// maxDeclaredSize bounds the size prefix so a corrupt prefix cannot trigger a huge allocation
const maxDeclaredSize = 1 << 31

// WrapVersion prefixes enc with the big endian version.
func WrapVersion(version uint64, enc []byte) []byte {
	out := make([]byte, VersionSize+len(enc))
	binary.BigEndian.PutUint64(out, version)
	copy(out[VersionSize:], enc)
	return out
}

// SplitVersion separates the version prefix from a stored value.
func SplitVersion(stored []byte) (uint64, []byte, error) {
	if len(stored) < VersionSize {
		return 0, nil, fmt.Errorf("%w: value shorter than its version prefix", ErrCorrupt)
	}
	return binary.BigEndian.Uint64(stored), stored[VersionSize:], nil
}
