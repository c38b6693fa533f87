// Package codec implements the value compression used by txKV databases.
//
// A stored value is self-describing. Its first byte is either
//
//	0xFE  compressed: uvarint uncompressed size, then the compressed payload
//	0xFF  escaped raw: the rest is a raw value whose first byte is >= 0xFE
//	other a raw value stored verbatim (this includes the empty value)
//
// Databases that track versions store an 8 byte big endian version in front of
// the tag (WrapVersion, SplitVersion).
//
// A Codec holds the shared configuration and the installed dictionary; it is
// safe for concurrent use. All mutable state of a call (zstd encoders and
// decoders, the lz4 hash table, the scratch buffer) lives in a Worker owned by
// the calling goroutine. The dictionary is looked up on every call, so a
// replaced dictionary takes effect immediately and stale values are reported as
// ErrDictionaryMismatch rather than decoded into garbage.
//
// Decompress(w, enc, false) never allocates: values that do not fit the
// worker's scratch buffer yield ok=false with a nil error, the signal to retry
// with allowAllocate set.
package codec
