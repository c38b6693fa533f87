// Package instruction defines the binary layout in which callers describe a
// batch of writes for the write scheduler.
//
// A Buffer is filled by a single goroutine without any locking and handed to
// the writer as a whole. Entries are word aligned little endian records (see
// buffer.go for the exact layout); keys and values above the inline thresholds
// are kept in the buffer's attachment table and referenced by index through the
// Data variant, so a sealed buffer owns everything its instructions refer to.
//
// Besides instructions the stream carries three signals: interrupt (commit what
// was applied so far), allow-commit (commit without waiting for more work) and
// restart (abort the writer's transaction and begin a new one). A zero length
// word ends the stream.
//
// A Reader decodes a sealed buffer entry by entry and keeps its position, which
// lets the writer stop in the middle of a buffer and resume it in the next
// batch. Layout violations are reported as ErrMalformed or ErrUnknownOp.
//
// KeyList packs keys with the same inline/out-of-line convention; it is the
// input of the prefetcher.
package instruction
