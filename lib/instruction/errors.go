package instruction

import "errors"

var (
	// ErrMalformed reports a buffer whose layout cannot be decoded.
	ErrMalformed = errors.New("instruction: malformed buffer")

	// ErrUnknownOp reports an unknown operation tag.
	ErrUnknownOp = errors.New("instruction: unknown operation")

	// ErrBufferFull is returned when an entry does not fit the remaining
	// capacity. Submit the buffer and continue with a new one.
	ErrBufferFull = errors.New("instruction: buffer full")

	// ErrSealed is returned when appending to a submitted buffer.
	ErrSealed = errors.New("instruction: buffer already sealed")
)
