package codec

import "errors"

var (
	// ErrCorrupt reports an envelope whose size prefix or payload cannot be decoded.
	ErrCorrupt = errors.New("codec: corrupt compressed value")

	// ErrDictionaryMismatch reports a value compressed with a dictionary that is
	// not the one currently installed.
	ErrDictionaryMismatch = errors.New("codec: compression dictionary mismatch")

	// ErrUnknownAlgorithm reports an unsupported Options.Algorithm.
	ErrUnknownAlgorithm = errors.New("codec: unknown algorithm")
)
