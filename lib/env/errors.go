package env

import "errors"

var (
	// ErrClosed is returned by operations on a closed environment.
	ErrClosed = errors.New("env: environment closed")

	// ErrDatabaseClosed is returned by operations on a closed or dropped database.
	ErrDatabaseClosed = errors.New("env: database closed")

	// ErrIncompatibleOptions is returned when options contradict each other or
	// the options an open environment or database was opened with.
	ErrIncompatibleOptions = errors.New("env: incompatible options")

	// ErrInvalidKey is returned for keys that do not match the database's key type.
	ErrInvalidKey = errors.New("env: invalid key")

	// ErrUnknownEngine is returned for an unsupported engine type.
	ErrUnknownEngine = errors.New("env: unknown engine")
)
