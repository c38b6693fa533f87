package writer

import "errors"

var (
	// ErrClosed is returned for submissions to a closed writer.
	ErrClosed = errors.New("writer: closed")

	// ErrBatchRestarted marks instructions discarded by a restart signal.
	ErrBatchRestarted = errors.New("writer: transaction restarted, instruction discarded")

	// ErrNoVersions is returned for conditional writes to a database without versions.
	ErrNoVersions = errors.New("writer: database does not track versions")

	// ErrTxnPanic wraps a panic raised by a user transaction.
	ErrTxnPanic = errors.New("writer: user transaction panicked")
)
