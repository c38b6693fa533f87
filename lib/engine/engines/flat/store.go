package flat

import (
	"github.com/ValentinKolb/txKV/lib/engine"
)

// --------------------------------------------------------------------------
// Backend Interface
// --------------------------------------------------------------------------

// Store is a flat, ordered key-value store with atomic batches and snapshots.
// The adapter maps named databases and duplicate keys onto its single keyspace.
type Store interface {
	// NewBatch starts an atomic write batch whose reads observe its own writes.
	NewBatch() (Batch, error)

	// NewSnapshot captures a consistent read view of the last committed state.
	NewSnapshot() (Snapshot, error)

	// Sync flushes committed batches to stable storage.
	Sync() error

	// Implementation names the backend.
	Implementation() engine.Implementation

	// Path returns the location of the store ("" for in-memory stores).
	Path() string

	Close() error
}

// Reader is the read surface shared by batches and snapshots.
type Reader interface {
	// Get returns a copy of the value stored for key.
	Get(key []byte) (value []byte, ok bool, err error)

	// NewIterator iterates the keys in [lower, upper).
	NewIterator(lower, upper []byte) (Iterator, error)
}

// Batch is an atomic set of writes.
type Batch interface {
	Reader
	Set(key, value []byte) error
	Delete(key []byte) error
	Commit(sync bool) error
	Discard()
}

// Snapshot is a read-only view.
type Snapshot interface {
	Reader
	Release()
}

// Iterator walks a key range in ascending order. Key and Value are only valid
// until the next positioning call.
type Iterator interface {
	First() bool
	Last() bool
	SeekGE(key []byte) bool
	Next() bool
	Key() []byte
	Value() []byte
	Error() error
	Close() error
}
