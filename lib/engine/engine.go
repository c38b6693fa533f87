package engine

import (
	"strings"
)

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

type Implementation string

const (
	ImplBolt    Implementation = "bolt"
	ImplPebble  Implementation = "pebble"
	ImplLevelDB Implementation = "leveldb"
	ImplMemory  Implementation = "memory"
)

// DBI identifies a named database inside one engine instance. Identifiers are
// handed out in increasing order and are never reused while the engine is open,
// not even after the database they named was deleted.
type DBI uint32

// DBFlags are the per-database flags fixed when a database is created.
type DBFlags uint32

const (
	DBCreate     DBFlags = 1 << iota // create the database if it does not exist
	DBDupSort                        // a key may map to several sorted values
	DBIntegerKey                     // keys are fixed-width 4 byte big endian integers
)

// PutFlags modify a single put.
type PutFlags uint32

const (
	PutNoOverwrite PutFlags = 1 << iota // fail with CodeKeyExist if the key exists
	PutNoDupData                        // fail with CodeKeyExist if the key/value pair exists (dupsort only)
	PutAppend                           // the key sorts after every existing key
)

// IntegerKeySize is the key width of databases created with DBIntegerKey.
const IntegerKeySize = 4

// Feature represents engine features as bit flags
type Feature uint64

const (
	FeatureDupSort      Feature = 1 << iota // Support for duplicate keys
	FeatureMapSize                          // The engine enforces a maximum map size
	FeatureMmap                             // Values point into memory mapped pages
	FeatureNestedStats                      // Stat reports real b-tree page counts
	FeatureDurableNoSync                    // Commits can skip fsync and flush later with Sync
)

func (f Feature) String() string {
	switch f {
	case FeatureDupSort:
		return "DupSort"
	case FeatureMapSize:
		return "MapSize"
	case FeatureMmap:
		return "Mmap"
	case FeatureNestedStats:
		return "NestedStats"
	case FeatureDurableNoSync:
		return "DurableNoSync"
	default:
		return "Unknown"
	}
}

// Features is a set of Feature bits.
type Features Feature

// Has reports whether every feature in f is part of the set.
func (s Features) Has(f Feature) bool {
	return Feature(s)&f == f
}

func (s Features) String() string {
	var names []string
	for f := FeatureDupSort; f <= FeatureDurableNoSync; f <<= 1 {
		if s.Has(f) {
			names = append(names, f.String())
		}
	}
	return strings.Join(names, ",")
}

// Info describes an open engine instance.
type Info struct {
	Type       Implementation `json:"type"`
	Path       string         `json:"path"`
	PageSize   int            `json:"page_size"`
	MapSize    int64          `json:"map_size"`
	MaxKeySize int            `json:"max_key_size"`
	Features   Features       `json:"features"`
}

// Stat mirrors the b-tree statistics of a single database. Engines that are not
// organised as a b-tree report an estimate derived from the stored bytes.
type Stat struct {
	PageSize      int    `json:"page_size"`
	Depth         int    `json:"tree_depth"`
	BranchPages   uint64 `json:"tree_branch_page_count"`
	LeafPages     uint64 `json:"tree_leaf_page_count"`
	OverflowPages uint64 `json:"overflow_pages"`
	Entries       uint64 `json:"entry_count"`
}

// --------------------------------------------------------------------------
// Engine Interface
// --------------------------------------------------------------------------

// Engine is an ordered, transactional key-value store with named databases,
// cursors and snapshot reads. At most one writable transaction may be open at a
// time; callers are responsible for serialising writers.
type Engine interface {
	// Begin starts a transaction. Read-only transactions observe the state of
	// the last commit that completed before Begin returned.
	Begin(writable bool) (Txn, error)

	// Sync flushes committed data to stable storage.
	Sync() error

	// Info returns static information about the engine.
	Info() Info

	// Close closes the engine. Open transactions must be finished first.
	Close() error
}

// Txn is a transaction of an Engine. A Txn must not be used concurrently,
// except that Get, Flags, Stat and Cursor may be called from several
// goroutines on a read-only transaction.
//
// Slices returned by Get and by cursors are only valid until the next operation
// on the same transaction or cursor and must never be modified.
type Txn interface {
	// ID returns an identifier that grows with every commit.
	ID() uint64

	// Writable reports whether the transaction may modify data.
	Writable() bool

	// OpenDB resolves a named database. The empty name is the main database.
	// Without DBCreate a missing database yields CodeNotFound.
	OpenDB(name string, flags DBFlags) (DBI, error)

	// Flags returns the flags the database was created with.
	Flags(dbi DBI) (DBFlags, error)

	// Get returns the value stored for key (the first duplicate for dupsort
	// databases). A missing key yields CodeNotFound.
	Get(dbi DBI, key []byte) ([]byte, error)

	// Put stores a key/value pair.
	Put(dbi DBI, key, value []byte, flags PutFlags) error

	// Delete removes a key. For dupsort databases a non-nil value removes only
	// that duplicate. A missing key yields CodeNotFound.
	Delete(dbi DBI, key, value []byte) error

	// Drop empties the database. With del the database is deleted and its
	// identifier becomes invalid once the transaction commits.
	Drop(dbi DBI, del bool) error

	// Cursor opens a cursor on the database.
	Cursor(dbi DBI) (Cursor, error)

	// Stat returns the statistics of the database.
	Stat(dbi DBI) (Stat, error)

	// Commit commits a writable transaction or ends a read-only one.
	Commit() error

	// Abort discards the transaction. Abort after Commit is a no-op.
	Abort()

	// Reset releases the snapshot of a read-only transaction while keeping the
	// handle for a later Renew.
	Reset()

	// Renew acquires a fresh snapshot for a reset read-only transaction.
	Renew() error
}

// Cursor walks a database in key order. For dupsort databases the duplicates of
// a key are visited in value order.
type Cursor interface {
	// First positions the cursor on the first entry.
	First() (key, value []byte, err error)

	// Seek positions the cursor on the first entry with a key >= key.
	Seek(key []byte) (k, value []byte, err error)

	// Next advances to the next entry (including the next duplicate).
	Next() (key, value []byte, err error)

	// SetKey positions the cursor on key and returns its (first) value.
	SetKey(key []byte) (value []byte, err error)

	// NextDup advances to the next duplicate of the current key.
	NextDup() (value []byte, err error)

	// Close releases the cursor.
	Close()
}

// CheckKey validates a key against the limits shared by all adapters.
func CheckKey(op string, key []byte, flags DBFlags, maxKeySize int) error {
	if len(key) == 0 {
		return NewError(CodeBadValSize, op, "key required")
	}
	if flags&DBIntegerKey != 0 && len(key) != IntegerKeySize {
		return NewError(CodeBadValSize, op, "integer key must be 4 bytes")
	}
	if maxKeySize > 0 && len(key) > maxKeySize {
		return NewError(CodeKeyTooLarge, op, "key too large")
	}
	return nil
}
