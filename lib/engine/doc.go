// Package engine defines the storage engine surface the write scheduler is built on.
// An engine is an ordered, transactional key-value store that supports named
// databases, cursors, snapshot reads and exactly one writer at a time.
//
// Key Components:
//
//   - Engine / Txn / Cursor: the minimal transactional interface. A write
//     transaction is only ever used by one goroutine (the writer); read-only
//     transactions may be reset and renewed to avoid re-allocating handles.
//
//   - DBI: a process-wide integer naming a database inside one engine. Identifiers
//     are never reused while the engine is open, so a stale handle can never end up
//     addressing an unrelated database.
//
//   - Error: typed, code-carrying failures (not found, key exists, map full, key
//     too large, bad key size, ...). Code.Fatal tells whether a failure leaves the
//     write transaction unusable.
//
//   - Feature flags and Info: capability discovery, e.g. whether values point into
//     memory mapped pages (which makes page prefetching meaningful).
//
// Implementations live in the engines sub packages:
//
//   - bolt: bbolt backed, real b-tree statistics and memory mapped pages
//   - flat: maps named databases and duplicate keys onto a flat ordered store, with
//     pebble, leveldb and an in-memory btree as backends
//
// The testing sub package contains a conformance suite every adapter runs.
package engine
