// Package flat implements engine.Engine on top of any ordered key-value store
// that offers atomic batches and snapshots, such as pebble, goleveldb or an
// in-memory b-tree.
//
// A flat store has a single keyspace, so the adapter lays out named databases,
// their catalog and duplicate keys inside it (see keys.go). Database identifiers
// come from a persisted sequence and are therefore never reused, not even after
// the database they named was deleted.
//
// Identifiers created or deleted by a write transaction only become visible to
// other transactions once it commits; an aborted transaction leaves the shared
// identifier table untouched.
//
// The stores behind this adapter are log structured, so Stat reports an estimate
// derived from the stored bytes instead of real page counts and value slices are
// copies rather than views into mapped pages.
//
// Thread-safety: the DB may be shared between goroutines. At most one writable
// transaction is open at a time; further Begin(true) calls block until it ends.
package flat
