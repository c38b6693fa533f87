// Package memory provides an in-memory flat.Store built on a copy-on-write
// b-tree (github.com/google/btree). It is the engine used by tests and by
// environments opened with the memory implementation; nothing is persisted.
package memory
