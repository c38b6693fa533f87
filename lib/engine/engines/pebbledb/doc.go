// Package pebbledb backs the flat engine adapter with CockroachDB's pebble
// (github.com/cockroachdb/pebble). Write transactions are indexed batches, so
// they can read their own writes; read transactions are pebble snapshots.
package pebbledb
