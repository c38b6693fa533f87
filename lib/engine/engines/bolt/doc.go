// Package bolt implements engine.Engine on top of bbolt (go.etcd.io/bbolt).
//
// Every named database is a top-level bucket; its creation flags are kept in a
// separate meta bucket so that reopening a database restores them. Databases with
// duplicate keys store each key as a nested bucket whose keys are the sorted
// values, which gives duplicate iteration in value order for free.
//
// bbolt serves values straight from its memory map, so a value slice is only valid
// until the transaction ends. This is what makes page prefetching meaningful for
// this engine: touching a value touches the mapped page.
//
// The map size is enforced by accounting the bytes written in a transaction
// against the size of the data file as seen by the transaction. Once the limit is
// exceeded the transaction fails with engine.CodeMapFull and can only be aborted.
// bbolt's initial mmap is sized to the map size so that the map rarely needs to
// grow while readers hold it.
package bolt
