// Package leveldb backs the flat engine adapter with goleveldb
// (github.com/syndtr/goleveldb). Write transactions map to goleveldb
// transactions, read transactions to snapshots.
package leveldb
