package leveldb

import (
	"errors"

	"github.com/ValentinKolb/txKV/lib/engine"
	"github.com/ValentinKolb/txKV/lib/engine/engines/flat"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Options configures a goleveldb backed engine.
type Options struct {
	flat.Options

	// Path of the database directory. Ignored when InMemory is set.
	Path string

	// InMemory uses goleveldb's memory storage.
	InMemory bool
}

// Store adapts a goleveldb database to flat.Store.
type Store struct {
	db   *leveldb.DB
	path string
}

// Open opens (or creates) a goleveldb database and returns it as an engine.
func Open(opts Options) (*flat.DB, error) {
	lopts := &opt.Options{
		Strict:      opt.DefaultStrict,
		Compression: opt.NoCompression,
		Filter:      filter.NewBloomFilter(10),
		NoSync:      opts.NoSync,
	}

	var (
		db  *leveldb.DB
		err error
	)
	path := opts.Path
	if opts.InMemory {
		db, err = leveldb.Open(storage.NewMemStorage(), lopts)
		path = ""
	} else {
		db, err = leveldb.OpenFile(path, lopts)
	}
	if err != nil {
		return nil, err
	}
	return flat.New(&Store{db: db, path: path}, opts.Options), nil
}

func (s *Store) NewBatch() (flat.Batch, error) {
	tx, err := s.db.OpenTransaction()
	if err != nil {
		return nil, err
	}
	return &batch{tx: tx}, nil
}

func (s *Store) NewSnapshot() (flat.Snapshot, error) {
	snap, err := s.db.GetSnapshot()
	if err != nil {
		return nil, err
	}
	return &snapshot{s: snap}, nil
}

// Sync is a no-op: a committed transaction has already been written to table
// files by goleveldb.
func (s *Store) Sync() error {
	return nil
}

func (s *Store) Implementation() engine.Implementation {
	return engine.ImplLevelDB
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Close() error {
	return s.db.Close()
}

// --------------------------------------------------------------------------
// Reader implementations
// --------------------------------------------------------------------------

func notFound(v []byte, err error) ([]byte, bool, error) {
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func bounds(lower, upper []byte) *util.Range {
	return &util.Range{Start: lower, Limit: upper}
}

type batch struct {
	tx *leveldb.Transaction
}

func (b *batch) Get(key []byte) ([]byte, bool, error) {
	return notFound(b.tx.Get(key, nil))
}

func (b *batch) NewIterator(lower, upper []byte) (flat.Iterator, error) {
	return &iter{b.tx.NewIterator(bounds(lower, upper), nil)}, nil
}

func (b *batch) Set(key, value []byte) error {
	return b.tx.Put(key, value, nil)
}

func (b *batch) Delete(key []byte) error {
	return b.tx.Delete(key, nil)
}

// Commit writes the transaction; goleveldb always flushes transactions to
// table files, so sync is implied.
func (b *batch) Commit(bool) error {
	return b.tx.Commit()
}

func (b *batch) Discard() {
	b.tx.Discard()
}

type snapshot struct {
	s *leveldb.Snapshot
}

func (s *snapshot) Get(key []byte) ([]byte, bool, error) {
	return notFound(s.s.Get(key, nil))
}

func (s *snapshot) NewIterator(lower, upper []byte) (flat.Iterator, error) {
	return &iter{s.s.NewIterator(bounds(lower, upper), nil)}, nil
}

func (s *snapshot) Release() {
	s.s.Release()
}

type iter struct {
	iterator.Iterator
}

func (it *iter) SeekGE(key []byte) bool {
	return it.Seek(key)
}

func (it *iter) Close() error {
	it.Release()
	return nil
}
