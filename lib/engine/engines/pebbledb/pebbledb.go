package pebbledb

import (
	"bytes"
	"errors"
	"io"
	"os"

	"github.com/ValentinKolb/txKV/lib/engine"
	"github.com/ValentinKolb/txKV/lib/engine/engines/flat"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

// Options configures a pebble backed engine.
type Options struct {
	flat.Options

	// Path of the pebble directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps all files in memory (vfs.NewMem).
	InMemory bool

	// CacheSize is the block cache size in bytes.
	CacheSize int64
}

// Store adapts a pebble database to flat.Store.
type Store struct {
	db   *pebble.DB
	path string
}

// Open opens (or creates) a pebble database and returns it as an engine.
func Open(opts Options) (*flat.DB, error) {
	popts := &pebble.Options{
		MaxOpenFiles: 2000,
	}
	if opts.CacheSize > 0 {
		cache := pebble.NewCache(opts.CacheSize)
		defer cache.Unref()
		popts.Cache = cache
	}
	dir, path := opts.Path, opts.Path
	if opts.InMemory {
		popts.FS = vfs.NewMem()
		dir, path = "mem", ""
	} else if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	db, err := pebble.Open(dir, popts)
	if err != nil {
		return nil, err
	}
	return flat.New(&Store{db: db, path: path}, opts.Options), nil
}

func (s *Store) NewBatch() (flat.Batch, error) {
	return &batch{b: s.db.NewIndexedBatch()}, nil
}

func (s *Store) NewSnapshot() (flat.Snapshot, error) {
	return &snapshot{s: s.db.NewSnapshot()}, nil
}

func (s *Store) Sync() error {
	return s.db.LogData(nil, pebble.Sync)
}

func (s *Store) Implementation() engine.Implementation {
	return engine.ImplPebble
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

type getter interface {
	Get(key []byte) ([]byte, io.Closer, error)
}

func get(g getter, key []byte) ([]byte, bool, error) {
	v, closer, err := g.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer closer.Close()
	return bytes.Clone(v), true, nil
}

type batch struct {
	b *pebble.Batch
}

func (b *batch) Get(key []byte) ([]byte, bool, error) {
	return get(b.b, key)
}

func (b *batch) NewIterator(lower, upper []byte) (flat.Iterator, error) {
	it, err := b.b.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	return &iterator{it}, nil
}

func (b *batch) Set(key, value []byte) error {
	return b.b.Set(key, value, nil)
}

func (b *batch) Delete(key []byte) error {
	return b.b.Delete(key, nil)
}

func (b *batch) Commit(sync bool) error {
	opts := pebble.NoSync
	if sync {
		opts = pebble.Sync
	}
	if err := b.b.Commit(opts); err != nil {
		return err
	}
	return b.b.Close()
}

func (b *batch) Discard() {
	_ = b.b.Close()
}

type snapshot struct {
	s *pebble.Snapshot
}

func (s *snapshot) Get(key []byte) ([]byte, bool, error) {
	return get(s.s, key)
}

func (s *snapshot) NewIterator(lower, upper []byte) (flat.Iterator, error) {
	it, err := s.s.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	return &iterator{it}, nil
}

func (s *snapshot) Release() {
	_ = s.s.Close()
}

// iterator exposes the subset of *pebble.Iterator used by flat
type iterator struct {
	*pebble.Iterator
}
