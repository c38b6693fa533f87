package memory

import (
	"bytes"
	"sync"

	"github.com/ValentinKolb/txKV/lib/engine"
	"github.com/ValentinKolb/txKV/lib/engine/engines/flat"
	"github.com/google/btree"
)

const (
	// degree of the b-tree
	degree = 32
	// iterChunk is the number of entries an iterator buffers per refill
	iterChunk = 64
)

type item struct {
	key   []byte
	value []byte
}

func less(a, b item) bool {
	return bytes.Compare(a.key, b.key) < 0
}

// Store is a flat.Store held entirely in memory. Batches and snapshots are
// copy-on-write clones of the committed tree.
//
// Thread-safety: all methods are safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	tree *btree.BTreeG[item]
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{tree: btree.NewG[item](degree, less)}
}

// Open returns an engine backed by a new in-memory store.
func Open(opts flat.Options) *flat.DB {
	return flat.New(New(), opts)
}

func (s *Store) clone() *btree.BTreeG[item] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Clone()
}

func (s *Store) NewBatch() (flat.Batch, error) {
	return &batch{store: s, tree: s.clone()}, nil
}

func (s *Store) NewSnapshot() (flat.Snapshot, error) {
	return &snapshot{tree: s.clone()}, nil
}

func (s *Store) Sync() error {
	return nil
}

func (s *Store) Implementation() engine.Implementation {
	return engine.ImplMemory
}

func (s *Store) Path() string {
	return ""
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tree.Clear(false)
	return nil
}

// --------------------------------------------------------------------------
// Reader implementations
// --------------------------------------------------------------------------

func get(tree *btree.BTreeG[item], key []byte) ([]byte, bool, error) {
	it, ok := tree.Get(item{key: key})
	if !ok {
		return nil, false, nil
	}
	return bytes.Clone(it.value), true, nil
}

type batch struct {
	store *Store
	tree  *btree.BTreeG[item]
}

func (b *batch) Get(key []byte) ([]byte, bool, error) {
	return get(b.tree, key)
}

func (b *batch) NewIterator(lower, upper []byte) (flat.Iterator, error) {
	// iterate a private clone so writes during iteration are not observed
	return newIterator(b.tree.Clone(), lower, upper), nil
}

func (b *batch) Set(key, value []byte) error {
	b.tree.ReplaceOrInsert(item{key: bytes.Clone(key), value: bytes.Clone(value)})
	return nil
}

func (b *batch) Delete(key []byte) error {
	b.tree.Delete(item{key: key})
	return nil
}

func (b *batch) Commit(bool) error {
	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	b.store.tree = b.tree
	b.tree = nil
	return nil
}

func (b *batch) Discard() {
	b.tree = nil
}

type snapshot struct {
	tree *btree.BTreeG[item]
}

func (s *snapshot) Get(key []byte) ([]byte, bool, error) {
	return get(s.tree, key)
}

func (s *snapshot) NewIterator(lower, upper []byte) (flat.Iterator, error) {
	return newIterator(s.tree, lower, upper), nil
}

func (s *snapshot) Release() {
	s.tree = nil
}
