package flat

import (
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/txKV/lib/engine"
)

const (
	// DefaultMaxKeySize is the key limit applied when none is configured.
	DefaultMaxKeySize = 1978
	// PageSize is the nominal page size used for statistics estimates.
	PageSize = 4096
)

// Options configures the adapter.
type Options struct {
	// MaxKeySize bounds key (and duplicate value) sizes.
	MaxKeySize int
	// NoSync commits without waiting for the backend to sync.
	NoSync bool
}

// dbInfo describes an opened database identifier
type dbInfo struct {
	name    string
	flags   engine.DBFlags
	dropped bool
}

// DB implements engine.Engine over a flat Store.
//
// Thread-safety: Begin may be called concurrently. A second writable
// transaction blocks until the first one commits or aborts.
type DB struct {
	store   Store
	opts    Options
	closed  atomic.Bool
	commits atomic.Uint64
	writeMu sync.Mutex

	mu   sync.Mutex
	dbis map[engine.DBI]*dbInfo
}

// New wraps a store. The adapter takes ownership of the store.
func New(store Store, opts Options) *DB {
	if opts.MaxKeySize <= 0 {
		opts.MaxKeySize = DefaultMaxKeySize
	}
	return &DB{
		store: store,
		opts:  opts,
		dbis:  make(map[engine.DBI]*dbInfo),
	}
}

// Begin implements engine.Engine.
func (d *DB) Begin(writable bool) (engine.Txn, error) {
	if d.closed.Load() {
		return nil, engine.NewError(engine.CodeClosed, "begin", "engine closed")
	}

	if !writable {
		snap, err := d.store.NewSnapshot()
		if err != nil {
			return nil, engine.WrapError(engine.CodeBadTxn, "begin", err)
		}
		return &txn{db: d, r: snap, snap: snap, id: d.commits.Load()}, nil
	}

	d.writeMu.Lock()
	batch, err := d.store.NewBatch()
	if err != nil {
		d.writeMu.Unlock()
		return nil, engine.WrapError(engine.CodeBadTxn, "begin", err)
	}
	return &txn{db: d, r: batch, batch: batch, id: d.commits.Load() + 1}, nil
}

// Sync implements engine.Engine.
func (d *DB) Sync() error {
	if d.closed.Load() {
		return engine.NewError(engine.CodeClosed, "sync", "engine closed")
	}
	if err := d.store.Sync(); err != nil {
		return engine.WrapError(engine.CodeBadTxn, "sync", err)
	}
	return nil
}

// Info implements engine.Engine.
func (d *DB) Info() engine.Info {
	features := engine.FeatureDupSort
	if d.opts.NoSync {
		features |= engine.FeatureDurableNoSync
	}
	return engine.Info{
		Type:       d.store.Implementation(),
		Path:       d.store.Path(),
		PageSize:   PageSize,
		MaxKeySize: d.opts.MaxKeySize,
		Features:   engine.Features(features),
	}
}

// Close implements engine.Engine.
func (d *DB) Close() error {
	if d.closed.Swap(true) {
		return nil
	}
	return d.store.Close()
}

func (d *DB) lookup(dbi engine.DBI) (dbInfo, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	info, ok := d.dbis[dbi]
	if !ok || info.dropped {
		return dbInfo{}, false
	}
	return *info, true
}

// register records identifiers that became visible through a commit or a read
func (d *DB) register(dbi engine.DBI, info dbInfo) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if existing, ok := d.dbis[dbi]; ok && existing.dropped {
		return
	}
	d.dbis[dbi] = &info
}

func (d *DB) forget(dbi engine.DBI) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if info, ok := d.dbis[dbi]; ok {
		info.dropped = true
	} else {
		d.dbis[dbi] = &dbInfo{dropped: true}
	}
}
