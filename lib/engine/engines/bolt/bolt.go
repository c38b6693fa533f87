package bolt

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/txKV/lib/engine"
	"go.etcd.io/bbolt"
)

// --------------------------------------------------------------------------
// Options
// --------------------------------------------------------------------------

const (
	// DefaultMapSize is the maximum data size if none is configured (1 GiB).
	DefaultMapSize = 1 << 30
	// DefaultMaxKeySize matches the key limit of the databases this layer was
	// modelled on, well below bbolt's own limit.
	DefaultMaxKeySize = 1978
	// DataFile is the name of the data file inside the environment directory.
	DataFile = "data.db"
)

// Options configures a bbolt backed engine.
type Options struct {
	// Path is the environment directory (or the data file with NoSubdir).
	Path string
	// NoSubdir treats Path as the data file itself.
	NoSubdir bool
	// MapSize bounds the data size; writes beyond it fail with CodeMapFull.
	MapSize int64
	// MaxKeySize bounds key (and duplicate value) sizes.
	MaxKeySize int
	// NoSync skips fsync on commit; call Sync to flush.
	NoSync bool
	// Timeout for acquiring the file lock.
	Timeout time.Duration
	// FileMode of newly created files.
	FileMode os.FileMode
}

// DefaultOptions returns the default options for the given path.
func DefaultOptions(path string) Options {
	return Options{
		Path:       path,
		MapSize:    DefaultMapSize,
		MaxKeySize: DefaultMaxKeySize,
		Timeout:    5 * time.Second,
		FileMode:   0o600,
	}
}

func (o Options) withDefaults() Options {
	if o.MapSize <= 0 {
		o.MapSize = DefaultMapSize
	}
	if o.MaxKeySize <= 0 {
		o.MaxKeySize = DefaultMaxKeySize
	}
	if o.FileMode == 0 {
		o.FileMode = 0o600
	}
	return o
}

// --------------------------------------------------------------------------
// Engine
// --------------------------------------------------------------------------

var (
	// metaBucket stores the flags of every named database
	metaBucket = []byte("\x00meta")
	// mainBucket backs the database with the empty name
	mainBucket = []byte("\x00main")
)

// dbInfo describes an opened database identifier
type dbInfo struct {
	name    string
	bucket  []byte
	flags   engine.DBFlags
	dropped bool
}

// DB is an engine.Engine backed by a bbolt file.
//
// Thread-safety: Begin may be called concurrently; transactions must not be
// shared between goroutines. Only one writable transaction may be open.
type DB struct {
	db     *bbolt.DB
	opts   Options
	path   string
	closed atomic.Bool

	mu     sync.Mutex
	byName map[string]engine.DBI
	dbis   map[engine.DBI]*dbInfo
	next   engine.DBI
}

// Open opens (or creates) a bbolt environment.
func Open(opts Options) (*DB, error) {
	opts = opts.withDefaults()
	if opts.Path == "" {
		return nil, fmt.Errorf("bolt: path required")
	}

	file := opts.Path
	if !opts.NoSubdir {
		if err := os.MkdirAll(opts.Path, 0o755); err != nil {
			return nil, fmt.Errorf("bolt: create environment directory: %w", err)
		}
		file = filepath.Join(opts.Path, DataFile)
	}

	bdb, err := bbolt.Open(file, opts.FileMode, &bbolt.Options{
		Timeout:         opts.Timeout,
		NoSync:          opts.NoSync,
		InitialMmapSize: int(opts.MapSize),
	})
	if err != nil {
		return nil, fmt.Errorf("bolt: open %s: %w", file, err)
	}

	err = bdb.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(metaBucket)
		return err
	})
	if err != nil {
		_ = bdb.Close()
		return nil, fmt.Errorf("bolt: initialise %s: %w", file, err)
	}

	return &DB{
		db:     bdb,
		opts:   opts,
		path:   file,
		byName: make(map[string]engine.DBI),
		dbis:   make(map[engine.DBI]*dbInfo),
		next:   1,
	}, nil
}

// Begin implements engine.Engine.
func (d *DB) Begin(writable bool) (engine.Txn, error) {
	if d.closed.Load() {
		return nil, engine.NewError(engine.CodeClosed, "begin", "engine closed")
	}
	tx, err := d.db.Begin(writable)
	if err != nil {
		return nil, convertErr("begin", err)
	}
	return &txn{db: d, tx: tx, writable: writable, size: tx.Size()}, nil
}

// Sync implements engine.Engine.
func (d *DB) Sync() error {
	if d.closed.Load() {
		return engine.NewError(engine.CodeClosed, "sync", "engine closed")
	}
	return convertErr("sync", d.db.Sync())
}

// Info implements engine.Engine.
func (d *DB) Info() engine.Info {
	return engine.Info{
		Type:       engine.ImplBolt,
		Path:       d.path,
		PageSize:   d.db.Info().PageSize,
		MapSize:    d.opts.MapSize,
		MaxKeySize: d.opts.MaxKeySize,
		Features: engine.Features(engine.FeatureDupSort | engine.FeatureMapSize | engine.FeatureMmap |
			engine.FeatureNestedStats | engine.FeatureDurableNoSync),
	}
}

// Close implements engine.Engine.
func (d *DB) Close() error {
	if d.closed.Swap(true) {
		return nil
	}
	return d.db.Close()
}

// assign returns the identifier for name, handing out a new one if the name
// has none (or only a dropped one).
func (d *DB) assign(name string, bucket []byte, flags engine.DBFlags) engine.DBI {
	d.mu.Lock()
	defer d.mu.Unlock()

	if dbi, ok := d.byName[name]; ok {
		d.dbis[dbi].flags = flags
		return dbi
	}
	dbi := d.next
	d.next++
	d.byName[name] = dbi
	d.dbis[dbi] = &dbInfo{name: name, bucket: bucket, flags: flags}
	return dbi
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

// forget invalidates a deleted database identifier; the number is never reused
func (d *DB) forget(dbi engine.DBI) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if info, ok := d.dbis[dbi]; ok {
		info.dropped = true
		if d.byName[info.name] == dbi {
			delete(d.byName, info.name)
		}
	}
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func bucketFor(name string) []byte {
	if name == "" {
		return mainBucket
	}
	return []byte(name)
}

// convertErr maps bbolt errors to typed engine errors
func convertErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var code engine.Code
	switch {
	case errors.Is(err, bbolt.ErrKeyTooLarge):
		code = engine.CodeKeyTooLarge
	case errors.Is(err, bbolt.ErrKeyRequired):
		code = engine.CodeBadValSize
	case errors.Is(err, bbolt.ErrValueTooLarge):
		code = engine.CodeValueTooLarge
	case errors.Is(err, bbolt.ErrTxClosed):
		code = engine.CodeTxnClosed
	case errors.Is(err, bbolt.ErrTxNotWritable), errors.Is(err, bbolt.ErrDatabaseReadOnly):
		code = engine.CodeReadOnly
	case errors.Is(err, bbolt.ErrDatabaseNotOpen):
		code = engine.CodeClosed
	case errors.Is(err, bbolt.ErrBucketNotFound):
		code = engine.CodeNotFound
	case errors.Is(err, bbolt.ErrIncompatibleValue):
		code = engine.CodeIncompatible
	case errors.Is(err, bbolt.ErrInvalid), errors.Is(err, bbolt.ErrChecksum), errors.Is(err, bbolt.ErrVersionMismatch):
		code = engine.CodeCorrupted
	default:
		code = engine.CodeBadTxn
	}
	return engine.WrapError(code, op, err)
}
