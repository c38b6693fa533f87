package env

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/ValentinKolb/txKV/lib/codec"
	"github.com/ValentinKolb/txKV/lib/engine"
	"github.com/ValentinKolb/txKV/lib/engine/engines/bolt"
	"github.com/ValentinKolb/txKV/lib/engine/engines/flat"
	"github.com/ValentinKolb/txKV/lib/engine/engines/leveldb"
	"github.com/ValentinKolb/txKV/lib/engine/engines/memory"
	"github.com/ValentinKolb/txKV/lib/engine/engines/pebbledb"
	"github.com/ValentinKolb/txKV/lib/prefetch"
	"github.com/ValentinKolb/txKV/lib/writer"
)

var Logger = logger.GetLogger("env")

// dbState is shared by every handle on one database identifier
type dbState struct {
	name   string
	dbi    engine.DBI
	opts   DBOptions
	codec  *codec.Codec
	closed atomic.Bool
}

// core is the shared state of one open environment
type core struct {
	registry *Registry
	key      string
	path     string
	opts     Options
	refs     int // guarded by registry.mu

	eng      engine.Engine
	writer   *writer.Writer
	codec    *codec.Codec
	prefetch *prefetch.Pool
	workers  chan *codec.Worker

	// openMu serialises OpenDB; mu guards names
	openMu sync.Mutex
	mu     sync.Mutex
	names  map[string]*dbState
	dbs    *xsync.MapOf[engine.DBI, *dbState]

	readers  *xsync.MapOf[uint64, *ReadTxn]
	readerID atomic.Uint64

	// readMu guards the shared read transaction. Readers hold it shared while
	// using the transaction; renewing and releasing take it exclusively.
	readMu      sync.RWMutex
	shared      engine.Txn
	sharedSeq   uint64
	sharedValid bool
	commits     atomic.Uint64

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
	metrics   *envMetrics
}

func openCore(r *Registry, key, path string, opts Options) (*core, error) {
	eng, err := openEngine(path, opts)
	if err != nil {
		return nil, err
	}

	c := &core{
		registry: r,
		key:      key,
		path:     path,
		opts:     opts,
		eng:      eng,
		prefetch: prefetch.NewPool(opts.PrefetchWorkers),
		workers:  make(chan *codec.Worker, runtime.GOMAXPROCS(0)),
		names:    make(map[string]*dbState),
		dbs:      xsync.NewMapOf[engine.DBI, *dbState](),
		readers:  xsync.NewMapOf[uint64, *ReadTxn](),
	}
	if opts.Compression != nil {
		if c.codec, err = codec.New(*opts.Compression); err != nil {
			_ = eng.Close()
			return nil, fmt.Errorf("create codec: %w", err)
		}
	}

	wopts := opts.Writer
	if wopts.Name == "" || wopts.Name == writer.DefaultOptions().Name {
		wopts.Name = c.name()
	}
	c.writer = writer.New(eng, wopts, writer.Hooks{
		Resolve:      c.resolve,
		BeforeCommit: c.releaseShared,
		OnCommit:     c.committed,
	})
	c.metrics = newEnvMetrics(c)
	return c, nil
}

func openEngine(path string, opts Options) (engine.Engine, error) {
	fopts := flat.Options{MaxKeySize: opts.MaxKeySize, NoSync: opts.NoSync}
	switch opts.Engine {
	case engine.ImplBolt:
		if path == "" {
			return nil, fmt.Errorf("%w: the bolt engine needs a path", ErrIncompatibleOptions)
		}
		bopts := bolt.DefaultOptions(path)
		bopts.MapSize = opts.MapSize
		bopts.NoSync = opts.NoSync
		if opts.MaxKeySize > 0 {
			bopts.MaxKeySize = opts.MaxKeySize
		}
		return bolt.Open(bopts)
	case engine.ImplPebble:
		return pebbledb.Open(pebbledb.Options{Options: fopts, Path: path, InMemory: path == "", CacheSize: opts.CacheSize})
	case engine.ImplLevelDB:
		return leveldb.Open(leveldb.Options{Options: fopts, Path: path, InMemory: path == ""})
	case engine.ImplMemory:
		if path != "" {
			return nil, fmt.Errorf("%w: the memory engine takes no path", ErrIncompatibleOptions)
		}
		return memory.Open(fopts), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, opts.Engine)
	}
}

func (c *core) name() string {
	if c.path == "" {
		return c.key
	}
	return c.path
}

// --------------------------------------------------------------------------
// Writer Hooks
// --------------------------------------------------------------------------

func (c *core) resolve(dbi engine.DBI) writer.DBConfig {
	st, ok := c.dbs.Load(dbi)
	if !ok {
		return writer.DBConfig{}
	}
	return writer.DBConfig{Codec: st.codec, Versions: st.opts.Versions}
}

func (c *core) committed(info writer.CommitInfo) {
	c.commits.Add(1)
	for _, dbi := range info.Dropped {
		c.forget(dbi)
	}
}

// forget closes every handle on a deleted database
func (c *core) forget(dbi engine.DBI) {
	st, ok := c.dbs.LoadAndDelete(dbi)
	if !ok {
		return
	}
	st.closed.Store(true)

	c.mu.Lock()
	if c.names[st.name] == st {
		delete(c.names, st.name)
	}
	c.mu.Unlock()
	Logger.Debugf("database %q (dbi %d) dropped", st.name, dbi)
}

// --------------------------------------------------------------------------
// Shared Read Transaction
// --------------------------------------------------------------------------

// withShared runs fn on the shared read transaction, renewing it first when
// it does not observe the latest commit
func (c *core) withShared(fn func(txn engine.Txn) error) error {
	for attempt := 0; ; attempt++ {
		c.readMu.RLock()
		if c.closed.Load() {
			c.readMu.RUnlock()
			return ErrClosed
		}
		// after one renewal the transaction is used even if another commit
		// slipped in, so readers cannot starve under constant writes
		if c.sharedValid && (attempt > 0 || c.sharedSeq == c.commits.Load()) {
			err := fn(c.shared)
			c.readMu.RUnlock()
			return err
		}
		c.readMu.RUnlock()

		if err := c.renewShared(); err != nil {
			return err
		}
	}
}

func (c *core) renewShared() error {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	if c.closed.Load() {
		return ErrClosed
	}
	seq := c.commits.Load()
	if c.sharedValid && c.sharedSeq == seq {
		return nil
	}

	if c.shared == nil {
		txn, err := c.eng.Begin(false)
		if err != nil {
			return err
		}
		c.shared = txn
	} else {
		if c.sharedValid {
			c.shared.Reset()
		}
		if err := c.shared.Renew(); err != nil {
			c.shared.Abort()
			c.shared, c.sharedValid = nil, false
			return err
		}
	}
	c.sharedSeq, c.sharedValid = seq, true
	c.metrics.renewals.Inc()
	return nil
}

// releaseShared resets the shared read transaction so it does not pin old
// pages while the writer commits
func (c *core) releaseShared() {
	c.readMu.Lock()
	defer c.readMu.Unlock()
	if c.shared != nil && c.sharedValid {
		c.shared.Reset()
		c.sharedValid = false
	}
}

// --------------------------------------------------------------------------
// Codec Workers
// --------------------------------------------------------------------------

func (c *core) worker() *codec.Worker {
	select {
	case w := <-c.workers:
		return w
	default:
		return codec.NewWorker()
	}
}

func (c *core) putWorker(w *codec.Worker) {
	select {
	case c.workers <- w:
	default:
		w.Close()
	}
}

// --------------------------------------------------------------------------
// Shutdown
// --------------------------------------------------------------------------

func (c *core) close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.shutdown()
	})
	return c.closeErr
}

func (c *core) shutdown() error {
	var errs []error

	// queued writes are still applied
	if err := c.writer.Close(); err != nil {
		errs = append(errs, err)
	}
	c.prefetch.Wait()

	c.readMu.Lock()
	c.closed.Store(true)
	if c.shared != nil {
		c.shared.Abort()
		c.shared, c.sharedValid = nil, false
	}
	c.readMu.Unlock()

	if n := c.readers.Size(); n > 0 {
		Logger.Warningf("aborting %d read transactions left open on %s", n, c.name())
		c.readers.Range(func(_ uint64, r *ReadTxn) bool {
			r.Abort()
			return true
		})
	}

	c.dbs.Range(func(_ engine.DBI, st *dbState) bool {
		st.closed.Store(true)
		return true
	})

drain:
	for {
		select {
		case w := <-c.workers:
			w.Close()
		default:
			break drain
		}
	}

	if err := c.eng.Close(); err != nil {
		errs = append(errs, err)
	}
	if c.opts.DeleteOnClose && c.path != "" {
		if err := os.RemoveAll(c.path); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", c.path, err))
		}
	}
	Logger.Infof("closed environment %s", c.name())
	return errors.Join(errs...)
}
