package env

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/ValentinKolb/txKV/lib/engine"
	"github.com/ValentinKolb/txKV/lib/writer"
)

// Environment is a handle on an open environment. Several handles may share
// one environment core; the core closes with its last handle.
//
// Thread-safety: all methods may be called concurrently.
type Environment struct {
	core   *core
	closed atomic.Bool
}

func (e *Environment) check() error {
	if e.closed.Load() || e.core.closed.Load() {
		return ErrClosed
	}
	return nil
}

// Path returns the absolute path of the environment ("" for in-memory ones).
func (e *Environment) Path() string {
	return e.core.path
}

// Options returns the options the environment core was opened with.
func (e *Environment) Options() Options {
	return e.core.opts
}

// Info returns static information about the engine.
func (e *Environment) Info() engine.Info {
	return e.core.eng.Info()
}

// WriterState returns the state of the environment's write scheduler.
func (e *Environment) WriterState() writer.State {
	return e.core.writer.State()
}

// --------------------------------------------------------------------------
// Databases
// --------------------------------------------------------------------------

// OpenDB opens the named database. The empty name is the main database.
// Handles on the same name share their state; opening a name again with
// incompatible options fails.
func (e *Environment) OpenDB(ctx context.Context, name string, opts DBOptions) (*Database, error) {
	if err := e.check(); err != nil {
		return nil, err
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	c := e.core

	c.openMu.Lock()
	defer c.openMu.Unlock()

	c.mu.Lock()
	st, ok := c.names[name]
	c.mu.Unlock()
	if ok && !st.closed.Load() {
		if !st.opts.compatible(opts) {
			return nil, fmt.Errorf("%w: database %q is open with different options", ErrIncompatibleOptions, name)
		}
		return &Database{env: e, st: st}, nil
	}

	cd := opts.Codec
	if cd == nil && opts.Compression {
		if c.codec == nil {
			return nil, fmt.Errorf("%w: database %q wants compression but the environment has no codec", ErrIncompatibleOptions, name)
		}
		cd = c.codec
	}

	dbi, err := e.openDBI(ctx, name, opts)
	if err != nil {
		return nil, err
	}
	opts.Create = false
	st = &dbState{name: name, dbi: dbi, opts: opts, codec: cd}

	c.dbs.Store(dbi, st)
	c.mu.Lock()
	c.names[name] = st
	c.mu.Unlock()
	Logger.Debugf("opened database %q as dbi %d", name, dbi)
	return &Database{env: e, st: st}, nil
}

// openDBI resolves name in the engine. Creating goes through the writer, which
// owns the only write transaction.
func (e *Environment) openDBI(ctx context.Context, name string, opts DBOptions) (engine.DBI, error) {
	c := e.core
	var dbi engine.DBI
	if !opts.Create {
		txn, err := c.eng.Begin(false)
		if err != nil {
			return 0, err
		}
		defer txn.Abort()
		dbi, err = txn.OpenDB(name, opts.flags())
		return dbi, err
	}

	err := c.writer.SubmitFunc(ctx, func(tx *writer.Tx) error {
		var err error
		dbi, err = tx.Txn().OpenDB(name, opts.flags())
		return err
	})
	return dbi, err
}

// Databases returns the names of the open databases.
func (e *Environment) Databases() []string {
	e.core.mu.Lock()
	defer e.core.mu.Unlock()
	names := make([]string, 0, len(e.core.names))
	for name := range e.core.names {
		names = append(names, name)
	}
	return names
}

// --------------------------------------------------------------------------
// Writing
// --------------------------------------------------------------------------

// Update runs fn in a write transaction of its own on the writer goroutine. It
// commits when fn returns nil. fn must not submit writes to this environment
// itself.
func (e *Environment) Update(ctx context.Context, fn func(*Txn) error) error {
	if err := e.check(); err != nil {
		return err
	}
	return e.core.writer.SubmitFunc(ctx, func(tx *writer.Tx) error {
		return fn(&Txn{tx: tx})
	})
}

// Flush waits until every write submitted so far is committed or failed.
func (e *Environment) Flush(ctx context.Context) error {
	if err := e.check(); err != nil {
		return err
	}
	return e.core.writer.Flush(ctx)
}

// Sync flushes pending writes and then the engine's data to stable storage.
func (e *Environment) Sync(ctx context.Context) error {
	if err := e.Flush(ctx); err != nil {
		return err
	}
	return e.core.eng.Sync()
}

// --------------------------------------------------------------------------
// Statistics
// --------------------------------------------------------------------------

// Stats describes an environment.
type Stats struct {
	Info        engine.Info            `json:"info"`
	WriterState string                 `json:"writer_state"`
	ReadTxns    int                    `json:"read_txns"`
	Commits     uint64                 `json:"commits"`
	Databases   map[string]engine.Stat `json:"databases"`
}

// Stat returns the statistics of the environment and its open databases.
func (e *Environment) Stat() (Stats, error) {
	if err := e.check(); err != nil {
		return Stats{}, err
	}
	c := e.core
	stats := Stats{
		Info:        c.eng.Info(),
		WriterState: c.writer.State().String(),
		ReadTxns:    c.readers.Size(),
		Commits:     c.commits.Load(),
		Databases:   make(map[string]engine.Stat),
	}

	c.mu.Lock()
	states := make([]*dbState, 0, len(c.names))
	for _, st := range c.names {
		states = append(states, st)
	}
	c.mu.Unlock()

	err := c.withShared(func(txn engine.Txn) error {
		for _, st := range states {
			s, err := txn.Stat(st.dbi)
			if err != nil {
				return fmt.Errorf("stat %q: %w", st.name, err)
			}
			stats.Databases[st.name] = s
		}
		return nil
	})
	return stats, err
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

// Close releases the handle. The environment closes with its last handle:
// queued writes are applied first, read transactions still open are aborted.
func (e *Environment) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	return e.core.registry.release(e.core)
}
