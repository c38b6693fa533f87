package env

import (
	"sync"

	"github.com/ValentinKolb/txKV/lib/engine"
)

// ReadTxn is a read-only snapshot of the environment. Read transactions that
// are still open when the environment closes are aborted.
//
// Thread-safety: all methods may be called concurrently, but a ReadTxn pins
// the snapshot it observes until Reset or Abort.
type ReadTxn struct {
	core *core
	id   uint64

	mu    sync.Mutex
	txn   engine.Txn
	reset bool
	done  bool
}

// BeginRead starts a read transaction.
func (e *Environment) BeginRead() (*ReadTxn, error) {
	if err := e.check(); err != nil {
		return nil, err
	}
	txn, err := e.core.eng.Begin(false)
	if err != nil {
		return nil, err
	}
	r := &ReadTxn{core: e.core, id: e.core.readerID.Add(1), txn: txn}
	e.core.readers.Store(r.id, r)
	return r, nil
}

func (r *ReadTxn) usable() error {
	switch {
	case r.done:
		return engine.NewError(engine.CodeTxnClosed, "read txn", "aborted")
	case r.reset:
		return engine.NewError(engine.CodeBadTxn, "read txn", "reset; call Renew first")
	}
	return nil
}

// ID returns the engine transaction identifier.
func (r *ReadTxn) ID() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.txn.ID()
}

// Get returns a copy of the value stored for key in the snapshot.
func (r *ReadTxn) Get(db *Database, key []byte) (Entry, bool, error) {
	if err := db.check(); err != nil {
		return Entry{}, false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.usable(); err != nil {
		return Entry{}, false, err
	}
	stored, err := r.txn.Get(db.st.dbi, key)
	if engine.IsNotFound(err) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	e, err := db.decode(nil, stored, true)
	return e, err == nil, err
}

// Reset releases the snapshot while keeping the transaction for Renew.
func (r *ReadTxn) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done || r.reset {
		return
	}
	r.txn.Reset()
	r.reset = true
}

// Renew takes a new snapshot after Reset.
func (r *ReadTxn) Renew() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return r.usable()
	}
	if !r.reset {
		r.txn.Reset()
	}
	if err := r.txn.Renew(); err != nil {
		return err
	}
	r.reset = false
	return nil
}

// Abort ends the transaction. It is safe to call more than once.
func (r *ReadTxn) Abort() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return
	}
	r.done = true
	r.txn.Abort()
	r.core.readers.Delete(r.id)
}
