package env

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"unicode/utf8"

	"github.com/ValentinKolb/txKV/lib/codec"
	"github.com/ValentinKolb/txKV/lib/engine"
	"github.com/ValentinKolb/txKV/lib/instruction"
	"github.com/ValentinKolb/txKV/lib/prefetch"
	"github.com/ValentinKolb/txKV/lib/writer"
)

// Entry is a decoded value.
type Entry struct {
	Value []byte
	// Version is the version stored with the value (databases with versions only).
	Version uint64
	// Compressed reports whether the value was stored compressed.
	Compressed bool
}

// GetResult is the outcome of an asynchronous read.
type GetResult struct {
	Entry Entry
	Found bool
	Err   error
}

// Uint32Key encodes a key of a KeyUint32 database.
func Uint32Key(v uint32) []byte {
	return binary.BigEndian.AppendUint32(nil, v)
}

// DecodeUint32Key decodes a key of a KeyUint32 database.
func DecodeUint32Key(key []byte) (uint32, error) {
	if len(key) != engine.IntegerKeySize {
		return 0, fmt.Errorf("%w: uint32 keys are %d bytes, got %d", ErrInvalidKey, engine.IntegerKeySize, len(key))
	}
	return binary.BigEndian.Uint32(key), nil
}

// Database is a handle on a named database.
//
// Thread-safety: all methods may be called concurrently.
type Database struct {
	env    *Environment
	st     *dbState
	closed atomic.Bool
}

func (d *Database) check() error {
	if err := d.env.check(); err != nil {
		return err
	}
	if d.closed.Load() || d.st.closed.Load() {
		return ErrDatabaseClosed
	}
	return nil
}

func (d *Database) checkKey(key []byte) error {
	switch d.st.opts.KeyType {
	case KeyString:
		if !utf8.Valid(key) {
			return fmt.Errorf("%w: string key is not valid UTF-8", ErrInvalidKey)
		}
	case KeyUint32:
		if len(key) != engine.IntegerKeySize {
			return fmt.Errorf("%w: uint32 keys are %d bytes, got %d", ErrInvalidKey, engine.IntegerKeySize, len(key))
		}
	}
	return nil
}

// Name returns the database name.
func (d *Database) Name() string {
	return d.st.name
}

// DBI returns the engine identifier of the database.
func (d *Database) DBI() engine.DBI {
	return d.st.dbi
}

// Options returns the options the database was opened with.
func (d *Database) Options() DBOptions {
	return d.st.opts
}

// Close closes this handle. Other handles on the database stay usable.
func (d *Database) Close() {
	d.closed.Store(true)
}

// --------------------------------------------------------------------------
// Writes
// --------------------------------------------------------------------------

// Write submits b and waits until all its instructions are committed or
// failed. It returns one result per instruction.
func (d *Database) Write(ctx context.Context, b *Batch) ([]instruction.Result, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	return d.env.core.writer.Submit(ctx, b.buf)
}

// WriteAsync submits b without waiting for its commit.
func (d *Database) WriteAsync(b *Batch) (*writer.Pending, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	return d.env.core.writer.SubmitAsync(b.buf), nil
}

// Put stores key/value and waits for the commit. It returns the version
// stamped on the value (0 for databases without versions).
func (d *Database) Put(ctx context.Context, key, value []byte) (uint64, error) {
	b := d.NewBatch()
	if err := b.Put(key, value); err != nil {
		return 0, err
	}
	res, err := d.writeOne(ctx, b)
	return res.Version, err
}

// Delete removes key and waits for the commit. It reports whether the key existed.
func (d *Database) Delete(ctx context.Context, key []byte) (bool, error) {
	b := d.NewBatch()
	if err := b.Delete(key); err != nil {
		return false, err
	}
	res, err := d.writeOne(ctx, b)
	return err == nil && res.Status == instruction.StatusOK, err
}

// Drop empties the database. With del the database is deleted and every handle
// on it is closed; without, the handles stay valid.
func (d *Database) Drop(ctx context.Context, del bool) error {
	b := d.NewBatch()
	if err := b.buf.Drop(d.st.dbi, del); err != nil {
		return err
	}
	_, err := d.writeOne(ctx, b)
	return err
}

func (d *Database) writeOne(ctx context.Context, b *Batch) (instruction.Result, error) {
	results, err := d.Write(ctx, b)
	if err != nil {
		return instruction.Result{}, err
	}
	res := results[0]
	switch res.Status {
	case instruction.StatusFailed:
		return res, res.Err
	case instruction.StatusConditionFailed:
		return res, writer.ErrConditionFailed
	}
	return res, nil
}

// --------------------------------------------------------------------------
// Reads
// --------------------------------------------------------------------------

// Get returns a copy of the value stored for key. A missing key is not an
// error: found is false.
func (d *Database) Get(key []byte) (Entry, bool, error) {
	return d.get(nil, key)
}

// GetInto is Get without allocating: the value is decoded into w's scratch
// buffer and valid until the next use of w. Values too large for the scratch
// buffer are returned in a new allocation.
func (d *Database) GetInto(w *codec.Worker, key []byte) (Entry, bool, error) {
	return d.get(w, key)
}

// GetAsync reads key on a new goroutine.
func (d *Database) GetAsync(key []byte) <-chan GetResult {
	out := make(chan GetResult, 1)
	go func() {
		defer close(out)
		e, found, err := d.get(nil, key)
		out <- GetResult{Entry: e, Found: found, Err: err}
	}()
	return out
}

func (d *Database) get(w *codec.Worker, key []byte) (entry Entry, found bool, err error) {
	if err := d.check(); err != nil {
		return Entry{}, false, err
	}
	c := d.env.core
	c.metrics.gets.Inc()
	err = c.withShared(func(txn engine.Txn) error {
		stored, err := txn.Get(d.st.dbi, key)
		if engine.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		entry, err = d.decode(w, stored, true)
		return err
	})
	if err != nil {
		return Entry{}, false, err
	}
	if !found {
		c.metrics.misses.Inc()
	}
	return entry, found, nil
}

// decode turns a stored value into an Entry. With own set the value never
// aliases stored: it is placed in w's scratch buffer or a new allocation.
func (d *Database) decode(w *codec.Worker, stored []byte, own bool) (Entry, error) {
	var e Entry
	if d.st.opts.Versions {
		version, rest, err := codec.SplitVersion(stored)
		if err != nil {
			return e, err
		}
		e.Version, stored = version, rest
	}

	cd := d.st.codec
	if cd == nil || !codec.IsCompressed(stored) {
		raw := stored
		if cd != nil {
			raw, _ = codec.Unwrap(stored)
		}
		e.Value = raw
		if own {
			e.Value = d.copyOut(w, raw)
		}
		return e, nil
	}

	e.Compressed = true
	if w != nil {
		raw, ok, err := cd.Decompress(w, stored, false)
		if err != nil {
			return e, err
		}
		if ok {
			e.Value = raw
			return e, nil
		}
		d.env.core.metrics.fallback.Inc()
	}

	pooled := d.env.core.worker()
	defer d.env.core.putWorker(pooled)
	raw, _, err := cd.Decompress(pooled, stored, true)
	e.Value = raw
	return e, err
}

func (d *Database) copyOut(w *codec.Worker, raw []byte) []byte {
	if w != nil {
		if buf, ok := w.Scratch(len(raw)); ok {
			copy(buf, raw)
			return buf
		}
		d.env.core.metrics.fallback.Inc()
	}
	return bytes.Clone(raw)
}

// Range calls fn for every entry with start <= key < end in key order (nil
// bounds are open). Duplicates are visited in value order. key and entry are
// only valid during the call. A non-nil error from fn stops the iteration and
// is returned.
func (d *Database) Range(start, end []byte, fn func(key []byte, e Entry) error) error {
	if err := d.check(); err != nil {
		return err
	}
	c := d.env.core
	txn, err := c.eng.Begin(false)
	if err != nil {
		return err
	}
	defer txn.Abort()

	cur, err := txn.Cursor(d.st.dbi)
	if err != nil {
		return err
	}
	defer cur.Close()

	w := c.worker()
	defer c.putWorker(w)

	var k, v []byte
	if start == nil {
		k, v, err = cur.First()
	} else {
		k, v, err = cur.Seek(start)
	}
	for ; err == nil; k, v, err = cur.Next() {
		if end != nil && bytes.Compare(k, end) >= 0 {
			return nil
		}
		e, derr := d.decode(w, v, false)
		if derr != nil {
			return fmt.Errorf("decode %q: %w", k, derr)
		}
		if err := fn(k, e); err != nil {
			return err
		}
	}
	if engine.IsNotFound(err) {
		return nil
	}
	return err
}

// Stat returns the statistics of the database.
func (d *Database) Stat() (engine.Stat, error) {
	if err := d.check(); err != nil {
		return engine.Stat{}, err
	}
	var stat engine.Stat
	err := d.env.core.withShared(func(txn engine.Txn) error {
		var err error
		stat, err = txn.Stat(d.st.dbi)
		return err
	})
	return stat, err
}

// --------------------------------------------------------------------------
// Prefetch
// --------------------------------------------------------------------------

// Prefetch faults in the pages of the values of keys on the calling goroutine.
func (d *Database) Prefetch(ctx context.Context, keys ...[]byte) (uint64, error) {
	if err := d.check(); err != nil {
		return 0, err
	}
	c := d.env.core
	return c.prefetch.Run(ctx, c.eng, d.st.dbi, instruction.KeysOf(keys...))
}

// PrefetchAsync runs Prefetch on the environment's prefetch pool.
func (d *Database) PrefetchAsync(ctx context.Context, keys ...[]byte) <-chan prefetch.Result {
	if err := d.check(); err != nil {
		out := make(chan prefetch.Result, 1)
		out <- prefetch.Result{Err: err}
		close(out)
		return out
	}
	c := d.env.core
	return c.prefetch.Go(ctx, c.eng, d.st.dbi, instruction.KeysOf(keys...))
}
