package writer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ValentinKolb/txKV/lib/codec"
	"github.com/ValentinKolb/txKV/lib/engine"
	"github.com/ValentinKolb/txKV/lib/engine/engines/bolt"
	"github.com/ValentinKolb/txKV/lib/engine/engines/flat"
	"github.com/ValentinKolb/txKV/lib/engine/engines/memory"
	"github.com/ValentinKolb/txKV/lib/instruction"
)

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func openDB(t testing.TB, eng engine.Engine, name string) engine.DBI {
	txn, err := eng.Begin(true)
	require.NoError(t, err)
	dbi, err := txn.OpenDB(name, engine.DBCreate)
	require.NoError(t, err)
	require.NoError(t, txn.Commit())
	return dbi
}

func newTestWriter(t testing.TB, opts Options, hooks Hooks) (*Writer, engine.Engine, engine.DBI) {
	eng := memory.Open(flat.Options{NoSync: true})
	dbi := openDB(t, eng, "data")
	w := New(eng, opts, hooks)
	t.Cleanup(func() {
		_ = w.Close()
		_ = eng.Close()
	})
	return w, eng, dbi
}

func fastOptions() Options {
	opts := DefaultOptions()
	opts.MaxBatchWait = 0
	return opts
}

func get(t testing.TB, eng engine.Engine, dbi engine.DBI, key string) ([]byte, bool) {
	txn, err := eng.Begin(false)
	require.NoError(t, err)
	defer txn.Abort()
	v, err := txn.Get(dbi, []byte(key))
	if engine.IsNotFound(err) {
		return nil, false
	}
	require.NoError(t, err)
	return bytes.Clone(v), true
}

func newBuffer() *instruction.Buffer {
	return instruction.NewBuffer(instruction.DefaultOptions())
}

// commitLog records the instruction count of every commit
type commitLog struct {
	mu    sync.Mutex
	infos []CommitInfo
}

func (l *commitLog) record(info CommitInfo) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infos = append(l.infos, info)
}

func (l *commitLog) sizes() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]int, len(l.infos))
	for i, info := range l.infos {
		out[i] = info.Instructions
	}
	return out
}

func (l *commitLog) all() []CommitInfo {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]CommitInfo(nil), l.infos...)
}

// --------------------------------------------------------------------------
// Batches
// --------------------------------------------------------------------------

func TestLastWriteWinsAndMissingDelete(t *testing.T) {
	w, eng, dbi := newTestWriter(t, fastOptions(), Hooks{})

	buf := newBuffer()
	require.NoError(t, buf.Put(dbi, []byte("a"), []byte("1"), 0))
	require.NoError(t, buf.Put(dbi, []byte("a"), []byte("2"), 0))
	require.NoError(t, buf.Delete(dbi, []byte("b")))

	results, err := w.Submit(context.Background(), buf)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, instruction.StatusOK, results[0].Status)
	assert.Equal(t, instruction.StatusOK, results[1].Status)
	assert.Equal(t, instruction.StatusNotFound, results[2].Status)
	for _, r := range results {
		assert.True(t, r.OK(), "result %s", r)
	}

	v, ok := get(t, eng, dbi, "a")
	require.True(t, ok)
	assert.Equal(t, "2", string(v))
	_, ok = get(t, eng, dbi, "b")
	assert.False(t, ok)
	assert.Equal(t, StateIdle, w.State())
}

func TestSubmitAsyncAndFlush(t *testing.T) {
	log := &commitLog{}
	opts := DefaultOptions()
	opts.MaxBatchWait = 5 * time.Millisecond
	w, eng, dbi := newTestWriter(t, opts, Hooks{OnCommit: log.record})

	var pending []*Pending
	for i := 0; i < 100; i++ {
		buf := newBuffer()
		require.NoError(t, buf.Put(dbi, []byte(fmt.Sprintf("key-%03d", i)), []byte("v"), 0))
		pending = append(pending, w.SubmitAsync(buf))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, w.Flush(ctx))

	for _, p := range pending {
		select {
		case <-p.Done():
		default:
			t.Fatal("submission not finished after Flush")
		}
		require.NoError(t, p.Err())
		require.Equal(t, instruction.StatusOK, p.Results()[0].Status)
	}
	for i := 0; i < 100; i++ {
		_, ok := get(t, eng, dbi, fmt.Sprintf("key-%03d", i))
		require.True(t, ok)
	}

	total := 0
	for _, n := range log.sizes() {
		total += n
	}
	assert.Equal(t, 100, total)
	assert.Less(t, len(log.sizes()), 100, "submissions should share batches")
}

func TestConcurrentSubmitters(t *testing.T) {
	w, eng, dbi := newTestWriter(t, DefaultOptions(), Hooks{})
	const n = 200

	var wg sync.WaitGroup
	for p := 0; p < 2; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < n; i++ {
				buf := newBuffer()
				key := fmt.Sprintf("p%d-%04d", p, i)
				if err := buf.Put(dbi, []byte(key), []byte(key), 0); err != nil {
					t.Error(err)
					return
				}
				if _, err := w.Submit(context.Background(), buf); err != nil {
					t.Error(err)
					return
				}
			}
		}(p)
	}
	wg.Wait()

	for p := 0; p < 2; p++ {
		for i := 0; i < n; i++ {
			key := fmt.Sprintf("p%d-%04d", p, i)
			v, ok := get(t, eng, dbi, key)
			require.True(t, ok, key)
			require.Equal(t, key, string(v))
		}
	}
}

func TestMaxBatchSize(t *testing.T) {
	log := &commitLog{}
	opts := fastOptions()
	opts.MaxBatchSize = 10
	w, _, dbi := newTestWriter(t, opts, Hooks{OnCommit: log.record})

	buf := newBuffer()
	for i := 0; i < 25; i++ {
		require.NoError(t, buf.Put(dbi, []byte(fmt.Sprintf("k%02d", i)), []byte("v"), 0))
	}
	results, err := w.Submit(context.Background(), buf)
	require.NoError(t, err)
	require.Len(t, results, 25)
	assert.Equal(t, []int{10, 10, 5}, log.sizes())
}

func TestBatchWaitCommits(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxBatchWait = 20 * time.Millisecond
	w, eng, dbi := newTestWriter(t, opts, Hooks{})

	buf := newBuffer()
	require.NoError(t, buf.Put(dbi, []byte("k"), []byte("v"), 0))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := w.Submit(ctx, buf)
	require.NoError(t, err)
	_, ok := get(t, eng, dbi, "k")
	assert.True(t, ok)
}

func TestEmptyBuffer(t *testing.T) {
	w, _, _ := newTestWriter(t, fastOptions(), Hooks{})
	results, err := w.Submit(context.Background(), newBuffer())
	require.NoError(t, err)
	assert.Empty(t, results)
}

// --------------------------------------------------------------------------
// Signals
// --------------------------------------------------------------------------

func TestInterruptSignalCommitsAppliedPart(t *testing.T) {
	log := &commitLog{}
	w, _, dbi := newTestWriter(t, fastOptions(), Hooks{OnCommit: log.record})

	buf := newBuffer()
	require.NoError(t, buf.Put(dbi, []byte("k1"), []byte("v"), 0))
	require.NoError(t, buf.Interrupt())
	require.NoError(t, buf.Put(dbi, []byte("k2"), []byte("v"), 0))
	require.NoError(t, buf.Put(dbi, []byte("k3"), []byte("v"), 0))

	results, err := w.Submit(context.Background(), buf)
	require.NoError(t, err)
	for _, r := range results {
		require.Equal(t, instruction.StatusOK, r.Status)
	}
	assert.Equal(t, []int{1, 2}, log.sizes())
}

func TestInterruptWithoutAppliedWorkIsIgnored(t *testing.T) {
	log := &commitLog{}
	w, _, dbi := newTestWriter(t, fastOptions(), Hooks{OnCommit: log.record})

	buf := newBuffer()
	require.NoError(t, buf.Interrupt())
	require.NoError(t, buf.Put(dbi, []byte("k1"), []byte("v"), 0))

	_, err := w.Submit(context.Background(), buf)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, log.sizes())
}

func TestInterruptEndsWait(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxBatchWait = time.Hour
	w, eng, dbi := newTestWriter(t, opts, Hooks{})

	buf := newBuffer()
	require.NoError(t, buf.Put(dbi, []byte("k"), []byte("v"), 0))
	p := w.SubmitAsync(buf)

	require.Eventually(t, func() bool {
		return w.State() == StateAwaitingMoreWork
	}, 5*time.Second, time.Millisecond)
	w.Interrupt()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := p.Wait(ctx)
	require.NoError(t, err)
	_, ok := get(t, eng, dbi, "k")
	assert.True(t, ok)
}

func TestAllowCommitEndsWait(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxBatchWait = time.Hour
	w, _, dbi := newTestWriter(t, opts, Hooks{})

	buf := newBuffer()
	require.NoError(t, buf.Put(dbi, []byte("k"), []byte("v"), 0))
	p := w.SubmitAsync(buf)

	require.Eventually(t, func() bool {
		return w.State() == StateAwaitingMoreWork
	}, 5*time.Second, time.Millisecond)
	w.AllowCommit()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := p.Wait(ctx)
	require.NoError(t, err)
}

func TestAllowCommitSignalInStream(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxBatchWait = time.Hour
	w, _, dbi := newTestWriter(t, opts, Hooks{})

	buf := newBuffer()
	require.NoError(t, buf.Put(dbi, []byte("k"), []byte("v"), 0))
	require.NoError(t, buf.AllowCommit())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := w.Submit(ctx, buf)
	require.NoError(t, err)
}

func TestSignalsWhileIdleAreIgnored(t *testing.T) {
	w, _, dbi := newTestWriter(t, fastOptions(), Hooks{})
	w.Interrupt()
	w.AllowCommit()

	buf := newBuffer()
	require.NoError(t, buf.Put(dbi, []byte("k"), []byte("v"), 0))
	_, err := w.Submit(context.Background(), buf)
	require.NoError(t, err)
}

func TestRestartDiscardsUncommittedPart(t *testing.T) {
	w, eng, dbi := newTestWriter(t, fastOptions(), Hooks{})

	first := newBuffer()
	require.NoError(t, first.Put(dbi, []byte("committed"), []byte("v"), 0))
	_, err := w.Submit(context.Background(), first)
	require.NoError(t, err)

	buf := newBuffer()
	require.NoError(t, buf.Put(dbi, []byte("a"), []byte("v"), 0))
	require.NoError(t, buf.Restart())
	require.NoError(t, buf.Put(dbi, []byte("b"), []byte("v"), 0))

	results, err := w.Submit(context.Background(), buf)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, instruction.StatusFailed, results[0].Status)
	assert.ErrorIs(t, results[0].Err, ErrBatchRestarted)
	assert.Equal(t, instruction.StatusOK, results[1].Status)

	_, ok := get(t, eng, dbi, "a")
	assert.False(t, ok)
	_, ok = get(t, eng, dbi, "b")
	assert.True(t, ok)
	_, ok = get(t, eng, dbi, "committed")
	assert.True(t, ok)
}

// --------------------------------------------------------------------------
// Errors
// --------------------------------------------------------------------------

func TestKeyTooLargeFailsOnlyThatInstruction(t *testing.T) {
	w, eng, dbi := newTestWriter(t, fastOptions(), Hooks{})

	buf := newBuffer()
	require.NoError(t, buf.Put(dbi, []byte("before"), []byte("v"), 0))
	require.NoError(t, buf.Put(dbi, bytes.Repeat([]byte("k"), 4000), []byte("v"), 0))
	require.NoError(t, buf.Put(dbi, []byte("after"), []byte("v"), 0))

	results, err := w.Submit(context.Background(), buf)
	require.NoError(t, err)
	assert.Equal(t, instruction.StatusOK, results[0].Status)
	assert.Equal(t, instruction.StatusFailed, results[1].Status)
	assert.True(t, engine.IsCode(results[1].Err, engine.CodeKeyTooLarge), "got %v", results[1].Err)
	assert.Equal(t, instruction.StatusOK, results[2].Status)

	_, ok := get(t, eng, dbi, "before")
	assert.True(t, ok)
	_, ok = get(t, eng, dbi, "after")
	assert.True(t, ok)
}

func TestNoOverwrite(t *testing.T) {
	w, eng, dbi := newTestWriter(t, fastOptions(), Hooks{})

	buf := newBuffer()
	require.NoError(t, buf.Put(dbi, []byte("k"), []byte("first"), 0))
	require.NoError(t, buf.Put(dbi, []byte("k"), []byte("second"), instruction.FlagNoOverwrite))
	results, err := w.Submit(context.Background(), buf)
	require.NoError(t, err)
	assert.Equal(t, instruction.StatusOK, results[0].Status)
	assert.True(t, engine.IsCode(results[1].Err, engine.CodeKeyExist), "got %v", results[1].Err)

	v, _ := get(t, eng, dbi, "k")
	assert.Equal(t, "first", string(v))
}

func TestMapFullAbortsBatch(t *testing.T) {
	opts := bolt.DefaultOptions(t.TempDir())
	opts.MapSize = 256 * 1024
	opts.NoSync = true
	eng, err := bolt.Open(opts)
	require.NoError(t, err)
	dbi := openDB(t, eng, "data")
	w := New(eng, fastOptions(), Hooks{})
	defer func() {
		_ = w.Close()
		_ = eng.Close()
	}()

	buf := newBuffer()
	require.NoError(t, buf.Put(dbi, []byte("small"), []byte("v"), 0))
	require.NoError(t, buf.Put(dbi, []byte("large"), bytes.Repeat([]byte("x"), 512*1024), 0))
	require.NoError(t, buf.Put(dbi, []byte("unreached"), []byte("v"), 0))

	results, err := w.Submit(context.Background(), buf)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, r := range results {
		assert.Equal(t, instruction.StatusFailed, r.Status, "instruction %d", i)
		assert.True(t, engine.IsCode(r.Err, engine.CodeMapFull), "instruction %d: %v", i, r.Err)
	}
	_, ok := get(t, eng, dbi, "small")
	assert.False(t, ok)

	// the writer keeps working after the aborted batch
	buf = newBuffer()
	require.NoError(t, buf.Put(dbi, []byte("later"), []byte("v"), 0))
	results, err = w.Submit(context.Background(), buf)
	require.NoError(t, err)
	assert.Equal(t, instruction.StatusOK, results[0].Status)
	assert.Equal(t, StateIdle, w.State())
}

func TestMalformedBuffer(t *testing.T) {
	w, _, _ := newTestWriter(t, fastOptions(), Hooks{})

	// key length 4, op 99
	words := []byte{4, 0, 0, 0, 99, 0, 0, 0, 0, 0, 0, 0, 'a', 'b', 'c', 'd', 0, 0, 0, 0}
	_, err := w.Submit(context.Background(), instruction.FromBytes(words, nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, instruction.ErrUnknownOp)

	// truncated stream
	_, err = w.Submit(context.Background(), instruction.FromBytes([]byte{4, 0, 0, 0, 1}, nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, instruction.ErrMalformed)
}

func TestBadDatabaseIsPerInstruction(t *testing.T) {
	w, _, dbi := newTestWriter(t, fastOptions(), Hooks{})

	buf := newBuffer()
	require.NoError(t, buf.Put(engine.DBI(999), []byte("k"), []byte("v"), 0))
	require.NoError(t, buf.Put(dbi, []byte("k"), []byte("v"), 0))
	results, err := w.Submit(context.Background(), buf)
	require.NoError(t, err)
	assert.Equal(t, instruction.StatusFailed, results[0].Status)
	assert.Equal(t, instruction.StatusOK, results[1].Status)
}

// --------------------------------------------------------------------------
// Versions and Compression
// --------------------------------------------------------------------------

func TestVersions(t *testing.T) {
	var dbi engine.DBI
	hooks := Hooks{Resolve: func(d engine.DBI) DBConfig {
		return DBConfig{Versions: d == dbi}
	}}
	w, eng, id := newTestWriter(t, fastOptions(), hooks)
	dbi = id

	buf := newBuffer()
	require.NoError(t, buf.Add(instruction.Instruction{
		Op: instruction.OpPut, DBI: dbi, Key: []byte("k"), Value: []byte("v1"),
		Flags: instruction.FlagVersion, Version: 7,
	}))
	results, err := w.Submit(context.Background(), buf)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), results[0].Version)

	stored, ok := get(t, eng, dbi, "k")
	require.True(t, ok)
	version, value, err := codec.SplitVersion(stored)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), version)
	assert.Equal(t, "v1", string(value))

	// a stale condition fails, the current one applies
	buf = newBuffer()
	require.NoError(t, buf.Add(instruction.Instruction{
		Op: instruction.OpPut, DBI: dbi, Key: []byte("k"), Value: []byte("stale"),
		Flags: instruction.FlagIfVersion, IfVersion: 6,
	}))
	require.NoError(t, buf.Add(instruction.Instruction{
		Op: instruction.OpPut, DBI: dbi, Key: []byte("k"), Value: []byte("v2"),
		Flags: instruction.FlagIfVersion, IfVersion: 7,
	}))
	require.NoError(t, buf.Put(dbi, []byte("k2"), []byte("auto"), 0))
	results, err = w.Submit(context.Background(), buf)
	require.NoError(t, err)
	assert.Equal(t, instruction.StatusConditionFailed, results[0].Status)
	assert.Equal(t, instruction.StatusOK, results[1].Status)
	assert.Greater(t, results[2].Version, results[1].Version)

	// delete on condition; a missing key has version 0
	buf = newBuffer()
	require.NoError(t, buf.Add(instruction.Instruction{
		Op: instruction.OpDelete, DBI: dbi, Key: []byte("k"),
		Flags: instruction.FlagIfVersion, IfVersion: results[1].Version,
	}))
	require.NoError(t, buf.Add(instruction.Instruction{
		Op: instruction.OpPut, DBI: dbi, Key: []byte("fresh"), Value: []byte("v"),
		Flags: instruction.FlagIfVersion, IfVersion: 0,
	}))
	results, err = w.Submit(context.Background(), buf)
	require.NoError(t, err)
	assert.Equal(t, instruction.StatusOK, results[0].Status)
	assert.Equal(t, instruction.StatusOK, results[1].Status)
	_, ok = get(t, eng, dbi, "k")
	assert.False(t, ok)
}

func TestConditionWithoutVersions(t *testing.T) {
	w, _, dbi := newTestWriter(t, fastOptions(), Hooks{})

	buf := newBuffer()
	require.NoError(t, buf.Add(instruction.Instruction{
		Op: instruction.OpPut, DBI: dbi, Key: []byte("k"), Value: []byte("v"),
		Flags: instruction.FlagIfVersion,
	}))
	require.NoError(t, buf.Put(dbi, []byte("other"), []byte("v"), 0))
	results, err := w.Submit(context.Background(), buf)
	require.NoError(t, err)
	assert.ErrorIs(t, results[0].Err, ErrNoVersions)
	assert.Equal(t, instruction.StatusOK, results[1].Status)
}

func TestCompressedValues(t *testing.T) {
	copts := codec.DefaultOptions()
	copts.Threshold = 100
	c, err := codec.New(copts)
	require.NoError(t, err)
	hooks := Hooks{Resolve: func(engine.DBI) DBConfig { return DBConfig{Codec: c} }}
	w, eng, dbi := newTestWriter(t, fastOptions(), hooks)

	large := []byte(strings.Repeat("compressible value ", 200))
	buf := newBuffer()
	require.NoError(t, buf.Put(dbi, []byte("large"), large, 0))
	require.NoError(t, buf.Put(dbi, []byte("small"), []byte("tiny"), 0))
	_, err = w.Submit(context.Background(), buf)
	require.NoError(t, err)

	stored, ok := get(t, eng, dbi, "large")
	require.True(t, ok)
	assert.True(t, codec.IsCompressed(stored))
	assert.Less(t, len(stored), len(large))
	worker := codec.NewWorker()
	defer worker.Close()
	raw, ok, err := c.Decompress(worker, stored, true)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, large, raw)

	stored, _ = get(t, eng, dbi, "small")
	assert.Equal(t, "tiny", string(stored))
	assert.Equal(t, int64(2), w.ValueSizes().Count())
}

// --------------------------------------------------------------------------
// Drops and Syncs
// --------------------------------------------------------------------------

func TestDropReportsDatabases(t *testing.T) {
	log := &commitLog{}
	w, eng, dbi := newTestWriter(t, fastOptions(), Hooks{OnCommit: log.record})
	other := openDB(t, eng, "other")

	buf := newBuffer()
	require.NoError(t, buf.Put(dbi, []byte("k"), []byte("v"), 0))
	require.NoError(t, buf.Put(other, []byte("k"), []byte("v"), 0))
	require.NoError(t, buf.Drop(dbi, false))
	require.NoError(t, buf.Drop(other, true))
	_, err := w.Submit(context.Background(), buf)
	require.NoError(t, err)

	infos := log.all()
	require.Len(t, infos, 1)
	assert.Equal(t, []engine.DBI{dbi}, infos[0].Cleared)
	assert.Equal(t, []engine.DBI{other}, infos[0].Dropped)

	_, ok := get(t, eng, dbi, "k")
	assert.False(t, ok)
}

func TestSyncMarker(t *testing.T) {
	log := &commitLog{}
	w, _, dbi := newTestWriter(t, fastOptions(), Hooks{OnCommit: log.record})

	buf := newBuffer()
	require.NoError(t, buf.Put(dbi, []byte("k"), []byte("v"), 0))
	require.NoError(t, buf.Sync())
	require.NoError(t, buf.Put(dbi, []byte("k2"), []byte("v"), 0))
	results, err := w.Submit(context.Background(), buf)
	require.NoError(t, err)
	for _, r := range results {
		assert.Equal(t, instruction.StatusOK, r.Status)
	}
	assert.Equal(t, []int{2, 1}, log.sizes())
}

// --------------------------------------------------------------------------
// User Transactions
// --------------------------------------------------------------------------

func TestSubmitFunc(t *testing.T) {
	w, eng, dbi := newTestWriter(t, fastOptions(), Hooks{})

	err := w.SubmitFunc(context.Background(), func(tx *Tx) error {
		if _, err := tx.Put(dbi, []byte("k"), []byte("v"), 0); err != nil {
			return err
		}
		v, _, found, err := tx.Get(dbi, []byte("k"))
		if err != nil {
			return err
		}
		if !found || string(v) != "v" {
			return errors.New("own write not visible")
		}
		existed, err := tx.Delete(dbi, []byte("missing"))
		if err != nil {
			return err
		}
		if existed {
			return errors.New("missing key reported as deleted")
		}
		return nil
	})
	require.NoError(t, err)
	_, ok := get(t, eng, dbi, "k")
	assert.True(t, ok)
}

func TestSubmitFuncAbortsOnError(t *testing.T) {
	w, eng, dbi := newTestWriter(t, fastOptions(), Hooks{})
	boom := errors.New("boom")

	err := w.SubmitFunc(context.Background(), func(tx *Tx) error {
		if _, err := tx.Put(dbi, []byte("k"), []byte("v"), 0); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	_, ok := get(t, eng, dbi, "k")
	assert.False(t, ok)

	err = w.SubmitFunc(context.Background(), func(tx *Tx) error {
		panic("unexpected")
	})
	require.ErrorIs(t, err, ErrTxnPanic)
	assert.Equal(t, StateIdle, w.State())
}

func TestSubmitFuncSeesEarlierBatches(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxBatchWait = time.Hour
	w, _, dbi := newTestWriter(t, opts, Hooks{})

	buf := newBuffer()
	require.NoError(t, buf.Put(dbi, []byte("k"), []byte("v"), 0))
	p := w.SubmitAsync(buf)

	var seen bool
	err := w.SubmitFunc(context.Background(), func(tx *Tx) error {
		_, _, found, err := tx.Get(dbi, []byte("k"))
		seen = found
		return err
	})
	require.NoError(t, err)
	assert.True(t, seen)

	select {
	case <-p.Done():
	default:
		t.Fatal("earlier batch not committed before the user transaction")
	}
}

func TestTxUnusableAfterReturn(t *testing.T) {
	w, _, dbi := newTestWriter(t, fastOptions(), Hooks{})

	var leaked *Tx
	require.NoError(t, w.SubmitFunc(context.Background(), func(tx *Tx) error {
		leaked = tx
		return nil
	}))
	_, err := leaked.Put(dbi, []byte("k"), []byte("v"), 0)
	assert.True(t, engine.IsCode(err, engine.CodeTxnClosed), "got %v", err)
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

func TestCloseDrainsQueue(t *testing.T) {
	eng := memory.Open(flat.Options{})
	defer eng.Close()
	dbi := openDB(t, eng, "data")
	opts := DefaultOptions()
	opts.MaxBatchWait = time.Hour
	w := New(eng, opts, Hooks{})

	var pending []*Pending
	for i := 0; i < 20; i++ {
		buf := newBuffer()
		require.NoError(t, buf.Put(dbi, []byte(fmt.Sprintf("k%d", i)), []byte("v"), 0))
		pending = append(pending, w.SubmitAsync(buf))
	}
	require.NoError(t, w.Close())
	assert.True(t, w.Closed())

	for _, p := range pending {
		results, err := p.Wait(context.Background())
		require.NoError(t, err)
		require.Equal(t, instruction.StatusOK, results[0].Status)
	}

	buf := newBuffer()
	require.NoError(t, buf.Put(dbi, []byte("late"), []byte("v"), 0))
	_, err := w.Submit(context.Background(), buf)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, w.SubmitFunc(context.Background(), func(*Tx) error { return nil }), ErrClosed)

	// closing twice is fine
	require.NoError(t, w.Close())
}

func TestBackpressure(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxPending = 1
	opts.MaxBatchWait = time.Hour
	w, _, dbi := newTestWriter(t, opts, Hooks{})

	buf := newBuffer()
	require.NoError(t, buf.Put(dbi, []byte("a"), []byte("v"), 0))
	first := w.SubmitAsync(buf)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	buf = newBuffer()
	require.NoError(t, buf.Put(dbi, []byte("b"), []byte("v"), 0))
	_, err := w.Submit(ctx, buf)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer flushCancel()
	require.NoError(t, w.Flush(flushCtx))
	_, err = first.Wait(flushCtx)
	require.NoError(t, err)
}

func TestFlushHonoursContext(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxBatchWait = time.Hour
	w, _, dbi := newTestWriter(t, opts, Hooks{})

	// a user transaction that blocks keeps the writer busy
	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = w.SubmitFunc(context.Background(), func(tx *Tx) error {
			close(started)
			<-release
			_, err := tx.Put(dbi, []byte("k"), []byte("v"), 0)
			return err
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, w.Flush(ctx), context.DeadlineExceeded)

	close(release)
	require.NoError(t, w.Flush(context.Background()))
}

func TestMetrics(t *testing.T) {
	opts := fastOptions()
	opts.Name = "metrics-test"
	w, _, dbi := newTestWriter(t, opts, Hooks{})

	buf := newBuffer()
	require.NoError(t, buf.Put(dbi, []byte("k"), []byte("v"), 0))
	_, err := w.Submit(context.Background(), buf)
	require.NoError(t, err)

	var out bytes.Buffer
	w.WriteMetrics(&out)
	assert.Contains(t, out.String(), `txkv_writer_batches_total{writer="metrics-test"} 1`)
	assert.Contains(t, out.String(), `txkv_writer_instructions_total{writer="metrics-test"} 1`)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "Idle", StateIdle.String())
	assert.Equal(t, "AwaitingMoreWork", StateAwaitingMoreWork.String())
	assert.Equal(t, "FinishedWithError", StateFinishedWithError.String())
	assert.Equal(t, "Unknown", State(42).String())
}
