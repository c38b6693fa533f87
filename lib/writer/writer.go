package writer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lni/dragonboat/v4/logger"
	"golang.org/x/sync/semaphore"

	"github.com/ValentinKolb/txKV/lib/codec"
	"github.com/ValentinKolb/txKV/lib/engine"
	"github.com/ValentinKolb/txKV/lib/instruction"
	"github.com/ValentinKolb/txKV/lib/util"
)

var Logger = logger.GetLogger("writer")

// --------------------------------------------------------------------------
// Submissions
// --------------------------------------------------------------------------

// submission is one unit of queued work: an instruction buffer or a user
// transaction.
type submission struct {
	buf     *instruction.Buffer
	reader  *instruction.Reader
	fn      func(*Tx) error
	pending *Pending

	results   []instruction.Result
	err       error
	exhausted bool
	finished  bool
	batch     *batch
}

// result returns the result slot of instruction i, growing the table for
// buffers of unknown length
func (s *submission) result(i int) *instruction.Result {
	for len(s.results) <= i {
		s.results = append(s.results, instruction.Result{})
	}
	return &s.results[i]
}

func (s *submission) fail(i int, err error) {
	r := s.result(i)
	r.Status, r.Err, r.Version = instruction.StatusFailed, err, 0
}

// --------------------------------------------------------------------------
// Writer
// --------------------------------------------------------------------------

// Writer owns the single write transaction of an engine. Submissions are queued
// from any goroutine; one background goroutine applies them in batches and
// decides when to commit.
//
// Thread-safety: all exported methods may be called concurrently. The write
// transaction is only ever touched by the writer goroutine.
type Writer struct {
	eng   engine.Engine
	opts  Options
	hooks Hooks

	queue *util.Queue[submission]
	sem   *semaphore.Weighted
	wake  chan struct{}
	carry *submission

	interrupted atomic.Bool
	allow       atomic.Bool

	// submitMu orders pushes before the queue is closed
	submitMu sync.RWMutex

	mu       sync.Mutex
	cond     *sync.Cond
	state    State
	inflight int
	closed   bool

	done    chan struct{}
	worker  *codec.Worker
	version uint64
	metrics *writerMetrics
}

// New starts a writer for eng.
func New(eng engine.Engine, opts Options, hooks Hooks) *Writer {
	def := DefaultOptions()
	if opts.Name == "" {
		opts.Name = def.Name
	}
	if opts.MaxBatchSize <= 0 {
		opts.MaxBatchSize = def.MaxBatchSize
	}
	if opts.MaxPending <= 0 {
		opts.MaxPending = def.MaxPending
	}
	if opts.MaxBatchWait < 0 {
		opts.MaxBatchWait = 0
	}

	w := &Writer{
		eng:     eng,
		opts:    opts,
		hooks:   hooks,
		queue:   util.NewQueue[submission](),
		sem:     semaphore.NewWeighted(int64(opts.MaxPending)),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		worker:  codec.NewWorker(),
		version: uint64(time.Now().UnixNano()),
	}
	w.cond = sync.NewCond(&w.mu)
	w.metrics = newWriterMetrics(opts.Name, w.queue.Len)

	go w.run()
	return w
}

// Options returns the effective configuration.
func (w *Writer) Options() Options {
	return w.opts
}

// State returns the current lifecycle state.
func (w *Writer) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Writer) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.cond.Broadcast()
	w.mu.Unlock()
}

func (w *Writer) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// batchOpen reports whether a batch currently holds the write transaction
func (w *Writer) batchOpen() bool {
	switch w.State() {
	case StateBatchInProgress, StateAwaitingMoreWork:
		return true
	default:
		return false
	}
}

// --------------------------------------------------------------------------
// Submitting
// --------------------------------------------------------------------------

// Submit queues buf and waits until all its instructions are committed or
// failed. It returns one result per instruction. A non-nil error means the
// buffer was not (completely) processed: ErrClosed, a protocol error or the
// context error.
func (w *Writer) Submit(ctx context.Context, buf *instruction.Buffer) ([]instruction.Result, error) {
	p := w.submit(ctx, buf)
	return p.Wait(ctx)
}

// SubmitAsync queues buf and returns immediately with a completion handle. It
// only blocks while MaxPending submissions are unfinished.
func (w *Writer) SubmitAsync(buf *instruction.Buffer) *Pending {
	return w.submit(context.Background(), buf)
}

// SubmitFunc runs fn inside a write transaction of its own on the writer
// goroutine. The transaction commits if fn returns nil and aborts otherwise.
func (w *Writer) SubmitFunc(ctx context.Context, fn func(*Tx) error) error {
	sub := &submission{fn: fn, pending: newPending()}
	if err := w.enqueue(ctx, sub); err != nil {
		return err
	}
	_, err := sub.pending.Wait(ctx)
	return err
}

func (w *Writer) submit(ctx context.Context, buf *instruction.Buffer) *Pending {
	buf.Seal()
	sub := &submission{buf: buf, reader: instruction.NewReader(buf), pending: newPending()}
	if n := buf.Len(); n > 0 {
		sub.results = make([]instruction.Result, n)
	}
	if err := w.enqueue(ctx, sub); err != nil {
		sub.pending.err = err
		close(sub.pending.done)
	}
	return sub.pending
}

func (w *Writer) enqueue(ctx context.Context, sub *submission) error {
	if err := w.sem.Acquire(ctx, 1); err != nil {
		return err
	}

	w.submitMu.RLock()
	defer w.submitMu.RUnlock()

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		w.sem.Release(1)
		return ErrClosed
	}
	w.inflight++
	w.mu.Unlock()

	w.queue.Push(sub)
	return nil
}

// finish publishes the results of a submission and wakes its caller
func (w *Writer) finish(sub *submission) {
	if sub.finished {
		return
	}
	sub.finished = true
	sub.pending.results = sub.results
	sub.pending.err = sub.err
	close(sub.pending.done)
	w.sem.Release(1)

	w.mu.Lock()
	w.inflight--
	w.cond.Broadcast()
	w.mu.Unlock()
}

// --------------------------------------------------------------------------
// Signals
// --------------------------------------------------------------------------

// Interrupt asks the writer to commit the open batch after the instruction it
// is applying. Unapplied instructions continue in the next batch. Without an
// open batch Interrupt does nothing.
func (w *Writer) Interrupt() {
	if !w.batchOpen() {
		return
	}
	w.interrupted.Store(true)
	w.signal()
}

// AllowCommit lets a batch waiting for more work commit right away.
func (w *Writer) AllowCommit() {
	if !w.batchOpen() {
		return
	}
	w.allow.Store(true)
	w.signal()
}

// Flush waits until every submission queued so far is finished. Batches waiting
// for more work are told to commit.
func (w *Writer) Flush(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		w.mu.Lock()
		w.cond.Broadcast()
		w.mu.Unlock()
	})
	defer stop()

	w.mu.Lock()
	defer w.mu.Unlock()
	for w.inflight > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		if w.state == StateAwaitingMoreWork {
			w.allow.Store(true)
			w.signal()
		}
		w.cond.Wait()
	}
	return nil
}

// Close stops accepting submissions, applies everything already queued and
// stops the writer goroutine.
func (w *Writer) Close() error {
	w.submitMu.Lock()
	w.mu.Lock()
	already := w.closed
	w.closed = true
	w.mu.Unlock()
	w.submitMu.Unlock()

	if !already {
		w.queue.Close()
	}
	<-w.done
	return nil
}

// Closed reports whether Close was called.
func (w *Writer) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}
