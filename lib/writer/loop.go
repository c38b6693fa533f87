package writer

import (
	"time"

	"github.com/ValentinKolb/txKV/lib/engine"
	"github.com/ValentinKolb/txKV/lib/instruction"
)

// ref names one applied instruction
type ref struct {
	sub   *submission
	index int
}

// batch is the state of one write transaction
type batch struct {
	txn         engine.Txn
	applied     []ref
	subs        []*submission
	count       int
	dropped     []engine.DBI
	cleared     []engine.DBI
	allowCommit bool
	syncs       []ref
	// broken is the fatal error hit by a user transaction
	broken      error
}

func (b *batch) track(sub *submission) {
	if sub.batch == b {
		return
	}
	sub.batch = b
	b.subs = append(b.subs, sub)
}

// outcome tells the batch loop why apply returned
type outcome int

const (
	outExhausted outcome = iota // submission fully read
	outInterrupt                // commit now, continue the submission later
	outFull                     // MaxBatchSize reached
	outSync                     // sync marker: commit and flush
	outFatal                    // batch aborted, everything completed
)

// --------------------------------------------------------------------------
// Main Loop
// --------------------------------------------------------------------------

func (w *Writer) run() {
	defer close(w.done)
	defer w.worker.Close()

	for {
		sub := w.carry
		w.carry = nil
		if sub == nil {
			var ok bool
			if sub, ok = <-w.queue.Recv(); !ok {
				return
			}
		}
		if sub.fn != nil {
			w.runFunc(sub)
			continue
		}
		w.process(sub)
	}
}

// process runs one batch starting with sub. Work that does not fit the batch
// is left in w.carry.
func (w *Writer) process(sub *submission) {
	txn, err := w.eng.Begin(true)
	if err != nil {
		Logger.Errorf("failed to begin write transaction: %v", err)
		b := &batch{}
		b.track(sub)
		w.abandon(b, sub, err)
		w.setState(StateIdle)
		return
	}
	b := &batch{txn: txn}
	w.setState(StateBatchInProgress)

	for {
		b.track(sub)
		switch w.apply(b, sub) {
		case outExhausted:
			next, ok := w.more(b)
			if !ok {
				w.commit(b)
				return
			}
			if next.fn != nil {
				w.commit(b)
				w.carry = next
				return
			}
			sub = next
		case outInterrupt, outFull, outSync:
			w.commit(b)
			if !sub.exhausted {
				w.carry = sub
			}
			return
		case outFatal:
			w.setState(StateIdle)
			return
		}
	}
}

// more returns the next queued submission for the open batch, waiting at most
// MaxBatchWait. It returns false when the batch should commit.
func (w *Writer) more(b *batch) (*submission, bool) {
	select {
	case sub, ok := <-w.queue.Recv():
		return sub, ok
	default:
	}
	if b.allowCommit || w.allow.Swap(false) || w.opts.MaxBatchWait <= 0 {
		return nil, false
	}

	w.setState(StateAwaitingMoreWork)
	timer := time.NewTimer(w.opts.MaxBatchWait)
	defer timer.Stop()
	for {
		select {
		case sub, ok := <-w.queue.Recv():
			if ok {
				w.setState(StateBatchInProgress)
			}
			return sub, ok
		case <-timer.C:
			return nil, false
		case <-w.wake:
			if w.allow.Swap(false) || w.interrupted.Swap(false) {
				return nil, false
			}
		}
	}
}

// apply reads and applies the instructions of sub until the submission is
// exhausted or the batch has to end
func (w *Writer) apply(b *batch, sub *submission) outcome {
	for {
		if len(b.applied) > 0 && w.interrupted.Swap(false) {
			w.metrics.interrupts.Inc()
			return outInterrupt
		}
		if b.count >= w.opts.MaxBatchSize {
			return outFull
		}

		entry, ok, err := sub.reader.Next()
		if err != nil {
			sub.exhausted = true
			sub.err = err
			Logger.Warningf("malformed instruction buffer: %v", err)
			w.abandon(b, sub, err)
			return outFatal
		}
		if !ok {
			sub.exhausted = true
			return outExhausted
		}

		if entry.Kind == instruction.KindSignal {
			switch entry.Signal {
			case instruction.SignalInterrupt:
				if len(b.applied) > 0 {
					w.metrics.interrupts.Inc()
					return outInterrupt
				}
			case instruction.SignalAllowCommit:
				b.allowCommit = true
			case instruction.SignalRestart:
				if err := w.restart(b); err != nil {
					Logger.Errorf("failed to restart write transaction: %v", err)
					w.abandon(b, sub, err)
					return outFatal
				}
			}
			continue
		}

		b.count++
		at := ref{sub: sub, index: entry.Index}
		res := sub.result(entry.Index)
		if entry.Instruction.Op == instruction.OpSync {
			res.Status = instruction.StatusOK
			b.applied = append(b.applied, at)
			b.syncs = append(b.syncs, at)
			return outSync
		}

		if err := w.applyOne(b, entry.Instruction, res); err != nil && fatal(err) {
			Logger.Errorf("aborting batch after %s: %v", entry.Instruction, err)
			w.abandon(b, sub, err)
			return outFatal
		}
		if res.Status != instruction.StatusFailed {
			b.applied = append(b.applied, at)
		}
	}
}

// restart aborts the open transaction and begins a fresh one. Instructions
// applied so far are reported as discarded.
func (w *Writer) restart(b *batch) error {
	w.setState(StateInterrupted)
	w.metrics.restarts.Inc()
	b.txn.Abort()
	b.txn = nil

	for _, r := range b.applied {
		r.sub.fail(r.index, ErrBatchRestarted)
	}
	b.applied, b.syncs = nil, nil
	b.dropped, b.cleared = nil, nil
	b.count = 0

	kept := b.subs[:0]
	for _, s := range b.subs {
		if s.exhausted {
			w.finish(s)
			continue
		}
		kept = append(kept, s)
	}
	b.subs = kept

	txn, err := w.eng.Begin(true)
	if err != nil {
		return err
	}
	b.txn = txn
	w.setState(StateBatchInProgress)
	return nil
}

// abandon aborts the batch after an error that left the transaction (or the
// stream of sub) unusable. Every instruction of the batch that is not final yet
// fails with cause.
func (w *Writer) abandon(b *batch, sub *submission, cause error) {
	w.setState(StateFinishedWithError)
	w.metrics.aborts.Inc()
	if b.txn != nil {
		b.txn.Abort()
	}

	for _, r := range b.applied {
		r.sub.fail(r.index, cause)
	}
	w.drain(sub, cause)
	for _, s := range b.subs {
		w.finish(s)
	}
}

// drain fails the unread remainder of sub
func (w *Writer) drain(sub *submission, cause error) {
	for {
		entry, ok, err := sub.reader.Next()
		if err != nil {
			if sub.err == nil {
				sub.err = err
			}
			break
		}
		if !ok {
			break
		}
		if entry.Kind == instruction.KindInstruction {
			sub.fail(entry.Index, cause)
		}
	}
	sub.exhausted = true
}

// --------------------------------------------------------------------------
// Committing
// --------------------------------------------------------------------------

func (w *Writer) commit(b *batch) {
	w.interrupted.Store(false)
	w.allow.Store(false)

	if len(b.applied) == 0 {
		b.txn.Abort()
		w.complete(b)
		w.setState(StateIdle)
		return
	}

	if err := w.commitTxn(b); err != nil {
		Logger.Errorf("commit of %d instructions failed: %v", len(b.applied), err)
		for _, r := range b.applied {
			r.sub.fail(r.index, err)
		}
	}
	w.complete(b)
	w.setState(StateIdle)
}

// commitTxn commits the transaction of b, flushes the engine for sync markers
// and reports the commit to the hooks
func (w *Writer) commitTxn(b *batch) error {
	w.setState(StateCommitting)
	if w.hooks.BeforeCommit != nil {
		w.hooks.BeforeCommit()
	}

	id := b.txn.ID()
	start := time.Now()
	if err := b.txn.Commit(); err != nil {
		w.setState(StateFinishedWithError)
		w.metrics.commitErrors.Inc()
		b.txn.Abort()
		return err
	}
	w.metrics.commitTime.UpdateDuration(start)
	w.metrics.batches.Inc()
	w.metrics.instructions.Add(b.count)

	if len(b.syncs) > 0 {
		if err := w.eng.Sync(); err != nil {
			Logger.Errorf("sync after commit %d failed: %v", id, err)
			for _, r := range b.syncs {
				r.sub.fail(r.index, err)
			}
		}
	}

	if w.hooks.OnCommit != nil {
		w.hooks.OnCommit(CommitInfo{
			TxnID:        id,
			Instructions: b.count,
			Dropped:      b.dropped,
			Cleared:      b.cleared,
		})
	}
	return nil
}

// complete finishes every submission of b that has been read to its end
func (w *Writer) complete(b *batch) {
	for _, s := range b.subs {
		if s.exhausted {
			w.finish(s)
		}
	}
	b.subs = nil
}

// fatal reports whether err leaves the write transaction unusable
func fatal(err error) bool {
	return engine.CodeOf(err).Fatal()
}
