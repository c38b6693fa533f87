package writer

import (
	"errors"
	"fmt"

	"github.com/ValentinKolb/txKV/lib/codec"
	"github.com/ValentinKolb/txKV/lib/engine"
	"github.com/ValentinKolb/txKV/lib/instruction"
)

// ErrConditionFailed is returned by Tx writes whose version condition did not hold.
var ErrConditionFailed = errors.New("writer: version condition failed")

// Tx is the write transaction handed to a function submitted with SubmitFunc.
// Writes go through the same path as buffered instructions, so values are
// compressed and versioned according to their database.
//
// Thread-safety: a Tx must only be used by the function it was passed to and
// not after that function returned. Byte slices passed to Put must not be
// modified until the submission finished.
type Tx struct {
	w    *Writer
	b    *batch
	done bool
}

func (tx *Tx) check(op string) error {
	if tx.done {
		return engine.NewError(engine.CodeTxnClosed, op, "user transaction finished")
	}
	return tx.b.broken
}

func (tx *Tx) exec(ins instruction.Instruction) (instruction.Result, error) {
	if err := tx.check(ins.Op.String()); err != nil {
		return instruction.Result{}, err
	}
	var res instruction.Result
	err := tx.w.applyOne(tx.b, ins, &res)
	tx.b.count++
	if err != nil && fatal(err) {
		tx.b.broken = err
	}
	return res, err
}

// Put stores key/value. It returns the version stamped on the value (0 for
// databases without versions).
func (tx *Tx) Put(dbi engine.DBI, key, value []byte, flags instruction.Flags) (uint64, error) {
	return tx.put(instruction.Instruction{Op: instruction.OpPut, DBI: dbi, Key: key, Value: value, Flags: flags})
}

// PutIfVersion stores key/value only if the stored version equals expected
// (0 for a missing key).
func (tx *Tx) PutIfVersion(dbi engine.DBI, key, value []byte, expected uint64) (uint64, error) {
	return tx.put(instruction.Instruction{
		Op: instruction.OpPut, DBI: dbi, Key: key, Value: value,
		Flags: instruction.FlagIfVersion, IfVersion: expected,
	})
}

func (tx *Tx) put(ins instruction.Instruction) (uint64, error) {
	res, err := tx.exec(ins)
	if err != nil {
		return 0, err
	}
	if res.Status == instruction.StatusConditionFailed {
		return 0, ErrConditionFailed
	}
	return res.Version, nil
}

// Delete removes key. It reports whether the key existed.
func (tx *Tx) Delete(dbi engine.DBI, key []byte) (bool, error) {
	res, err := tx.exec(instruction.Instruction{Op: instruction.OpDelete, DBI: dbi, Key: key})
	if err != nil {
		return false, err
	}
	return res.Status != instruction.StatusNotFound, nil
}

// Drop empties the database; with del it is deleted as well.
func (tx *Tx) Drop(dbi engine.DBI, del bool) error {
	ins := instruction.Instruction{Op: instruction.OpDrop, DBI: dbi}
	if !del {
		ins.Flags = instruction.FlagJustFreePages
	}
	_, err := tx.exec(ins)
	return err
}

// Get returns the decoded value and version stored for key, observing the
// writes of this transaction.
func (tx *Tx) Get(dbi engine.DBI, key []byte) (value []byte, version uint64, found bool, err error) {
	if err := tx.check("get"); err != nil {
		return nil, 0, false, err
	}
	stored, err := tx.b.txn.Get(dbi, key)
	if engine.IsNotFound(err) {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, err
	}

	cfg := tx.w.resolve(dbi)
	if cfg.Versions {
		if version, stored, err = codec.SplitVersion(stored); err != nil {
			return nil, 0, false, err
		}
	}
	if cfg.Codec != nil {
		if stored, _, err = cfg.Codec.Decompress(tx.w.worker, stored, true); err != nil {
			return nil, 0, false, err
		}
	}
	return stored, version, true, nil
}

// Txn exposes the underlying engine transaction, e.g. to open databases.
func (tx *Tx) Txn() engine.Txn {
	return tx.b.txn
}

// --------------------------------------------------------------------------
// Running User Transactions
// --------------------------------------------------------------------------

func (w *Writer) runFunc(sub *submission) {
	defer w.setState(StateIdle)
	defer w.finish(sub)

	txn, err := w.eng.Begin(true)
	if err != nil {
		sub.err = err
		return
	}
	w.setState(StateBatchInProgress)
	b := &batch{txn: txn}
	tx := &Tx{w: w, b: b}

	err = call(sub.fn, tx)
	tx.done = true
	if err == nil && b.broken != nil {
		err = b.broken
	}
	if err != nil {
		w.setState(StateFinishedWithError)
		w.metrics.aborts.Inc()
		txn.Abort()
		sub.err = err
		return
	}
	sub.err = w.commitTxn(b)
}

func call(fn func(*Tx) error, tx *Tx) (err error) {
	defer func() {
		if r := recover(); r != nil {
			Logger.Errorf("user transaction panicked: %v", r)
			err = fmt.Errorf("%w: %v", ErrTxnPanic, r)
		}
	}()
	return fn(tx)
}
