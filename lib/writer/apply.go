package writer

import (
	"fmt"

	"github.com/ValentinKolb/txKV/lib/codec"
	"github.com/ValentinKolb/txKV/lib/engine"
	"github.com/ValentinKolb/txKV/lib/instruction"
)

// --------------------------------------------------------------------------
// Applying Instructions
// --------------------------------------------------------------------------

// applyOne applies ins to the transaction of b and records the outcome in res.
// The returned error is also stored in res; fatal(err) tells whether the
// transaction survived it.
func (w *Writer) applyOne(b *batch, ins instruction.Instruction, res *instruction.Result) error {
	var err error
	switch ins.Op {
	case instruction.OpPut:
		err = w.put(b, ins, res)
	case instruction.OpDelete:
		err = w.delete(b, ins, res)
	case instruction.OpDrop:
		err = w.drop(b, ins)
	default:
		err = fmt.Errorf("%w: %s", instruction.ErrUnknownOp, ins.Op)
	}
	if err != nil {
		res.Status, res.Err = instruction.StatusFailed, err
		return err
	}
	if res.Status == instruction.StatusPending {
		res.Status = instruction.StatusOK
	}
	return nil
}

func (w *Writer) put(b *batch, ins instruction.Instruction, res *instruction.Result) error {
	cfg := w.resolve(ins.DBI)
	if ins.Has(instruction.FlagIfVersion) {
		ok, err := w.condition(b, ins, cfg)
		if err != nil {
			return err
		}
		if !ok {
			res.Status = instruction.StatusConditionFailed
			return nil
		}
	}

	value := ins.Value
	if cfg.Codec != nil {
		var err error
		if value, err = cfg.Codec.Compress(w.worker, value); err != nil {
			return fmt.Errorf("compress value: %w", err)
		}
	}
	if cfg.Versions {
		version := w.nextVersion(ins)
		value = codec.WrapVersion(version, value)
		res.Version = version
	}
	w.metrics.values.AddSample(len(ins.Value))

	if err := b.txn.Put(ins.DBI, ins.Key, value, putFlags(ins.Flags)); err != nil {
		return txnErr("put", err)
	}
	return nil
}

func (w *Writer) delete(b *batch, ins instruction.Instruction, res *instruction.Result) error {
	if ins.Has(instruction.FlagIfVersion) {
		ok, err := w.condition(b, ins, w.resolve(ins.DBI))
		if err != nil {
			return err
		}
		if !ok {
			res.Status = instruction.StatusConditionFailed
			return nil
		}
	}

	var dup []byte
	if ins.Has(instruction.FlagValue) {
		dup = ins.Value
	}
	err := b.txn.Delete(ins.DBI, ins.Key, dup)
	if engine.IsNotFound(err) {
		res.Status = instruction.StatusNotFound
		return nil
	}
	if err != nil {
		return txnErr("delete", err)
	}
	return nil
}

func (w *Writer) drop(b *batch, ins instruction.Instruction) error {
	del := !ins.Has(instruction.FlagJustFreePages)
	if err := b.txn.Drop(ins.DBI, del); err != nil {
		return txnErr("drop", err)
	}
	if del {
		b.dropped = append(b.dropped, ins.DBI)
	} else {
		b.cleared = append(b.cleared, ins.DBI)
	}
	return nil
}

// condition compares the stored version of ins.Key with ins.IfVersion. A
// missing key has version 0.
func (w *Writer) condition(b *batch, ins instruction.Instruction, cfg DBConfig) (bool, error) {
	if !cfg.Versions {
		return false, ErrNoVersions
	}
	stored, err := b.txn.Get(ins.DBI, ins.Key)
	if engine.IsNotFound(err) {
		return ins.IfVersion == 0, nil
	}
	if err != nil {
		return false, txnErr("get", err)
	}
	version, _, err := codec.SplitVersion(stored)
	if err != nil {
		return false, err
	}
	return version == ins.IfVersion, nil
}

// nextVersion returns the version to stamp on a put. Assigned versions are
// strictly increasing and never below an explicit version seen before.
func (w *Writer) nextVersion(ins instruction.Instruction) uint64 {
	if ins.Has(instruction.FlagVersion) {
		if ins.Version > w.version {
			w.version = ins.Version
		}
		return ins.Version
	}
	w.version++
	return w.version
}

func (w *Writer) resolve(dbi engine.DBI) DBConfig {
	if w.hooks.Resolve == nil {
		return DBConfig{}
	}
	return w.hooks.Resolve(dbi)
}

func putFlags(f instruction.Flags) engine.PutFlags {
	var out engine.PutFlags
	if f&instruction.FlagNoOverwrite != 0 {
		out |= engine.PutNoOverwrite
	}
	if f&instruction.FlagNoDupData != 0 {
		out |= engine.PutNoDupData
	}
	if f&instruction.FlagAppend != 0 {
		out |= engine.PutAppend
	}
	return out
}

// txnErr makes sure every error returned by the transaction carries a code.
// Errors the adapter did not classify leave the transaction in an unknown
// state and are treated as fatal.
func txnErr(op string, err error) error {
	if engine.CodeOf(err) == 0 {
		return engine.WrapError(engine.CodeBadTxn, op, err)
	}
	return err
}
