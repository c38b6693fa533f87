package env

import (
	"github.com/ValentinKolb/txKV/lib/instruction"
)

// Batch collects writes to one database for Database.Write. Results are
// reported per instruction, in the order they were added.
//
// Thread-safety: a Batch is filled by one goroutine and must not be changed
// after it was written.
type Batch struct {
	db  *Database
	buf *instruction.Buffer
}

// NewBatch returns an empty batch for d.
func (d *Database) NewBatch() *Batch {
	return &Batch{db: d, buf: instruction.NewBuffer(instruction.DefaultOptions())}
}

func (b *Batch) add(ins instruction.Instruction) error {
	if err := b.db.checkKey(ins.Key); err != nil {
		return err
	}
	ins.DBI = b.db.st.dbi
	return b.buf.Add(ins)
}

// Put adds a put of key/value.
func (b *Batch) Put(key, value []byte) error {
	return b.add(instruction.Instruction{Op: instruction.OpPut, Key: key, Value: value})
}

// PutWithFlags adds a put with engine flags (FlagAppend, FlagNoOverwrite,
// FlagNoDupData).
func (b *Batch) PutWithFlags(key, value []byte, flags instruction.Flags) error {
	return b.add(instruction.Instruction{Op: instruction.OpPut, Key: key, Value: value, Flags: flags})
}

// PutWithVersion adds a put that stores an explicit version.
func (b *Batch) PutWithVersion(key, value []byte, version uint64) error {
	return b.add(instruction.Instruction{
		Op: instruction.OpPut, Key: key, Value: value,
		Flags: instruction.FlagVersion, Version: version,
	})
}

// PutIfVersion adds a put that only applies when the stored version equals
// expected. An expected version of 0 matches a missing key.
func (b *Batch) PutIfVersion(key, value []byte, expected uint64) error {
	return b.add(instruction.Instruction{
		Op: instruction.OpPut, Key: key, Value: value,
		Flags: instruction.FlagIfVersion, IfVersion: expected,
	})
}

// Delete adds a delete of key, with all its duplicates.
func (b *Batch) Delete(key []byte) error {
	return b.add(instruction.Instruction{Op: instruction.OpDelete, Key: key})
}

// DeleteValue adds a delete of one duplicate of key.
func (b *Batch) DeleteValue(key, value []byte) error {
	return b.add(instruction.Instruction{
		Op: instruction.OpDelete, Key: key, Value: value, Flags: instruction.FlagValue,
	})
}

// DeleteIfVersion adds a delete that only applies when the stored version
// equals expected.
func (b *Batch) DeleteIfVersion(key []byte, expected uint64) error {
	return b.add(instruction.Instruction{
		Op: instruction.OpDelete, Key: key,
		Flags: instruction.FlagIfVersion, IfVersion: expected,
	})
}

// Sync adds a marker that commits everything before it and flushes the
// engine to disk before the batch is reported as committed.
func (b *Batch) Sync() error {
	return b.buf.Sync()
}

// AllowCommit lets the writer commit the batch without waiting for more work.
func (b *Batch) AllowCommit() error {
	return b.buf.AllowCommit()
}

// Len returns the number of instructions in the batch.
func (b *Batch) Len() int {
	return b.buf.Len()
}
