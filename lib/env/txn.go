package env

import (
	"github.com/ValentinKolb/txKV/lib/engine"
	"github.com/ValentinKolb/txKV/lib/writer"
)

// Txn is the write transaction handed to Environment.Update. It is only valid
// during the call.
type Txn struct {
	tx *writer.Tx
}

func (t *Txn) usable(db *Database, key []byte) error {
	if err := db.check(); err != nil {
		return err
	}
	return db.checkKey(key)
}

// Put stores key/value and returns the stamped version.
func (t *Txn) Put(db *Database, key, value []byte) (uint64, error) {
	if err := t.usable(db, key); err != nil {
		return 0, err
	}
	return t.tx.Put(db.st.dbi, key, value, 0)
}

// PutIfVersion stores key/value if the stored version equals expected. A
// mismatch returns writer.ErrConditionFailed and leaves the transaction usable.
func (t *Txn) PutIfVersion(db *Database, key, value []byte, expected uint64) (uint64, error) {
	if err := t.usable(db, key); err != nil {
		return 0, err
	}
	return t.tx.PutIfVersion(db.st.dbi, key, value, expected)
}

// Delete removes key and reports whether it existed.
func (t *Txn) Delete(db *Database, key []byte) (bool, error) {
	if err := t.usable(db, key); err != nil {
		return false, err
	}
	return t.tx.Delete(db.st.dbi, key)
}

// Get reads key including the uncommitted writes of this transaction.
func (t *Txn) Get(db *Database, key []byte) (Entry, bool, error) {
	if err := t.usable(db, key); err != nil {
		return Entry{}, false, err
	}
	value, version, found, err := t.tx.Get(db.st.dbi, key)
	if err != nil || !found {
		return Entry{}, found, err
	}
	return Entry{Value: value, Version: version}, true, nil
}

// Drop empties db, or deletes it with del.
func (t *Txn) Drop(db *Database, del bool) error {
	if err := db.check(); err != nil {
		return err
	}
	return t.tx.Drop(db.st.dbi, del)
}

// Engine returns the underlying engine transaction.
func (t *Txn) Engine() engine.Txn {
	return t.tx.Txn()
}
