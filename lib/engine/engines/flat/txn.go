package flat

import (
	"bytes"
	"encoding/binary"

	"github.com/ValentinKolb/txKV/lib/engine"
)

// txn implements engine.Txn. Writable transactions wrap a Batch, read-only ones
// a Snapshot.
type txn struct {
	db    *DB
	r     Reader
	batch Batch
	snap  Snapshot
	id    uint64
	done  bool
	reset bool

	broken  error
	created map[engine.DBI]dbInfo
	dropped map[engine.DBI]struct{}
}

func (t *txn) check(op string) error {
	switch {
	case t.done:
		return engine.NewError(engine.CodeTxnClosed, op, "transaction already finished")
	case t.reset:
		return engine.NewError(engine.CodeBadTxn, op, "transaction is reset")
	case t.broken != nil:
		return engine.WrapError(engine.CodeBadTxn, op, t.broken)
	}
	return nil
}

func (t *txn) checkWrite(op string) error {
	if err := t.check(op); err != nil {
		return err
	}
	if t.batch == nil {
		return engine.NewError(engine.CodeReadOnly, op, "read-only transaction")
	}
	return nil
}

// backendErr wraps a store failure; the batch is no longer trusted afterwards
func (t *txn) backendErr(op string, err error) error {
	e := engine.WrapError(engine.CodeBadTxn, op, err)
	if t.broken == nil {
		t.broken = e
	}
	return e
}

func (t *txn) info(op string, dbi engine.DBI) (dbInfo, error) {
	if _, ok := t.dropped[dbi]; ok {
		return dbInfo{}, engine.NewError(engine.CodeBadDBI, op, "database was dropped")
	}
	if info, ok := t.created[dbi]; ok {
		return info, nil
	}
	info, ok := t.db.lookup(dbi)
	if !ok {
		return dbInfo{}, engine.NewError(engine.CodeBadDBI, op, "unknown database")
	}
	return info, nil
}

func (t *txn) prepare(op string, dbi engine.DBI, key []byte, write bool) (dbInfo, error) {
	check := t.check
	if write {
		check = t.checkWrite
	}
	if err := check(op); err != nil {
		return dbInfo{}, err
	}
	info, err := t.info(op, dbi)
	if err != nil {
		return dbInfo{}, err
	}
	if key != nil || write {
		if err := engine.CheckKey(op, key, info.flags, t.db.opts.MaxKeySize); err != nil {
			return dbInfo{}, err
		}
	}
	return info, nil
}

// exists reports whether a store key exists
func (t *txn) exists(op string, key []byte) (bool, error) {
	_, ok, err := t.r.Get(key)
	if err != nil {
		return false, t.backendErr(op, err)
	}
	return ok, nil
}

// firstIn returns the first key in [lower, upper)
func (t *txn) firstIn(op string, lower, upper []byte) ([]byte, error) {
	it, err := t.r.NewIterator(lower, upper)
	if err != nil {
		return nil, t.backendErr(op, err)
	}
	defer it.Close()
	if !it.First() {
		return nil, it.Error()
	}
	return bytes.Clone(it.Key()), nil
}

// keysIn collects every key in [lower, upper)
func (t *txn) keysIn(op string, lower, upper []byte) ([][]byte, error) {
	it, err := t.r.NewIterator(lower, upper)
	if err != nil {
		return nil, t.backendErr(op, err)
	}
	defer it.Close()

	var keys [][]byte
	for ok := it.First(); ok; ok = it.Next() {
		keys = append(keys, bytes.Clone(it.Key()))
	}
	if err := it.Error(); err != nil {
		return nil, t.backendErr(op, err)
	}
	return keys, nil
}

// --------------------------------------------------------------------------
// engine.Txn
// --------------------------------------------------------------------------

func (t *txn) ID() uint64 {
	return t.id
}

func (t *txn) Writable() bool {
	return t.batch != nil
}

func (t *txn) OpenDB(name string, flags engine.DBFlags) (engine.DBI, error) {
	const op = "open db"
	if err := t.check(op); err != nil {
		return 0, err
	}
	requested := flags &^ engine.DBCreate

	raw, ok, err := t.r.Get(catalogKey(name))
	if err != nil {
		return 0, t.backendErr(op, err)
	}
	if ok {
		dbi, stored, valid := decodeCatalog(raw)
		if !valid {
			return 0, engine.NewError(engine.CodeCorrupted, op, "invalid catalog entry for "+name)
		}
		if requested != 0 && requested != stored {
			return 0, engine.NewError(engine.CodeIncompatible, op, "database "+name+" was created with different flags")
		}
		if _, pending := t.created[dbi]; !pending {
			t.db.register(dbi, dbInfo{name: name, flags: stored})
		}
		return dbi, nil
	}

	if flags&engine.DBCreate == 0 {
		return 0, engine.NewError(engine.CodeNotFound, op, "database "+name+" does not exist")
	}
	if t.batch == nil {
		return 0, engine.NewError(engine.CodeReadOnly, op, "cannot create database in read-only transaction")
	}

	next := engine.DBI(1)
	seq, ok, err := t.r.Get(seqKey)
	if err != nil {
		return 0, t.backendErr(op, err)
	}
	if ok && len(seq) == 4 {
		next = engine.DBI(binary.BigEndian.Uint32(seq))
	}
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(next+1))
	if err := t.batch.Set(seqKey, buf[:]); err != nil {
		return 0, t.backendErr(op, err)
	}
	if err := t.batch.Set(catalogKey(name), encodeCatalog(next, requested)); err != nil {
		return 0, t.backendErr(op, err)
	}

	if t.created == nil {
		t.created = make(map[engine.DBI]dbInfo)
	}
	t.created[next] = dbInfo{name: name, flags: requested}
	return next, nil
}

func (t *txn) Flags(dbi engine.DBI) (engine.DBFlags, error) {
	if err := t.check("flags"); err != nil {
		return 0, err
	}
	info, err := t.info("flags", dbi)
	if err != nil {
		return 0, err
	}
	return info.flags, nil
}

func (t *txn) Get(dbi engine.DBI, key []byte) ([]byte, error) {
	const op = "get"
	info, err := t.prepare(op, dbi, key, false)
	if err != nil {
		return nil, err
	}

	if info.flags&engine.DBDupSort != 0 {
		prefix := dupPrefix(dbi, key)
		first, err := t.firstIn(op, prefix, prefixEnd(prefix))
		if err != nil {
			return nil, err
		}
		if first == nil {
			return nil, engine.NewError(engine.CodeNotFound, op, "key not found")
		}
		return first[len(prefix):], nil
	}

	v, ok, err := t.r.Get(plainKey(dbi, key))
	if err != nil {
		return nil, t.backendErr(op, err)
	}
	if !ok {
		return nil, engine.NewError(engine.CodeNotFound, op, "key not found")
	}
	if v == nil {
		v = []byte{}
	}
	return v, nil
}

func (t *txn) Put(dbi engine.DBI, key, value []byte, flags engine.PutFlags) error {
	const op = "put"
	info, err := t.prepare(op, dbi, key, true)
	if err != nil {
		return err
	}

	if info.flags&engine.DBDupSort != 0 {
		return t.putDup(op, dbi, key, value, flags)
	}

	k := plainKey(dbi, key)
	if flags&engine.PutNoOverwrite != 0 {
		found, err := t.exists(op, k)
		if err != nil {
			return err
		}
		if found {
			return engine.NewError(engine.CodeKeyExist, op, "key exists")
		}
	}
	if flags&engine.PutAppend != 0 {
		lower, upper := dbBounds(dbi)
		last, err := t.lastIn(op, lower, upper)
		if err != nil {
			return err
		}
		if last != nil && bytes.Compare(k, last) <= 0 {
			return engine.NewError(engine.CodeKeyExist, op, "append key is not greater than the last key")
		}
	}
	if err := t.batch.Set(k, value); err != nil {
		return t.backendErr(op, err)
	}
	return nil
}

func (t *txn) lastIn(op string, lower, upper []byte) ([]byte, error) {
	it, err := t.r.NewIterator(lower, upper)
	if err != nil {
		return nil, t.backendErr(op, err)
	}
	defer it.Close()
	if !it.Last() {
		return nil, it.Error()
	}
	return bytes.Clone(it.Key()), nil
}

func (t *txn) putDup(op string, dbi engine.DBI, key, value []byte, flags engine.PutFlags) error {
	if len(value) == 0 {
		return engine.NewError(engine.CodeBadValSize, op, "duplicate value required")
	}
	if len(value) > t.db.opts.MaxKeySize {
		return engine.NewError(engine.CodeValueTooLarge, op, "duplicate value too large")
	}

	if flags&engine.PutNoOverwrite != 0 {
		prefix := dupPrefix(dbi, key)
		first, err := t.firstIn(op, prefix, prefixEnd(prefix))
		if err != nil {
			return err
		}
		if first != nil {
			return engine.NewError(engine.CodeKeyExist, op, "key exists")
		}
	}

	k := dupKey(dbi, key, value)
	if flags&engine.PutNoDupData != 0 {
		found, err := t.exists(op, k)
		if err != nil {
			return err
		}
		if found {
			return engine.NewError(engine.CodeKeyExist, op, "key/value pair exists")
		}
	}
	if err := t.batch.Set(k, []byte{}); err != nil {
		return t.backendErr(op, err)
	}
	return nil
}

func (t *txn) Delete(dbi engine.DBI, key, value []byte) error {
	const op = "delete"
	info, err := t.prepare(op, dbi, key, true)
	if err != nil {
		return err
	}

	var targets [][]byte
	switch {
	case info.flags&engine.DBDupSort == 0:
		targets = [][]byte{plainKey(dbi, key)}
	case value != nil:
		targets = [][]byte{dupKey(dbi, key, value)}
	default:
		prefix := dupPrefix(dbi, key)
		if targets, err = t.keysIn(op, prefix, prefixEnd(prefix)); err != nil {
			return err
		}
	}

	if len(targets) == 1 {
		found, err := t.exists(op, targets[0])
		if err != nil {
			return err
		}
		if !found {
			targets = nil
		}
	}
	if len(targets) == 0 {
		return engine.NewError(engine.CodeNotFound, op, "key not found")
	}

	for _, k := range targets {
		if err := t.batch.Delete(k); err != nil {
			return t.backendErr(op, err)
		}
	}
	return nil
}

func (t *txn) Drop(dbi engine.DBI, del bool) error {
	const op = "drop"
	info, err := t.prepare(op, dbi, nil, false)
	if err != nil {
		return err
	}
	if err := t.checkWrite(op); err != nil {
		return err
	}

	lower, upper := dbBounds(dbi)
	keys, err := t.keysIn(op, lower, upper)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := t.batch.Delete(k); err != nil {
			return t.backendErr(op, err)
		}
	}
	if !del {
		return nil
	}

	if err := t.batch.Delete(catalogKey(info.name)); err != nil {
		return t.backendErr(op, err)
	}
	delete(t.created, dbi)
	if t.dropped == nil {
		t.dropped = make(map[engine.DBI]struct{})
	}
	t.dropped[dbi] = struct{}{}
	return nil
}

func (t *txn) Cursor(dbi engine.DBI) (engine.Cursor, error) {
	const op = "cursor"
	info, err := t.prepare(op, dbi, nil, false)
	if err != nil {
		return nil, err
	}
	lower, upper := dbBounds(dbi)
	it, err := t.r.NewIterator(lower, upper)
	if err != nil {
		return nil, t.backendErr(op, err)
	}
	return &cursor{
		it:     it,
		dbi:    dbi,
		prefix: lower,
		dup:    info.flags&engine.DBDupSort != 0,
	}, nil
}

func (t *txn) Stat(dbi engine.DBI) (engine.Stat, error) {
	const op = "stat"
	if _, err := t.prepare(op, dbi, nil, false); err != nil {
		return engine.Stat{}, err
	}
	lower, upper := dbBounds(dbi)
	it, err := t.r.NewIterator(lower, upper)
	if err != nil {
		return engine.Stat{}, t.backendErr(op, err)
	}
	defer it.Close()

	var entries, size uint64
	for ok := it.First(); ok; ok = it.Next() {
		entries++
		size += uint64(len(it.Key())-len(lower)) + uint64(len(it.Value())) + entryOverhead
	}
	if err := it.Error(); err != nil {
		return engine.Stat{}, t.backendErr(op, err)
	}
	return estimateStat(entries, size), nil
}

func (t *txn) Commit() error {
	if t.done {
		return engine.NewError(engine.CodeTxnClosed, "commit", "transaction already finished")
	}
	t.done = true

	if t.batch == nil {
		if !t.reset {
			t.snap.Release()
		}
		return nil
	}
	defer t.db.writeMu.Unlock()

	if t.broken != nil {
		t.batch.Discard()
		return engine.WrapError(engine.CodeBadTxn, "commit", t.broken)
	}
	if err := t.batch.Commit(!t.db.opts.NoSync); err != nil {
		t.batch.Discard()
		return engine.WrapError(engine.CodeBadTxn, "commit", err)
	}
	t.db.commits.Add(1)

	for dbi, info := range t.created {
		t.db.register(dbi, info)
	}
	for dbi := range t.dropped {
		t.db.forget(dbi)
	}
	return nil
}

func (t *txn) Abort() {
	if t.done {
		return
	}
	t.done = true
	if t.batch == nil {
		if !t.reset {
			t.snap.Release()
		}
		return
	}
	t.batch.Discard()
	t.db.writeMu.Unlock()
}

func (t *txn) Reset() {
	if t.batch != nil || t.done || t.reset {
		return
	}
	t.snap.Release()
	t.reset = true
}

func (t *txn) Renew() error {
	if t.done {
		return engine.NewError(engine.CodeTxnClosed, "renew", "transaction already finished")
	}
	if !t.reset {
		return engine.NewError(engine.CodeBadTxn, "renew", "transaction is not reset")
	}
	snap, err := t.db.store.NewSnapshot()
	if err != nil {
		return engine.WrapError(engine.CodeBadTxn, "renew", err)
	}
	t.snap, t.r = snap, snap
	t.id = t.db.commits.Load()
	t.reset = false
	return nil
}

// --------------------------------------------------------------------------
// Statistics
// --------------------------------------------------------------------------

const (
	// entryOverhead approximates per entry node bytes of a b-tree leaf
	entryOverhead = 16
	// branchFanout approximates the children per branch page
	branchFanout = 128
)

// estimateStat derives b-tree like statistics from the stored bytes
func estimateStat(entries, size uint64) engine.Stat {
	stat := engine.Stat{PageSize: PageSize, Entries: entries}
	if entries == 0 {
		return stat
	}
	stat.LeafPages = (size + PageSize - 1) / PageSize
	stat.Depth = 1
	for level := stat.LeafPages; level > 1; {
		level = (level + branchFanout - 1) / branchFanout
		stat.BranchPages += level
		stat.Depth++
	}
	return stat
}
