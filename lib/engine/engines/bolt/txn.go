package bolt

import (
	"bytes"
	"encoding/binary"

	"github.com/ValentinKolb/txKV/lib/engine"
	"go.etcd.io/bbolt"
)

// entryOverhead approximates the page bytes a leaf element costs besides its data
const entryOverhead = 16

// txn implements engine.Txn on top of a bbolt transaction.
// Duplicate keys are stored as nested buckets whose keys are the values.
type txn struct {
	db       *DB
	tx       *bbolt.Tx
	writable bool
	done     bool
	reset    bool

	// broken is set once the transaction can no longer commit
	broken error
	// size is the projected data size used for map size accounting
	size int64
	// dropped holds identifiers deleted by this transaction
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
	if !t.writable {
		return engine.NewError(engine.CodeReadOnly, op, "read-only transaction")
	}
	return nil
}

// fail marks the transaction unusable if err is fatal
func (t *txn) fail(err error) error {
	if code := engine.CodeOf(err); code.Fatal() && t.broken == nil {
		t.broken = err
	}
	return err
}

// reserve accounts n bytes of new data against the map size
func (t *txn) reserve(op string, n int) error {
	t.size += int64(n + entryOverhead)
	if limit := t.db.opts.MapSize; limit > 0 && t.size > limit {
		return t.fail(engine.NewError(engine.CodeMapFull, op, "map size exceeded"))
	}
	return nil
}

func (t *txn) info(op string, dbi engine.DBI) (dbInfo, error) {
	if _, ok := t.dropped[dbi]; ok {
		return dbInfo{}, engine.NewError(engine.CodeBadDBI, op, "database was dropped")
	}
	info, ok := t.db.lookup(dbi)
	if !ok {
		return dbInfo{}, engine.NewError(engine.CodeBadDBI, op, "unknown database")
	}
	return info, nil
}

// readBucket returns the bucket for dbi, or nil if it holds no data yet
func (t *txn) readBucket(op string, dbi engine.DBI) (*bbolt.Bucket, dbInfo, error) {
	if err := t.check(op); err != nil {
		return nil, dbInfo{}, err
	}
	info, err := t.info(op, dbi)
	if err != nil {
		return nil, dbInfo{}, err
	}
	return t.tx.Bucket(info.bucket), info, nil
}

func (t *txn) writeBucket(op string, dbi engine.DBI) (*bbolt.Bucket, dbInfo, error) {
	if err := t.checkWrite(op); err != nil {
		return nil, dbInfo{}, err
	}
	info, err := t.info(op, dbi)
	if err != nil {
		return nil, dbInfo{}, err
	}
	b, err := t.tx.CreateBucketIfNotExists(info.bucket)
	if err != nil {
		return nil, dbInfo{}, t.fail(convertErr(op, err))
	}
	return b, info, nil
}

// --------------------------------------------------------------------------
// engine.Txn
// --------------------------------------------------------------------------

func (t *txn) ID() uint64 {
	return uint64(t.tx.ID())
}

func (t *txn) Writable() bool {
	return t.writable
}

func (t *txn) OpenDB(name string, flags engine.DBFlags) (engine.DBI, error) {
	const op = "open db"
	if err := t.check(op); err != nil {
		return 0, err
	}

	bucket := bucketFor(name)
	requested := flags &^ engine.DBCreate
	meta := t.tx.Bucket(metaBucket)

	raw := meta.Get(bucket)
	if raw == nil {
		if flags&engine.DBCreate == 0 {
			return 0, engine.NewError(engine.CodeNotFound, op, "database "+name+" does not exist")
		}
		if !t.writable {
			return 0, engine.NewError(engine.CodeReadOnly, op, "cannot create database in read-only transaction")
		}
		if _, err := t.tx.CreateBucketIfNotExists(bucket); err != nil {
			return 0, t.fail(convertErr(op, err))
		}
		var buf [4]byte
		binary.BigEndian.PutUint32(buf[:], uint32(requested))
		if err := meta.Put(bucket, buf[:]); err != nil {
			return 0, t.fail(convertErr(op, err))
		}
		return t.db.assign(name, bucket, requested), nil
	}

	stored := engine.DBFlags(binary.BigEndian.Uint32(raw))
	if requested != 0 && requested != stored {
		return 0, engine.NewError(engine.CodeIncompatible, op, "database "+name+" was created with different flags")
	}
	return t.db.assign(name, bucket, stored), nil
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
	b, info, err := t.readBucket(op, dbi)
	if err != nil {
		return nil, err
	}
	if err := engine.CheckKey(op, key, info.flags, t.db.opts.MaxKeySize); err != nil {
		return nil, err
	}
	if b == nil {
		return nil, engine.NewError(engine.CodeNotFound, op, "key not found")
	}

	if info.flags&engine.DBDupSort != 0 {
		sub := b.Bucket(key)
		if sub == nil {
			return nil, engine.NewError(engine.CodeNotFound, op, "key not found")
		}
		first, _ := sub.Cursor().First()
		if first == nil {
			return nil, engine.NewError(engine.CodeNotFound, op, "key not found")
		}
		return first, nil
	}

	k, v := b.Cursor().Seek(key)
	if k == nil || !bytes.Equal(k, key) {
		return nil, engine.NewError(engine.CodeNotFound, op, "key not found")
	}
	if v == nil {
		v = []byte{}
	}
	return v, nil
}

func (t *txn) Put(dbi engine.DBI, key, value []byte, flags engine.PutFlags) error {
	const op = "put"
	b, info, err := t.writeBucket(op, dbi)
	if err != nil {
		return err
	}
	if err := engine.CheckKey(op, key, info.flags, t.db.opts.MaxKeySize); err != nil {
		return err
	}
	if err := t.reserve(op, len(key)+len(value)); err != nil {
		return err
	}

	if info.flags&engine.DBDupSort != 0 {
		return t.putDup(op, b, key, value, flags)
	}

	if flags&engine.PutNoOverwrite != 0 && has(b, key) {
		return engine.NewError(engine.CodeKeyExist, op, "key exists")
	}
	if flags&engine.PutAppend != 0 {
		if last, _ := b.Cursor().Last(); last != nil && bytes.Compare(key, last) <= 0 {
			return engine.NewError(engine.CodeKeyExist, op, "append key is not greater than the last key")
		}
		// appended pages are never split again
		b.FillPercent = 1.0
	}
	if err := b.Put(key, value); err != nil {
		return t.fail(convertErr(op, err))
	}
	return nil
}

func (t *txn) putDup(op string, b *bbolt.Bucket, key, value []byte, flags engine.PutFlags) error {
	if len(value) == 0 {
		return engine.NewError(engine.CodeBadValSize, op, "duplicate value required")
	}
	if len(value) > t.db.opts.MaxKeySize {
		return engine.NewError(engine.CodeValueTooLarge, op, "duplicate value too large")
	}

	sub := b.Bucket(key)
	if sub == nil {
		var err error
		if sub, err = b.CreateBucket(key); err != nil {
			return t.fail(convertErr(op, err))
		}
	} else if flags&engine.PutNoOverwrite != 0 {
		return engine.NewError(engine.CodeKeyExist, op, "key exists")
	}

	if flags&engine.PutNoDupData != 0 && has(sub, value) {
		return engine.NewError(engine.CodeKeyExist, op, "key/value pair exists")
	}
	if err := sub.Put(value, []byte{}); err != nil {
		return t.fail(convertErr(op, err))
	}
	return nil
}

func (t *txn) Delete(dbi engine.DBI, key, value []byte) error {
	const op = "delete"
	b, info, err := t.writeBucket(op, dbi)
	if err != nil {
		return err
	}
	if err := engine.CheckKey(op, key, info.flags, t.db.opts.MaxKeySize); err != nil {
		return err
	}

	if info.flags&engine.DBDupSort == 0 {
		if !has(b, key) {
			return engine.NewError(engine.CodeNotFound, op, "key not found")
		}
		return t.fail(convertErr(op, b.Delete(key)))
	}

	sub := b.Bucket(key)
	if sub == nil {
		return engine.NewError(engine.CodeNotFound, op, "key not found")
	}
	if value == nil {
		return t.fail(convertErr(op, b.DeleteBucket(key)))
	}
	if !has(sub, value) {
		return engine.NewError(engine.CodeNotFound, op, "duplicate not found")
	}
	if err := sub.Delete(value); err != nil {
		return t.fail(convertErr(op, err))
	}
	if first, _ := sub.Cursor().First(); first == nil {
		return t.fail(convertErr(op, b.DeleteBucket(key)))
	}
	return nil
}

func (t *txn) Drop(dbi engine.DBI, del bool) error {
	const op = "drop"
	if err := t.checkWrite(op); err != nil {
		return err
	}
	info, err := t.info(op, dbi)
	if err != nil {
		return err
	}

	if t.tx.Bucket(info.bucket) != nil {
		if err := t.tx.DeleteBucket(info.bucket); err != nil {
			return t.fail(convertErr(op, err))
		}
	}

	if !del {
		_, err := t.tx.CreateBucket(info.bucket)
		return t.fail(convertErr(op, err))
	}

	if err := t.tx.Bucket(metaBucket).Delete(info.bucket); err != nil {
		return t.fail(convertErr(op, err))
	}
	if t.dropped == nil {
		t.dropped = make(map[engine.DBI]struct{})
	}
	t.dropped[dbi] = struct{}{}
	t.tx.OnCommit(func() {
		t.db.forget(dbi)
	})
	return nil
}

func (t *txn) Cursor(dbi engine.DBI) (engine.Cursor, error) {
	b, info, err := t.readBucket("cursor", dbi)
	if err != nil {
		return nil, err
	}
	c := &cursor{bucket: b, dup: info.flags&engine.DBDupSort != 0}
	if b != nil {
		c.c = b.Cursor()
	}
	return c, nil
}

func (t *txn) Stat(dbi engine.DBI) (engine.Stat, error) {
	b, info, err := t.readBucket("stat", dbi)
	if err != nil {
		return engine.Stat{}, err
	}
	stat := engine.Stat{PageSize: t.db.db.Info().PageSize}
	if b == nil {
		return stat, nil
	}

	s := b.Stats()
	stat.Depth = s.Depth
	stat.BranchPages = uint64(s.BranchPageN)
	stat.LeafPages = uint64(s.LeafPageN)
	stat.OverflowPages = uint64(s.BranchOverflowN + s.LeafOverflowN)
	stat.Entries = uint64(s.KeyN)
	if info.flags&engine.DBDupSort != 0 {
		// every key of the parent bucket names one nested bucket
		stat.Entries = uint64(s.KeyN - (s.BucketN - 1))
	}
	return stat, nil
}

func (t *txn) Commit() error {
	if t.done {
		return engine.NewError(engine.CodeTxnClosed, "commit", "transaction already finished")
	}
	t.done = true

	if !t.writable {
		if t.reset {
			return nil
		}
		return convertErr("commit", t.tx.Rollback())
	}
	if t.broken != nil {
		_ = t.tx.Rollback()
		return engine.WrapError(engine.CodeBadTxn, "commit", t.broken)
	}
	return convertErr("commit", t.tx.Commit())
}

func (t *txn) Abort() {
	if t.done {
		return
	}
	t.done = true
	if !t.reset {
		_ = t.tx.Rollback()
	}
}

func (t *txn) Reset() {
	if t.writable || t.done || t.reset {
		return
	}
	_ = t.tx.Rollback()
	t.reset = true
}

func (t *txn) Renew() error {
	if t.done {
		return engine.NewError(engine.CodeTxnClosed, "renew", "transaction already finished")
	}
	if !t.reset {
		return engine.NewError(engine.CodeBadTxn, "renew", "transaction is not reset")
	}
	tx, err := t.db.db.Begin(false)
	if err != nil {
		return convertErr("renew", err)
	}
	t.tx = tx
	t.reset = false
	return nil
}

// has reports whether key exists in b (also for empty values)
func has(b *bbolt.Bucket, key []byte) bool {
	k, _ := b.Cursor().Seek(key)
	return k != nil && bytes.Equal(k, key)
}
