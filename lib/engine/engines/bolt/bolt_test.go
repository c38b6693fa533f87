package bolt

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/ValentinKolb/txKV/lib/engine"
	enginetesting "github.com/ValentinKolb/txKV/lib/engine/testing"
	"github.com/stretchr/testify/require"
)

func newTestDB(t testing.TB, mapSize int64) *DB {
	opts := DefaultOptions(t.TempDir())
	opts.MapSize = mapSize
	opts.NoSync = true
	db, err := Open(opts)
	require.NoError(t, err)
	return db
}

func TestEngine(t *testing.T) {
	enginetesting.RunEngineTests(t, "BoltDB", func(t testing.TB) engine.Engine {
		return newTestDB(t, 0)
	})
}

func TestMapFull(t *testing.T) {
	db := newTestDB(t, 256*1024)
	defer db.Close()

	txn, err := db.Begin(true)
	require.NoError(t, err)
	dbi, err := txn.OpenDB("data", engine.DBCreate)
	require.NoError(t, err)
	require.NoError(t, txn.Put(dbi, []byte("small"), []byte("value"), 0))

	err = txn.Put(dbi, []byte("large"), bytes.Repeat([]byte("x"), 512*1024), 0)
	require.True(t, engine.IsCode(err, engine.CodeMapFull), "got %v", err)
	require.True(t, engine.CodeOf(err).Fatal())

	// the transaction is unusable from now on
	err = txn.Put(dbi, []byte("other"), []byte("value"), 0)
	require.True(t, engine.IsCode(err, engine.CodeBadTxn), "got %v", err)
	err = txn.Commit()
	require.True(t, engine.IsCode(err, engine.CodeBadTxn), "got %v", err)

	// nothing from the failed transaction was stored
	txn, err = db.Begin(false)
	require.NoError(t, err)
	defer txn.Abort()
	_, err = txn.OpenDB("data", 0)
	require.True(t, engine.IsNotFound(err))
}

func TestReopenRestoresFlags(t *testing.T) {
	dir := t.TempDir()

	db, err := Open(DefaultOptions(dir))
	require.NoError(t, err)
	txn, err := db.Begin(true)
	require.NoError(t, err)
	dbi, err := txn.OpenDB("dups", engine.DBCreate|engine.DBDupSort)
	require.NoError(t, err)
	require.NoError(t, txn.Put(dbi, []byte("k"), []byte("v1"), 0))
	require.NoError(t, txn.Put(dbi, []byte("k"), []byte("v2"), 0))
	require.NoError(t, txn.Commit())
	require.NoError(t, db.Close())

	db, err = Open(DefaultOptions(dir))
	require.NoError(t, err)
	defer db.Close()
	require.FileExists(t, filepath.Join(dir, DataFile))

	txn, err = db.Begin(false)
	require.NoError(t, err)
	defer txn.Abort()
	dbi, err = txn.OpenDB("dups", 0)
	require.NoError(t, err)
	flags, err := txn.Flags(dbi)
	require.NoError(t, err)
	require.Equal(t, engine.DBDupSort, flags)

	stat, err := txn.Stat(dbi)
	require.NoError(t, err)
	require.Equal(t, uint64(2), stat.Entries)
}

func TestInfo(t *testing.T) {
	db := newTestDB(t, 0)
	defer db.Close()

	info := db.Info()
	require.Equal(t, engine.ImplBolt, info.Type)
	require.True(t, info.Features.Has(engine.FeatureMmap|engine.FeatureDupSort))
	require.Equal(t, int64(DefaultMapSize), info.MapSize)
	require.Equal(t, DefaultMaxKeySize, info.MaxKeySize)
	require.NoError(t, db.Sync())
}
