package pebbledb

import (
	"testing"

	"github.com/ValentinKolb/txKV/lib/engine"
	enginetesting "github.com/ValentinKolb/txKV/lib/engine/testing"
	"github.com/stretchr/testify/require"
)

func TestEngine(t *testing.T) {
	enginetesting.RunEngineTests(t, "Pebble", func(t testing.TB) engine.Engine {
		eng, err := Open(Options{InMemory: true})
		require.NoError(t, err)
		return eng
	})
}

func TestPersistence(t *testing.T) {
	dir := t.TempDir()

	eng, err := Open(Options{Path: dir})
	require.NoError(t, err)
	txn, err := eng.Begin(true)
	require.NoError(t, err)
	dbi, err := txn.OpenDB("data", engine.DBCreate)
	require.NoError(t, err)
	require.NoError(t, txn.Put(dbi, []byte("a"), []byte("1"), 0))
	require.NoError(t, txn.Commit())
	require.NoError(t, eng.Sync())
	require.NoError(t, eng.Close())

	eng, err = Open(Options{Path: dir})
	require.NoError(t, err)
	defer eng.Close()
	require.Equal(t, engine.ImplPebble, eng.Info().Type)
	require.Equal(t, dir, eng.Info().Path)

	txn, err = eng.Begin(false)
	require.NoError(t, err)
	defer txn.Abort()
	again, err := txn.OpenDB("data", 0)
	require.NoError(t, err)
	require.Equal(t, dbi, again)
	v, err := txn.Get(again, []byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), v)
}
