package testing

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/ValentinKolb/txKV/lib/engine"
	"github.com/stretchr/testify/require"
)

// EngineFactory creates a new, empty engine. The engine is closed by the suite.
type EngineFactory func(t testing.TB) engine.Engine

// RunEngineTests runs the conformance suite for an engine.Engine implementation.
func RunEngineTests(t *testing.T, name string, factory EngineFactory) {
	t.Run(name, func(t *testing.T) {
		tests := []struct {
			name string
			fn   func(t *testing.T, eng engine.Engine)
		}{
			{"OpenDB", testOpenDB},
			{"PutGet", testPutGet},
			{"PutFlags", testPutFlags},
			{"Delete", testDelete},
			{"KeyLimits", testKeyLimits},
			{"Abort", testAbort},
			{"SnapshotIsolation", testSnapshotIsolation},
			{"ResetRenew", testResetRenew},
			{"Cursor", testCursor},
			{"DupSort", testDupSort},
			{"DropKeepsIdentifier", testDropKeepsIdentifier},
			{"DropDeleteInvalidatesIdentifier", testDropDelete},
			{"Stat", testStat},
			{"TxnClosed", testTxnClosed},
			{"Close", testClose},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				eng := factory(t)
				defer eng.Close()
				tt.fn(t, eng)
			})
		}
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

func requireFeature(t testing.TB, eng engine.Engine, feature engine.Feature) {
	if !eng.Info().Features.Has(feature) {
		t.Skipf("engine %s does not support %s", eng.Info().Type, feature)
	}
}

func requireCode(t testing.TB, err error, code engine.Code) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, code, engine.CodeOf(err), "unexpected error: %v", err)
}

// update runs fn in a write transaction and commits it
func update(t testing.TB, eng engine.Engine, fn func(txn engine.Txn)) {
	t.Helper()
	txn, err := eng.Begin(true)
	require.NoError(t, err)
	fn(txn)
	require.NoError(t, txn.Commit())
}

// view runs fn in a read-only transaction
func view(t testing.TB, eng engine.Engine, fn func(txn engine.Txn)) {
	t.Helper()
	txn, err := eng.Begin(false)
	require.NoError(t, err)
	defer txn.Abort()
	fn(txn)
}

func openDB(t testing.TB, eng engine.Engine, name string, flags engine.DBFlags) engine.DBI {
	t.Helper()
	var dbi engine.DBI
	update(t, eng, func(txn engine.Txn) {
		var err error
		dbi, err = txn.OpenDB(name, flags|engine.DBCreate)
		require.NoError(t, err)
	})
	return dbi
}

func key(i int) []byte {
	return []byte(fmt.Sprintf("key-%04d", i))
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testOpenDB(t *testing.T, eng engine.Engine) {
	view(t, eng, func(txn engine.Txn) {
		_, err := txn.OpenDB("missing", 0)
		requireCode(t, err, engine.CodeNotFound)
	})

	main := openDB(t, eng, "", 0)
	users := openDB(t, eng, "users", 0)
	require.NotEqual(t, main, users)

	// reopening resolves to the same identifier
	require.Equal(t, users, openDB(t, eng, "users", 0))

	view(t, eng, func(txn engine.Txn) {
		dbi, err := txn.OpenDB("users", 0)
		require.NoError(t, err)
		require.Equal(t, users, dbi)
	})

	if eng.Info().Features.Has(engine.FeatureDupSort) {
		dups := openDB(t, eng, "dups", engine.DBDupSort)
		view(t, eng, func(txn engine.Txn) {
			flags, err := txn.Flags(dups)
			require.NoError(t, err)
			require.Equal(t, engine.DBDupSort, flags)

			_, err = txn.OpenDB("dups", engine.DBIntegerKey)
			requireCode(t, err, engine.CodeIncompatible)
		})
	}
}

func testPutGet(t *testing.T, eng engine.Engine) {
	dbi := openDB(t, eng, "data", 0)

	update(t, eng, func(txn engine.Txn) {
		require.NoError(t, txn.Put(dbi, []byte("a"), []byte("1"), 0))
		require.NoError(t, txn.Put(dbi, []byte("a"), []byte("2"), 0))
		require.NoError(t, txn.Put(dbi, []byte("empty"), []byte{}, 0))

		// read your own writes
		v, err := txn.Get(dbi, []byte("a"))
		require.NoError(t, err)
		require.Equal(t, []byte("2"), v)
	})

	view(t, eng, func(txn engine.Txn) {
		v, err := txn.Get(dbi, []byte("a"))
		require.NoError(t, err)
		require.Equal(t, []byte("2"), v)

		v, err = txn.Get(dbi, []byte("empty"))
		require.NoError(t, err)
		require.Len(t, v, 0)

		_, err = txn.Get(dbi, []byte("b"))
		requireCode(t, err, engine.CodeNotFound)
		require.ErrorIs(t, err, engine.ErrNotFound)
	})
}

func testPutFlags(t *testing.T, eng engine.Engine) {
	dbi := openDB(t, eng, "flags", 0)

	update(t, eng, func(txn engine.Txn) {
		require.NoError(t, txn.Put(dbi, []byte("b"), []byte("1"), engine.PutNoOverwrite))
		err := txn.Put(dbi, []byte("b"), []byte("2"), engine.PutNoOverwrite)
		requireCode(t, err, engine.CodeKeyExist)

		require.NoError(t, txn.Put(dbi, []byte("c"), []byte("3"), engine.PutAppend))
		err = txn.Put(dbi, []byte("a"), []byte("0"), engine.PutAppend)
		requireCode(t, err, engine.CodeKeyExist)

		// a failed put does not spoil the transaction
		require.NoError(t, txn.Put(dbi, []byte("d"), []byte("4"), 0))
	})

	view(t, eng, func(txn engine.Txn) {
		v, err := txn.Get(dbi, []byte("b"))
		require.NoError(t, err)
		require.Equal(t, []byte("1"), v)

		_, err = txn.Get(dbi, []byte("a"))
		requireCode(t, err, engine.CodeNotFound)

		v, err = txn.Get(dbi, []byte("d"))
		require.NoError(t, err)
		require.Equal(t, []byte("4"), v)
	})
}

func testDelete(t *testing.T, eng engine.Engine) {
	dbi := openDB(t, eng, "delete", 0)

	update(t, eng, func(txn engine.Txn) {
		require.NoError(t, txn.Put(dbi, []byte("a"), []byte("1"), 0))
	})
	update(t, eng, func(txn engine.Txn) {
		require.NoError(t, txn.Delete(dbi, []byte("a"), nil))
		requireCode(t, txn.Delete(dbi, []byte("a"), nil), engine.CodeNotFound)
		requireCode(t, txn.Delete(dbi, []byte("never"), nil), engine.CodeNotFound)
	})
	view(t, eng, func(txn engine.Txn) {
		_, err := txn.Get(dbi, []byte("a"))
		requireCode(t, err, engine.CodeNotFound)
	})
}

func testKeyLimits(t *testing.T, eng engine.Engine) {
	dbi := openDB(t, eng, "limits", 0)
	ints := openDB(t, eng, "ints", engine.DBIntegerKey)
	maxKey := eng.Info().MaxKeySize

	update(t, eng, func(txn engine.Txn) {
		requireCode(t, txn.Put(dbi, nil, []byte("x"), 0), engine.CodeBadValSize)
		requireCode(t, txn.Put(dbi, bytes.Repeat([]byte("k"), maxKey+1), []byte("x"), 0), engine.CodeKeyTooLarge)
		require.NoError(t, txn.Put(dbi, bytes.Repeat([]byte("k"), maxKey), []byte("x"), 0))

		requireCode(t, txn.Put(ints, []byte{1, 2}, []byte("x"), 0), engine.CodeBadValSize)
		require.NoError(t, txn.Put(ints, []byte{0, 0, 0, 7}, []byte("x"), 0))
	})
}

func testAbort(t *testing.T, eng engine.Engine) {
	dbi := openDB(t, eng, "abort", 0)

	txn, err := eng.Begin(true)
	require.NoError(t, err)
	require.NoError(t, txn.Put(dbi, []byte("a"), []byte("1"), 0))
	txn.Abort()
	txn.Abort()

	view(t, eng, func(txn engine.Txn) {
		_, err := txn.Get(dbi, []byte("a"))
		requireCode(t, err, engine.CodeNotFound)
	})
}

func testSnapshotIsolation(t *testing.T, eng engine.Engine) {
	dbi := openDB(t, eng, "mvcc", 0)
	update(t, eng, func(txn engine.Txn) {
		require.NoError(t, txn.Put(dbi, []byte("a"), []byte("old"), 0))
	})

	reader, err := eng.Begin(false)
	require.NoError(t, err)
	defer reader.Abort()
	before := reader.ID()

	update(t, eng, func(txn engine.Txn) {
		require.NoError(t, txn.Put(dbi, []byte("a"), []byte("new"), 0))
		require.NoError(t, txn.Put(dbi, []byte("b"), []byte("new"), 0))
	})

	v, err := reader.Get(dbi, []byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("old"), v)
	_, err = reader.Get(dbi, []byte("b"))
	requireCode(t, err, engine.CodeNotFound)

	view(t, eng, func(txn engine.Txn) {
		require.Greater(t, txn.ID(), before)
		v, err := txn.Get(dbi, []byte("a"))
		require.NoError(t, err)
		require.Equal(t, []byte("new"), v)
	})
}

func testResetRenew(t *testing.T, eng engine.Engine) {
	dbi := openDB(t, eng, "renew", 0)

	reader, err := eng.Begin(false)
	require.NoError(t, err)
	defer reader.Abort()

	reader.Reset()
	_, err = reader.Get(dbi, []byte("a"))
	requireCode(t, err, engine.CodeBadTxn)

	update(t, eng, func(txn engine.Txn) {
		require.NoError(t, txn.Put(dbi, []byte("a"), []byte("1"), 0))
	})

	require.NoError(t, reader.Renew())
	v, err := reader.Get(dbi, []byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), v)

	requireCode(t, reader.Renew(), engine.CodeBadTxn)
}

func testCursor(t *testing.T, eng engine.Engine) {
	dbi := openDB(t, eng, "cursor", 0)
	update(t, eng, func(txn engine.Txn) {
		// insert out of order
		for _, i := range []int{5, 1, 3, 2, 4} {
			require.NoError(t, txn.Put(dbi, key(i), []byte{byte(i)}, 0))
		}
	})

	view(t, eng, func(txn engine.Txn) {
		c, err := txn.Cursor(dbi)
		require.NoError(t, err)
		defer c.Close()

		var got []int
		for k, v, err := c.First(); err == nil; k, v, err = c.Next() {
			require.Equal(t, key(int(v[0])), k)
			got = append(got, int(v[0]))
		}
		require.Equal(t, []int{1, 2, 3, 4, 5}, got)

		k, v, err := c.Seek([]byte("key-0002a"))
		require.NoError(t, err)
		require.Equal(t, key(3), k)
		require.Equal(t, []byte{3}, v)

		v, err = c.SetKey(key(4))
		require.NoError(t, err)
		require.Equal(t, []byte{4}, v)
		k, _, err = c.Next()
		require.NoError(t, err)
		require.Equal(t, key(5), k)

		_, err = c.SetKey([]byte("key-9999"))
		requireCode(t, err, engine.CodeNotFound)
		_, _, err = c.Seek([]byte("zzz"))
		requireCode(t, err, engine.CodeNotFound)
	})

	empty := openDB(t, eng, "cursor-empty", 0)
	view(t, eng, func(txn engine.Txn) {
		c, err := txn.Cursor(empty)
		require.NoError(t, err)
		defer c.Close()
		_, _, err = c.First()
		requireCode(t, err, engine.CodeNotFound)
	})
}

func testDupSort(t *testing.T, eng engine.Engine) {
	requireFeature(t, eng, engine.FeatureDupSort)
	dbi := openDB(t, eng, "dups", engine.DBDupSort)

	update(t, eng, func(txn engine.Txn) {
		for _, v := range []string{"c", "a", "b"} {
			require.NoError(t, txn.Put(dbi, []byte("k1"), []byte(v), 0))
		}
		require.NoError(t, txn.Put(dbi, []byte("k2"), []byte("z"), 0))
		requireCode(t, txn.Put(dbi, []byte("k1"), []byte("a"), engine.PutNoDupData), engine.CodeKeyExist)
		requireCode(t, txn.Put(dbi, []byte("k2"), []byte("y"), engine.PutNoOverwrite), engine.CodeKeyExist)
	})

	view(t, eng, func(txn engine.Txn) {
		v, err := txn.Get(dbi, []byte("k1"))
		require.NoError(t, err)
		require.Equal(t, []byte("a"), v)

		c, err := txn.Cursor(dbi)
		require.NoError(t, err)
		defer c.Close()

		v, err = c.SetKey([]byte("k1"))
		require.NoError(t, err)
		got := []string{string(v)}
		for {
			v, err := c.NextDup()
			if err != nil {
				requireCode(t, err, engine.CodeNotFound)
				break
			}
			got = append(got, string(v))
		}
		require.Equal(t, []string{"a", "b", "c"}, got)

		// Next crosses over to the next key
		k, v, err := c.Next()
		require.NoError(t, err)
		require.Equal(t, []byte("k2"), k)
		require.Equal(t, []byte("z"), v)

		stat, err := txn.Stat(dbi)
		require.NoError(t, err)
		require.Equal(t, uint64(4), stat.Entries)
	})

	update(t, eng, func(txn engine.Txn) {
		require.NoError(t, txn.Delete(dbi, []byte("k1"), []byte("b")))
		requireCode(t, txn.Delete(dbi, []byte("k1"), []byte("b")), engine.CodeNotFound)
		require.NoError(t, txn.Delete(dbi, []byte("k2"), nil))
	})

	view(t, eng, func(txn engine.Txn) {
		c, err := txn.Cursor(dbi)
		require.NoError(t, err)
		defer c.Close()

		var got []string
		for k, v, err := c.First(); err == nil; k, v, err = c.Next() {
			got = append(got, string(k)+"="+string(v))
		}
		require.Equal(t, []string{"k1=a", "k1=c"}, got)
	})
}

func testDropKeepsIdentifier(t *testing.T, eng engine.Engine) {
	dbi := openDB(t, eng, "drop-keep", 0)
	update(t, eng, func(txn engine.Txn) {
		require.NoError(t, txn.Put(dbi, []byte("a"), []byte("1"), 0))
	})
	update(t, eng, func(txn engine.Txn) {
		require.NoError(t, txn.Drop(dbi, false))
	})

	view(t, eng, func(txn engine.Txn) {
		_, err := txn.Get(dbi, []byte("a"))
		requireCode(t, err, engine.CodeNotFound)
		again, err := txn.OpenDB("drop-keep", 0)
		require.NoError(t, err)
		require.Equal(t, dbi, again)
	})

	update(t, eng, func(txn engine.Txn) {
		require.NoError(t, txn.Put(dbi, []byte("b"), []byte("2"), 0))
	})
}

func testDropDelete(t *testing.T, eng engine.Engine) {
	dbi := openDB(t, eng, "drop-delete", 0)
	update(t, eng, func(txn engine.Txn) {
		require.NoError(t, txn.Put(dbi, []byte("a"), []byte("1"), 0))
	})

	// an aborted drop changes nothing
	txn, err := eng.Begin(true)
	require.NoError(t, err)
	require.NoError(t, txn.Drop(dbi, true))
	requireCode(t, txn.Put(dbi, []byte("x"), []byte("y"), 0), engine.CodeBadDBI)
	txn.Abort()

	view(t, eng, func(txn engine.Txn) {
		v, err := txn.Get(dbi, []byte("a"))
		require.NoError(t, err)
		require.Equal(t, []byte("1"), v)
	})

	update(t, eng, func(txn engine.Txn) {
		require.NoError(t, txn.Drop(dbi, true))
	})

	view(t, eng, func(txn engine.Txn) {
		_, err := txn.Get(dbi, []byte("a"))
		requireCode(t, err, engine.CodeBadDBI)
		_, err = txn.OpenDB("drop-delete", 0)
		requireCode(t, err, engine.CodeNotFound)
	})

	// reopening the name never hands out the old identifier
	reopened := openDB(t, eng, "drop-delete", 0)
	require.NotEqual(t, dbi, reopened)
	view(t, eng, func(txn engine.Txn) {
		_, err := txn.Get(reopened, []byte("a"))
		requireCode(t, err, engine.CodeNotFound)
		_, err = txn.Get(dbi, []byte("a"))
		requireCode(t, err, engine.CodeBadDBI)
	})
}

func testStat(t *testing.T, eng engine.Engine) {
	dbi := openDB(t, eng, "stat", 0)

	view(t, eng, func(txn engine.Txn) {
		stat, err := txn.Stat(dbi)
		require.NoError(t, err)
		require.Equal(t, uint64(0), stat.Entries)
		require.Greater(t, stat.PageSize, 0)
	})

	update(t, eng, func(txn engine.Txn) {
		for i := 0; i < 500; i++ {
			require.NoError(t, txn.Put(dbi, key(i), bytes.Repeat([]byte{byte(i)}, 100), 0))
		}
	})

	view(t, eng, func(txn engine.Txn) {
		stat, err := txn.Stat(dbi)
		require.NoError(t, err)
		require.Equal(t, uint64(500), stat.Entries)
		require.GreaterOrEqual(t, stat.Depth, 1)
		require.Greater(t, stat.LeafPages, uint64(1))
	})
}

func testTxnClosed(t *testing.T, eng engine.Engine) {
	dbi := openDB(t, eng, "closed", 0)

	txn, err := eng.Begin(true)
	require.NoError(t, err)
	require.NoError(t, txn.Commit())
	requireCode(t, txn.Commit(), engine.CodeTxnClosed)
	requireCode(t, txn.Put(dbi, []byte("a"), []byte("1"), 0), engine.CodeTxnClosed)

	view(t, eng, func(txn engine.Txn) {
		requireCode(t, txn.Put(dbi, []byte("a"), []byte("1"), 0), engine.CodeReadOnly)
	})
}

func testClose(t *testing.T, eng engine.Engine) {
	require.NoError(t, eng.Close())
	_, err := eng.Begin(false)
	requireCode(t, err, engine.CodeClosed)
	require.NoError(t, eng.Close())
}
