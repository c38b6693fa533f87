package prefetch

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ValentinKolb/txKV/lib/engine"
	"github.com/ValentinKolb/txKV/lib/engine/engines/bolt"
	"github.com/ValentinKolb/txKV/lib/engine/engines/flat"
	"github.com/ValentinKolb/txKV/lib/engine/engines/memory"
	"github.com/ValentinKolb/txKV/lib/instruction"
)

func fill(t *testing.T, eng engine.Engine, flags engine.DBFlags, entries map[string][][]byte) engine.DBI {
	txn, err := eng.Begin(true)
	require.NoError(t, err)
	dbi, err := txn.OpenDB("data", engine.DBCreate|flags)
	require.NoError(t, err)
	for k, values := range entries {
		for _, v := range values {
			require.NoError(t, txn.Put(dbi, []byte(k), v, 0))
		}
	}
	require.NoError(t, txn.Commit())
	return dbi
}

func snapshot(t *testing.T, eng engine.Engine, dbi engine.DBI) map[string][]string {
	txn, err := eng.Begin(false)
	require.NoError(t, err)
	defer txn.Abort()
	cur, err := txn.Cursor(dbi)
	require.NoError(t, err)
	defer cur.Close()

	out := map[string][]string{}
	k, v, err := cur.First()
	for err == nil {
		out[string(k)] = append(out[string(k)], string(v))
		k, v, err = cur.Next()
	}
	require.True(t, engine.IsNotFound(err))
	return out
}

func TestPrefetchExistingAndMissingKeys(t *testing.T) {
	opts := bolt.DefaultOptions(t.TempDir())
	opts.NoSync = true
	eng, err := bolt.Open(opts)
	require.NoError(t, err)
	defer eng.Close()

	large := bytes.Repeat([]byte{1}, 3*PageSize+10)
	dbi := fill(t, eng, 0, map[string][][]byte{
		"small": {[]byte{7}},
		"large": {large},
		"empty": {{}},
	})
	before := snapshot(t, eng, dbi)

	keys := instruction.KeysOf([]byte("small"), []byte("missing"), []byte("large"), []byte("empty"), []byte("zzz"))
	effect, err := Prefetch(eng, dbi, keys)
	require.NoError(t, err)
	// one byte per page: 7 + 4 pages of 1
	assert.Equal(t, uint64(7+4), effect)
	assert.Equal(t, before, snapshot(t, eng, dbi))
}

func TestPrefetchDuplicates(t *testing.T) {
	eng := memory.Open(flat.Options{})
	defer eng.Close()

	dbi := fill(t, eng, engine.DBDupSort, map[string][][]byte{
		"k": {{1}, {2}, {3}},
		"l": {{10}},
	})
	effect, err := Prefetch(eng, dbi, instruction.KeysOf([]byte("k"), []byte("l")))
	require.NoError(t, err)
	assert.Equal(t, uint64(1+2+3+10), effect)
}

func TestPrefetchSkipsInvalidKeys(t *testing.T) {
	eng := memory.Open(flat.Options{})
	defer eng.Close()
	dbi := fill(t, eng, 0, map[string][][]byte{"k": {{5}}})

	keys := instruction.NewKeyList(16)
	keys.Add(bytes.Repeat([]byte("x"), 4000))
	keys.Add([]byte("k"))
	effect, err := Prefetch(eng, dbi, keys)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), effect)
}

func TestPrefetchUnknownDatabase(t *testing.T) {
	eng := memory.Open(flat.Options{})
	defer eng.Close()
	_, err := Prefetch(eng, engine.DBI(42), instruction.KeysOf([]byte("k")))
	require.Error(t, err)
}

func TestPool(t *testing.T) {
	eng := memory.Open(flat.Options{})
	defer eng.Close()
	dbi := fill(t, eng, 0, map[string][][]byte{"a": {{1}}, "b": {{2}}})

	pool := NewPool(2)
	assert.Equal(t, 2, pool.Workers())

	effect, err := pool.Run(context.Background(), eng, dbi, instruction.KeysOf([]byte("a"), []byte("b")))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), effect)

	var results []<-chan Result
	for i := 0; i < 10; i++ {
		results = append(results, pool.Go(context.Background(), eng, dbi, instruction.KeysOf([]byte("b"))))
	}
	for _, ch := range results {
		res := <-ch
		require.NoError(t, res.Err)
		assert.Equal(t, uint64(2), res.Effect)
		_, open := <-ch
		assert.False(t, open)
	}
	pool.Wait()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	full := NewPool(1)
	require.NoError(t, full.sem.Acquire(context.Background(), 1))
	_, err = full.Run(ctx, eng, dbi, instruction.KeysOf([]byte("a")))
	assert.ErrorIs(t, err, context.Canceled)
}
