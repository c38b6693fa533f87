package instruction

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferRoundTrip(t *testing.T) {
	b := NewBuffer(Options{InlineKeyThreshold: 8, InlineValueThreshold: 16})

	longKey := bytes.Repeat([]byte("k"), 9)
	longValue := bytes.Repeat([]byte("v"), 17)

	require.NoError(t, b.Put(1, []byte("a"), []byte("1"), 0))
	require.NoError(t, b.Put(1, longKey, longValue, FlagNoOverwrite))
	require.NoError(t, b.Interrupt())
	require.NoError(t, b.Add(Instruction{Op: OpPut, DBI: 2, Key: []byte("abc"), Value: []byte{}, Flags: FlagVersion | FlagIfVersion, Version: 7, IfVersion: 6}))
	require.NoError(t, b.Delete(2, []byte("abcd")))
	require.NoError(t, b.Add(Instruction{Op: OpDelete, DBI: 3, Key: []byte("dup"), Value: []byte("v2"), Flags: FlagValue}))
	require.NoError(t, b.AllowCommit())
	require.NoError(t, b.Drop(3, false))
	require.NoError(t, b.Restart())
	require.NoError(t, b.Drop(4, true))
	require.NoError(t, b.Sync())
	b.Seal()

	assert.Equal(t, 8, b.Len())
	assert.Len(t, b.Attachments(), 2)
	assert.Zero(t, b.Size()%4, "entries are word aligned")

	entries, err := Decode(b)
	require.NoError(t, err)
	require.Len(t, entries, 11)

	ins := func(i int) Instruction {
		require.Equal(t, KindInstruction, entries[i].Kind)
		return entries[i].Instruction
	}

	assert.Equal(t, Instruction{Op: OpPut, DBI: 1, Key: []byte("a"), Value: []byte("1")}, ins(0))
	assert.Equal(t, 0, entries[0].Index)

	assert.Equal(t, longKey, ins(1).Key)
	assert.Equal(t, longValue, ins(1).Value)
	assert.True(t, ins(1).Has(FlagNoOverwrite))

	assert.Equal(t, Entry{Kind: KindSignal, Signal: SignalInterrupt, Index: -1}, entries[2])

	v := ins(3)
	assert.Equal(t, uint64(7), v.Version)
	assert.Equal(t, uint64(6), v.IfVersion)
	assert.Empty(t, v.Value)
	assert.Equal(t, 2, entries[3].Index)

	assert.Equal(t, OpDelete, ins(4).Op)
	assert.Nil(t, ins(4).Value)
	assert.Equal(t, []byte("v2"), ins(5).Value)

	assert.Equal(t, SignalAllowCommit, entries[6].Signal)
	assert.True(t, ins(7).Has(FlagJustFreePages))
	assert.Equal(t, SignalRestart, entries[8].Signal)
	assert.False(t, ins(9).Has(FlagJustFreePages))
	assert.Equal(t, OpSync, ins(10).Op)
	assert.Equal(t, 7, entries[10].Index)
}

func TestEmptyKeyDoesNotTerminate(t *testing.T) {
	b := NewBuffer(DefaultOptions())
	require.NoError(t, b.Put(1, nil, []byte("x"), 0))
	require.NoError(t, b.Put(1, []byte("after"), []byte("y"), 0))
	b.Seal()

	entries, err := Decode(b)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Empty(t, entries[0].Instruction.Key)
	assert.Equal(t, []byte("after"), entries[1].Instruction.Key)
}

func TestBufferFull(t *testing.T) {
	b := NewBuffer(Options{Capacity: 64, InlineValueThreshold: 4})
	n := 0
	var err error
	for ; err == nil; n++ {
		err = b.Put(1, []byte("key"), []byte("large value"), 0)
	}
	require.ErrorIs(t, err, ErrBufferFull)
	// the rejected entry left no attachment behind
	assert.Len(t, b.Attachments(), b.Len())

	b.Seal()
	assert.LessOrEqual(t, b.Size(), 64)
	require.ErrorIs(t, b.Put(1, []byte("k"), nil, 0), ErrSealed)
	require.ErrorIs(t, b.Interrupt(), ErrSealed)

	entries, err := Decode(b)
	require.NoError(t, err)
	assert.Len(t, entries, n-1)
}

func TestAddValidation(t *testing.T) {
	b := NewBuffer(DefaultOptions())
	require.ErrorIs(t, b.Add(Instruction{Op: 9, Key: []byte("k")}), ErrUnknownOp)
	require.ErrorIs(t, b.Add(Instruction{Op: OpPut, Key: []byte("k"), Flags: 1 << 30}), ErrMalformed)
}

func TestReaderResumes(t *testing.T) {
	b := NewBuffer(DefaultOptions())
	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, b.Put(1, []byte(k), []byte(k), 0))
	}
	b.Seal()

	r := NewReader(b)
	e, ok, err := r.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("a"), e.Instruction.Key)
	assert.Equal(t, 1, r.Consumed())

	// a second pass over the rest continues where the first stopped
	var rest []string
	for {
		e, ok, err := r.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		rest = append(rest, string(e.Instruction.Key))
	}
	assert.Equal(t, []string{"b", "c"}, rest)
	assert.True(t, r.Done())

	_, ok, err = r.Next()
	require.NoError(t, err)
	require.False(t, ok)
}

func words(ws ...uint32) []byte {
	var out []byte
	for _, w := range ws {
		out = binary.LittleEndian.AppendUint32(out, w)
	}
	return out
}

func TestProtocolErrors(t *testing.T) {
	cases := []struct {
		name        string
		raw         []byte
		attachments [][]byte
		want        error
	}{
		{"unknown op", words(1, 77, 1, 0x61, 0), nil, ErrUnknownOp},
		{"missing terminator", words(wordInterrupt), nil, ErrMalformed},
		{"truncated header", words(4, uint32(OpPut)), nil, ErrMalformed},
		{"key exceeds buffer", words(40, uint32(OpPut), 1, 0), nil, ErrMalformed},
		{"attachment out of range", words(wordOutOfLine, uint32(OpDelete), 1, 3, 0), nil, ErrMalformed},
		{"drop with key", words(1, uint32(OpDrop), 1, 0x61, 0), nil, ErrMalformed},
		{"put without key", words(wordNoKey, uint32(OpPut), 1, 0), nil, ErrMalformed},
		{"missing version", words(1, uint32(OpDelete)|uint32(FlagVersion)<<8, 1, 0x61), nil, ErrMalformed},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			r := NewReader(FromBytes(c.raw, c.attachments))
			var err error
			for ok := true; ok && err == nil; {
				_, ok, err = r.Next()
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, c.want), "got %v", err)

			// errors are sticky
			_, _, again := r.Next()
			assert.Equal(t, err, again)
		})
	}
}

func TestKeyList(t *testing.T) {
	l := NewKeyList(4)
	keys := [][]byte{[]byte("a"), []byte("abcd"), []byte("abcde"), nil, []byte("xyz")}
	for _, k := range keys {
		l.Add(k)
	}
	require.Equal(t, 5, l.Len())

	var got [][]byte
	require.NoError(t, l.Each(func(k []byte) error {
		got = append(got, k)
		return nil
	}))
	require.Len(t, got, 5)
	for i := range keys {
		assert.Equal(t, string(keys[i]), string(got[i]))
	}

	stop := errors.New("stop")
	calls := 0
	err := KeysOf([]byte("1"), []byte("2")).Each(func([]byte) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestResultStatus(t *testing.T) {
	assert.True(t, Result{Status: StatusOK}.OK())
	assert.True(t, Result{Status: StatusNotFound}.OK())
	assert.False(t, Result{Status: StatusConditionFailed}.OK())
	assert.Equal(t, "failed: boom", Result{Status: StatusFailed, Err: errors.New("boom")}.String())
	assert.Equal(t, "put(dbi=1, key=\"k\", 2 bytes)", Instruction{Op: OpPut, DBI: 1, Key: []byte("k"), Value: []byte("vv")}.String())
}
