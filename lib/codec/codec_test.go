package codec

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sample returns a compressible value of n bytes
func sample(n int) []byte {
	var buf bytes.Buffer
	for i := 0; buf.Len() < n; i++ {
		fmt.Fprintf(&buf, `{"id":%d,"name":"user-%d","active":true},`, i, i%7)
	}
	return buf.Bytes()[:n]
}

func newCodec(t *testing.T, alg Algorithm) *Codec {
	opts := DefaultOptions()
	opts.Algorithm = alg
	opts.Threshold = 64
	c, err := New(opts)
	require.NoError(t, err)
	return c
}

func TestRoundTrip(t *testing.T) {
	for _, alg := range []Algorithm{AlgorithmZstd, AlgorithmLZ4} {
		t.Run(string(alg), func(t *testing.T) {
			c := newCodec(t, alg)
			w := NewWorker()
			defer w.Close()

			values := [][]byte{
				{},
				[]byte("small"),
				{0xFE, 1, 2},
				{0xFF},
				sample(64),
				sample(65),
				sample(4000),
				sample(200000),
			}
			for _, v := range values {
				enc, err := c.Compress(w, v)
				require.NoError(t, err)

				raw, ok, err := c.Decompress(w, enc, true)
				require.NoError(t, err)
				require.True(t, ok)
				require.Equal(t, v, raw, "len %d", len(v))
			}
		})
	}
}

func TestBelowThresholdIsPassthrough(t *testing.T) {
	c := newCodec(t, AlgorithmZstd)
	w := NewWorker()
	defer w.Close()

	v := sample(64)
	enc, err := c.Compress(w, v)
	require.NoError(t, err)
	assert.Equal(t, v, enc)
	assert.False(t, IsCompressed(enc))

	raw, ok, err := c.Decompress(w, enc, false)
	require.NoError(t, err)
	require.True(t, ok)
	// the stored bytes are handed back without copying
	assert.Same(t, &enc[0], &raw[0])
}

func TestEscapedRaw(t *testing.T) {
	c := newCodec(t, AlgorithmZstd)
	w := NewWorker()

	enc, err := c.Compress(w, []byte{0xFE, 'x'})
	require.NoError(t, err)
	assert.Equal(t, []byte{TagEscaped, 0xFE, 'x'}, enc)
	assert.False(t, IsCompressed(enc))
}

func TestCompressedEnvelope(t *testing.T) {
	c := newCodec(t, AlgorithmZstd)
	w := NewWorker()
	defer w.Close()

	v := sample(5000)
	enc, err := c.Compress(w, v)
	require.NoError(t, err)
	require.True(t, IsCompressed(enc))
	assert.Less(t, len(enc), len(v))

	size, err := UncompressedSize(enc)
	require.NoError(t, err)
	assert.Equal(t, len(v), size)
}

func TestIncompressibleStoredRaw(t *testing.T) {
	c := newCodec(t, AlgorithmLZ4)
	w := NewWorker()

	// a de Bruijn like sequence without repeats lz4 could exploit
	v := make([]byte, 256)
	for i := range v {
		v[i] = byte(i*167 + 13)
	}
	v[0] = 'a'
	enc, err := c.Compress(w, v)
	require.NoError(t, err)
	assert.False(t, IsCompressed(enc))

	raw, ok, err := c.Decompress(w, enc, false)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, v, raw)
}

func TestScratchFallback(t *testing.T) {
	c := newCodec(t, AlgorithmZstd)
	w := NewWorkerSize(1024)
	defer w.Close()

	small, err := c.Compress(w, sample(1000))
	require.NoError(t, err)
	raw, ok, err := c.Decompress(w, small, false)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, sample(1000), raw)

	large, err := c.Compress(w, sample(8000))
	require.NoError(t, err)
	raw, ok, err = c.Decompress(w, large, false)
	require.NoError(t, err, "fallback is not an error")
	require.False(t, ok)
	require.Nil(t, raw)

	raw, ok, err = c.Decompress(w, large, true)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, sample(8000), raw)
}

func TestCorrupt(t *testing.T) {
	c := newCodec(t, AlgorithmZstd)
	w := NewWorker()
	defer w.Close()

	_, _, err := c.Decompress(w, []byte{TagCompressed}, true)
	assert.ErrorIs(t, err, ErrCorrupt)

	_, _, err = c.Decompress(w, []byte{TagCompressed, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0x01}, true)
	assert.ErrorIs(t, err, ErrCorrupt)

	enc, err := c.Compress(w, sample(3000))
	require.NoError(t, err)
	broken := append([]byte(nil), enc[:len(enc)/2]...)
	_, _, err = c.Decompress(w, broken, true)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestDictionary(t *testing.T) {
	dict := sample(16 << 10)
	opts := DefaultOptions()
	opts.Threshold = 16
	opts.Dictionary = dict
	c, err := New(opts)
	require.NoError(t, err)
	require.NotZero(t, c.DictionaryID())

	plain, err := New(Options{Threshold: 16})
	require.NoError(t, err)

	w := NewWorker()
	defer w.Close()

	v := []byte(`{"id":3,"name":"user-3","active":true},{"id":4,"name":"user-4","active":true}`)
	withDict, err := c.Compress(w, v)
	require.NoError(t, err)
	withoutDict, err := plain.Compress(w, v)
	require.NoError(t, err)
	assert.Less(t, len(withDict), len(withoutDict))

	raw, ok, err := c.Decompress(w, withDict, false)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, v, raw)

	// the dictionary is resolved on every call
	c.SetDictionary(sample(8 << 10)[100:])
	_, _, err = c.Decompress(w, withDict, true)
	assert.ErrorIs(t, err, ErrDictionaryMismatch)

	c.SetDictionary(dict)
	raw, ok, err = c.Decompress(w, withDict, true)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, v, raw)
}

func TestUnknownAlgorithm(t *testing.T) {
	_, err := New(Options{Algorithm: "brotli"})
	assert.ErrorIs(t, err, ErrUnknownAlgorithm)
}

func TestVersionEnvelope(t *testing.T) {
	stored := WrapVersion(42, []byte("value"))
	require.Len(t, stored, VersionSize+5)

	version, rest, err := SplitVersion(stored)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), version)
	assert.Equal(t, []byte("value"), rest)

	_, _, err = SplitVersion([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrCorrupt)
}

func BenchmarkDecompressScratch(b *testing.B) {
	c, _ := New(DefaultOptions())
	w := NewWorker()
	enc, _ := c.Compress(w, sample(4000))

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, ok, err := c.Decompress(w, enc, false); !ok || err != nil {
			b.Fatal(ok, err)
		}
	}
}

func TestUnwrap(t *testing.T) {
	c := newCodec(t, AlgorithmZstd)
	w := NewWorker()
	defer w.Close()

	raw, ok := Unwrap([]byte("plain"))
	assert.True(t, ok)
	assert.Equal(t, "plain", string(raw))

	raw, ok = Unwrap([]byte{})
	assert.True(t, ok)
	assert.Empty(t, raw)

	escaped, err := c.Compress(w, []byte{TagEscaped, 1, 2})
	require.NoError(t, err)
	raw, ok = Unwrap(escaped)
	assert.True(t, ok)
	assert.Equal(t, []byte{TagEscaped, 1, 2}, raw)

	enc, err := c.Compress(w, sample(4096))
	require.NoError(t, err)
	require.True(t, IsCompressed(enc))
	_, ok = Unwrap(enc)
	assert.False(t, ok)
}

func TestWorkerScratch(t *testing.T) {
	w := NewWorkerSize(32)
	defer w.Close()
	assert.Equal(t, 32, w.ScratchSize())

	buf, ok := w.Scratch(10)
	require.True(t, ok)
	assert.Len(t, buf, 10)

	_, ok = w.Scratch(33)
	assert.False(t, ok)
}
