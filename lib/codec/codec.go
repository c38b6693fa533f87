package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/ValentinKolb/txKV/lib/util"
	"github.com/klauspost/compress/zstd"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/pierrec/lz4/v4"
)

var Logger = logger.GetLogger("codec")

// Algorithm selects the compression algorithm.
type Algorithm string

const (
	AlgorithmZstd Algorithm = "zstd"
	AlgorithmLZ4  Algorithm = "lz4"
)

const (
	// DefaultThreshold is the size at or below which values are stored raw.
	DefaultThreshold = 1000
	// DefaultMaxSize bounds the uncompressed size of a single value.
	DefaultMaxSize = 64 << 20
)

// Options configures a Codec.
type Options struct {
	// Algorithm used for values above Threshold.
	Algorithm Algorithm
	// Threshold: values with len <= Threshold are stored raw.
	Threshold int
	// Acceleration >= 1 trades ratio for speed. 1 selects zstd's default level,
	// higher values its fastest one. lz4 block compression has a single speed.
	Acceleration int
	// MaxSize is the largest uncompressed value accepted by Decompress.
	MaxSize int
	// Dictionary is installed on creation (zstd only).
	Dictionary []byte
}

// DefaultOptions returns zstd compression with a 1000 byte threshold.
func DefaultOptions() Options {
	return Options{
		Algorithm:    AlgorithmZstd,
		Threshold:    DefaultThreshold,
		Acceleration: 1,
		MaxSize:      DefaultMaxSize,
	}
}

// dictionary is an installed compression dictionary. Workers cache encoder
// state per dictionary pointer.
type dictionary struct {
	id  uint32
	raw []byte
}

// Codec holds the configuration shared by all workers: algorithm, threshold
// and the current dictionary.
//
// Thread-safety: a Codec may be shared freely; per-call state lives in the
// Worker passed to Compress and Decompress.
type Codec struct {
	opts Options
	dict atomic.Pointer[dictionary]
}

// New validates opts and returns a Codec.
func New(opts Options) (*Codec, error) {
	switch opts.Algorithm {
	case AlgorithmZstd, AlgorithmLZ4:
	case "":
		opts.Algorithm = AlgorithmZstd
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, opts.Algorithm)
	}
	if opts.Threshold < 0 {
		opts.Threshold = 0
	}
	if opts.Acceleration < 1 {
		opts.Acceleration = 1
	}
	if opts.MaxSize <= 0 {
		opts.MaxSize = DefaultMaxSize
	}

	c := &Codec{opts: opts}
	c.dict.Store(&dictionary{})
	if len(opts.Dictionary) > 0 {
		c.SetDictionary(opts.Dictionary)
	}
	return c, nil
}

// Options returns the effective options (without the dictionary).
func (c *Codec) Options() Options {
	opts := c.opts
	opts.Dictionary = nil
	return opts
}

// SetDictionary installs raw as the dictionary for subsequent calls. Values
// compressed with an earlier dictionary fail with ErrDictionaryMismatch.
func (c *Codec) SetDictionary(raw []byte) {
	d := &dictionary{}
	if len(raw) > 0 {
		d.raw = append([]byte(nil), raw...)
		d.id = uint32(util.HashBytes(raw, 0))
		if d.id == 0 {
			d.id = 1
		}
	}
	c.dict.Store(d)
	Logger.Debugf("installed %d byte dictionary (id %d)", len(raw), d.id)
}

// DictionaryID returns the id of the installed dictionary (0 for none).
func (c *Codec) DictionaryID() uint32 {
	return c.dict.Load().id
}

// Compress returns the stored form of raw. Values at or below the threshold,
// and values compression does not shrink, are stored raw. The result may alias
// raw.
func (c *Codec) Compress(w *Worker, raw []byte) ([]byte, error) {
	if len(raw) <= c.opts.Threshold {
		return escape(raw), nil
	}

	out := make([]byte, 1, 1+binary.MaxVarintLen64+len(raw))
	out[0] = TagCompressed
	out = binary.AppendUvarint(out, uint64(len(raw)))

	var err error
	switch c.opts.Algorithm {
	case AlgorithmLZ4:
		out, err = compressLZ4(w, raw, out)
	default:
		var enc *zstd.Encoder
		if enc, err = w.encoder(c, c.dict.Load()); err == nil {
			out = enc.EncodeAll(raw, out)
		}
	}
	if err != nil {
		return nil, err
	}
	if out == nil || len(out) >= len(raw) {
		return escape(raw), nil
	}
	return out, nil
}

// Decompress returns the raw form of enc. Raw values are returned as is,
// without any work. Compressed values are decoded into the worker's scratch
// buffer, valid until the next call on w, unless allowAllocate is set.
//
// If allowAllocate is false and the value does not fit the scratch buffer,
// Decompress returns ok=false and a nil error: the caller should retry with
// allowAllocate set.
func (c *Codec) Decompress(w *Worker, enc []byte, allowAllocate bool) (raw []byte, ok bool, err error) {
	if raw, ok := Unwrap(enc); ok {
		return raw, true, nil
	}

	size, payload, err := header(enc)
	if err != nil {
		return nil, false, err
	}
	if size > c.opts.MaxSize {
		return nil, false, fmt.Errorf("%w: declared size %d exceeds limit %d", ErrCorrupt, size, c.opts.MaxSize)
	}

	var dst []byte
	if allowAllocate {
		dst = make([]byte, 0, size)
	} else {
		if size > cap(w.scratch) {
			return nil, false, nil
		}
		dst = w.scratch[:0]
	}

	switch c.opts.Algorithm {
	case AlgorithmLZ4:
		dst = dst[:size]
		n, lerr := lz4.UncompressBlock(payload, dst)
		if lerr != nil || n != size {
			return nil, false, fmt.Errorf("%w: lz4 block", ErrCorrupt)
		}
	default:
		dec, derr := w.decoder(c, c.dict.Load())
		if derr != nil {
			return nil, false, derr
		}
		dst, err = dec.DecodeAll(payload, dst)
		if errors.Is(err, zstd.ErrUnknownDictionary) {
			return nil, false, fmt.Errorf("%w: %v", ErrDictionaryMismatch, err)
		}
		if err != nil {
			return nil, false, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		if len(dst) != size {
			return nil, false, fmt.Errorf("%w: decoded %d bytes, expected %d", ErrCorrupt, len(dst), size)
		}
	}
	return dst, true, nil
}

func compressLZ4(w *Worker, raw, out []byte) ([]byte, error) {
	bound := lz4.CompressBlockBound(len(raw))
	hdr := len(out)
	if cap(out)-hdr < bound {
		grown := make([]byte, hdr, hdr+bound)
		copy(grown, out)
		out = grown
	}
	n, err := w.lz4.CompressBlock(raw, out[hdr:hdr+bound])
	if err != nil {
		return nil, err
	}
	if n == 0 {
		// incompressible
		return nil, nil
	}
	return out[:hdr+n], nil
}
