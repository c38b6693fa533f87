package codec

import (
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// DefaultScratchSize is the scratch capacity of NewWorker.
const DefaultScratchSize = 64 << 10

// zstdState is the encoder/decoder pair of one codec configuration
type zstdState struct {
	dict *dictionary
	enc  *zstd.Encoder
	dec  *zstd.Decoder
}

// Worker is the per-goroutine state of compression calls: zstd encoders and
// decoders bound to the current dictionary, an lz4 compressor and a scratch
// buffer for non-allocating decompression.
//
// Thread-safety: a Worker must only be used by one goroutine at a time.
type Worker struct {
	scratch []byte
	lz4     lz4.Compressor
	zstd    map[*Codec]*zstdState
}

// NewWorker returns a worker with DefaultScratchSize bytes of scratch space.
func NewWorker() *Worker {
	return NewWorkerSize(DefaultScratchSize)
}

// NewWorkerSize returns a worker whose scratch buffer holds values up to scratch bytes.
func NewWorkerSize(scratch int) *Worker {
	return &Worker{
		scratch: make([]byte, 0, scratch),
		zstd:    make(map[*Codec]*zstdState),
	}
}

// ScratchSize returns the capacity of the scratch buffer.
func (w *Worker) ScratchSize() int {
	return cap(w.scratch)
}

// Scratch returns the first n bytes of the scratch buffer, or false if n
// exceeds its capacity. The bytes are overwritten by the next call on w.
func (w *Worker) Scratch(n int) ([]byte, bool) {
	if n > cap(w.scratch) {
		return nil, false
	}
	return w.scratch[:n], true
}

// state returns the zstd state for c, rebuilding it when the codec's
// dictionary changed since the last call
func (w *Worker) state(c *Codec, d *dictionary) *zstdState {
	s, ok := w.zstd[c]
	if !ok || s.dict != d {
		w.release(s)
		s = &zstdState{dict: d}
		w.zstd[c] = s
	}
	return s
}

func (w *Worker) encoder(c *Codec, d *dictionary) (*zstd.Encoder, error) {
	s := w.state(c, d)
	if s.enc != nil {
		return s.enc, nil
	}

	level := zstd.SpeedDefault
	if c.opts.Acceleration > 1 {
		level = zstd.SpeedFastest
	}
	opts := []zstd.EOption{
		zstd.WithEncoderConcurrency(1),
		zstd.WithEncoderLevel(level),
		zstd.WithEncoderCRC(false),
	}
	if d.id != 0 {
		opts = append(opts, zstd.WithEncoderDictRaw(d.id, d.raw))
	}
	enc, err := zstd.NewWriter(nil, opts...)
	if err != nil {
		return nil, err
	}
	s.enc = enc
	return enc, nil
}

func (w *Worker) decoder(c *Codec, d *dictionary) (*zstd.Decoder, error) {
	s := w.state(c, d)
	if s.dec != nil {
		return s.dec, nil
	}

	opts := []zstd.DOption{
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderMaxMemory(uint64(c.opts.MaxSize)),
	}
	if d.id != 0 {
		opts = append(opts, zstd.WithDecoderDictRaw(d.id, d.raw))
	}
	dec, err := zstd.NewReader(nil, opts...)
	if err != nil {
		return nil, err
	}
	s.dec = dec
	return dec, nil
}

func (w *Worker) release(s *zstdState) {
	if s == nil {
		return
	}
	if s.enc != nil {
		_ = s.enc.Close()
	}
	if s.dec != nil {
		s.dec.Close()
	}
}

// Close releases the encoder and decoder state of the worker.
func (w *Worker) Close() {
	for c, s := range w.zstd {
		w.release(s)
		delete(w.zstd, c)
	}
}
