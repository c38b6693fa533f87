package instruction

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/txKV/lib/engine"
)

// Wire layout, little endian 32 bit words:
//
//	word0  key length, or one of the sentinels below
//	word1  op | flags << 8
//	word2  database identifier
//	       key bytes padded to 4, or the attachment ref when out of line
//	put    value length (or outOfLine followed by a ref), value bytes padded to 4
//	       version (u64) if FlagVersion, expected version (u64) if FlagIfVersion
//
// A zero word0 ends the stream. Signals are a single word.
const (
	wordEnd         uint32 = 0
	wordOutOfLine   uint32 = 0xFFFFFFFF
	wordInterrupt   uint32 = 0xFFFFFFFE
	wordAllowCommit uint32 = 0xFFFFFFFD
	wordRestart     uint32 = 0xFFFFFFFC
	wordNoKey       uint32 = 0xFFFFFFFB

	// maxInline is the largest length representable inline
	maxInline = wordNoKey - 1
)

const (
	// DefaultCapacity is the default encoded size limit of a buffer.
	DefaultCapacity = 4 << 20
	// DefaultInlineKeyThreshold is the largest key stored inline.
	DefaultInlineKeyThreshold = 1978
	// DefaultInlineValueThreshold is the largest value stored inline.
	DefaultInlineValueThreshold = 4000
)

// Options configures a Buffer.
type Options struct {
	// Capacity bounds the encoded size; attachments do not count.
	Capacity int
	// Keys longer than InlineKeyThreshold are attached out of line.
	InlineKeyThreshold int
	// Values longer than InlineValueThreshold are attached out of line.
	InlineValueThreshold int
}

// DefaultOptions returns the default buffer configuration.
func DefaultOptions() Options {
	return Options{
		Capacity:             DefaultCapacity,
		InlineKeyThreshold:   DefaultInlineKeyThreshold,
		InlineValueThreshold: DefaultInlineValueThreshold,
	}
}

// Buffer accumulates instructions in the wire layout. Large keys and values
// are kept in the buffer's attachment table and referenced by index, so the
// buffer owns every byte an instruction refers to.
//
// Thread-safety: a Buffer is filled by one goroutine. Once sealed (by Seal or
// by submitting it) it is immutable and may be read concurrently.
type Buffer struct {
	opts        Options
	words       []byte
	attachments [][]byte
	count       int
	sealed      bool
}

// NewBuffer returns an empty buffer.
func NewBuffer(opts Options) *Buffer {
	def := DefaultOptions()
	if opts.Capacity <= 0 {
		opts.Capacity = def.Capacity
	}
	if opts.InlineKeyThreshold <= 0 {
		opts.InlineKeyThreshold = def.InlineKeyThreshold
	}
	if opts.InlineValueThreshold <= 0 {
		opts.InlineValueThreshold = def.InlineValueThreshold
	}
	return &Buffer{opts: opts, words: make([]byte, 0, 256)}
}

// FromBytes wraps an already encoded stream and its attachments.
func FromBytes(words []byte, attachments [][]byte) *Buffer {
	return &Buffer{
		opts:        DefaultOptions(),
		words:       words,
		attachments: attachments,
		count:       -1,
		sealed:      true,
	}
}

// Len returns the number of instructions (signals excluded), or -1 for buffers
// created by FromBytes.
func (b *Buffer) Len() int {
	return b.count
}

// Size returns the encoded size in bytes.
func (b *Buffer) Size() int {
	return len(b.words)
}

// Bytes returns the encoded stream.
func (b *Buffer) Bytes() []byte {
	return b.words
}

// Attachments returns the out-of-line data table.
func (b *Buffer) Attachments() [][]byte {
	return b.attachments
}

// Sealed reports whether the buffer is closed for appends.
func (b *Buffer) Sealed() bool {
	return b.sealed
}

// Seal terminates the stream. Further appends fail with ErrSealed.
func (b *Buffer) Seal() {
	if b.sealed {
		return
	}
	b.words = binary.LittleEndian.AppendUint32(b.words, wordEnd)
	b.sealed = true
}

// Resolve returns the bytes d refers to.
func (b *Buffer) Resolve(d Data) ([]byte, error) {
	if !d.IsOutOfLine() {
		return d.Bytes(), nil
	}
	if int(d.Ref()) >= len(b.attachments) {
		return nil, fmt.Errorf("%w: attachment %d out of range", ErrMalformed, d.Ref())
	}
	return b.attachments[d.Ref()], nil
}

// --------------------------------------------------------------------------
// Appending
// --------------------------------------------------------------------------

// Put appends a put of key/value.
func (b *Buffer) Put(dbi engine.DBI, key, value []byte, flags Flags) error {
	return b.Add(Instruction{Op: OpPut, DBI: dbi, Key: key, Value: value, Flags: flags})
}

// Delete appends a delete of key.
func (b *Buffer) Delete(dbi engine.DBI, key []byte) error {
	return b.Add(Instruction{Op: OpDelete, DBI: dbi, Key: key})
}

// Drop appends a drop of the database. With del the database is deleted,
// otherwise only emptied.
func (b *Buffer) Drop(dbi engine.DBI, del bool) error {
	var flags Flags
	if !del {
		flags = FlagJustFreePages
	}
	return b.Add(Instruction{Op: OpDrop, DBI: dbi, Flags: flags})
}

// Sync appends a marker that commits the batch and flushes the engine.
func (b *Buffer) Sync() error {
	return b.Add(Instruction{Op: OpSync})
}

// Interrupt appends an interrupt-batch signal.
func (b *Buffer) Interrupt() error {
	return b.signal(wordInterrupt)
}

// AllowCommit appends an allow-commit signal.
func (b *Buffer) AllowCommit() error {
	return b.signal(wordAllowCommit)
}

// Restart appends a restart-worker-transaction signal.
func (b *Buffer) Restart() error {
	return b.signal(wordRestart)
}

func (b *Buffer) signal(word uint32) error {
	if err := b.reserve(4); err != nil {
		return err
	}
	b.words = binary.LittleEndian.AppendUint32(b.words, word)
	return nil
}

// reserve checks that n more bytes plus the terminator fit
func (b *Buffer) reserve(n int) error {
	if b.sealed {
		return ErrSealed
	}
	if len(b.words)+n+4 > b.opts.Capacity {
		return ErrBufferFull
	}
	return nil
}

// Add appends an instruction. Version and IfVersion are encoded when
// FlagVersion and FlagIfVersion are set.
func (b *Buffer) Add(ins Instruction) error {
	if !ins.Op.valid() {
		return fmt.Errorf("%w: %d", ErrUnknownOp, ins.Op)
	}
	if ins.Flags&^flagMask != 0 {
		return fmt.Errorf("%w: flags %#x exceed 24 bits", ErrMalformed, ins.Flags)
	}

	withValue := ins.Op == OpPut || (ins.Op == OpDelete && ins.Has(FlagValue))
	var key, value Data
	if ins.Op.hasKey() {
		key = b.place(ins.Key, b.opts.InlineKeyThreshold, true)
	}
	if withValue {
		value = b.place(ins.Value, b.opts.InlineValueThreshold, false)
	}

	size := 12 + dataSize(key, ins.Op.hasKey())
	if withValue {
		size += 4 + dataSize(value, true)
	}
	if ins.Has(FlagVersion) {
		size += 8
	}
	if ins.Has(FlagIfVersion) {
		size += 8
	}
	if err := b.reserve(size); err != nil {
		b.unplace(key, value)
		return err
	}

	le := binary.LittleEndian
	switch {
	case !ins.Op.hasKey():
		b.words = le.AppendUint32(b.words, wordNoKey)
	case key.IsOutOfLine():
		b.words = le.AppendUint32(b.words, wordOutOfLine)
	default:
		b.words = le.AppendUint32(b.words, uint32(len(key.Bytes())))
	}
	b.words = le.AppendUint32(b.words, uint32(ins.Op)|uint32(ins.Flags)<<8)
	b.words = le.AppendUint32(b.words, uint32(ins.DBI))
	if ins.Op.hasKey() {
		b.appendData(key, false)
	}
	if withValue {
		b.appendData(value, true)
	}
	if ins.Has(FlagVersion) {
		b.words = le.AppendUint64(b.words, ins.Version)
	}
	if ins.Has(FlagIfVersion) {
		b.words = le.AppendUint64(b.words, ins.IfVersion)
	}
	b.count++
	return nil
}

// place decides between inline and out-of-line storage. Empty keys are always
// attached, as a zero length would terminate the stream.
func (b *Buffer) place(data []byte, threshold int, isKey bool) Data {
	if len(data) > threshold || len(data) > int(maxInline) || (isKey && len(data) == 0) {
		b.attachments = append(b.attachments, data)
		return OutOfLine(uint32(len(b.attachments) - 1))
	}
	return Inline(data)
}

// unplace removes attachments added for an entry that did not fit
func (b *Buffer) unplace(ds ...Data) {
	for i := len(ds) - 1; i >= 0; i-- {
		if ds[i].IsOutOfLine() && int(ds[i].Ref()) == len(b.attachments)-1 {
			b.attachments = b.attachments[:len(b.attachments)-1]
		}
	}
}

func dataSize(d Data, used bool) int {
	if !used {
		return 0
	}
	if d.IsOutOfLine() {
		return 4
	}
	return pad4(len(d.Bytes()))
}

// appendData writes d; values carry their own length word
func (b *Buffer) appendData(d Data, withLength bool) {
	le := binary.LittleEndian
	if d.IsOutOfLine() {
		if withLength {
			b.words = le.AppendUint32(b.words, wordOutOfLine)
		}
		b.words = le.AppendUint32(b.words, d.Ref())
		return
	}
	if withLength {
		b.words = le.AppendUint32(b.words, uint32(len(d.Bytes())))
	}
	b.words = append(b.words, d.Bytes()...)
	for n := len(d.Bytes()); n%4 != 0; n++ {
		b.words = append(b.words, 0)
	}
}

func pad4(n int) int {
	return (n + 3) &^ 3
}
