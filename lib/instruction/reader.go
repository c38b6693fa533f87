package instruction

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/txKV/lib/engine"
)

// Reader decodes the entries of a sealed buffer in order. A Reader keeps its
// position, so a consumer may stop after any entry and continue later.
type Reader struct {
	buf   *Buffer
	pos   int
	index int
	done  bool
	err   error
}

// NewReader returns a reader positioned at the first entry.
func NewReader(buf *Buffer) *Reader {
	return &Reader{buf: buf}
}

// Offset returns the byte offset of the next entry.
func (r *Reader) Offset() int {
	return r.pos
}

// Consumed returns the number of instructions decoded so far.
func (r *Reader) Consumed() int {
	return r.index
}

// Done reports whether the end of the stream (or an error) was reached.
func (r *Reader) Done() bool {
	return r.done
}

// Next decodes the next entry. It returns false at the end of the stream.
// After an error every further call returns the same error.
func (r *Reader) Next() (Entry, bool, error) {
	if r.err != nil {
		return Entry{}, false, r.err
	}
	if r.done {
		return Entry{}, false, nil
	}
	entry, ok, err := r.next()
	if err != nil {
		r.err, r.done = err, true
		return Entry{}, false, err
	}
	if !ok {
		r.done = true
	}
	return entry, ok, nil
}

func (r *Reader) malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w at offset %d: %s", ErrMalformed, r.pos, fmt.Sprintf(format, args...))
}

func (r *Reader) word() (uint32, error) {
	words := r.buf.words
	if r.pos+4 > len(words) {
		return 0, r.malformed("unexpected end of buffer")
	}
	w := binary.LittleEndian.Uint32(words[r.pos:])
	r.pos += 4
	return w, nil
}

func (r *Reader) u64() (uint64, error) {
	words := r.buf.words
	if r.pos+8 > len(words) {
		return 0, r.malformed("unexpected end of buffer")
	}
	v := binary.LittleEndian.Uint64(words[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *Reader) bytes(n int) ([]byte, error) {
	words := r.buf.words
	if n < 0 || r.pos+pad4(n) > len(words) {
		return nil, r.malformed("length %d exceeds buffer", n)
	}
	b := words[r.pos : r.pos+n : r.pos+n]
	r.pos += pad4(n)
	return b, nil
}

func (r *Reader) ref() ([]byte, error) {
	ref, err := r.word()
	if err != nil {
		return nil, err
	}
	return r.buf.Resolve(OutOfLine(ref))
}

func (r *Reader) next() (Entry, bool, error) {
	head, err := r.word()
	if err != nil {
		return Entry{}, false, err
	}

	switch head {
	case wordEnd:
		return Entry{}, false, nil
	case wordInterrupt:
		return Entry{Kind: KindSignal, Signal: SignalInterrupt, Index: -1}, true, nil
	case wordAllowCommit:
		return Entry{Kind: KindSignal, Signal: SignalAllowCommit, Index: -1}, true, nil
	case wordRestart:
		return Entry{Kind: KindSignal, Signal: SignalRestart, Index: -1}, true, nil
	}

	opWord, err := r.word()
	if err != nil {
		return Entry{}, false, err
	}
	dbi, err := r.word()
	if err != nil {
		return Entry{}, false, err
	}

	ins := Instruction{
		Op:    Op(opWord & 0xFF),
		Flags: Flags(opWord >> 8),
		DBI:   engine.DBI(dbi),
	}
	if !ins.Op.valid() {
		return Entry{}, false, fmt.Errorf("%w: tag %d at offset %d", ErrUnknownOp, ins.Op, r.pos-8)
	}

	switch {
	case !ins.Op.hasKey():
		if head != wordNoKey {
			return Entry{}, false, r.malformed("%s carries a key", ins.Op)
		}
	case head == wordNoKey:
		return Entry{}, false, r.malformed("%s without key", ins.Op)
	case head == wordOutOfLine:
		if ins.Key, err = r.ref(); err != nil {
			return Entry{}, false, err
		}
	default:
		if ins.Key, err = r.bytes(int(head)); err != nil {
			return Entry{}, false, err
		}
	}

	if ins.Op == OpPut || (ins.Op == OpDelete && ins.Has(FlagValue)) {
		length, err := r.word()
		if err != nil {
			return Entry{}, false, err
		}
		if length == wordOutOfLine {
			ins.Value, err = r.ref()
		} else {
			ins.Value, err = r.bytes(int(length))
		}
		if err != nil {
			return Entry{}, false, err
		}
	}
	if ins.Has(FlagVersion) {
		if ins.Version, err = r.u64(); err != nil {
			return Entry{}, false, err
		}
	}
	if ins.Has(FlagIfVersion) {
		if ins.IfVersion, err = r.u64(); err != nil {
			return Entry{}, false, err
		}
	}

	entry := Entry{Kind: KindInstruction, Instruction: ins, Index: r.index}
	r.index++
	return entry, true, nil
}

// Decode reads every entry of a sealed buffer.
func Decode(buf *Buffer) ([]Entry, error) {
	r := NewReader(buf)
	var entries []Entry
	for {
		e, ok, err := r.Next()
		if err != nil {
			return entries, err
		}
		if !ok {
			return entries, nil
		}
		entries = append(entries, e)
	}
}
