package instruction

import (
	"encoding/binary"
	"fmt"
)

// KeyList packs an ordered list of keys with the inline/out-of-line convention
// of Buffer: a length word followed by the padded key, or wordOutOfLine and a
// reference into the attachment table.
type KeyList struct {
	threshold   int
	words       []byte
	attachments [][]byte
	n           int
}

// NewKeyList returns an empty list. Keys longer than inlineThreshold are
// attached out of line; a non-positive threshold selects the default.
func NewKeyList(inlineThreshold int) *KeyList {
	if inlineThreshold <= 0 {
		inlineThreshold = DefaultInlineKeyThreshold
	}
	return &KeyList{threshold: inlineThreshold}
}

// KeysOf builds a list from keys.
func KeysOf(keys ...[]byte) *KeyList {
	l := NewKeyList(0)
	for _, k := range keys {
		l.Add(k)
	}
	return l
}

// Add appends key.
func (l *KeyList) Add(key []byte) {
	le := binary.LittleEndian
	if len(key) == 0 || len(key) > l.threshold {
		l.attachments = append(l.attachments, key)
		l.words = le.AppendUint32(l.words, wordOutOfLine)
		l.words = le.AppendUint32(l.words, uint32(len(l.attachments)-1))
	} else {
		l.words = le.AppendUint32(l.words, uint32(len(key)))
		l.words = append(l.words, key...)
		for n := len(key); n%4 != 0; n++ {
			l.words = append(l.words, 0)
		}
	}
	l.n++
}

// Len returns the number of keys.
func (l *KeyList) Len() int {
	return l.n
}

// Each calls fn for every key in order and stops at the first error.
func (l *KeyList) Each(fn func(key []byte) error) error {
	le := binary.LittleEndian
	for pos := 0; pos < len(l.words); {
		if pos+4 > len(l.words) {
			return fmt.Errorf("%w: truncated key list", ErrMalformed)
		}
		head := le.Uint32(l.words[pos:])
		pos += 4

		var key []byte
		switch {
		case head == wordOutOfLine:
			if pos+4 > len(l.words) {
				return fmt.Errorf("%w: truncated key list", ErrMalformed)
			}
			ref := le.Uint32(l.words[pos:])
			pos += 4
			if int(ref) >= len(l.attachments) {
				return fmt.Errorf("%w: attachment %d out of range", ErrMalformed, ref)
			}
			key = l.attachments[ref]
		case head == wordEnd:
			return nil
		default:
			n := int(head)
			if pos+pad4(n) > len(l.words) {
				return fmt.Errorf("%w: key length %d exceeds list", ErrMalformed, n)
			}
			key = l.words[pos : pos+n : pos+n]
			pos += pad4(n)
		}
		if err := fn(key); err != nil {
			return err
		}
	}
	return nil
}
