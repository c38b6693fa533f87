package flat

import (
	"bytes"
	"encoding/binary"

	"github.com/ValentinKolb/txKV/lib/engine"
)

// Keyspace layout:
//
//	0x00 'd' name          -> dbi (u32 BE) | flags (u32 BE)   catalog entry
//	0x00 's'               -> next dbi (u32 BE)               identifier sequence
//	0x01 dbi key           -> value                           plain databases
//	0x01 dbi esc(key) 0x00 0x01 value -> empty                dupsort databases
//
// esc replaces 0x00 by 0x00 0xFF, so the terminator 0x00 0x01 sorts before any
// longer key sharing the prefix and duplicates sort by value.
const (
	metaPrefix = 0x00
	dataPrefix = 0x01

	escByte    = 0x00
	escEscaped = 0xFF
	escEnd     = 0x01
)

var seqKey = []byte{metaPrefix, 's'}

func catalogKey(name string) []byte {
	return append([]byte{metaPrefix, 'd'}, name...)
}

func encodeCatalog(dbi engine.DBI, flags engine.DBFlags) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint32(buf[:4], uint32(dbi))
	binary.BigEndian.PutUint32(buf[4:], uint32(flags))
	return buf
}

func decodeCatalog(raw []byte) (engine.DBI, engine.DBFlags, bool) {
	if len(raw) != 8 {
		return 0, 0, false
	}
	return engine.DBI(binary.BigEndian.Uint32(raw[:4])), engine.DBFlags(binary.BigEndian.Uint32(raw[4:])), true
}

// dbPrefix returns the prefix of every data key of dbi
func dbPrefix(dbi engine.DBI) []byte {
	buf := make([]byte, 5)
	buf[0] = dataPrefix
	binary.BigEndian.PutUint32(buf[1:], uint32(dbi))
	return buf
}

// dbBounds returns the key range holding the data of dbi
func dbBounds(dbi engine.DBI) (lower, upper []byte) {
	lower = dbPrefix(dbi)
	upper = prefixEnd(lower)
	return lower, upper
}

// prefixEnd returns the smallest key greater than every key with prefix p
func prefixEnd(p []byte) []byte {
	end := bytes.Clone(p)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xFF {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

func plainKey(dbi engine.DBI, key []byte) []byte {
	return append(dbPrefix(dbi), key...)
}

// dupPrefix returns the prefix shared by all duplicates of key
func dupPrefix(dbi engine.DBI, key []byte) []byte {
	buf := dbPrefix(dbi)
	for _, b := range key {
		if b == escByte {
			buf = append(buf, escByte, escEscaped)
			continue
		}
		buf = append(buf, b)
	}
	return append(buf, escByte, escEnd)
}

func dupKey(dbi engine.DBI, key, value []byte) []byte {
	return append(dupPrefix(dbi, key), value...)
}

// splitDup decodes the user key and value of a dupsort data key (without the db prefix)
func splitDup(raw []byte) (key, value []byte, ok bool) {
	escaped := false
	for i := 0; i+1 < len(raw); i++ {
		if raw[i] != escByte {
			continue
		}
		switch raw[i+1] {
		case escEnd:
			key = raw[:i]
			if escaped {
				key = bytes.ReplaceAll(key, []byte{escByte, escEscaped}, []byte{escByte})
			}
			return key, raw[i+2:], true
		case escEscaped:
			escaped = true
			i++
		default:
			return nil, nil, false
		}
	}
	return nil, nil, false
}
