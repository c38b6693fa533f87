package memory

import (
	"bytes"

	"github.com/google/btree"
)

// iterator walks [lower, upper) of an immutable tree, buffering a chunk of
// entries at a time
type iterator struct {
	tree         *btree.BTreeG[item]
	lower, upper []byte

	buf []item
	pos int
}

func newIterator(tree *btree.BTreeG[item], lower, upper []byte) *iterator {
	return &iterator{tree: tree, lower: lower, upper: upper, pos: -1}
}

func (it *iterator) inRange(key []byte) bool {
	return it.upper == nil || bytes.Compare(key, it.upper) < 0
}

// fill buffers up to iterChunk entries starting at from (exclusive if skip)
func (it *iterator) fill(from []byte, skip bool) bool {
	it.buf, it.pos = it.buf[:0], 0
	it.tree.AscendGreaterOrEqual(item{key: from}, func(i item) bool {
		if skip && bytes.Equal(i.key, from) {
			return true
		}
		if !it.inRange(i.key) {
			return false
		}
		it.buf = append(it.buf, i)
		return len(it.buf) < iterChunk
	})
	if len(it.buf) == 0 {
		it.pos = -1
		return false
	}
	return true
}

func (it *iterator) valid() bool {
	return it.pos >= 0 && it.pos < len(it.buf)
}

func (it *iterator) First() bool {
	return it.fill(it.lower, false)
}

func (it *iterator) Last() bool {
	it.buf, it.pos = it.buf[:0], -1
	visit := func(i item) bool {
		if !it.inRange(i.key) {
			return true
		}
		if bytes.Compare(i.key, it.lower) >= 0 {
			it.buf = append(it.buf, i)
			it.pos = 0
		}
		return false
	}
	if it.upper == nil {
		it.tree.Descend(visit)
	} else {
		it.tree.DescendLessOrEqual(item{key: it.upper}, visit)
	}
	return it.valid()
}

func (it *iterator) SeekGE(key []byte) bool {
	if bytes.Compare(key, it.lower) < 0 {
		key = it.lower
	}
	return it.fill(key, false)
}

func (it *iterator) Next() bool {
	if !it.valid() {
		return false
	}
	if it.pos+1 < len(it.buf) {
		it.pos++
		return true
	}
	return it.fill(it.buf[it.pos].key, true)
}

func (it *iterator) Key() []byte {
	if !it.valid() {
		return nil
	}
	return it.buf[it.pos].key
}

func (it *iterator) Value() []byte {
	if !it.valid() {
		return nil
	}
	return it.buf[it.pos].value
}

func (it *iterator) Error() error {
	return nil
}

func (it *iterator) Close() error {
	it.buf, it.tree = nil, nil
	return nil
}
