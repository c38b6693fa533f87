package flat

import (
	"bytes"

	"github.com/ValentinKolb/txKV/lib/engine"
)

// cursor implements engine.Cursor on top of a store iterator bounded to one
// database. ahead is set when the iterator already sits on the entry the next
// call to Next must return.
type cursor struct {
	it     Iterator
	dbi    engine.DBI
	prefix []byte
	dup    bool
	key    []byte
	valid  bool
	ahead  bool
	closed bool
}

func notFound(op string) error {
	return engine.NewError(engine.CodeNotFound, op, "no entry")
}

// decode splits the current iterator entry
func (c *cursor) decode() (key, value []byte, err error) {
	raw := c.it.Key()[len(c.prefix):]
	if !c.dup {
		v := c.it.Value()
		if v == nil {
			v = []byte{}
		}
		return raw, v, nil
	}
	key, value, ok := splitDup(raw)
	if !ok {
		return nil, nil, engine.NewError(engine.CodeCorrupted, "cursor", "malformed duplicate entry")
	}
	return key, value, nil
}

// settle publishes the iterator position after a positioning call
func (c *cursor) settle(op string, ok bool) ([]byte, []byte, error) {
	c.ahead = false
	if !ok {
		c.key, c.valid = nil, false
		if err := c.it.Error(); err != nil {
			return nil, nil, engine.WrapError(engine.CodeBadTxn, op, err)
		}
		return nil, nil, notFound(op)
	}
	k, v, err := c.decode()
	if err != nil {
		c.key, c.valid = nil, false
		return nil, nil, err
	}
	c.key, c.valid = bytes.Clone(k), true
	return k, v, nil
}

func (c *cursor) usable(op string) error {
	if c.closed {
		return engine.NewError(engine.CodeBadTxn, op, "cursor closed")
	}
	return nil
}

func (c *cursor) First() ([]byte, []byte, error) {
	if err := c.usable("cursor first"); err != nil {
		return nil, nil, err
	}
	return c.settle("cursor first", c.it.First())
}

func (c *cursor) Seek(key []byte) ([]byte, []byte, error) {
	if err := c.usable("cursor seek"); err != nil {
		return nil, nil, err
	}
	target := plainKey(c.dbi, key)
	if c.dup {
		// duplicates of key start at its escaped prefix
		target = dupPrefix(c.dbi, key)
		target = target[:len(target)-2]
	}
	return c.settle("cursor seek", c.it.SeekGE(target))
}

func (c *cursor) Next() ([]byte, []byte, error) {
	if err := c.usable("cursor next"); err != nil {
		return nil, nil, err
	}
	if c.ahead {
		return c.settle("cursor next", true)
	}
	if !c.valid {
		return nil, nil, notFound("cursor next")
	}
	return c.settle("cursor next", c.it.Next())
}

func (c *cursor) SetKey(key []byte) ([]byte, error) {
	if err := c.usable("cursor set key"); err != nil {
		return nil, err
	}
	k, v, err := c.Seek(key)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(k, key) {
		c.key, c.valid, c.ahead = nil, false, false
		return nil, notFound("cursor set key")
	}
	return v, nil
}

func (c *cursor) NextDup() ([]byte, error) {
	if err := c.usable("cursor next dup"); err != nil {
		return nil, err
	}
	if !c.dup || !c.valid || c.ahead {
		return nil, notFound("cursor next dup")
	}
	if !c.it.Next() {
		c.valid = false
		if err := c.it.Error(); err != nil {
			return nil, engine.WrapError(engine.CodeBadTxn, "cursor next dup", err)
		}
		return nil, notFound("cursor next dup")
	}
	k, v, err := c.decode()
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(k, c.key) {
		c.ahead = true
		return nil, notFound("cursor next dup")
	}
	return v, nil
}

func (c *cursor) Close() {
	if c.closed {
		return
	}
	c.closed = true
	_ = c.it.Close()
}
