package bolt

import (
	"bytes"

	"github.com/ValentinKolb/txKV/lib/engine"
	"go.etcd.io/bbolt"
)

// cursor implements engine.Cursor. For dupsort databases c walks the parent
// bucket and dc walks the duplicates of the current key.
type cursor struct {
	bucket *bbolt.Bucket
	dup    bool
	c      *bbolt.Cursor
	dc     *bbolt.Cursor
	key    []byte
	closed bool
}

func notFound(op string) error {
	return engine.NewError(engine.CodeNotFound, op, "no entry")
}

func (c *cursor) usable(op string) error {
	if c.closed {
		return engine.NewError(engine.CodeBadTxn, op, "cursor closed")
	}
	if c.c == nil {
		return notFound(op)
	}
	return nil
}

// position settles the cursor on k, skipping keys without duplicates
func (c *cursor) position(op string, k, v []byte) ([]byte, []byte, error) {
	for k != nil {
		if !c.dup {
			if v == nil {
				v = []byte{}
			}
			c.key = k
			return k, v, nil
		}
		if sub := c.bucket.Bucket(k); sub != nil {
			c.dc = sub.Cursor()
			if first, _ := c.dc.First(); first != nil {
				c.key = k
				return k, first, nil
			}
		}
		k, v = c.c.Next()
	}
	c.key, c.dc = nil, nil
	return nil, nil, notFound(op)
}

func (c *cursor) First() ([]byte, []byte, error) {
	if err := c.usable("cursor first"); err != nil {
		return nil, nil, err
	}
	k, v := c.c.First()
	return c.position("cursor first", k, v)
}

func (c *cursor) Seek(key []byte) ([]byte, []byte, error) {
	if err := c.usable("cursor seek"); err != nil {
		return nil, nil, err
	}
	k, v := c.c.Seek(key)
	return c.position("cursor seek", k, v)
}

func (c *cursor) Next() ([]byte, []byte, error) {
	if err := c.usable("cursor next"); err != nil {
		return nil, nil, err
	}
	if c.dup && c.dc != nil {
		if dv, _ := c.dc.Next(); dv != nil {
			return c.key, dv, nil
		}
	}
	k, v := c.c.Next()
	return c.position("cursor next", k, v)
}

func (c *cursor) SetKey(key []byte) ([]byte, error) {
	if err := c.usable("cursor set key"); err != nil {
		return nil, err
	}
	k, v := c.c.Seek(key)
	if k == nil || !bytes.Equal(k, key) {
		c.key, c.dc = nil, nil
		return nil, notFound("cursor set key")
	}
	_, value, err := c.position("cursor set key", k, v)
	if err == nil && !bytes.Equal(c.key, key) {
		// the key had no duplicates left and position moved past it
		c.key, c.dc = nil, nil
		return nil, notFound("cursor set key")
	}
	return value, err
}

func (c *cursor) NextDup() ([]byte, error) {
	if err := c.usable("cursor next dup"); err != nil {
		return nil, err
	}
	if !c.dup || c.dc == nil {
		return nil, notFound("cursor next dup")
	}
	dv, _ := c.dc.Next()
	if dv == nil {
		return nil, notFound("cursor next dup")
	}
	return dv, nil
}

func (c *cursor) Close() {
	c.closed = true
	c.dc = nil
	c.c = nil
}
