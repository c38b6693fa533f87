package prefetch

import (
	"github.com/lni/dragonboat/v4/logger"

	"github.com/ValentinKolb/txKV/lib/engine"
	"github.com/ValentinKolb/txKV/lib/instruction"
)

var Logger = logger.GetLogger("prefetch")

// PageSize is the stride at which values are touched.
const PageSize = 4096

// Prefetch reads one byte of every page of the values stored for keys, so a
// memory mapped engine faults them in now instead of on the next read. For
// duplicate-key databases every duplicate is touched. Missing keys and keys
// the database cannot hold are skipped.
//
// The returned effect is the sum of the touched bytes. It has no meaning
// beyond keeping the reads from being optimised away.
//
// Thread-safety: Prefetch uses its own read transaction and may run
// concurrently with writers and other readers.
func Prefetch(eng engine.Engine, dbi engine.DBI, keys *instruction.KeyList) (uint64, error) {
	txn, err := eng.Begin(false)
	if err != nil {
		return 0, err
	}
	defer txn.Abort()

	flags, err := txn.Flags(dbi)
	if err != nil {
		return 0, err
	}
	dup := flags&engine.DBDupSort != 0

	cur, err := txn.Cursor(dbi)
	if err != nil {
		return 0, err
	}
	defer cur.Close()

	var effect uint64
	var touched, skipped int
	err = keys.Each(func(key []byte) error {
		value, err := cur.SetKey(key)
		if err == nil {
			touched++
		} else if skippable(err) {
			skipped++
			return nil
		}
		for err == nil {
			effect += touch(value)
			if !dup {
				return nil
			}
			value, err = cur.NextDup()
		}
		if engine.IsNotFound(err) {
			return nil
		}
		return err
	})
	Logger.Debugf("prefetched %d keys of dbi %d (%d skipped)", touched, dbi, skipped)
	return effect, err
}

// touch reads one byte per page of value
func touch(value []byte) uint64 {
	var sum uint64
	for i := 0; i < len(value); i += PageSize {
		sum += uint64(value[i])
	}
	return sum
}

func skippable(err error) bool {
	switch engine.CodeOf(err) {
	case engine.CodeNotFound, engine.CodeKeyTooLarge, engine.CodeBadValSize:
		return true
	default:
		return false
	}
}
