package writer

import (
	"time"

	"github.com/ValentinKolb/txKV/lib/codec"
	"github.com/ValentinKolb/txKV/lib/engine"
)

const (
	DefaultMaxBatchWait = time.Millisecond
	DefaultMaxBatchSize = 10000
	DefaultMaxPending   = 1024
)

// Options configures a Writer.
type Options struct {
	// Name labels the writer's metrics.
	Name string
	// MaxBatchWait bounds how long an open batch waits for more work before it
	// commits. Zero commits as soon as the queue is empty.
	MaxBatchWait time.Duration
	// MaxBatchSize caps the instructions applied in one transaction.
	MaxBatchSize int
	// MaxPending caps the submissions that are queued or in progress; further
	// submissions block.
	MaxPending int
}

// DefaultOptions returns the default writer configuration.
func DefaultOptions() Options {
	return Options{
		Name:         "default",
		MaxBatchWait: DefaultMaxBatchWait,
		MaxBatchSize: DefaultMaxBatchSize,
		MaxPending:   DefaultMaxPending,
	}
}

// DBConfig tells the writer how values of a database are stored.
type DBConfig struct {
	// Codec compresses values; nil stores them verbatim.
	Codec *codec.Codec
	// Versions prefixes every value with its version.
	Versions bool
}

// CommitInfo describes a successful commit.
type CommitInfo struct {
	TxnID        uint64
	Instructions int
	// Dropped lists databases deleted by the transaction.
	Dropped []engine.DBI
	// Cleared lists databases emptied (but kept) by the transaction.
	Cleared []engine.DBI
}

// Hooks connect the writer to its owner. All hooks run on the writer goroutine.
type Hooks struct {
	// Resolve returns the storage configuration of a database.
	Resolve func(dbi engine.DBI) DBConfig
	// BeforeCommit runs right before a transaction commits.
	BeforeCommit func()
	// OnCommit runs after a successful commit.
	OnCommit func(CommitInfo)
}
