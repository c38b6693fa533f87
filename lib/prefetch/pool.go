package prefetch

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/ValentinKolb/txKV/lib/engine"
	"github.com/ValentinKolb/txKV/lib/instruction"
)

// DefaultWorkers is the concurrency of a pool created with zero workers.
const DefaultWorkers = 4

// Result is the outcome of an asynchronous prefetch.
type Result struct {
	Effect uint64
	Err    error
}

// Pool bounds the number of prefetches running at the same time.
//
// Thread-safety: all methods may be called concurrently.
type Pool struct {
	sem     *semaphore.Weighted
	workers int
	wg      sync.WaitGroup
}

// NewPool creates a pool running at most workers prefetches at once.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Pool{sem: semaphore.NewWeighted(int64(workers)), workers: workers}
}

// Workers returns the concurrency limit.
func (p *Pool) Workers() int {
	return p.workers
}

// Run prefetches keys on the calling goroutine once a slot is free.
func (p *Pool) Run(ctx context.Context, eng engine.Engine, dbi engine.DBI, keys *instruction.KeyList) (uint64, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return 0, err
	}
	defer p.sem.Release(1)
	return Prefetch(eng, dbi, keys)
}

// Go prefetches keys on a new goroutine. The channel receives exactly one
// result and is then closed.
func (p *Pool) Go(ctx context.Context, eng engine.Engine, dbi engine.DBI, keys *instruction.KeyList) <-chan Result {
	out := make(chan Result, 1)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer close(out)
		effect, err := p.Run(ctx, eng, dbi, keys)
		out <- Result{Effect: effect, Err: err}
	}()
	return out
}

// Wait blocks until every prefetch started with Go returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}
