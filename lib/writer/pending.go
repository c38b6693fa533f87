package writer

import (
	"context"

	"github.com/ValentinKolb/txKV/lib/instruction"
)

// Pending is the completion handle of a submission.
type Pending struct {
	done    chan struct{}
	results []instruction.Result
	err     error
}

func newPending() *Pending {
	return &Pending{done: make(chan struct{})}
}

// Done is closed once every instruction of the submission is committed or failed.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the submission completed or ctx is done. Cancelling ctx
// does not withdraw the submission.
func (p *Pending) Wait(ctx context.Context) ([]instruction.Result, error) {
	select {
	case <-p.done:
		return p.results, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Results returns the per-instruction results. Only valid after Done.
func (p *Pending) Results() []instruction.Result {
	return p.results
}

// Err returns the submission level error: a protocol error of the buffer, the
// error of a user transaction or ErrClosed. Only valid after Done.
func (p *Pending) Err() error {
	return p.err
}
