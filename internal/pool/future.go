package pool

import (
	"context"
	"sync"
)

// Future is the caller's handle on an unresolved task. It resolves exactly
// once, with either the runner's result or a typed error, and exists as long
// as its task is live.
type Future struct {
	id   uint64
	done chan struct{}

	once   sync.Once
	result any
	err    error
}

func newFuture(id uint64) *Future {
	return &Future{id: id, done: make(chan struct{})}
}

// TaskID identifies the task for Cancel and log correlation.
func (f *Future) TaskID() uint64 { return f.id }

// Done is closed when the future resolves.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until resolution or ctx cancellation. On ctx cancellation the
// task itself keeps running; only the wait is abandoned.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result returns the outcome after Done is closed. Before resolution it
// returns (nil, nil); use Wait or Done to synchronize.
func (f *Future) Result() (any, error) {
	select {
	case <-f.done:
		return f.result, f.err
	default:
		return nil, nil
	}
}

// resolve is called by the coordinator only. The once guard keeps late
// duplicate resolutions (e.g. a stale worker result after forced shutdown)
// from clobbering the first.
func (f *Future) resolve(result any, err error) {
	f.once.Do(func() {
		f.result = result
		f.err = err
		close(f.done)
	})
}
