package bridge

import (
	"context"
	"sync"
)

// Future is the pending reply of an asynchronous request.
type Future struct {
	done chan struct{}
	once sync.Once
	msg  Message
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Resolved returns an already completed future.
func Resolved(msg Message, err error) *Future {
	f := newFuture()
	f.resolve(msg, err)
	return f
}

func (f *Future) resolve(msg Message, err error) {
	f.once.Do(func() {
		f.msg, f.err = msg, err
		close(f.done)
	})
}

// Done is closed once the reply is available.
func (f *Future) Done() <-chan struct{} { return f.done }

// Await blocks until the reply is available or ctx ends.
func (f *Future) Await(ctx context.Context) (Message, error) {
	select {
	case <-f.done:
		return f.msg, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
