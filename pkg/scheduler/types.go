package scheduler

import (
	"context"
)

// Work is a unit of work executed by the scheduler. The context is
// cancelled when the Future is stopped or the scheduler closes.
type Work[T any] func(ctx context.Context) (T, error)

// Result carries the outcome of a Work invocation.
type Result[T any] struct {
	Data T
	Err  error
}

// Future is a one-shot handle to a result delivered on C.
type Future[T any] struct {
	input  chan T
	cancel context.CancelFunc
}

func NewFuture[T any](input chan T, cancel context.CancelFunc) *Future[T] {
	return &Future[T]{
		input:  input,
		cancel: cancel,
	}
}

// C returns the channel the result is delivered on. It receives at
// most one value.
func (f *Future[T]) C() chan T {
	return f.input
}

// Stop cancels the work's context. The work may still deliver a
// result (typically ctx.Err).
func (f *Future[T]) Stop() {
	f.cancel()
}
