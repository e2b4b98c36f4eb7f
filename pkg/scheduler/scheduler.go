// Package scheduler provides a fixed-size worker pool used to move
// blocking database work off the host runtime's primary thread. Work is
// submitted as a function and observed through a Future.
package scheduler

import (
	"context"
	"fmt"
	"sync"
)

type request struct {
	fn  Work[any]
	c   chan Result[any]
	ctx context.Context
}

// Scheduler dispatches submitted work to a bounded set of workers.
// Pending work queues in submission order; completion order across
// workers is not guaranteed.
type Scheduler struct {
	work       chan request
	tokens     chan struct{}
	closing    chan struct{}
	drained    chan struct{}
	mainCtx    context.Context
	mainCancel context.CancelFunc
	wg         sync.WaitGroup
	once       sync.Once
}

func NewScheduler(nbWorkers int) *Scheduler {
	if nbWorkers < 1 {
		nbWorkers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		work:       make(chan request),
		tokens:     make(chan struct{}, nbWorkers),
		closing:    make(chan struct{}),
		drained:    make(chan struct{}),
		mainCtx:    ctx,
		mainCancel: cancel,
	}
	for range nbWorkers {
		s.tokens <- struct{}{}
	}
	go s.run()
	return s
}

// AddWork submits fn for execution and returns a Future delivering its
// result. After Close, the Future resolves immediately with
// context.Canceled.
func (s *Scheduler) AddWork(fn Work[any]) *Future[Result[any]] {
	c := make(chan Result[any], 1)
	ctx, cancel := context.WithCancel(s.mainCtx)

	select {
	case <-s.mainCtx.Done():
		c <- Result[any]{Err: context.Canceled}
	case s.work <- request{fn: fn, c: c, ctx: ctx}:
	}

	return NewFuture(c, cancel)
}

// Close cancels the context of all queued and running work, waits for
// in-flight work to finish, and releases the workers. Idempotent.
func (s *Scheduler) Close() {
	s.once.Do(func() {
		s.mainCancel()
		close(s.closing)
		<-s.drained
	})
}

func (s *Scheduler) run() {
	defer close(s.drained)
	var pending []request
	for {
		if len(pending) == 0 {
			select {
			case r := <-s.work:
				pending = append(pending, r)
			case <-s.closing:
				s.wg.Wait()
				return
			}
			continue
		}
		select {
		case r := <-s.work:
			pending = append(pending, r)
		case <-s.tokens:
			s.wg.Add(1)
			go s.execute(pending[0])
			pending = pending[1:]
		case <-s.closing:
			s.wg.Wait()
			// Queued work that never started still resolves its future.
			for _, r := range pending {
				r.c <- Result[any]{Err: context.Canceled}
			}
			return
		}
	}
}

func (s *Scheduler) execute(r request) {
	defer func() {
		if rec := recover(); rec != nil {
			r.c <- Result[any]{Err: fmt.Errorf("worker panicked: %v", rec)}
		}
		s.tokens <- struct{}{}
		s.wg.Done()
	}()

	v, err := r.fn(r.ctx)
	r.c <- Result[any]{Data: v, Err: err}
}
