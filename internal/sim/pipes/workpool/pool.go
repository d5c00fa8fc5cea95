// Package workpool runs background computations for the main simulation path.
//
// Jobs never touch shared simulation state; they return a value through a
// Future, and the main path decides when to consume it. Wake fires after each
// completed job so a select loop can poll its pending futures.
package workpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

var ErrClosed = errors.New("workpool: closed")

type Pool struct {
	sem  *semaphore.Weighted
	g    errgroup.Group
	wake chan struct{}

	mu     sync.Mutex
	closed bool

	inflight  atomic.Int64
	completed atomic.Uint64
}

// New returns a pool running at most workers jobs at once (minimum 1).
func New(workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	return &Pool{
		sem:  semaphore.NewWeighted(int64(workers)),
		wake: make(chan struct{}, 1),
	}
}

// Wake is signalled (coalesced) whenever a job finishes.
func (p *Pool) Wake() <-chan struct{} { return p.wake }

func (p *Pool) InFlight() int { return int(p.inflight.Load()) }

func (p *Pool) Completed() uint64 { return p.completed.Load() }

// Close stops accepting jobs and waits for the running ones.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	return p.g.Wait()
}

func (p *Pool) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

type Future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

func newFuture[T any]() *Future[T] { return &Future[T]{done: make(chan struct{})} }

func (f *Future[T]) resolve(v T, err error) {
	f.val, f.err = v, err
	close(f.done)
}

func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Ready reports whether the job has finished, without blocking.
func (f *Future[T]) Ready() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Result blocks until the job finishes.
func (f *Future[T]) Result() (T, error) {
	<-f.done
	return f.val, f.err
}

func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Submit schedules fn on the pool. A panic inside fn resolves the future with
// an error instead of taking the process down.
func Submit[T any](p *Pool, fn func(ctx context.Context) (T, error)) *Future[T] {
	f := newFuture[T]()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		var zero T
		f.resolve(zero, ErrClosed)
		return f
	}
	p.inflight.Add(1)
	p.g.Go(func() error {
		var (
			v      T
			jobErr error
		)
		defer func() {
			if r := recover(); r != nil {
				jobErr = fmt.Errorf("workpool: job panicked: %v", r)
			}
			// Counters settle before waiters wake.
			p.inflight.Add(-1)
			p.completed.Add(1)
			f.resolve(v, jobErr)
			p.signal()
		}()
		ctx := context.Background()
		if err := p.sem.Acquire(ctx, 1); err != nil {
			jobErr = err
			return nil
		}
		defer p.sem.Release(1)
		v, jobErr = fn(ctx)
		return nil
	})
	return f
}
