package transport

import (
	"context"
	"sync"
)

// Operation is a blocking I/O operation run off the reactor goroutine.
type Operation func() (int, error)

// Completion handles the result of an Operation on the reactor goroutine.
type Completion func(n int, err error)

// Reactor dispatches I/O completions on a single goroutine.
//
// Submit starts an operation on a helper goroutine; its completion runs on
// the goroutine that called Run. Completions never run concurrently with one
// another, so state touched only by completions needs no locking.
type Reactor struct {
	mu      sync.Mutex
	pending int
	running bool
	closed  bool

	completions chan func()
	done        chan struct{}
	closeOnce   sync.Once
}

// NewReactor creates a reactor.
func NewReactor() *Reactor {
	return &Reactor{
		completions: make(chan func()),
		done:        make(chan struct{}),
	}
}

// Submit starts op and queues done to run on the Run goroutine once op
// returns. It may be called from any goroutine, including from a completion.
func (r *Reactor) Submit(op Operation, done Completion) error {
	return r.submit(op, done, nil)
}

// submit is Submit with a hook that runs on the helper goroutine when the
// completion is discarded by Close.
func (r *Reactor) submit(op Operation, done Completion, discarded func()) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrReactorClosed
	}
	r.pending++
	r.mu.Unlock()

	go func() {
		n, err := op()
		select {
		case r.completions <- func() { done(n, err) }:
		case <-r.done:
			if discarded != nil {
				discarded()
			}
		}
	}()
	return nil
}

// Pending returns the number of operations whose completion has not run.
func (r *Reactor) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending
}

// Run dispatches completions until none are outstanding, then returns nil.
// It returns ctx.Err() if ctx is cancelled first; outstanding operations
// keep running and are dispatched by a later Run.
func (r *Reactor) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return ErrReactorRunning
	}
	if r.closed {
		r.mu.Unlock()
		return ErrReactorClosed
	}
	r.running = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	for {
		r.mu.Lock()
		idle := r.pending == 0
		r.mu.Unlock()
		if idle {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.done:
			return ErrReactorClosed
		case c := <-r.completions:
			r.mu.Lock()
			r.pending--
			r.mu.Unlock()
			c()
		}
	}
}

// Close stops accepting operations and discards completions that have not
// been dispatched. Helper goroutines exit once their operation returns.
func (r *Reactor) Close() {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		r.mu.Unlock()
		close(r.done)
	})
}
