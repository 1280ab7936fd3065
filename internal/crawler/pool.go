package crawler

import (
	"sync"

	"golang.org/x/sync/errgroup"
)

// WorkerPool runs task values of type T on a fixed number of goroutines.
//
// Submissions go through an unbounded FIFO queue: Submit never waits for a
// free worker, so a task handler may submit to its own pool without risk of
// deadlock. Admission control is the caller's business (see HostGate).
type WorkerPool[T any] struct {
	handle func(T)

	// in receives submissions; pump moves them into queue and out to work.
	in   chan T
	work chan T

	// mu guards closed and serializes Submit against Shutdown closing in.
	mu     sync.RWMutex
	closed bool

	workers  errgroup.Group
	shutdown sync.Once
}

// NewWorkerPool starts a pool with the given number of workers, each calling
// handle for every task it receives. A workers value below 1 is treated as 1.
func NewWorkerPool[T any](workers int, handle func(T)) *WorkerPool[T] {
	if workers < 1 {
		workers = 1
	}

	p := &WorkerPool[T]{
		handle: handle,
		in:     make(chan T),
		work:   make(chan T),
	}

	go p.pump()
	for range workers {
		p.workers.Go(func() error {
			for task := range p.work {
				p.handle(task)
			}
			return nil
		})
	}

	return p
}

// Submit enqueues task and returns without waiting for it to run.
// It returns ErrPoolClosed once Shutdown has been called.
func (p *WorkerPool[T]) Submit(task T) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}
	p.in <- task
	return nil
}

// Shutdown stops accepting tasks and waits until every task submitted
// before the call has been handled. It is safe to call more than once.
func (p *WorkerPool[T]) Shutdown() {
	p.shutdown.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.in)
		p.mu.Unlock()
	})
	_ = p.workers.Wait() //nolint:errcheck // workers never return an error
}

// pump buffers submissions so that Submit only blocks for the time it takes
// to append to the queue.
func (p *WorkerPool[T]) pump() {
	var queue []T
	in := p.in

	for in != nil || len(queue) > 0 {
		// A nil channel blocks forever, which disables that select case.
		var out chan T
		var head T
		if len(queue) > 0 {
			out = p.work
			head = queue[0]
		}

		select {
		case task, ok := <-in:
			if !ok {
				in = nil
				continue
			}
			queue = append(queue, task)
		case out <- head:
			var zero T
			queue[0] = zero
			queue = queue[1:]
		}
	}

	close(p.work)
}
