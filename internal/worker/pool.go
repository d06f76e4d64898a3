package worker

import (
	"context"
	"sync"
)

type Task func(ctx context.Context) error

type Result struct {
	Index int
	Err   error
}

type job struct {
	index int
	task  Task
}

// Pool runs submitted tasks on a fixed number of goroutines. Results carry
// the submission index so callers can restore input order.
type Pool struct {
	workers int
	jobs    chan job
	wg      sync.WaitGroup

	mu     sync.Mutex
	next   int
	closed bool
}

func NewPool(workers, buffer int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if buffer < 0 {
		buffer = 0
	}
	return &Pool{
		workers: workers,
		jobs:    make(chan job, buffer),
	}
}

// Submit enqueues t and returns its index. It blocks while the buffer is
// full and returns -1 once the pool is closed.
func (p *Pool) Submit(t Task) int {
	if p == nil || t == nil {
		return -1
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return -1
	}
	idx := p.next
	p.next++
	p.mu.Unlock()

	p.jobs <- job{index: idx, task: t}
	return idx
}

func (p *Pool) Close() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.jobs)
}

// Run starts the workers. The returned channel is closed after Close has been
// called and every queued task finished, or when ctx is done.
func (p *Pool) Run(ctx context.Context) <-chan Result {
	if p == nil {
		out := make(chan Result)
		close(out)
		return out
	}
	out := make(chan Result, p.workers)

	p.wg.Add(p.workers)
	for i := 0; i < p.workers; i++ {
		go func() {
			defer p.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case j, ok := <-p.jobs:
					if !ok {
						return
					}
					err := j.task(ctx)
					select {
					case <-ctx.Done():
						return
					case out <- Result{Index: j.index, Err: err}:
					}
				}
			}
		}()
	}

	go func() {
		p.wg.Wait()
		close(out)
	}()

	return out
}

// Each runs fn for every index in [0, n) with at most workers in flight and
// waits for all of them. Errors are returned by index; a task that never ran
// because ctx ended reports ctx.Err().
func Each(ctx context.Context, workers, n int, fn func(ctx context.Context, i int) error) []error {
	errs := make([]error, n)
	if n == 0 {
		return errs
	}
	done := make([]bool, n)

	p := NewPool(workers, n)
	results := p.Run(ctx)
	for i := 0; i < n; i++ {
		p.Submit(func(ctx context.Context) error { return fn(ctx, i) })
	}
	p.Close()

	for r := range results {
		errs[r.Index] = r.Err
		done[r.Index] = true
	}
	for i := range done {
		if !done[i] {
			errs[i] = ctx.Err()
			if errs[i] == nil {
				errs[i] = context.Canceled
			}
		}
	}
	return errs
}
