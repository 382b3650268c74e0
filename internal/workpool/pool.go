// Package workpool runs tasks on a fixed number of workers with an
// unbounded FIFO backlog.
//
// Submit never blocks and never rejects while the pool is open: when
// every worker is busy, tasks wait in the backlog.  Under sustained
// load the backlog grows instead of connections being refused.
package workpool

import (
	"context"
	"sync"
	"sync/atomic"

	ncerr "chatrelay/internal/errors"
)

// Task is one unit of work.
type Task func()

// Pool is a fixed-capacity worker pool.
type Pool struct {
	mu      sync.Mutex
	cond    *sync.Cond
	backlog []Task
	closed  bool

	running atomic.Int64
	wg      sync.WaitGroup
	done    chan struct{}
}

// New starts a pool with the given number of workers (minimum 1).
func New(workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	p := &Pool{done: make(chan struct{})}
	p.cond = sync.NewCond(&p.mu)
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	go func() {
		p.wg.Wait()
		close(p.done)
	}()
	return p
}

// Submit queues t.  It returns ErrPoolClosed after Shutdown.
func (p *Pool) Submit(t Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ncerr.ErrPoolClosed
	}
	p.backlog = append(p.backlog, t)
	p.cond.Signal()
	return nil
}

// Shutdown stops admission.  Tasks already queued still run; workers
// exit once the backlog is empty.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cond.Broadcast()
}

// Wait blocks until every worker has exited or ctx is done.
func (p *Pool) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running returns the number of tasks currently executing.
func (p *Pool) Running() int {
	return int(p.running.Load())
}

// Queued returns the number of tasks waiting for a worker.
func (p *Pool) Queued() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.backlog)
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		t, ok := p.next()
		if !ok {
			return
		}
		p.running.Add(1)
		t()
		p.running.Add(-1)
	}
}

// next pops the oldest task, waiting while the backlog is empty.  It
// reports false once the pool is closed and drained.
func (p *Pool) next() (Task, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.backlog) == 0 {
		if p.closed {
			return nil, false
		}
		p.cond.Wait()
	}
	t := p.backlog[0]
	p.backlog[0] = nil
	p.backlog = p.backlog[1:]
	return t, true
}
