// Package workpool provides a fixed-size pool of worker goroutines that
// execute posted tasks. Tasks are queued FIFO and picked up by whichever
// worker frees up first; nothing orders tasks relative to each other beyond
// queue position.
package workpool

import (
	"errors"
	"sync"

	"github.com/eapache/queue"
)

// ErrClosed is returned by Post after the pool has been closed.
var ErrClosed = errors.New("workpool: pool is closed")

// Pool runs posted tasks on a fixed number of worker goroutines.
type Pool struct {
	mu     sync.Mutex
	cond   *sync.Cond
	tasks  *queue.Queue
	closed bool
	wg     sync.WaitGroup
}

// New creates a Pool and starts its workers.
//
// Parameters:
//   - workers: Number of worker goroutines; values below 1 are treated as 1
//
// Returns:
//   - A pointer to a running Pool
func New(workers int) *Pool {
	if workers < 1 {
		workers = 1
	}

	p := &Pool{tasks: queue.New()}
	p.cond = sync.NewCond(&p.mu)

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.work()
	}
	return p
}

func (p *Pool) work() {
	defer p.wg.Done()

	for {
		p.mu.Lock()
		for p.tasks.Length() == 0 && !p.closed {
			p.cond.Wait()
		}
		if p.tasks.Length() == 0 {
			p.mu.Unlock()
			return
		}

		task := p.tasks.Remove().(func())
		p.mu.Unlock()

		task()
	}
}

// Post enqueues a task for execution by one of the workers.
//
// Parameters:
//   - task: The function to run; must not be nil
//
// Returns:
//   - ErrClosed if the pool has been closed, nil otherwise
func (p *Pool) Post(task func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}

	p.tasks.Add(task)
	p.cond.Signal()
	return nil
}

// Len returns the number of tasks queued and not yet picked up by a worker.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tasks.Length()
}

// Close stops accepting new tasks and blocks until the workers have drained
// the queue and exited. Close is idempotent.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.wg.Wait()
		return
	}
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()

	p.wg.Wait()
}
