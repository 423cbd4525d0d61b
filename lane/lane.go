// Package lane provides a serialization lane over a work pool. Functions
// posted to a lane run on the pool's workers but never concurrently with
// each other, and they run in the order they were posted. A lane is the
// ordering primitive the session manager uses to mutate its state from many
// goroutines without locks.
package lane

import (
	"sync"

	"github.com/eapache/queue"

	"github.com/cyberinferno/echo-server/workpool"
)

// Lane totally orders posted functions and runs each to completion before
// the next starts. Multiple lanes over the same pool are independent; only
// functions posted to the same lane are ordered with respect to each other.
type Lane struct {
	pool *workpool.Pool

	mu       sync.Mutex
	mailbox  *queue.Queue
	draining bool
}

// New creates a Lane over the given pool.
//
// Parameters:
//   - pool: The pool whose workers execute the lane's functions
//
// Returns:
//   - A pointer to a new Lane
func New(pool *workpool.Pool) *Lane {
	return &Lane{
		pool:    pool,
		mailbox: queue.New(),
	}
}

// Post enqueues fn behind every function already posted to this lane. If no
// drain is in flight, one is dispatched to the pool; otherwise the running
// drain will pick fn up.
//
// Parameters:
//   - fn: The function to run; must not be nil
//
// Returns:
//   - workpool.ErrClosed if the underlying pool has been closed, nil otherwise
func (l *Lane) Post(fn func()) error {
	l.mu.Lock()
	l.mailbox.Add(fn)
	if l.draining {
		l.mu.Unlock()
		return nil
	}
	l.draining = true
	l.mu.Unlock()

	if err := l.pool.Post(l.drain); err != nil {
		l.mu.Lock()
		l.mailbox.Remove()
		l.draining = false
		l.mu.Unlock()
		return err
	}
	return nil
}

// drain runs mailbox entries one at a time until the mailbox is observed
// empty under the lock. Because only one drain exists at any moment, entries
// never run concurrently.
func (l *Lane) drain() {
	for {
		l.mu.Lock()
		if l.mailbox.Length() == 0 {
			l.draining = false
			l.mu.Unlock()
			return
		}
		fn := l.mailbox.Remove().(func())
		l.mu.Unlock()

		fn()
	}
}
