package sessionmanager

import "sync"

// Stats is a consistent snapshot of the manager's counters.
type Stats struct {
	// ActiveCount is the number of sessions currently serving a client.
	ActiveCount int
	// RecycledCount is the number of session handles held for reuse.
	RecycledCount int
	// TotalAccepted is the number of successfully accepted connections.
	TotalAccepted uint64
	// AcceptErrors is the number of failed accept operations, recoverable
	// and fatal alike.
	AcceptErrors uint64
	// TotalStopped is the number of session stop operations that completed.
	TotalStopped uint64
	// StopErrors is the number of session stop operations that completed
	// with an error.
	StopErrors uint64
}

// statsCollector serializes counter mutations under a short critical section
// so Stats returns a consistent snapshot from any goroutine. Mutations come
// from the manager's lane; reads come from anywhere.
type statsCollector struct {
	mu    sync.Mutex
	stats Stats
}

func (c *statsCollector) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *statsCollector) SetActiveCount(count int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.ActiveCount = count
}

func (c *statsCollector) SetRecycledCount(count int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.RecycledCount = count
}

func (c *statsCollector) SessionAccepted(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		c.stats.AcceptErrors++
		return
	}
	c.stats.TotalAccepted++
}

func (c *statsCollector) SessionStopped(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats.TotalStopped++
	if err != nil {
		c.stats.StopErrors++
	}
}

func (c *statsCollector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats = Stats{}
}
