package syncgroup

import (
	"sync"
	"time"
)

// SyncGroup wraps sync.WaitGroup so callers never pair Add and Done by hand.
// Functions are queued with Add and started together by Run.
type SyncGroup struct {
	wg sync.WaitGroup

	mu      sync.Mutex
	queued  []func()
	running int
}

// NewSyncGroup returns an empty group.
func NewSyncGroup() *SyncGroup {
	return &SyncGroup{}
}

// Add queues fn for the next Run. nil is ignored.
func (g *SyncGroup) Add(fn func()) {
	if fn == nil {
		return
	}
	g.mu.Lock()
	g.queued = append(g.queued, fn)
	g.mu.Unlock()
}

// Run starts every queued function in its own goroutine and empties the queue.
func (g *SyncGroup) Run() {
	g.mu.Lock()
	fns := g.queued
	g.queued = nil
	g.running += len(fns)
	g.wg.Add(len(fns))
	g.mu.Unlock()

	for _, fn := range fns {
		go func(fn func()) {
			defer func() {
				g.mu.Lock()
				g.running--
				g.mu.Unlock()
				g.wg.Done()
			}()
			fn()
		}(fn)
	}
}

// Running returns how many started functions have not returned yet.
func (g *SyncGroup) Running() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running
}

// Wait blocks until every started function has returned.
func (g *SyncGroup) Wait() {
	g.wg.Wait()
}

// WaitTimeout is Wait bounded by d. It reports whether the group finished.
func (g *SyncGroup) WaitTimeout(d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}
