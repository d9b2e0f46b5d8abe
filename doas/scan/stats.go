package scan

import (
	"sync"
	"time"
)

// Counters is a snapshot of Statistics.
type Counters struct {
	Scans       int
	FailedScans int
	Evaluated   int
	Ignored     int
	FailedFits  int
	Corrupted   int
	Elapsed     time.Duration
}

// Statistics accumulates counters across scans. It is safe for concurrent
// use; a nil *Statistics discards updates.
type Statistics struct {
	mu sync.Mutex
	c  Counters
}

// Snapshot returns the current counters.
func (s *Statistics) Snapshot() Counters {
	if s == nil {
		return Counters{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c
}

// Reset clears all counters.
func (s *Statistics) Reset() {
	s.add(func(c *Counters) { *c = Counters{} })
}

func (s *Statistics) add(f func(*Counters)) {
	if s == nil {
		return
	}
	s.mu.Lock()
	f(&s.c)
	s.mu.Unlock()
}

func (s *Statistics) scanDone(r *Result, d time.Duration) {
	s.add(func(c *Counters) {
		c.Scans++
		c.Evaluated += r.Len()
		c.Elapsed += d
	})
}

func (s *Statistics) scanFailed() {
	s.add(func(c *Counters) {
		c.Scans++
		c.FailedScans++
	})
}
