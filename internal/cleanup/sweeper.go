// Package cleanup runs the background purge of expired links.
package cleanup

import (
	"log"
	"sync"
	"time"

	"linkly-be/internal/repository"
)

// Sweeper periodically deletes expired links from the durable store.
// Deletions are idempotent, so overlapping ticks across processes are
// harmless; within a process StartOnce guarantees a single loop even under
// repeated initialization.
type Sweeper struct {
	repo     repository.LinkRepository
	interval time.Duration

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}

	// tick overrides the interval ticker when non-nil, so tests can drive
	// the loop deterministically.
	tick <-chan time.Time
}

// NewSweeper creates a sweeper with the given period
func NewSweeper(repo repository.LinkRepository, interval time.Duration) *Sweeper {
	return &Sweeper{
		repo:     repo,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// StartOnce launches the background sweep loop. Subsequent calls are no-ops.
func (s *Sweeper) StartOnce() {
	s.startOnce.Do(func() {
		log.Println("Starting cleanup job")
		go s.run()
	})
}

// Stop terminates the sweep loop. Safe to call multiple times.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
}

func (s *Sweeper) run() {
	tick := s.tick
	if tick == nil {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-tick:
			s.Sweep()
		case <-s.stop:
			return
		}
	}
}

// Sweep deletes all links whose expiry predates the tick's start time and
// returns the number of rows removed.
func (s *Sweeper) Sweep() int64 {
	count, err := s.repo.DeleteExpiredBefore(time.Now())
	if err != nil {
		log.Printf("Cleanup job error: %v", err)
		return 0
	}
	if count > 0 {
		log.Printf("Cleaned up %d expired links", count)
	}
	return count
}
