package worker

import (
	"context"
	"log"
	"sync"
	"time"
)

// StaleSweeper is implemented by services.ConnectionRegistry.
type StaleSweeper interface {
	SweepAllStale(ctx context.Context, threshold time.Duration) (int64, error)
}

// Purger drops expired cache entries. Implemented by the stats service, the
// question cache and the connection registry.
type Purger interface {
	PurgeExpired()
}

// Sweeper marks idle connections stale in the background so presence counts
// stay honest even when nobody is reading statistics. Each pass also purges
// expired read-model cache entries.
type Sweeper struct {
	registry  StaleSweeper
	purgers   []Purger
	interval  time.Duration
	threshold time.Duration

	mu     sync.Mutex
	stopCh chan struct{}
	done   chan struct{}
}

func NewSweeper(registry StaleSweeper, interval, threshold time.Duration, purgers ...Purger) *Sweeper {
	return &Sweeper{registry: registry, purgers: purgers, interval: interval, threshold: threshold}
}

func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return
	}
	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})
	go s.loop(s.stopCh, s.done)
	log.Printf("worker: stale sweeper started (every %s, threshold %s)", s.interval, s.threshold)
}

// Stop waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	stopCh, done := s.stopCh, s.done
	s.stopCh, s.done = nil, nil
	s.mu.Unlock()

	if stopCh == nil {
		return
	}
	close(stopCh)
	<-done
	log.Println("worker: stale sweeper stopped")
}

func (s *Sweeper) loop(stopCh, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			s.SweepOnce()
		}
	}
}

func (s *Sweeper) SweepOnce() int64 {
	for _, p := range s.purgers {
		p.PurgeExpired()
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.interval)
	defer cancel()

	n, err := s.registry.SweepAllStale(ctx, s.threshold)
	if err != nil {
		log.Printf("worker: sweep stale connections: %v", err)
		return 0
	}
	if n > 0 {
		log.Printf("worker: marked %d connections stale", n)
	}
	return n
}
