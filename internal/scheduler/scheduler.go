// Package scheduler runs the scheduled probe trigger on a fixed interval.
package scheduler

import (
	"context"
	"log"
	"sync"
	"time"
)

// Job is the work run on every tick.
type Job func(ctx context.Context) error

// Scheduler calls a Job once on start and then every interval. At most one
// call is in flight at a time.
type Scheduler struct {
	job      Job
	interval time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// New creates a Scheduler. An interval of zero or less disables it.
func New(job Job, interval time.Duration) *Scheduler {
	return &Scheduler{job: job, interval: interval}
}

// Enabled reports whether Start will launch the loop.
func (s *Scheduler) Enabled() bool {
	return s.interval > 0 && s.job != nil
}

// Start begins the periodic loop. Calling Start on a running or disabled
// scheduler does nothing.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	if !s.Enabled() {
		log.Printf("Scheduler disabled")
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	log.Printf("Starting scheduler with interval %s", s.interval)
	go s.loop(ctx, s.done)
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.runJob(ctx)
	for {
		select {
		case <-ticker.C:
			s.runJob(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) runJob(ctx context.Context) {
	if err := s.job(ctx); err != nil {
		log.Printf("Scheduled probe failed: %v", err)
	}
}

// Stop cancels the loop and waits for an in-flight job to return.
// Calling Stop on a stopped scheduler does nothing.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.cancel()
	done := s.done
	s.running = false
	s.mu.Unlock()

	<-done
	log.Printf("Scheduler stopped")
}
