// Package core runs background jobs on a fixed tick while the server is up.
package core

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultTick is the evaluation interval used when none is configured.
const DefaultTick = time.Second

// Scheduler evaluates its jobs on every tick and starts the ones that are
// due. Jobs run concurrently; each guards itself against re-entry.
type Scheduler struct {
	interval time.Duration

	mu   sync.Mutex
	jobs []Job
	wg   sync.WaitGroup
}

func NewScheduler(interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultTick
	}
	return &Scheduler{interval: interval}
}

func (s *Scheduler) AddJob(j Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, j)
}

// Start blocks until ctx is done, then waits for running jobs.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("Scheduler started", "interval", s.interval, "jobs", len(s.snapshot()))
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			slog.Info("Scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) snapshot() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Job(nil), s.jobs...)
}

func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now()
	for _, job := range s.snapshot() {
		if !job.ShouldFire(now) {
			continue
		}
		s.wg.Add(1)
		go func(j Job) {
			defer s.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					slog.Error("Job panicked", "job", j.Name(), "panic", r)
				}
			}()
			j.Run(ctx, now)
		}(job)
	}
}
