package core

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Job defines a scheduled task.
type Job interface {
	Name() string
	ShouldFire(now time.Time) bool
	Run(ctx context.Context, now time.Time)
}

// BaseJob provides atomic running state to prevent re-entry.
type BaseJob struct {
	name    string
	running int32 // 1 if running, 0 otherwise
}

func NewBaseJob(name string) BaseJob {
	return BaseJob{name: name}
}

func (b *BaseJob) Name() string {
	return b.name
}

// TryLock attempts to set running to 1. Returns true if successful.
func (b *BaseJob) TryLock() bool {
	return atomic.CompareAndSwapInt32(&b.running, 0, 1)
}

func (b *BaseJob) Unlock() {
	atomic.StoreInt32(&b.running, 0)
}

// Running reports whether the job is executing.
func (b *BaseJob) Running() bool {
	return atomic.LoadInt32(&b.running) == 1
}

// TimeJob fires when time elapsed since its last run exceeds threshold.
type TimeJob struct {
	BaseJob
	threshold time.Duration
	action    func(context.Context)

	mu       sync.Mutex
	lastTime time.Time
	firstRun bool
}

func NewTimeJob(name string, threshold time.Duration, action func(context.Context)) *TimeJob {
	return &TimeJob{
		BaseJob:   NewBaseJob(name),
		threshold: threshold,
		action:    action,
		firstRun:  true,
	}
}

// NewDelayedTimeJob is a TimeJob whose first run waits one full threshold,
// for work that already ran during startup.
func NewDelayedTimeJob(name string, threshold time.Duration, action func(context.Context)) *TimeJob {
	j := NewTimeJob(name, threshold, action)
	j.firstRun = false
	j.lastTime = time.Now()
	return j
}

func (j *TimeJob) ShouldFire(now time.Time) bool {
	if j.Running() {
		return false
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.firstRun {
		return true
	}
	return now.Sub(j.lastTime) >= j.threshold
}

func (j *TimeJob) Run(ctx context.Context, now time.Time) {
	if !j.TryLock() {
		return
	}
	defer j.Unlock()

	j.mu.Lock()
	j.lastTime = now
	j.firstRun = false
	j.mu.Unlock()

	j.action(ctx)
}

// ConditionJob is a TimeJob that only fires while cond holds.
type ConditionJob struct {
	*TimeJob
	cond func() bool
}

func NewConditionJob(name string, threshold time.Duration, cond func() bool, action func(context.Context)) *ConditionJob {
	return &ConditionJob{TimeJob: NewTimeJob(name, threshold, action), cond: cond}
}

func (j *ConditionJob) ShouldFire(now time.Time) bool {
	return j.cond() && j.TimeJob.ShouldFire(now)
}
