package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Locker provides cross-instance mutual exclusion for one tick.
type Locker interface {
	AcquireLock(ctx context.Context, name, owner string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, name, owner string) error
	// RefreshLock extends a held lock and reports whether owner still holds it.
	RefreshLock(ctx context.Context, name, owner string, ttl time.Duration) (bool, error)
}

// Scheduler calls a task on a fixed interval. It is the only timer that
// drives queue processing.
type Scheduler struct {
	name     string
	interval time.Duration
	task     func(ctx context.Context) error
	locker   Locker
	lockTTL  time.Duration
	owner    string
	logger   *slog.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLock holds a named lock for the duration of each tick, refreshing it
// every ttl/2 while the task runs. Ticks that cannot take the lock are skipped.
func WithLock(l Locker, ttl time.Duration) Option {
	return func(s *Scheduler) {
		s.locker = l
		s.lockTTL = ttl
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// NewScheduler creates a new Scheduler worker.
func NewScheduler(name string, interval time.Duration, task func(ctx context.Context) error, opts ...Option) *Scheduler {
	s := &Scheduler{
		name:     name,
		interval: interval,
		task:     task,
		owner:    uuid.NewString(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "scheduler", "task", name)
	if s.lockTTL <= 0 {
		s.lockTTL = 2 * interval
	}
	return s
}

// Start runs the scheduler loop until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	if s.interval <= 0 {
		return // Scheduling disabled
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Initial run
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if s.locker != nil {
		ok, err := s.locker.AcquireLock(ctx, s.name, s.owner, s.lockTTL)
		if err != nil {
			s.logger.Warn("Failed to acquire scheduler lock", "error", err)
			return
		}
		if !ok {
			s.logger.Debug("Another instance holds the lock, skipping tick")
			return
		}
		hbCtx, stopHeartbeat := context.WithCancel(ctx)
		hbDone := make(chan struct{})
		go func() {
			defer close(hbDone)
			s.heartbeat(hbCtx)
		}()
		defer func() {
			stopHeartbeat()
			<-hbDone
			// Release even when ctx is already cancelled.
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := s.locker.ReleaseLock(rctx, s.name, s.owner); err != nil {
				s.logger.Warn("Failed to release scheduler lock", "error", err)
			}
		}()
	}

	start := time.Now()
	if err := s.task(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("Scheduled task failed", "error", err)
		return
	}
	s.logger.Debug("Scheduled task finished", "duration", time.Since(start))
}

// heartbeat keeps the tick lock alive until ctx is done.
func (s *Scheduler) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(max(s.lockTTL/2, time.Millisecond))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			held, err := s.locker.RefreshLock(ctx, s.name, s.owner, s.lockTTL)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Warn("Failed to refresh scheduler lock", "error", err)
				continue
			}
			if !held {
				s.logger.Warn("Scheduler lock lost while the task was running")
				return
			}
		}
	}
}
