package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeLocker struct {
	mu        sync.Mutex
	held      bool
	deny      bool
	err       error
	released  int
	refreshed int
	lost      bool
}

func (l *fakeLocker) AcquireLock(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return false, l.err
	}
	if l.deny || l.held {
		return false, nil
	}
	l.held = true
	return true, nil
}

func (l *fakeLocker) ReleaseLock(ctx context.Context, name, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held = false
	l.released++
	return nil
}

func (l *fakeLocker) RefreshLock(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lost {
		return false, nil
	}
	l.refreshed++
	return l.held, nil
}

func (l *fakeLocker) refreshes() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.refreshed
}

func TestSchedulerRunsUntilCancelled(t *testing.T) {
	var runs atomic.Int32
	s := NewScheduler("queue", 5*time.Millisecond, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
	if runs.Load() < 2 {
		t.Fatalf("runs = %d, want at least 2", runs.Load())
	}
}

func TestSchedulerDisabled(t *testing.T) {
	called := false
	s := NewScheduler("queue", 0, func(ctx context.Context) error {
		called = true
		return nil
	})
	s.Start(context.Background())
	if called {
		t.Fatal("disabled scheduler ran its task")
	}
}

func TestSchedulerLock(t *testing.T) {
	var runs atomic.Int32
	task := func(ctx context.Context) error {
		runs.Add(1)
		return errors.New("boom")
	}

	l := &fakeLocker{}
	s := NewScheduler("queue", time.Second, task, WithLock(l, time.Second))
	s.tick(context.Background())
	if runs.Load() != 1 || l.released != 1 || l.held {
		t.Fatalf("runs = %d, released = %d, held = %v", runs.Load(), l.released, l.held)
	}

	l.deny = true
	s.tick(context.Background())
	if runs.Load() != 1 {
		t.Fatal("task ran without the lock")
	}

	l.deny = false
	l.err = errors.New("redis down")
	s.tick(context.Background())
	if runs.Load() != 1 {
		t.Fatal("task ran when the lock errored")
	}
}

func TestSchedulerRefreshesLockDuringLongTick(t *testing.T) {
	l := &fakeLocker{}
	task := func(ctx context.Context) error {
		time.Sleep(100 * time.Millisecond)
		return nil
	}
	s := NewScheduler("queue", time.Second, task, WithLock(l, 20*time.Millisecond))
	s.tick(context.Background())

	got := l.refreshes()
	if got < 2 {
		t.Fatalf("refreshes = %d, want at least 2", got)
	}
	if l.released != 1 || l.held {
		t.Fatalf("released = %d, held = %v", l.released, l.held)
	}

	time.Sleep(30 * time.Millisecond)
	if l.refreshes() != got {
		t.Fatal("lock refreshed after the tick finished")
	}
}

func TestSchedulerStopsRefreshingLostLock(t *testing.T) {
	l := &fakeLocker{lost: true}
	var runs atomic.Int32
	task := func(ctx context.Context) error {
		runs.Add(1)
		time.Sleep(50 * time.Millisecond)
		return nil
	}
	s := NewScheduler("queue", time.Second, task, WithLock(l, 10*time.Millisecond))
	s.tick(context.Background())
	if runs.Load() != 1 || l.refreshes() != 0 || l.released != 1 {
		t.Fatalf("runs = %d, refreshes = %d, released = %d", runs.Load(), l.refreshes(), l.released)
	}
}
