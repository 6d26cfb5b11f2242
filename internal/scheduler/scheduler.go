// Package scheduler runs keyed one-shot and periodic tasks that can be
// cancelled synchronously: once Cancel returns, the task's function is not
// running and will never run again.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task is the unit of scheduled work. ctx is cancelled when the task is.
type Task func(ctx context.Context)

type entry struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Scheduler manages keyed tasks.
type Scheduler struct {
	mu      sync.Mutex
	tasks   map[string]*entry
	stopped bool
	logger  *zap.Logger
}

// New creates a new scheduler instance
func New(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		tasks:  make(map[string]*entry),
		logger: logger.Named("scheduler"),
	}
}

// Schedule runs fn after delay and then every period. A period <= 0 makes
// the task one-shot. An existing task with the same key is cancelled first.
func (s *Scheduler) Schedule(key string, delay, period time.Duration, fn Task) error {
	ctx, cancel := context.WithCancel(context.Background())
	e := &entry{cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		cancel()
		return fmt.Errorf("scheduler stopped")
	}
	prev := s.tasks[key]
	s.tasks[key] = e
	s.mu.Unlock()

	if prev != nil {
		prev.cancel()
		<-prev.done
	}

	go s.run(ctx, key, e, delay, period, fn)
	return nil
}

// Once runs fn a single time after delay.
func (s *Scheduler) Once(key string, delay time.Duration, fn Task) error {
	return s.Schedule(key, delay, 0, fn)
}

func (s *Scheduler) run(ctx context.Context, key string, e *entry, delay, period time.Duration, fn Task) {
	defer close(e.done)

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	if period <= 0 {
		// One-shot tasks leave the table before running, so fn may cancel
		// its own key without waiting on itself.
		if !s.release(key, e) {
			return
		}
		s.invoke(ctx, key, fn)
		return
	}

	s.invoke(ctx, key, fn)
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			s.invoke(ctx, key, fn)
		}
	}
}

func (s *Scheduler) invoke(ctx context.Context, key string, fn Task) {
	if ctx.Err() != nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduled task panicked", zap.String("key", key), zap.Any("panic", r))
		}
	}()
	fn(ctx)
}

// release removes e from the table if it is still the entry for key.
func (s *Scheduler) release(key string, e *entry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tasks[key] != e {
		return false
	}
	delete(s.tasks, key)
	return true
}

// Cancel stops the task registered under key and waits for it to finish.
// It reports whether a task was found. A periodic task must not cancel its
// own key.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	e, ok := s.tasks[key]
	if ok {
		delete(s.tasks, key)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	e.cancel()
	<-e.done
	return true
}

// CancelPrefix cancels every task whose key starts with prefix and returns
// how many were cancelled.
func (s *Scheduler) CancelPrefix(prefix string) int {
	s.mu.Lock()
	var victims []*entry
	for key, e := range s.tasks {
		if strings.HasPrefix(key, prefix) {
			victims = append(victims, e)
			delete(s.tasks, key)
		}
	}
	s.mu.Unlock()
	for _, e := range victims {
		e.cancel()
	}
	for _, e := range victims {
		<-e.done
	}
	return len(victims)
}

// Has reports whether a task is scheduled under key.
func (s *Scheduler) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[key]
	return ok
}

// Keys returns the scheduled keys in sorted order.
func (s *Scheduler) Keys() []string {
	s.mu.Lock()
	keys := make([]string, 0, len(s.tasks))
	for k := range s.tasks {
		keys = append(keys, k)
	}
	s.mu.Unlock()
	sort.Strings(keys)
	return keys
}

// Stop halts the scheduler, cancelling every task.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	n := s.CancelPrefix("")
	s.logger.Info("Scheduler stopped", zap.Int("cancelled", n))
}
