package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestOnceRunsAndReleasesKey(t *testing.T) {
	s := New(zap.NewNop())
	defer s.Stop()

	var ran atomic.Int32
	require.NoError(t, s.Once("k", 5*time.Millisecond, func(context.Context) { ran.Add(1) }))
	assert.True(t, s.Has("k"))

	assert.Eventually(t, func() bool { return ran.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return !s.Has("k") }, time.Second, 5*time.Millisecond)
}

func TestPeriodicRunsRepeatedly(t *testing.T) {
	s := New(zap.NewNop())
	defer s.Stop()

	var ran atomic.Int32
	require.NoError(t, s.Schedule("p", 0, 5*time.Millisecond, func(context.Context) { ran.Add(1) }))
	assert.Eventually(t, func() bool { return ran.Load() >= 3 }, time.Second, 5*time.Millisecond)
}

func TestCancelIsSynchronous(t *testing.T) {
	s := New(zap.NewNop())
	defer s.Stop()

	var ran atomic.Int32
	require.NoError(t, s.Schedule("p", 0, time.Millisecond, func(context.Context) { ran.Add(1) }))
	assert.Eventually(t, func() bool { return ran.Load() > 0 }, time.Second, time.Millisecond)

	assert.True(t, s.Cancel("p"))
	after := ran.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, ran.Load(), "task fired after Cancel returned")
	assert.False(t, s.Cancel("p"))
}

func TestCancelBeforeDelayNeverFires(t *testing.T) {
	s := New(zap.NewNop())
	defer s.Stop()

	var ran atomic.Int32
	require.NoError(t, s.Once("k", 50*time.Millisecond, func(context.Context) { ran.Add(1) }))
	assert.True(t, s.Cancel("k"))
	time.Sleep(80 * time.Millisecond)
	assert.Zero(t, ran.Load())
}

func TestCancelWaitsForRunningTask(t *testing.T) {
	s := New(zap.NewNop())
	defer s.Stop()

	started := make(chan struct{})
	var finished atomic.Bool
	require.NoError(t, s.Schedule("slow", 0, time.Hour, func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		finished.Store(true)
	}))
	<-started
	s.Cancel("slow")
	assert.True(t, finished.Load())
}

func TestScheduleReplacesExistingKey(t *testing.T) {
	s := New(zap.NewNop())
	defer s.Stop()

	var first, second atomic.Int32
	require.NoError(t, s.Once("k", 30*time.Millisecond, func(context.Context) { first.Add(1) }))
	require.NoError(t, s.Once("k", 0, func(context.Context) { second.Add(1) }))

	assert.Eventually(t, func() bool { return second.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, first.Load())
}

func TestCancelPrefix(t *testing.T) {
	s := New(zap.NewNop())
	defer s.Stop()

	noop := func(context.Context) {}
	require.NoError(t, s.Once("rule:a:1", time.Hour, noop))
	require.NoError(t, s.Once("rule:a:2", time.Hour, noop))
	require.NoError(t, s.Once("rule:b:1", time.Hour, noop))

	assert.Equal(t, 2, s.CancelPrefix("rule:a:"))
	assert.Equal(t, []string{"rule:b:1"}, s.Keys())
}

func TestOnceMayCancelItself(t *testing.T) {
	s := New(zap.NewNop())
	defer s.Stop()

	done := make(chan bool, 1)
	require.NoError(t, s.Once("self", 0, func(context.Context) { done <- s.Cancel("self") }))
	select {
	case found := <-done:
		assert.False(t, found)
	case <-time.After(time.Second):
		t.Fatal("self cancellation deadlocked")
	}
}

func TestStopRejectsNewTasks(t *testing.T) {
	s := New(zap.NewNop())
	s.Stop()
	assert.Error(t, s.Once("k", 0, func(context.Context) {}))
}

func TestPanicIsRecovered(t *testing.T) {
	s := New(zap.NewNop())
	defer s.Stop()

	var ran atomic.Int32
	require.NoError(t, s.Schedule("p", 0, 2*time.Millisecond, func(context.Context) {
		ran.Add(1)
		panic("boom")
	}))
	assert.Eventually(t, func() bool { return ran.Load() >= 2 }, time.Second, time.Millisecond)
}
