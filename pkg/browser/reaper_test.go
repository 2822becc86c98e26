package browser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newReaperService(t *testing.T, drv *fakeDriver, clock *fakeClock) *Service {
	return newTestService(t, drv, func(o *ServiceOptions) {
		o.Clock = clock.Now
		o.Reaper = ReaperOptions{
			IdleMark:    DefaultIdleMark,
			IdleTimeout: DefaultIdleTimeout,
		}
	})
}

func TestReaperClosesIdleSessions(t *testing.T) {
	drv := &fakeDriver{}
	clock := newFakeClock()
	svc := newReaperService(t, drv, clock)
	ctx := context.Background()

	for _, id := range []string{"stale", "busy-user"} {
		_, err := svc.Registry.CreateOrResume(ctx, id, SessionOptions{})
		require.NoError(t, err)
	}

	clock.Advance(11 * time.Minute)
	env := svc.Dispatcher.PageInfo(ctx, "busy-user")
	require.True(t, env.Success, env.Error)

	res := svc.Reaper.Sweep(clock.Now())
	assert.Equal(t, 1, res.Closed)

	_, ok := svc.Registry.Get("stale")
	assert.False(t, ok)
	assert.EqualValues(t, 1, drv.process(0).closes.Load())

	_, ok = svc.Registry.Get("busy-user")
	assert.True(t, ok)
	assert.EqualValues(t, 0, drv.process(1).closes.Load())

	// Acting on a reaped id provisions again
	env = svc.Dispatcher.PageInfo(ctx, "stale")
	assert.True(t, env.Success, env.Error)
	assert.Equal(t, 3, drv.launchCount())
}

func TestReaperThresholdIsExclusive(t *testing.T) {
	drv := &fakeDriver{}
	clock := newFakeClock()
	svc := newReaperService(t, drv, clock)

	_, err := svc.Registry.CreateOrResume(context.Background(), "s1", SessionOptions{})
	require.NoError(t, err)

	clock.Advance(DefaultIdleTimeout)
	res := svc.Reaper.Sweep(clock.Now())
	assert.Zero(t, res.Closed)

	res = svc.Reaper.Sweep(clock.Now().Add(time.Second))
	assert.Equal(t, 1, res.Closed)
}

func TestReaperMarksIdle(t *testing.T) {
	drv := &fakeDriver{}
	clock := newFakeClock()
	svc := newReaperService(t, drv, clock)
	ctx := context.Background()

	s, err := svc.Registry.CreateOrResume(ctx, "s1", SessionOptions{})
	require.NoError(t, err)

	clock.Advance(6 * time.Minute)
	res := svc.Reaper.Sweep(clock.Now())
	assert.Equal(t, SweepResult{Marked: 1}, res)
	assert.Equal(t, StatusIdle, s.Status())
	assert.Equal(t, StatusIdle, svc.Registry.List()[0].Status)

	// Already idle, nothing to do
	res = svc.Reaper.Sweep(clock.Now())
	assert.Equal(t, SweepResult{}, res)

	env := svc.Dispatcher.PageInfo(ctx, "s1")
	require.True(t, env.Success, env.Error)
	assert.Equal(t, StatusActive, s.Status())
	assert.Same(t, s, mustGet(t, svc.Registry, "s1"))
}

func TestReaperSkipsBusySession(t *testing.T) {
	drv := &fakeDriver{}
	clock := newFakeClock()
	svc := newReaperService(t, drv, clock)

	s, err := svc.Registry.CreateOrResume(context.Background(), "s1", SessionOptions{})
	require.NoError(t, err)
	require.True(t, s.lock.TryLock())

	clock.Advance(20 * time.Minute)
	res := svc.Reaper.Sweep(clock.Now())
	assert.Equal(t, 1, res.Skipped)
	assert.Zero(t, res.Closed)
	assert.False(t, s.Closed())

	s.lock.Unlock()
	res = svc.Reaper.Sweep(clock.Now())
	assert.Equal(t, 1, res.Closed)
	assert.True(t, s.Closed())
	assert.False(t, s.lock.Busy())
}

func TestReaperPrunesReleasedEntries(t *testing.T) {
	drv := &fakeDriver{}
	clock := newFakeClock()
	svc := newReaperService(t, drv, clock)

	s, err := svc.Registry.CreateOrResume(context.Background(), "s1", SessionOptions{})
	require.NoError(t, err)

	// Closed and released but still tracked, as when a close races a sweep
	require.True(t, s.markClosed())
	require.NoError(t, s.release())

	res := svc.Reaper.Sweep(clock.Now())
	assert.Equal(t, SweepResult{Pruned: 1}, res)
	assert.Empty(t, svc.Registry.snapshot())
}

func TestReaperRunsOnSchedule(t *testing.T) {
	drv := &fakeDriver{}
	svc := newTestService(t, drv, func(o *ServiceOptions) {
		o.Reaper = ReaperOptions{Interval: time.Second, IdleTimeout: time.Millisecond}
	})

	s, err := svc.Registry.CreateOrResume(context.Background(), "s1", SessionOptions{})
	require.NoError(t, err)

	svc.Start()
	svc.Start()
	assert.Eventually(t, s.Closed, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, svc.Reaper.Stop(context.Background()))
	require.NoError(t, svc.Reaper.Stop(context.Background()))
}

func TestNewReaperDefaults(t *testing.T) {
	r := NewReaper(nil, ReaperOptions{})
	assert.Equal(t, DefaultReapInterval, r.opts.Interval)
	assert.Equal(t, DefaultIdleTimeout, r.opts.IdleTimeout)
	assert.Zero(t, r.opts.IdleMark)

	r = NewReaper(nil, ReaperOptions{IdleMark: time.Hour, IdleTimeout: time.Minute})
	assert.Zero(t, r.opts.IdleMark)
}

func TestFormatKV(t *testing.T) {
	assert.Equal(t, " entry=3 now=x", formatKV([]interface{}{"entry", 3, "now", "x"}))
	assert.Equal(t, " a=1", formatKV([]interface{}{"a", 1, "dangling"}))
}

func mustGet(t *testing.T, r *Registry, id string) *Session {
	t.Helper()
	s, ok := r.Get(id)
	require.True(t, ok, "session %s not found", id)
	return s
}
