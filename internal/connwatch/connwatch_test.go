package connwatch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// fastSchedule keeps tests quick.
func fastSchedule() Schedule {
	return Schedule{
		InitialDelay: time.Millisecond,
		MaxDelay:     4 * time.Millisecond,
		PollInterval: 2 * time.Millisecond,
		ProbeTimeout: 50 * time.Millisecond,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestDefaultSchedule(t *testing.T) {
	t.Parallel()
	got := Schedule{}.withDefaults()
	if got != DefaultSchedule() {
		t.Errorf("zero schedule defaults = %+v, want %+v", got, DefaultSchedule())
	}

	got = Schedule{InitialDelay: 2 * time.Minute}.withDefaults()
	if got.MaxDelay != 2*time.Minute {
		t.Errorf("MaxDelay = %v, want it raised to InitialDelay", got.MaxDelay)
	}
}

func TestMonitor_HealthyService(t *testing.T) {
	t.Parallel()
	m := New(fastSchedule(), nil)
	defer m.Stop()

	var probes atomic.Int32
	m.Watch(t.Context(), "model", func(context.Context) error {
		probes.Add(1)
		return nil
	})

	waitFor(t, func() bool { return probes.Load() >= 3 })
	if !m.Ready() {
		t.Error("Ready() = false, want true")
	}
	s := m.Status()["model"]
	if !s.Ready || s.LastError != "" || s.LastCheck.IsZero() {
		t.Errorf("status = %+v", s)
	}
}

func TestMonitor_RecoveryAndOutage(t *testing.T) {
	t.Parallel()
	m := New(fastSchedule(), nil)
	defer m.Stop()

	var up atomic.Bool
	m.Watch(t.Context(), "storage", func(context.Context) error {
		if up.Load() {
			return nil
		}
		return errors.New("connection refused")
	})

	waitFor(t, func() bool { return m.Status()["storage"].Failures >= 2 })
	if m.Ready() {
		t.Error("Ready() = true while the service is down")
	}
	if got := m.Status()["storage"].LastError; got != "connection refused" {
		t.Errorf("LastError = %q", got)
	}

	up.Store(true)
	waitFor(t, func() bool { return m.Status()["storage"].Ready })
	if got := m.Status()["storage"].Failures; got != 0 {
		t.Errorf("Failures = %d after recovery, want 0", got)
	}

	up.Store(false)
	waitFor(t, func() bool { return !m.Status()["storage"].Ready })
}

func TestMonitor_UnprobedIsNotReady(t *testing.T) {
	t.Parallel()
	m := New(Schedule{PollInterval: time.Hour, ProbeTimeout: time.Second}, nil)
	defer m.Stop()

	block := make(chan struct{})
	m.Watch(t.Context(), "slow", func(ctx context.Context) error {
		select {
		case <-block:
		case <-ctx.Done():
		}
		return nil
	})
	if m.Ready() {
		t.Error("Ready() = true before the first probe finished")
	}
	close(block)
	waitFor(t, m.Ready)
}

func TestMonitor_ProbeTimeout(t *testing.T) {
	t.Parallel()
	sched := fastSchedule()
	sched.ProbeTimeout = 5 * time.Millisecond
	m := New(sched, nil)
	defer m.Stop()

	m.Watch(t.Context(), "hung", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	waitFor(t, func() bool { return m.Status()["hung"].Failures >= 1 })
}

func TestMonitor_StopEndsWatchers(t *testing.T) {
	t.Parallel()
	m := New(fastSchedule(), nil)

	var probes atomic.Int32
	m.Watch(t.Context(), "a", func(context.Context) error { probes.Add(1); return nil })
	m.Watch(t.Context(), "b", func(context.Context) error { probes.Add(1); return errors.New("down") })
	waitFor(t, func() bool { return probes.Load() >= 4 })

	m.Stop()
	after := probes.Load()
	time.Sleep(20 * time.Millisecond)
	if got := probes.Load(); got != after {
		t.Errorf("probes continued after Stop: %d -> %d", after, got)
	}
	if len(m.Status()) != 2 {
		t.Errorf("Status() has %d entries, want 2", len(m.Status()))
	}
}

func TestMonitor_ContextCancel(t *testing.T) {
	t.Parallel()
	m := New(fastSchedule(), nil)
	ctx, cancel := context.WithCancel(t.Context())

	m.Watch(ctx, "svc", func(context.Context) error { return nil })
	cancel()

	done := make(chan struct{})
	go func() {
		m.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after context cancellation")
	}
}
