// Package connwatch tracks the reachability of the services the agent
// depends on (the model server, the conversation store). /health
// reports the result, and outages are logged when they start and end.
//
// Each watched service is probed by its own goroutine. While the service
// is down probes back off exponentially; once it is up they run at a
// fixed poll interval.
package connwatch

import (
	"context"
	"log/slog"
	"maps"
	"sync"
	"time"
)

// ProbeFunc checks whether a service is reachable. Return nil if healthy.
type ProbeFunc func(ctx context.Context) error

// Schedule controls probe timing.
type Schedule struct {
	// InitialDelay is the first retry delay after a failed probe.
	InitialDelay time.Duration
	// MaxDelay caps the retry delay.
	MaxDelay time.Duration
	// PollInterval is the delay between probes of a healthy service.
	PollInterval time.Duration
	// ProbeTimeout bounds a single probe.
	ProbeTimeout time.Duration
}

// DefaultSchedule retries after 2s, 4s, 8s ... up to 60s and polls a
// healthy service once a minute.
func DefaultSchedule() Schedule {
	return Schedule{
		InitialDelay: 2 * time.Second,
		MaxDelay:     60 * time.Second,
		PollInterval: 60 * time.Second,
		ProbeTimeout: 10 * time.Second,
	}
}

func (s Schedule) withDefaults() Schedule {
	d := DefaultSchedule()
	if s.InitialDelay <= 0 {
		s.InitialDelay = d.InitialDelay
	}
	if s.MaxDelay < s.InitialDelay {
		s.MaxDelay = max(d.MaxDelay, s.InitialDelay)
	}
	if s.PollInterval <= 0 {
		s.PollInterval = d.PollInterval
	}
	if s.ProbeTimeout <= 0 {
		s.ProbeTimeout = d.ProbeTimeout
	}
	return s
}

// ServiceStatus is the health of one service as served by /health.
type ServiceStatus struct {
	Ready     bool      `json:"ready"`
	LastCheck time.Time `json:"last_check"`
	LastError string    `json:"last_error,omitempty"`
	Failures  int       `json:"consecutive_failures,omitempty"`
}

// Monitor owns the watchers. The zero value is not usable; call New.
type Monitor struct {
	schedule Schedule
	logger   *slog.Logger
	now      func() time.Time

	mu     sync.RWMutex
	status map[string]ServiceStatus
	cancel []context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Monitor that probes on schedule. Zero fields take their
// defaults.
func New(schedule Schedule, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		schedule: schedule.withDefaults(),
		logger:   logger.With("component", "connwatch"),
		now:      time.Now,
		status:   make(map[string]ServiceStatus),
	}
}

// Watch starts probing a service under name. The first probe runs
// immediately. Watching stops when ctx is cancelled or Stop is called.
func (m *Monitor) Watch(ctx context.Context, name string, probe ProbeFunc) {
	ctx, cancel := context.WithCancel(ctx)

	m.mu.Lock()
	m.status[name] = ServiceStatus{}
	m.cancel = append(m.cancel, cancel)
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.loop(ctx, name, probe)
	}()
}

func (m *Monitor) loop(ctx context.Context, name string, probe ProbeFunc) {
	delay := m.schedule.InitialDelay
	for {
		probeCtx, cancel := context.WithTimeout(ctx, m.schedule.ProbeTimeout)
		err := probe(probeCtx)
		cancel()
		if ctx.Err() != nil {
			return
		}

		wait := m.schedule.PollInterval
		if m.record(name, err) {
			delay = m.schedule.InitialDelay
		} else {
			wait = delay
			delay = min(delay*2, m.schedule.MaxDelay)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// record stores a probe outcome, logs state transitions and reports
// whether the service is ready.
func (m *Monitor) record(name string, err error) bool {
	m.mu.Lock()
	prev := m.status[name]
	next := ServiceStatus{Ready: err == nil, LastCheck: m.now()}
	if err != nil {
		next.LastError = err.Error()
		next.Failures = prev.Failures + 1
	}
	m.status[name] = next
	m.mu.Unlock()

	switch {
	case next.Ready && !prev.Ready && prev.LastCheck.IsZero():
		m.logger.Info("service connected", "service", name)
	case next.Ready && !prev.Ready:
		m.logger.Info("service recovered", "service", name, "failures", prev.Failures)
	case !next.Ready && prev.Ready:
		m.logger.Warn("service became unreachable", "service", name, "error", err)
	case !next.Ready:
		m.logger.Debug("service still unreachable", "service", name, "failures", next.Failures, "error", err)
	}
	return next.Ready
}

// Status returns a snapshot of every watched service.
func (m *Monitor) Status() map[string]ServiceStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.status)
}

// Ready reports whether every watched service answered its last probe.
// A service that has not been probed yet counts as not ready.
func (m *Monitor) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.status {
		if !s.Ready {
			return false
		}
	}
	return true
}

// Stop cancels every watcher and waits for them to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancels := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	m.wg.Wait()
}
