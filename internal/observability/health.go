package observability

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ComponentStatus grades a component's health.
type ComponentStatus string

const (
	StatusHealthy   ComponentStatus = "healthy"
	StatusDegraded  ComponentStatus = "degraded"
	StatusUnhealthy ComponentStatus = "unhealthy"
)

// HealthCheck probes one component.
type HealthCheck func(ctx context.Context) (ComponentStatus, string)

// ComponentHealth is one component's latest result.
type ComponentHealth struct {
	Name        string          `json:"name"`
	Status      ComponentStatus `json:"status"`
	Message     string          `json:"message,omitempty"`
	LastChecked time.Time       `json:"last_checked"`
}

// SystemHealth aggregates every component; the worst status wins.
type SystemHealth struct {
	Status     ComponentStatus            `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Timestamp  time.Time                  `json:"ts"`
	Uptime     time.Duration              `json:"uptime"`
}

// HealthMonitor runs registered checks on a fixed interval.
type HealthMonitor struct {
	mu        sync.RWMutex
	checks    map[string]HealthCheck
	results   map[string]ComponentHealth
	startTime time.Time
	interval  time.Duration
}

// NewHealthMonitor creates a monitor checking at the given interval.
func NewHealthMonitor(interval time.Duration) *HealthMonitor {
	return &HealthMonitor{
		checks:    make(map[string]HealthCheck),
		results:   make(map[string]ComponentHealth),
		startTime: time.Now(),
		interval:  interval,
	}
}

// Register adds a named check. Call before Run.
func (m *HealthMonitor) Register(name string, check HealthCheck) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[name] = check
}

// Run checks periodically until ctx is cancelled. Blocks.
func (m *HealthMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.runChecks(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.runChecks(ctx)
		}
	}
}

// Check runs every check synchronously and returns the aggregate, for use
// by an HTTP handler.
func (m *HealthMonitor) Check(ctx context.Context) SystemHealth {
	m.runChecks(ctx)
	return m.snapshot()
}

func (m *HealthMonitor) runChecks(ctx context.Context) {
	m.mu.RLock()
	checks := make(map[string]HealthCheck, len(m.checks))
	for name, fn := range m.checks {
		checks[name] = fn
	}
	m.mu.RUnlock()

	now := time.Now()
	results := make(map[string]ComponentHealth, len(checks))
	for name, fn := range checks {
		status, msg := fn(ctx)
		results[name] = ComponentHealth{
			Name:        name,
			Status:      status,
			Message:     msg,
			LastChecked: now,
		}
	}

	m.mu.Lock()
	m.results = results
	m.mu.Unlock()
}

func (m *HealthMonitor) snapshot() SystemHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	components := make(map[string]ComponentHealth, len(m.results))
	worst := StatusHealthy
	for name, h := range m.results {
		components[name] = h
		if severity(h.Status) > severity(worst) {
			worst = h.Status
		}
	}
	return SystemHealth{
		Status:     worst,
		Components: components,
		Timestamp:  time.Now(),
		Uptime:     time.Since(m.startTime),
	}
}

func severity(s ComponentStatus) int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	case StatusUnhealthy:
		return 2
	default:
		return -1
	}
}

// QueueDepthCheck degrades when the backlog exceeds warn and goes unhealthy
// past crit.
func QueueDepthCheck(depth func() int, warn, crit int) HealthCheck {
	return func(context.Context) (ComponentStatus, string) {
		d := depth()
		switch {
		case d >= crit:
			return StatusUnhealthy, fmt.Sprintf("queue backlog %d (crit %d)", d, crit)
		case d >= warn:
			return StatusDegraded, fmt.Sprintf("queue backlog %d (warn %d)", d, warn)
		}
		return StatusHealthy, ""
	}
}

// FeedConnectedCheck reports unhealthy while the pool feed is disconnected.
func FeedConnectedCheck(connected func() bool) HealthCheck {
	return func(context.Context) (ComponentStatus, string) {
		if !connected() {
			return StatusUnhealthy, "pool feed disconnected"
		}
		return StatusHealthy, ""
	}
}

// RunningBotsCheck degrades when no bots are running.
func RunningBotsCheck(running func() int) HealthCheck {
	return func(context.Context) (ComponentStatus, string) {
		if running() == 0 {
			return StatusDegraded, "no bots running"
		}
		return StatusHealthy, ""
	}
}
