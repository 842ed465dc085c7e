package health

import (
	"context"
	"time"
)

// CheckType says how a worker's liveness is probed.
type CheckType string

const (
	// CheckTypeHeartbeat derives liveness from the worker's own heartbeat
	// RPCs rather than an active probe.
	CheckTypeHeartbeat CheckType = "heartbeat"
	CheckTypeHTTP      CheckType = "http"
	CheckTypeTCP       CheckType = "tcp"
)

// Result is the outcome of one liveness check.
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker probes one worker's liveness.
type Checker interface {
	// Check performs the health check and returns the result.
	Check(ctx context.Context) Result

	// Type returns the type of health check.
	Type() CheckType
}

// Config tunes how check results translate into a health verdict.
type Config struct {
	// Interval is the time between checks.
	Interval time.Duration

	// Timeout bounds one check.
	Timeout time.Duration

	// Retries is the number of consecutive failures before a worker is
	// marked unhealthy; a single missed heartbeat window must not drain
	// its actors.
	Retries int

	// StartPeriod is a grace period after registration during which
	// failures are not counted, covering a compute node's initial version
	// pin and catch-up.
	StartPeriod time.Duration
}

// DefaultConfig returns the tuning Meta uses for worker liveness.
func DefaultConfig() Config {
	return Config{
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		Retries:     3,
		StartPeriod: 0,
	}
}

// Status accumulates check results for one worker.
type Status struct {
	// ConsecutiveFailures counts failed checks since the last success.
	ConsecutiveFailures int

	// ConsecutiveSuccesses counts successful checks since the last failure.
	ConsecutiveSuccesses int

	// LastCheck is when the worker was last probed.
	LastCheck time.Time

	// LastResult is the most recent check outcome.
	LastResult Result

	// Healthy is the current verdict.
	Healthy bool

	// StartedAt is when monitoring began for this worker.
	StartedAt time.Time
}

// NewStatus returns a Status that assumes health until proven otherwise,
// so a freshly registered worker is schedulable immediately.
func NewStatus() *Status {
	return &Status{
		Healthy:   true,
		StartedAt: time.Now(),
	}
}

// Update folds one check result into the status. A single success restores
// health; failures only flip the verdict once config.Retries of them
// arrive consecutively.
func (s *Status) Update(result Result, config Config) {
	s.LastCheck = result.CheckedAt
	s.LastResult = result

	if result.Healthy {
		s.ConsecutiveSuccesses++
		s.ConsecutiveFailures = 0
		s.Healthy = true
	} else {
		s.ConsecutiveFailures++
		s.ConsecutiveSuccesses = 0
		if s.ConsecutiveFailures >= config.Retries {
			s.Healthy = false
		}
	}
}

// InStartPeriod reports whether the worker is still in its registration
// grace period.
func (s *Status) InStartPeriod(config Config) bool {
	if config.StartPeriod == 0 {
		return false
	}
	return time.Since(s.StartedAt) < config.StartPeriod
}
