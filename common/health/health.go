// Package health aggregates dependency probes and component snapshots into
// the read-only reports served by the operational endpoints.
package health

import (
	"context"
	"sync"
	"time"
)

// Status is the aggregate verdict over all registered checks.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckFunc probes one dependency. A nil return means healthy.
type CheckFunc func(ctx context.Context) error

// DetailFunc supplies a component snapshot included verbatim in the
// detailed report (circuit breakers, pending registry, dedup window).
type DetailFunc func() any

type check struct {
	name     string
	critical bool
	fn       CheckFunc
}

// CheckResult is one dependency's probe outcome.
type CheckResult struct {
	Name      string  `json:"name"`
	Critical  bool    `json:"critical"`
	Healthy   bool    `json:"healthy"`
	Error     string  `json:"error,omitempty"`
	LatencyMS float64 `json:"latency_ms"`
}

// Report is the detailed health document.
type Report struct {
	Status    Status         `json:"status"`
	Checks    []CheckResult  `json:"checks"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Aggregator runs registered checks and computes the aggregate status: a
// failing critical dependency makes the service unhealthy, a failing
// non-critical one only degrades it.
type Aggregator struct {
	mu      sync.Mutex
	checks  []check
	details map[string]DetailFunc
}

func New() *Aggregator {
	return &Aggregator{details: make(map[string]DetailFunc)}
}

// AddCheck registers a dependency probe.
func (a *Aggregator) AddCheck(name string, critical bool, fn CheckFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.checks = append(a.checks, check{name: name, critical: critical, fn: fn})
}

// AddDetail registers a snapshot supplier for the detailed report.
func (a *Aggregator) AddDetail(name string, fn DetailFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.details[name] = fn
}

// Evaluate probes every dependency concurrently and assembles the report.
func (a *Aggregator) Evaluate(ctx context.Context) Report {
	a.mu.Lock()
	checks := make([]check, len(a.checks))
	copy(checks, a.checks)
	details := make(map[string]DetailFunc, len(a.details))
	for name, fn := range a.details {
		details[name] = fn
	}
	a.mu.Unlock()

	results := make([]CheckResult, len(checks))
	var wg sync.WaitGroup
	for i, c := range checks {
		wg.Add(1)
		go func(i int, c check) {
			defer wg.Done()
			start := time.Now()
			err := c.fn(ctx)
			results[i] = CheckResult{
				Name:      c.name,
				Critical:  c.critical,
				Healthy:   err == nil,
				LatencyMS: float64(time.Since(start).Microseconds()) / 1000.0,
			}
			if err != nil {
				results[i].Error = err.Error()
			}
		}(i, c)
	}
	wg.Wait()

	status := StatusHealthy
	for _, r := range results {
		if r.Healthy {
			continue
		}
		if r.Critical {
			status = StatusUnhealthy
			break
		}
		status = StatusDegraded
	}

	report := Report{
		Status:    status,
		Checks:    results,
		Timestamp: time.Now().UTC(),
	}
	if len(details) > 0 {
		report.Details = make(map[string]any, len(details))
		for name, fn := range details {
			report.Details[name] = fn()
		}
	}
	return report
}
