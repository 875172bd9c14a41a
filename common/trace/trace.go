// Package trace keeps per-request trace records: opened at HTTP ingress,
// appended per service call, finalised into a bounded ring and evicted
// after a retention window. This is the operator-facing view served by the
// trace endpoints, independent of the OpenTelemetry export.
package trace

import (
	"sync"
	"time"
)

const (
	defaultRingCapacity = 500
	defaultRetention    = 5 * time.Minute
)

// Status of a trace record.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// ServiceCall is one dispatched call within a trace.
type ServiceCall struct {
	Service    string    `json:"service"`
	Operation  string    `json:"operation"`
	DurationMS float64   `json:"duration_ms"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Record is the full trace for one correlation id.
type Record struct {
	TraceID      string        `json:"trace_id"`
	StartTime    time.Time     `json:"start_time"`
	EndTime      *time.Time    `json:"end_time,omitempty"`
	DurationMS   float64       `json:"duration_ms"`
	ServiceCalls []ServiceCall `json:"service_calls"`
	Status       Status        `json:"status"`
}

func (r *Record) clone() *Record {
	out := *r
	out.ServiceCalls = make([]ServiceCall, len(r.ServiceCalls))
	copy(out.ServiceCalls, r.ServiceCalls)
	if r.EndTime != nil {
		end := *r.EndTime
		out.EndTime = &end
	}
	return &out
}

// Stats is the tracer's health snapshot.
type Stats struct {
	Active       int           `json:"active"`
	Completed    int           `json:"completed"`
	RingCapacity int           `json:"ring_capacity"`
	Retention    time.Duration `json:"-"`
	RetentionSec float64       `json:"retention_seconds"`
}

// Tracer owns the active map and the completed ring.
type Tracer struct {
	ringCap   int
	retention time.Duration

	mu     sync.Mutex
	active map[string]*Record
	ring   []*Record // completed, oldest first

	done     chan struct{}
	stopOnce sync.Once
}

func NewTracer(ringCap int, retention time.Duration) *Tracer {
	if ringCap <= 0 {
		ringCap = defaultRingCapacity
	}
	if retention <= 0 {
		retention = defaultRetention
	}
	t := &Tracer{
		ringCap:   ringCap,
		retention: retention,
		active:    make(map[string]*Record),
		done:      make(chan struct{}),
	}
	go t.sweepLoop()
	return t
}

// Start opens an active record keyed by the correlation id.
func (t *Tracer) Start(traceID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.active[traceID]; exists {
		return
	}
	t.active[traceID] = &Record{
		TraceID:   traceID,
		StartTime: time.Now().UTC(),
		Status:    StatusActive,
	}
}

// AddCall appends a service call to an active record. Calls against unknown
// trace ids are ignored.
func (t *Tracer) AddCall(traceID, service, operation string, duration time.Duration, callErr error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.active[traceID]
	if !ok {
		return
	}
	call := ServiceCall{
		Service:    service,
		Operation:  operation,
		DurationMS: float64(duration.Milliseconds()),
		Status:     "success",
		Timestamp:  time.Now().UTC(),
	}
	if callErr != nil {
		call.Status = "error"
		call.Error = callErr.Error()
	}
	rec.ServiceCalls = append(rec.ServiceCalls, call)
}

// Complete finalises a record and moves it into the ring.
func (t *Tracer) Complete(traceID string, failed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.active[traceID]
	if !ok {
		return
	}
	delete(t.active, traceID)

	now := time.Now().UTC()
	rec.EndTime = &now
	rec.DurationMS = float64(now.Sub(rec.StartTime).Milliseconds())
	if failed {
		rec.Status = StatusFailed
	} else {
		rec.Status = StatusCompleted
	}

	t.ring = append(t.ring, rec)
	if overflow := len(t.ring) - t.ringCap; overflow > 0 {
		t.ring = t.ring[overflow:]
	}
}

// Get returns a copy of a record, searching active traces first.
func (t *Tracer) Get(traceID string) (*Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if rec, ok := t.active[traceID]; ok {
		return rec.clone(), true
	}
	for _, rec := range t.ring {
		if rec.TraceID == traceID {
			return rec.clone(), true
		}
	}
	return nil, false
}

// Recent returns up to limit completed records, newest first.
func (t *Tracer) Recent(limit int) []*Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	if limit <= 0 || limit > len(t.ring) {
		limit = len(t.ring)
	}
	out := make([]*Record, 0, limit)
	for i := len(t.ring) - 1; i >= len(t.ring)-limit; i-- {
		out = append(out, t.ring[i].clone())
	}
	return out
}

// ActiveCount reports currently open traces.
func (t *Tracer) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}

func (t *Tracer) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Stats{
		Active:       len(t.active),
		Completed:    len(t.ring),
		RingCapacity: t.ringCap,
		Retention:    t.retention,
		RetentionSec: t.retention.Seconds(),
	}
}

// sweepLoop evicts completed records older than the retention window.
func (t *Tracer) sweepLoop() {
	cadence := t.retention / 10
	if cadence < time.Second {
		cadence = time.Second
	}
	if cadence > time.Minute {
		cadence = time.Minute
	}
	ticker := time.NewTicker(cadence)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case now := <-ticker.C:
			t.evict(now)
		}
	}
}

func (t *Tracer) evict(now time.Time) {
	cutoff := now.Add(-t.retention)
	t.mu.Lock()
	defer t.mu.Unlock()

	keep := t.ring[:0]
	for _, rec := range t.ring {
		if rec.EndTime != nil && rec.EndTime.After(cutoff) {
			keep = append(keep, rec)
		}
	}
	t.ring = keep
}

func (t *Tracer) Stop() {
	t.stopOnce.Do(func() { close(t.done) })
}
