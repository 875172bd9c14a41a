// Package correlation holds the pending-call registry that pairs dispatched
// requests with the replies arriving on the core's response queue.
package correlation

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/COS301-SE-2025/SAMFMS-sub004/common/faults"
)

const (
	defaultSoftCap    = 1000
	defaultSweepEvery = time.Second
)

type outcome struct {
	data json.RawMessage
	err  error
}

// Pending is one awaited dispatch. Exactly one outcome is ever delivered on
// its channel; whoever removes the entry from the registry sends it.
type Pending struct {
	id       string
	service  string
	deadline time.Time
	ch       chan outcome
}

func (p *Pending) ID() string          { return p.id }
func (p *Pending) Service() string     { return p.service }
func (p *Pending) Deadline() time.Time { return p.deadline }

// Stats is the registry's health snapshot.
type Stats struct {
	Pending        int    `json:"pending"`
	SoftCap        int    `json:"soft_cap"`
	Resolved       uint64 `json:"resolved"`
	Expired        uint64 `json:"expired"`
	Cancelled      uint64 `json:"cancelled"`
	DroppedReplies uint64 `json:"dropped_replies"`
}

// Registry tracks pending calls by correlation id. A sweeper expires entries
// whose deadlines pass without a reply, so awaiters are released even when
// no reply ever arrives.
type Registry struct {
	log        *slog.Logger
	softCap    int
	sweepEvery time.Duration

	mu        sync.Mutex
	pending   map[string]*Pending
	resolved  uint64
	expired   uint64
	cancelled uint64
	dropped   uint64

	done     chan struct{}
	stopOnce sync.Once
}

func NewRegistry(softCap int, sweepEvery time.Duration, log *slog.Logger) *Registry {
	if softCap <= 0 {
		softCap = defaultSoftCap
	}
	if sweepEvery <= 0 {
		sweepEvery = defaultSweepEvery
	}
	r := &Registry{
		log:        log,
		softCap:    softCap,
		sweepEvery: sweepEvery,
		pending:    make(map[string]*Pending),
		done:       make(chan struct{}),
	}
	go r.sweepLoop()
	return r
}

// Register adds a pending entry. Over the soft cap it fails fast with
// BackpressureRejected instead of queueing unboundedly.
func (r *Registry) Register(correlationID, service string, deadline time.Time) (*Pending, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.pending) >= r.softCap {
		return nil, faults.Newf(faults.BackpressureRejected,
			"correlation registry at capacity (%d pending)", len(r.pending))
	}
	if _, exists := r.pending[correlationID]; exists {
		return nil, faults.Newf(faults.Internal, "correlation id %s already registered", correlationID)
	}

	p := &Pending{
		id:       correlationID,
		service:  service,
		deadline: deadline,
		ch:       make(chan outcome, 1),
	}
	r.pending[correlationID] = p
	return p, nil
}

// take removes and returns the entry, or nil if it was already resolved.
// The caller that gets a non-nil entry owns the single outcome send.
func (r *Registry) take(correlationID string) *Pending {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[correlationID]
	if !ok {
		return nil
	}
	delete(r.pending, correlationID)
	return p
}

// Resolve completes a pending call with a reply payload or a service error.
// Late or unmatched replies report false and are counted, not delivered.
func (r *Registry) Resolve(correlationID string, data json.RawMessage, err error) bool {
	p := r.take(correlationID)
	if p == nil {
		r.mu.Lock()
		r.dropped++
		r.mu.Unlock()
		return false
	}
	p.ch <- outcome{data: data, err: err}
	r.mu.Lock()
	r.resolved++
	r.mu.Unlock()
	return true
}

// Discard removes an entry that will never be awaited, such as one whose
// publish failed. No outcome is delivered and nothing is counted.
func (r *Registry) Discard(correlationID string) {
	r.take(correlationID)
}

// Await blocks until the entry resolves, its context expires, or the caller
// cancels. Deadline expiry surfaces as a Timeout fault; caller cancellation
// surfaces as context.Canceled.
func (r *Registry) Await(ctx context.Context, p *Pending) (json.RawMessage, error) {
	select {
	case out := <-p.ch:
		return out.data, out.err
	case <-ctx.Done():
		if taken := r.take(p.id); taken == nil {
			// A reply won the race; it is already buffered.
			out := <-p.ch
			return out.data, out.err
		}
		if ctx.Err() == context.DeadlineExceeded {
			r.mu.Lock()
			r.expired++
			r.mu.Unlock()
			return nil, faults.Newf(faults.Timeout,
				"no response from %s within deadline", p.service)
		}
		r.mu.Lock()
		r.cancelled++
		r.mu.Unlock()
		return nil, ctx.Err()
	}
}

// sweepLoop expires entries whose deadlines passed with no reply and no
// awaiter currently scheduled.
func (r *Registry) sweepLoop() {
	ticker := time.NewTicker(r.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			return
		case now := <-ticker.C:
			r.sweep(now)
		}
	}
}

func (r *Registry) sweep(now time.Time) {
	r.mu.Lock()
	var lapsed []*Pending
	for id, p := range r.pending {
		if now.After(p.deadline) {
			delete(r.pending, id)
			lapsed = append(lapsed, p)
		}
	}
	r.expired += uint64(len(lapsed))
	r.mu.Unlock()

	for _, p := range lapsed {
		p.ch <- outcome{err: faults.Newf(faults.Timeout,
			"no response from %s within deadline", p.service)}
		r.log.Warn("pending request expired",
			slog.String("correlation_id", p.id),
			slog.String("service", p.service),
		)
	}
}

// PendingCount reports the current number of awaited calls.
func (r *Registry) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		Pending:        len(r.pending),
		SoftCap:        r.softCap,
		Resolved:       r.resolved,
		Expired:        r.expired,
		Cancelled:      r.cancelled,
		DroppedReplies: r.dropped,
	}
}

// Stop halts the sweeper and releases every remaining awaiter with a
// shutdown error.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)

		r.mu.Lock()
		remaining := make([]*Pending, 0, len(r.pending))
		for id, p := range r.pending {
			delete(r.pending, id)
			remaining = append(remaining, p)
		}
		r.mu.Unlock()

		for _, p := range remaining {
			p.ch <- outcome{err: faults.New(faults.ServiceUnavailable, "core shutting down")}
		}
	})
}
