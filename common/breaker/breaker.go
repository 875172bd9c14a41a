// Package breaker manages one circuit breaker per destination service so a
// dead service block sheds load fast instead of tying up dispatch workers.
package breaker

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/COS301-SE-2025/SAMFMS-sub004/common/faults"
)

const (
	defaultFailureThreshold = 5
	defaultOpenTimeout      = 60 * time.Second
	defaultHalfOpenMax      = 3
)

// Options tunes every breaker the registry creates.
type Options struct {
	// FailureThreshold is the consecutive-failure count that opens a breaker.
	FailureThreshold int
	// OpenTimeout is how long an open breaker rejects before probing.
	OpenTimeout time.Duration
	// HalfOpenMax caps concurrent probe requests while half-open.
	HalfOpenMax int
}

func (o *Options) withDefaults() {
	if o.FailureThreshold <= 0 {
		o.FailureThreshold = defaultFailureThreshold
	}
	if o.OpenTimeout <= 0 {
		o.OpenTimeout = defaultOpenTimeout
	}
	if o.HalfOpenMax <= 0 {
		o.HalfOpenMax = defaultHalfOpenMax
	}
}

// StateHook observes breaker transitions (used to drive the state gauge).
type StateHook func(service string, state gobreaker.State)

// Registry lazily creates a breaker per service; all share the same tuning.
type Registry struct {
	opts Options
	log  *slog.Logger
	hook StateHook

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func NewRegistry(opts Options, log *slog.Logger, hook StateHook) *Registry {
	opts.withDefaults()
	return &Registry{
		opts:     opts,
		log:      log,
		hook:     hook,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// For returns the breaker guarding a service, creating it on first use.
func (r *Registry) For(service string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[service]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        service,
		MaxRequests: uint32(r.opts.HalfOpenMax),
		Timeout:     r.opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(r.opts.FailureThreshold)
		},
		// Client-fault verdicts and broker-local errors do not charge the
		// destination service.
		IsSuccessful: func(err error) bool {
			return !faults.CountsAsBreakerFailure(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.log.Warn("circuit breaker state change",
				slog.String("destination", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			if r.hook != nil {
				r.hook(name, to)
			}
		},
	})
	r.breakers[service] = cb
	return cb
}

// Execute runs fn under the service's breaker. Open and over-probed breakers
// reject with ServiceUnavailable without invoking fn.
func (r *Registry) Execute(service string, fn func() (json.RawMessage, error)) (json.RawMessage, error) {
	out, err := r.For(service).Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, faults.Newf(faults.ServiceUnavailable,
				"service %s is unavailable (circuit open)", service)
		}
		return nil, err
	}
	data, _ := out.(json.RawMessage)
	return data, nil
}

// Snapshot is one breaker's state for the health surface.
type Snapshot struct {
	Service             string `json:"service"`
	State               string `json:"state"`
	Requests            uint32 `json:"requests"`
	TotalSuccesses      uint32 `json:"total_successes"`
	TotalFailures       uint32 `json:"total_failures"`
	ConsecutiveFailures uint32 `json:"consecutive_failures"`
}

// Snapshots returns the state of every breaker created so far, ordered by
// service name.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Snapshot, 0, len(r.breakers))
	for service, cb := range r.breakers {
		counts := cb.Counts()
		out = append(out, Snapshot{
			Service:             service,
			State:               cb.State().String(),
			Requests:            counts.Requests,
			TotalSuccesses:      counts.TotalSuccesses,
			TotalFailures:       counts.TotalFailures,
			ConsecutiveFailures: counts.ConsecutiveFailures,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Service < out[j].Service })
	return out
}

// StateValue maps a breaker state onto the gauge scale used by metrics.
func StateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
