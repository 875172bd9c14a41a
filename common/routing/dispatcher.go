package routing

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/COS301-SE-2025/SAMFMS-sub004/common/breaker"
	"github.com/COS301-SE-2025/SAMFMS-sub004/common/broker"
	"github.com/COS301-SE-2025/SAMFMS-sub004/common/correlation"
	"github.com/COS301-SE-2025/SAMFMS-sub004/common/envelope"
	"github.com/COS301-SE-2025/SAMFMS-sub004/common/faults"
	"github.com/COS301-SE-2025/SAMFMS-sub004/common/metrics"
	"github.com/COS301-SE-2025/SAMFMS-sub004/common/retry"
	"github.com/COS301-SE-2025/SAMFMS-sub004/common/trace"
)

const defaultDispatchTimeout = 25 * time.Second

// Publisher is the slice of the broker client the dispatcher needs.
type Publisher interface {
	Publish(ctx context.Context, exchange, key, correlationID string, body []byte) error
}

// DispatcherConfig wires the dispatcher's collaborators.
type DispatcherConfig struct {
	Router         *Router
	Broker         Publisher
	Registry       *correlation.Registry
	Breakers       *breaker.Registry
	Retrier        *retry.Retrier
	Tracer         *trace.Tracer
	Metrics        *metrics.DispatchMetrics
	Logger         *slog.Logger
	DefaultTimeout time.Duration
}

// Dispatcher routes an authorised request to its service block and awaits
// the correlated reply.
type Dispatcher struct {
	router         *Router
	broker         Publisher
	registry       *correlation.Registry
	breakers       *breaker.Registry
	retrier        *retry.Retrier
	tracer         *trace.Tracer
	dm             *metrics.DispatchMetrics
	log            *slog.Logger
	defaultTimeout time.Duration
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	timeout := cfg.DefaultTimeout
	if timeout <= 0 {
		timeout = defaultDispatchTimeout
	}
	return &Dispatcher{
		router:         cfg.Router,
		broker:         cfg.Broker,
		registry:       cfg.Registry,
		breakers:       cfg.Breakers,
		retrier:        cfg.Retrier,
		tracer:         cfg.Tracer,
		dm:             cfg.Metrics,
		log:            cfg.Logger,
		defaultTimeout: timeout,
	}
}

// Dispatch publishes a request envelope to the destination resolved from
// path and blocks until the reply arrives or the deadline passes. The
// deadline is absolute: retries never extend the caller's wall-clock budget.
// Each attempt runs under the destination's circuit breaker and carries a
// fresh correlation id, since service-side deduplication would silently
// swallow a reused one.
func (d *Dispatcher) Dispatch(ctx context.Context, method, path string, data json.RawMessage, uc envelope.UserContext, timeout time.Duration) (json.RawMessage, error) {
	service, err := d.router.Resolve(path)
	if err != nil {
		return nil, err
	}
	endpoint := NormalizeEndpoint(path)

	if timeout <= 0 {
		timeout = d.defaultTimeout
	}
	deadline := time.Now().Add(timeout)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	var result json.RawMessage
	err = d.retrier.Do(ctx, service, d.countRetry, func() error {
		attemptStart := time.Now()
		payload, attemptErr := d.breakers.Execute(service, func() (json.RawMessage, error) {
			return d.attempt(ctx, service, method, endpoint, data, uc, deadline)
		})
		d.observe(uc.TraceID, service, method, endpoint, time.Since(attemptStart), attemptErr)
		if attemptErr != nil {
			return attemptErr
		}
		result = payload
		return nil
	})
	if err != nil {
		d.log.Warn("dispatch failed",
			slog.String("service", service),
			slog.String("method", method),
			slog.String("endpoint", endpoint),
			slog.String("kind", string(faults.KindOf(err))),
			slog.Any("error", err),
		)
		return nil, err
	}
	return result, nil
}

// attempt is one registered-published-awaited round trip.
func (d *Dispatcher) attempt(ctx context.Context, service, method, endpoint string, data json.RawMessage, uc envelope.UserContext, deadline time.Time) (json.RawMessage, error) {
	correlationID := uuid.NewString()

	// Register before publishing so a fast reply always finds its entry.
	pending, err := d.registry.Register(correlationID, service, deadline)
	if err != nil {
		return nil, err
	}
	d.gaugePending()

	env := envelope.NewRequest(correlationID, method, endpoint, data, uc)
	body, err := env.Encode()
	if err != nil {
		d.registry.Discard(correlationID)
		d.gaugePending()
		return nil, faults.Newf(faults.Internal, "encode request envelope: %v", err)
	}

	if err := d.broker.Publish(ctx, broker.RequestsExchange, broker.RequestKey(service), correlationID, body); err != nil {
		d.registry.Discard(correlationID)
		d.gaugePending()
		return nil, err
	}

	payload, err := d.registry.Await(ctx, pending)
	d.gaugePending()
	return payload, err
}

// observe feeds the trace record and the dispatch metrics for one attempt.
func (d *Dispatcher) observe(traceID, service, method, endpoint string, elapsed time.Duration, err error) {
	if d.tracer != nil && traceID != "" {
		d.tracer.AddCall(traceID, service, method+" "+endpoint, elapsed, err)
	}
	if d.dm != nil {
		outcome := "success"
		if err != nil {
			outcome = string(faults.KindOf(err))
		}
		d.dm.RecordDispatch(service, outcome, elapsed)
	}
}

func (d *Dispatcher) countRetry() {
	if d.dm != nil {
		d.dm.RetriesTotal.Inc()
	}
}

func (d *Dispatcher) gaugePending() {
	if d.dm != nil {
		d.dm.PendingRequests.Set(float64(d.registry.PendingCount()))
	}
}
