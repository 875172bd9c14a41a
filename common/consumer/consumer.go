// Package consumer is the request-handling side every service block runs: it
// drains the block's request queue, suppresses duplicate deliveries, resolves
// a handler per endpoint and method, and always publishes a reply so the
// core's deadline is the only source of "no reply".
package consumer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"

	"github.com/COS301-SE-2025/SAMFMS-sub004/common/broker"
	"github.com/COS301-SE-2025/SAMFMS-sub004/common/envelope"
	"github.com/COS301-SE-2025/SAMFMS-sub004/common/faults"
	"github.com/COS301-SE-2025/SAMFMS-sub004/common/metrics"
)

// HandlerFunc processes one validated request envelope. Returned errors are
// encoded verbatim into the error reply when they are faults; anything else
// travels as Internal.
type HandlerFunc func(ctx context.Context, req *envelope.RequestEnvelope) (any, error)

// Publisher is the slice of the broker client the consumer publishes
// replies through.
type Publisher interface {
	Publish(ctx context.Context, exchange, key, correlationID string, body []byte) error
}

// Options tunes a service block's consumer.
type Options struct {
	DedupCapacity int
	DedupTrimTo   int
}

type handlerKey struct {
	endpoint string
	method   string
}

// Stats is the consumer's health snapshot.
type Stats struct {
	DedupSize int `json:"dedup_size"`
	Handlers  int `json:"handlers"`
}

// Consumer subscribes to one service's request queue and dispatches each
// envelope to the handler registered for its base endpoint and method.
type Consumer struct {
	service   string
	queue     string
	publisher Publisher
	dedup     *Dedup
	log       *slog.Logger
	cm        *metrics.ConsumerMetrics

	mu       sync.RWMutex
	handlers map[handlerKey]HandlerFunc
}

// New builds a consumer for a service block. Metrics may be nil.
func New(service string, publisher Publisher, opts Options, log *slog.Logger, cm *metrics.ConsumerMetrics) *Consumer {
	return &Consumer{
		service:   service,
		queue:     broker.RequestQueue(service),
		publisher: publisher,
		dedup:     NewDedup(opts.DedupCapacity, opts.DedupTrimTo),
		log:       log,
		cm:        cm,
		handlers:  make(map[handlerKey]HandlerFunc),
	}
}

// Handle registers a handler for a base endpoint ("api/vehicles") and method.
// Registering the same pair twice replaces the earlier handler.
func (c *Consumer) Handle(baseEndpoint, method string, fn HandlerFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[handlerKey{endpoint: baseEndpoint, method: method}] = fn
}

func (c *Consumer) lookup(baseEndpoint, method string) HandlerFunc {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.handlers[handlerKey{endpoint: baseEndpoint, method: method}]
}

// Start declares the service's request queue and subscribes to it. The
// subscription survives broker reconnects.
func (c *Consumer) Start(client *broker.Client) error {
	if err := client.DeclareRequestQueue(c.service); err != nil {
		return err
	}
	return client.Consume(c.queue, c.HandleDelivery)
}

// HandleDelivery runs one delivery through the pipeline: decode, dedup,
// validate, dispatch, reply, record, ack. Every delivery is acked and every
// non-duplicate produces exactly one reply, success or error.
func (c *Consumer) HandleDelivery(ctx context.Context, d amqp.Delivery) {
	defer d.Ack(false)

	ctx, span := otel.Tracer(c.service).Start(ctx, "consume "+c.queue)
	defer span.End()
	start := time.Now()

	req, err := envelope.DecodeRequest(d.Body)
	if err != nil {
		// The body is unusable; the AMQP property is the only correlation
		// id left to reply under.
		c.log.Warn("rejecting malformed request envelope",
			slog.String("message_correlation_id", d.CorrelationId),
			slog.Any("error", err),
		)
		c.replyError(ctx, d.CorrelationId, faults.As(err))
		c.observe("", "", string(faults.BadRequest), start)
		return
	}

	if c.dedup.Seen(req.CorrelationID) {
		c.log.Info("duplicate delivery suppressed",
			slog.String("correlation_id", req.CorrelationID),
		)
		if c.cm != nil {
			c.cm.DuplicatesTotal.Inc()
		}
		return
	}

	if err := req.Validate(); err != nil {
		c.replyError(ctx, req.CorrelationID, faults.As(err))
		c.dedup.Record(req.CorrelationID)
		c.observe(req.BaseEndpoint(), req.Method, string(faults.ValidationError), start)
		return
	}

	base := req.BaseEndpoint()
	fn := c.lookup(base, req.Method)
	if fn == nil {
		c.replyError(ctx, req.CorrelationID, faults.Newf(faults.NotFound,
			"%s has no handler for %s %s", c.service, req.Method, base))
		c.dedup.Record(req.CorrelationID)
		c.observe(base, req.Method, string(faults.NotFound), start)
		return
	}

	result, err := c.invoke(ctx, fn, req)
	if err != nil {
		f := faults.As(err)
		c.log.Warn("handler failed",
			slog.String("correlation_id", req.CorrelationID),
			slog.String("endpoint", req.Endpoint),
			slog.String("method", req.Method),
			slog.String("kind", string(f.Kind)),
			slog.Any("error", err),
		)
		c.replyError(ctx, req.CorrelationID, f)
		c.dedup.Record(req.CorrelationID)
		c.observe(base, req.Method, string(f.Kind), start)
		return
	}

	resp, encErr := envelope.Success(req.CorrelationID, result)
	if encErr != nil {
		c.replyError(ctx, req.CorrelationID, faults.As(encErr))
		c.dedup.Record(req.CorrelationID)
		c.observe(base, req.Method, string(faults.Internal), start)
		return
	}
	c.publish(ctx, resp)
	c.dedup.Record(req.CorrelationID)
	c.observe(base, req.Method, "success", start)
}

// invoke shields the consumer loop from handler panics; a panicking handler
// still yields an error reply.
func (c *Consumer) invoke(ctx context.Context, fn HandlerFunc, req *envelope.RequestEnvelope) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("handler panicked",
				slog.String("correlation_id", req.CorrelationID),
				slog.String("endpoint", req.Endpoint),
				slog.Any("panic", r),
			)
			result, err = nil, faults.Newf(faults.Internal, "handler panic: %v", r)
		}
	}()
	return fn(ctx, req)
}

func (c *Consumer) replyError(ctx context.Context, correlationID string, f *faults.Fault) {
	c.publish(ctx, envelope.Failure(correlationID, f))
}

// publish sends a reply onto the responses exchange. A failed publish is
// logged and abandoned; the caller's deadline covers the lost reply.
func (c *Consumer) publish(ctx context.Context, resp *envelope.ResponseEnvelope) {
	body, err := resp.Encode()
	if err != nil {
		c.log.Error("failed to encode reply",
			slog.String("correlation_id", resp.CorrelationID),
			slog.Any("error", err),
		)
		return
	}
	if err := c.publisher.Publish(ctx, broker.ResponsesExchange, broker.ResponseKey, resp.CorrelationID, body); err != nil {
		c.log.Error("failed to publish reply",
			slog.String("correlation_id", resp.CorrelationID),
			slog.Any("error", err),
		)
	}
}

func (c *Consumer) observe(endpoint, method, status string, start time.Time) {
	if c.cm == nil {
		return
	}
	c.cm.RecordProcessed(endpoint, method, status, time.Since(start))
}

// Stats reports the dedup window size and registered handler count.
func (c *Consumer) Stats() Stats {
	c.mu.RLock()
	handlers := len(c.handlers)
	c.mu.RUnlock()
	return Stats{
		DedupSize: c.dedup.Len(),
		Handlers:  handlers,
	}
}
