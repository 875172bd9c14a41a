// Package broker wraps the AMQP connection shared by the core and the
// service blocks: one connection, a publish channel and a consume channel,
// automatic reconnection with re-declared topology, and trace propagation
// through message headers.
package broker

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/COS301-SE-2025/SAMFMS-sub004/common/faults"
	"github.com/COS301-SE-2025/SAMFMS-sub004/common/metrics"
)

// Reconnection and storm-prevention defaults.
const (
	defaultHeartbeat       = 60 * time.Second
	defaultPrefetch        = 10
	defaultConnectAttempts = 3
	defaultReconnectBase   = 2 * time.Second
	defaultReconnectMax    = 60 * time.Second
	defaultDialThreshold   = 5
	defaultDialCooldown    = 60 * time.Second
)

// Options configures a Client. Zero values fall back to the defaults above.
type Options struct {
	URL         string
	ServiceName string
	Heartbeat   time.Duration
	Prefetch    int

	// ConnectAttempts bounds the startup dial loop. Reconnects after a
	// lost connection are unbounded.
	ConnectAttempts int

	ReconnectBase time.Duration
	ReconnectMax  time.Duration

	// After DialFailureThreshold consecutive dial failures the client
	// refuses further attempts for DialCooldown.
	DialFailureThreshold int
	DialCooldown         time.Duration
}

func (o *Options) withDefaults() {
	if o.Heartbeat <= 0 {
		o.Heartbeat = defaultHeartbeat
	}
	if o.Prefetch <= 0 {
		o.Prefetch = defaultPrefetch
	}
	if o.ConnectAttempts <= 0 {
		o.ConnectAttempts = defaultConnectAttempts
	}
	if o.ReconnectBase <= 0 {
		o.ReconnectBase = defaultReconnectBase
	}
	if o.ReconnectMax <= 0 {
		o.ReconnectMax = defaultReconnectMax
	}
	if o.DialFailureThreshold <= 0 {
		o.DialFailureThreshold = defaultDialThreshold
	}
	if o.DialCooldown <= 0 {
		o.DialCooldown = defaultDialCooldown
	}
}

// DeliveryHandler processes one delivery. The handler owns acknowledgement;
// the context carries the trace extracted from the message headers.
type DeliveryHandler func(ctx context.Context, d amqp.Delivery)

type consumerSpec struct {
	queue   string
	handler DeliveryHandler
}

// Client is a reconnecting AMQP client. Registered queues and consumers are
// re-declared and re-subscribed after every reconnect. Publishes issued
// while the connection is down fail immediately with BrokerUnavailable.
type Client struct {
	opts Options
	log  *slog.Logger
	bm   *metrics.BrokerMetrics

	mu        sync.RWMutex
	conn      *amqp.Connection
	pubCh     *amqp.Channel
	consCh    *amqp.Channel
	connected bool
	closed    bool

	queues    []queueSpec
	consumers []consumerSpec

	dialFailures  int
	cooldownUntil time.Time

	done chan struct{}
}

// NewClient builds a client. Metrics may be nil (used by service blocks that
// do not expose broker metrics).
func NewClient(opts Options, log *slog.Logger, bm *metrics.BrokerMetrics) *Client {
	opts.withDefaults()
	return &Client{
		opts: opts,
		log:  log,
		bm:   bm,
		done: make(chan struct{}),
	}
}

// Connect dials the broker, declares the topology and any queues registered
// so far, and starts the close watcher. Up to ConnectAttempts dials are made
// with backoff before giving up; once connected, later reconnects are
// automatic.
func (c *Client) Connect(ctx context.Context) error {
	var lastErr error
	for attempt := 0; attempt < c.opts.ConnectAttempts; attempt++ {
		if attempt > 0 {
			delay := reconnectDelay(attempt-1, c.opts.ReconnectBase, c.opts.ReconnectMax)
			c.log.Warn("broker connect failed, retrying",
				slog.Int("attempt", attempt),
				slog.Duration("in", delay),
				slog.Any("error", lastErr),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		final, err := c.connectOnce(ctx)
		if final {
			return err
		}
		lastErr = err
	}
	return lastErr
}

// connectOnce reports final=true when the outcome should not be retried:
// success, client closed, context cancelled, or dial breaker open.
func (c *Client) connectOnce(ctx context.Context) (final bool, err error) {
	if err := ctx.Err(); err != nil {
		return true, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return true, faults.New(faults.BrokerUnavailable, "broker client is closed")
	}
	if c.connected {
		return true, nil
	}
	if err := c.dialAllowedLocked(); err != nil {
		return true, err
	}
	if err := c.connectLocked(); err != nil {
		c.recordDialFailureLocked()
		return false, err
	}
	c.dialFailures = 0
	return true, nil
}

// dialAllowedLocked enforces the local connect breaker.
func (c *Client) dialAllowedLocked() error {
	if until := c.cooldownUntil; time.Now().Before(until) {
		return faults.Newf(faults.BrokerUnavailable,
			"broker dial suspended until %s after repeated failures", until.Format(time.RFC3339))
	}
	return nil
}

func (c *Client) recordDialFailureLocked() {
	c.dialFailures++
	if c.dialFailures >= c.opts.DialFailureThreshold {
		c.cooldownUntil = time.Now().Add(c.opts.DialCooldown)
		c.dialFailures = 0
		c.log.Warn("broker dial breaker tripped",
			slog.Int("threshold", c.opts.DialFailureThreshold),
			slog.Time("until", c.cooldownUntil),
		)
	}
}

func (c *Client) connectLocked() error {
	conn, err := amqp.DialConfig(c.opts.URL, amqp.Config{
		Heartbeat: c.opts.Heartbeat,
		Properties: amqp.Table{
			"connection_name": c.opts.ServiceName,
		},
	})
	if err != nil {
		return faults.Newf(faults.BrokerUnavailable, "dial broker: %v", err)
	}

	pubCh, err := conn.Channel()
	if err != nil {
		conn.Close()
		return faults.Newf(faults.BrokerUnavailable, "open publish channel: %v", err)
	}
	consCh, err := conn.Channel()
	if err != nil {
		conn.Close()
		return faults.Newf(faults.BrokerUnavailable, "open consume channel: %v", err)
	}
	// Prefetch bounds in-flight work per consumer process.
	if err := consCh.Qos(c.opts.Prefetch, 0, false); err != nil {
		conn.Close()
		return faults.Newf(faults.BrokerUnavailable, "set prefetch: %v", err)
	}

	if err := declareTopology(pubCh); err != nil {
		conn.Close()
		return faults.Newf(faults.BrokerUnavailable, "declare topology: %v", err)
	}
	for _, q := range c.queues {
		if err := declareQueue(pubCh, q); err != nil {
			conn.Close()
			return faults.Newf(faults.BrokerUnavailable, "declare queue: %v", err)
		}
	}

	c.conn = conn
	c.pubCh = pubCh
	c.consCh = consCh
	c.connected = true
	if c.bm != nil {
		c.bm.ConnectionStatus.Set(1)
	}

	go c.watchClose(conn)
	go c.watchBlocked(conn)

	for _, spec := range c.consumers {
		if err := c.startConsumerLocked(spec); err != nil {
			c.log.Error("failed to resume consumer",
				slog.String("queue", spec.queue),
				slog.Any("error", err),
			)
		}
	}

	c.log.Info("broker connected",
		slog.String("connection_name", c.opts.ServiceName),
		slog.Duration("heartbeat", c.opts.Heartbeat),
	)
	return nil
}

// watchClose waits for the connection to die and drives reconnection.
func (c *Client) watchClose(conn *amqp.Connection) {
	closeCh := conn.NotifyClose(make(chan *amqp.Error, 1))
	select {
	case <-c.done:
		return
	case amqpErr := <-closeCh:
		c.mu.Lock()
		if c.closed || c.conn != conn {
			c.mu.Unlock()
			return
		}
		c.connected = false
		c.conn = nil
		c.pubCh = nil
		c.consCh = nil
		c.mu.Unlock()

		if c.bm != nil {
			c.bm.ConnectionStatus.Set(0)
		}
		if amqpErr != nil {
			c.log.Warn("broker connection lost", slog.Any("error", amqpErr))
		} else {
			c.log.Info("broker connection closed")
		}
		c.reconnect()
	}
}

// watchBlocked logs flow-control notifications from the broker.
func (c *Client) watchBlocked(conn *amqp.Connection) {
	blocked := conn.NotifyBlocked(make(chan amqp.Blocking, 1))
	for {
		select {
		case <-c.done:
			return
		case b, ok := <-blocked:
			if !ok {
				return
			}
			if b.Active {
				c.log.Warn("broker connection blocked", slog.String("reason", b.Reason))
			} else {
				c.log.Info("broker connection unblocked")
			}
		}
	}
}

// reconnect retries with exponential backoff until it succeeds or the client
// is closed. Pending awaiters are untouched; they expire on their own
// deadlines.
func (c *Client) reconnect() {
	for attempt := 0; ; attempt++ {
		delay := reconnectDelay(attempt, c.opts.ReconnectBase, c.opts.ReconnectMax)

		c.mu.RLock()
		if cooldown := time.Until(c.cooldownUntil); cooldown > delay {
			delay = cooldown
		}
		c.mu.RUnlock()

		select {
		case <-c.done:
			return
		case <-time.After(delay):
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		if err := c.dialAllowedLocked(); err != nil {
			c.mu.Unlock()
			continue
		}
		if c.bm != nil {
			c.bm.ReconnectsTotal.Inc()
		}
		if err := c.connectLocked(); err != nil {
			c.recordDialFailureLocked()
			c.mu.Unlock()
			c.log.Error("broker reconnect failed",
				slog.Int("attempt", attempt+1),
				slog.Any("error", err),
			)
			continue
		}
		c.dialFailures = 0
		c.mu.Unlock()

		c.log.Info("broker reconnected", slog.Int("attempts", attempt+1))
		return
	}
}

// reconnectDelay doubles from base up to max, scaled by a 0.5-1.0 jitter
// factor so a fleet of clients does not stampede the broker.
func reconnectDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt > 16 {
		attempt = 16
	}
	d := base * (1 << uint(attempt))
	if d <= 0 || d > max {
		d = max
	}
	factor := 0.5 + rand.Float64()*0.5
	return time.Duration(float64(d) * factor)
}

// DeclareRequestQueue registers a service block's request queue. The queue
// is declared now if connected, and re-declared after every reconnect.
func (c *Client) DeclareRequestQueue(service string) error {
	return c.declareAndRemember(queueSpec{
		name:     RequestQueue(service),
		bindKey:  RequestKey(service),
		exchange: RequestsExchange,
	})
}

// DeclareResponseQueue registers the core's reply queue.
func (c *Client) DeclareResponseQueue() error {
	return c.declareAndRemember(queueSpec{
		name:     ResponseQueue,
		bindKey:  ResponseKey,
		exchange: ResponsesExchange,
	})
}

// DeclareEventQueue registers a service block's event queue and binds it to
// the events exchange under each of the given topic patterns.
func (c *Client) DeclareEventQueue(service string, patterns ...string) error {
	for _, p := range patterns {
		err := c.declareAndRemember(queueSpec{
			name:     EventQueue(service),
			bindKey:  p,
			exchange: EventsExchange,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) declareAndRemember(q queueSpec) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return faults.New(faults.BrokerUnavailable, "broker client is closed")
	}
	c.queues = append(c.queues, q)
	if !c.connected {
		return nil
	}
	if err := declareQueue(c.pubCh, q); err != nil {
		return faults.Newf(faults.BrokerUnavailable, "declare queue: %v", err)
	}
	return nil
}

// Consume registers a handler for a queue. Deliveries use manual ack; the
// subscription survives reconnects. Registering before Connect is allowed.
func (c *Client) Consume(queue string, handler DeliveryHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return faults.New(faults.BrokerUnavailable, "broker client is closed")
	}
	spec := consumerSpec{queue: queue, handler: handler}
	c.consumers = append(c.consumers, spec)
	if !c.connected {
		return nil
	}
	return c.startConsumerLocked(spec)
}

func (c *Client) startConsumerLocked(spec consumerSpec) error {
	deliveries, err := c.consCh.Consume(
		spec.queue,
		"",    // consumer tag: auto-generated
		false, // auto-ack: handlers ack explicitly
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return faults.Newf(faults.BrokerUnavailable, "consume %s: %v", spec.queue, err)
	}
	go c.deliveryLoop(spec, deliveries)
	return nil
}

// deliveryLoop feeds deliveries to the handler until the channel dies. The
// reconnect path starts a fresh loop on the new channel.
func (c *Client) deliveryLoop(spec consumerSpec, deliveries <-chan amqp.Delivery) {
	for d := range deliveries {
		if c.bm != nil {
			c.bm.DeliveriesTotal.WithLabelValues(spec.queue).Inc()
		}
		ctx := ExtractTraceContext(context.Background(), d.Headers)
		spec.handler(ctx, d)
	}
}

// Publish sends a persistent JSON message. It fails fast with
// BrokerUnavailable while the connection is down instead of queueing.
func (c *Client) Publish(ctx context.Context, exchange, key, correlationID string, body []byte) error {
	c.mu.RLock()
	ch := c.pubCh
	up := c.connected && !c.closed
	c.mu.RUnlock()

	if !up || ch == nil {
		if c.bm != nil {
			c.bm.PublishFailures.Inc()
		}
		return faults.New(faults.BrokerUnavailable, "broker connection is down")
	}

	err := ch.PublishWithContext(ctx, exchange, key, false, false, amqp.Publishing{
		ContentType:   "application/json",
		CorrelationId: correlationID,
		DeliveryMode:  amqp.Persistent,
		Timestamp:     time.Now(),
		Headers:       InjectTraceContext(ctx),
		Body:          body,
	})
	if err != nil {
		if c.bm != nil {
			c.bm.PublishFailures.Inc()
		}
		return faults.Newf(faults.BrokerUnavailable, "publish to %s/%s: %v", exchange, key, err)
	}
	if c.bm != nil {
		c.bm.PublishedTotal.WithLabelValues(exchange).Inc()
	}
	return nil
}

// PublishEvent emits a JSON notification on the events exchange. Events are
// fire-and-forget; nothing awaits them.
func (c *Client) PublishEvent(ctx context.Context, routingKey string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return faults.Newf(faults.Internal, "encode event payload: %v", err)
	}
	return c.Publish(ctx, EventsExchange, routingKey, "", body)
}

// HealthCheck declares and deletes a temporary queue as a round-trip probe.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.RLock()
	ch := c.pubCh
	up := c.connected && !c.closed
	c.mu.RUnlock()

	if !up || ch == nil {
		return faults.New(faults.BrokerUnavailable, "broker connection is down")
	}

	q, err := ch.QueueDeclare(
		"",    // server-named
		false, // durable
		true,  // auto-delete
		true,  // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return faults.Newf(faults.BrokerUnavailable, "health probe declare: %v", err)
	}
	if _, err := ch.QueueDelete(q.Name, false, false, false); err != nil {
		return faults.Newf(faults.BrokerUnavailable, "health probe delete: %v", err)
	}
	return nil
}

// IsConnected reports whether the connection is currently up.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected && !c.closed
}

// Close is idempotent. Channels are released before the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)

	var firstErr error
	if c.pubCh != nil {
		if err := c.pubCh.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if c.consCh != nil {
		if err := c.consCh.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.connected = false
	c.conn = nil
	c.pubCh = nil
	c.consCh = nil
	return firstErr
}
