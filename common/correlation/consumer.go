package correlation

import (
	"context"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/COS301-SE-2025/SAMFMS-sub004/common/broker"
	"github.com/COS301-SE-2025/SAMFMS-sub004/common/envelope"
)

// ResponseConsumer drains the core's reply queue into the registry.
type ResponseConsumer struct {
	registry *Registry
	log      *slog.Logger
}

func NewResponseConsumer(registry *Registry, log *slog.Logger) *ResponseConsumer {
	return &ResponseConsumer{registry: registry, log: log}
}

// Start declares the reply queue and subscribes to it. The subscription
// survives broker reconnects.
func (rc *ResponseConsumer) Start(client *broker.Client) error {
	if err := client.DeclareResponseQueue(); err != nil {
		return err
	}
	return client.Consume(broker.ResponseQueue, rc.HandleDelivery)
}

// HandleDelivery resolves the matching pending entry. Every delivery is
// acked, matched or not; a malformed reply must never poison the queue.
func (rc *ResponseConsumer) HandleDelivery(ctx context.Context, d amqp.Delivery) {
	defer d.Ack(false)

	resp, err := envelope.DecodeResponse(d.Body)
	if err != nil {
		rc.log.Warn("dropping malformed response",
			slog.String("message_correlation_id", d.CorrelationId),
			slog.Any("error", err),
		)
		return
	}

	var resolved bool
	if f := resp.Fault(); f != nil {
		resolved = rc.registry.Resolve(resp.CorrelationID, nil, f)
	} else {
		resolved = rc.registry.Resolve(resp.CorrelationID, resp.Data, nil)
	}
	if !resolved {
		// Late reply: the awaiter timed out, cancelled, or never existed.
		rc.log.Warn("dropping unmatched response",
			slog.String("correlation_id", resp.CorrelationID),
		)
	}
}
