package broker

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
)

// AMQP messages carry no implicit trace propagation; the W3C trace context
// travels in the message headers instead.

// InjectTraceContext returns headers carrying the trace context of ctx.
func InjectTraceContext(ctx context.Context) amqp.Table {
	headers := make(amqp.Table)
	otel.GetTextMapPropagator().Inject(ctx, &amqpHeaderCarrier{headers: headers})
	return headers
}

// ExtractTraceContext resumes the trace carried in message headers.
func ExtractTraceContext(ctx context.Context, headers amqp.Table) context.Context {
	if headers == nil {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, &amqpHeaderCarrier{headers: headers})
}

// amqpHeaderCarrier adapts amqp.Table to the TextMapCarrier interface.
type amqpHeaderCarrier struct {
	headers amqp.Table
}

func (c *amqpHeaderCarrier) Get(key string) string {
	if val, ok := c.headers[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

func (c *amqpHeaderCarrier) Set(key, value string) {
	c.headers[key] = value
}

func (c *amqpHeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(c.headers))
	for k := range c.headers {
		keys = append(keys, k)
	}
	return keys
}
