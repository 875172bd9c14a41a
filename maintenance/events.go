package main

import (
	"context"
	"encoding/json"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"

	"github.com/COS301-SE-2025/SAMFMS-sub004/common/broker"
)

// eventConsumer reacts to management block events: when a vehicle or driver
// is deleted there, the maintenance state attached to it is purged here.
type eventConsumer struct {
	store Store
	log   *slog.Logger
}

func newEventConsumer(store Store, log *slog.Logger) *eventConsumer {
	return &eventConsumer{store: store, log: log}
}

// Start binds the block's event queue to the deletion topics and begins
// consuming. Registering before the client connects is fine; the broker
// client replays declarations and subscriptions once it is up.
func (e *eventConsumer) Start(client *broker.Client) error {
	err := client.DeclareEventQueue(serviceName,
		broker.EventKey("management", "vehicle", "deleted"),
		broker.EventKey("management", "driver", "deleted"),
	)
	if err != nil {
		return err
	}
	return client.Consume(broker.EventQueue(serviceName), e.handleDelivery)
}

// handleDelivery always acks: purges are idempotent, so a redelivered
// deletion event just finds nothing left to remove.
func (e *eventConsumer) handleDelivery(ctx context.Context, d amqp.Delivery) {
	defer d.Ack(false)

	ctx, span := otel.Tracer(serviceName).Start(ctx, "consume "+d.RoutingKey)
	defer span.End()

	var event struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(d.Body, &event); err != nil || event.ID == "" {
		e.log.Warn("discarding malformed event",
			slog.String("routing_key", d.RoutingKey),
			slog.Any("error", err),
		)
		return
	}

	switch d.RoutingKey {
	case broker.EventKey("management", "vehicle", "deleted"):
		records, licenses, err := e.store.PurgeVehicle(ctx, event.ID)
		if err != nil {
			e.log.Error("purge for deleted vehicle failed",
				slog.String("vehicle_id", event.ID),
				slog.Any("error", err),
			)
			return
		}
		if len(records) > 0 || len(licenses) > 0 {
			e.log.Info("purged state for deleted vehicle",
				slog.String("vehicle_id", event.ID),
				slog.Int("records", len(records)),
				slog.Int("licenses", len(licenses)),
			)
		}
	case broker.EventKey("management", "driver", "deleted"):
		licenses, err := e.store.PurgeDriver(ctx, event.ID)
		if err != nil {
			e.log.Error("purge for deleted driver failed",
				slog.String("driver_id", event.ID),
				slog.Any("error", err),
			)
			return
		}
		if len(licenses) > 0 {
			e.log.Info("purged licenses for deleted driver",
				slog.String("driver_id", event.ID),
				slog.Int("licenses", len(licenses)),
			)
		}
	default:
		e.log.Warn("ignoring unexpected event", slog.String("routing_key", d.RoutingKey))
	}
}
