package broker

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange and queue names
// Both the core and every service block declare the same topology so that
// whoever starts first creates it.
const (
	RequestsExchange  = "service_requests"  // direct: core -> service blocks
	ResponsesExchange = "service_responses" // direct: service blocks -> core
	EventsExchange    = "service_events"    // topic: notifications

	ResponseQueue = "core.responses" // the core's reply queue
	ResponseKey   = "core.responses"
)

// RequestQueue returns the request queue name for a service block.
func RequestQueue(service string) string {
	return service + ".requests"
}

// RequestKey returns the routing key the core publishes requests under.
func RequestKey(service string) string {
	return service + ".requests"
}

// EventQueue returns the queue a service block consumes peer events from.
func EventQueue(service string) string {
	return service + ".events"
}

// EventKey builds a topic routing key for the events exchange.
func EventKey(service, entity, action string) string {
	return service + "." + entity + "." + action
}

type queueSpec struct {
	name     string
	bindKey  string
	exchange string
}

// declareTopology declares the shared exchanges. Declares are idempotent as
// long as every participant uses the same types and durability.
func declareTopology(ch *amqp.Channel) error {
	exchanges := []struct {
		name string
		kind string
	}{
		{RequestsExchange, "direct"},
		{ResponsesExchange, "direct"},
		{EventsExchange, "topic"},
	}
	for _, ex := range exchanges {
		err := ch.ExchangeDeclare(
			ex.name,
			ex.kind,
			true,  // durable: survives broker restart
			false, // auto-deleted
			false, // internal
			false, // no-wait
			nil,
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex.name, err)
		}
	}
	return nil
}

// declareQueue declares a durable queue and binds it to its exchange.
func declareQueue(ch *amqp.Channel, q queueSpec) error {
	_, err := ch.QueueDeclare(
		q.name,
		true,  // durable: survives broker restart
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", q.name, err)
	}
	if err := ch.QueueBind(q.name, q.bindKey, q.exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s to %s: %w", q.name, q.exchange, err)
	}
	return nil
}
