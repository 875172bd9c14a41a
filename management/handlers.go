package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/COS301-SE-2025/SAMFMS-sub004/common/broker"
	"github.com/COS301-SE-2025/SAMFMS-sub004/common/consumer"
	"github.com/COS301-SE-2025/SAMFMS-sub004/common/envelope"
	"github.com/COS301-SE-2025/SAMFMS-sub004/common/faults"
)

// eventPublisher is the slice of the broker client used for notifications.
type eventPublisher interface {
	PublishEvent(ctx context.Context, routingKey string, payload any) error
}

// handlers answers the request envelopes routed to this block. Mutations
// additionally emit a notification on the events exchange.
type handlers struct {
	store  *Store
	events eventPublisher
	log    *slog.Logger
}

func newHandlers(store *Store, events eventPublisher, log *slog.Logger) *handlers {
	return &handlers{store: store, events: events, log: log}
}

func (h *handlers) register(c *consumer.Consumer) {
	c.Handle("api/vehicles", http.MethodGet, h.getVehicles)
	c.Handle("api/vehicles", http.MethodPost, h.createVehicle)
	c.Handle("api/vehicles", http.MethodPut, h.updateVehicle)
	c.Handle("api/vehicles", http.MethodDelete, h.deleteVehicle)

	c.Handle("api/drivers", http.MethodGet, h.getDrivers)
	c.Handle("api/drivers", http.MethodPost, h.createDriver)
	c.Handle("api/drivers", http.MethodPut, h.updateDriver)
	c.Handle("api/drivers", http.MethodDelete, h.deleteDriver)

	c.Handle("api/assignments", http.MethodGet, h.getAssignments)
	c.Handle("api/assignments", http.MethodPost, h.createAssignment)
	c.Handle("api/assignments", http.MethodPut, h.completeAssignment)

	c.Handle("api/analytics", http.MethodGet, h.getAnalytics)
}

func (h *handlers) getVehicles(ctx context.Context, req *envelope.RequestEnvelope) (any, error) {
	if id := resourceID(req.Endpoint); id != "" {
		return h.store.GetVehicle(id)
	}
	vehicles := h.store.ListVehicles()
	return map[string]any{"vehicles": vehicles, "count": len(vehicles)}, nil
}

func (h *handlers) createVehicle(ctx context.Context, req *envelope.RequestEnvelope) (any, error) {
	var in VehicleInput
	if err := decodeBody(req, &in); err != nil {
		return nil, err
	}
	if in.Registration == "" {
		return nil, faults.New(faults.ValidationError, "registration is required")
	}

	v, err := h.store.CreateVehicle(in)
	if err != nil {
		return nil, err
	}
	h.notify(ctx, "vehicle", "created", v)
	return v, nil
}

func (h *handlers) updateVehicle(ctx context.Context, req *envelope.RequestEnvelope) (any, error) {
	id := resourceID(req.Endpoint)
	if id == "" {
		return nil, faults.New(faults.ValidationError, "vehicle id missing from endpoint")
	}
	var in VehicleInput
	if err := decodeBody(req, &in); err != nil {
		return nil, err
	}

	v, err := h.store.UpdateVehicle(id, in)
	if err != nil {
		return nil, err
	}
	h.notify(ctx, "vehicle", "updated", v)
	return v, nil
}

func (h *handlers) deleteVehicle(ctx context.Context, req *envelope.RequestEnvelope) (any, error) {
	id := resourceID(req.Endpoint)
	if id == "" {
		return nil, faults.New(faults.ValidationError, "vehicle id missing from endpoint")
	}
	if err := h.store.DeleteVehicle(id); err != nil {
		return nil, err
	}
	h.notify(ctx, "vehicle", "deleted", map[string]string{"id": id})
	return map[string]string{"id": id, "status": "deleted"}, nil
}

func (h *handlers) getDrivers(ctx context.Context, req *envelope.RequestEnvelope) (any, error) {
	if id := resourceID(req.Endpoint); id != "" {
		return h.store.GetDriver(id)
	}
	drivers := h.store.ListDrivers()
	return map[string]any{"drivers": drivers, "count": len(drivers)}, nil
}

func (h *handlers) createDriver(ctx context.Context, req *envelope.RequestEnvelope) (any, error) {
	var in DriverInput
	if err := decodeBody(req, &in); err != nil {
		return nil, err
	}
	if in.Name == "" || in.LicenseNumber == "" {
		return nil, faults.New(faults.ValidationError, "name and license_number are required")
	}

	d, err := h.store.CreateDriver(in)
	if err != nil {
		return nil, err
	}
	h.notify(ctx, "driver", "created", d)
	return d, nil
}

func (h *handlers) updateDriver(ctx context.Context, req *envelope.RequestEnvelope) (any, error) {
	id := resourceID(req.Endpoint)
	if id == "" {
		return nil, faults.New(faults.ValidationError, "driver id missing from endpoint")
	}
	var in DriverInput
	if err := decodeBody(req, &in); err != nil {
		return nil, err
	}

	d, err := h.store.UpdateDriver(id, in)
	if err != nil {
		return nil, err
	}
	h.notify(ctx, "driver", "updated", d)
	return d, nil
}

func (h *handlers) deleteDriver(ctx context.Context, req *envelope.RequestEnvelope) (any, error) {
	id := resourceID(req.Endpoint)
	if id == "" {
		return nil, faults.New(faults.ValidationError, "driver id missing from endpoint")
	}
	if err := h.store.DeleteDriver(id); err != nil {
		return nil, err
	}
	h.notify(ctx, "driver", "deleted", map[string]string{"id": id})
	return map[string]string{"id": id, "status": "deleted"}, nil
}

// AssignmentInput is the request body for pairing a driver with a vehicle.
type AssignmentInput struct {
	VehicleID string `json:"vehicle_id"`
	DriverID  string `json:"driver_id"`
}

func (h *handlers) getAssignments(ctx context.Context, req *envelope.RequestEnvelope) (any, error) {
	if id := resourceID(req.Endpoint); id != "" {
		return h.store.GetAssignment(id)
	}
	assignments := h.store.ListAssignments()
	return map[string]any{"assignments": assignments, "count": len(assignments)}, nil
}

func (h *handlers) createAssignment(ctx context.Context, req *envelope.RequestEnvelope) (any, error) {
	var in AssignmentInput
	if err := decodeBody(req, &in); err != nil {
		return nil, err
	}
	if in.VehicleID == "" || in.DriverID == "" {
		return nil, faults.New(faults.ValidationError, "vehicle_id and driver_id are required")
	}

	a, err := h.store.CreateAssignment(in.VehicleID, in.DriverID)
	if err != nil {
		return nil, err
	}
	h.notify(ctx, "assignment", "created", a)
	return a, nil
}

// completeAssignment handles PUT api/assignments/{id}: the only transition
// an assignment supports is active -> completed.
func (h *handlers) completeAssignment(ctx context.Context, req *envelope.RequestEnvelope) (any, error) {
	id := resourceID(req.Endpoint)
	if id == "" {
		return nil, faults.New(faults.ValidationError, "assignment id missing from endpoint")
	}

	a, err := h.store.CompleteAssignment(id)
	if err != nil {
		return nil, err
	}
	h.notify(ctx, "assignment", "completed", a)
	return a, nil
}

func (h *handlers) getAnalytics(ctx context.Context, req *envelope.RequestEnvelope) (any, error) {
	return h.store.Summary(), nil
}

// notify emits a fire-and-forget event; a failed publish is logged, never
// surfaced to the caller.
func (h *handlers) notify(ctx context.Context, entity, action string, payload any) {
	if h.events == nil {
		return
	}
	key := broker.EventKey(serviceName, entity, action)
	if err := h.events.PublishEvent(ctx, key, payload); err != nil {
		h.log.Warn("failed to publish event",
			slog.String("routing_key", key),
			slog.Any("error", err),
		)
	}
}

func decodeBody(req *envelope.RequestEnvelope, v any) error {
	if len(req.Data) == 0 {
		return faults.New(faults.ValidationError, "request body is required")
	}
	if err := json.Unmarshal(req.Data, v); err != nil {
		return faults.Newf(faults.ValidationError, "invalid request body: %v", err)
	}
	return nil
}

// resourceID returns the path segment after the base endpoint, if any
// ("api/vehicles/veh-1" -> "veh-1").
func resourceID(endpoint string) string {
	parts := strings.Split(strings.Trim(endpoint, "/"), "/")
	if len(parts) >= 3 {
		return parts[2]
	}
	return ""
}
