package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

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
	store  Store
	events eventPublisher
	log    *slog.Logger
}

func newHandlers(store Store, events eventPublisher, log *slog.Logger) *handlers {
	return &handlers{store: store, events: events, log: log}
}

func (h *handlers) register(c *consumer.Consumer) {
	c.Handle("api/maintenance", http.MethodGet, h.getRecords)
	c.Handle("api/maintenance", http.MethodPost, h.createRecord)
	c.Handle("api/maintenance", http.MethodPut, h.updateRecord)
	c.Handle("api/maintenance", http.MethodDelete, h.deleteRecord)

	c.Handle("api/licenses", http.MethodGet, h.getLicenses)
	c.Handle("api/licenses", http.MethodPost, h.createLicense)
	c.Handle("api/licenses", http.MethodPut, h.renewLicense)
	c.Handle("api/licenses", http.MethodDelete, h.deleteLicense)
}

func (h *handlers) getRecords(ctx context.Context, req *envelope.RequestEnvelope) (any, error) {
	if id := resourceID(req.Endpoint); id != "" {
		return h.store.GetRecord(ctx, id)
	}
	records, err := h.store.ListRecords(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"records": records, "count": len(records)}, nil
}

func (h *handlers) createRecord(ctx context.Context, req *envelope.RequestEnvelope) (any, error) {
	var in RecordInput
	if err := decodeBody(req, &in); err != nil {
		return nil, err
	}
	if in.VehicleID == "" || in.Type == "" {
		return nil, faults.New(faults.ValidationError, "vehicle_id and type are required")
	}

	rec, err := h.store.CreateRecord(ctx, in)
	if err != nil {
		return nil, err
	}
	h.notify(ctx, "record", "created", rec)
	return rec, nil
}

func (h *handlers) updateRecord(ctx context.Context, req *envelope.RequestEnvelope) (any, error) {
	id := resourceID(req.Endpoint)
	if id == "" {
		return nil, faults.New(faults.ValidationError, "maintenance record id missing from endpoint")
	}
	var in RecordUpdate
	if err := decodeBody(req, &in); err != nil {
		return nil, err
	}
	if in.Status != "" && !validRecordStatus(in.Status) {
		return nil, faults.Newf(faults.ValidationError, "unknown status %q", in.Status)
	}

	rec, err := h.store.UpdateRecord(ctx, id, in)
	if err != nil {
		return nil, err
	}
	h.notify(ctx, "record", "updated", rec)
	return rec, nil
}

func (h *handlers) deleteRecord(ctx context.Context, req *envelope.RequestEnvelope) (any, error) {
	id := resourceID(req.Endpoint)
	if id == "" {
		return nil, faults.New(faults.ValidationError, "maintenance record id missing from endpoint")
	}
	if err := h.store.DeleteRecord(ctx, id); err != nil {
		return nil, err
	}
	h.notify(ctx, "record", "deleted", map[string]string{"id": id})
	return map[string]string{"id": id, "status": "deleted"}, nil
}

func (h *handlers) getLicenses(ctx context.Context, req *envelope.RequestEnvelope) (any, error) {
	if id := resourceID(req.Endpoint); id != "" {
		return h.store.GetLicense(ctx, id)
	}
	licenses, err := h.store.ListLicenses(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"licenses": licenses, "count": len(licenses)}, nil
}

func (h *handlers) createLicense(ctx context.Context, req *envelope.RequestEnvelope) (any, error) {
	var in LicenseInput
	if err := decodeBody(req, &in); err != nil {
		return nil, err
	}
	if in.EntityID == "" || in.LicenseType == "" {
		return nil, faults.New(faults.ValidationError, "entity_id and license_type are required")
	}
	if in.EntityType != EntityVehicle && in.EntityType != EntityDriver {
		return nil, faults.Newf(faults.ValidationError, "entity_type must be %q or %q", EntityVehicle, EntityDriver)
	}
	if in.ExpiresAt.IsZero() {
		return nil, faults.New(faults.ValidationError, "expires_at is required")
	}

	l, err := h.store.CreateLicense(ctx, in)
	if err != nil {
		return nil, err
	}
	h.notify(ctx, "license", "created", l)
	return l, nil
}

// renewalInput is the request body for PUT api/licenses/{id}.
type renewalInput struct {
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *handlers) renewLicense(ctx context.Context, req *envelope.RequestEnvelope) (any, error) {
	id := resourceID(req.Endpoint)
	if id == "" {
		return nil, faults.New(faults.ValidationError, "license id missing from endpoint")
	}
	var in renewalInput
	if err := decodeBody(req, &in); err != nil {
		return nil, err
	}
	if in.ExpiresAt.IsZero() {
		return nil, faults.New(faults.ValidationError, "expires_at is required")
	}

	l, err := h.store.RenewLicense(ctx, id, in.ExpiresAt)
	if err != nil {
		return nil, err
	}
	h.notify(ctx, "license", "renewed", l)
	return l, nil
}

func (h *handlers) deleteLicense(ctx context.Context, req *envelope.RequestEnvelope) (any, error) {
	id := resourceID(req.Endpoint)
	if id == "" {
		return nil, faults.New(faults.ValidationError, "license id missing from endpoint")
	}
	if err := h.store.DeleteLicense(ctx, id); err != nil {
		return nil, err
	}
	h.notify(ctx, "license", "deleted", map[string]string{"id": id})
	return map[string]string{"id": id, "status": "deleted"}, nil
}

// sweepOverdue periodically flips scheduled records past their due time to
// overdue and announces each one. Runs until ctx is cancelled.
func (h *handlers) sweepOverdue(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			ids, err := h.store.MarkOverdue(ctx, now.UTC())
			if err != nil {
				h.log.Warn("overdue sweep failed", slog.Any("error", err))
				continue
			}
			for _, id := range ids {
				h.notify(ctx, "record", "overdue", map[string]string{"id": id})
			}
			if len(ids) > 0 {
				h.log.Info("marked maintenance records overdue", slog.Int("count", len(ids)))
			}
		}
	}
}

func validRecordStatus(s string) bool {
	switch s {
	case RecordScheduled, RecordInProgress, RecordCompleted, RecordOverdue:
		return true
	}
	return false
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
// ("api/maintenance/mnt-1" -> "mnt-1").
func resourceID(endpoint string) string {
	parts := strings.Split(strings.Trim(endpoint, "/"), "/")
	if len(parts) >= 3 {
		return parts[2]
	}
	return ""
}
