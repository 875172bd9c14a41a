package main

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/COS301-SE-2025/SAMFMS-sub004/common/consumer"
	"github.com/COS301-SE-2025/SAMFMS-sub004/common/envelope"
	"github.com/COS301-SE-2025/SAMFMS-sub004/common/faults"
	"github.com/COS301-SE-2025/SAMFMS-sub004/common/logger"
)

// fakeEvents captures event publications in place of a live broker client.
type fakeEvents struct {
	mu       sync.Mutex
	keys     []string
	payloads []any
	err      error
}

func (f *fakeEvents) PublishEvent(ctx context.Context, routingKey string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.keys = append(f.keys, routingKey)
	f.payloads = append(f.payloads, payload)
	return nil
}

func (f *fakeEvents) published() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.keys...)
}

func (f *fakeEvents) lastPayload() any {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.payloads) == 0 {
		return nil
	}
	return f.payloads[len(f.payloads)-1]
}

func newTestHandlers() (*handlers, *fakeEvents) {
	events := &fakeEvents{}
	return newHandlers(NewStore(), events, logger.NewNop()), events
}

func newReq(t *testing.T, method, endpoint string, data any) *envelope.RequestEnvelope {
	t.Helper()
	var raw json.RawMessage
	if data != nil {
		var err error
		raw, err = json.Marshal(data)
		require.NoError(t, err)
	}
	env := envelope.NewRequest("corr-test", method, endpoint, raw, envelope.UserContext{
		UserID: "user-1",
		Role:   "admin",
	})
	return &env
}

func TestHandlers_RegisterCoversAllEndpoints(t *testing.T) {
	h, _ := newTestHandlers()
	c := consumer.New(serviceName, nil, consumer.Options{}, logger.NewNop(), nil)

	h.register(c)

	assert.Equal(t, 12, c.Stats().Handlers)
}

func TestHandlers_CreateVehicle(t *testing.T) {
	h, events := newTestHandlers()
	ctx := context.Background()

	_, err := h.createVehicle(ctx, newReq(t, "POST", "api/vehicles", map[string]string{"make": "Toyota"}))
	assert.Equal(t, faults.ValidationError, faults.KindOf(err), "registration is required")

	result, err := h.createVehicle(ctx, newReq(t, "POST", "api/vehicles", map[string]any{
		"registration": "CA 123-456",
		"make":         "Toyota",
		"model":        "Hilux",
		"year":         2022,
	}))
	require.NoError(t, err)
	v, ok := result.(*Vehicle)
	require.True(t, ok)
	assert.Equal(t, "CA 123-456", v.Registration)
	assert.Equal(t, []string{"management.vehicle.created"}, events.published())
}

func TestHandlers_GetVehicles(t *testing.T) {
	h, _ := newTestHandlers()
	ctx := context.Background()

	created, err := h.store.CreateVehicle(VehicleInput{Registration: "CA 123-456"})
	require.NoError(t, err)

	result, err := h.getVehicles(ctx, newReq(t, "GET", "api/vehicles", nil))
	require.NoError(t, err)
	listing, ok := result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 1, listing["count"])

	result, err = h.getVehicles(ctx, newReq(t, "GET", "api/vehicles/"+created.ID, nil))
	require.NoError(t, err)
	v, ok := result.(*Vehicle)
	require.True(t, ok)
	assert.Equal(t, created.ID, v.ID)

	_, err = h.getVehicles(ctx, newReq(t, "GET", "api/vehicles/veh-missing", nil))
	assert.Equal(t, faults.NotFound, faults.KindOf(err))
}

func TestHandlers_UpdateVehicleNeedsID(t *testing.T) {
	h, _ := newTestHandlers()

	_, err := h.updateVehicle(context.Background(), newReq(t, "PUT", "api/vehicles", map[string]string{"model": "Ranger"}))
	assert.Equal(t, faults.ValidationError, faults.KindOf(err))
}

func TestHandlers_DeleteVehicleEmitsIDPayload(t *testing.T) {
	h, events := newTestHandlers()
	ctx := context.Background()

	created, err := h.store.CreateVehicle(VehicleInput{Registration: "CA 123-456"})
	require.NoError(t, err)

	result, err := h.deleteVehicle(ctx, newReq(t, "DELETE", "api/vehicles/"+created.ID, nil))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"id": created.ID, "status": "deleted"}, result)

	// Downstream blocks key their purge off this payload shape.
	assert.Equal(t, []string{"management.vehicle.deleted"}, events.published())
	assert.Equal(t, map[string]string{"id": created.ID}, events.lastPayload())
}

func TestHandlers_CreateDriverValidation(t *testing.T) {
	h, _ := newTestHandlers()

	_, err := h.createDriver(context.Background(), newReq(t, "POST", "api/drivers", map[string]string{"name": "Thandi"}))
	assert.Equal(t, faults.ValidationError, faults.KindOf(err), "license_number is required")
}

func TestHandlers_AssignmentFlow(t *testing.T) {
	h, events := newTestHandlers()
	ctx := context.Background()

	v, err := h.store.CreateVehicle(VehicleInput{Registration: "CA 123-456"})
	require.NoError(t, err)
	d, err := h.store.CreateDriver(DriverInput{Name: "Thandi", LicenseNumber: "DL-1001"})
	require.NoError(t, err)

	_, err = h.createAssignment(ctx, newReq(t, "POST", "api/assignments", map[string]string{"vehicle_id": v.ID}))
	assert.Equal(t, faults.ValidationError, faults.KindOf(err), "both ids are required")

	result, err := h.createAssignment(ctx, newReq(t, "POST", "api/assignments", map[string]string{
		"vehicle_id": v.ID,
		"driver_id":  d.ID,
	}))
	require.NoError(t, err)
	a, ok := result.(*Assignment)
	require.True(t, ok)
	assert.Equal(t, AssignmentActive, a.Status)

	result, err = h.completeAssignment(ctx, newReq(t, "PUT", "api/assignments/"+a.ID, nil))
	require.NoError(t, err)
	done, ok := result.(*Assignment)
	require.True(t, ok)
	assert.Equal(t, AssignmentCompleted, done.Status)

	assert.Equal(t, []string{"management.assignment.created", "management.assignment.completed"}, events.published())
}

func TestHandlers_Analytics(t *testing.T) {
	h, _ := newTestHandlers()
	ctx := context.Background()

	_, err := h.store.CreateVehicle(VehicleInput{Registration: "CA 123-456"})
	require.NoError(t, err)

	result, err := h.getAnalytics(ctx, newReq(t, "GET", "api/analytics", nil))
	require.NoError(t, err)
	summary, ok := result.(*FleetSummary)
	require.True(t, ok)
	assert.Equal(t, 1, summary.Vehicles)
}

func TestHandlers_EventFailureDoesNotFailRequest(t *testing.T) {
	events := &fakeEvents{err: assert.AnError}
	h := newHandlers(NewStore(), events, logger.NewNop())

	_, err := h.createVehicle(context.Background(), newReq(t, "POST", "api/vehicles", map[string]string{
		"registration": "CA 123-456",
	}))
	assert.NoError(t, err, "notifications are fire-and-forget")
}
