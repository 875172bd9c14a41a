package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/COS301-SE-2025/SAMFMS-sub004/common/breaker"
	"github.com/COS301-SE-2025/SAMFMS-sub004/common/health"
	"github.com/COS301-SE-2025/SAMFMS-sub004/common/logger"
	"github.com/COS301-SE-2025/SAMFMS-sub004/common/trace"
)

type healthFixture struct {
	mux      *http.ServeMux
	agg      *health.Aggregator
	breakers *breaker.Registry
	tracer   *trace.Tracer
	ready    bool
}

func newHealthFixture(t *testing.T) *healthFixture {
	t.Helper()

	fx := &healthFixture{
		agg:      health.New(),
		breakers: breaker.NewRegistry(breaker.Options{}, logger.NewNop(), nil),
		ready:    true,
	}
	fx.tracer = trace.NewTracer(16, time.Minute)
	t.Cleanup(fx.tracer.Stop)

	fx.mux = http.NewServeMux()
	h := newHealthHandler("core", fx.agg, fx.breakers, fx.tracer, func() bool { return fx.ready }, logger.NewNop())
	h.registerRoutes(fx.mux)
	return fx
}

func (fx *healthFixture) get(path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	fx.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestLiveness(t *testing.T) {
	fx := newHealthFixture(t)

	rec := fx.get("/health")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"alive","service":"core"}`, rec.Body.String())
}

func TestReadiness(t *testing.T) {
	fx := newHealthFixture(t)

	rec := fx.get("/health/ready")
	assert.Equal(t, http.StatusOK, rec.Code)

	fx.ready = false
	rec = fx.get("/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestDetailed_DegradedStaysOK(t *testing.T) {
	fx := newHealthFixture(t)
	fx.agg.AddCheck("broker", true, func(ctx context.Context) error { return nil })
	fx.agg.AddCheck("consul", false, func(ctx context.Context) error { return errors.New("agent down") })

	rec := fx.get("/health/detailed")

	assert.Equal(t, http.StatusOK, rec.Code)

	var report health.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, health.StatusDegraded, report.Status)
}

func TestDetailed_UnhealthyIs503(t *testing.T) {
	fx := newHealthFixture(t)
	fx.agg.AddCheck("broker", true, func(ctx context.Context) error { return errors.New("connection refused") })

	rec := fx.get("/health/detailed")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var report health.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, health.StatusUnhealthy, report.Status)
}

func TestCircuitBreakerEndpoint(t *testing.T) {
	fx := newHealthFixture(t)
	fx.breakers.For("management")

	rec := fx.get("/health/circuit-breakers")

	assert.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Breakers []breaker.Snapshot `json:"circuit_breakers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Breakers, 1)
	assert.Equal(t, "management", body.Breakers[0].Service)
	assert.Equal(t, "closed", body.Breakers[0].State)
}

func TestTraceEndpoints(t *testing.T) {
	fx := newHealthFixture(t)
	fx.tracer.Start("trace-1")
	fx.tracer.AddCall("trace-1", "management", "GET api/vehicles", 12*time.Millisecond, nil)
	fx.tracer.Complete("trace-1", false)

	rec := fx.get("/api/traces")
	assert.Equal(t, http.StatusOK, rec.Code)

	var listing struct {
		Active int             `json:"active"`
		Traces []*trace.Record `json:"traces"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	assert.Zero(t, listing.Active)
	require.Len(t, listing.Traces, 1)
	assert.Equal(t, "trace-1", listing.Traces[0].TraceID)

	rec = fx.get("/api/traces/trace-1")
	assert.Equal(t, http.StatusOK, rec.Code)

	var record trace.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	require.Len(t, record.ServiceCalls, 1)
	assert.Equal(t, "management", record.ServiceCalls[0].Service)

	rec = fx.get("/api/traces/unknown")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTraceListingHonoursLimit(t *testing.T) {
	fx := newHealthFixture(t)
	for _, id := range []string{"t-1", "t-2", "t-3"} {
		fx.tracer.Start(id)
		fx.tracer.Complete(id, false)
	}

	rec := fx.get("/api/traces?limit=2")

	var listing struct {
		Traces []*trace.Record `json:"traces"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	require.Len(t, listing.Traces, 2)
	// Newest first.
	assert.Equal(t, "t-3", listing.Traces[0].TraceID)
}
