package main

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/COS301-SE-2025/SAMFMS-sub004/common/breaker"
	"github.com/COS301-SE-2025/SAMFMS-sub004/common/faults"
	"github.com/COS301-SE-2025/SAMFMS-sub004/common/health"
	"github.com/COS301-SE-2025/SAMFMS-sub004/common/trace"
)

const defaultTraceLimit = 50

// healthHandler serves the operational read surface: probes, breaker
// states, and recent request traces.
type healthHandler struct {
	serviceName string
	health      *health.Aggregator
	breakers    *breaker.Registry
	tracer      *trace.Tracer
	ready       func() bool
	log         *slog.Logger
}

func newHealthHandler(serviceName string, agg *health.Aggregator, breakers *breaker.Registry, tracer *trace.Tracer, ready func() bool, log *slog.Logger) *healthHandler {
	return &healthHandler{
		serviceName: serviceName,
		health:      agg,
		breakers:    breakers,
		tracer:      tracer,
		ready:       ready,
		log:         log,
	}
}

func (h *healthHandler) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.handleLiveness)
	mux.HandleFunc("GET /health/ready", h.handleReadiness)
	mux.HandleFunc("GET /health/detailed", h.handleDetailed)
	mux.HandleFunc("GET /health/circuit-breakers", h.handleBreakers)
	mux.HandleFunc("GET /api/traces", h.handleTraces)
	mux.HandleFunc("GET /api/traces/{id}", h.handleTraceByID)
}

// handleLiveness answers as long as the process is serving HTTP.
func (h *healthHandler) handleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "alive",
		"service": h.serviceName,
	})
}

// handleReadiness gates traffic on the broker connection and the response
// consumer subscription; without both, every dispatch would time out.
func (h *healthHandler) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if !h.ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (h *healthHandler) handleDetailed(w http.ResponseWriter, r *http.Request) {
	report := h.health.Evaluate(r.Context())

	status := http.StatusOK
	if report.Status == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func (h *healthHandler) handleBreakers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"circuit_breakers": h.breakers.Snapshots(),
	})
}

func (h *healthHandler) handleTraces(w http.ResponseWriter, r *http.Request) {
	limit := defaultTraceLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"active": h.tracer.ActiveCount(),
		"traces": h.tracer.Recent(limit),
	})
}

func (h *healthHandler) handleTraceByID(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, ok := h.tracer.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody("", faults.Newf(faults.NotFound, "trace %s not found", id)))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
