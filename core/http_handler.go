package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/COS301-SE-2025/SAMFMS-sub004/common/auth"
	"github.com/COS301-SE-2025/SAMFMS-sub004/common/envelope"
	"github.com/COS301-SE-2025/SAMFMS-sub004/common/faults"
	"github.com/COS301-SE-2025/SAMFMS-sub004/common/routing"
	"github.com/COS301-SE-2025/SAMFMS-sub004/common/trace"
)

// dispatcher is the slice of routing.Dispatcher the proxy needs.
type dispatcher interface {
	Dispatch(ctx context.Context, method, path string, data json.RawMessage, uc envelope.UserContext, timeout time.Duration) (json.RawMessage, error)
}

// proxyHandler is the HTTP edge: it authorises the caller, opens a trace,
// and forwards the request body to the destination service block over the
// broker. HTTP status codes exist only here.
type proxyHandler struct {
	dispatcher dispatcher
	verifier   *auth.Verifier
	tracer     *trace.Tracer
	log        *slog.Logger
}

func newProxyHandler(d dispatcher, verifier *auth.Verifier, tracer *trace.Tracer, log *slog.Logger) *proxyHandler {
	return &proxyHandler{
		dispatcher: d,
		verifier:   verifier,
		tracer:     tracer,
		log:        log,
	}
}

// registerRoutes claims the whole /api/ namespace. More specific patterns
// registered elsewhere (traces, metrics) win over this one.
func (h *proxyHandler) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/", h.handleProxy)
}

func (h *proxyHandler) handleProxy(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("", faults.New(faults.BadRequest, "unreadable request body")))
		return
	}
	if len(body) > 0 && !json.Valid(body) {
		writeJSON(w, http.StatusBadRequest, errorBody("", faults.New(faults.BadRequest, "request body must be valid JSON")))
		return
	}

	traceID := uuid.NewString()
	h.tracer.Start(traceID)

	uc, rejection := h.authorise(r)
	if rejection != nil {
		h.tracer.Complete(traceID, true)
		h.writeFault(w, traceID, rejection)
		return
	}
	uc.TraceID = traceID
	uc.ClientIP = clientIP(r)

	var data json.RawMessage
	if len(body) > 0 {
		data = body
	}

	h.log.Debug("proxying request",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("user_id", uc.UserID),
		slog.String("trace_id", traceID),
	)

	result, err := h.dispatcher.Dispatch(r.Context(), r.Method, r.URL.Path, data, uc, 0)
	h.tracer.Complete(traceID, err != nil)
	if err != nil {
		h.writeFault(w, traceID, faults.As(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if len(result) == 0 {
		w.Write([]byte("null"))
		return
	}
	w.Write(result)
}

// authorise verifies the bearer token, if any, and evaluates the route
// guard. A presented but invalid token counts as no token, so expired
// clients can still reach the public auth endpoints.
func (h *proxyHandler) authorise(r *http.Request) (envelope.UserContext, *faults.Fault) {
	var verified *envelope.UserContext
	if token, ok := auth.ParseBearer(r.Header.Get("Authorization")); ok {
		uc, err := h.verifier.Verify(token)
		if err == nil {
			verified = &uc
		} else {
			h.log.Debug("presented token rejected", slog.Any("error", err))
		}
	}

	if verdict := guardFor(r.Method, r.URL.Path).Check(verified); verdict != auth.VerdictAllow {
		return envelope.UserContext{}, verdict.Fault()
	}
	if verified == nil {
		return envelope.AnonymousContext(), nil
	}
	return *verified, nil
}

// guardFor derives the route guard from the resource family. Auth endpoints
// are public; domain families admit the admin role or a family-scoped grant,
// read for GET and write for everything else.
func guardFor(method, path string) auth.Guard {
	segments := strings.Split(routing.NormalizeEndpoint(path), "/")
	if len(segments) < 2 {
		return auth.Guard{}
	}
	family := strings.ToLower(segments[1])
	if family == "auth" {
		return auth.Guard{Public: true}
	}

	action := "write"
	if method == http.MethodGet {
		action = "read"
	}
	return auth.Guard{
		Roles:      []string{"admin"},
		Permission: family + ":" + action,
	}
}

func (h *proxyHandler) writeFault(w http.ResponseWriter, traceID string, f *faults.Fault) {
	writeJSON(w, faults.HTTPStatus(f.Kind), errorBody(traceID, f))
}

func errorBody(traceID string, f *faults.Fault) map[string]any {
	body := map[string]any{"error": f.Wire()}
	if traceID != "" {
		body["trace_id"] = traceID
	}
	return body
}

// clientIP prefers the first X-Forwarded-For hop over the socket peer.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i >= 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
