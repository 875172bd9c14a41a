package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCORSPreflightShortCircuits(t *testing.T) {
	a := &App{}
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("preflight must not reach the next handler")
	})
	handler := a.corsMiddleware(next)

	req := httptest.NewRequest(http.MethodOptions, "/api/vehicles", nil)
	req.Header.Set("Origin", "http://fleet.example")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://fleet.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "PATCH")
}

func TestCORSPassesRequestsThrough(t *testing.T) {
	a := &App{}
	handler := a.corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/vehicles", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestOriginAllowed(t *testing.T) {
	assert.True(t, originAllowed([]string{"*"}, "http://anywhere.example"))
	assert.True(t, originAllowed([]string{"http://a.example", "http://b.example"}, "http://b.example"))
	assert.True(t, originAllowed([]string{" http://a.example "}, "http://a.example"))
	assert.False(t, originAllowed([]string{"http://a.example"}, "http://evil.example"))
}

func TestResponseRecorderCapturesStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	wrapped := &responseRecorder{ResponseWriter: rec, statusCode: http.StatusOK}

	wrapped.WriteHeader(http.StatusBadGateway)

	assert.Equal(t, http.StatusBadGateway, wrapped.statusCode)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}
