package faults

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, NotFound, KindOf(New(NotFound, "vehicle missing")))
	assert.Equal(t, Internal, KindOf(errors.New("plain")))

	wrapped := fmt.Errorf("dispatch failed: %w", New(Timeout, "deadline elapsed"))
	assert.Equal(t, Timeout, KindOf(wrapped))
}

func TestWireRoundTrip(t *testing.T) {
	f := New(Conflict, "duplicate registration plate")
	got := FromWire(f.Wire())
	require.Equal(t, f.Kind, got.Kind)
	require.Equal(t, f.Message, got.Message)
}

func TestFromWirePreservesForeignTypes(t *testing.T) {
	f := FromWire(Wire{Type: "KeyError", Message: "'vehicle_id'"})
	assert.Equal(t, Kind("KeyError"), f.Kind)
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(f.Kind))
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Kind]int{
		Unauthorised:         http.StatusUnauthorized,
		Forbidden:            http.StatusForbidden,
		BadRequest:           http.StatusBadRequest,
		ValidationError:      http.StatusBadRequest,
		UnknownEndpoint:      http.StatusNotFound,
		NotFound:             http.StatusNotFound,
		Conflict:             http.StatusConflict,
		Timeout:              http.StatusGatewayTimeout,
		ServiceUnavailable:   http.StatusServiceUnavailable,
		BrokerUnavailable:    http.StatusServiceUnavailable,
		BackpressureRejected: http.StatusServiceUnavailable,
		Internal:             http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, HTTPStatus(kind), "kind %s", kind)
	}
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(New(BrokerUnavailable, "channel closed")))
	assert.True(t, Retryable(New(Timeout, "deadline elapsed")))

	assert.False(t, Retryable(New(ValidationError, "missing endpoint")))
	assert.False(t, Retryable(New(NotFound, "no such trip")))
	assert.False(t, Retryable(New(ServiceUnavailable, "circuit open")))
	assert.False(t, Retryable(errors.New("plain")))
}

func TestCountsAsBreakerFailure(t *testing.T) {
	assert.True(t, CountsAsBreakerFailure(New(Timeout, "")))
	assert.True(t, CountsAsBreakerFailure(New(Internal, "handler blew up")))
	assert.True(t, CountsAsBreakerFailure(FromWire(Wire{Type: "RuntimeError", Message: "x"})))
	assert.True(t, CountsAsBreakerFailure(errors.New("plain")))

	assert.False(t, CountsAsBreakerFailure(nil))
	assert.False(t, CountsAsBreakerFailure(New(NotFound, "")))
	assert.False(t, CountsAsBreakerFailure(New(ValidationError, "")))
	assert.False(t, CountsAsBreakerFailure(New(BrokerUnavailable, "local publish failed")))
	assert.False(t, CountsAsBreakerFailure(New(ServiceUnavailable, "circuit open")))
	assert.False(t, CountsAsBreakerFailure(context.Canceled))
	assert.False(t, CountsAsBreakerFailure(fmt.Errorf("await: %w", context.Canceled)))
}

func TestErrorString(t *testing.T) {
	assert.Equal(t, "NotFound: driver 7", New(NotFound, "driver 7").Error())
	assert.Equal(t, "Timeout", New(Timeout, "").Error())
}
