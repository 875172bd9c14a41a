package faults

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind names a class of failure. Kinds cross the wire as the "type" field of
// an error envelope, so service blocks written in any language can emit them.
type Kind string

const (
	Unauthorised         Kind = "Unauthorised"
	Forbidden            Kind = "Forbidden"
	BadRequest           Kind = "BadRequest"
	ValidationError      Kind = "ValidationError"
	UnknownEndpoint      Kind = "UnknownEndpoint"
	NotFound             Kind = "NotFound"
	Conflict             Kind = "Conflict"
	Timeout              Kind = "Timeout"
	ServiceUnavailable   Kind = "ServiceUnavailable"
	BrokerUnavailable    Kind = "BrokerUnavailable"
	BackpressureRejected Kind = "BackpressureRejected"
	Internal             Kind = "Internal"
)

// Fault is a classified error. Service handlers return Faults so the consumer
// can encode them verbatim; the core maps them to HTTP status codes at the
// edge and nowhere else.
type Fault struct {
	Kind    Kind
	Message string
}

func (f *Fault) Error() string {
	if f.Message == "" {
		return string(f.Kind)
	}
	return string(f.Kind) + ": " + f.Message
}

func New(kind Kind, message string) *Fault {
	return &Fault{Kind: kind, Message: message}
}

func Newf(kind Kind, format string, args ...any) *Fault {
	return &Fault{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf classifies any error. Non-fault errors are Internal.
func KindOf(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return Internal
}

// As returns the Fault inside err, wrapping foreign errors as Internal so
// boundaries always hand back something encodable.
func As(err error) *Fault {
	var f *Fault
	if errors.As(err, &f) {
		return f
	}
	return &Fault{Kind: Internal, Message: err.Error()}
}

// Wire is the {type, message} encoding carried inside error envelopes.
type Wire struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (f *Fault) Wire() Wire {
	return Wire{Type: string(f.Kind), Message: f.Message}
}

// FromWire rebuilds a Fault from its wire form. Unknown types are preserved
// verbatim; handler exceptions travel under their own class names.
func FromWire(w Wire) *Fault {
	if w.Type == "" {
		return &Fault{Kind: Internal, Message: w.Message}
	}
	return &Fault{Kind: Kind(w.Type), Message: w.Message}
}

// HTTPStatus maps a kind to the status code the core returns for it.
// Kinds minted by service handlers that we do not recognise map to 500.
func HTTPStatus(kind Kind) int {
	switch kind {
	case Unauthorised:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case BadRequest, ValidationError:
		return http.StatusBadRequest
	case UnknownEndpoint, NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case Timeout:
		return http.StatusGatewayTimeout
	case ServiceUnavailable, BrokerUnavailable, BackpressureRejected:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether the retry wrapper may re-dispatch after err.
// Only transient broker failures and deadline expiries qualify; 4xx-class
// verdicts are final.
func Retryable(err error) bool {
	switch KindOf(err) {
	case BrokerUnavailable, Timeout:
		return true
	default:
		return false
	}
}

// CountsAsBreakerFailure reports whether err charges the per-service circuit
// breaker. Timeouts, internal failures and unrecognised handler exception
// kinds count; client-fault verdicts and broker-local errors do not.
func CountsAsBreakerFailure(err error) bool {
	if err == nil {
		return false
	}
	// A caller hanging up says nothing about the destination's health.
	if errors.Is(err, context.Canceled) {
		return false
	}
	switch KindOf(err) {
	case Unauthorised, Forbidden, BadRequest, ValidationError,
		UnknownEndpoint, NotFound, Conflict,
		ServiceUnavailable, BrokerUnavailable, BackpressureRejected:
		return false
	default:
		return true
	}
}
