// Package envelope defines the JSON records exchanged between the core and
// the service blocks over the broker. Envelopes are parsed and validated at
// the I/O boundary; everything behind it sees typed values only.
package envelope

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/COS301-SE-2025/SAMFMS-sub004/common/faults"
)

// SystemUserID marks internal calls that carry no end-user identity.
const SystemUserID = "system"

// AnonymousUserID marks requests that reached the core without a verified
// token, which only the public auth endpoints accept.
const AnonymousUserID = "anonymous"

var validate = validator.New(validator.WithRequiredStructEnabled())

// UserContext travels inside every request envelope so service blocks never
// re-validate tokens.
type UserContext struct {
	UserID      string   `json:"user_id" validate:"required"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
	TraceID     string   `json:"trace_id"`
	ClientIP    string   `json:"client_ip"`
}

// SystemContext returns the sentinel context used for internal dispatches.
func SystemContext() UserContext {
	return UserContext{
		UserID:      SystemUserID,
		Role:        SystemUserID,
		Permissions: []string{"*"},
	}
}

// AnonymousContext returns the context attached to unauthenticated requests.
func AnonymousContext() UserContext {
	return UserContext{UserID: AnonymousUserID, Role: AnonymousUserID}
}

// RequestEnvelope is the record the core publishes onto a service block's
// request queue.
type RequestEnvelope struct {
	CorrelationID string          `json:"correlation_id" validate:"required"`
	Method        string          `json:"method" validate:"required,oneof=GET POST PUT PATCH DELETE"`
	Endpoint      string          `json:"endpoint" validate:"required"`
	Data          json.RawMessage `json:"data,omitempty"`
	UserContext   UserContext     `json:"user_context"`
	Timestamp     time.Time       `json:"timestamp"`
}

// NewRequest builds a request envelope stamped with the dispatch time.
func NewRequest(correlationID, method, endpoint string, data json.RawMessage, uc UserContext) RequestEnvelope {
	return RequestEnvelope{
		CorrelationID: correlationID,
		Method:        method,
		Endpoint:      endpoint,
		Data:          data,
		UserContext:   uc,
		Timestamp:     time.Now().UTC(),
	}
}

// Validate checks the required fields. The returned error is a
// faults.ValidationError suitable for an error reply.
func (e *RequestEnvelope) Validate() error {
	if err := validate.Struct(e); err != nil {
		return faults.Newf(faults.ValidationError, "invalid request envelope: %v", err)
	}
	return nil
}

// BaseEndpoint returns the first two path segments of the endpoint, the key
// service blocks use to resolve handlers ("api/vehicles/123" -> "api/vehicles").
func (e *RequestEnvelope) BaseEndpoint() string {
	parts := strings.Split(strings.Trim(e.Endpoint, "/"), "/")
	if len(parts) >= 2 {
		return parts[0] + "/" + parts[1]
	}
	return parts[0]
}

func (e *RequestEnvelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeRequest parses a request envelope. Unknown fields are ignored.
func DecodeRequest(body []byte) (*RequestEnvelope, error) {
	var e RequestEnvelope
	if err := json.Unmarshal(body, &e); err != nil {
		return nil, faults.Newf(faults.BadRequest, "malformed request envelope: %v", err)
	}
	return &e, nil
}

// Status is the outcome discriminator of a response envelope.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// ResponseEnvelope is the record a service block publishes back onto the
// core's response queue. Exactly one of Data and Error is populated.
type ResponseEnvelope struct {
	CorrelationID string          `json:"correlation_id"`
	Status        Status          `json:"status"`
	Data          json.RawMessage `json:"data,omitempty"`
	Error         *faults.Wire    `json:"error,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
}

// Success wraps a handler result in a success envelope.
func Success(correlationID string, result any) (*ResponseEnvelope, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return nil, faults.Newf(faults.Internal, "encode handler result: %v", err)
	}
	return &ResponseEnvelope{
		CorrelationID: correlationID,
		Status:        StatusSuccess,
		Data:          data,
		Timestamp:     time.Now().UTC(),
	}, nil
}

// Failure wraps a fault in an error envelope.
func Failure(correlationID string, f *faults.Fault) *ResponseEnvelope {
	w := f.Wire()
	return &ResponseEnvelope{
		CorrelationID: correlationID,
		Status:        StatusError,
		Error:         &w,
		Timestamp:     time.Now().UTC(),
	}
}

// Fault returns the decoded fault of an error response, or nil on success.
func (e *ResponseEnvelope) Fault() *faults.Fault {
	if e.Status != StatusError {
		return nil
	}
	if e.Error == nil {
		return faults.New(faults.Internal, "error response without error body")
	}
	return faults.FromWire(*e.Error)
}

func (e *ResponseEnvelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeResponse parses a response envelope and rejects records that could
// never be correlated.
func DecodeResponse(body []byte) (*ResponseEnvelope, error) {
	var e ResponseEnvelope
	if err := json.Unmarshal(body, &e); err != nil {
		return nil, faults.Newf(faults.BadRequest, "malformed response envelope: %v", err)
	}
	if e.CorrelationID == "" {
		return nil, faults.New(faults.BadRequest, "response envelope missing correlation_id")
	}
	return &e, nil
}
