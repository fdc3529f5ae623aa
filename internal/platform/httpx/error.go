// Package httpx writes the API's JSON response envelopes. Success responses
// are {"status":"success"} with optional message and data; errors are
// {"status":"error","message":...,"errors":{"code":...}} with request and
// trace ids merged into the errors object when the context carries them.
package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/storyforge/api/internal/platform/requestctx"
)

// Error is the canonical error payload.
type Error struct {
	Code      string
	Message   string
	Status    int
	RequestID string
	TraceID   string
	Details   map[string]any
}

// NewError builds an Error. A zero status becomes 500.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    flatten(code, 80),
		Message: flatten(message, 512),
		Status:  status,
	}
}

// WithRequestID overrides the request id taken from context.
func (e Error) WithRequestID(id string) Error {
	e.RequestID = flatten(id, 80)
	return e
}

// WithTraceID overrides the trace id taken from context.
func (e Error) WithTraceID(id string) Error {
	e.TraceID = flatten(id, 64)
	return e
}

// WithDetails merges extra JSON-serialisable fields into the errors object.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) == 0 {
		return e
	}
	merged := make(map[string]any, len(details))
	for k, v := range details {
		merged[k] = v
	}
	e.Details = merged
	return e
}

type successEnvelope struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type errorEnvelope struct {
	Status  string         `json:"status"`
	Message string         `json:"message"`
	Errors  map[string]any `json:"errors"`
}

// WriteSuccess writes the success envelope. Nil data omits the data field
// entirely, which the delete endpoints rely on.
func WriteSuccess(w http.ResponseWriter, status int, message string, data any) {
	if status == 0 {
		status = http.StatusOK
	}
	writeJSON(w, status, successEnvelope{
		Status:  "success",
		Message: flatten(message, 512),
		Data:    data,
	})
}

// WriteError writes the error envelope, filling request and trace ids from
// context when the error does not carry its own.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	status := err.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}

	fields := map[string]any{"code": err.Code}
	if id := firstNonEmpty(err.RequestID, flatten(middleware.GetReqID(ctx), 80)); id != "" {
		fields["request_id"] = id
	}
	if id := firstNonEmpty(err.TraceID, flatten(requestctx.TraceID(ctx), 64)); id != "" {
		fields["trace_id"] = id
	}
	for k, v := range err.Details {
		fields[k] = v
	}

	writeJSON(w, status, errorEnvelope{
		Status:  "error",
		Message: err.Message,
		Errors:  fields,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// flatten collapses newlines and bounds length so envelope fields stay
// single-line.
func flatten(value string, limit int) string {
	value = strings.ReplaceAll(value, "\n", " ")
	value = strings.ReplaceAll(value, "\r", " ")
	value = strings.TrimSpace(value)
	if limit > 0 && len(value) > limit {
		value = value[:limit]
	}
	return value
}
