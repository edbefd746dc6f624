package models

import (
	"encoding/json"

	"go.uber.org/zap"
)

// RequestContext carries the correlation identity of one logical request.
// It is built once at the edge and threaded explicitly through the
// coordinator, worker, and response writer; nothing in this repo keeps
// correlation state in ambient/context values.
type RequestContext struct {
	UserKey       string `json:"user_key"`
	RequestID     string `json:"request_id"`
	TraceID       string `json:"trace_id"`
	CorrelationID string `json:"correlation_id"`
}

// Fields renders the context as structured log fields.
func (rc RequestContext) Fields() []zap.Field {
	return []zap.Field{
		zap.String("user_key", rc.UserKey),
		zap.String("request_id", rc.RequestID),
		zap.String("trace_id", rc.TraceID),
		zap.String("correlation_id", rc.CorrelationID),
	}
}

// JobPayload is the ephemeral message carried on the dispatch channel.
// It is created by the coordinator at enqueue time and consumed by one
// worker delivery; duplicate deliveries are absorbed by the store's
// idempotent upsert, never by the transport.
type JobPayload struct {
	UserKey       string          `json:"user_key"`
	RequestID     string          `json:"request_id"`
	TraceID       string          `json:"trace_id"`
	CorrelationID string          `json:"correlation_id"`
	Operation     string          `json:"operation"`
	Args          json.RawMessage `json:"args,omitempty"`
}

// Context re-derives the request context the originating request had.
func (p JobPayload) Context() RequestContext {
	return RequestContext{
		UserKey:       p.UserKey,
		RequestID:     p.RequestID,
		TraceID:       p.TraceID,
		CorrelationID: p.CorrelationID,
	}
}
