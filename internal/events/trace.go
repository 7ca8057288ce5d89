package events

import (
	"context"

	"go.uber.org/zap"
)

// Trace carries the correlation ids of the event being handled.
type Trace struct {
	RequestID  string
	TraceID    string
	EventID    string
	DecisionID string
}

type traceKey struct{}

// WithTrace seeds ctx with t.
func WithTrace(ctx context.Context, t Trace) context.Context {
	return context.WithValue(ctx, traceKey{}, t)
}

// TraceFrom returns the trace seeded in ctx, if any.
func TraceFrom(ctx context.Context) Trace {
	t, _ := ctx.Value(traceKey{}).(Trace)
	return t
}

// CorrelationID picks the most specific id available.
func (t Trace) CorrelationID() string {
	switch {
	case t.RequestID != "":
		return t.RequestID
	case t.TraceID != "":
		return t.TraceID
	default:
		return t.EventID
	}
}

// Fields renders the trace as log fields.
func (t Trace) Fields() []zap.Field {
	return []zap.Field{
		zap.String("request_id", t.RequestID),
		zap.String("trace_id", t.TraceID),
		zap.String("event_id", t.EventID),
	}
}

// TraceFields returns the log fields of the trace in ctx.
func TraceFields(ctx context.Context) []zap.Field {
	return TraceFrom(ctx).Fields()
}
