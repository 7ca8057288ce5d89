// Package events defines the event envelope, the closed event catalog, the
// in-process bus and the processed-events ledger used for dedup.
package events

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const DefaultSource = "core"

// Event is the unit of work flowing through the bus.
type Event struct {
	Type          string         `json:"type"`
	Payload       map[string]any `json:"payload"`
	Source        string         `json:"source"`
	RequestID     string         `json:"request_id"`
	TraceID       string         `json:"trace_id"`
	EventID       string         `json:"event_id"`
	ParentEventID string         `json:"parent_event_id,omitempty"`
	DecisionID    string         `json:"decision_id,omitempty"`
	Timestamp     string         `json:"timestamp" format:"date-time"`
	Invalid       bool           `json:"invalid,omitempty"`
	InvalidReason string         `json:"invalid_reason,omitempty"`
}

// New builds a normalized event.
func New(typ string, payload map[string]any, source string) Event {
	return Event{Type: typ, Payload: payload, Source: source}.Normalize(time.Now())
}

// Normalize fills missing ids, source, payload and timestamp. trace_id falls
// back to the request id, then to a fresh UUID.
func (e Event) Normalize(now time.Time) Event {
	if e.Payload == nil {
		e.Payload = map[string]any{}
	}
	if e.Source == "" {
		e.Source = DefaultSource
	}
	if e.RequestID == "" {
		e.RequestID = PayloadString(e.Payload, "request_id")
	}
	if e.TraceID == "" {
		e.TraceID = PayloadString(e.Payload, "trace_id")
	}
	if e.TraceID == "" {
		e.TraceID = e.RequestID
	}
	if e.TraceID == "" {
		e.TraceID = uuid.NewString()
	}
	if e.EventID == "" {
		e.EventID = uuid.NewString()
	}
	if e.Timestamp == "" {
		e.Timestamp = now.UTC().Format(time.RFC3339Nano)
	}
	return e
}

// Child derives a follow-up event that inherits the trace of e.
func (e Event) Child(typ string, payload map[string]any) Event {
	return Event{
		Type:          typ,
		Payload:       payload,
		Source:        DefaultSource,
		RequestID:     e.RequestID,
		TraceID:       e.TraceID,
		ParentEventID: e.EventID,
		DecisionID:    e.DecisionID,
	}.Normalize(time.Now())
}

// Trace returns the correlation ids carried by e.
func (e Event) Trace() Trace {
	return Trace{RequestID: e.RequestID, TraceID: e.TraceID, EventID: e.EventID, DecisionID: e.DecisionID}
}

// String returns payload[key] as a trimmed string.
func (e Event) String(key string) string {
	return PayloadString(e.Payload, key)
}

// Float returns payload[key] as a float.
func (e Event) Float(key string) (float64, bool) {
	return PayloadFloat(e.Payload, key)
}

// Bool returns payload[key] as a bool.
func (e Event) Bool(key string) bool {
	switch v := e.Payload[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	case float64:
		return v != 0
	case int:
		return v != 0
	}
	return false
}

// PayloadString reads a string-ish value from a payload.
func PayloadString(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case fmt.Stringer:
		return strings.TrimSpace(t.String())
	case float64:
		if t == math.Trunc(t) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

// PayloadFloat reads a numeric value from a payload, accepting numeric strings.
func PayloadFloat(payload map[string]any, key string) (float64, bool) {
	switch t := payload[key].(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}
