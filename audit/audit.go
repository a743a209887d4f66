// Package audit is the structured security-event path for authentication and
// authorization outcomes.
//
// Every event is assigned a ULID, timestamped, and passed through mandatory
// PII redaction before it leaves the process. Emission is asynchronous and
// best-effort: a full buffer or a slow sink can drop events (counted), but
// can never fail or delay the request that produced them.
package audit

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Severity classifies an event for downstream filtering.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Event is the canonical security event model.
type Event struct {
	ID        string            `json:"event_id"`
	Timestamp time.Time         `json:"timestamp"`
	Type      string            `json:"event_type"`
	Severity  Severity          `json:"severity"`
	ActorID   int64             `json:"actor_id,omitempty"`
	Origin    string            `json:"origin,omitempty"`
	UserAgent string            `json:"user_agent,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Detail    map[string]string `json:"detail,omitempty"`
}

// Sink receives emitted events. Implementations must be safe for concurrent
// use and must not block indefinitely.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink drops all events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink writes events into a buffered channel, for consumers that
// forward them to external alerting.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan Event, buffer),
	}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

func (s *JSONWriterSink) Emit(ctx context.Context, event Event) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}
