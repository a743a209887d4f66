// Package audit implements async security-event logging with mandatory
// PII redaction.
//
// # Components
//
//   - [Sink] — interface for event consumers (channel, JSON writer, no-op).
//   - [Logger] — buffered async relay with drop-if-full / block-if-full semantics.
//     Every emitted event passes through [Redact] before it reaches a sink.
//   - [Event] — structured security record with ULID, timestamp, type, actor,
//     origin, and a free-form detail map.
//
// # Architecture boundaries
//
// This package owns event stamping, redaction, buffering, and sink delivery.
// It does NOT decide which events to emit. That responsibility belongs to the
// Engine.
//
// # What this package must NOT do
//
//   - Filter or suppress events based on business logic.
//   - Expose an unredacted emission path.
//   - Import authcore or any sibling package.
//   - Perform network I/O beyond what a caller-supplied Sink does.
package audit
