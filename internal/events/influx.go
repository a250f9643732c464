package events

import (
	"context"
	"time"

	"github.com/deckvault/deckvault-core/internal/infrastructure/influxdb"
)

// PointWriter is the part of the InfluxDB client InfluxSink needs.
type PointWriter interface {
	WriteAuthEvent(eventType, outcome string, fields map[string]any, ts time.Time)
}

// InfluxSink records one auth_events point per event.
type InfluxSink struct {
	client PointWriter
}

// NewInfluxSink creates a sink over a connected client.
func NewInfluxSink(client PointWriter) *InfluxSink {
	return &InfluxSink{client: client}
}

// Name implements Sink.
func (s *InfluxSink) Name() string { return "influxdb" }

// Write implements Sink. Writes are asynchronous; errors surface through
// the client's error callback.
func (s *InfluxSink) Write(_ context.Context, e Event) error {
	outcome := influxdb.OutcomeSuccess
	if e.Type.Failure() {
		outcome = influxdb.OutcomeFailure
	}

	fields := map[string]any{}
	if e.UserID != "" {
		fields["user_id"] = e.UserID
	}
	if e.SessionID != "" {
		fields["session_id"] = e.SessionID
	}
	s.client.WriteAuthEvent(string(e.Type), outcome, fields, e.Time)
	return nil
}
