package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementAuthEvents holds one point per security event.
const MeasurementAuthEvents = "auth_events"

// Outcome tag values.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// NewAuthEventPoint builds the point for a security event. User and session
// ids go in fields, not tags, to keep series cardinality bounded.
func NewAuthEventPoint(eventType, outcome string, fields map[string]any, ts time.Time) *write.Point {
	f := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		f[k] = v
	}
	f["count"] = 1

	return write.NewPoint(
		MeasurementAuthEvents,
		map[string]string{
			"event":   eventType,
			"outcome": outcome,
		},
		f,
		ts,
	)
}

// WriteAuthEvent queues a security event point. Dropped when disconnected.
func (c *Client) WriteAuthEvent(eventType, outcome string, fields map[string]any, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(NewAuthEventPoint(eventType, outcome, fields, ts))
}

// WritePointWithTime queues an arbitrary point.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, timestamp))
}
