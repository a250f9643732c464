package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/deckvault/deckvault-core/internal/infrastructure/mqtt"
)

// EventPublisher is the part of the MQTT client MQTTSink needs.
type EventPublisher interface {
	Topics() mqtt.Topics
	PublishEvent(topic string, payload []byte) error
}

// MQTTSink publishes each event as JSON to {prefix}/auth/events/{type}.
type MQTTSink struct {
	client EventPublisher
}

// NewMQTTSink creates a sink over a connected client.
func NewMQTTSink(client EventPublisher) *MQTTSink {
	return &MQTTSink{client: client}
}

// Name implements Sink.
func (s *MQTTSink) Name() string { return "mqtt" }

// Write implements Sink.
func (s *MQTTSink) Write(_ context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshalling event: %w", err)
	}
	return s.client.PublishEvent(s.client.Topics().AuthEvent(string(e.Type)), payload)
}
