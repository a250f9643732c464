package audit

import (
	"context"

	"github.com/deckvault/deckvault-core/internal/events"
)

// Sink writes security events to the audit log.
type Sink struct {
	repo Repository
}

// NewSink creates an audit sink.
func NewSink(repo Repository) *Sink {
	return &Sink{repo: repo}
}

// Name implements events.Sink.
func (s *Sink) Name() string { return "audit" }

// Write implements events.Sink.
func (s *Sink) Write(ctx context.Context, e events.Event) error {
	return s.repo.Create(ctx, &Entry{
		Action:    string(e.Type),
		UserID:    e.UserID,
		ActorID:   e.ActorID,
		SessionID: e.SessionID,
		IPAddress: e.IPAddress,
		Details:   e.Details,
		CreatedAt: e.Time,
	})
}
