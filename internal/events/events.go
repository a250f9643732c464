// Package events carries security events (logins, refreshes, revocations,
// account changes) from the API to pluggable sinks: the SQLite audit log,
// MQTT and InfluxDB.
//
// Publishing never blocks a request. Events are queued on a buffered
// channel and written serially by Bus.Run; when the buffer is full the
// event is dropped with a warning. Sinks are best-effort: a failing sink is
// logged and does not stop the others.
package events

import (
	"context"
	"log/slog"
	"time"
)

// Type names a security event.
type Type string

// Event types.
const (
	LoginSucceeded     Type = "login_succeeded"
	LoginFailed        Type = "login_failed"
	Logout             Type = "logout"
	TokenRefreshed     Type = "token_refreshed"
	RefreshRejected    Type = "refresh_rejected"
	SessionRevoked     Type = "session_revoked"
	SessionsRevoked    Type = "sessions_revoked"
	SessionsEvicted    Type = "sessions_evicted"
	PasswordChanged    Type = "password_changed"
	UserRegistered     Type = "user_registered"
	UserUpdated        Type = "user_updated"
	UserDeleted        Type = "user_deleted"
	MaintenanceChanged Type = "maintenance_changed"
)

// Failure reports whether the event records a rejected attempt.
func (t Type) Failure() bool {
	return t == LoginFailed || t == RefreshRejected
}

// Event is one security-relevant occurrence. UserID is the account the
// event is about, ActorID the account that caused it (they differ for
// admin actions).
type Event struct {
	Type      Type           `json:"type"`
	UserID    string         `json:"user_id,omitempty"`
	ActorID   string         `json:"actor_id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	IPAddress string         `json:"ip_address,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Time      time.Time      `json:"time"`
}

// Sink receives events.
type Sink interface {
	Name() string
	Write(ctx context.Context, e Event) error
}

// DefaultBufferSize is the queue length NewBus uses for bufferSize <= 0.
const DefaultBufferSize = 256

// Bus fans events out to sinks.
type Bus struct {
	sinks  []Sink
	ch     chan Event
	logger *slog.Logger
	now    func() time.Time
}

// NewBus creates an asynchronous bus. Call Run to start delivery.
func NewBus(logger *slog.Logger, bufferSize int, sinks ...Sink) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	b := newBus(logger, sinks)
	b.ch = make(chan Event, bufferSize)
	return b
}

// NewSyncBus creates a bus that delivers inside Publish. Used by the CLI
// and tests where no Run loop exists.
func NewSyncBus(logger *slog.Logger, sinks ...Sink) *Bus {
	return newBus(logger, sinks)
}

func newBus(logger *slog.Logger, sinks []Sink) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{sinks: sinks, logger: logger, now: time.Now}
}

// Publish queues e for delivery. A nil Bus discards events.
func (b *Bus) Publish(e Event) {
	if b == nil || len(b.sinks) == 0 {
		return
	}
	if e.Time.IsZero() {
		e.Time = b.now().UTC()
	}

	if b.ch == nil {
		b.dispatch(context.Background(), e)
		return
	}

	select {
	case b.ch <- e:
	default:
		b.logger.Warn("event queue full, dropping event", "type", e.Type)
	}
}

// Run delivers queued events until ctx is cancelled, then drains what is
// left before returning.
func (b *Bus) Run(ctx context.Context) {
	if b.ch == nil {
		return
	}
	for {
		select {
		case e := <-b.ch:
			b.dispatch(context.Background(), e)
		case <-ctx.Done():
			for {
				select {
				case e := <-b.ch:
					b.dispatch(context.Background(), e)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) dispatch(ctx context.Context, e Event) {
	for _, s := range b.sinks {
		if err := s.Write(ctx, e); err != nil {
			b.logger.Error("event sink write failed",
				"sink", s.Name(),
				"type", e.Type,
				"error", err,
			)
		}
	}
}
