// Package session persists per-device login sessions.
//
// A session pairs one refresh token (stored only as its SHA-256 hash) with
// the device metadata it was issued to. Sessions move one way:
//
//	CREATED -> (logout | revoke | expiry | cap eviction | password change | deactivation) -> INVALID -> (reaper) -> DELETED
//
// Only a valid, unexpired session authorises a refresh. Validity and expiry
// are checked on every read, so the reaper is garbage collection only.
package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/deckvault/deckvault-core/internal/auth"
)

// Reason records why a session was invalidated.
type Reason string

// Invalidation reasons.
const (
	ReasonLogout         Reason = "logout"
	ReasonRevoked        Reason = "revoked"
	ReasonRotated        Reason = "rotated"
	ReasonCapEvicted     Reason = "cap_evicted"
	ReasonPasswordChange Reason = "password_change"
	ReasonDeactivated    Reason = "deactivated"
	ReasonUserDeleted    Reason = "user_deleted"
)

// DefaultMaxPerUser is the default cap on concurrently valid sessions.
const DefaultMaxPerUser = 10

// Sentinel errors.
var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrInvalidExpiry       = errors.New("session must expire after it is created")
	ErrUnsupportedFilter   = errors.New("unsupported session filter")
	ErrMissingRefreshToken = errors.New("session requires a refresh token")
)

// Session is one logged-in device.
type Session struct {
	ID               string     `json:"id" bson:"_id"`
	UserID           string     `json:"user_id" bson:"user_id"`
	RefreshTokenHash string     `json:"-" bson:"refresh_token_hash"`
	TokenID          string     `json:"-" bson:"token_id"`
	UserAgent        string     `json:"user_agent,omitempty" bson:"user_agent,omitempty"`
	IPAddress        string     `json:"ip_address,omitempty" bson:"ip_address,omitempty"`
	CreatedAt        time.Time  `json:"created_at" bson:"created_at"`
	ExpiresAt        time.Time  `json:"expires_at" bson:"expires_at"`
	IsValid          bool       `json:"is_valid" bson:"is_valid"`
	InvalidatedAt    *time.Time `json:"invalidated_at,omitempty" bson:"invalidated_at,omitempty"`
	InvalidReason    Reason     `json:"invalid_reason,omitempty" bson:"invalid_reason,omitempty"`
}

// OwnerID returns the owning user's id.
func (s *Session) OwnerID() string {
	return s.UserID
}

// Active reports whether the session may still authorise a refresh at now.
func (s *Session) Active(now time.Time) bool {
	return s.IsValid && s.ExpiresAt.After(now)
}

// Metadata describes the client a session was issued to.
type Metadata struct {
	UserAgent string
	IPAddress string
}

// CreateParams holds everything needed to persist a new session.
type CreateParams struct {
	// ID is optional. Callers set it when the id is already embedded in the
	// issued tokens.
	ID           string
	UserID       string
	RefreshToken string
	TokenID      string
	Metadata     Metadata
	ExpiresAt    time.Time
}

// Store persists sessions. Implementations must be safe for concurrent use.
type Store interface {
	// Create persists a new valid session. ExpiresAt must be after the
	// creation time.
	Create(ctx context.Context, p CreateParams) (*Session, error)

	// FindValid returns the session for a raw refresh token only if it is
	// valid and unexpired; otherwise ErrSessionNotFound.
	FindValid(ctx context.Context, refreshToken string) (*Session, error)

	// GetByID returns a session in any state.
	GetByID(ctx context.Context, id string) (*Session, error)

	// Invalidate marks the session for a raw refresh token invalid.
	// Unknown or already invalid sessions are a no-op.
	Invalidate(ctx context.Context, refreshToken string, reason Reason) error

	// InvalidateByID is Invalidate keyed by session id.
	InvalidateByID(ctx context.Context, id string, reason Reason) error

	// InvalidateAllForUser invalidates every valid session of a user and
	// returns how many changed.
	InvalidateAllForUser(ctx context.Context, userID string, reason Reason) (int64, error)

	// InvalidateAllForUserExcept is InvalidateAllForUser sparing keepID.
	InvalidateAllForUserExcept(ctx context.Context, userID, keepID string, reason Reason) (int64, error)

	// ListActive returns a user's valid, unexpired sessions, newest first.
	ListActive(ctx context.Context, userID string) ([]Session, error)

	// List returns valid, unexpired sessions matching an owner-scoped
	// query, newest first. Only auth.OwnerKey is understood.
	List(ctx context.Context, q auth.Query) ([]Session, error)

	// DeleteStale removes invalid and expired sessions.
	DeleteStale(ctx context.Context) (int64, error)
}

// HashToken returns the hex SHA-256 of a raw refresh token. Raw tokens are
// never stored.
func HashToken(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// Option configures a Store implementation.
type Option func(*storeOptions)

type storeOptions struct {
	now func() time.Time
}

// WithClock overrides the store's clock.
func WithClock(now func() time.Time) Option {
	return func(o *storeOptions) {
		o.now = now
	}
}

func buildOptions(opts []Option) storeOptions {
	o := storeOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ownerFilter extracts the owner id from a query. present is false when the
// query is unscoped (admin view-all).
func ownerFilter(q auth.Query) (userID string, present bool, err error) {
	for k := range q {
		if k != auth.OwnerKey {
			return "", false, ErrUnsupportedFilter
		}
	}
	v, ok := q[auth.OwnerKey]
	if !ok {
		return "", false, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", false, ErrUnsupportedFilter
	}
	return s, true, nil
}
