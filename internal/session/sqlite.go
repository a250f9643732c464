package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/deckvault/deckvault-core/internal/auth"
)

// timeLayout is fixed width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const sessionColumns = `id, user_id, refresh_token_hash, token_id, user_agent, ip_address,
	created_at, expires_at, is_valid, invalidated_at, invalid_reason`

// SQLiteStore implements Store on the sessions table.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore creates a SQLite-backed session store.
func NewSQLiteStore(db *sql.DB, opts ...Option) *SQLiteStore {
	o := buildOptions(opts)
	return &SQLiteStore{db: db, now: o.now}
}

func (s *SQLiteStore) stamp() string {
	return formatTime(s.now())
}

// Create inserts a new valid session.
func (s *SQLiteStore) Create(ctx context.Context, p CreateParams) (*Session, error) {
	sess, err := newSession(p, s.now())
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, NULL, NULL)`,
		sess.ID, sess.UserID, sess.RefreshTokenHash, sess.TokenID,
		nullString(sess.UserAgent), nullString(sess.IPAddress),
		formatTime(sess.CreatedAt), formatTime(sess.ExpiresAt),
	)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	return sess, nil
}

// FindValid returns the valid, unexpired session for a raw refresh token.
func (s *SQLiteStore) FindValid(ctx context.Context, refreshToken string) (*Session, error) {
	return scanSession(s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE refresh_token_hash = ? AND is_valid = 1 AND expires_at > ?`,
		HashToken(refreshToken), s.stamp(),
	))
}

// GetByID returns a session in any state.
func (s *SQLiteStore) GetByID(ctx context.Context, id string) (*Session, error) {
	return scanSession(s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id))
}

// Invalidate marks the session for a raw refresh token invalid. Idempotent.
func (s *SQLiteStore) Invalidate(ctx context.Context, refreshToken string, reason Reason) error {
	_, err := s.invalidateWhere(ctx, "refresh_token_hash = ?", reason, HashToken(refreshToken))
	return err
}

// InvalidateByID marks a session invalid by id. Idempotent.
func (s *SQLiteStore) InvalidateByID(ctx context.Context, id string, reason Reason) error {
	_, err := s.invalidateWhere(ctx, "id = ?", reason, id)
	return err
}

// InvalidateAllForUser invalidates every valid session of a user.
func (s *SQLiteStore) InvalidateAllForUser(ctx context.Context, userID string, reason Reason) (int64, error) {
	return s.invalidateWhere(ctx, "user_id = ?", reason, userID)
}

// InvalidateAllForUserExcept invalidates every valid session of a user but keepID.
func (s *SQLiteStore) InvalidateAllForUserExcept(ctx context.Context, userID, keepID string, reason Reason) (int64, error) {
	return s.invalidateWhere(ctx, "user_id = ? AND id != ?", reason, userID, keepID)
}

func (s *SQLiteStore) invalidateWhere(ctx context.Context, where string, reason Reason, args ...any) (int64, error) {
	now := s.stamp()
	query := `UPDATE sessions SET is_valid = 0, invalidated_at = ?, invalid_reason = ?
		WHERE is_valid = 1 AND ` + where

	result, err := s.db.ExecContext(ctx, query, append([]any{now, string(reason)}, args...)...)
	if err != nil {
		return 0, fmt.Errorf("invalidating sessions: %w", err)
	}
	count, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	return count, nil
}

// ListActive returns a user's valid, unexpired sessions, newest first.
func (s *SQLiteStore) ListActive(ctx context.Context, userID string) ([]Session, error) {
	return s.List(ctx, auth.Query{auth.OwnerKey: userID})
}

// List returns valid, unexpired sessions matching the query, newest first.
func (s *SQLiteStore) List(ctx context.Context, q auth.Query) ([]Session, error) {
	userID, scoped, err := ownerFilter(q)
	if err != nil {
		return nil, err
	}

	conditions := []string{"is_valid = 1", "expires_at > ?"}
	args := []any{s.stamp()}
	if scoped {
		conditions = append(conditions, "user_id = ?")
		args = append(args, userID)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE `+strings.Join(conditions, " AND ")+
			` ORDER BY created_at DESC, id DESC`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}
	return sessions, nil
}

// DeleteStale removes invalid and expired sessions.
func (s *SQLiteStore) DeleteStale(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM sessions WHERE is_valid = 0 OR expires_at <= ?", s.stamp())
	if err != nil {
		return 0, fmt.Errorf("deleting stale sessions: %w", err)
	}
	count, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	return count, nil
}

// newSession validates params and builds the session to insert.
func newSession(p CreateParams, now time.Time) (*Session, error) {
	if p.RefreshToken == "" {
		return nil, ErrMissingRefreshToken
	}
	now = now.UTC()
	if !p.ExpiresAt.After(now) {
		return nil, ErrInvalidExpiry
	}

	id := p.ID
	if id == "" {
		id = NewID()
	}

	return &Session{
		ID:               id,
		UserID:           p.UserID,
		RefreshTokenHash: HashToken(p.RefreshToken),
		TokenID:          p.TokenID,
		UserAgent:        p.Metadata.UserAgent,
		IPAddress:        p.Metadata.IPAddress,
		CreatedAt:        now,
		ExpiresAt:        p.ExpiresAt.UTC(),
		IsValid:          true,
	}, nil
}

// NewID returns a fresh session id.
func NewID() string {
	return "ses-" + uuid.NewString()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(sc scanner) (*Session, error) {
	var sess Session
	var userAgent, ipAddress, invalidatedAt, reason sql.NullString
	var createdAt, expiresAt string
	var isValid int

	err := sc.Scan(&sess.ID, &sess.UserID, &sess.RefreshTokenHash, &sess.TokenID,
		&userAgent, &ipAddress, &createdAt, &expiresAt, &isValid, &invalidatedAt, &reason)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("scanning session: %w", err)
	}

	sess.UserAgent = userAgent.String
	sess.IPAddress = ipAddress.String
	sess.IsValid = isValid != 0
	sess.InvalidReason = Reason(reason.String)
	sess.CreatedAt, _ = time.Parse(timeLayout, createdAt) //nolint:errcheck // format is controlled
	sess.ExpiresAt, _ = time.Parse(timeLayout, expiresAt) //nolint:errcheck // format is controlled
	if invalidatedAt.Valid {
		t, _ := time.Parse(timeLayout, invalidatedAt.String) //nolint:errcheck // format is controlled
		sess.InvalidatedAt = &t
	}

	return &sess, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
