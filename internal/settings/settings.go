// Package settings stores system-wide runtime switches that admins change
// through the API, currently the maintenance mode flag.
package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// KeyMaintenanceMode is the settings row holding the maintenance flag.
const KeyMaintenanceMode = "maintenance_mode"

// Maintenance is the current maintenance mode state.
type Maintenance struct {
	Enabled   bool      `json:"enabled"`
	UpdatedBy string    `json:"updated_by,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SQLiteStore reads and writes the settings table.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore creates a settings store.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, now: time.Now}
}

// MaintenanceMode reports whether maintenance mode is on. A missing row
// means off.
func (s *SQLiteStore) MaintenanceMode(ctx context.Context) (bool, error) {
	m, err := s.Maintenance(ctx)
	if err != nil {
		return false, err
	}
	return m.Enabled, nil
}

// Maintenance returns the maintenance flag with who last changed it.
func (s *SQLiteStore) Maintenance(ctx context.Context) (*Maintenance, error) {
	var value, updatedAt string
	var updatedBy sql.NullString

	err := s.db.QueryRowContext(ctx,
		"SELECT value, updated_by, updated_at FROM settings WHERE key = ?",
		KeyMaintenanceMode,
	).Scan(&value, &updatedBy, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return &Maintenance{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading maintenance mode: %w", err)
	}

	enabled, err := strconv.ParseBool(value)
	if err != nil {
		return nil, fmt.Errorf("parsing maintenance mode %q: %w", value, err)
	}
	ts, err := time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing settings timestamp %q: %w", updatedAt, err)
	}

	return &Maintenance{Enabled: enabled, UpdatedBy: updatedBy.String, UpdatedAt: ts}, nil
}

// SetMaintenanceMode turns maintenance mode on or off.
func (s *SQLiteStore) SetMaintenanceMode(ctx context.Context, enabled bool, updatedBy string) (*Maintenance, error) {
	now := s.now().UTC().Truncate(time.Second)

	var by any
	if updatedBy != "" {
		by = updatedBy
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_by, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value,
		     updated_by = excluded.updated_by, updated_at = excluded.updated_at`,
		KeyMaintenanceMode, strconv.FormatBool(enabled), by, now.Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("updating maintenance mode: %w", err)
	}

	return &Maintenance{Enabled: enabled, UpdatedBy: updatedBy, UpdatedAt: now}, nil
}
