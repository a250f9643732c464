package settings

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/deckvault/deckvault-core/internal/infrastructure/database"
	_ "github.com/deckvault/deckvault-core/migrations"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "settings-test.db"),
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup

	if err := db.Migrate(t.Context()); err != nil {
		t.Fatalf("applying migrations: %v", err)
	}
	return NewSQLiteStore(db.DB)
}

func TestMaintenanceMode_DefaultsOff(t *testing.T) {
	s := newTestStore(t)

	on, err := s.MaintenanceMode(context.Background())
	if err != nil {
		t.Fatalf("MaintenanceMode() error = %v", err)
	}
	if on {
		t.Error("maintenance mode should be off after migration")
	}
}

func TestSetMaintenanceMode(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m, err := s.SetMaintenanceMode(ctx, true, "usr-admin")
	if err != nil {
		t.Fatalf("SetMaintenanceMode() error = %v", err)
	}
	if !m.Enabled || m.UpdatedBy != "usr-admin" {
		t.Errorf("SetMaintenanceMode() = %+v", m)
	}

	got, err := s.Maintenance(ctx)
	if err != nil {
		t.Fatalf("Maintenance() error = %v", err)
	}
	if !got.Enabled || got.UpdatedBy != "usr-admin" || got.UpdatedAt.IsZero() {
		t.Errorf("Maintenance() = %+v", got)
	}

	if _, err := s.SetMaintenanceMode(ctx, false, ""); err != nil {
		t.Fatalf("SetMaintenanceMode(false) error = %v", err)
	}
	on, _ := s.MaintenanceMode(ctx) //nolint:errcheck // false on error fails the check
	if on {
		t.Error("maintenance mode should be off again")
	}
}

func TestMaintenanceMode_MissingRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM settings"); err != nil {
		t.Fatalf("clearing settings: %v", err)
	}

	on, err := s.MaintenanceMode(ctx)
	if err != nil || on {
		t.Errorf("MaintenanceMode() = %v, %v; want false, nil", on, err)
	}

	// Upsert recreates the row.
	if _, err := s.SetMaintenanceMode(ctx, true, "usr-admin"); err != nil {
		t.Fatalf("SetMaintenanceMode() error = %v", err)
	}
	if on, _ := s.MaintenanceMode(ctx); !on { //nolint:errcheck // false on error fails the check
		t.Error("expected maintenance mode on")
	}
}
