package session

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/deckvault/deckvault-core/internal/infrastructure/database"
	_ "github.com/deckvault/deckvault-core/migrations"
)

func testDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "session-test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup

	if err := db.Migrate(t.Context()); err != nil {
		t.Fatalf("applying migrations: %v", err)
	}
	return db
}

func insertUser(t *testing.T, db *database.DB, id string) {
	t.Helper()
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := db.ExecContext(context.Background(),
		`INSERT INTO users (id, username, email, password_hash, role, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, 'x', 'editor', 1, ?, ?)`,
		id, id, id+"@example.com", now, now)
	if err != nil {
		t.Fatalf("inserting user %s: %v", id, err)
	}
}

func newSQLiteHarness(t *testing.T) harness {
	db := testDB(t)
	clock := newFakeClock()
	return harness{
		store:   NewSQLiteStore(db.DB, WithClock(clock.Now)),
		clock:   clock,
		addUser: func(t *testing.T, id string) { insertUser(t, db, id) },
	}
}

func TestSQLiteStore(t *testing.T) {
	runStoreContract(t, newSQLiteHarness)
}

func TestSQLiteStore_UserDeletionCascades(t *testing.T) {
	h := newSQLiteHarness(t)
	h.addUser(t, "usr-a")
	sess, _ := create(t, h, "usr-a", 1)

	store := h.store.(*SQLiteStore)
	if _, err := store.db.ExecContext(context.Background(), "DELETE FROM users WHERE id = ?", "usr-a"); err != nil {
		t.Fatalf("deleting user: %v", err)
	}
	if _, err := store.GetByID(context.Background(), sess.ID); err == nil {
		t.Error("sessions should cascade with their user")
	}
}

func TestReaper_ReapOnce(t *testing.T) {
	h := newSQLiteHarness(t)
	h.addUser(t, "usr-a")
	_, token := create(t, h, "usr-a", 1)
	create(t, h, "usr-a", 2)

	ctx := context.Background()
	if err := h.store.Invalidate(ctx, token, ReasonLogout); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}

	r := NewReaper(h.store, time.Hour, slog.Default())
	if n := r.ReapOnce(ctx); n != 1 {
		t.Errorf("ReapOnce() = %d, want 1", n)
	}
}

func TestReaper_RunStopsOnCancel(t *testing.T) {
	h := newSQLiteHarness(t)
	r := NewReaper(h.store, 10*time.Millisecond, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestHashToken(t *testing.T) {
	a, b := HashToken("token-a"), HashToken("token-b")
	if len(a) != 64 || a == b || a != HashToken("token-a") {
		t.Errorf("HashToken() should be a stable 64-char hex digest, got %q / %q", a, b)
	}
}
