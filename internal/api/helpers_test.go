package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/deckvault/deckvault-core/internal/access"
	"github.com/deckvault/deckvault-core/internal/audit"
	"github.com/deckvault/deckvault-core/internal/auth"
	"github.com/deckvault/deckvault-core/internal/events"
	"github.com/deckvault/deckvault-core/internal/infrastructure/config"
	"github.com/deckvault/deckvault-core/internal/infrastructure/database"
	"github.com/deckvault/deckvault-core/internal/infrastructure/logging"
	"github.com/deckvault/deckvault-core/internal/ratelimit"
	"github.com/deckvault/deckvault-core/internal/session"
	"github.com/deckvault/deckvault-core/internal/settings"
	_ "github.com/deckvault/deckvault-core/migrations"
)

const (
	testSecret   = "test-secret-key-at-least-32-characters-long"
	testPassword = "correct-horse-battery"
)

type fixture struct {
	t        *testing.T
	handler  http.Handler
	users    *auth.SQLiteUserRepository
	sessions *session.SQLiteStore
	settings *settings.SQLiteStore
	audit    *audit.SQLiteRepository
	tokens   *auth.TokenService
}

type fixtureOptions struct {
	auth    config.AuthConfig
	limiter ratelimit.Limiter
}

func defaultFixtureOptions() fixtureOptions {
	return fixtureOptions{
		auth: config.AuthConfig{
			MultiUser:          true,
			AllowRegistration:  false,
			DefaultRole:        string(auth.RoleEditor),
			MaxSessionsPerUser: session.DefaultMaxPerUser,
		},
	}
}

// newFixture builds a server over a migrated temp-file SQLite database.
func newFixture(t *testing.T, mutate ...func(*fixtureOptions)) *fixture {
	t.Helper()

	opts := defaultFixtureOptions()
	for _, m := range mutate {
		m(&opts)
	}

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "api-test.db"),
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

	log := logging.Discard()
	users := auth.NewUserRepository(db.DB)
	sessions := session.NewSQLiteStore(db.DB)
	settingsStore := settings.NewSQLiteStore(db.DB)
	auditRepo := audit.NewSQLiteRepository(db.DB)
	tokens := auth.NewTokenService(auth.TokenConfig{
		Secret:   testSecret,
		Issuer:   "deckvault-test",
		Audience: "deckvault-test",
	}, log.Logger)
	gate := access.NewGate(access.Options{MultiUser: opts.auth.MultiUser}, tokens, users, settingsStore, log.Logger)

	srv, err := New(Deps{
		Auth:     opts.auth,
		Logger:   log,
		DB:       db,
		Users:    users,
		Tokens:   tokens,
		Sessions: sessions,
		Gate:     gate,
		Limiter:  opts.limiter,
		Settings: settingsStore,
		Audit:    auditRepo,
		Events:   events.NewSyncBus(log.Logger, audit.NewSink(auditRepo)),
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	return &fixture{
		t:        t,
		handler:  srv.Handler(),
		users:    users,
		sessions: sessions,
		settings: settingsStore,
		audit:    auditRepo,
		tokens:   tokens,
	}
}

// do sends a request with an optional bearer token and JSON body.
func (f *fixture) do(method, path, token string, body any) *httptest.ResponseRecorder {
	f.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			f.t.Fatalf("encoding body: %v", err)
		}
	}
	req := httptest.NewRequest(method, "/api/v1"+path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "deckvault-test")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

// createUser inserts an active user with testPassword.
func (f *fixture) createUser(username string, role auth.Role) *auth.User {
	f.t.Helper()

	hash, err := auth.HashPassword(testPassword)
	if err != nil {
		f.t.Fatalf("hashing password: %v", err)
	}
	u := &auth.User{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: hash,
		Role:         role,
		IsActive:     true,
	}
	if err := f.users.Create(f.t.Context(), u); err != nil {
		f.t.Fatalf("creating user %s: %v", username, err)
	}
	return u
}

// login logs in and fails the test unless it succeeds.
func (f *fixture) login(identifier string) tokenResponse {
	f.t.Helper()
	return f.loginWith(identifier, testPassword)
}

func (f *fixture) loginWith(identifier, password string) tokenResponse {
	f.t.Helper()

	rec := f.do(http.MethodPost, "/auth/login", "", map[string]string{
		"identifier": identifier,
		"password":   password,
	})
	if rec.Code != http.StatusOK {
		f.t.Fatalf("login %s: status = %d, body = %s", identifier, rec.Code, rec.Body.String())
	}
	return decodeBody[tokenResponse](f.t, rec)
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
	return v
}

// assertError checks status and error code of a response.
func assertError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, status, rec.Body.String())
	}
	body := decodeBody[Error](t, rec)
	if body.Code != code {
		t.Errorf("code = %q, want %q", body.Code, code)
	}
	if body.Message == "" {
		t.Error("error message is empty")
	}
}
