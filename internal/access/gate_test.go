package access

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/deckvault/deckvault-core/internal/auth"
	"github.com/deckvault/deckvault-core/internal/infrastructure/logging"
	"github.com/deckvault/deckvault-core/internal/ratelimit"
)

// fakeTokens maps literal token strings to identities.
type fakeTokens map[string]*auth.Identity

func (f fakeTokens) VerifyAccess(token string) (*auth.Identity, error) {
	id, ok := f[token]
	if !ok {
		return nil, auth.ErrTokenInvalid
	}
	return id, nil
}

type fakeUsers struct {
	users map[string]*auth.User
	err   error
}

func (f *fakeUsers) GetByID(_ context.Context, id string) (*auth.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	u, ok := f.users[id]
	if !ok {
		return nil, auth.ErrUserNotFound
	}
	return u, nil
}

type fakeMaintenance struct {
	on  bool
	err error
}

func (f *fakeMaintenance) MaintenanceMode(context.Context) (bool, error) {
	return f.on, f.err
}

type fixture struct {
	gate  *Gate
	users *fakeUsers
	maint *fakeMaintenance
}

func newFixture(t *testing.T, multiUser bool) *fixture {
	t.Helper()
	users := &fakeUsers{users: map[string]*auth.User{
		"usr-admin":  {ID: "usr-admin", Username: "admin", Role: auth.RoleAdmin, IsActive: true},
		"usr-editor": {ID: "usr-editor", Username: "editor", Role: auth.RoleEditor, IsActive: true},
		"usr-other":  {ID: "usr-other", Username: "other", Role: auth.RoleEditor, IsActive: true},
		"usr-viewer": {ID: "usr-viewer", Username: "viewer", Role: auth.RoleViewer, IsActive: true},
	}}
	tokens := fakeTokens{}
	for id, u := range users.users {
		tokens["tok-"+id] = &auth.Identity{UserID: id, Role: u.Role, SessionID: "ses-" + id}
	}
	maint := &fakeMaintenance{}
	return &fixture{
		gate:  NewGate(Options{MultiUser: multiUser}, tokens, users, maint, logging.Discard().Logger),
		users: users,
		maint: maint,
	}
}

func testReject(w http.ResponseWriter, _ *http.Request, rej *Rejection) {
	w.Header().Set("X-Error-Code", rej.Code)
	w.WriteHeader(rej.Status)
}

// serve runs the stages in front of a handler that records the final state.
func serve(t *testing.T, token string, stages ...Stage) (*httptest.ResponseRecorder, State) {
	t.Helper()
	var got State
	h := Pipeline(testReject, stages...)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = StateFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/decks/d1", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, got
}

func TestIdentify(t *testing.T) {
	tests := []struct {
		name     string
		token    string
		mutate   func(f *fixture)
		wantUser string
		wantCode int
	}{
		{name: "valid token", token: "tok-usr-editor", wantUser: "usr-editor", wantCode: http.StatusOK},
		{name: "no token", wantCode: http.StatusUnauthorized},
		{name: "garbage token", token: "nope", wantCode: http.StatusUnauthorized},
		{
			name:  "deactivated user with valid token",
			token: "tok-usr-editor",
			mutate: func(f *fixture) {
				f.users.users["usr-editor"].IsActive = false
			},
			wantCode: http.StatusUnauthorized,
		},
		{
			name:  "deleted user with valid token",
			token: "tok-usr-editor",
			mutate: func(f *fixture) {
				delete(f.users.users, "usr-editor")
			},
			wantCode: http.StatusUnauthorized,
		},
		{
			name:  "lookup failure",
			token: "tok-usr-editor",
			mutate: func(f *fixture) {
				f.users.err = errors.New("disk I/O error")
			},
			wantCode: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, true)
			if tt.mutate != nil {
				tt.mutate(f)
			}
			rec, state := serve(t, tt.token, f.gate.Identify, f.gate.RequireAuth)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if tt.wantUser != "" && UserID(state.Identity) != tt.wantUser {
				t.Errorf("identity = %q, want %q", UserID(state.Identity), tt.wantUser)
			}
			if tt.wantCode == http.StatusUnauthorized && rec.Header().Get("X-Error-Code") != CodeUnauthorized {
				t.Errorf("code = %q, want UNAUTHORIZED", rec.Header().Get("X-Error-Code"))
			}
		})
	}
}

func TestIdentify_RoleComesFromUserRow(t *testing.T) {
	f := newFixture(t, true)
	f.users.users["usr-admin"].Role = auth.RoleViewer

	rec, _ := serve(t, "tok-usr-admin", f.gate.Identify, f.gate.RequireAdmin())
	if rec.Code != http.StatusForbidden {
		t.Errorf("demoted admin: status = %d, want 403", rec.Code)
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Bearer abc", "abc"},
		{"bearer abc", "abc"},
		{"Basic abc", ""},
		{"Bearer", ""},
		{"", ""},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		if got := bearerToken(req); got != tt.want {
			t.Errorf("bearerToken(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}

func TestRequireRole_FlatRoles(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		allowed []auth.Role
		want    int
	}{
		{"admin on admin route", "tok-usr-admin", auth.AdminRoles, http.StatusOK},
		{"editor on admin route", "tok-usr-editor", auth.AdminRoles, http.StatusForbidden},
		{"editor on editor route", "tok-usr-editor", auth.EditorRoles, http.StatusOK},
		{"viewer on editor route", "tok-usr-viewer", auth.EditorRoles, http.StatusForbidden},
		{"viewer on any role route", "tok-usr-viewer", auth.AnyRole, http.StatusOK},
		// No hierarchy: admin is not implicitly an editor.
		{"admin on editor-only route", "tok-usr-admin", []auth.Role{auth.RoleEditor}, http.StatusForbidden},
		{"anonymous", "", auth.AnyRole, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, true)
			rec, _ := serve(t, tt.token, f.gate.Identify, f.gate.RequireRole(tt.allowed...))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestCheckMaintenanceMode(t *testing.T) {
	tests := []struct {
		name  string
		token string
		on    bool
		err   error
		want  int
	}{
		{"off, editor", "tok-usr-editor", false, nil, http.StatusOK},
		{"on, editor", "tok-usr-editor", true, nil, http.StatusServiceUnavailable},
		{"on, anonymous", "", true, nil, http.StatusServiceUnavailable},
		{"on, admin bypasses", "tok-usr-admin", true, nil, http.StatusOK},
		{"source failure", "tok-usr-editor", false, errors.New("db down"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, true)
			f.maint.on, f.maint.err = tt.on, tt.err
			rec, _ := serve(t, tt.token, f.gate.Identify, f.gate.CheckMaintenanceMode)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusServiceUnavailable && rec.Header().Get("X-Error-Code") != CodeMaintenanceMode {
				t.Errorf("code = %q", rec.Header().Get("X-Error-Code"))
			}
		})
	}
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, true)
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	limiter := ratelimit.NewMemoryLimiter(ratelimit.Config{Limit: 3, Window: time.Minute}, func() time.Time { return now })
	stages := []Stage{f.gate.Identify, f.gate.RequireAuth, f.gate.RateLimit(limiter)}

	for i := 0; i < 3; i++ {
		if rec, _ := serve(t, "tok-usr-editor", stages...); rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i+1, rec.Code)
		}
	}

	rec, _ := serve(t, "tok-usr-editor", stages...)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("4th request: status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "60" {
		t.Errorf("Retry-After = %q, want 60", rec.Header().Get("Retry-After"))
	}
	if rec.Header().Get("X-RateLimit-Limit") != "3" {
		t.Errorf("X-RateLimit-Limit = %q", rec.Header().Get("X-RateLimit-Limit"))
	}

	// Separate budget per user.
	if rec, _ := serve(t, "tok-usr-other", stages...); rec.Code != http.StatusOK {
		t.Errorf("other user: status = %d, want 200", rec.Code)
	}
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (ratelimit.Decision, error) {
	return ratelimit.Decision{}, errors.New("redis unavailable")
}

func TestRateLimit_FailsOpen(t *testing.T) {
	f := newFixture(t, true)
	rec, _ := serve(t, "tok-usr-editor", f.gate.Identify, f.gate.RateLimit(failingLimiter{}))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestSingleUserMode(t *testing.T) {
	f := newFixture(t, false)
	f.maint.on = true
	limiter := ratelimit.NewMemoryLimiter(ratelimit.Config{Limit: 1, Window: time.Minute}, nil)

	for i := 0; i < 3; i++ {
		rec, state := serve(t, "",
			f.gate.Identify,
			f.gate.RequireAuth,
			f.gate.RequireAdmin(),
			f.gate.CheckMaintenanceMode,
			f.gate.RateLimit(limiter),
		)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i+1, rec.Code)
		}
		if UserID(state.Identity) != auth.LocalAdminID {
			t.Errorf("identity = %q, want local admin", UserID(state.Identity))
		}
	}
}

func TestPipeline_ContinuesFromPriorState(t *testing.T) {
	f := newFixture(t, true)
	var got *auth.Identity
	inner := Pipeline(testReject, f.gate.RequireAdmin())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = IdentityFrom(r.Context())
	}))
	outer := Pipeline(testReject, f.gate.Identify)(inner)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer tok-usr-admin")
	rec := httptest.NewRecorder()
	outer.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || UserID(got) != "usr-admin" {
		t.Errorf("status = %d, identity = %q", rec.Code, UserID(got))
	}
}

func TestUserID(t *testing.T) {
	if UserID(nil) != "" {
		t.Error("UserID(nil) should be empty")
	}
	if UserID(&auth.Identity{UserID: "usr-1"}) != "usr-1" {
		t.Error("UserID() mismatch")
	}
}

func TestNewGate_NilLogger(t *testing.T) {
	g := NewGate(Options{}, fakeTokens{}, &fakeUsers{}, nil, nil)
	if g.logger != slog.Default() {
		t.Error("nil logger should fall back to slog.Default")
	}
}
