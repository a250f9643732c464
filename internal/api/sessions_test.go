package api

import (
	"net/http"
	"testing"

	"github.com/deckvault/deckvault-core/internal/auth"
)

type sessionList struct {
	Sessions []struct {
		ID      string `json:"id"`
		UserID  string `json:"user_id"`
		Current bool   `json:"current"`
	} `json:"sessions"`
	Count int `json:"count"`
}

func TestListSessions(t *testing.T) {
	f := newFixture(t)
	f.createUser("admin", auth.RoleAdmin)
	alice := f.createUser("alice", auth.RoleEditor)
	f.createUser("bob", auth.RoleViewer)

	a1 := f.login("alice")
	a2 := f.login("alice")
	bob := f.login("bob")
	admin := f.login("admin")

	t.Run("own sessions with current flag", func(t *testing.T) {
		rec := f.do(http.MethodGet, "/auth/sessions", a2.AccessToken, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		list := decodeBody[sessionList](t, rec)
		if list.Count != 2 {
			t.Fatalf("count = %d, want 2", list.Count)
		}
		// Newest first.
		if list.Sessions[0].ID != a2.SessionID || !list.Sessions[0].Current {
			t.Errorf("first = %+v, want current session %s", list.Sessions[0], a2.SessionID)
		}
		if list.Sessions[1].ID != a1.SessionID || list.Sessions[1].Current {
			t.Errorf("second = %+v, want non-current %s", list.Sessions[1], a1.SessionID)
		}
		for _, s := range list.Sessions {
			if s.UserID != alice.ID {
				t.Errorf("leaked session of %s", s.UserID)
			}
		}
	})

	t.Run("view all is ignored for non-admins", func(t *testing.T) {
		rec := f.do(http.MethodGet, "/auth/sessions?all=true", bob.AccessToken, nil)
		if list := decodeBody[sessionList](t, rec); list.Count != 1 {
			t.Errorf("count = %d, want 1", list.Count)
		}
	})

	t.Run("admin view all", func(t *testing.T) {
		rec := f.do(http.MethodGet, "/auth/sessions?all=true", admin.AccessToken, nil)
		if list := decodeBody[sessionList](t, rec); list.Count != 4 {
			t.Errorf("count = %d, want 4", list.Count)
		}
		rec = f.do(http.MethodGet, "/auth/sessions", admin.AccessToken, nil)
		if list := decodeBody[sessionList](t, rec); list.Count != 1 {
			t.Errorf("count without all = %d, want 1", list.Count)
		}
	})
}

func TestRevokeSession_Ownership(t *testing.T) {
	f := newFixture(t)
	f.createUser("admin", auth.RoleAdmin)
	f.createUser("alice", auth.RoleEditor)
	f.createUser("bob", auth.RoleEditor)

	admin := f.login("admin")
	bob := f.login("bob")

	tests := []struct {
		name   string
		token  func() string
		target func() string
		status int
		code   string
	}{
		{
			name:   "other user forbidden",
			token:  func() string { return bob.AccessToken },
			target: func() string { return f.login("alice").SessionID },
			status: http.StatusForbidden,
			code:   ErrCodeForbidden,
		},
		{
			name:   "owner allowed",
			token:  func() string { return bob.AccessToken },
			target: func() string { return f.login("bob").SessionID },
			status: http.StatusNoContent,
		},
		{
			name:   "admin allowed",
			token:  func() string { return admin.AccessToken },
			target: func() string { return f.login("alice").SessionID },
			status: http.StatusNoContent,
		},
		{
			name:   "unknown session",
			token:  func() string { return bob.AccessToken },
			target: func() string { return "ses-missing" },
			status: http.StatusNotFound,
			code:   ErrCodeNotFound,
		},
		{
			name:   "anonymous",
			token:  func() string { return "" },
			target: func() string { return f.login("alice").SessionID },
			status: http.StatusUnauthorized,
			code:   ErrCodeUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := tt.target()
			rec := f.do(http.MethodDelete, "/auth/sessions/"+target, tt.token(), nil)
			if tt.code != "" {
				assertError(t, rec, tt.status, tt.code)
				sess, err := f.sessions.GetByID(t.Context(), target)
				if err == nil && !sess.IsValid {
					t.Error("rejected request still invalidated the session")
				}
				return
			}
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.status, rec.Body.String())
			}
			sess, err := f.sessions.GetByID(t.Context(), target)
			if err != nil {
				t.Fatalf("GetByID() error = %v", err)
			}
			if sess.IsValid || sess.InvalidReason != "revoked" {
				t.Errorf("session valid=%v reason=%q, want revoked", sess.IsValid, sess.InvalidReason)
			}
		})
	}
}

func TestRevokeOtherSessions(t *testing.T) {
	f := newFixture(t)
	f.createUser("alice", auth.RoleEditor)
	old1 := f.login("alice")
	old2 := f.login("alice")
	current := f.login("alice")

	rec := f.do(http.MethodDelete, "/auth/sessions", current.AccessToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if n := decodeBody[map[string]int](t, rec)["revoked"]; n != 2 {
		t.Errorf("revoked = %d, want 2", n)
	}

	for _, rt := range []string{old1.RefreshToken, old2.RefreshToken} {
		rec = f.do(http.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": rt})
		assertError(t, rec, http.StatusUnauthorized, ErrCodeSessionInvalid)
	}
	rec = f.do(http.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": current.RefreshToken})
	if rec.Code != http.StatusOK {
		t.Errorf("current session refresh status = %d, want 200", rec.Code)
	}
}
