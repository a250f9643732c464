package session

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/deckvault/deckvault-core/internal/auth"
)

// fakeClock is a manually advanced clock shared by a store under test.
type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)}
}

// harness is what each backend provides to the shared store tests.
type harness struct {
	store Store
	clock *fakeClock
	// addUser makes userID satisfy any referential constraint.
	addUser func(t *testing.T, userID string)
}

type harnessFactory func(t *testing.T) harness

// create makes a session for userID with a unique refresh token and
// advances the clock so creation order is unambiguous.
func create(t *testing.T, h harness, userID string, n int) (*Session, string) {
	t.Helper()
	token := fmt.Sprintf("refresh-%s-%d", userID, n)
	sess, err := h.store.Create(context.Background(), CreateParams{
		UserID:       userID,
		RefreshToken: token,
		TokenID:      fmt.Sprintf("tid-%d", n),
		Metadata:     Metadata{UserAgent: "test-agent", IPAddress: "192.0.2.1"},
		ExpiresAt:    h.clock.Now().Add(7 * 24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	h.clock.Advance(time.Second)
	return sess, token
}

func runStoreContract(t *testing.T, newHarness harnessFactory) {
	t.Run("create and find valid", func(t *testing.T) {
		h := newHarness(t)
		h.addUser(t, "usr-a")
		ctx := context.Background()

		sess, token := create(t, h, "usr-a", 1)
		if sess.RefreshTokenHash == token || sess.RefreshTokenHash != HashToken(token) {
			t.Error("refresh token must be stored hashed")
		}

		got, err := h.store.FindValid(ctx, token)
		if err != nil {
			t.Fatalf("FindValid() error = %v", err)
		}
		if got.ID != sess.ID || got.UserID != "usr-a" || !got.IsValid || got.UserAgent != "test-agent" || got.IPAddress != "192.0.2.1" {
			t.Errorf("FindValid() = %+v", got)
		}
		if !got.ExpiresAt.After(got.CreatedAt) {
			t.Error("expiresAt must be after createdAt")
		}

		if _, err := h.store.FindValid(ctx, "unknown"); !errors.Is(err, ErrSessionNotFound) {
			t.Errorf("FindValid(unknown) error = %v, want ErrSessionNotFound", err)
		}
	})

	t.Run("create keeps caller id", func(t *testing.T) {
		h := newHarness(t)
		h.addUser(t, "usr-a")
		sess, err := h.store.Create(context.Background(), CreateParams{
			ID: "ses-fixed", UserID: "usr-a", RefreshToken: "r", ExpiresAt: h.clock.Now().Add(time.Hour),
		})
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if sess.ID != "ses-fixed" {
			t.Errorf("ID = %q, want ses-fixed", sess.ID)
		}
	})

	t.Run("create rejects non-future expiry", func(t *testing.T) {
		h := newHarness(t)
		h.addUser(t, "usr-a")
		for _, exp := range []time.Time{h.clock.Now(), h.clock.Now().Add(-time.Minute)} {
			_, err := h.store.Create(context.Background(), CreateParams{
				UserID: "usr-a", RefreshToken: "r", ExpiresAt: exp,
			})
			if !errors.Is(err, ErrInvalidExpiry) {
				t.Errorf("Create(expires %v) error = %v, want ErrInvalidExpiry", exp, err)
			}
		}
	})

	t.Run("find valid enforces expiry on read", func(t *testing.T) {
		h := newHarness(t)
		h.addUser(t, "usr-a")
		ctx := context.Background()

		_, token := create(t, h, "usr-a", 1)
		h.clock.Advance(8 * 24 * time.Hour)

		if _, err := h.store.FindValid(ctx, token); !errors.Is(err, ErrSessionNotFound) {
			t.Errorf("FindValid(expired) error = %v, want ErrSessionNotFound", err)
		}
		if list, _ := h.store.ListActive(ctx, "usr-a"); len(list) != 0 { //nolint:errcheck // empty on error fails the check
			t.Errorf("ListActive() returned %d expired sessions", len(list))
		}
	})

	t.Run("invalidate is idempotent", func(t *testing.T) {
		h := newHarness(t)
		h.addUser(t, "usr-a")
		ctx := context.Background()

		sess, token := create(t, h, "usr-a", 1)

		for i := 0; i < 2; i++ {
			if err := h.store.Invalidate(ctx, token, ReasonLogout); err != nil {
				t.Fatalf("Invalidate() call %d error = %v", i+1, err)
			}
		}
		if err := h.store.Invalidate(ctx, "never-issued", ReasonLogout); err != nil {
			t.Errorf("Invalidate(unknown) error = %v, want nil", err)
		}
		if _, err := h.store.FindValid(ctx, token); !errors.Is(err, ErrSessionNotFound) {
			t.Errorf("FindValid() after invalidate error = %v", err)
		}

		// Invalid rows stay readable for audit until reaped.
		got, err := h.store.GetByID(ctx, sess.ID)
		if err != nil {
			t.Fatalf("GetByID() error = %v", err)
		}
		if got.IsValid || got.InvalidReason != ReasonLogout || got.InvalidatedAt == nil {
			t.Errorf("GetByID() = %+v, want invalid with logout reason", got)
		}
	})

	t.Run("sessions are independently revocable", func(t *testing.T) {
		h := newHarness(t)
		h.addUser(t, "usr-a")
		ctx := context.Background()

		phone, phoneToken := create(t, h, "usr-a", 1)
		_, laptopToken := create(t, h, "usr-a", 2)

		if err := h.store.InvalidateByID(ctx, phone.ID, ReasonRevoked); err != nil {
			t.Fatalf("InvalidateByID() error = %v", err)
		}
		if _, err := h.store.FindValid(ctx, phoneToken); !errors.Is(err, ErrSessionNotFound) {
			t.Error("revoked session should not be valid")
		}
		if _, err := h.store.FindValid(ctx, laptopToken); err != nil {
			t.Errorf("other session should remain valid, got %v", err)
		}
	})

	t.Run("list active newest first and scoped", func(t *testing.T) {
		h := newHarness(t)
		h.addUser(t, "usr-a")
		h.addUser(t, "usr-b")
		ctx := context.Background()

		first, _ := create(t, h, "usr-a", 1)
		second, _ := create(t, h, "usr-a", 2)
		other, _ := create(t, h, "usr-b", 1)

		list, err := h.store.ListActive(ctx, "usr-a")
		if err != nil {
			t.Fatalf("ListActive() error = %v", err)
		}
		if len(list) != 2 || list[0].ID != second.ID || list[1].ID != first.ID {
			t.Fatalf("ListActive() order = %v, want [%s %s]", ids(list), second.ID, first.ID)
		}

		all, err := h.store.List(ctx, auth.Query{})
		if err != nil {
			t.Fatalf("List(all) error = %v", err)
		}
		if len(all) != 3 || all[0].ID != other.ID {
			t.Errorf("List(all) = %v", ids(all))
		}

		scoped, err := h.store.List(ctx, auth.Query{auth.OwnerKey: "usr-b"})
		if err != nil {
			t.Fatalf("List(scoped) error = %v", err)
		}
		if len(scoped) != 1 || scoped[0].ID != other.ID {
			t.Errorf("List(scoped) = %v", ids(scoped))
		}

		if _, err := h.store.List(ctx, auth.Query{"deck_id": "x"}); !errors.Is(err, ErrUnsupportedFilter) {
			t.Errorf("List(unknown key) error = %v, want ErrUnsupportedFilter", err)
		}
	})

	t.Run("bulk invalidation", func(t *testing.T) {
		h := newHarness(t)
		h.addUser(t, "usr-a")
		h.addUser(t, "usr-b")
		ctx := context.Background()

		keep, _ := create(t, h, "usr-a", 1)
		create(t, h, "usr-a", 2)
		create(t, h, "usr-a", 3)
		_, otherToken := create(t, h, "usr-b", 1)

		n, err := h.store.InvalidateAllForUserExcept(ctx, "usr-a", keep.ID, ReasonRevoked)
		if err != nil {
			t.Fatalf("InvalidateAllForUserExcept() error = %v", err)
		}
		if n != 2 {
			t.Errorf("InvalidateAllForUserExcept() = %d, want 2", n)
		}
		list, _ := h.store.ListActive(ctx, "usr-a") //nolint:errcheck // empty on error fails the check
		if len(list) != 1 || list[0].ID != keep.ID {
			t.Errorf("remaining = %v, want only %s", ids(list), keep.ID)
		}

		n, err = h.store.InvalidateAllForUser(ctx, "usr-a", ReasonPasswordChange)
		if err != nil {
			t.Fatalf("InvalidateAllForUser() error = %v", err)
		}
		if n != 1 {
			t.Errorf("InvalidateAllForUser() = %d, want 1", n)
		}
		if _, err := h.store.FindValid(ctx, otherToken); err != nil {
			t.Errorf("other user's session must be untouched, got %v", err)
		}
	})

	t.Run("cap evicts oldest", func(t *testing.T) {
		h := newHarness(t)
		h.addUser(t, "usr-a")
		ctx := context.Background()

		var created []*Session
		for i := 0; i < 12; i++ {
			s, _ := create(t, h, "usr-a", i)
			created = append(created, s)
		}

		evicted, err := EnforceCap(ctx, h.store, "usr-a", 10)
		if err != nil {
			t.Fatalf("EnforceCap() error = %v", err)
		}
		if evicted != 2 {
			t.Errorf("EnforceCap() evicted %d, want 2", evicted)
		}

		active, _ := h.store.ListActive(ctx, "usr-a") //nolint:errcheck // empty on error fails the check
		if len(active) != 10 {
			t.Fatalf("active = %d, want 10", len(active))
		}
		for _, s := range created[:2] {
			got, err := h.store.GetByID(ctx, s.ID)
			if err != nil {
				t.Fatalf("GetByID() error = %v", err)
			}
			if got.IsValid || got.InvalidReason != ReasonCapEvicted {
				t.Errorf("session %s should be cap evicted, got %+v", s.ID, got)
			}
		}

		if evicted, _ := EnforceCap(ctx, h.store, "usr-a", 10); evicted != 0 { //nolint:errcheck // count checked
			t.Errorf("second EnforceCap() evicted %d, want 0", evicted)
		}
	})

	t.Run("delete stale", func(t *testing.T) {
		h := newHarness(t)
		h.addUser(t, "usr-a")
		ctx := context.Background()

		revoked, revokedToken := create(t, h, "usr-a", 1)
		live, _ := create(t, h, "usr-a", 2)
		if err := h.store.Invalidate(ctx, revokedToken, ReasonLogout); err != nil {
			t.Fatalf("Invalidate() error = %v", err)
		}

		n, err := h.store.DeleteStale(ctx)
		if err != nil {
			t.Fatalf("DeleteStale() error = %v", err)
		}
		if n != 1 {
			t.Errorf("DeleteStale() = %d, want 1", n)
		}
		if _, err := h.store.GetByID(ctx, revoked.ID); !errors.Is(err, ErrSessionNotFound) {
			t.Error("invalid session should be deleted")
		}
		if _, err := h.store.GetByID(ctx, live.ID); err != nil {
			t.Errorf("valid session should survive, got %v", err)
		}

		h.clock.Advance(8 * 24 * time.Hour)
		if n, _ := h.store.DeleteStale(ctx); n != 1 { //nolint:errcheck // count checked
			t.Errorf("DeleteStale() after expiry = %d, want 1", n)
		}
	})
}

func ids(list []Session) []string {
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = s.ID
	}
	return out
}
