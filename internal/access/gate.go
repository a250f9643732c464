package access

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/deckvault/deckvault-core/internal/auth"
	"github.com/deckvault/deckvault-core/internal/ratelimit"
)

// TokenVerifier checks an access token. auth.TokenService satisfies it.
type TokenVerifier interface {
	VerifyAccess(token string) (*auth.Identity, error)
}

// UserLookup fetches the current state of a user.
type UserLookup interface {
	GetByID(ctx context.Context, id string) (*auth.User, error)
}

// MaintenanceSource reports whether maintenance mode is on.
type MaintenanceSource interface {
	MaintenanceMode(ctx context.Context) (bool, error)
}

// Options configures a Gate.
type Options struct {
	// MultiUser enables authentication. When false every stage passes and
	// requests act as the local admin.
	MultiUser bool
}

// Gate builds the stages for protected routes.
type Gate struct {
	opts        Options
	tokens      TokenVerifier
	users       UserLookup
	maintenance MaintenanceSource
	logger      *slog.Logger
}

// NewGate creates a Gate. maintenance may be nil, which disables
// CheckMaintenanceMode.
func NewGate(opts Options, tokens TokenVerifier, users UserLookup, maintenance MaintenanceSource, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		opts:        opts,
		tokens:      tokens,
		users:       users,
		maintenance: maintenance,
		logger:      logger,
	}
}

// MultiUser reports whether authentication is enforced.
func (g *Gate) MultiUser() bool {
	return g.opts.MultiUser
}

// Identify resolves the bearer token into an identity. A missing, invalid
// or expired token, or one whose user is gone or inactive, leaves the
// identity nil; RequireAuth turns that into a 401.
func (g *Gate) Identify(r *http.Request, prior State) (State, *Rejection) {
	if !g.opts.MultiUser {
		prior.Identity = auth.LocalAdmin()
		return prior, nil
	}

	prior.Identity = nil
	token := bearerToken(r)
	if token == "" {
		return prior, nil
	}

	claimed, err := g.tokens.VerifyAccess(token)
	if err != nil {
		return prior, nil
	}

	user, err := g.users.GetByID(r.Context(), claimed.UserID)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			return prior, nil
		}
		g.logger.Error("identity lookup failed", "user_id", claimed.UserID, "error", err)
		return prior, reject(http.StatusInternalServerError, CodeInternal, "internal server error")
	}
	if !user.IsActive {
		g.logger.Debug("token for inactive user rejected", "user_id", user.ID)
		return prior, nil
	}

	// Role comes from the row, not the token, so demotions apply at once.
	id := auth.IdentityFor(user, claimed.SessionID)
	prior.Identity = &id
	return prior, nil
}

// RequireAuth rejects requests without an identity.
func (g *Gate) RequireAuth(_ *http.Request, prior State) (State, *Rejection) {
	if !g.opts.MultiUser {
		return prior, nil
	}
	if prior.Identity == nil {
		return prior, reject(http.StatusUnauthorized, CodeUnauthorized, "authentication required")
	}
	return prior, nil
}

// RequireRole rejects identities whose role is not in allowed. It implies
// RequireAuth.
func (g *Gate) RequireRole(allowed ...auth.Role) Stage {
	return func(r *http.Request, prior State) (State, *Rejection) {
		if !g.opts.MultiUser {
			return prior, nil
		}
		if prior.Identity == nil {
			return prior, reject(http.StatusUnauthorized, CodeUnauthorized, "authentication required")
		}
		if !auth.RoleAllowed(prior.Identity.Role, allowed) {
			return prior, reject(http.StatusForbidden, CodeForbidden, "insufficient permissions")
		}
		return prior, nil
	}
}

// RequireEditor allows admins and editors.
func (g *Gate) RequireEditor() Stage {
	return g.RequireRole(auth.EditorRoles...)
}

// RequireAdmin allows admins only.
func (g *Gate) RequireAdmin() Stage {
	return g.RequireRole(auth.AdminRoles...)
}

// CheckMaintenanceMode rejects everyone but admins while maintenance mode
// is on, regardless of the route's role set.
func (g *Gate) CheckMaintenanceMode(r *http.Request, prior State) (State, *Rejection) {
	if !g.opts.MultiUser || g.maintenance == nil || prior.Identity.IsAdmin() {
		return prior, nil
	}

	on, err := g.maintenance.MaintenanceMode(r.Context())
	if err != nil {
		g.logger.Error("reading maintenance mode failed", "error", err)
		return prior, reject(http.StatusInternalServerError, CodeInternal, "internal server error")
	}
	if on {
		return prior, reject(http.StatusServiceUnavailable, CodeMaintenanceMode, "service is in maintenance mode")
	}
	return prior, nil
}

// RateLimit counts the request against the identity's window. Anonymous
// requests are not counted. A failing limiter lets the request through.
func (g *Gate) RateLimit(l ratelimit.Limiter) Stage {
	return func(r *http.Request, prior State) (State, *Rejection) {
		if !g.opts.MultiUser || l == nil || prior.Identity == nil {
			return prior, nil
		}

		d, err := l.Allow(r.Context(), UserID(prior.Identity))
		if err != nil {
			g.logger.Error("rate limiter failed, allowing request",
				"user_id", prior.Identity.UserID, "error", err)
			return prior, nil
		}
		if d.Allowed {
			return prior, nil
		}

		rej := reject(http.StatusTooManyRequests, CodeRateLimited, "too many requests")
		rej.Headers = map[string]string{
			"Retry-After":           strconv.Itoa(d.RetryAfterSeconds()),
			"X-RateLimit-Limit":     strconv.Itoa(d.Limit),
			"X-RateLimit-Remaining": "0",
		}
		return prior, rej
	}
}

// UserID returns the id of the acting user, or "" for a nil identity.
func UserID(id *auth.Identity) string {
	if id == nil {
		return ""
	}
	return id.UserID
}

// bearerToken extracts the token from an "Authorization: Bearer" header.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
