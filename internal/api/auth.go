package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/deckvault/deckvault-core/internal/access"
	"github.com/deckvault/deckvault-core/internal/auth"
	"github.com/deckvault/deckvault-core/internal/events"
	"github.com/deckvault/deckvault-core/internal/session"
)

// tokenTypeBearer is the token_type returned with every token pair.
const tokenTypeBearer = "Bearer"

type loginRequest struct {
	Identifier string `json:"identifier" validate:"required"`
	Password   string `json:"password" validate:"required"`
}

type registerRequest struct {
	Username string `json:"username" validate:"required,max=64"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8"`
}

// tokenResponse is returned by login, register and refresh.
type tokenResponse struct {
	AccessToken  string         `json:"access_token"`
	RefreshToken string         `json:"refresh_token"`
	TokenType    string         `json:"token_type"`
	ExpiresIn    int            `json:"expires_in"`
	SessionID    string         `json:"session_id"`
	User         *auth.Identity `json:"user"`
}

// handleLogin authenticates by username or email and opens a session.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	user, err := auth.Authenticate(r.Context(), s.users, req.Identifier, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			s.publish(r, events.Event{
				Type:    events.LoginFailed,
				Details: map[string]any{"identifier": req.Identifier},
			})
			writeError(w, http.StatusUnauthorized, ErrCodeInvalidCredentials, "invalid credentials")
			return
		}
		s.logger.Error("login failed", "error", err)
		writeInternalError(w, "internal server error")
		return
	}

	if s.blockedByMaintenance(r.Context(), w, user.Role) {
		return
	}

	s.startSession(w, r, user, http.StatusOK, events.LoginSucceeded, nil)
}

// handleRegister creates an account and opens a session for it. The first
// account is always allowed and becomes an admin.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	if !auth.IsValidUsername(req.Username) {
		writeValidationError(w, "username may only contain letters, digits, dots, hyphens and underscores")
		return
	}

	ctx := r.Context()
	count, err := s.users.Count(ctx)
	if err != nil {
		s.logger.Error("counting users failed", "error", err)
		writeInternalError(w, "internal server error")
		return
	}

	role := auth.Role(s.authCfg.DefaultRole)
	if count == 0 {
		role = auth.RoleAdmin
	} else {
		if !s.authCfg.AllowRegistration {
			writeError(w, http.StatusForbidden, ErrCodeRegistrationDisabled, "registration is disabled")
			return
		}
		if s.blockedByMaintenance(ctx, w, role) {
			return
		}
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.logger.Error("hashing password failed", "error", err)
		writeInternalError(w, "internal server error")
		return
	}

	user := &auth.User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
		Role:         role,
		IsActive:     true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, auth.ErrUsernameExists) {
			writeError(w, http.StatusConflict, ErrCodeConflict, "username or email already exists")
			return
		}
		s.logger.Error("creating user failed", "error", err)
		writeInternalError(w, "internal server error")
		return
	}

	s.logger.Info("user registered", "user_id", user.ID, "role", user.Role)
	s.publish(r, events.Event{
		Type:    events.UserRegistered,
		UserID:  user.ID,
		ActorID: user.ID,
		Details: map[string]any{"role": string(user.Role)},
	})

	s.startSession(w, r, user, http.StatusCreated, events.LoginSucceeded, nil)
}

// handleRefresh rotates a refresh token: the presented session is
// invalidated and a new session with a new token pair replaces it.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	ctx := r.Context()
	rejected := func(userID, reason string) {
		s.publish(r, events.Event{
			Type:    events.RefreshRejected,
			UserID:  userID,
			Details: map[string]any{"reason": reason},
		})
		writeSessionInvalid(w)
	}

	payload, err := s.tokens.VerifyRefresh(req.RefreshToken)
	if err != nil {
		rejected("", "token_invalid")
		return
	}

	sess, err := s.sessions.FindValid(ctx, req.RefreshToken)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			rejected(payload.UserID, "session_invalid")
			return
		}
		s.logger.Error("session lookup failed", "error", err)
		writeInternalError(w, "internal server error")
		return
	}
	if sess.UserID != payload.UserID || sess.TokenID != payload.TokenID {
		rejected(payload.UserID, "token_mismatch")
		return
	}

	user, err := s.users.GetByID(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			rejected(sess.UserID, "user_missing")
			return
		}
		s.logger.Error("user lookup failed", "user_id", sess.UserID, "error", err)
		writeInternalError(w, "internal server error")
		return
	}
	if !user.IsActive {
		rejected(user.ID, "user_inactive")
		return
	}

	if s.blockedByMaintenance(ctx, w, user.Role) {
		return
	}

	if err := s.sessions.InvalidateByID(ctx, sess.ID, session.ReasonRotated); err != nil {
		s.logger.Error("invalidating rotated session failed", "session_id", sess.ID, "error", err)
		writeInternalError(w, "internal server error")
		return
	}

	s.startSession(w, r, user, http.StatusOK, events.TokenRefreshed, map[string]any{
		"previous_session_id": sess.ID,
	})
}

// handleLogout invalidates the session of a refresh token. Unknown or
// already invalid tokens still succeed.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	if err := s.sessions.Invalidate(r.Context(), req.RefreshToken, session.ReasonLogout); err != nil {
		s.logger.Error("logout failed", "error", err)
		writeInternalError(w, "internal server error")
		return
	}

	if payload, err := s.tokens.VerifyRefresh(req.RefreshToken); err == nil {
		s.publish(r, events.Event{
			Type:      events.Logout,
			UserID:    payload.UserID,
			ActorID:   payload.UserID,
			SessionID: payload.SessionID,
		})
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleMe returns the caller's identity.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, access.IdentityFrom(r.Context()))
}

// handleChangePassword replaces the caller's password and signs out every
// session, including the current one.
func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	if !s.gate.MultiUser() {
		writeBadRequest(w, "password change requires multi-user mode")
		return
	}

	var req changePasswordRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	ctx := r.Context()
	id := access.IdentityFrom(ctx)

	user, err := s.users.GetByID(ctx, id.UserID)
	if err != nil {
		s.logger.Error("user lookup failed", "user_id", id.UserID, "error", err)
		writeInternalError(w, "internal server error")
		return
	}

	ok, err := auth.VerifyPassword(req.CurrentPassword, user.PasswordHash)
	if err != nil {
		s.logger.Error("verifying password failed", "user_id", user.ID, "error", err)
		writeInternalError(w, "internal server error")
		return
	}
	if !ok {
		writeError(w, http.StatusUnauthorized, ErrCodeInvalidCredentials, "current password is incorrect")
		return
	}

	hash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		s.logger.Error("hashing password failed", "error", err)
		writeInternalError(w, "internal server error")
		return
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		s.logger.Error("updating password failed", "user_id", user.ID, "error", err)
		writeInternalError(w, "internal server error")
		return
	}

	revoked, err := s.sessions.InvalidateAllForUser(ctx, user.ID, session.ReasonPasswordChange)
	if err != nil {
		s.logger.Error("revoking sessions after password change failed", "user_id", user.ID, "error", err)
		writeInternalError(w, "internal server error")
		return
	}

	s.publish(r, events.Event{
		Type:    events.PasswordChanged,
		UserID:  user.ID,
		ActorID: user.ID,
		Details: map[string]any{"sessions_revoked": revoked},
	})

	writeJSON(w, http.StatusOK, map[string]any{"sessions_revoked": revoked})
}

// startSession issues a token pair, persists the session behind it and
// trims the user's oldest sessions down to the cap.
func (s *Server) startSession(w http.ResponseWriter, r *http.Request, user *auth.User, status int, eventType events.Type, details map[string]any) {
	ctx := r.Context()

	// The id is fixed before signing so both tokens carry it as sid.
	id := auth.IdentityFor(user, session.NewID())

	accessToken, err := s.tokens.IssueAccess(id)
	if err != nil {
		s.logger.Error("issuing access token failed", "user_id", user.ID, "error", err)
		writeInternalError(w, "internal server error")
		return
	}
	refreshToken, expiresAt, tokenID, err := s.tokens.IssueRefresh(id)
	if err != nil {
		s.logger.Error("issuing refresh token failed", "user_id", user.ID, "error", err)
		writeInternalError(w, "internal server error")
		return
	}

	sess, err := s.sessions.Create(ctx, session.CreateParams{
		ID:           id.SessionID,
		UserID:       user.ID,
		RefreshToken: refreshToken,
		TokenID:      tokenID,
		Metadata: session.Metadata{
			UserAgent: r.UserAgent(),
			IPAddress: clientIP(r),
		},
		ExpiresAt: expiresAt,
	})
	if err != nil {
		s.logger.Error("creating session failed", "user_id", user.ID, "error", err)
		writeInternalError(w, "internal server error")
		return
	}

	// Cap enforcement is hygiene; a failure here does not fail the login.
	evicted, err := session.EnforceCap(ctx, s.sessions, user.ID, s.authCfg.MaxSessionsPerUser)
	if err != nil {
		s.logger.Warn("enforcing session cap failed", "user_id", user.ID, "error", err)
	} else if evicted > 0 {
		s.publish(r, events.Event{
			Type:    events.SessionsEvicted,
			UserID:  user.ID,
			Details: map[string]any{"count": evicted},
		})
	}

	s.publish(r, events.Event{
		Type:      eventType,
		UserID:    user.ID,
		ActorID:   user.ID,
		SessionID: sess.ID,
		Details:   details,
	})

	writeJSON(w, status, tokenResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    tokenTypeBearer,
		ExpiresIn:    int(s.tokens.AccessTTL().Seconds()),
		SessionID:    sess.ID,
		User:         &id,
	})
}

// blockedByMaintenance writes a 503 and returns true when maintenance mode
// is on and role is not admin. The credential endpoints sit outside the
// maintenance stage, so they call this after authenticating.
func (s *Server) blockedByMaintenance(ctx context.Context, w http.ResponseWriter, role auth.Role) bool {
	if !s.gate.MultiUser() || role == auth.RoleAdmin {
		return false
	}
	on, err := s.settings.MaintenanceMode(ctx)
	if err != nil {
		s.logger.Error("reading maintenance mode failed", "error", err)
		writeInternalError(w, "internal server error")
		return true
	}
	if on {
		writeMaintenance(w)
		return true
	}
	return false
}
