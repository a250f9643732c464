package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/deckvault/deckvault-core/internal/access"
	"github.com/deckvault/deckvault-core/internal/auth"
	"github.com/deckvault/deckvault-core/internal/events"
	"github.com/deckvault/deckvault-core/internal/session"
)

// updateUserRequest is the body for PATCH /users/{id}. Omitted fields are
// left unchanged.
type updateUserRequest struct {
	Role     *auth.Role `json:"role" validate:"omitempty,oneof=admin editor viewer"`
	IsActive *bool      `json:"is_active"`
}

// handleListUsers returns all accounts.
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.users.List(r.Context())
	if err != nil {
		s.logger.Error("listing users failed", "error", err)
		writeInternalError(w, "failed to list users")
		return
	}
	if users == nil {
		users = []auth.User{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"users": users,
		"count": len(users),
	})
}

// handleUpdateUser changes a user's role or active flag. A change that
// would leave no active admin is refused before anything is written.
// Deactivation signs the user out everywhere.
func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var req updateUserRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	if req.Role == nil && req.IsActive == nil {
		writeBadRequest(w, "nothing to update")
		return
	}

	ctx := r.Context()
	target, ok := s.lookupUser(w, r)
	if !ok {
		return
	}

	change := auth.UserChange{Role: req.Role, IsActive: req.IsActive}
	if err := auth.CheckAdminRemains(ctx, s.users, target, change, false); err != nil {
		s.writeAdminGuardError(w, err)
		return
	}

	wasActive := target.IsActive
	details := map[string]any{}
	if req.Role != nil && *req.Role != target.Role {
		details["role"] = map[string]any{"old": string(target.Role), "new": string(*req.Role)}
		target.Role = *req.Role
	}
	if req.IsActive != nil && *req.IsActive != target.IsActive {
		details["is_active"] = map[string]any{"old": target.IsActive, "new": *req.IsActive}
		target.IsActive = *req.IsActive
	}

	// The repository re-checks the last-admin rule in the same statement.
	if err := s.users.Update(ctx, target); err != nil {
		switch {
		case errors.Is(err, auth.ErrUserNotFound):
			writeNotFound(w, "user not found")
		case errors.Is(err, auth.ErrLastAdmin):
			s.writeAdminGuardError(w, err)
		default:
			s.logger.Error("updating user failed", "user_id", target.ID, "error", err)
			writeInternalError(w, "failed to update user")
		}
		return
	}

	if wasActive && !target.IsActive {
		revoked, err := s.sessions.InvalidateAllForUser(ctx, target.ID, session.ReasonDeactivated)
		if err != nil {
			s.logger.Error("revoking sessions of deactivated user failed", "user_id", target.ID, "error", err)
			writeInternalError(w, "failed to revoke sessions")
			return
		}
		details["sessions_revoked"] = revoked
	}

	s.publish(r, events.Event{
		Type:    events.UserUpdated,
		UserID:  target.ID,
		Details: details,
	})

	writeJSON(w, http.StatusOK, target)
}

// handleDeleteUser removes an account and its sessions.
func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	target, ok := s.lookupUser(w, r)
	if !ok {
		return
	}

	if err := auth.CheckAdminRemains(ctx, s.users, target, auth.UserChange{}, true); err != nil {
		s.writeAdminGuardError(w, err)
		return
	}

	if err := s.users.Delete(ctx, target.ID); err != nil {
		switch {
		case errors.Is(err, auth.ErrUserNotFound):
			writeNotFound(w, "user not found")
		case errors.Is(err, auth.ErrLastAdmin):
			s.writeAdminGuardError(w, err)
		default:
			s.logger.Error("deleting user failed", "user_id", target.ID, "error", err)
			writeInternalError(w, "failed to delete user")
		}
		return
	}

	// Not every store cascades on user deletion. Sessions left behind are
	// unusable because Identify and refresh both require the user row.
	if _, err := s.sessions.InvalidateAllForUser(ctx, target.ID, session.ReasonUserDeleted); err != nil {
		s.logger.Warn("revoking sessions of deleted user failed", "user_id", target.ID, "error", err)
	}

	s.logger.Info("user deleted", "user_id", target.ID,
		"by", access.UserID(access.IdentityFrom(ctx)))
	s.publish(r, events.Event{
		Type:    events.UserDeleted,
		UserID:  target.ID,
		Details: map[string]any{"username": target.Username},
	})

	w.WriteHeader(http.StatusNoContent)
}

// lookupUser loads the {id} user, writing a 404 or 500 on failure.
func (s *Server) lookupUser(w http.ResponseWriter, r *http.Request) (*auth.User, bool) {
	id := chi.URLParam(r, "id")
	user, err := s.users.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			writeNotFound(w, "user not found")
			return nil, false
		}
		s.logger.Error("user lookup failed", "user_id", id, "error", err)
		writeInternalError(w, "internal server error")
		return nil, false
	}
	return user, true
}

func (s *Server) writeAdminGuardError(w http.ResponseWriter, err error) {
	if errors.Is(err, auth.ErrLastAdmin) {
		writeError(w, http.StatusBadRequest, ErrCodeLastAdmin, "at least one active admin must remain")
		return
	}
	s.logger.Error("admin guard failed", "error", err)
	writeInternalError(w, "internal server error")
}
