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

// sessionView is a session as listed to its owner.
type sessionView struct {
	session.Session
	Current bool `json:"current"`
}

// loadSession is the ownership loader for /auth/sessions/{id}.
func (s *Server) loadSession(r *http.Request) (access.Owned, error) {
	sess, err := s.sessions.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return nil, access.ErrResourceNotFound
		}
		return nil, err
	}
	return sess, nil
}

// handleListSessions lists the caller's active sessions. Admins may pass
// all=true to see every user's.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	id := access.IdentityFrom(r.Context())
	viewAll := r.URL.Query().Get("all") == "true"

	q := s.gate.BuildUserQuery(auth.Query{}, id, viewAll)
	list, err := s.sessions.List(r.Context(), q)
	if err != nil {
		s.logger.Error("listing sessions failed", "user_id", access.UserID(id), "error", err)
		writeInternalError(w, "failed to list sessions")
		return
	}

	views := make([]sessionView, 0, len(list))
	for _, sess := range list {
		views = append(views, sessionView{
			Session: sess,
			Current: id != nil && id.SessionID != "" && sess.ID == id.SessionID,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": views,
		"count":    len(views),
	})
}

// handleRevokeSession invalidates one session. Ownership was checked by
// the route's pipeline.
func (s *Server) handleRevokeSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := access.ResourceFrom(r.Context()).(*session.Session)
	if !ok {
		writeInternalError(w, "internal server error")
		return
	}

	if err := s.sessions.InvalidateByID(r.Context(), sess.ID, session.ReasonRevoked); err != nil {
		s.logger.Error("revoking session failed", "session_id", sess.ID, "error", err)
		writeInternalError(w, "failed to revoke session")
		return
	}

	s.publish(r, events.Event{
		Type:      events.SessionRevoked,
		UserID:    sess.UserID,
		SessionID: sess.ID,
	})

	w.WriteHeader(http.StatusNoContent)
}

// handleRevokeOtherSessions signs the caller out everywhere except the
// session making the request.
func (s *Server) handleRevokeOtherSessions(w http.ResponseWriter, r *http.Request) {
	id := access.IdentityFrom(r.Context())

	revoked, err := s.sessions.InvalidateAllForUserExcept(r.Context(), id.UserID, id.SessionID, session.ReasonRevoked)
	if err != nil {
		s.logger.Error("revoking sessions failed", "user_id", id.UserID, "error", err)
		writeInternalError(w, "failed to revoke sessions")
		return
	}

	s.publish(r, events.Event{
		Type:      events.SessionsRevoked,
		UserID:    id.UserID,
		SessionID: id.SessionID,
		Details:   map[string]any{"count": revoked},
	})

	writeJSON(w, http.StatusOK, map[string]any{"revoked": revoked})
}
