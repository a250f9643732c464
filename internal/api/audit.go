package api

import (
	"net/http"

	"github.com/deckvault/deckvault-core/internal/access"
	"github.com/deckvault/deckvault-core/internal/audit"
	"github.com/deckvault/deckvault-core/internal/events"
)

// publish hands a security event to the bus. The caller's address is
// filled in, and ActorID defaults to the authenticated user.
func (s *Server) publish(r *http.Request, e events.Event) {
	if s.events == nil {
		return
	}
	if e.IPAddress == "" {
		e.IPAddress = clientIP(r)
	}
	if e.ActorID == "" {
		e.ActorID = access.UserID(access.IdentityFrom(r.Context()))
	}
	s.events.Publish(e)
}

// handleListAudit returns recorded security events, newest first.
//
// Query parameters: action, user_id (matches subject or actor), limit, offset.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := audit.Filter{
		Action: q.Get("action"),
		UserID: q.Get("user_id"),
		Limit:  queryInt(r, "limit", 0),
		Offset: queryInt(r, "offset", 0),
	}

	result, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing audit logs failed", "error", err)
		writeInternalError(w, "failed to list audit logs")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
