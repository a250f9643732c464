package api

import (
	"net/http"

	"github.com/deckvault/deckvault-core/internal/access"
	"github.com/deckvault/deckvault-core/internal/events"
)

type maintenanceRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

// handleGetMaintenance returns the maintenance flag and who last set it.
func (s *Server) handleGetMaintenance(w http.ResponseWriter, r *http.Request) {
	m, err := s.settings.Maintenance(r.Context())
	if err != nil {
		s.logger.Error("reading maintenance mode failed", "error", err)
		writeInternalError(w, "failed to read maintenance mode")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// handleSetMaintenance turns maintenance mode on or off. Non-admin
// requests are refused with 503 while it is on.
func (s *Server) handleSetMaintenance(w http.ResponseWriter, r *http.Request) {
	var req maintenanceRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	actor := access.UserID(access.IdentityFrom(r.Context()))
	m, err := s.settings.SetMaintenanceMode(r.Context(), *req.Enabled, actor)
	if err != nil {
		s.logger.Error("setting maintenance mode failed", "error", err)
		writeInternalError(w, "failed to set maintenance mode")
		return
	}

	s.logger.Info("maintenance mode changed", "enabled", m.Enabled, "by", actor)
	s.publish(r, events.Event{
		Type:    events.MaintenanceChanged,
		Details: map[string]any{"enabled": m.Enabled},
	})

	writeJSON(w, http.StatusOK, m)
}
