package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dawidpodolak/panelsense-gateway/internal/audit"
	"github.com/dawidpodolak/panelsense-gateway/internal/auth"
)

// sessionResponse describes one live panel session.
type sessionResponse struct {
	SessionID      string    `json:"session_id"`
	InstallationID string    `json:"installation_id"`
	Name           string    `json:"name"`
	RemoteAddr     string    `json:"remote_addr"`
	ConnectedAt    time.Time `json:"connected_at"`
}

// handleListSessions lists the panels currently connected.
func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	sessions := s.registry.Snapshot()
	out := make([]sessionResponse, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sessionResponse{
			SessionID:      sess.ID,
			InstallationID: sess.InstallationID,
			Name:           sess.Name,
			RemoteAddr:     sess.RemoteAddr(),
			ConnectedAt:    sess.ConnectedAt,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": out,
		"count":    len(out),
	})
}

// handleEvictSession closes the live session of a panel. The client record
// is left alone; disabling or removing it is what keeps the panel out.
func (s *Server) handleEvictSession(w http.ResponseWriter, r *http.Request) {
	installationID := chi.URLParam(r, "installationID")
	if !auth.IsValidInstallationID(installationID) {
		writeBadRequest(w, "invalid installation id")
		return
	}

	if !s.registry.Evict(installationID) {
		writeNotFound(w, "panel not connected")
		return
	}

	s.logger.Info("panel session evicted",
		"installation_id", installationID,
		"admin", adminSubject(r.Context()),
	)
	s.auditLog(r.Context(), audit.ActionSessionEvict, installationID, nil)

	writeJSON(w, http.StatusOK, map[string]any{
		"installation_id": installationID,
		"evicted":         true,
	})
}

type updateConfigurationRequest struct {
	Configuration *string `json:"configuration"`
}

// handleUpdateConfiguration stores a panel's configuration and pushes it
// to the panel when it is connected.
func (s *Server) handleUpdateConfiguration(w http.ResponseWriter, r *http.Request) {
	installationID := chi.URLParam(r, "installationID")
	if !auth.IsValidInstallationID(installationID) {
		writeBadRequest(w, "invalid installation id")
		return
	}

	var req updateConfigurationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Configuration == nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "configuration is required")
		return
	}

	delivered, err := s.configurator.Update(r.Context(), installationID, *req.Configuration)
	if err != nil {
		if errors.Is(err, auth.ErrClientNotFound) {
			writeNotFound(w, "client not found")
			return
		}
		s.logger.Error("updating panel configuration failed",
			"installation_id", installationID,
			"error", err,
		)
		writeInternalError(w, "failed to update configuration")
		return
	}

	s.logger.Info("panel configuration updated",
		"installation_id", installationID,
		"delivered", delivered,
		"admin", adminSubject(r.Context()),
	)
	s.auditLog(r.Context(), audit.ActionConfigUpdate, installationID, map[string]any{
		"delivered": delivered,
		"cleared":   *req.Configuration == "",
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"installation_id": installationID,
		"delivered":       delivered,
	})
}
