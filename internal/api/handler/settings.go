package handler

import (
	"net/http"

	"github.com/bcnelson/wireguard-acl-manager/internal/domain"
	"github.com/bcnelson/wireguard-acl-manager/internal/service"
	"github.com/sirupsen/logrus"
)

// SettingsHandler handles settings and identity snapshot endpoints.
type SettingsHandler struct {
	directory *service.DirectoryService
	log       logrus.FieldLogger
}

// NewSettingsHandler creates a new SettingsHandler.
func NewSettingsHandler(directory *service.DirectoryService, log logrus.FieldLogger) *SettingsHandler {
	return &SettingsHandler{directory: directory, log: log}
}

// Get returns the current settings.
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	settings, err := h.directory.Settings(r.Context())
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, settings)
}

// Update changes settings. Toggling enterprise features re-pushes every location.
func (h *SettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req domain.SettingsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, domain.ErrCodeInvalidInput, "invalid request body")
		return
	}

	settings, err := h.directory.UpdateSettings(r.Context(), &req)
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, settings)
}

// Identities returns the user, group and device snapshot.
func (h *SettingsHandler) Identities(w http.ResponseWriter, r *http.Request) {
	ids, err := h.directory.Identities(r.Context())
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, ids)
}

// ReplaceIdentities replaces the whole snapshot.
func (h *SettingsHandler) ReplaceIdentities(w http.ResponseWriter, r *http.Request) {
	var ids domain.Identities
	if err := decodeJSON(r, &ids); err != nil {
		respondError(w, http.StatusBadRequest, domain.ErrCodeInvalidInput, "invalid request body")
		return
	}

	if err := h.directory.ReplaceIdentities(r.Context(), &ids); err != nil {
		handleError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}
