package handler

import (
	"net/http"

	"github.com/bcnelson/wireguard-acl-manager/internal/domain"
	"github.com/bcnelson/wireguard-acl-manager/internal/service"
	"github.com/sirupsen/logrus"
)

// LocationHandler handles location endpoints.
type LocationHandler struct {
	locations *service.LocationService
	log       logrus.FieldLogger
}

// NewLocationHandler creates a new LocationHandler.
func NewLocationHandler(locations *service.LocationService, log logrus.FieldLogger) *LocationHandler {
	return &LocationHandler{locations: locations, log: log}
}

// Create creates a location.
func (h *LocationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.LocationRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, domain.ErrCodeInvalidInput, "invalid request body")
		return
	}

	loc, err := h.locations.Create(r.Context(), &req)
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusCreated, loc)
}

// List lists all locations.
func (h *LocationHandler) List(w http.ResponseWriter, r *http.Request) {
	locs, err := h.locations.List(r.Context())
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, locs)
}

// Get gets a location by ID.
func (h *LocationHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		handleError(w, h.log, err)
		return
	}

	loc, err := h.locations.Get(r.Context(), id)
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, loc)
}

// Update updates a location and pushes its recompiled firewall.
func (h *LocationHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		handleError(w, h.log, err)
		return
	}

	var req domain.LocationRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, domain.ErrCodeInvalidInput, "invalid request body")
		return
	}

	loc, err := h.locations.Update(r.Context(), id, &req)
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, loc)
}

// Delete deletes a location.
func (h *LocationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		handleError(w, h.log, err)
		return
	}

	if err := h.locations.Delete(r.Context(), id); err != nil {
		handleError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}
