package handler

import (
	"net/http"

	"github.com/bcnelson/wireguard-acl-manager/internal/domain"
	"github.com/bcnelson/wireguard-acl-manager/internal/service"
	"github.com/sirupsen/logrus"
)

// AliasHandler handles ACL alias endpoints.
type AliasHandler struct {
	acl *service.ACLService
	log logrus.FieldLogger
}

// NewAliasHandler creates a new AliasHandler.
func NewAliasHandler(acl *service.ACLService, log logrus.FieldLogger) *AliasHandler {
	return &AliasHandler{acl: acl, log: log}
}

// Create creates a new alias.
func (h *AliasHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.ACLAliasRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, domain.ErrCodeInvalidInput, "invalid request body")
		return
	}

	alias, err := h.acl.CreateAlias(r.Context(), &req)
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusCreated, alias)
}

// List lists all aliases, pending drafts included.
func (h *AliasHandler) List(w http.ResponseWriter, r *http.Request) {
	aliases, err := h.acl.ListAliases(r.Context())
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, aliases)
}

// Get gets an alias by ID.
func (h *AliasHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		handleError(w, h.log, err)
		return
	}

	alias, err := h.acl.GetAlias(r.Context(), id)
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, alias)
}

// Update stages an alias edit.
func (h *AliasHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		handleError(w, h.log, err)
		return
	}

	var req domain.ACLAliasRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, domain.ErrCodeInvalidInput, "invalid request body")
		return
	}

	alias, err := h.acl.UpdateAlias(r.Context(), id, &req)
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, alias)
}

// Delete deletes an alias. Aliases still used by a rule cannot be deleted.
func (h *AliasHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		handleError(w, h.log, err)
		return
	}

	if err := h.acl.DeleteAlias(r.Context(), id); err != nil {
		handleError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

// Apply deploys pending alias drafts.
func (h *AliasHandler) Apply(w http.ResponseWriter, r *http.Request) {
	var req domain.ApplyRequest
	if err := decodeJSON(r, &req); err != nil || len(req.IDs) == 0 {
		respondError(w, http.StatusBadRequest, domain.ErrCodeInvalidInput, "ids are required")
		return
	}

	if err := h.acl.ApplyAliases(r.Context(), req.IDs); err != nil {
		handleError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}
