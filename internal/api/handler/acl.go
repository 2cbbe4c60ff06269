package handler

import (
	"net/http"

	"github.com/bcnelson/wireguard-acl-manager/internal/domain"
	"github.com/bcnelson/wireguard-acl-manager/internal/service"
	"github.com/sirupsen/logrus"
)

// ACLHandler handles ACL rule endpoints.
type ACLHandler struct {
	acl *service.ACLService
	log logrus.FieldLogger
}

// NewACLHandler creates a new ACLHandler.
func NewACLHandler(acl *service.ACLService, log logrus.FieldLogger) *ACLHandler {
	return &ACLHandler{acl: acl, log: log}
}

// Create creates a new ACL rule in state new.
func (h *ACLHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.ACLRuleRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, domain.ErrCodeInvalidInput, "invalid request body")
		return
	}

	rule, err := h.acl.CreateRule(r.Context(), &req)
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusCreated, rule)
}

// List lists all ACL rules, pending drafts included.
func (h *ACLHandler) List(w http.ResponseWriter, r *http.Request) {
	rules, err := h.acl.ListRules(r.Context())
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, rules)
}

// Get gets an ACL rule by ID.
func (h *ACLHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		handleError(w, h.log, err)
		return
	}

	rule, err := h.acl.GetRule(r.Context(), id)
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

// Update stages an edit and returns the row holding it, which is a draft
// when the rule is already applied.
func (h *ACLHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		handleError(w, h.log, err)
		return
	}

	var req domain.ACLRuleRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, domain.ErrCodeInvalidInput, "invalid request body")
		return
	}

	rule, err := h.acl.UpdateRule(r.Context(), id, &req)
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

// Delete deletes an unapplied rule or stages the deletion of an applied one.
func (h *ACLHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		handleError(w, h.log, err)
		return
	}

	if err := h.acl.DeleteRule(r.Context(), id); err != nil {
		handleError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

// Apply deploys the staged changes of the given rules.
func (h *ACLHandler) Apply(w http.ResponseWriter, r *http.Request) {
	var req domain.ApplyRequest
	if err := decodeJSON(r, &req); err != nil || len(req.IDs) == 0 {
		respondError(w, http.StatusBadRequest, domain.ErrCodeInvalidInput, "ids are required")
		return
	}

	if err := h.acl.ApplyRules(r.Context(), req.IDs); err != nil {
		handleError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}
