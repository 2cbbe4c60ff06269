package handler

import (
	"net/http"
	"time"

	"github.com/bcnelson/wireguard-acl-manager/internal/gateway"
	"github.com/bcnelson/wireguard-acl-manager/internal/service"
	"github.com/sirupsen/logrus"
)

// GatewayTokenResponse carries a freshly issued gateway token.
type GatewayTokenResponse struct {
	LocationID int64      `json:"locationId"`
	Token      string     `json:"token"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
}

// GatewayHandler handles gateway token and session endpoints.
type GatewayHandler struct {
	locations *service.LocationService
	tokens    *gateway.TokenIssuer
	sessions  *gateway.Registry
	log       logrus.FieldLogger
}

// NewGatewayHandler creates a new GatewayHandler.
func NewGatewayHandler(locations *service.LocationService, tokens *gateway.TokenIssuer, sessions *gateway.Registry, log logrus.FieldLogger) *GatewayHandler {
	return &GatewayHandler{locations: locations, tokens: tokens, sessions: sessions, log: log}
}

// IssueToken issues a token a gateway uses to connect to the stream.
func (h *GatewayHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	if _, err := h.locations.Get(r.Context(), id); err != nil {
		handleError(w, h.log, err)
		return
	}

	token, expires, err := h.tokens.Issue(id)
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	resp := GatewayTokenResponse{LocationID: id, Token: token}
	if !expires.IsZero() {
		resp.ExpiresAt = &expires
	}
	h.log.WithField("location_id", id).Info("Issued gateway token")
	respondJSON(w, http.StatusCreated, resp)
}

// Sessions lists the gateways connected for a location.
func (h *GatewayHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	if _, err := h.locations.Get(r.Context(), id); err != nil {
		handleError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, h.sessions.List(id))
}

