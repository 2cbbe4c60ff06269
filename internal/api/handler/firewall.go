package handler

import (
	"net/http"

	"github.com/bcnelson/wireguard-acl-manager/internal/domain"
	"github.com/bcnelson/wireguard-acl-manager/internal/service"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// FirewallPreview is the compiled firewall of a location as a gateway would
// receive it. Config is omitted when the firewall is disabled.
type FirewallPreview struct {
	LocationID int64                  `json:"locationId" yaml:"locationId"`
	Enabled    bool                   `json:"enabled" yaml:"enabled"`
	Config     *domain.FirewallConfig `json:"config,omitempty" yaml:"config,omitempty"`
}

// FirewallHandler serves compiled firewall previews.
type FirewallHandler struct {
	dispatcher *service.Dispatcher
	log        logrus.FieldLogger
}

// NewFirewallHandler creates a new FirewallHandler.
func NewFirewallHandler(dispatcher *service.Dispatcher, log logrus.FieldLogger) *FirewallHandler {
	return &FirewallHandler{dispatcher: dispatcher, log: log}
}

// Preview compiles the location's firewall without publishing it.
// ?format=yaml renders YAML instead of JSON.
func (h *FirewallHandler) Preview(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		handleError(w, h.log, err)
		return
	}

	state, err := h.dispatcher.CurrentState(r.Context(), id)
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	preview := FirewallPreview{
		LocationID: id,
		Enabled:    state.Kind == domain.EventFirewallConfigChanged,
		Config:     state.Config,
	}

	switch r.URL.Query().Get("format") {
	case "", "json":
		respondJSON(w, http.StatusOK, preview)
	case "yaml":
		out, err := yaml.Marshal(preview)
		if err != nil {
			handleError(w, h.log, err)
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		w.WriteHeader(http.StatusOK)
		w.Write(out)
	default:
		respondError(w, http.StatusBadRequest, domain.ErrCodeInvalidInput, "format must be json or yaml")
	}
}
