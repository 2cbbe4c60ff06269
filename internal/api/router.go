package api

import (
	"net/http"

	"github.com/bcnelson/wireguard-acl-manager/internal/api/handler"
	"github.com/bcnelson/wireguard-acl-manager/internal/api/middleware"
	"github.com/bcnelson/wireguard-acl-manager/internal/gateway"
	"github.com/bcnelson/wireguard-acl-manager/internal/service"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// Services are the dependencies served by the router.
type Services struct {
	Locations  *service.LocationService
	ACL        *service.ACLService
	Directory  *service.DirectoryService
	Dispatcher *service.Dispatcher
	Tokens     *gateway.TokenIssuer
	Sessions   *gateway.Registry
	Stream     http.Handler
}

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(svc Services, adminToken string, log logrus.FieldLogger) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Logging(log))

	// Health check (no auth required)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {
		// Gateways authenticate with their own token.
		r.Get("/gateway/stream", svc.Stream.ServeHTTP)

		// Admin routes (admin token required, JSON Content-Type)
		r.Group(func(r chi.Router) {
			r.Use(middleware.ContentType)
			r.Use(middleware.AdminToken(adminToken))

			// Locations
			locationHandler := handler.NewLocationHandler(svc.Locations, log)
			firewallHandler := handler.NewFirewallHandler(svc.Dispatcher, log)
			gatewayHandler := handler.NewGatewayHandler(svc.Locations, svc.Tokens, svc.Sessions, log)
			r.Post("/locations", locationHandler.Create)
			r.Get("/locations", locationHandler.List)
			r.Route("/locations/{id}", func(r chi.Router) {
				r.Get("/", locationHandler.Get)
				r.Put("/", locationHandler.Update)
				r.Delete("/", locationHandler.Delete)
				r.Get("/firewall", firewallHandler.Preview)
				r.Post("/gateway-token", gatewayHandler.IssueToken)
				r.Get("/gateways", gatewayHandler.Sessions)
			})

			// ACL rules
			aclHandler := handler.NewACLHandler(svc.ACL, log)
			r.Post("/acl/rules", aclHandler.Create)
			r.Get("/acl/rules", aclHandler.List)
			r.Post("/acl/rules/apply", aclHandler.Apply)
			r.Get("/acl/rules/{id}", aclHandler.Get)
			r.Put("/acl/rules/{id}", aclHandler.Update)
			r.Delete("/acl/rules/{id}", aclHandler.Delete)

			// ACL aliases
			aliasHandler := handler.NewAliasHandler(svc.ACL, log)
			r.Post("/acl/aliases", aliasHandler.Create)
			r.Get("/acl/aliases", aliasHandler.List)
			r.Post("/acl/aliases/apply", aliasHandler.Apply)
			r.Get("/acl/aliases/{id}", aliasHandler.Get)
			r.Put("/acl/aliases/{id}", aliasHandler.Update)
			r.Delete("/acl/aliases/{id}", aliasHandler.Delete)

			// Settings and directory snapshot
			settingsHandler := handler.NewSettingsHandler(svc.Directory, log)
			r.Get("/settings", settingsHandler.Get)
			r.Put("/settings", settingsHandler.Update)
			r.Get("/identities", settingsHandler.Identities)
			r.Put("/identities", settingsHandler.ReplaceIdentities)
		})
	})

	return r
}
