package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/bcnelson/wireguard-acl-manager/internal/api"
	"github.com/bcnelson/wireguard-acl-manager/internal/config"
	"github.com/bcnelson/wireguard-acl-manager/internal/gateway"
	"github.com/bcnelson/wireguard-acl-manager/internal/service"
	"github.com/bcnelson/wireguard-acl-manager/internal/storage/sql"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func main() {
	// A .env file is optional; real environment variables take precedence.
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("Invalid configuration: %v", err)
	}

	log, err := cfg.Log.NewLogger()
	if err != nil {
		logrus.Fatalf("Invalid log configuration: %v", err)
	}

	// Create data directory if needed (for SQLite)
	if cfg.Database.Driver == "sqlite3" {
		if dir := filepath.Dir(cfg.Database.DSN); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				log.Fatalf("Failed to create data directory: %v", err)
			}
		}
	}

	// Initialize storage
	store, err := sql.New(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	features := service.NewFeatures(store)
	if err := features.Init(ctx); err != nil {
		log.Fatalf("Failed to load settings: %v", err)
	}

	// Gateway fan-out and firewall recompute
	hub := gateway.NewHub(cfg.Gateway.EventBuffer)
	dispatcher := service.NewDispatcher(store, features, hub, log, cfg.Sweep.Concurrency, cfg.Sweep.Debounce)
	defer dispatcher.Stop()

	aclService := service.NewACLService(store, dispatcher, log)
	tokens := gateway.NewTokenIssuer(cfg.Gateway.Secret, cfg.Gateway.TokenTTL)
	sessions := gateway.NewRegistry()
	stream := gateway.NewStream(hub, sessions, tokens, dispatcher, gateway.StreamConfig{
		WriteTimeout: cfg.Gateway.WriteTimeout,
		PingInterval: cfg.Gateway.PingInterval,
	}, log)

	sweeper, err := service.NewSweeper(aclService, features, dispatcher, log,
		cfg.Sweep.ExpirySchedule, cfg.Sweep.EnterpriseSchedule)
	if err != nil {
		log.Fatalf("Failed to schedule sweeps: %v", err)
	}
	sweeper.Start()

	// Create router
	router := api.NewRouter(api.Services{
		Locations:  service.NewLocationService(store, dispatcher, log),
		ACL:        aclService,
		Directory:  service.NewDirectoryService(store, features, dispatcher, log),
		Dispatcher: dispatcher,
		Tokens:     tokens,
		Sessions:   sessions,
		Stream:     stream,
	}, cfg.Server.AdminToken, log)

	// Create HTTP server. Gateway streams set their own write deadlines.
	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.WithFields(logrus.Fields{
		"addr":       cfg.Server.Addr(),
		"db_driver":  cfg.Database.Driver,
		"enterprise": features.EnterpriseEnabled(),
	}).Info("Starting WireGuard ACL Manager")

	// Start server in goroutine
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	stream.Shutdown()
	sweeper.Stop(shutdownCtx)
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Server forced to shutdown: %v", err)
	}

	log.Info("Server stopped")
}
