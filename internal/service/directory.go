package service

import (
	"context"
	"fmt"

	"github.com/bcnelson/wireguard-acl-manager/internal/domain"
	"github.com/bcnelson/wireguard-acl-manager/internal/storage"
	"github.com/bcnelson/wireguard-acl-manager/internal/validation"
	"github.com/sirupsen/logrus"
)

// DirectoryService stores the user, group and device snapshot pushed by the
// directory sync, and the settings that gate firewall output.
type DirectoryService struct {
	store      storage.Storage
	features   *Features
	dispatcher *Dispatcher
	log        logrus.FieldLogger
}

// NewDirectoryService creates a DirectoryService.
func NewDirectoryService(store storage.Storage, features *Features, dispatcher *Dispatcher, log logrus.FieldLogger) *DirectoryService {
	return &DirectoryService{store: store, features: features, dispatcher: dispatcher, log: log}
}

// Identities returns the current snapshot.
func (s *DirectoryService) Identities(ctx context.Context) (*domain.Identities, error) {
	return s.store.GetIdentities(ctx)
}

// ReplaceIdentities swaps the snapshot in one transaction and schedules a
// recompute of every location.
func (s *DirectoryService) ReplaceIdentities(ctx context.Context, ids *domain.Identities) error {
	if err := validation.ValidateIdentities(ids); err != nil {
		return err
	}

	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	if err := tx.ReplaceIdentities(ctx, ids); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"users":   len(ids.Users),
		"groups":  len(ids.Groups),
		"devices": len(ids.Devices),
	}).Info("Replaced identities")
	s.dispatcher.TriggerRecomputeAll()
	return nil
}

// Settings returns the persisted settings.
func (s *DirectoryService) Settings(ctx context.Context) (*domain.Settings, error) {
	return s.features.Settings(ctx)
}

// UpdateSettings applies a settings change. Toggling enterprise features
// recomputes every location.
func (s *DirectoryService) UpdateSettings(ctx context.Context, req *domain.SettingsRequest) (*domain.Settings, error) {
	if req.EnterpriseEnabled == nil {
		return s.features.Settings(ctx)
	}
	settings, changed, err := s.features.SetEnterprise(ctx, *req.EnterpriseEnabled)
	if err != nil {
		return nil, err
	}
	if changed {
		s.log.WithField("enterprise_enabled", settings.EnterpriseEnabled).Info("Enterprise features toggled")
		if err := s.dispatcher.RecomputeAll(ctx); err != nil {
			s.log.WithError(err).Error("Failed to push firewall changes")
		}
	}
	return settings, nil
}
