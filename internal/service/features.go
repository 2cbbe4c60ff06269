package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bcnelson/wireguard-acl-manager/internal/domain"
	"github.com/bcnelson/wireguard-acl-manager/internal/storage"
)

// Features holds the process-wide feature switches loaded from settings.
// It is created once at startup and passed to everything that needs it.
type Features struct {
	store storage.Storage

	mu         sync.RWMutex
	enterprise bool
}

// NewFeatures creates a Features backed by store. Call Init before use.
func NewFeatures(store storage.Storage) *Features {
	return &Features{store: store}
}

// Init loads the current settings.
func (f *Features) Init(ctx context.Context) error {
	_, err := f.Refresh(ctx)
	return err
}

// Refresh reloads settings and reports whether the enterprise switch changed.
func (f *Features) Refresh(ctx context.Context) (bool, error) {
	settings, err := f.store.GetSettings(ctx)
	if err != nil {
		return false, fmt.Errorf("loading settings: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	changed := f.enterprise != settings.EnterpriseEnabled
	f.enterprise = settings.EnterpriseEnabled
	return changed, nil
}

// EnterpriseEnabled reports whether enterprise features, ACLs included, are on.
func (f *Features) EnterpriseEnabled() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.enterprise
}

// Settings returns the persisted settings.
func (f *Features) Settings(ctx context.Context) (*domain.Settings, error) {
	return f.store.GetSettings(ctx)
}

// SetEnterprise persists the enterprise switch and reports whether it changed.
func (f *Features) SetEnterprise(ctx context.Context, enabled bool) (*domain.Settings, bool, error) {
	settings, err := f.store.GetSettings(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("loading settings: %w", err)
	}
	settings.EnterpriseEnabled = enabled
	settings.UpdatedAt = time.Now().UTC()
	if err := f.store.UpdateSettings(ctx, settings); err != nil {
		return nil, false, fmt.Errorf("saving settings: %w", err)
	}
	changed, err := f.Refresh(ctx)
	if err != nil {
		return nil, false, err
	}
	return settings, changed, nil
}
