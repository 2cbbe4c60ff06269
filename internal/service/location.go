package service

import (
	"context"
	"time"

	"github.com/bcnelson/wireguard-acl-manager/internal/domain"
	"github.com/bcnelson/wireguard-acl-manager/internal/storage"
	"github.com/bcnelson/wireguard-acl-manager/internal/validation"
	"github.com/sirupsen/logrus"
)

// LocationService manages locations and keeps their gateways in sync.
type LocationService struct {
	store      storage.Storage
	dispatcher *Dispatcher
	log        logrus.FieldLogger
}

// NewLocationService creates a LocationService.
func NewLocationService(store storage.Storage, dispatcher *Dispatcher, log logrus.FieldLogger) *LocationService {
	return &LocationService{store: store, dispatcher: dispatcher, log: log}
}

func (s *LocationService) List(ctx context.Context) ([]*domain.Location, error) {
	return s.store.ListLocations(ctx)
}

func (s *LocationService) Get(ctx context.Context, id int64) (*domain.Location, error) {
	return s.store.GetLocation(ctx, id)
}

func (s *LocationService) Create(ctx context.Context, req *domain.LocationRequest) (*domain.Location, error) {
	loc, err := validation.ParseLocationRequest(req)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	loc.CreatedAt = now
	loc.UpdatedAt = now
	if err := s.store.CreateLocation(ctx, loc); err != nil {
		return nil, err
	}
	return loc, nil
}

// Update changes a location and pushes its recompiled firewall, since subnets
// and ACL switches both affect the output.
func (s *LocationService) Update(ctx context.Context, id int64, req *domain.LocationRequest) (*domain.Location, error) {
	parsed, err := validation.ParseLocationRequest(req)
	if err != nil {
		return nil, err
	}
	loc, err := s.store.GetLocation(ctx, id)
	if err != nil {
		return nil, err
	}
	loc.Name = parsed.Name
	loc.Address = parsed.Address
	loc.ACLEnabled = parsed.ACLEnabled
	loc.ACLDefaultAllow = parsed.ACLDefaultAllow
	loc.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateLocation(ctx, loc); err != nil {
		return nil, err
	}

	if err := s.dispatcher.RecomputeLocation(ctx, loc.ID); err != nil {
		s.log.WithError(err).WithField("location_id", loc.ID).Error("Failed to push firewall changes")
	}
	return loc, nil
}

// Delete removes a location and tells its gateways to drop their firewall.
func (s *LocationService) Delete(ctx context.Context, id int64) error {
	if err := s.store.DeleteLocation(ctx, id); err != nil {
		return err
	}
	s.dispatcher.PublishDisabled(id)
	return nil
}
