package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/bcnelson/wireguard-acl-manager/internal/domain"
	"github.com/bcnelson/wireguard-acl-manager/internal/storage"
)

// Store is an in-memory implementation of the storage interface for testing.
// Values are copied on the way in and out so callers never share state with the store.
type Store struct {
	mu sync.RWMutex

	nextID     int64
	locations  map[int64]*domain.Location
	aclRules   map[int64]*domain.ACLRule
	aclAliases map[int64]*domain.ACLAlias
	identities *domain.Identities
	settings   *domain.Settings
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		locations:  make(map[int64]*domain.Location),
		aclRules:   make(map[int64]*domain.ACLRule),
		aclAliases: make(map[int64]*domain.ACLAlias),
		identities: &domain.Identities{},
	}
}

func (s *Store) Close() error { return nil }

func (s *Store) BeginTx(ctx context.Context) (storage.Transaction, error) {
	return &Tx{Store: s}, nil
}

// Tx is a no-op transaction for the in-memory store. Writes are visible immediately.
type Tx struct {
	*Store
}

func (t *Tx) Commit() error   { return nil }
func (t *Tx) Rollback() error { return nil }
func (t *Tx) Close() error    { return nil }
func (t *Tx) BeginTx(ctx context.Context) (storage.Transaction, error) {
	return nil, domain.ErrInvalidInput
}

func (s *Store) allocID() int64 {
	s.nextID++
	return s.nextID
}

func sortedByID[T any](m map[int64]T, clone func(T) T) []T {
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		out = append(out, clone(m[id]))
	}
	return out
}

// ============================================
// Locations
// ============================================

func cloneLocation(l *domain.Location) *domain.Location {
	c := *l
	c.Address = slices.Clone(l.Address)
	return &c
}

func (s *Store) CreateLocation(ctx context.Context, loc *domain.Location) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.locations {
		if existing.Name == loc.Name {
			return domain.ErrAlreadyExists
		}
	}
	loc.ID = s.allocID()
	s.locations[loc.ID] = cloneLocation(loc)
	return nil
}

func (s *Store) GetLocation(ctx context.Context, id int64) (*domain.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	loc, exists := s.locations[id]
	if !exists {
		return nil, domain.ErrNotFound
	}
	return cloneLocation(loc), nil
}

func (s *Store) ListLocations(ctx context.Context) ([]*domain.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedByID(s.locations, cloneLocation), nil
}

func (s *Store) UpdateLocation(ctx context.Context, loc *domain.Location) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.locations[loc.ID]; !exists {
		return domain.ErrNotFound
	}
	for id, existing := range s.locations {
		if id != loc.ID && existing.Name == loc.Name {
			return domain.ErrAlreadyExists
		}
	}
	s.locations[loc.ID] = cloneLocation(loc)
	return nil
}

func (s *Store) DeleteLocation(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.locations[id]; !exists {
		return domain.ErrNotFound
	}
	delete(s.locations, id)
	for _, rule := range s.aclRules {
		rule.Locations = slices.DeleteFunc(rule.Locations, func(l int64) bool { return l == id })
	}
	addrs := s.identities.Addresses[:0]
	for _, a := range s.identities.Addresses {
		if a.LocationID != id {
			addrs = append(addrs, a)
		}
	}
	s.identities.Addresses = addrs
	return nil
}

// ============================================
// ACL Rules
// ============================================

func (s *Store) CreateACLRule(ctx context.Context, rule *domain.ACLRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rule.ParentID != nil {
		if _, exists := s.aclRules[*rule.ParentID]; !exists {
			return domain.ErrNotFound
		}
	}
	rule.ID = s.allocID()
	s.aclRules[rule.ID] = rule.Clone()
	return nil
}

func (s *Store) GetACLRule(ctx context.Context, id int64) (*domain.ACLRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rule, exists := s.aclRules[id]
	if !exists {
		return nil, domain.ErrNotFound
	}
	return rule.Clone(), nil
}

func (s *Store) GetACLRuleDraft(ctx context.Context, parentID int64) (*domain.ACLRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rule := range s.aclRules {
		if rule.ParentID != nil && *rule.ParentID == parentID {
			return rule.Clone(), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *Store) ListACLRules(ctx context.Context) ([]*domain.ACLRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedByID(s.aclRules, (*domain.ACLRule).Clone), nil
}

func (s *Store) UpdateACLRule(ctx context.Context, rule *domain.ACLRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.aclRules[rule.ID]; !exists {
		return domain.ErrNotFound
	}
	s.aclRules[rule.ID] = rule.Clone()
	return nil
}

// DeleteACLRule removes a rule together with its pending draft.
func (s *Store) DeleteACLRule(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.aclRules[id]; !exists {
		return domain.ErrNotFound
	}
	delete(s.aclRules, id)
	for childID, rule := range s.aclRules {
		if rule.ParentID != nil && *rule.ParentID == id {
			delete(s.aclRules, childID)
		}
	}
	return nil
}

// ============================================
// ACL Aliases
// ============================================

func (s *Store) CreateACLAlias(ctx context.Context, alias *domain.ACLAlias) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if alias.ParentID != nil {
		if _, exists := s.aclAliases[*alias.ParentID]; !exists {
			return domain.ErrNotFound
		}
	}
	alias.ID = s.allocID()
	s.aclAliases[alias.ID] = alias.Clone()
	return nil
}

func (s *Store) GetACLAlias(ctx context.Context, id int64) (*domain.ACLAlias, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	alias, exists := s.aclAliases[id]
	if !exists {
		return nil, domain.ErrNotFound
	}
	return alias.Clone(), nil
}

func (s *Store) GetACLAliasDraft(ctx context.Context, parentID int64) (*domain.ACLAlias, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, alias := range s.aclAliases {
		if alias.ParentID != nil && *alias.ParentID == parentID {
			return alias.Clone(), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *Store) ListACLAliases(ctx context.Context) ([]*domain.ACLAlias, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedByID(s.aclAliases, (*domain.ACLAlias).Clone), nil
}

func (s *Store) UpdateACLAlias(ctx context.Context, alias *domain.ACLAlias) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.aclAliases[alias.ID]; !exists {
		return domain.ErrNotFound
	}
	s.aclAliases[alias.ID] = alias.Clone()
	return nil
}

// DeleteACLAlias removes an alias, its pending draft and every rule link to it.
func (s *Store) DeleteACLAlias(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.aclAliases[id]; !exists {
		return domain.ErrNotFound
	}
	delete(s.aclAliases, id)
	for childID, alias := range s.aclAliases {
		if alias.ParentID != nil && *alias.ParentID == id {
			delete(s.aclAliases, childID)
		}
	}
	for _, rule := range s.aclRules {
		rule.Aliases = slices.DeleteFunc(rule.Aliases, func(a int64) bool { return a == id })
	}
	return nil
}

// ============================================
// Identities
// ============================================

func cloneIdentities(ids *domain.Identities) *domain.Identities {
	c := &domain.Identities{
		Users:     slices.Clone(ids.Users),
		Groups:    make([]domain.Group, len(ids.Groups)),
		Devices:   make([]domain.Device, len(ids.Devices)),
		Addresses: make([]domain.DeviceAddress, len(ids.Addresses)),
	}
	if c.Users == nil {
		c.Users = []domain.User{}
	}
	for i, g := range ids.Groups {
		g.Members = slices.Clone(g.Members)
		c.Groups[i] = g
	}
	for i, d := range ids.Devices {
		if d.UserID != nil {
			uid := *d.UserID
			d.UserID = &uid
		}
		c.Devices[i] = d
	}
	for i, a := range ids.Addresses {
		a.Addresses = slices.Clone(a.Addresses)
		c.Addresses[i] = a
	}
	slices.SortFunc(c.Users, func(a, b domain.User) int { return cmp.Compare(a.ID, b.ID) })
	slices.SortFunc(c.Groups, func(a, b domain.Group) int { return cmp.Compare(a.ID, b.ID) })
	slices.SortFunc(c.Devices, func(a, b domain.Device) int { return cmp.Compare(a.ID, b.ID) })
	slices.SortFunc(c.Addresses, func(a, b domain.DeviceAddress) int {
		if n := cmp.Compare(a.DeviceID, b.DeviceID); n != 0 {
			return n
		}
		return cmp.Compare(a.LocationID, b.LocationID)
	})
	return c
}

func (s *Store) GetIdentities(ctx context.Context) (*domain.Identities, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneIdentities(s.identities), nil
}

func (s *Store) ReplaceIdentities(ctx context.Context, ids *domain.Identities) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identities = cloneIdentities(ids)
	return nil
}

// ============================================
// Settings
// ============================================

func (s *Store) GetSettings(ctx context.Context) (*domain.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.settings == nil {
		return domain.DefaultSettings(), nil
	}
	c := *s.settings
	return &c, nil
}

func (s *Store) UpdateSettings(ctx context.Context, settings *domain.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *settings
	s.settings = &c
	return nil
}
