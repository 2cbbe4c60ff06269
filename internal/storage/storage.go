package storage

import (
	"context"

	"github.com/bcnelson/wireguard-acl-manager/internal/domain"
)

// Storage defines the interface for the storage layer.
// Implementations must be safe for concurrent use.
type Storage interface {
	// Close closes the storage connection.
	Close() error

	// Locations
	CreateLocation(ctx context.Context, loc *domain.Location) error
	GetLocation(ctx context.Context, id int64) (*domain.Location, error)
	ListLocations(ctx context.Context) ([]*domain.Location, error)
	UpdateLocation(ctx context.Context, loc *domain.Location) error
	DeleteLocation(ctx context.Context, id int64) error

	// ACL Rules. Lists are ordered by id ascending and include draft rows.
	CreateACLRule(ctx context.Context, rule *domain.ACLRule) error
	GetACLRule(ctx context.Context, id int64) (*domain.ACLRule, error)
	GetACLRuleDraft(ctx context.Context, parentID int64) (*domain.ACLRule, error)
	ListACLRules(ctx context.Context) ([]*domain.ACLRule, error)
	UpdateACLRule(ctx context.Context, rule *domain.ACLRule) error
	DeleteACLRule(ctx context.Context, id int64) error

	// ACL Aliases
	CreateACLAlias(ctx context.Context, alias *domain.ACLAlias) error
	GetACLAlias(ctx context.Context, id int64) (*domain.ACLAlias, error)
	GetACLAliasDraft(ctx context.Context, parentID int64) (*domain.ACLAlias, error)
	ListACLAliases(ctx context.Context) ([]*domain.ACLAlias, error)
	UpdateACLAlias(ctx context.Context, alias *domain.ACLAlias) error
	DeleteACLAlias(ctx context.Context, id int64) error

	// Identities
	GetIdentities(ctx context.Context) (*domain.Identities, error)
	ReplaceIdentities(ctx context.Context, ids *domain.Identities) error

	// Settings
	GetSettings(ctx context.Context) (*domain.Settings, error)
	UpdateSettings(ctx context.Context, settings *domain.Settings) error

	// Transaction support
	BeginTx(ctx context.Context) (Transaction, error)
}

// Transaction represents a database transaction.
type Transaction interface {
	Storage
	Commit() error
	Rollback() error
}
