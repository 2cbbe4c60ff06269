package domain

import (
	"slices"
	"time"
)

// RuleState is the lifecycle state of an ACL rule.
type RuleState string

const (
	RuleStateNew      RuleState = "new"
	RuleStateApplied  RuleState = "applied"
	RuleStateModified RuleState = "modified"
	RuleStateDeleted  RuleState = "deleted"
	RuleStateExpired  RuleState = "expired"
)

// ACLRule is an access-control entry for one or more locations.
//
// Changes to an applied rule are staged as a child row (ParentID set, state
// Modified or Deleted) so the deployed definition keeps being enforced until
// the change is applied.
type ACLRule struct {
	ID       int64      `json:"id" db:"id"`
	ParentID *int64     `json:"parentId,omitempty" db:"parent_id"`
	Name     string     `json:"name" db:"name"`
	Enabled  bool       `json:"enabled" db:"enabled"`
	State    RuleState  `json:"state" db:"state"`
	Expires  *time.Time `json:"expires,omitempty" db:"expires"`

	AllLocations bool    `json:"allLocations" db:"all_locations"`
	Locations    []int64 `json:"locations" db:"-"`

	AllowAllUsers          bool    `json:"allowAllUsers" db:"allow_all_users"`
	DenyAllUsers           bool    `json:"denyAllUsers" db:"deny_all_users"`
	AllowAllNetworkDevices bool    `json:"allowAllNetworkDevices" db:"allow_all_network_devices"`
	DenyAllNetworkDevices  bool    `json:"denyAllNetworkDevices" db:"deny_all_network_devices"`
	AllowedUsers           []int64 `json:"allowedUsers" db:"-"`
	DeniedUsers            []int64 `json:"deniedUsers" db:"-"`
	AllowedGroups          []int64 `json:"allowedGroups" db:"-"`
	DeniedGroups           []int64 `json:"deniedGroups" db:"-"`
	AllowedDevices         []int64 `json:"allowedDevices" db:"-"`
	DeniedDevices          []int64 `json:"deniedDevices" db:"-"`

	Aliases                      []int64 `json:"aliases" db:"-"`
	UseManualDestinationSettings bool    `json:"useManualDestinationSettings" db:"use_manual_destination_settings"`
	Destination

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// HasAllowAudience reports whether the rule allows anyone at all.
func (r *ACLRule) HasAllowAudience() bool {
	return r.AllowAllUsers || r.AllowAllNetworkDevices ||
		len(r.AllowedUsers) > 0 || len(r.AllowedGroups) > 0 || len(r.AllowedDevices) > 0
}

// HasDenyAudience reports whether the rule carries any deny selector.
func (r *ACLRule) HasDenyAudience() bool {
	return r.DenyAllUsers || r.DenyAllNetworkDevices ||
		len(r.DeniedUsers) > 0 || len(r.DeniedGroups) > 0 || len(r.DeniedDevices) > 0
}

// IsExpired reports whether the rule's expiry has passed at now.
func (r *ACLRule) IsExpired(now time.Time) bool {
	return r.Expires != nil && !r.Expires.After(now)
}

// AppliesTo reports whether the rule is bound to the given location.
func (r *ACLRule) AppliesTo(locationID int64) bool {
	return r.AllLocations || slices.Contains(r.Locations, locationID)
}

// IsActive reports whether the rule takes part in firewall compilation at now.
func (r *ACLRule) IsActive(now time.Time) bool {
	return r.Enabled && r.State == RuleStateApplied && !r.IsExpired(now)
}

// Version describes where this row sits in the modification chain.
func (r *ACLRule) Version() Version {
	if r.ParentID != nil {
		return Version{Kind: VersionPending, Base: *r.ParentID}
	}
	return Version{Kind: VersionApplied, Base: r.ID}
}

// Clone returns a deep copy of the rule.
func (r *ACLRule) Clone() *ACLRule {
	c := *r
	if r.ParentID != nil {
		id := *r.ParentID
		c.ParentID = &id
	}
	if r.Expires != nil {
		t := *r.Expires
		c.Expires = &t
	}
	c.Locations = slices.Clone(r.Locations)
	c.AllowedUsers = slices.Clone(r.AllowedUsers)
	c.DeniedUsers = slices.Clone(r.DeniedUsers)
	c.AllowedGroups = slices.Clone(r.AllowedGroups)
	c.DeniedGroups = slices.Clone(r.DeniedGroups)
	c.AllowedDevices = slices.Clone(r.AllowedDevices)
	c.DeniedDevices = slices.Clone(r.DeniedDevices)
	c.Aliases = slices.Clone(r.Aliases)
	c.Destination = r.Destination.Clone()
	return &c
}

// Clone returns a deep copy of the destination.
func (d Destination) Clone() Destination {
	d.Addresses = slices.Clone(d.Addresses)
	d.Ports = slices.Clone(d.Ports)
	d.Protocols = slices.Clone(d.Protocols)
	return d
}

// CopyDefinition overwrites everything but identity, chain and state with the draft's values.
func (r *ACLRule) CopyDefinition(draft *ACLRule) {
	d := draft.Clone()
	d.ID, d.ParentID, d.State, d.CreatedAt = r.ID, r.ParentID, r.State, r.CreatedAt
	*r = *d
}

// AliasKind selects how an alias is used by rules.
type AliasKind string

const (
	// AliasKindComponent aliases extend a rule's manual destination.
	AliasKindComponent AliasKind = "component"
	// AliasKindDestination aliases are the destination of rules without manual settings.
	AliasKindDestination AliasKind = "destination"
)

// AliasState is the lifecycle state of an alias.
type AliasState string

const (
	AliasStateApplied  AliasState = "applied"
	AliasStateModified AliasState = "modified"
)

// ACLAlias is a named, reusable destination definition.
type ACLAlias struct {
	ID       int64      `json:"id" db:"id"`
	ParentID *int64     `json:"parentId,omitempty" db:"parent_id"`
	Name     string     `json:"name" db:"name"`
	Kind     AliasKind  `json:"kind" db:"kind"`
	State    AliasState `json:"state" db:"state"`
	Destination

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// Version describes where this row sits in the modification chain.
func (a *ACLAlias) Version() Version {
	if a.ParentID != nil {
		return Version{Kind: VersionPending, Base: *a.ParentID}
	}
	return Version{Kind: VersionApplied, Base: a.ID}
}

// Clone returns a deep copy of the alias.
func (a *ACLAlias) Clone() *ACLAlias {
	c := *a
	if a.ParentID != nil {
		id := *a.ParentID
		c.ParentID = &id
	}
	c.Destination = a.Destination.Clone()
	return &c
}

// CopyDefinition overwrites everything but identity, chain and state with the draft's values.
func (a *ACLAlias) CopyDefinition(draft *ACLAlias) {
	d := draft.Clone()
	d.ID, d.ParentID, d.State, d.CreatedAt = a.ID, a.ParentID, a.State, a.CreatedAt
	*a = *d
}

// VersionKind distinguishes the deployed row from a pending draft.
type VersionKind int

const (
	VersionApplied VersionKind = iota
	VersionPending
)

// Version is Applied(id) or PendingModification{Base: id of the applied row}.
type Version struct {
	Kind VersionKind
	Base int64
}

// ACLRuleRequest is the request body for creating or updating an ACL rule.
type ACLRuleRequest struct {
	Name         string     `json:"name"`
	Enabled      *bool      `json:"enabled,omitempty"`
	Expires      *time.Time `json:"expires,omitempty"`
	AllLocations bool       `json:"allLocations"`
	Locations    []int64    `json:"locations,omitempty"`

	AllowAllUsers          bool    `json:"allowAllUsers"`
	DenyAllUsers           bool    `json:"denyAllUsers"`
	AllowAllNetworkDevices bool    `json:"allowAllNetworkDevices"`
	DenyAllNetworkDevices  bool    `json:"denyAllNetworkDevices"`
	AllowedUsers           []int64 `json:"allowedUsers,omitempty"`
	DeniedUsers            []int64 `json:"deniedUsers,omitempty"`
	AllowedGroups          []int64 `json:"allowedGroups,omitempty"`
	DeniedGroups           []int64 `json:"deniedGroups,omitempty"`
	AllowedDevices         []int64 `json:"allowedDevices,omitempty"`
	DeniedDevices          []int64 `json:"deniedDevices,omitempty"`

	Aliases                      []int64 `json:"aliases,omitempty"`
	UseManualDestinationSettings bool    `json:"useManualDestinationSettings"`
	DestinationRequest
}

// ACLAliasRequest is the request body for creating or updating an alias.
type ACLAliasRequest struct {
	Name string    `json:"name"`
	Kind AliasKind `json:"kind"`
	DestinationRequest
}

// ApplyRequest lists the rule or alias ids whose staged changes should be applied.
type ApplyRequest struct {
	IDs []int64 `json:"ids"`
}
