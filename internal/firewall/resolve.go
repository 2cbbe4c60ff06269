package firewall

import (
	"cmp"
	"net/netip"
	"slices"
	"time"

	"github.com/bcnelson/wireguard-acl-manager/internal/domain"
	"github.com/sirupsen/logrus"
)

// ResolvedRule is an ACL rule with its audience and destination expanded for
// a single location.
type ResolvedRule struct {
	ID   int64
	Name string

	AllowSource    domain.SourceSelector
	AllowAddresses []netip.Addr

	// HasDeny is set when the rule carries deny selectors, even if they
	// currently resolve to no addresses.
	HasDeny       bool
	DenySource    domain.SourceSelector
	DenyAddresses []netip.Addr

	Destination domain.Destination
}

// Resolver expands stored rules into ResolvedRules.
type Resolver struct {
	log logrus.FieldLogger
}

// NewResolver creates a Resolver that reports dangling alias references to log.
func NewResolver(log logrus.FieldLogger) *Resolver {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Resolver{log: log}
}

// Resolve returns the rules active in loc at now, ordered by id ascending.
// Draft rows, disabled rules, expired rules and rules bound elsewhere are skipped.
func (r *Resolver) Resolve(
	loc *domain.Location,
	rules []*domain.ACLRule,
	aliases []*domain.ACLAlias,
	ids *domain.Identities,
	now time.Time,
) []ResolvedRule {
	applied := make(map[int64]*domain.ACLAlias, len(aliases))
	for _, a := range aliases {
		if a.ParentID == nil && a.State == domain.AliasStateApplied {
			applied[a.ID] = a
		}
	}
	dir := newDirectory(ids, loc.ID)

	active := make([]*domain.ACLRule, 0, len(rules))
	for _, rule := range rules {
		if rule.ParentID != nil || !rule.IsActive(now) || !rule.AppliesTo(loc.ID) {
			continue
		}
		active = append(active, rule)
	}
	slices.SortFunc(active, func(a, b *domain.ACLRule) int { return cmp.Compare(a.ID, b.ID) })

	out := make([]ResolvedRule, 0, len(active))
	for _, rule := range active {
		out = append(out, r.resolveRule(rule, applied, dir))
	}
	return out
}

func (r *Resolver) resolveRule(rule *domain.ACLRule, aliases map[int64]*domain.ACLAlias, dir *directory) ResolvedRule {
	res := ResolvedRule{
		ID:   rule.ID,
		Name: rule.Name,
		AllowSource: domain.SourceSelector{
			AllUsers:          rule.AllowAllUsers,
			AllNetworkDevices: rule.AllowAllNetworkDevices,
			Users:             sortedIDs(rule.AllowedUsers),
			Groups:            sortedIDs(rule.AllowedGroups),
			Devices:           sortedIDs(rule.AllowedDevices),
		},
		HasDeny: rule.HasDenyAudience(),
		DenySource: domain.SourceSelector{
			AllUsers:          rule.DenyAllUsers,
			AllNetworkDevices: rule.DenyAllNetworkDevices,
			Users:             sortedIDs(rule.DeniedUsers),
			Groups:            sortedIDs(rule.DeniedGroups),
			Devices:           sortedIDs(rule.DeniedDevices),
		},
		Destination: r.resolveDestination(rule, aliases),
	}

	allowedUsers := dir.users(rule.AllowAllUsers, rule.AllowedUsers, rule.AllowedGroups)
	deniedUsers := dir.users(rule.DenyAllUsers, rule.DeniedUsers, rule.DeniedGroups)
	allowedDevices := dir.devices(rule.AllowAllNetworkDevices, rule.AllowedDevices)
	deniedDevices := dir.devices(rule.DenyAllNetworkDevices, rule.DeniedDevices)
	for id := range deniedUsers {
		delete(allowedUsers, id)
	}
	for id := range deniedDevices {
		delete(allowedDevices, id)
	}

	res.AllowAddresses = dir.addresses(allowedUsers, allowedDevices, deniedDevices)
	if res.HasDeny {
		res.DenyAddresses = dir.addresses(deniedUsers, deniedDevices, nil)
	}
	return res
}

// resolveDestination builds the effective destination of a rule. Manual rules
// use their own fields extended by component aliases; the others take the
// union of their destination aliases.
func (r *Resolver) resolveDestination(rule *domain.ACLRule, aliases map[int64]*domain.ACLAlias) domain.Destination {
	var dest domain.Destination
	want := domain.AliasKindDestination
	if rule.UseManualDestinationSettings {
		dest = rule.Destination.Clone()
		want = domain.AliasKindComponent
	}

	for _, id := range rule.Aliases {
		alias, ok := aliases[id]
		if !ok {
			r.log.WithFields(logrus.Fields{
				"rule_id":  rule.ID,
				"alias_id": id,
			}).Warn("ACL rule references a missing alias, skipping it")
			continue
		}
		if alias.Kind != want {
			r.log.WithFields(logrus.Fields{
				"rule_id":    rule.ID,
				"alias_id":   id,
				"alias_kind": alias.Kind,
			}).Warn("ACL rule references an alias of the wrong kind, skipping it")
			continue
		}
		dest.Extend(alias.Destination.Clone())
	}
	return dest
}

func sortedIDs(ids []int64) []int64 {
	if len(ids) == 0 {
		return nil
	}
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}

// directory indexes identities for lookups within one location.
type directory struct {
	activeUsers    map[int64]struct{}
	groups         map[int64][]int64
	userDevices    map[int64][]int64
	networkDevices []int64
	addrs          map[int64][]netip.Addr
}

func newDirectory(ids *domain.Identities, locationID int64) *directory {
	d := &directory{
		activeUsers: map[int64]struct{}{},
		groups:      map[int64][]int64{},
		userDevices: map[int64][]int64{},
		addrs:       map[int64][]netip.Addr{},
	}
	if ids == nil {
		return d
	}
	for _, u := range ids.Users {
		if u.Active {
			d.activeUsers[u.ID] = struct{}{}
		}
	}
	for _, g := range ids.Groups {
		d.groups[g.ID] = g.Members
	}
	for _, dev := range ids.Devices {
		if dev.IsNetworkDevice() {
			d.networkDevices = append(d.networkDevices, dev.ID)
		} else {
			d.userDevices[*dev.UserID] = append(d.userDevices[*dev.UserID], dev.ID)
		}
	}
	for _, a := range ids.Addresses {
		if a.LocationID == locationID {
			d.addrs[a.DeviceID] = append(d.addrs[a.DeviceID], a.Addresses...)
		}
	}
	return d
}

// users returns the active users selected by the flag, explicit ids and group membership.
func (d *directory) users(all bool, users, groups []int64) map[int64]struct{} {
	out := map[int64]struct{}{}
	if all {
		for id := range d.activeUsers {
			out[id] = struct{}{}
		}
		return out
	}
	add := func(id int64) {
		if _, ok := d.activeUsers[id]; ok {
			out[id] = struct{}{}
		}
	}
	for _, id := range users {
		add(id)
	}
	for _, gid := range groups {
		for _, id := range d.groups[gid] {
			add(id)
		}
	}
	return out
}

func (d *directory) devices(allNetwork bool, devices []int64) map[int64]struct{} {
	out := map[int64]struct{}{}
	if allNetwork {
		for _, id := range d.networkDevices {
			out[id] = struct{}{}
		}
	}
	for _, id := range devices {
		out[id] = struct{}{}
	}
	return out
}

// addresses collects the location addresses of the users' devices and the
// given devices, leaving out excluded devices.
func (d *directory) addresses(users, devices, exclude map[int64]struct{}) []netip.Addr {
	var out []netip.Addr
	for uid := range users {
		for _, dev := range d.userDevices[uid] {
			if _, skip := exclude[dev]; skip {
				continue
			}
			out = append(out, d.addrs[dev]...)
		}
	}
	for dev := range devices {
		out = append(out, d.addrs[dev]...)
	}
	slices.SortFunc(out, func(a, b netip.Addr) int { return a.Compare(b) })
	return slices.Compact(out)
}
