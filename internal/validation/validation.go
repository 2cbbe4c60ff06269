// Package validation turns API request bodies into domain values, collecting
// every field error instead of stopping at the first one.
package validation

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/bcnelson/wireguard-acl-manager/internal/domain"
)

// MaxNameLength bounds location, rule and alias names.
const MaxNameLength = 255

// ValidateName validates a location, rule or alias name.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("name must not be empty")
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("name must be at most %d characters", MaxNameLength)
	}
	return nil
}

// ValidateProtocol validates an IANA protocol number.
func ValidateProtocol(p domain.Protocol) error {
	if p < 0 || p > 255 {
		return fmt.Errorf("protocol must be between 0 and 255")
	}
	return nil
}

// ParseLocationRequest validates a location request.
func ParseLocationRequest(req *domain.LocationRequest) (*domain.Location, error) {
	var errs ValidationErrors
	if err := ValidateName(req.Name); err != nil {
		errs.Add("name", req.Name, err.Error())
	}
	if len(req.Address) == 0 {
		errs.Add("address", "", "at least one subnet is required")
	}

	subnets := make(domain.Subnets, 0, len(req.Address))
	for i, a := range req.Address {
		p, err := netip.ParsePrefix(strings.TrimSpace(a))
		if err != nil {
			errs.Add(fmt.Sprintf("address[%d]", i), a, "must be a subnet in CIDR notation")
			continue
		}
		subnets = append(subnets, netip.PrefixFrom(p.Addr().Unmap(), p.Bits()))
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}

	return &domain.Location{
		Name:            strings.TrimSpace(req.Name),
		Address:         subnets,
		ACLEnabled:      req.ACLEnabled,
		ACLDefaultAllow: req.ACLDefaultAllow,
	}, nil
}

// parseDestination converts destination strings, recording failures in errs.
// An empty port or protocol list means any.
func parseDestination(req *domain.DestinationRequest, errs *ValidationErrors) domain.Destination {
	d := domain.Destination{
		AnyAddress:  req.AnyAddress,
		AnyPort:     req.AnyPort || len(req.Ports) == 0,
		AnyProtocol: req.AnyProtocol || len(req.Protocols) == 0,
	}
	if !d.AnyAddress {
		for i, a := range req.Addresses {
			r, err := domain.ParseAddressRange(a)
			if err != nil {
				errs.Add(fmt.Sprintf("addresses[%d]", i), a, err.Error())
				continue
			}
			d.Addresses = append(d.Addresses, r)
		}
	}
	if !d.AnyPort {
		for i, p := range req.Ports {
			r, err := domain.ParsePortRange(p)
			if err != nil {
				errs.Add(fmt.Sprintf("ports[%d]", i), p, err.Error())
				continue
			}
			d.Ports = append(d.Ports, r)
		}
	}
	if !d.AnyProtocol {
		for i, p := range req.Protocols {
			if err := ValidateProtocol(p); err != nil {
				errs.Add(fmt.Sprintf("protocols[%d]", i), strconv.Itoa(int(p)), err.Error())
				continue
			}
			d.Protocols = append(d.Protocols, p)
		}
	}
	return d
}

// ParseRuleRequest validates a rule request. The returned rule has no id,
// state or timestamps.
func ParseRuleRequest(req *domain.ACLRuleRequest, now time.Time) (*domain.ACLRule, error) {
	var errs ValidationErrors
	if err := ValidateName(req.Name); err != nil {
		errs.Add("name", req.Name, err.Error())
	}
	if !req.AllLocations && len(req.Locations) == 0 {
		errs.Add("locations", "", "select at least one location or all locations")
	}
	if req.Expires != nil && !req.Expires.After(now) {
		errs.Add("expires", req.Expires.Format(time.RFC3339), "must be in the future")
	}

	dest := parseDestination(&req.DestinationRequest, &errs)
	if req.UseManualDestinationSettings {
		if !req.AnyAddress && len(req.Addresses) == 0 {
			errs.Add("addresses", "", "at least one address is required unless anyAddress is set")
		}
	} else {
		if len(req.Aliases) == 0 {
			errs.Add("aliases", "", "at least one destination alias is required")
		}
		dest = domain.Destination{}
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	rule := &domain.ACLRule{
		Name:                         strings.TrimSpace(req.Name),
		Enabled:                      enabled,
		Expires:                      req.Expires,
		AllLocations:                 req.AllLocations,
		AllowAllUsers:                req.AllowAllUsers,
		DenyAllUsers:                 req.DenyAllUsers,
		AllowAllNetworkDevices:       req.AllowAllNetworkDevices,
		DenyAllNetworkDevices:        req.DenyAllNetworkDevices,
		AllowedUsers:                 uniqueIDs(req.AllowedUsers),
		DeniedUsers:                  uniqueIDs(req.DeniedUsers),
		AllowedGroups:                uniqueIDs(req.AllowedGroups),
		DeniedGroups:                 uniqueIDs(req.DeniedGroups),
		AllowedDevices:               uniqueIDs(req.AllowedDevices),
		DeniedDevices:                uniqueIDs(req.DeniedDevices),
		Aliases:                      uniqueIDs(req.Aliases),
		UseManualDestinationSettings: req.UseManualDestinationSettings,
		Destination:                  dest,
	}
	if !req.AllLocations {
		rule.Locations = uniqueIDs(req.Locations)
	}
	if !rule.HasAllowAudience() {
		errs.Add("allowedUsers", "", domain.ErrNoAllowAudience.Error())
	}

	if err := errs.Err(); err != nil {
		return nil, err
	}
	return rule, nil
}

// ParseAliasRequest validates an alias request.
func ParseAliasRequest(req *domain.ACLAliasRequest) (*domain.ACLAlias, error) {
	var errs ValidationErrors
	if err := ValidateName(req.Name); err != nil {
		errs.Add("name", req.Name, err.Error())
	}
	kind := req.Kind
	if kind == "" {
		kind = domain.AliasKindDestination
	}
	if kind != domain.AliasKindDestination && kind != domain.AliasKindComponent {
		errs.Add("kind", string(req.Kind), "must be 'destination' or 'component'")
	}

	dest := parseDestination(&req.DestinationRequest, &errs)
	if kind == domain.AliasKindDestination && !req.AnyAddress && len(req.Addresses) == 0 {
		errs.Add("addresses", "", "at least one address is required unless anyAddress is set")
	}

	if err := errs.Err(); err != nil {
		return nil, err
	}
	return &domain.ACLAlias{
		Name:        strings.TrimSpace(req.Name),
		Kind:        kind,
		Destination: dest,
	}, nil
}

// ValidateIdentities checks a directory snapshot for duplicate ids and
// dangling references.
func ValidateIdentities(ids *domain.Identities) error {
	var errs ValidationErrors

	users := map[int64]bool{}
	for i, u := range ids.Users {
		if users[u.ID] {
			errs.Add(fmt.Sprintf("users[%d].id", i), strconv.FormatInt(u.ID, 10), "duplicate user id")
		}
		users[u.ID] = true
		if strings.TrimSpace(u.Username) == "" {
			errs.Add(fmt.Sprintf("users[%d].username", i), "", "username must not be empty")
		}
	}

	groups := map[int64]bool{}
	for i, g := range ids.Groups {
		if groups[g.ID] {
			errs.Add(fmt.Sprintf("groups[%d].id", i), strconv.FormatInt(g.ID, 10), "duplicate group id")
		}
		groups[g.ID] = true
		for j, m := range g.Members {
			if !users[m] {
				errs.Add(fmt.Sprintf("groups[%d].members[%d]", i, j), strconv.FormatInt(m, 10), "unknown user")
			}
		}
	}

	devices := map[int64]bool{}
	for i, d := range ids.Devices {
		if devices[d.ID] {
			errs.Add(fmt.Sprintf("devices[%d].id", i), strconv.FormatInt(d.ID, 10), "duplicate device id")
		}
		devices[d.ID] = true
		if d.UserID != nil && !users[*d.UserID] {
			errs.Add(fmt.Sprintf("devices[%d].userId", i), strconv.FormatInt(*d.UserID, 10), "unknown user")
		}
	}

	for i, a := range ids.Addresses {
		if !devices[a.DeviceID] {
			errs.Add(fmt.Sprintf("addresses[%d].deviceId", i), strconv.FormatInt(a.DeviceID, 10), "unknown device")
		}
		for j, addr := range a.Addresses {
			if !addr.IsValid() {
				errs.Add(fmt.Sprintf("addresses[%d].addresses[%d]", i, j), addr.String(), "invalid address")
			}
		}
	}

	return errs.Err()
}

func uniqueIDs(ids []int64) []int64 {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
