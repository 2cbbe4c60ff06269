package domain

import (
	"database/sql/driver"
	"fmt"
	"net/netip"
	"strings"
	"time"
)

// Location is a VPN network with its own subnets and gateways.
type Location struct {
	ID              int64     `json:"id" db:"id"`
	Name            string    `json:"name" db:"name"`
	Address         Subnets   `json:"address" db:"address"`
	ACLEnabled      bool      `json:"aclEnabled" db:"acl_enabled"`
	ACLDefaultAllow bool      `json:"aclDefaultAllow" db:"acl_default_allow"`
	CreatedAt       time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time `json:"updatedAt" db:"updated_at"`
}

// IPVersions returns the address families served by the location, IPv4 first.
func (l *Location) IPVersions() []IPVersion {
	var v4, v6 bool
	for _, p := range l.Address {
		if p.Addr().Is4() {
			v4 = true
		} else {
			v6 = true
		}
	}
	versions := make([]IPVersion, 0, 2)
	if v4 {
		versions = append(versions, IPv4)
	}
	if v6 {
		versions = append(versions, IPv6)
	}
	return versions
}

// Subnets is a list of location subnets stored as a comma separated column.
type Subnets []netip.Prefix

// Value implements driver.Valuer.
func (s Subnets) Value() (driver.Value, error) {
	parts := make([]string, len(s))
	for i, p := range s {
		parts[i] = p.String()
	}
	return strings.Join(parts, ","), nil
}

// Scan implements sql.Scanner.
func (s *Subnets) Scan(src any) error {
	var raw string
	switch v := src.(type) {
	case nil:
		*s = nil
		return nil
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("cannot scan %T into Subnets", src)
	}
	out := Subnets{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		p, err := netip.ParsePrefix(part)
		if err != nil {
			return fmt.Errorf("parsing subnet %q: %w", part, err)
		}
		out = append(out, p)
	}
	*s = out
	return nil
}

// LocationRequest is the request body for creating or updating a location.
type LocationRequest struct {
	Name            string   `json:"name"`
	Address         []string `json:"address"`
	ACLEnabled      bool     `json:"aclEnabled"`
	ACLDefaultAllow bool     `json:"aclDefaultAllow"`
}
