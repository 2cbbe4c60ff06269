// Package firewall compiles ACL rules into the ordered allow/deny rule list
// enforced by a location's gateways.
package firewall

import (
	"fmt"
	"net/netip"
	"slices"
	"time"

	"github.com/bcnelson/wireguard-acl-manager/internal/domain"
	"github.com/bcnelson/wireguard-acl-manager/internal/merger"
	"github.com/sirupsen/logrus"
)

// Input is everything needed to compile one location.
type Input struct {
	Location   *domain.Location
	Rules      []*domain.ACLRule
	Aliases    []*domain.ACLAlias
	Identities *domain.Identities
	Now        time.Time
}

// Compiler turns stored rules into firewall configs. It holds no state
// between calls and is safe for concurrent use.
type Compiler struct {
	resolver *Resolver
}

// NewCompiler creates a Compiler logging to log.
func NewCompiler(log logrus.FieldLogger) *Compiler {
	return &Compiler{resolver: NewResolver(log)}
}

// Compile resolves the rules of in.Location and compiles them. It reports
// false iff ACLs are disabled for the location.
func (c *Compiler) Compile(in Input) (*domain.FirewallConfig, bool) {
	if !in.Location.ACLEnabled {
		return nil, false
	}
	resolved := c.resolver.Resolve(in.Location, in.Rules, in.Aliases, in.Identities, in.Now)
	return TryGetLocationFirewallConfig(in.Location, resolved)
}

// TryGetLocationFirewallConfig compiles resolved rules for loc. It returns
// false when ACLs are disabled for the location and a config, possibly with
// no rules, otherwise.
//
// Rules keep their input order. For every IP version served by the location
// and reached by the rule's destination, an Allow rule is emitted, followed
// by a Deny rule when the rule has deny selectors.
func TryGetLocationFirewallConfig(loc *domain.Location, rules []ResolvedRule) (*domain.FirewallConfig, bool) {
	if !loc.ACLEnabled {
		return nil, false
	}

	cfg := &domain.FirewallConfig{
		Rules:          []domain.FirewallRule{},
		DefaultVerdict: domain.VerdictDeny,
	}
	if loc.ACLDefaultAllow {
		cfg.DefaultVerdict = domain.VerdictAllow
	}

	versions := loc.IPVersions()
	for _, rule := range rules {
		ports := []domain.Port{}
		if !rule.Destination.AnyPort {
			ports = nonNil(merger.MergePortRanges(rule.Destination.Ports))
		}
		protocols := []domain.Protocol{}
		if !rule.Destination.AnyProtocol {
			protocols = uniqueProtocols(rule.Destination.Protocols)
		}
		dst4, dst6 := merger.SplitByFamily(rule.Destination.Addresses)

		for _, version := range versions {
			var dst []domain.Address
			switch {
			case rule.Destination.AnyAddress:
				dst = []domain.Address{}
			case version == domain.IPv4 && len(dst4) > 0:
				dst = merger.MergeAddressRanges(dst4)
			case version == domain.IPv6 && len(dst6) > 0:
				dst = merger.MergeAddressRanges(dst6)
			default:
				continue
			}

			cfg.Rules = append(cfg.Rules, domain.FirewallRule{
				ID:                   rule.ID,
				Verdict:              domain.VerdictAllow,
				IPVersion:            version,
				Source:               rule.AllowSource,
				SourceAddresses:      mergeSources(rule.AllowAddresses, version),
				DestinationAddresses: dst,
				DestinationPorts:     ports,
				Protocols:            protocols,
				Comment:              comment(rule, domain.VerdictAllow),
			})
			if rule.HasDeny {
				cfg.Rules = append(cfg.Rules, domain.FirewallRule{
					ID:                   rule.ID,
					Verdict:              domain.VerdictDeny,
					IPVersion:            version,
					Source:               rule.DenySource,
					SourceAddresses:      mergeSources(rule.DenyAddresses, version),
					DestinationAddresses: dst,
					DestinationPorts:     ports,
					Protocols:            protocols,
					Comment:              comment(rule, domain.VerdictDeny),
				})
			}
		}
	}
	return cfg, true
}

// mergeSources canonicalizes the addresses of one family.
func mergeSources(addrs []netip.Addr, version domain.IPVersion) []domain.Address {
	if version == domain.IPv4 {
		ranges := make([]merger.IPv4Range, 0, len(addrs))
		for _, a := range addrs {
			if r, ok := merger.NewIPv4Range(a, a); ok {
				ranges = append(ranges, r)
			}
		}
		return nonNil(merger.MergeAddressRanges(ranges))
	}
	ranges := make([]merger.IPv6Range, 0, len(addrs))
	for _, a := range addrs {
		if r, ok := merger.NewIPv6Range(a, a); ok {
			ranges = append(ranges, r)
		}
	}
	return nonNil(merger.MergeAddressRanges(ranges))
}

func uniqueProtocols(in []domain.Protocol) []domain.Protocol {
	out := slices.Clone(in)
	slices.Sort(out)
	return nonNil(slices.Compact(out))
}

func comment(rule ResolvedRule, verdict domain.Verdict) string {
	return fmt.Sprintf("ACL %d - %s %s", rule.ID, rule.Name, verdict)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
