package merger

import (
	"net/netip"

	"github.com/bcnelson/wireguard-acl-manager/internal/domain"
	"go4.org/netipx"
)

// IPv4Range is a closed interval of IPv4 addresses.
type IPv4Range struct{ r netipx.IPRange }

// IPv6Range is a closed interval of IPv6 addresses.
type IPv6Range struct{ r netipx.IPRange }

func (r IPv4Range) bounds() netipx.IPRange { return r.r }
func (r IPv6Range) bounds() netipx.IPRange { return r.r }

// Family constrains merge input to a single address family, so IPv4 and IPv6
// intervals can never be merged in one call.
type Family interface {
	IPv4Range | IPv6Range
	bounds() netipx.IPRange
}

// NewIPv4Range returns the interval [from, to]. ok is false unless both ends
// are IPv4 and from <= to.
func NewIPv4Range(from, to netip.Addr) (IPv4Range, bool) {
	from, to = from.Unmap(), to.Unmap()
	if !from.Is4() || !to.Is4() || to.Less(from) {
		return IPv4Range{}, false
	}
	return IPv4Range{netipx.IPRangeFrom(from, to)}, true
}

// NewIPv6Range returns the interval [from, to]. ok is false unless both ends
// are IPv6 (not IPv4-mapped) and from <= to.
func NewIPv6Range(from, to netip.Addr) (IPv6Range, bool) {
	if !from.Is6() || !to.Is6() || from.Is4In6() || to.Is4In6() || to.Less(from) {
		return IPv6Range{}, false
	}
	return IPv6Range{netipx.IPRangeFrom(from.WithZone(""), to.WithZone(""))}, true
}

// SplitByFamily partitions address ranges into IPv4 and IPv6 intervals.
func SplitByFamily(ranges []domain.AddressRange) ([]IPv4Range, []IPv6Range) {
	var v4 []IPv4Range
	var v6 []IPv6Range
	for _, r := range ranges {
		if r4, ok := NewIPv4Range(r.From, r.To); ok {
			v4 = append(v4, r4)
		} else if r6, ok := NewIPv6Range(r.From, r.To); ok {
			v6 = append(v6, r6)
		}
	}
	return v4, v6
}

// MergeAddressRanges returns the minimal ordered list of single IPs, subnets and
// explicit ranges covering exactly the union of the input intervals.
func MergeAddressRanges[R Family](ranges []R) []domain.Address {
	if len(ranges) == 0 {
		return nil
	}

	var b netipx.IPSetBuilder
	for _, r := range ranges {
		b.AddRange(r.bounds())
	}
	// Inputs are validated by the family constructors, so the builder has no errors to report.
	set, _ := b.IPSet()

	var out []domain.Address
	for _, r := range set.Ranges() {
		out = append(out, rangeToAddresses(r.From(), r.To())...)
	}
	return out
}

// rangeToAddresses splits one maximal interval into aligned subnets. Blocks of a
// single address become IPs. An interval that holds no multi-address subnet at
// all is emitted as one explicit range instead of a run of single IPs.
func rangeToAddresses(start, end netip.Addr) []domain.Address {
	if start == end {
		return []domain.Address{domain.IPAddress(start)}
	}

	var out []domain.Address
	hasSubnet := false
	cur := start
	for {
		subnet, ok := FindLargestSubnetInRange(cur, end)
		if !ok {
			out = append(out, domain.RangeAddress(cur, end))
			break
		}
		if subnet.Bits() == cur.BitLen() {
			out = append(out, domain.IPAddress(cur))
		} else {
			out = append(out, domain.SubnetAddress(subnet))
			hasSubnet = true
		}
		last := netipx.PrefixLastIP(subnet)
		if last == end {
			break
		}
		cur = last.Next()
	}

	if !hasSubnet && len(out) > 1 {
		return []domain.Address{domain.RangeAddress(start, end)}
	}
	return out
}

// FindLargestSubnetInRange returns the largest subnet based at start that is
// aligned to its size and ends at or before end. It reports false for an empty
// or mixed-family interval.
func FindLargestSubnetInRange(start, end netip.Addr) (netip.Prefix, bool) {
	if !start.IsValid() || !end.IsValid() || start.Is4() != end.Is4() || end.Less(start) {
		return netip.Prefix{}, false
	}
	bits := start.BitLen()
	for p := 0; p <= bits; p++ {
		subnet := netip.PrefixFrom(start, p).Masked()
		if subnet.Addr() != start {
			continue
		}
		if netipx.PrefixLastIP(subnet).Compare(end) <= 0 {
			return subnet, true
		}
	}
	return netip.Prefix{}, false
}
