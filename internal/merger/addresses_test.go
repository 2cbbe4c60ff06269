package merger_test

import (
	"math/rand"
	"net/netip"
	"testing"

	"github.com/bcnelson/wireguard-acl-manager/internal/domain"
	"github.com/bcnelson/wireguard-acl-manager/internal/merger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go4.org/netipx"
)

func v4(t *testing.T, from, to string) merger.IPv4Range {
	t.Helper()
	r, ok := merger.NewIPv4Range(netip.MustParseAddr(from), netip.MustParseAddr(to))
	require.True(t, ok, "invalid IPv4 range %s-%s", from, to)
	return r
}

func v6(t *testing.T, from, to string) merger.IPv6Range {
	t.Helper()
	r, ok := merger.NewIPv6Range(netip.MustParseAddr(from), netip.MustParseAddr(to))
	require.True(t, ok, "invalid IPv6 range %s-%s", from, to)
	return r
}

func ip(s string) domain.Address     { return domain.IPAddress(netip.MustParseAddr(s)) }
func subnet(s string) domain.Address { return domain.SubnetAddress(netip.MustParsePrefix(s)) }
func span(a, b string) domain.Address {
	return domain.RangeAddress(netip.MustParseAddr(a), netip.MustParseAddr(b))
}

func TestMergeAddressRanges_IPv4(t *testing.T) {
	tests := []struct {
		name  string
		input [][2]string
		want  []domain.Address
	}{
		{
			name:  "single point",
			input: [][2]string{{"192.168.1.1", "192.168.1.1"}},
			want:  []domain.Address{ip("192.168.1.1")},
		},
		{
			name:  "exact aligned subnet",
			input: [][2]string{{"192.168.1.0", "192.168.1.255"}},
			want:  []domain.Address{subnet("192.168.1.0/24")},
		},
		{
			name: "overlapping ranges with misaligned edges",
			input: [][2]string{
				{"10.0.8.127", "10.0.9.12"},
				{"10.0.9.1", "10.0.10.12"},
				{"10.0.9.20", "10.0.10.31"},
			},
			want: []domain.Address{
				ip("10.0.8.127"),
				subnet("10.0.8.128/25"),
				subnet("10.0.9.0/24"),
				subnet("10.0.10.0/27"),
			},
		},
		{
			name:  "no subnet fits across boundary",
			input: [][2]string{{"192.168.1.255", "192.168.2.0"}},
			want:  []domain.Address{span("192.168.1.255", "192.168.2.0")},
		},
		{
			name:  "small range with inner subnets",
			input: [][2]string{{"10.0.60.20", "10.0.60.25"}},
			want:  []domain.Address{subnet("10.0.60.20/30"), subnet("10.0.60.24/31")},
		},
		{
			name:  "trailing single address",
			input: [][2]string{{"10.0.0.0", "10.0.0.4"}},
			want:  []domain.Address{subnet("10.0.0.0/30"), ip("10.0.0.4")},
		},
		{
			name: "unsorted disjoint input is emitted in order",
			input: [][2]string{
				{"10.2.0.0", "10.2.0.255"},
				{"10.1.0.5", "10.1.0.5"},
			},
			want: []domain.Address{ip("10.1.0.5"), subnet("10.2.0.0/24")},
		},
		{
			name: "adjacent ranges merge",
			input: [][2]string{
				{"10.0.0.0", "10.0.0.127"},
				{"10.0.0.128", "10.0.0.255"},
			},
			want: []domain.Address{subnet("10.0.0.0/24")},
		},
		{
			name: "duplicates and contained ranges",
			input: [][2]string{
				{"172.16.0.0", "172.16.0.15"},
				{"172.16.0.0", "172.16.0.15"},
				{"172.16.0.4", "172.16.0.7"},
			},
			want: []domain.Address{subnet("172.16.0.0/28")},
		},
		{
			name:  "whole address space",
			input: [][2]string{{"0.0.0.0", "255.255.255.255"}},
			want:  []domain.Address{subnet("0.0.0.0/0")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ranges := make([]merger.IPv4Range, 0, len(tt.input))
			for _, r := range tt.input {
				ranges = append(ranges, v4(t, r[0], r[1]))
			}
			assert.Equal(t, tt.want, merger.MergeAddressRanges(ranges))
		})
	}
}

func TestMergeAddressRanges_IPv6(t *testing.T) {
	got := merger.MergeAddressRanges([]merger.IPv6Range{
		v6(t, "2001:db8::", "2001:db8::ffff"),
		v6(t, "2001:db8::1:0", "2001:db8::1:0"),
		v6(t, "fd00::1", "fd00::1"),
	})
	assert.Equal(t, []domain.Address{
		subnet("2001:db8::/112"),
		ip("2001:db8::1:0"),
		ip("fd00::1"),
	}, got)

	got = merger.MergeAddressRanges([]merger.IPv6Range{v6(t, "fd00::ffff", "fd00::1:0")})
	assert.Equal(t, []domain.Address{span("fd00::ffff", "fd00::1:0")}, got)
}

func TestMergeAddressRanges_Empty(t *testing.T) {
	assert.Empty(t, merger.MergeAddressRanges([]merger.IPv4Range{}))
}

func TestNewRange_RejectsWrongFamilyAndOrder(t *testing.T) {
	a4 := netip.MustParseAddr("10.0.0.1")
	b4 := netip.MustParseAddr("10.0.0.9")
	a6 := netip.MustParseAddr("fd00::1")

	_, ok := merger.NewIPv4Range(b4, a4)
	assert.False(t, ok)
	_, ok = merger.NewIPv4Range(a4, a6)
	assert.False(t, ok)
	_, ok = merger.NewIPv6Range(a4, a6)
	assert.False(t, ok)
	_, ok = merger.NewIPv6Range(netip.MustParseAddr("::ffff:10.0.0.1"), a6)
	assert.False(t, ok)

	r, ok := merger.NewIPv4Range(netip.MustParseAddr("::ffff:10.0.0.1"), b4)
	require.True(t, ok)
	assert.Equal(t, []domain.Address{
		ip("10.0.0.1"),
		subnet("10.0.0.2/31"),
		subnet("10.0.0.4/30"),
		subnet("10.0.0.8/31"),
	}, merger.MergeAddressRanges([]merger.IPv4Range{r}))
}

func TestSplitByFamily(t *testing.T) {
	parse := func(s string) domain.AddressRange {
		r, err := domain.ParseAddressRange(s)
		require.NoError(t, err)
		return r
	}
	v4s, v6s := merger.SplitByFamily([]domain.AddressRange{
		parse("10.0.0.0/24"),
		parse("fd00::/64"),
		parse("192.168.1.1-192.168.1.5"),
	})
	assert.Len(t, v4s, 2)
	assert.Len(t, v6s, 1)
}

func TestFindLargestSubnetInRange(t *testing.T) {
	tests := []struct {
		name   string
		start  string
		end    string
		want   string
		wantOK bool
	}{
		{"aligned /24", "10.0.0.0", "10.0.0.255", "10.0.0.0/24", true},
		{"bounded by end", "10.0.0.0", "10.0.0.200", "10.0.0.0/25", true},
		{"odd start", "10.0.0.1", "10.0.0.200", "10.0.0.1/32", true},
		{"ipv6", "fd00::", "fd00::ff", "fd00::/120", true},
		{"start after end", "10.0.0.9", "10.0.0.1", "", false},
		{"mixed family", "10.0.0.1", "fd00::1", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := merger.FindLargestSubnetInRange(netip.MustParseAddr(tt.start), netip.MustParseAddr(tt.end))
			require.Equal(t, tt.wantOK, ok)
			if ok {
				assert.Equal(t, netip.MustParsePrefix(tt.want), got)
			}
		})
	}
}

// coverage expands representations back into an IP set.
func coverage(t *testing.T, addrs []domain.Address) *netipx.IPSet {
	t.Helper()
	var b netipx.IPSetBuilder
	for _, a := range addrs {
		switch a.Kind {
		case domain.AddressKindIP:
			b.Add(a.IP)
		case domain.AddressKindSubnet:
			b.AddPrefix(a.Subnet)
		case domain.AddressKindRange:
			b.AddRange(netipx.IPRangeFrom(a.Start, a.End))
		}
	}
	set, err := b.IPSet()
	require.NoError(t, err)
	return set
}

func toRanges(t *testing.T, addrs []domain.Address) []merger.IPv4Range {
	t.Helper()
	out := make([]merger.IPv4Range, 0, len(addrs))
	for _, a := range addrs {
		var r netipx.IPRange
		switch a.Kind {
		case domain.AddressKindIP:
			r = netipx.IPRangeFrom(a.IP, a.IP)
		case domain.AddressKindSubnet:
			r = netipx.RangeOfPrefix(a.Subnet)
		case domain.AddressKindRange:
			r = netipx.IPRangeFrom(a.Start, a.End)
		}
		out = append(out, v4(t, r.From().String(), r.To().String()))
	}
	return out
}

func TestMergeAddressRanges_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	base := netip.MustParseAddr("10.0.0.0").As4()

	for i := 0; i < 200; i++ {
		var input []merger.IPv4Range
		var want netipx.IPSetBuilder
		for j := 0; j < 1+rng.Intn(6); j++ {
			lo := rng.Intn(2048)
			hi := lo + rng.Intn(600)
			from := base
			to := base
			from[2], from[3] = byte(lo>>8), byte(lo)
			to[2], to[3] = byte(hi>>8), byte(hi)
			r := v4(t, netip.AddrFrom4(from).String(), netip.AddrFrom4(to).String())
			input = append(input, r)
			want.AddRange(netipx.IPRangeFrom(netip.AddrFrom4(from), netip.AddrFrom4(to)))
		}
		wantSet, err := want.IPSet()
		require.NoError(t, err)

		out := merger.MergeAddressRanges(input)

		// Coverage: exactly the union of the input.
		require.True(t, coverage(t, out).Equal(wantSet), "coverage mismatch for %v", out)

		// Disjoint and ascending.
		var prevEnd netip.Addr
		for k, a := range out {
			var from, to netip.Addr
			switch a.Kind {
			case domain.AddressKindIP:
				from, to = a.IP, a.IP
			case domain.AddressKindSubnet:
				pr := netipx.RangeOfPrefix(a.Subnet)
				from, to = pr.From(), pr.To()
			case domain.AddressKindRange:
				from, to = a.Start, a.End
			}
			if k > 0 {
				require.True(t, prevEnd.Less(from), "representations overlap or are unordered: %v", out)
			}
			prevEnd = to
		}

		// Idempotence: merging the output again covers the same addresses.
		again := merger.MergeAddressRanges(toRanges(t, out))
		require.True(t, coverage(t, again).Equal(wantSet))
	}
}
