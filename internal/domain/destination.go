package domain

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"go4.org/netipx"
)

// AddressRange is a closed interval of addresses from a single family.
// Its text form is a single IP, a CIDR or an explicit "start-end" range.
type AddressRange struct {
	From netip.Addr
	To   netip.Addr
}

// ParseAddressRange parses a single IP, a CIDR or a "start-end" range.
func ParseAddressRange(s string) (AddressRange, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return AddressRange{}, fmt.Errorf("address must not be empty")
	}
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return AddressRange{}, fmt.Errorf("invalid CIDR %q", s)
		}
		r := netipx.RangeOfPrefix(p.Masked())
		from, to := r.From().Unmap(), r.To().Unmap()
		if from.Is4() != to.Is4() {
			return AddressRange{}, fmt.Errorf("CIDR %q mixes IPv4 and IPv6", s)
		}
		return AddressRange{From: from, To: to}, nil
	}
	if from, to, ok := strings.Cut(s, "-"); ok {
		start, err := netip.ParseAddr(strings.TrimSpace(from))
		if err != nil {
			return AddressRange{}, fmt.Errorf("invalid range start %q", from)
		}
		end, err := netip.ParseAddr(strings.TrimSpace(to))
		if err != nil {
			return AddressRange{}, fmt.Errorf("invalid range end %q", to)
		}
		start, end = start.Unmap(), end.Unmap()
		if start.Is4() != end.Is4() {
			return AddressRange{}, fmt.Errorf("range %q mixes IPv4 and IPv6", s)
		}
		if end.Less(start) {
			return AddressRange{}, fmt.Errorf("range %q ends before it starts", s)
		}
		return AddressRange{From: start, To: end}, nil
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return AddressRange{}, fmt.Errorf("invalid IP address %q", s)
	}
	addr = addr.Unmap().WithZone("")
	return AddressRange{From: addr, To: addr}, nil
}

// Is4 reports whether the range holds IPv4 addresses.
func (r AddressRange) Is4() bool { return r.From.Is4() }

// String renders the most compact text form of the range.
func (r AddressRange) String() string {
	if r.From == r.To {
		return r.From.String()
	}
	if p, ok := netipx.IPRangeFrom(r.From, r.To).Prefix(); ok {
		return p.String()
	}
	return r.From.String() + "-" + r.To.String()
}

// MarshalText implements encoding.TextMarshaler.
func (r AddressRange) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *AddressRange) UnmarshalText(text []byte) error {
	parsed, err := ParseAddressRange(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// PortRange is an inclusive range of ports, 1..65535.
type PortRange struct {
	Start uint16
	End   uint16
}

// ParsePortRange parses "80" or "8000-8080".
func ParsePortRange(s string) (PortRange, error) {
	s = strings.TrimSpace(s)
	if start, end, ok := strings.Cut(s, "-"); ok {
		a, err := parsePort(start)
		if err != nil {
			return PortRange{}, err
		}
		b, err := parsePort(end)
		if err != nil {
			return PortRange{}, err
		}
		if b < a {
			return PortRange{}, fmt.Errorf("port range %q ends before it starts", s)
		}
		return PortRange{Start: a, End: b}, nil
	}
	p, err := parsePort(s)
	if err != nil {
		return PortRange{}, err
	}
	return PortRange{Start: p, End: p}, nil
}

func parsePort(s string) (uint16, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 16)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("invalid port number: %s", s)
	}
	return uint16(n), nil
}

// String renders "80" or "8000-8080".
func (p PortRange) String() string {
	if p.Start == p.End {
		return strconv.Itoa(int(p.Start))
	}
	return fmt.Sprintf("%d-%d", p.Start, p.End)
}

// MarshalText implements encoding.TextMarshaler.
func (p PortRange) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *PortRange) UnmarshalText(text []byte) error {
	parsed, err := ParsePortRange(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Protocol is an IANA protocol number (6 = TCP, 17 = UDP, 1 = ICMP).
type Protocol int

// Common protocol numbers.
const (
	ProtocolICMP Protocol = 1
	ProtocolTCP  Protocol = 6
	ProtocolUDP  Protocol = 17
)

// Destination describes where traffic allowed by a rule or alias may go.
type Destination struct {
	Addresses   []AddressRange `json:"addresses" db:"-"`
	Ports       []PortRange    `json:"ports" db:"-"`
	Protocols   []Protocol     `json:"protocols" db:"-"`
	AnyAddress  bool           `json:"anyAddress" db:"any_address"`
	AnyPort     bool           `json:"anyPort" db:"any_port"`
	AnyProtocol bool           `json:"anyProtocol" db:"any_protocol"`
}

// Extend folds another destination into d. Any-flags win over explicit values.
func (d *Destination) Extend(other Destination) {
	d.Addresses = append(d.Addresses, other.Addresses...)
	d.Ports = append(d.Ports, other.Ports...)
	d.Protocols = append(d.Protocols, other.Protocols...)
	d.AnyAddress = d.AnyAddress || other.AnyAddress
	d.AnyPort = d.AnyPort || other.AnyPort
	d.AnyProtocol = d.AnyProtocol || other.AnyProtocol
}

// DestinationRequest carries destination fields in their text form.
type DestinationRequest struct {
	Addresses   []string   `json:"addresses,omitempty"`
	Ports       []string   `json:"ports,omitempty"`
	Protocols   []Protocol `json:"protocols,omitempty"`
	AnyAddress  bool       `json:"anyAddress"`
	AnyPort     bool       `json:"anyPort"`
	AnyProtocol bool       `json:"anyProtocol"`
}
