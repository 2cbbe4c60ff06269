package domain

import (
	"encoding/json"
	"fmt"
	"net/netip"
)

// Verdict is the action taken on matching traffic.
type Verdict string

const (
	VerdictAllow Verdict = "allow"
	VerdictDeny  Verdict = "deny"
)

// IPVersion is an address family.
type IPVersion string

const (
	IPv4 IPVersion = "ipv4"
	IPv6 IPVersion = "ipv6"
)

// AddressKind tags an Address representation.
type AddressKind int

const (
	AddressKindIP AddressKind = iota
	AddressKindSubnet
	AddressKindRange
)

// Address is a canonical firewall address: a single IP, a CIDR subnet or an explicit range.
type Address struct {
	Kind   AddressKind
	IP     netip.Addr
	Subnet netip.Prefix
	Start  netip.Addr
	End    netip.Addr
}

// IPAddress returns a single-IP representation.
func IPAddress(ip netip.Addr) Address { return Address{Kind: AddressKindIP, IP: ip} }

// SubnetAddress returns a CIDR representation.
func SubnetAddress(p netip.Prefix) Address { return Address{Kind: AddressKindSubnet, Subnet: p} }

// RangeAddress returns an explicit range representation.
func RangeAddress(start, end netip.Addr) Address {
	return Address{Kind: AddressKindRange, Start: start, End: end}
}

func (a Address) String() string {
	switch a.Kind {
	case AddressKindSubnet:
		return a.Subnet.String()
	case AddressKindRange:
		return a.Start.String() + "-" + a.End.String()
	default:
		return a.IP.String()
	}
}

type addressWire struct {
	IP     string     `json:"ip,omitempty" yaml:"ip,omitempty"`
	Subnet string     `json:"subnet,omitempty" yaml:"subnet,omitempty"`
	Range  *rangeWire `json:"range,omitempty" yaml:"range,omitempty"`
}

type rangeWire struct {
	Start string `json:"start" yaml:"start"`
	End   string `json:"end" yaml:"end"`
}

func (a Address) wire() addressWire {
	switch a.Kind {
	case AddressKindSubnet:
		return addressWire{Subnet: a.Subnet.String()}
	case AddressKindRange:
		return addressWire{Range: &rangeWire{Start: a.Start.String(), End: a.End.String()}}
	default:
		return addressWire{IP: a.IP.String()}
	}
}

// MarshalJSON renders {"ip":..} | {"subnet":..} | {"range":{"start":..,"end":..}}.
func (a Address) MarshalJSON() ([]byte, error) { return json.Marshal(a.wire()) }

// MarshalYAML mirrors MarshalJSON.
func (a Address) MarshalYAML() (any, error) { return a.wire(), nil }

// UnmarshalJSON implements json.Unmarshaler.
func (a *Address) UnmarshalJSON(data []byte) error {
	var w addressWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch {
	case w.IP != "":
		ip, err := netip.ParseAddr(w.IP)
		if err != nil {
			return err
		}
		*a = IPAddress(ip)
	case w.Subnet != "":
		p, err := netip.ParsePrefix(w.Subnet)
		if err != nil {
			return err
		}
		*a = SubnetAddress(p)
	case w.Range != nil:
		start, err := netip.ParseAddr(w.Range.Start)
		if err != nil {
			return err
		}
		end, err := netip.ParseAddr(w.Range.End)
		if err != nil {
			return err
		}
		*a = RangeAddress(start, end)
	default:
		return fmt.Errorf("empty address")
	}
	return nil
}

// Port is a canonical firewall port: a single port or an inclusive range.
type Port struct {
	Start uint16
	End   uint16
}

// SinglePort returns a single-port representation.
func SinglePort(p uint16) Port { return Port{Start: p, End: p} }

// PortSpan returns a port-range representation.
func PortSpan(start, end uint16) Port { return Port{Start: start, End: end} }

// IsSingle reports whether the port covers exactly one value.
func (p Port) IsSingle() bool { return p.Start == p.End }

func (p Port) String() string {
	if p.IsSingle() {
		return fmt.Sprintf("%d", p.Start)
	}
	return fmt.Sprintf("%d-%d", p.Start, p.End)
}

type portWire struct {
	Port  *uint16        `json:"port,omitempty" yaml:"port,omitempty"`
	Range *portRangeWire `json:"range,omitempty" yaml:"range,omitempty"`
}

type portRangeWire struct {
	Start uint16 `json:"start" yaml:"start"`
	End   uint16 `json:"end" yaml:"end"`
}

func (p Port) wire() portWire {
	if p.IsSingle() {
		v := p.Start
		return portWire{Port: &v}
	}
	return portWire{Range: &portRangeWire{Start: p.Start, End: p.End}}
}

// MarshalJSON renders {"port":n} | {"range":{"start":a,"end":b}}.
func (p Port) MarshalJSON() ([]byte, error) { return json.Marshal(p.wire()) }

// MarshalYAML mirrors MarshalJSON.
func (p Port) MarshalYAML() (any, error) { return p.wire(), nil }

// UnmarshalJSON implements json.Unmarshaler.
func (p *Port) UnmarshalJSON(data []byte) error {
	var w portWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch {
	case w.Port != nil:
		*p = SinglePort(*w.Port)
	case w.Range != nil:
		*p = PortSpan(w.Range.Start, w.Range.End)
	default:
		return fmt.Errorf("empty port")
	}
	return nil
}

// SourceSelector is the symbolic audience a firewall rule was compiled from.
type SourceSelector struct {
	AllUsers          bool    `json:"allUsers" yaml:"allUsers"`
	AllNetworkDevices bool    `json:"allNetworkDevices" yaml:"allNetworkDevices"`
	Users             []int64 `json:"users,omitempty" yaml:"users,omitempty"`
	Groups            []int64 `json:"groups,omitempty" yaml:"groups,omitempty"`
	Devices           []int64 `json:"devices,omitempty" yaml:"devices,omitempty"`
}

// FirewallRule is one compiled, gateway-ready rule.
// Empty destination addresses, ports or protocols match everything in that dimension;
// an empty source address list matches no traffic.
type FirewallRule struct {
	ID                   int64          `json:"id" yaml:"id"`
	Verdict              Verdict        `json:"verdict" yaml:"verdict"`
	IPVersion            IPVersion      `json:"ipVersion" yaml:"ipVersion"`
	Source               SourceSelector `json:"source" yaml:"source"`
	SourceAddresses      []Address      `json:"sourceAddresses" yaml:"sourceAddresses"`
	DestinationAddresses []Address      `json:"destinationAddresses" yaml:"destinationAddresses"`
	DestinationPorts     []Port         `json:"destinationPorts" yaml:"destinationPorts"`
	Protocols            []Protocol     `json:"protocols" yaml:"protocols"`
	Comment              string         `json:"comment,omitempty" yaml:"comment,omitempty"`
}

// FirewallConfig is the ordered rule list for a location plus its fallback verdict.
type FirewallConfig struct {
	Rules          []FirewallRule `json:"rules" yaml:"rules"`
	DefaultVerdict Verdict        `json:"defaultVerdict" yaml:"defaultVerdict"`
}
