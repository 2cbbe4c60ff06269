package domain

// GatewayEventKind names a gateway event variant.
type GatewayEventKind string

const (
	EventFirewallConfigChanged GatewayEventKind = "firewall_config_changed"
	EventFirewallDisabled      GatewayEventKind = "firewall_disabled"
)

// GatewayEvent is broadcast to every gateway subscribed to LocationID.
type GatewayEvent struct {
	Kind       GatewayEventKind `json:"kind"`
	LocationID int64            `json:"locationId"`
	Config     *FirewallConfig  `json:"config,omitempty"`
}

// FirewallConfigChanged builds the event carrying a freshly compiled config.
func FirewallConfigChanged(locationID int64, cfg *FirewallConfig) GatewayEvent {
	return GatewayEvent{Kind: EventFirewallConfigChanged, LocationID: locationID, Config: cfg}
}

// FirewallDisabled builds the event telling gateways to drop their ruleset.
func FirewallDisabled(locationID int64) GatewayEvent {
	return GatewayEvent{Kind: EventFirewallDisabled, LocationID: locationID}
}
