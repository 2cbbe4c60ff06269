package domain

import "net/netip"

// User is a VPN user. Inactive users never contribute source addresses.
type User struct {
	ID       int64  `json:"id" db:"id"`
	Username string `json:"username" db:"username"`
	Active   bool   `json:"active" db:"active"`
}

// Group is a named set of users.
type Group struct {
	ID      int64   `json:"id" db:"id"`
	Name    string  `json:"name" db:"name"`
	Members []int64 `json:"members" db:"-"`
}

// Device is a WireGuard peer. Devices without an owner are network devices.
type Device struct {
	ID     int64  `json:"id" db:"id"`
	Name   string `json:"name" db:"name"`
	UserID *int64 `json:"userId,omitempty" db:"user_id"`
}

// IsNetworkDevice reports whether the device is not owned by a user.
func (d *Device) IsNetworkDevice() bool { return d.UserID == nil }

// DeviceAddress holds the VPN addresses assigned to a device in one location.
type DeviceAddress struct {
	DeviceID   int64        `json:"deviceId"`
	LocationID int64        `json:"locationId"`
	Addresses  []netip.Addr `json:"addresses"`
}

// Identities is the directory snapshot used to resolve rule sources.
type Identities struct {
	Users     []User          `json:"users"`
	Groups    []Group         `json:"groups"`
	Devices   []Device        `json:"devices"`
	Addresses []DeviceAddress `json:"addresses"`
}
