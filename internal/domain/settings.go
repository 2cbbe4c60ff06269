package domain

import "time"

// Settings holds persisted, process-wide switches that influence firewall output.
type Settings struct {
	EnterpriseEnabled bool      `json:"enterpriseEnabled" db:"enterprise_enabled"`
	UpdatedAt         time.Time `json:"updatedAt" db:"updated_at"`
}

// DefaultSettings is used until settings are stored for the first time.
func DefaultSettings() *Settings {
	return &Settings{EnterpriseEnabled: true}
}

// SettingsRequest is the request body for updating settings.
type SettingsRequest struct {
	EnterpriseEnabled *bool `json:"enterpriseEnabled,omitempty"`
}
