package model

import "time"

// DeviceBinding links a hardware fingerprint to a license.
type DeviceBinding struct {
	ID             string     `json:"id"`
	LicenseID      string     `json:"license_id"`
	HWID           string     `json:"hwid"`
	DeviceName     string     `json:"device_name,omitempty"`
	OSInfo         string     `json:"os_info,omitempty"`
	IsActive       bool       `json:"is_active"`
	LastVerifiedAt *time.Time `json:"last_verified_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// BindOutcome is the tagged result of a validate-time device upsert.
type BindOutcome int

const (
	// BindAccepted: a new binding was created within quota.
	BindAccepted BindOutcome = iota
	// BindRefreshed: the (license, hwid) pair already existed; its
	// last-verified timestamp was refreshed. Existing devices are never
	// blocked by quota changes.
	BindRefreshed
	// BindRejectedQuota: the license is at its device quota and the hwid
	// was previously unseen. Nothing was created.
	BindRejectedQuota
)

// DeviceBindResult carries the outcome of an upsert-on-validate call.
type DeviceBindResult struct {
	Outcome BindOutcome
	// Binding is set for BindAccepted and BindRefreshed.
	Binding *DeviceBinding
	// ActiveDevices is the active-binding count observed at decision time,
	// including any binding created by this call.
	ActiveDevices int
}
