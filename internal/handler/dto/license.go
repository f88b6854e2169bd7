package dto

import (
	"time"

	"github.com/keygate/keygate/internal/model"
)

// CreateLicenseRequest represents the request body for creating a license.
// LicenseKey is optional; a key is generated when omitted.
type CreateLicenseRequest struct {
	LicenseKey string     `json:"license_key,omitempty"`
	CustomerID string     `json:"customer_id"`
	ProductID  string     `json:"product_id"`
	Status     string     `json:"status,omitempty"`
	ExpireAt   *time.Time `json:"expire_at,omitempty"`
	MaxDevices int        `json:"max_devices"`
}

// UpdateLicenseStatusRequest represents a status change request.
type UpdateLicenseStatusRequest struct {
	Status string `json:"status"`
}

// LicenseResponse represents a license in management API responses.
type LicenseResponse struct {
	ID         string     `json:"id"`
	LicenseKey string     `json:"license_key"`
	CustomerID string     `json:"customer_id"`
	ProductID  string     `json:"product_id"`
	Status     string     `json:"status"`
	ExpireAt   *time.Time `json:"expire_at,omitempty"`
	MaxDevices int        `json:"max_devices"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// ToLicenseResponse converts a license model.
func ToLicenseResponse(lic *model.License) LicenseResponse {
	return LicenseResponse{
		ID:         lic.ID,
		LicenseKey: lic.LicenseKey,
		CustomerID: lic.CustomerID,
		ProductID:  lic.ProductID,
		Status:     string(lic.Status),
		ExpireAt:   lic.ExpireAt,
		MaxDevices: lic.MaxDevices,
		CreatedAt:  lic.CreatedAt,
		UpdatedAt:  lic.UpdatedAt,
	}
}

// DeviceResponse represents a device binding in API responses.
type DeviceResponse struct {
	ID             string     `json:"id"`
	LicenseID      string     `json:"license_id"`
	HWID           string     `json:"hwid"`
	DeviceName     string     `json:"device_name,omitempty"`
	OSInfo         string     `json:"os_info,omitempty"`
	IsActive       bool       `json:"is_active"`
	LastVerifiedAt *time.Time `json:"last_verified_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// DeviceListResponse wraps a list of device bindings.
type DeviceListResponse struct {
	Data []DeviceResponse `json:"data"`
}

// ToDeviceListResponse converts a slice of device bindings.
func ToDeviceListResponse(devices []*model.DeviceBinding) DeviceListResponse {
	out := DeviceListResponse{Data: make([]DeviceResponse, 0, len(devices))}
	for _, d := range devices {
		out.Data = append(out.Data, DeviceResponse{
			ID:             d.ID,
			LicenseID:      d.LicenseID,
			HWID:           d.HWID,
			DeviceName:     d.DeviceName,
			OSInfo:         d.OSInfo,
			IsActive:       d.IsActive,
			LastVerifiedAt: d.LastVerifiedAt,
			CreatedAt:      d.CreatedAt,
		})
	}
	return out
}
