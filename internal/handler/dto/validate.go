// Package dto provides Data Transfer Objects for API requests and responses.
package dto

import (
	"time"

	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/service"
)

// ValidateLicenseRequest represents the request body for license validation.
type ValidateLicenseRequest struct {
	LicenseKey string `json:"license_key"`
	HWID       string `json:"hwid,omitempty"`
	DeviceName string `json:"device_name,omitempty"`
	OSInfo     string `json:"os_info,omitempty"`
}

// ValidateLicenseResponse represents the validation verdict.
// Business denials keep Valid=false, the reason in Error, and a license
// object trimmed to the fields relevant to the denial.
type ValidateLicenseResponse struct {
	Valid   bool            `json:"valid"`
	Error   string          `json:"error,omitempty"`
	License *LicenseDetails `json:"license,omitempty"`
}

// LicenseDetails is the license summary carried on successes and business
// denials. Which fields are present depends on the outcome: a full summary
// on success, key+status on a status denial, key+status+expiry on an
// expiry denial, key+quota counts on a quota denial.
type LicenseDetails struct {
	Key            string     `json:"key"`
	Status         string     `json:"status,omitempty"`
	ExpireAt       *time.Time `json:"expire_at,omitempty"`
	MaxDevices     int        `json:"max_devices,omitempty"`
	CurrentDevices *int       `json:"current_devices,omitempty"`
	Customer       string     `json:"customer,omitempty"`
	Product        string     `json:"product,omitempty"`
}

// ToValidateResponse converts a verdict to the wire response.
func ToValidateResponse(verdict *service.Verdict) ValidateLicenseResponse {
	lic := verdict.License
	if !verdict.Valid {
		resp := ValidateLicenseResponse{
			Valid: false,
			Error: verdict.DenialMessage(),
		}
		switch verdict.Denial {
		case service.DenialStatus:
			resp.License = &LicenseDetails{
				Key:    lic.LicenseKey,
				Status: string(lic.Status),
			}
		case service.DenialExpired:
			// Reported as expired even though the stored status is
			// still active; the clock, not the operator, denied it.
			resp.License = &LicenseDetails{
				Key:      lic.LicenseKey,
				Status:   string(model.LicenseStatusExpired),
				ExpireAt: lic.ExpireAt,
			}
		case service.DenialQuota:
			devices := verdict.ActiveDevices
			resp.License = &LicenseDetails{
				Key:            lic.LicenseKey,
				MaxDevices:     lic.MaxDevices,
				CurrentDevices: &devices,
			}
		}
		return resp
	}

	devices := verdict.ActiveDevices
	return ValidateLicenseResponse{
		Valid: true,
		License: &LicenseDetails{
			Key:            lic.LicenseKey,
			Status:         string(lic.Status),
			ExpireAt:       lic.ExpireAt,
			MaxDevices:     lic.MaxDevices,
			CurrentDevices: &devices,
			Customer:       lic.CustomerName,
			Product:        lic.ProductName,
		},
	}
}

// ValidateErrorResponse builds the uniform error shape for the
// validation endpoint.
func ValidateErrorResponse(message string) ValidateLicenseResponse {
	return ValidateLicenseResponse{Valid: false, Error: message}
}
