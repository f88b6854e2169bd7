package middleware

import (
	"errors"
	"strings"
	"unicode"
)

// Validation limits.
const (
	// MaxLicenseKeyLength bounds the license_key field before the shape
	// check runs, so oversized payloads fail fast.
	MaxLicenseKeyLength = 64

	// MaxHWIDLength is the maximum length for a hardware identifier.
	MaxHWIDLength = 128

	// MaxDeviceNameLength is the maximum length for a device name.
	MaxDeviceNameLength = 128

	// MaxOSInfoLength is the maximum length for the OS info string.
	MaxOSInfoLength = 128

	// MaxCredentialNameLength is the maximum length for a credential label.
	MaxCredentialNameLength = 100
)

// Validation errors.
var (
	ErrLicenseKeyTooLong     = errors.New("license key exceeds maximum length")
	ErrHWIDTooLong           = errors.New("hwid exceeds maximum length")
	ErrHWIDInvalid           = errors.New("hwid contains invalid characters")
	ErrDeviceNameTooLong     = errors.New("device name exceeds maximum length")
	ErrOSInfoTooLong         = errors.New("os info exceeds maximum length")
	ErrCredentialNameEmpty   = errors.New("credential name is required")
	ErrCredentialNameTooLong = errors.New("credential name exceeds maximum length")
)

// ValidateLicenseKeyInput bounds the raw license key field. Shape
// validation happens in the model; this only rejects abusive input.
func ValidateLicenseKeyInput(key string) error {
	if len(key) > MaxLicenseKeyLength {
		return ErrLicenseKeyTooLong
	}
	return nil
}

// ValidateHWID validates a hardware identifier. HWIDs come from customer
// machines so the charset is permissive, but control characters and
// non-ASCII are rejected to keep storage and logs clean.
func ValidateHWID(hwid string) error {
	if hwid == "" {
		return nil // hwid is optional, validation proceeds without binding
	}
	if len(hwid) > MaxHWIDLength {
		return ErrHWIDTooLong
	}
	for _, r := range hwid {
		if r > unicode.MaxASCII || unicode.IsControl(r) {
			return ErrHWIDInvalid
		}
	}
	return nil
}

// ValidateDeviceName bounds the optional device name field.
func ValidateDeviceName(name string) error {
	if len(name) > MaxDeviceNameLength {
		return ErrDeviceNameTooLong
	}
	return nil
}

// ValidateOSInfo bounds the optional os_info field.
func ValidateOSInfo(info string) error {
	if len(info) > MaxOSInfoLength {
		return ErrOSInfoTooLong
	}
	return nil
}

// ValidateCredentialName validates a credential label for creation.
func ValidateCredentialName(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrCredentialNameEmpty
	}
	if len(name) > MaxCredentialNameLength {
		return ErrCredentialNameTooLong
	}
	return nil
}
