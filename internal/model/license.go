package model

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"
)

// LicenseStatus is the operator-recorded status of a license.
// It is independent of the time-based expiry gate.
type LicenseStatus string

const (
	LicenseStatusActive    LicenseStatus = "active"
	LicenseStatusPending   LicenseStatus = "pending"
	LicenseStatusSuspended LicenseStatus = "suspended"
	LicenseStatusExpired   LicenseStatus = "expired"
)

// ValidLicenseStatuses contains all recognized status values.
var ValidLicenseStatuses = []LicenseStatus{
	LicenseStatusActive,
	LicenseStatusPending,
	LicenseStatusSuspended,
	LicenseStatusExpired,
}

// IsValid checks if the status is a recognized value.
func (s LicenseStatus) IsValid() bool {
	switch s {
	case LicenseStatusActive, LicenseStatusPending, LicenseStatusSuspended, LicenseStatusExpired:
		return true
	}
	return false
}

// License represents a software license entity.
type License struct {
	ID         string        `json:"id"`
	LicenseKey string        `json:"license_key"`
	CustomerID string        `json:"customer_id"`
	ProductID  string        `json:"product_id"`
	Status     LicenseStatus `json:"status"`
	ExpireAt   *time.Time    `json:"expire_at,omitempty"`
	MaxDevices int           `json:"max_devices"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`

	// Eager-loaded names for response enrichment. Empty when not joined.
	CustomerName string `json:"customer_name,omitempty"`
	ProductName  string `json:"product_name,omitempty"`
}

// LifecycleState is the outcome of evaluating a license at a point in time.
type LifecycleState int

const (
	// LifecycleActive: recorded status is active and expiry has not passed.
	LifecycleActive LifecycleState = iota
	// LifecycleNotActive: recorded status is pending, suspended, or expired.
	// The recorded status is reported as-is, never masked as a time expiry.
	LifecycleNotActive
	// LifecycleTimeExpired: recorded status is active but expire_at has passed.
	LifecycleTimeExpired
)

// Evaluate applies the lifecycle rule: the recorded status gates first, and
// expire_at is consulted only when the status is active.
func (l *License) Evaluate(now time.Time) LifecycleState {
	if l.Status != LicenseStatusActive {
		return LifecycleNotActive
	}
	if l.ExpireAt != nil && now.After(*l.ExpireAt) {
		return LifecycleTimeExpired
	}
	return LifecycleActive
}

// IsTimeExpired reports whether expire_at is set and in the past,
// regardless of the recorded status.
func (l *License) IsTimeExpired(now time.Time) bool {
	return l.ExpireAt != nil && now.After(*l.ExpireAt)
}

// License key format: four groups of four uppercase alphanumerics,
// e.g. ABCD-1234-EFGH-5678.
const (
	licenseKeyGroups    = 4
	licenseKeyGroupLen  = 4
	licenseKeyAlphabet  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

var licenseKeyPattern = regexp.MustCompile(`^[A-Z0-9]{4}-[A-Z0-9]{4}-[A-Z0-9]{4}-[A-Z0-9]{4}$`)

// ValidLicenseKey checks whether a key matches the canonical shape.
// Matching is exact: no trimming, no case folding.
func ValidLicenseKey(key string) bool {
	return licenseKeyPattern.MatchString(key)
}

// GenerateLicenseKey produces a random key in the canonical shape.
func GenerateLicenseKey() (string, error) {
	groups := make([]string, licenseKeyGroups)
	for g := range groups {
		var b strings.Builder
		for i := 0; i < licenseKeyGroupLen; i++ {
			n, err := rand.Int(rand.Reader, big.NewInt(int64(len(licenseKeyAlphabet))))
			if err != nil {
				return "", fmt.Errorf("generate license key: %w", err)
			}
			b.WriteByte(licenseKeyAlphabet[n.Int64()])
		}
		groups[g] = b.String()
	}
	return strings.Join(groups, "-"), nil
}
