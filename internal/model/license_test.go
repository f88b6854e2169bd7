package model

import (
	"testing"
	"time"
)

func TestLicense_Evaluate(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-24 * time.Hour)
	future := now.Add(24 * time.Hour)

	testCases := []struct {
		name     string
		status   LicenseStatus
		expireAt *time.Time
		want     LifecycleState
	}{
		{
			name:   "active without expiry",
			status: LicenseStatusActive,
			want:   LifecycleActive,
		},
		{
			name:     "active with future expiry",
			status:   LicenseStatusActive,
			expireAt: &future,
			want:     LifecycleActive,
		},
		{
			name:     "active with past expiry",
			status:   LicenseStatusActive,
			expireAt: &past,
			want:     LifecycleTimeExpired,
		},
		{
			name:   "pending",
			status: LicenseStatusPending,
			want:   LifecycleNotActive,
		},
		{
			name:   "suspended",
			status: LicenseStatusSuspended,
			want:   LifecycleNotActive,
		},
		{
			name:   "recorded expired",
			status: LicenseStatusExpired,
			want:   LifecycleNotActive,
		},
		{
			// Status gate runs first: a suspended license with a past
			// expiry reports its true recorded status.
			name:     "suspended with past expiry",
			status:   LicenseStatusSuspended,
			expireAt: &past,
			want:     LifecycleNotActive,
		},
		{
			name:     "pending with past expiry",
			status:   LicenseStatusPending,
			expireAt: &past,
			want:     LifecycleNotActive,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			l := &License{Status: tc.status, ExpireAt: tc.expireAt}
			if got := l.Evaluate(now); got != tc.want {
				t.Errorf("Evaluate() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestLicense_IsTimeExpired(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	if (&License{}).IsTimeExpired(now) {
		t.Error("license without expiry reported as time-expired")
	}
	if !(&License{ExpireAt: &past}).IsTimeExpired(now) {
		t.Error("license with past expiry not reported as time-expired")
	}
	if (&License{ExpireAt: &future}).IsTimeExpired(now) {
		t.Error("license with future expiry reported as time-expired")
	}
}

func TestValidLicenseKey(t *testing.T) {
	testCases := []struct {
		name string
		key  string
		want bool
	}{
		{"canonical", "ABCD-1234-EFGH-5678", true},
		{"all letters", "ABCD-EFGH-IJKL-MNOP", true},
		{"all digits", "0123-4567-8901-2345", true},
		{"empty", "", false},
		{"lowercase", "abcd-1234-efgh-5678", false},
		{"missing group", "ABCD-1234-EFGH", false},
		{"extra group", "ABCD-1234-EFGH-5678-9012", false},
		{"short group", "ABC-1234-EFGH-5678", false},
		{"long group", "ABCDE-1234-EFGH-5678", false},
		{"no hyphens", "ABCD1234EFGH5678", false},
		{"leading space", " ABCD-1234-EFGH-5678", false},
		{"trailing space", "ABCD-1234-EFGH-5678 ", false},
		{"special chars", "ABCD-12!4-EFGH-5678", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ValidLicenseKey(tc.key); got != tc.want {
				t.Errorf("ValidLicenseKey(%q) = %v, want %v", tc.key, got, tc.want)
			}
		})
	}
}

func TestGenerateLicenseKey(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		key, err := GenerateLicenseKey()
		if err != nil {
			t.Fatalf("GenerateLicenseKey failed: %v", err)
		}
		if !ValidLicenseKey(key) {
			t.Fatalf("generated key %q does not match canonical shape", key)
		}
		if seen[key] {
			t.Fatalf("generated duplicate key %q", key)
		}
		seen[key] = true
	}
}

func TestLicenseStatus_IsValid(t *testing.T) {
	for _, s := range ValidLicenseStatuses {
		if !s.IsValid() {
			t.Errorf("status %q should be valid", s)
		}
	}
	for _, s := range []LicenseStatus{"", "revoked", "Active", "ACTIVE"} {
		if s.IsValid() {
			t.Errorf("status %q should be invalid", s)
		}
	}
}
