// Package model defines domain entities for the application.
package model

import "time"

// Credential represents a machine-to-machine API credential.
//
// The raw key is stored verbatim: the owning account may view it again from
// the dashboard, and the validation endpoint authenticates by exact match.
// It is never serialized in API responses from this service.
type Credential struct {
	ID         string     `json:"id"`
	OwnerID    string     `json:"owner_id"`
	Key        string     `json:"-"`
	KeyPrefix  string     `json:"key_prefix"`
	Name       string     `json:"name,omitempty"`
	IsActive   bool       `json:"is_active"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// IsExpired reports whether the credential has an expiry in the past.
func (c *Credential) IsExpired(now time.Time) bool {
	return c.ExpiresAt != nil && now.After(*c.ExpiresAt)
}

// Usable reports whether the credential may authenticate a request.
func (c *Credential) Usable(now time.Time) bool {
	return c.IsActive && !c.IsExpired(now)
}

// AuthContext holds the authenticated caller's identity.
// Injected into the request context by the auth middleware.
type AuthContext struct {
	CredentialID string
	KeyPrefix    string
	OwnerID      string
	// ExpiresAt is carried so cached contexts can re-check expiry at use time.
	ExpiresAt *time.Time
}

// Expired reports whether the underlying credential's expiry has passed.
func (a *AuthContext) Expired(now time.Time) bool {
	return a.ExpiresAt != nil && now.After(*a.ExpiresAt)
}
