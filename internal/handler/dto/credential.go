package dto

import (
	"time"

	"github.com/keygate/keygate/internal/model"
)

// CreateCredentialRequest represents the request body for creating a credential.
type CreateCredentialRequest struct {
	Name        string     `json:"name"`
	Environment string     `json:"environment,omitempty"` // "live" or "test"
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// UpdateCredentialRequest represents the request body for toggling a credential.
type UpdateCredentialRequest struct {
	IsActive *bool `json:"is_active"`
}

// CredentialResponse represents a credential in API responses.
// Key is populated only in the creation response.
type CredentialResponse struct {
	ID         string     `json:"id"`
	Key        string     `json:"key,omitempty"`
	KeyPrefix  string     `json:"key_prefix"`
	Name       string     `json:"name,omitempty"`
	IsActive   bool       `json:"is_active"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// CredentialListResponse wraps a list of credentials.
type CredentialListResponse struct {
	Data []CredentialResponse `json:"data"`
}

// ToCredentialResponse converts a credential, omitting the raw key.
func ToCredentialResponse(cred *model.Credential) CredentialResponse {
	return CredentialResponse{
		ID:         cred.ID,
		KeyPrefix:  cred.KeyPrefix,
		Name:       cred.Name,
		IsActive:   cred.IsActive,
		ExpiresAt:  cred.ExpiresAt,
		LastUsedAt: cred.LastUsedAt,
		CreatedAt:  cred.CreatedAt,
	}
}

// ToCreatedCredentialResponse includes the raw key. This is the only
// response that ever carries it.
func ToCreatedCredentialResponse(cred *model.Credential) CredentialResponse {
	resp := ToCredentialResponse(cred)
	resp.Key = cred.Key
	return resp
}

// ToCredentialListResponse converts a slice of credentials.
func ToCredentialListResponse(creds []*model.Credential) CredentialListResponse {
	out := CredentialListResponse{Data: make([]CredentialResponse, 0, len(creds))}
	for _, cred := range creds {
		out.Data = append(out.Data, ToCredentialResponse(cred))
	}
	return out
}

// ErrorResponse is the error shape for management endpoints.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
