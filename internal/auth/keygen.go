// Package auth provides API credential token utilities and request context.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
)

// Token format: ck_{env}_{prefix}_{secret}
// Example: ck_live_7a9x3k_4f8d2e1b9c7a5f3d2e1b9c7a5f3d2e1b
const (
	TokenPrefixLen = 6  // Visible prefix length (hex encoded 3 bytes)
	TokenSecretLen = 32 // Secret length (hex encoded 16 bytes)
)

// Environment indicators for the token prefix.
const (
	EnvLive = "live"
	EnvTest = "test"
)

var (
	// ErrInvalidTokenFormat indicates the token format is invalid.
	ErrInvalidTokenFormat = errors.New("invalid credential token format")
	// tokenFormatRegex validates the token format.
	tokenFormatRegex = regexp.MustCompile(`^ck_(live|test)_([a-f0-9]{6})_([a-f0-9]{32})$`)
)

// GeneratedToken contains the parts of a newly generated credential token.
// The full token is stored as-is: the credential store authenticates by exact
// match and the owning account may retrieve the token from the dashboard.
type GeneratedToken struct {
	Token  string // Full token
	Prefix string // 6-char visible prefix, safe for logs
}

// GenerateToken creates a new credential token for the given environment.
func GenerateToken(env string) (*GeneratedToken, error) {
	if env != EnvLive && env != EnvTest {
		env = EnvLive
	}

	prefixBytes := make([]byte, 3)
	if _, err := rand.Read(prefixBytes); err != nil {
		return nil, fmt.Errorf("generate prefix: %w", err)
	}
	prefix := hex.EncodeToString(prefixBytes)

	secretBytes := make([]byte, 16)
	if _, err := rand.Read(secretBytes); err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}
	secret := hex.EncodeToString(secretBytes)

	return &GeneratedToken{
		Token:  fmt.Sprintf("ck_%s_%s_%s", env, prefix, secret),
		Prefix: prefix,
	}, nil
}

// ParsedToken contains the parsed parts of a credential token.
type ParsedToken struct {
	Env    string
	Prefix string
	Secret string
}

// ParseToken extracts the components from a credential token.
// Returns an error if the format is invalid. Operator-created credentials may
// use arbitrary opaque keys, so format failures are advisory: authentication
// itself is an exact match against the stored key.
func ParseToken(token string) (*ParsedToken, error) {
	matches := tokenFormatRegex.FindStringSubmatch(token)
	if matches == nil {
		return nil, ErrInvalidTokenFormat
	}

	return &ParsedToken{
		Env:    matches[1],
		Prefix: matches[2],
		Secret: matches[3],
	}, nil
}

// KeyPrefix returns a short, log-safe prefix for an arbitrary raw key.
// Tokens in the canonical format yield their embedded prefix; anything else
// yields the first few characters.
func KeyPrefix(rawKey string) string {
	if parsed, err := ParseToken(rawKey); err == nil {
		return parsed.Prefix
	}
	if len(rawKey) > TokenPrefixLen {
		return rawKey[:TokenPrefixLen]
	}
	return rawKey
}

// QuickHash returns a truncated SHA256 hash of the input for cache keys.
// This is NOT for secret storage, only for cache key derivation.
func QuickHash(input string) string {
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:16]) // Use first 16 bytes (32 hex chars)
}
