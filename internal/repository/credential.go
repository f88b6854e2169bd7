package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/keygate/keygate/internal/model"
)

// Common errors for credential repository operations.
var (
	ErrCredentialNotFound = errors.New("credential not found")
)

const credentialColumns = `id, owner_id, key, key_prefix, name, is_active, expires_at, last_used_at, created_at`

// CreateCredential inserts a new API credential.
func (r *Repository) CreateCredential(ctx context.Context, cred *model.Credential) error {
	query := `
		INSERT INTO api_credentials (id, owner_id, key, key_prefix, name, is_active, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.pool.Exec(ctx, query,
		cred.ID,
		cred.OwnerID,
		cred.Key,
		cred.KeyPrefix,
		cred.Name,
		cred.IsActive,
		cred.ExpiresAt,
		cred.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create credential: %w", err)
	}

	return nil
}

// GetCredentialByKey retrieves a credential by exact key match.
// This is the authentication lookup; the key column is uniquely indexed.
func (r *Repository) GetCredentialByKey(ctx context.Context, rawKey string) (*model.Credential, error) {
	query := `
		SELECT ` + credentialColumns + `
		FROM api_credentials
		WHERE key = $1
	`

	return scanCredential(r.pool.QueryRow(ctx, query, rawKey))
}

// GetCredentialByID retrieves a credential by its ID.
func (r *Repository) GetCredentialByID(ctx context.Context, id string) (*model.Credential, error) {
	query := `
		SELECT ` + credentialColumns + `
		FROM api_credentials
		WHERE id = $1
	`

	return scanCredential(r.pool.QueryRow(ctx, query, id))
}

// ListCredentialsByOwner retrieves all credentials for an owning account.
func (r *Repository) ListCredentialsByOwner(ctx context.Context, ownerID string) ([]*model.Credential, error) {
	query := `
		SELECT ` + credentialColumns + `
		FROM api_credentials
		WHERE owner_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	defer rows.Close()

	var creds []*model.Credential
	for rows.Next() {
		cred, err := scanCredentialFromRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan credential: %w", err)
		}
		creds = append(creds, cred)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating credentials: %w", err)
	}

	return creds, nil
}

// SetCredentialActive flips the is_active flag.
func (r *Repository) SetCredentialActive(ctx context.Context, id string, active bool) error {
	query := `
		UPDATE api_credentials
		SET is_active = $2
		WHERE id = $1
	`

	result, err := r.pool.Exec(ctx, query, id, active)
	if err != nil {
		return fmt.Errorf("failed to update credential: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrCredentialNotFound
	}

	return nil
}

// DeleteCredential removes a credential.
func (r *Repository) DeleteCredential(ctx context.Context, id string) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM api_credentials WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrCredentialNotFound
	}

	return nil
}

// TouchCredential updates the last_used_at timestamp.
// Called asynchronously after successful authentication; best-effort.
func (r *Repository) TouchCredential(ctx context.Context, id string) error {
	query := `
		UPDATE api_credentials
		SET last_used_at = $2
		WHERE id = $1
	`

	_, err := r.pool.Exec(ctx, query, id, time.Now())
	if err != nil {
		return fmt.Errorf("failed to touch credential: %w", err)
	}

	return nil
}

// scanCredential scans a single row into a Credential model.
func scanCredential(row pgx.Row) (*model.Credential, error) {
	var cred model.Credential

	err := row.Scan(
		&cred.ID,
		&cred.OwnerID,
		&cred.Key,
		&cred.KeyPrefix,
		&cred.Name,
		&cred.IsActive,
		&cred.ExpiresAt,
		&cred.LastUsedAt,
		&cred.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCredentialNotFound
		}
		return nil, fmt.Errorf("failed to scan credential: %w", err)
	}

	return &cred, nil
}

// scanCredentialFromRows scans a row from pgx.Rows into a Credential model.
func scanCredentialFromRows(rows pgx.Rows) (*model.Credential, error) {
	var cred model.Credential

	err := rows.Scan(
		&cred.ID,
		&cred.OwnerID,
		&cred.Key,
		&cred.KeyPrefix,
		&cred.Name,
		&cred.IsActive,
		&cred.ExpiresAt,
		&cred.LastUsedAt,
		&cred.CreatedAt,
	)

	if err != nil {
		return nil, err
	}

	return &cred, nil
}
