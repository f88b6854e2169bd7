package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/keygate/keygate/internal/model"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrAccountExists   = errors.New("account email already exists")
)

// CreateAccount persists a new account.
func (r *Repository) CreateAccount(ctx context.Context, acct *model.Account) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO accounts (id, email, name, created_at)
		VALUES ($1, $2, $3, $4)
	`, acct.ID, acct.Email, acct.Name, acct.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAccountExists
		}
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

// GetAccountByEmail looks up an account by its email address.
func (r *Repository) GetAccountByEmail(ctx context.Context, email string) (*model.Account, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, email, name, created_at
		FROM accounts
		WHERE email = $1
	`, email)

	var acct model.Account
	if err := row.Scan(&acct.ID, &acct.Email, &acct.Name, &acct.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("get account by email: %w", err)
	}
	return &acct, nil
}
