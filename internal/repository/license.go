package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/keygate/keygate/internal/model"
)

// Common errors for license repository operations.
var (
	ErrLicenseNotFound  = errors.New("license not found")
	ErrLicenseKeyExists = errors.New("license key already exists")
)

// GetLicenseByKey retrieves a license by its key, eager-loading the linked
// customer and product names for response enrichment.
func (r *Repository) GetLicenseByKey(ctx context.Context, licenseKey string) (*model.License, error) {
	query := `
		SELECT l.id, l.license_key, l.customer_id, l.product_id, l.status,
		       l.expire_at, l.max_devices, l.created_at, l.updated_at,
		       c.name, p.name
		FROM licenses l
		JOIN customers c ON c.id = l.customer_id
		JOIN products p ON p.id = l.product_id
		WHERE l.license_key = $1
	`

	return scanLicense(r.pool.QueryRow(ctx, query, licenseKey))
}

// GetLicenseByID retrieves a license by its ID.
func (r *Repository) GetLicenseByID(ctx context.Context, id string) (*model.License, error) {
	query := `
		SELECT l.id, l.license_key, l.customer_id, l.product_id, l.status,
		       l.expire_at, l.max_devices, l.created_at, l.updated_at,
		       c.name, p.name
		FROM licenses l
		JOIN customers c ON c.id = l.customer_id
		JOIN products p ON p.id = l.product_id
		WHERE l.id = $1
	`

	return scanLicense(r.pool.QueryRow(ctx, query, id))
}

// CreateLicense inserts a new license. Used by bootstrap seeding and tests;
// operator CRUD lives in the dashboard, which shares this schema.
func (r *Repository) CreateLicense(ctx context.Context, lic *model.License) error {
	query := `
		INSERT INTO licenses (id, license_key, customer_id, product_id, status, expire_at, max_devices, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.pool.Exec(ctx, query,
		lic.ID,
		lic.LicenseKey,
		lic.CustomerID,
		lic.ProductID,
		lic.Status,
		lic.ExpireAt,
		lic.MaxDevices,
		lic.CreatedAt,
		lic.UpdatedAt,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return ErrLicenseKeyExists
		}
		return fmt.Errorf("failed to create license: %w", err)
	}

	return nil
}

// UpdateLicenseStatus sets the operator-recorded status.
func (r *Repository) UpdateLicenseStatus(ctx context.Context, id string, status model.LicenseStatus) error {
	query := `
		UPDATE licenses
		SET status = $2, updated_at = $3
		WHERE id = $1
	`

	result, err := r.pool.Exec(ctx, query, id, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update license status: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrLicenseNotFound
	}

	return nil
}

// CreateCustomer inserts a customer record.
func (r *Repository) CreateCustomer(ctx context.Context, id, name, email string) error {
	query := `
		INSERT INTO customers (id, name, email, created_at)
		VALUES ($1, $2, $3, $4)
	`

	if _, err := r.pool.Exec(ctx, query, id, name, email, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to create customer: %w", err)
	}
	return nil
}

// CreateProduct inserts a product record.
func (r *Repository) CreateProduct(ctx context.Context, id, name, version string) error {
	query := `
		INSERT INTO products (id, name, version, created_at)
		VALUES ($1, $2, $3, $4)
	`

	if _, err := r.pool.Exec(ctx, query, id, name, version, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to create product: %w", err)
	}
	return nil
}

// scanLicense scans a single joined row into a License model.
func scanLicense(row pgx.Row) (*model.License, error) {
	var lic model.License

	err := row.Scan(
		&lic.ID,
		&lic.LicenseKey,
		&lic.CustomerID,
		&lic.ProductID,
		&lic.Status,
		&lic.ExpireAt,
		&lic.MaxDevices,
		&lic.CreatedAt,
		&lic.UpdatedAt,
		&lic.CustomerName,
		&lic.ProductName,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLicenseNotFound
		}
		return nil, fmt.Errorf("failed to scan license: %w", err)
	}

	return &lic, nil
}
