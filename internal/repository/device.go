package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/keygate/keygate/internal/model"
)

// Common errors for device repository operations.
var (
	ErrDeviceNotFound = errors.New("device binding not found")
)

const deviceColumns = `id, license_id, hwid, device_name, os_info, is_active, last_verified_at, created_at`

// UpsertDeviceOnValidate records a validate-time device sighting.
//
// The quota decision (count active bindings, then conditionally insert) is a
// check-then-act sequence, so the whole operation runs in one transaction
// holding a per-license advisory lock. Concurrent validations for the same
// license serialize here; different licenses do not contend.
//
// An active (license, hwid) binding is refreshed unconditionally - devices
// already bound are never blocked by quota changes. A deactivated binding
// does not count as bound: reactivating it goes back through the quota
// gate like a new device, so an operator's deactivation is not undone for
// free.
func (r *Repository) UpsertDeviceOnValidate(ctx context.Context, licenseID, hwid, deviceName, osInfo string, maxDevices int) (*model.DeviceBindResult, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Serialize quota decisions per license. The lock is released at
	// commit/rollback.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, licenseID); err != nil {
		return nil, fmt.Errorf("failed to acquire license lock: %w", err)
	}

	now := time.Now().UTC()

	// Exact hwid match only; no normalization.
	existing, err := scanDeviceRow(tx.QueryRow(ctx, `
		SELECT `+deviceColumns+`
		FROM devices
		WHERE license_id = $1 AND hwid = $2
	`, licenseID, hwid))
	if err != nil && !errors.Is(err, ErrDeviceNotFound) {
		return nil, err
	}

	if existing != nil && existing.IsActive {
		if _, err := tx.Exec(ctx, `
			UPDATE devices
			SET last_verified_at = $2
			WHERE id = $1
		`, existing.ID, now); err != nil {
			return nil, fmt.Errorf("failed to refresh device binding: %w", err)
		}
		existing.LastVerifiedAt = &now

		count, err := countActiveDevicesTx(ctx, tx, licenseID)
		if err != nil {
			return nil, err
		}

		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("failed to commit device refresh: %w", err)
		}

		return &model.DeviceBindResult{
			Outcome:       model.BindRefreshed,
			Binding:       existing,
			ActiveDevices: count,
		}, nil
	}

	count, err := countActiveDevicesTx(ctx, tx, licenseID)
	if err != nil {
		return nil, err
	}

	if count >= maxDevices {
		// Nothing created or reactivated; report the observed count.
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("failed to commit quota check: %w", err)
		}
		return &model.DeviceBindResult{
			Outcome:       model.BindRejectedQuota,
			ActiveDevices: count,
		}, nil
	}

	if existing != nil {
		// Deactivated binding for this hwid; bring it back within quota.
		if _, err := tx.Exec(ctx, `
			UPDATE devices
			SET is_active = TRUE, last_verified_at = $2, device_name = $3, os_info = $4
			WHERE id = $1
		`, existing.ID, now, deviceName, osInfo); err != nil {
			return nil, fmt.Errorf("failed to reactivate device binding: %w", err)
		}
		existing.IsActive = true
		existing.LastVerifiedAt = &now
		existing.DeviceName = deviceName
		existing.OSInfo = osInfo

		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("failed to commit device reactivation: %w", err)
		}

		return &model.DeviceBindResult{
			Outcome:       model.BindAccepted,
			Binding:       existing,
			ActiveDevices: count + 1,
		}, nil
	}

	binding := &model.DeviceBinding{
		ID:             uuid.New().String(),
		LicenseID:      licenseID,
		HWID:           hwid,
		DeviceName:     deviceName,
		OSInfo:         osInfo,
		IsActive:       true,
		LastVerifiedAt: &now,
		CreatedAt:      now,
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO devices (id, license_id, hwid, device_name, os_info, is_active, last_verified_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		binding.ID,
		binding.LicenseID,
		binding.HWID,
		binding.DeviceName,
		binding.OSInfo,
		binding.IsActive,
		binding.LastVerifiedAt,
		binding.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to create device binding: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit device binding: %w", err)
	}

	return &model.DeviceBindResult{
		Outcome:       model.BindAccepted,
		Binding:       binding,
		ActiveDevices: count + 1,
	}, nil
}

// GetDeviceBinding retrieves a binding by (license, hwid).
func (r *Repository) GetDeviceBinding(ctx context.Context, licenseID, hwid string) (*model.DeviceBinding, error) {
	binding, err := scanDeviceRow(r.pool.QueryRow(ctx, `
		SELECT `+deviceColumns+`
		FROM devices
		WHERE license_id = $1 AND hwid = $2
	`, licenseID, hwid))
	if err != nil {
		return nil, err
	}
	return binding, nil
}

// GetDeviceBindingByID retrieves a binding by its ID.
func (r *Repository) GetDeviceBindingByID(ctx context.Context, id string) (*model.DeviceBinding, error) {
	binding, err := scanDeviceRow(r.pool.QueryRow(ctx, `
		SELECT `+deviceColumns+`
		FROM devices
		WHERE id = $1
	`, id))
	if err != nil {
		return nil, err
	}
	return binding, nil
}

// ListActiveDevices retrieves all active bindings for a license.
func (r *Repository) ListActiveDevices(ctx context.Context, licenseID string) ([]*model.DeviceBinding, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+deviceColumns+`
		FROM devices
		WHERE license_id = $1 AND is_active = TRUE
		ORDER BY created_at
	`, licenseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer rows.Close()

	var bindings []*model.DeviceBinding
	for rows.Next() {
		binding, err := scanDeviceFromRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		bindings = append(bindings, binding)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating devices: %w", err)
	}

	return bindings, nil
}

// CountActiveDevices returns the number of active bindings for a license.
func (r *Repository) CountActiveDevices(ctx context.Context, licenseID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM devices
		WHERE license_id = $1 AND is_active = TRUE
	`, licenseID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count devices: %w", err)
	}
	return count, nil
}

// DeactivateDevice flips a binding's is_active flag off, freeing quota.
func (r *Repository) DeactivateDevice(ctx context.Context, id string) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE devices
		SET is_active = FALSE
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate device: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrDeviceNotFound
	}

	return nil
}

func countActiveDevicesTx(ctx context.Context, tx pgx.Tx, licenseID string) (int, error) {
	var count int
	err := tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM devices
		WHERE license_id = $1 AND is_active = TRUE
	`, licenseID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count devices: %w", err)
	}
	return count, nil
}

// scanDeviceRow scans a single row into a DeviceBinding model.
func scanDeviceRow(row pgx.Row) (*model.DeviceBinding, error) {
	var binding model.DeviceBinding

	err := row.Scan(
		&binding.ID,
		&binding.LicenseID,
		&binding.HWID,
		&binding.DeviceName,
		&binding.OSInfo,
		&binding.IsActive,
		&binding.LastVerifiedAt,
		&binding.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("failed to scan device: %w", err)
	}

	return &binding, nil
}

// scanDeviceFromRows scans a row from pgx.Rows into a DeviceBinding model.
func scanDeviceFromRows(rows pgx.Rows) (*model.DeviceBinding, error) {
	var binding model.DeviceBinding

	err := rows.Scan(
		&binding.ID,
		&binding.LicenseID,
		&binding.HWID,
		&binding.DeviceName,
		&binding.OSInfo,
		&binding.IsActive,
		&binding.LastVerifiedAt,
		&binding.CreatedAt,
	)

	if err != nil {
		return nil, err
	}

	return &binding, nil
}
