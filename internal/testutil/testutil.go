package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/keygate/keygate/internal/model"
)

// RequireEnv returns an environment variable or skips the test if missing.
func RequireEnv(t testing.TB, key string) string {
	t.Helper()
	value := os.Getenv(key)
	if value == "" {
		t.Skipf("%s not set", key)
	}
	return value
}

const advisoryLockID int64 = 777042

// AcquireDBLock grabs a global advisory lock to serialize DB tests.
func AcquireDBLock(ctx context.Context, pool *pgxpool.Pool) (func() error, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", advisoryLockID); err != nil {
		conn.Release()
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	unlock := func() error {
		defer conn.Release()
		if _, err := conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", advisoryLockID); err != nil {
			return fmt.Errorf("release advisory lock: %w", err)
		}
		return nil
	}

	return unlock, nil
}

func resetSchema(ctx context.Context, pool *pgxpool.Pool, name string) error {
	root, err := ProjectRoot()
	if err != nil {
		return err
	}

	downPath := filepath.Join(root, "migrations", name+".down.sql")
	upPath := filepath.Join(root, "migrations", name+".up.sql")

	downSQL, err := os.ReadFile(downPath)
	if err != nil {
		return fmt.Errorf("read %s down migration: %w", name, err)
	}
	if _, err := pool.Exec(ctx, string(downSQL)); err != nil {
		return fmt.Errorf("apply %s down migration: %w", name, err)
	}

	upSQL, err := os.ReadFile(upPath)
	if err != nil {
		return fmt.Errorf("read %s up migration: %w", name, err)
	}
	if _, err := pool.Exec(ctx, string(upSQL)); err != nil {
		return fmt.Errorf("apply %s up migration: %w", name, err)
	}

	return nil
}

// ResetAccountsSchema drops and recreates the accounts table for tests.
func ResetAccountsSchema(ctx context.Context, pool *pgxpool.Pool) error {
	return resetSchema(ctx, pool, "000001_accounts")
}

// ResetCredentialsSchema drops and recreates the api_credentials table for tests.
func ResetCredentialsSchema(ctx context.Context, pool *pgxpool.Pool) error {
	return resetSchema(ctx, pool, "000002_api_credentials")
}

// ResetCatalogSchema drops and recreates the customers and products tables for tests.
func ResetCatalogSchema(ctx context.Context, pool *pgxpool.Pool) error {
	return resetSchema(ctx, pool, "000003_catalog")
}

// ResetLicensesSchema drops and recreates the licenses table for tests.
func ResetLicensesSchema(ctx context.Context, pool *pgxpool.Pool) error {
	return resetSchema(ctx, pool, "000004_licenses")
}

// ResetDevicesSchema drops and recreates the devices table for tests.
func ResetDevicesSchema(ctx context.Context, pool *pgxpool.Pool) error {
	return resetSchema(ctx, pool, "000005_devices")
}

// ResetAuditSchema drops and recreates the audit_logs table for tests.
func ResetAuditSchema(ctx context.Context, pool *pgxpool.Pool) error {
	return resetSchema(ctx, pool, "000006_audit_logs")
}

// ResetAllSchemas rebuilds every table in dependency order.
func ResetAllSchemas(ctx context.Context, pool *pgxpool.Pool) error {
	// Drop children before parents, create parents before children.
	names := []string{"000006_audit_logs", "000005_devices", "000004_licenses", "000003_catalog", "000002_api_credentials", "000001_accounts"}
	root, err := ProjectRoot()
	if err != nil {
		return err
	}
	for _, name := range names {
		downSQL, err := os.ReadFile(filepath.Join(root, "migrations", name+".down.sql"))
		if err != nil {
			return fmt.Errorf("read %s down migration: %w", name, err)
		}
		if _, err := pool.Exec(ctx, string(downSQL)); err != nil {
			return fmt.Errorf("apply %s down migration: %w", name, err)
		}
	}
	for i := len(names) - 1; i >= 0; i-- {
		upSQL, err := os.ReadFile(filepath.Join(root, "migrations", names[i]+".up.sql"))
		if err != nil {
			return fmt.Errorf("read %s up migration: %w", names[i], err)
		}
		if _, err := pool.Exec(ctx, string(upSQL)); err != nil {
			return fmt.Errorf("apply %s up migration: %w", names[i], err)
		}
	}
	return nil
}

// FlushRedis clears the current Redis database.
func FlushRedis(ctx context.Context, client *redis.Client) error {
	return client.FlushDB(ctx).Err()
}

// ProjectRoot returns the project root directory.
func ProjectRoot() (string, error) {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return "", fmt.Errorf("failed to resolve testutil path")
	}
	root := filepath.Clean(filepath.Join(filepath.Dir(filename), "..", ".."))
	return root, nil
}

// ============================================================================
// Test Data Factories
// ============================================================================

// NewTestAccount creates a test account with a unique email.
func NewTestAccount(t testing.TB) *model.Account {
	t.Helper()
	now := time.Now().UTC()
	return &model.Account{
		ID:        uuid.NewString(),
		Email:     fmt.Sprintf("owner-%d@example.com", now.UnixNano()),
		Name:      "Test Owner",
		CreatedAt: now,
	}
}

// NewTestCredential creates a test credential with sensible defaults.
func NewTestCredential(t testing.TB, ownerID, rawKey string) *model.Credential {
	t.Helper()
	now := time.Now().UTC()
	prefix := rawKey
	if len(prefix) > 12 {
		prefix = prefix[:12]
	}
	return &model.Credential{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Key:       rawKey,
		KeyPrefix: prefix,
		Name:      "Test Credential",
		IsActive:  true,
		CreatedAt: now,
	}
}

// NewTestLicense creates an active test license with sensible defaults.
func NewTestLicense(t testing.TB, customerID, productID string) *model.License {
	t.Helper()
	now := time.Now().UTC()
	return &model.License{
		ID:         uuid.NewString(),
		LicenseKey: UniqueLicenseKey(),
		CustomerID: customerID,
		ProductID:  productID,
		Status:     model.LicenseStatusActive,
		MaxDevices: 3,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// NewTestLicenseWithExpiry creates a test license with an expiry time.
func NewTestLicenseWithExpiry(t testing.TB, customerID, productID string, expireAt time.Time) *model.License {
	t.Helper()
	lic := NewTestLicense(t, customerID, productID)
	lic.ExpireAt = &expireAt
	return lic
}

// UniqueLicenseKey generates a unique well-formed license key for tests.
func UniqueLicenseKey() string {
	n := time.Now().UnixNano()
	return fmt.Sprintf("TEST-%04X-%04X-%04X", (n>>32)&0xFFFF, (n>>16)&0xFFFF, n&0xFFFF)
}

// UniqueID generates a unique ID for tests.
func UniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}
