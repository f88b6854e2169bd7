package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/keygate/keygate/internal/model"
)

// BulkInsertAuditEntries inserts a batch of audit entries.
// Idempotent via ON CONFLICT DO NOTHING on event_id, so a redelivered stream
// batch never duplicates entries. The table is append-only; nothing in this
// service updates or deletes from it.
func (r *Repository) BulkInsertAuditEntries(ctx context.Context, entries []*model.AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}

	batch := &pgx.Batch{}

	query := `
		INSERT INTO audit_logs (
			id, event_id, entity_type, entity_id, action, description,
			actor_id, ip_address, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (event_id) DO NOTHING
	`

	for _, entry := range entries {
		batch.Queue(query,
			entry.ID,
			entry.EventID,
			entry.EntityType,
			entry.EntityID,
			entry.Action,
			entry.Description,
			nullableString(entry.ActorID),
			nullableString(entry.IPAddress),
			entry.CreatedAt,
		)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	for i := 0; i < len(entries); i++ {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("batch insert audit entry %d: %w", i, err)
		}
	}

	return nil
}

// CountAuditEntries returns the number of entries for an entity.
// Used by integration tests; the dashboard's log viewer reads this table
// directly.
func (r *Repository) CountAuditEntries(ctx context.Context, entityType, entityID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM audit_logs
		WHERE entity_type = $1 AND entity_id = $2
	`, entityType, entityID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count audit entries: %w", err)
	}
	return count, nil
}

// nullableString converts empty strings to nil for nullable columns.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
