package model

import "time"

// Audit entity types.
const (
	AuditEntityLicense    = "license"
	AuditEntityCredential = "api_credential"
	AuditEntityDevice     = "device"
)

// Audit actions.
const (
	AuditActionValidate   = "validate"
	AuditActionCreate     = "create"
	AuditActionActivate   = "activate"
	AuditActionDeactivate = "deactivate"
	AuditActionDelete     = "delete"
)

// AuditEntry is an append-only record of a security-relevant action.
// Entries are written by this service and only ever read by the dashboard.
type AuditEntry struct {
	ID          string    `json:"id"`
	EventID     string    `json:"event_id"` // stream message ID, idempotency key
	EntityType  string    `json:"entity_type"`
	EntityID    string    `json:"entity_id"`
	Action      string    `json:"action"`
	Description string    `json:"description"`
	ActorID     string    `json:"actor_id,omitempty"`
	IPAddress   string    `json:"ip_address,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
