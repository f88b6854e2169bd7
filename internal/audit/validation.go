package audit

import (
	"fmt"

	"github.com/keygate/keygate/internal/model"
)

const (
	maxDescriptionLength = 500
	maxIPLength          = 45 // fits IPv6 with zone
)

var knownEntityTypes = map[string]bool{
	model.AuditEntityLicense:    true,
	model.AuditEntityCredential: true,
	model.AuditEntityDevice:     true,
}

var knownActions = map[string]bool{
	model.AuditActionValidate:   true,
	model.AuditActionCreate:     true,
	model.AuditActionActivate:   true,
	model.AuditActionDeactivate: true,
	model.AuditActionDelete:     true,
}

// ValidateEntryPayload validates an audit entry payload before it is
// persisted. Malformed payloads go to the dead-letter queue.
func ValidateEntryPayload(payload EntryPayload) error {
	if payload.EntityType == "" {
		return fmt.Errorf("entity_type is required")
	}
	if !knownEntityTypes[payload.EntityType] {
		return fmt.Errorf("unknown entity_type %q", payload.EntityType)
	}
	if payload.EntityID == "" {
		return fmt.Errorf("entity_id is required")
	}
	if payload.Action == "" {
		return fmt.Errorf("action is required")
	}
	if !knownActions[payload.Action] {
		return fmt.Errorf("unknown action %q", payload.Action)
	}
	if payload.CreatedAt <= 0 {
		return fmt.Errorf("created_at must be set")
	}
	if len(payload.Description) > maxDescriptionLength {
		return fmt.Errorf("description too long")
	}
	if len(payload.IPAddress) > maxIPLength {
		return fmt.Errorf("ip_address too long")
	}
	return nil
}
