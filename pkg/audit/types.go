package audit

import (
	"time"

	"github.com/google/uuid"
)

// Action is the kind of audited operation. The audit log is cross-entity:
// it covers authentication and entity CRUD as well as workflow decisions,
// unlike the per-request History ledger which is domain timeline data.
type Action string

const (
	// Authentication events (recorded by the outer auth layer).
	ActionLogin  Action = "auth.login"
	ActionLogout Action = "auth.logout"

	// Authorization events.
	ActionAccessDenied Action = "authz.access_denied"
	ActionRoleChange   Action = "authz.role_change"

	// Entity lifecycle events.
	ActionEntityCreate   Action = "entity.create"
	ActionEntityUpdate   Action = "entity.update"
	ActionEntityValidate Action = "entity.validate"
	ActionEntityCancel   Action = "entity.cancel"
	ActionEntityDelete   Action = "entity.delete"

	// Workflow transition events.
	ActionTransition Action = "workflow.transition"
)

// Status is the outcome of the audited operation.
type Status string

const (
	StatusSuccess Status = "success"
	StatusDenied  Status = "denied"
	StatusFailure Status = "failure"
)

// Record is a single append-only audit entry. Records are write-once and
// never edited or removed.
type Record struct {
	ID         string                 `json:"id"`
	Timestamp  time.Time              `json:"timestamp"`
	Action     Action                 `json:"action"`
	Status     Status                 `json:"status"`
	ActorID    string                 `json:"actor_id,omitempty"`
	EntityType string                 `json:"entity_type,omitempty"`
	EntityID   string                 `json:"entity_id,omitempty"`
	Details    string                 `json:"details,omitempty"`
	RequestID  string                 `json:"request_id,omitempty"`
	IPAddress  string                 `json:"ip_address,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// NewRecord builds a record with id and timestamp populated.
func NewRecord(action Action, status Status, actorID, entityType, entityID, details string) *Record {
	return &Record{
		ID:         uuid.NewString(),
		Timestamp:  time.Now().UTC(),
		Action:     action,
		Status:     status,
		ActorID:    actorID,
		EntityType: entityType,
		EntityID:   entityID,
		Details:    details,
	}
}

// Filter narrows an audit log search.
type Filter struct {
	StartTime  *time.Time
	EndTime    *time.Time
	ActorID    string
	Actions    []Action
	Status     Status
	EntityType string
	EntityID   string
	Limit      int
	Offset     int
}
