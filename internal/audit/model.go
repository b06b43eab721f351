package audit

import (
	"encoding/json"
	"time"
)

type Action string

const (
	ActionCreate Action = "CREATE"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
)

// Auditable is implemented by every entity whose writes are recorded.
type Auditable interface {
	AuditEntity() string
	AuditID() int64
}

type Entry struct {
	ID         int64           `json:"id"`
	ActorID    *int64          `json:"actor_id"`
	Action     Action          `json:"action"`
	EntityType string          `json:"entity_type"`
	EntityID   int64           `json:"entity_id"`
	OldValues  json.RawMessage `json:"old_values,omitempty"`
	NewValues  json.RawMessage `json:"new_values,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

type Filter struct {
	EntityType string
	EntityID   *int64
	ActorID    *int64
	Action     Action
	Since      *time.Time
	Until      *time.Time
	AfterID    int64 // only entries with a larger id
	Ascending  bool  // oldest first instead of newest first
	Limit      int
	Offset     int
}
