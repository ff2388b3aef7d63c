package models

import (
	"encoding/json"
	"time"
)

// SessionStatus tracks the lifecycle of a durable session record
type SessionStatus string

const (
	SessionInProgress SessionStatus = "in_progress"
	SessionCompleted  SessionStatus = "completed"
	SessionAbandoned  SessionStatus = "abandoned"
)

// SessionRecord is the durable mirror of pipeline progress, one row per
// workflow instance. Created on the first checkpoint, updated in place
// afterwards. Every checkpoint carries the full current slot values, not
// a diff, so a later successful write always reflects the final state.
type SessionRecord struct {
	ID               string          `json:"id"`
	Status           SessionStatus   `json:"status"`
	TrackingID       string          `json:"tracking_id,omitempty"`
	Source           *Source         `json:"source,omitempty"`
	Angles           []Angle         `json:"angles,omitempty"`
	AnglesContext    RawContext      `json:"angles_context,omitempty"`
	SelectedAngle    *Angle          `json:"selected_angle,omitempty"`
	ApprovedContext  RawContext      `json:"approved_context,omitempty"`
	Outline          *Outline        `json:"outline,omitempty"`
	SelectedHook     *HookOption     `json:"selected_hook,omitempty"`
	SelectedTemplate *TemplateOption `json:"selected_template,omitempty"`
	WrittenContent   *WrittenContent `json:"written_content,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// SnapshotEntry is a cached, budget-and-time-bounded copy of an expensive
// aggregate computation, keyed by (owner, subject, snapshot type).
type SnapshotEntry struct {
	Owner          string          `json:"owner"`
	Subject        string          `json:"subject"`
	SnapshotType   string          `json:"snapshot_type"`
	Payload        json.RawMessage `json:"payload"`
	ActionsPending int             `json:"actions_pending"`
	ExpiresAt      time.Time       `json:"expires_at"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Valid reports whether the entry may still be served at the given time:
// not expired and with usage budget remaining.
func (e *SnapshotEntry) Valid(now time.Time) bool {
	return now.Before(e.ExpiresAt) && e.ActionsPending > 0
}
