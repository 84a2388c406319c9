package models

import "time"

// TriggerType selects how a Trigger starts a workflow run.
type TriggerType string

const (
	TriggerTypeCron     TriggerType = "cron"
	TriggerTypeInterval TriggerType = "interval"
	TriggerTypeWebhook  TriggerType = "webhook"
	TriggerTypeEvent    TriggerType = "event"
)

// Trigger binds a workflow to an activation source: a cron schedule,
// a fixed interval, a webhook path, or an internal pub/sub event type
// (SPEC_FULL.md's trigger supplement). Config holds the type-specific
// fields (schedule, interval, path/provider, event_type/filter).
type Trigger struct {
	ID         string                 `json:"id"`
	WorkflowID string                 `json:"workflowId"`
	Type       TriggerType            `json:"type"`
	Config     map[string]interface{} `json:"config,omitempty"`
	Enabled    bool                   `json:"enabled"`
	LastRun    *time.Time             `json:"lastRun,omitempty"`
	CreatedAt  time.Time              `json:"createdAt"`
	UpdatedAt  time.Time              `json:"updatedAt"`
}
