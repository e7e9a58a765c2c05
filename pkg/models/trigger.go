// Package models defines the core domain models for trigger routing and execution tracking.
package models

import "time"

// TriggerType identifies what kind of event a trigger listens for.
type TriggerType string

const (
	TriggerTypeCron        TriggerType = "onCron"
	TriggerTypeWebhook     TriggerType = "onWebhook"
	TriggerTypePush        TriggerType = "onPush"
	TriggerTypePullRequest TriggerType = "onPullRequest"
	TriggerTypeIssue       TriggerType = "onIssue"
	TriggerTypeMessage     TriggerType = "onMessage"
)

// Trigger binds one workflow to one provider instance and event type.
// Input carries the user-supplied filter parameters (branch, cron
// expression, channel, ...). State is provider-managed bookkeeping, opaque
// to the routing engine; only the owning provider matcher interprets it.
type Trigger struct {
	ID          string         `json:"id"           validate:"required"`
	WorkflowID  string         `json:"workflow_id"  validate:"required"`
	ProviderID  string         `json:"provider_id"  validate:"required"`
	TriggerType TriggerType    `json:"trigger_type" validate:"required"`
	Input       map[string]any `json:"input"`
	State       map[string]any `json:"state,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// InputString returns a string field from the trigger input, or "" when
// absent or not a string.
func (t *Trigger) InputString(key string) string {
	if t.Input == nil {
		return ""
	}

	value, _ := t.Input[key].(string)

	return value
}

// InputStrings returns a string-list field from the trigger input. Both
// []string and []any of strings are accepted since the input round-trips
// through JSON.
func (t *Trigger) InputStrings(key string) []string {
	if t.Input == nil {
		return nil
	}

	switch raw := t.Input[key].(type) {
	case []string:
		return raw
	case []any:
		values := make([]string, 0, len(raw))

		for _, item := range raw {
			if s, ok := item.(string); ok {
				values = append(values, s)
			}
		}

		return values
	default:
		return nil
	}
}
