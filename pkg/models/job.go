package models

import "time"

// JobKind identifies which handler processes a queued job.
type JobKind string

const (
	JobKindWebhookDelivery JobKind = "webhook.delivery"
)

// DefaultMaxAttempts bounds retries for one-shot delayed jobs.
const DefaultMaxAttempts = 5

// Job is a durable one-shot unit of work with retry bookkeeping. Failed jobs
// reschedule themselves with exponential backoff until MaxAttempts, after
// which they are abandoned.
type Job struct {
	ID          string         `json:"id"   validate:"required"`
	Kind        JobKind        `json:"kind" validate:"required"`
	Payload     map[string]any `json:"payload"`
	Attempts    int            `json:"attempts"`
	MaxAttempts int            `json:"max_attempts"`
	RunAt       time.Time      `json:"run_at"`
	LastError   string         `json:"last_error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}
