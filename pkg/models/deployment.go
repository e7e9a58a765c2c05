package models

import "time"

// Deployment is an immutable packaged version of a workflow's code plus its
// pinned runtime identity. At most one deployment is active per workflow at
// any instant; the persistence layer flips the flag in a single transaction.
type Deployment struct {
	ID         string    `json:"id"          validate:"required"`
	WorkflowID string    `json:"workflow_id" validate:"required"`
	RuntimeID  string    `json:"runtime_id"  validate:"required"`
	Bundle     []byte    `json:"bundle"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}
