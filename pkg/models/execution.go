package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTransition is returned when a status change would regress the
// execution state machine.
var ErrInvalidTransition = errors.New("invalid execution status transition")

// ExecutionStatus is the persisted lifecycle state of an execution. The wire
// values are stable.
type ExecutionStatus string

const (
	ExecutionStatusReceived     ExecutionStatus = "RECEIVED"
	ExecutionStatusStarted      ExecutionStatus = "STARTED"
	ExecutionStatusCompleted    ExecutionStatus = "COMPLETED"
	ExecutionStatusFailed       ExecutionStatus = "FAILED"
	ExecutionStatusTimeout      ExecutionStatus = "TIMEOUT"
	ExecutionStatusNoDeployment ExecutionStatus = "NO_DEPLOYMENT"
)

// Terminal reports whether no further transition may be applied.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusFailed,
		ExecutionStatusTimeout, ExecutionStatusNoDeployment:
		return true
	case ExecutionStatusReceived, ExecutionStatusStarted:
		return false
	}

	return false
}

// CanTransitionTo enforces the monotonic state machine:
// RECEIVED -> STARTED -> {COMPLETED | FAILED | TIMEOUT}
// RECEIVED -> NO_DEPLOYMENT
func (s ExecutionStatus) CanTransitionTo(next ExecutionStatus) bool {
	switch s {
	case ExecutionStatusReceived:
		return next == ExecutionStatusStarted || next == ExecutionStatusNoDeployment
	case ExecutionStatusStarted:
		return next == ExecutionStatusCompleted ||
			next == ExecutionStatusFailed ||
			next == ExecutionStatusTimeout
	case ExecutionStatusCompleted, ExecutionStatusFailed,
		ExecutionStatusTimeout, ExecutionStatusNoDeployment:
		return false
	}

	return false
}

// Execution tracks one dispatch attempt against one trigger. TriggerID is
// nil for manual invocations without a trigger. DeploymentID is set once a
// runtime invocation is attempted. The record is immutable once terminal.
type Execution struct {
	ID           string          `json:"id"          validate:"required"`
	WorkflowID   string          `json:"workflow_id" validate:"required"`
	TriggerID    *string         `json:"trigger_id,omitempty"`
	DeploymentID string          `json:"deployment_id,omitempty"`
	Status       ExecutionStatus `json:"status"      validate:"required"`
	ReceivedAt   time.Time       `json:"received_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	DurationMS   int64           `json:"duration_ms,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

// Transition applies a status change, rejecting regressions.
func (e *Execution) Transition(next ExecutionStatus) error {
	if !e.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, e.Status, next)
	}

	e.Status = next

	return nil
}
