// Package execution owns the execution lifecycle state machine. Every
// dispatch attempt gets exactly one record here, whether or not a runtime
// ever runs.
package execution

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/relayd/relay/pkg/models"
	"github.com/relayd/relay/pkg/persistence"
)

// Tracker creates and transitions execution records. Transitions are
// single-writer: a given execution id is only ever mutated from the call
// path that owns it, so load-modify-save needs no row locking.
type Tracker struct {
	executions persistence.ExecutionRepository
	logger     *slog.Logger
}

func NewTracker(executions persistence.ExecutionRepository, logger *slog.Logger) *Tracker {
	return &Tracker{
		executions: executions,
		logger:     logger.With("module", "execution_tracker"),
	}
}

// Create records a dispatch attempt as RECEIVED, before any access check or
// deployment lookup. triggerID is nil for manual invocations.
func (t *Tracker) Create(ctx context.Context, workflowID string, triggerID *string) (*models.Execution, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate execution ID: %w", err)
	}

	execution := &models.Execution{
		ID:         id.String(),
		WorkflowID: workflowID,
		TriggerID:  triggerID,
		Status:     models.ExecutionStatusReceived,
		ReceivedAt: time.Now().UTC(),
	}

	err = t.executions.Create(ctx, execution)
	if err != nil {
		return nil, fmt.Errorf("failed to persist execution: %w", err)
	}

	return execution, nil
}

// Start marks the runtime invocation as begun, recording which deployment
// was used.
func (t *Tracker) Start(ctx context.Context, execution *models.Execution, deploymentID string) error {
	err := execution.Transition(models.ExecutionStatusStarted)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	execution.StartedAt = &now
	execution.DeploymentID = deploymentID

	return t.update(ctx, execution)
}

// Complete records a runtime success report. durationMS of zero means
// compute from the started timestamp.
func (t *Tracker) Complete(ctx context.Context, execution *models.Execution, durationMS int64) error {
	return t.finish(ctx, execution, models.ExecutionStatusCompleted, "", durationMS)
}

// Fail records a reported runtime error, preserving the message.
func (t *Tracker) Fail(ctx context.Context, execution *models.Execution, message string, durationMS int64) error {
	return t.finish(ctx, execution, models.ExecutionStatusFailed, message, durationMS)
}

// Timeout records that the runtime exceeded its execution budget without a
// report. The execution is abandoned; no further signal is expected.
func (t *Tracker) Timeout(ctx context.Context, execution *models.Execution) error {
	return t.finish(ctx, execution, models.ExecutionStatusTimeout, "execution budget exceeded", 0)
}

// NoDeployment finalizes a dispatch attempt that never reached a runtime:
// workflow inactive, no active deployment, or organization over quota.
func (t *Tracker) NoDeployment(ctx context.Context, execution *models.Execution, reason string) error {
	err := execution.Transition(models.ExecutionStatusNoDeployment)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	execution.CompletedAt = &now
	execution.ErrorMessage = reason

	return t.update(ctx, execution)
}

// AppendLog attaches a runtime-reported log entry to the execution.
func (t *Tracker) AppendLog(ctx context.Context, executionID string, level models.LogLevel, message string) error {
	return t.executions.AppendLog(ctx, &models.ExecutionLogEntry{
		ExecutionID: executionID,
		Timestamp:   time.Now().UTC(),
		Level:       level,
		Message:     message,
	})
}

// Logs returns the ordered log entries of one execution.
func (t *Tracker) Logs(ctx context.Context, executionID string) ([]*models.ExecutionLogEntry, error) {
	return t.executions.Logs(ctx, executionID)
}

func (t *Tracker) finish(ctx context.Context, execution *models.Execution, status models.ExecutionStatus, message string, durationMS int64) error {
	err := execution.Transition(status)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	execution.CompletedAt = &now
	execution.ErrorMessage = message

	if durationMS > 0 {
		execution.DurationMS = durationMS
	} else if execution.StartedAt != nil {
		execution.DurationMS = now.Sub(*execution.StartedAt).Milliseconds()
	}

	return t.update(ctx, execution)
}

func (t *Tracker) update(ctx context.Context, execution *models.Execution) error {
	err := t.executions.Update(ctx, execution)
	if err != nil {
		return fmt.Errorf("failed to persist execution transition: %w", err)
	}

	t.logger.DebugContext(ctx, "Execution transitioned",
		"execution_id", execution.ID,
		"status", execution.Status)

	return nil
}
