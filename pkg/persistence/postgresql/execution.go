package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/relayd/relay/pkg/models"
	"github.com/relayd/relay/pkg/persistence"
)

// ExecutionRepository handles execution record and log database operations.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

const executionSelect = `
	SELECT id, workflow_id, trigger_id, deployment_id, status,
		received_at, started_at, completed_at, duration_ms, error_message
	FROM executions`

func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.Execution, error) {
	query := executionSelect + ` WHERE id = $1`

	execution, err := scanExecution(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrExecutionNotFound
		}

		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	return execution, nil
}

func (r *ExecutionRepository) Create(ctx context.Context, execution *models.Execution) error {
	query := `
		INSERT INTO executions (id, workflow_id, trigger_id, deployment_id, status,
			received_at, started_at, completed_at, duration_ms, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.ExecContext(ctx, query,
		execution.ID,
		execution.WorkflowID,
		execution.TriggerID,
		execution.DeploymentID,
		string(execution.Status),
		execution.ReceivedAt,
		execution.StartedAt,
		execution.CompletedAt,
		execution.DurationMS,
		execution.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to create execution: %w", err)
	}

	return nil
}

func (r *ExecutionRepository) Update(ctx context.Context, execution *models.Execution) error {
	query := `
		UPDATE executions SET
			deployment_id = $2,
			status = $3,
			started_at = $4,
			completed_at = $5,
			duration_ms = $6,
			error_message = $7
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		execution.ID,
		execution.DeploymentID,
		string(execution.Status),
		execution.StartedAt,
		execution.CompletedAt,
		execution.DurationMS,
		execution.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to update execution: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected == 0 {
		return persistence.ErrExecutionNotFound
	}

	return nil
}

func (r *ExecutionRepository) AppendLog(ctx context.Context, entry *models.ExecutionLogEntry) error {
	if entry.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate log entry ID: %w", err)
		}

		entry.ID = id.String()
	}

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	query := `
		INSERT INTO execution_logs (id, execution_id, timestamp, level, message)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.db.ExecContext(ctx, query,
		entry.ID,
		entry.ExecutionID,
		entry.Timestamp,
		string(entry.Level),
		entry.Message,
	)
	if err != nil {
		return fmt.Errorf("failed to append execution log: %w", err)
	}

	return nil
}

// Logs returns a single execution's log entries in append order. Log entry
// IDs are time-ordered UUIDs, so id order is append order.
func (r *ExecutionRepository) Logs(ctx context.Context, executionID string) ([]*models.ExecutionLogEntry, error) {
	query := `
		SELECT id, execution_id, timestamp, level, message
		FROM execution_logs
		WHERE execution_id = $1
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query execution logs: %w", err)
	}

	defer closeRows(ctx, rows, r.logger)

	entries := make([]*models.ExecutionLogEntry, 0)

	for rows.Next() {
		var entry models.ExecutionLogEntry

		err := rows.Scan(&entry.ID, &entry.ExecutionID, &entry.Timestamp, &entry.Level, &entry.Message)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution log: %w", err)
		}

		entries = append(entries, &entry)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating execution logs: %w", err)
	}

	return entries, nil
}

// DeleteOlderThan removes terminal executions received before cutoff; their
// logs go with them through the foreign key cascade.
func (r *ExecutionRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	query := `
		DELETE FROM executions
		WHERE received_at < $1
		  AND status IN ($2, $3, $4, $5)
	`

	result, err := r.db.ExecContext(ctx, query, cutoff,
		string(models.ExecutionStatusCompleted),
		string(models.ExecutionStatusFailed),
		string(models.ExecutionStatusTimeout),
		string(models.ExecutionStatusNoDeployment),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old executions: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return int(deleted), nil
}

func scanExecution(scanner interface {
	Scan(dest ...any) error
}) (*models.Execution, error) {
	var execution models.Execution

	err := scanner.Scan(
		&execution.ID,
		&execution.WorkflowID,
		&execution.TriggerID,
		&execution.DeploymentID,
		&execution.Status,
		&execution.ReceivedAt,
		&execution.StartedAt,
		&execution.CompletedAt,
		&execution.DurationMS,
		&execution.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}

	return &execution, nil
}

// JobRepository handles delayed job database operations.
type JobRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func (r *JobRepository) Enqueue(ctx context.Context, job *models.Job) error {
	payloadJSON, err := json.Marshal(job.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal job payload: %w", err)
	}

	query := `
		INSERT INTO jobs (id, kind, payload, attempts, max_attempts, run_at, last_error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = r.db.ExecContext(ctx, query,
		job.ID,
		string(job.Kind),
		payloadJSON,
		job.Attempts,
		job.MaxAttempts,
		job.RunAt,
		job.LastError,
		job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}

	return nil
}

// Due returns jobs whose run-at time is at or before now, oldest first.
func (r *JobRepository) Due(ctx context.Context, now time.Time, limit int) ([]*models.Job, error) {
	query := `
		SELECT id, kind, payload, attempts, max_attempts, run_at, last_error, created_at
		FROM jobs
		WHERE run_at <= $1
		ORDER BY run_at
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due jobs: %w", err)
	}

	defer closeRows(ctx, rows, r.logger)

	jobs := make([]*models.Job, 0)

	for rows.Next() {
		var (
			job         models.Job
			payloadJSON []byte
		)

		err := rows.Scan(&job.ID, &job.Kind, &payloadJSON, &job.Attempts,
			&job.MaxAttempts, &job.RunAt, &job.LastError, &job.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}

		if payloadJSON != nil {
			err := json.Unmarshal(payloadJSON, &job.Payload)
			if err != nil {
				return nil, fmt.Errorf("failed to unmarshal job payload: %w", err)
			}
		}

		jobs = append(jobs, &job)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating jobs: %w", err)
	}

	return jobs, nil
}

func (r *JobRepository) Update(ctx context.Context, job *models.Job) error {
	payloadJSON, err := json.Marshal(job.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal job payload: %w", err)
	}

	query := `
		UPDATE jobs SET
			payload = $2,
			attempts = $3,
			run_at = $4,
			last_error = $5
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, job.ID, payloadJSON, job.Attempts, job.RunAt, job.LastError)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected == 0 {
		return persistence.ErrJobNotFound
	}

	return nil
}

func (r *JobRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM jobs WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}

	return nil
}

// RevocationRepository handles invocation token revocation records.
type RevocationRepository struct {
	db *sql.DB
}

func (r *RevocationRepository) Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error {
	query := `
		INSERT INTO token_revocations (token_id, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (token_id) DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, query, tokenID, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}

	return nil
}

func (r *RevocationRepository) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	var revoked bool

	err := r.db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM token_revocations WHERE token_id = $1)", tokenID).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("failed to check token revocation: %w", err)
	}

	return revoked, nil
}

func (r *RevocationRepository) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM token_revocations WHERE expires_at <= $1", now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired revocations: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return int(deleted), nil
}
