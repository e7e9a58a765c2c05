package file

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/relayd/relay/pkg/models"
	"github.com/relayd/relay/pkg/persistence"
)

const (
	executionsDir    = "executions"
	executionLogsDir = "execution_logs"
)

type ExecutionRepository struct {
	p *Persistence
}

func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.Execution, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	var execution models.Execution

	err := r.p.read(executionsDir, id, &execution)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.ErrExecutionNotFound
		}

		return nil, err
	}

	return &execution, nil
}

func (r *ExecutionRepository) Create(ctx context.Context, execution *models.Execution) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	return r.p.write(executionsDir, execution.ID, execution)
}

func (r *ExecutionRepository) Update(ctx context.Context, execution *models.Execution) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	return r.p.write(executionsDir, execution.ID, execution)
}

func (r *ExecutionRepository) AppendLog(ctx context.Context, entry *models.ExecutionLogEntry) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if entry.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}

		entry.ID = id.String()
	}

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	// One file per entry, keyed so lexical order is append order (uuidv7 is
	// time-ordered).
	return r.p.write(executionLogsDir, fmt.Sprintf("%s_%s", entry.ExecutionID, entry.ID), entry)
}

func (r *ExecutionRepository) Logs(ctx context.Context, executionID string) ([]*models.ExecutionLogEntry, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	ids, err := r.p.ids(executionLogsDir)
	if err != nil {
		return nil, err
	}

	sort.Strings(ids)

	entries := make([]*models.ExecutionLogEntry, 0, len(ids))

	for _, id := range ids {
		var entry models.ExecutionLogEntry

		err := r.p.read(executionLogsDir, id, &entry)
		if err != nil {
			return nil, err
		}

		if entry.ExecutionID == executionID {
			entries = append(entries, &entry)
		}
	}

	return entries, nil
}

func (r *ExecutionRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	ids, err := r.p.ids(executionsDir)
	if err != nil {
		return 0, err
	}

	deleted := 0

	for _, id := range ids {
		var execution models.Execution

		err := r.p.read(executionsDir, id, &execution)
		if err != nil {
			return deleted, err
		}

		if !execution.Status.Terminal() || execution.ReceivedAt.After(cutoff) {
			continue
		}

		err = r.p.remove(executionsDir, id)
		if err != nil {
			return deleted, err
		}

		deleted++
	}

	return deleted, nil
}

type JobRepository struct {
	p *Persistence
}

const jobsDir = "jobs"

func (r *JobRepository) Enqueue(ctx context.Context, job *models.Job) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if job.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}

		job.ID = id.String()
	}

	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}

	if job.MaxAttempts == 0 {
		job.MaxAttempts = models.DefaultMaxAttempts
	}

	return r.p.write(jobsDir, job.ID, job)
}

func (r *JobRepository) Due(ctx context.Context, now time.Time, limit int) ([]*models.Job, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	ids, err := r.p.ids(jobsDir)
	if err != nil {
		return nil, err
	}

	jobs := make([]*models.Job, 0, len(ids))

	for _, id := range ids {
		var job models.Job

		err := r.p.read(jobsDir, id, &job)
		if err != nil {
			return nil, err
		}

		if job.RunAt.After(now) {
			continue
		}

		jobs = append(jobs, &job)
	}

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].RunAt.Before(jobs[j].RunAt)
	})

	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}

	return jobs, nil
}

func (r *JobRepository) Update(ctx context.Context, job *models.Job) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	return r.p.write(jobsDir, job.ID, job)
}

func (r *JobRepository) Delete(ctx context.Context, id string) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	return r.p.remove(jobsDir, id)
}

type RevocationRepository struct {
	p *Persistence
}

const revocationsDir = "revocations"

type revocationRecord struct {
	TokenID   string    `json:"token_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (r *RevocationRepository) Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	return r.p.write(revocationsDir, tokenID, &revocationRecord{
		TokenID:   tokenID,
		ExpiresAt: expiresAt,
	})
}

func (r *RevocationRepository) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	var record revocationRecord

	err := r.p.read(revocationsDir, tokenID, &record)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}

		return false, err
	}

	return true, nil
}

func (r *RevocationRepository) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	ids, err := r.p.ids(revocationsDir)
	if err != nil {
		return 0, err
	}

	deleted := 0

	for _, id := range ids {
		var record revocationRecord

		err := r.p.read(revocationsDir, id, &record)
		if err != nil {
			return deleted, err
		}

		if record.ExpiresAt.After(now) {
			continue
		}

		err = r.p.remove(revocationsDir, id)
		if err != nil {
			return deleted, err
		}

		deleted++
	}

	return deleted, nil
}
