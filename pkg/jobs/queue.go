// Package jobs provides the durable delayed-job queue and the periodic
// maintenance schedule.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/relayd/relay/pkg/models"
	"github.com/relayd/relay/pkg/persistence"
	"github.com/robfig/cron/v3"
)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultBatchSize    = 50

	// DefaultExecutionRetention bounds how long finished execution records
	// are kept before maintenance deletes them.
	DefaultExecutionRetention = 30 * 24 * time.Hour

	// DefaultRuntimeRetention bounds how long a runtime without deployments
	// survives before it is removed.
	DefaultRuntimeRetention = 7 * 24 * time.Hour

	maintenanceSchedule = "@hourly"
)

// Handler processes one job. A nil return deletes the job; an error
// reschedules it with backoff until attempts are exhausted.
type Handler func(ctx context.Context, job *models.Job) error

type Config struct {
	PollInterval       time.Duration
	BatchSize          int
	ExecutionRetention time.Duration
	RuntimeRetention   time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}

	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}

	if c.ExecutionRetention <= 0 {
		c.ExecutionRetention = DefaultExecutionRetention
	}

	if c.RuntimeRetention <= 0 {
		c.RuntimeRetention = DefaultRuntimeRetention
	}

	return c
}

// Queue polls the persisted job table for due work and runs housekeeping on
// a fixed schedule. One instance per process; the poll loop claims jobs in
// due order.
type Queue struct {
	persistence persistence.Persistence
	handlers    map[models.JobKind]Handler
	logger      *slog.Logger
	config      Config

	cron   *cron.Cron
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewQueue(p persistence.Persistence, logger *slog.Logger, config Config) *Queue {
	return &Queue{
		persistence: p,
		handlers:    make(map[models.JobKind]Handler),
		logger:      logger.With("module", "jobs"),
		config:      config.withDefaults(),
		stopCh:      make(chan struct{}),
	}
}

func (q *Queue) Register(kind models.JobKind, handler Handler) {
	q.handlers[kind] = handler
}

// Enqueue persists a new job due immediately.
func (q *Queue) Enqueue(ctx context.Context, kind models.JobKind, payload map[string]any) (*models.Job, error) {
	now := time.Now().UTC()

	job := &models.Job{
		ID:          uuid.Must(uuid.NewV7()).String(),
		Kind:        kind,
		Payload:     payload,
		Attempts:    0,
		MaxAttempts: models.DefaultMaxAttempts,
		RunAt:       now,
		CreatedAt:   now,
	}

	err := q.persistence.Jobs().Enqueue(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	return job, nil
}

func (q *Queue) Start(ctx context.Context) error {
	q.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	_, err := q.cron.AddFunc(maintenanceSchedule, func() {
		q.runMaintenance(context.Background())
	})
	if err != nil {
		return fmt.Errorf("failed to schedule maintenance: %w", err)
	}

	q.cron.Start()

	q.wg.Add(1)

	go q.poll(ctx)

	q.logger.InfoContext(ctx, "Job queue started",
		"poll_interval", q.config.PollInterval, "batch_size", q.config.BatchSize)

	return nil
}

func (q *Queue) Stop(ctx context.Context) error {
	close(q.stopCh)
	q.wg.Wait()

	if q.cron != nil {
		stopCtx := q.cron.Stop()

		select {
		case <-stopCtx.Done():
		case <-ctx.Done():
		}
	}

	return nil
}

func (q *Queue) poll(ctx context.Context) {
	defer q.wg.Done()

	ticker := time.NewTicker(q.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.RunDue(ctx, time.Now().UTC())
		}
	}
}

// RunDue processes one batch of due jobs.
func (q *Queue) RunDue(ctx context.Context, now time.Time) {
	due, err := q.persistence.Jobs().Due(ctx, now, q.config.BatchSize)
	if err != nil {
		q.logger.ErrorContext(ctx, "Failed to fetch due jobs", "error", err)

		return
	}

	for _, job := range due {
		q.runJob(ctx, job, now)
	}
}

func (q *Queue) runJob(ctx context.Context, job *models.Job, now time.Time) {
	handler, ok := q.handlers[job.Kind]
	if !ok {
		q.logger.ErrorContext(ctx, "No handler for job kind, abandoning job",
			"job_id", job.ID, "kind", job.Kind)

		q.delete(ctx, job)

		return
	}

	err := handler(ctx, job)
	if err == nil {
		q.delete(ctx, job)

		return
	}

	job.Attempts++
	job.LastError = err.Error()

	if job.Attempts >= job.MaxAttempts {
		q.logger.ErrorContext(ctx, "Job abandoned after exhausting attempts",
			"job_id", job.ID, "kind", job.Kind,
			"attempts", job.Attempts, "error", err)

		q.delete(ctx, job)

		return
	}

	job.RunAt = now.Add(Backoff(job.Attempts))

	q.logger.WarnContext(ctx, "Job failed, rescheduled",
		"job_id", job.ID, "kind", job.Kind,
		"attempt", job.Attempts, "run_at", job.RunAt, "error", err)

	updateErr := q.persistence.Jobs().Update(ctx, job)
	if updateErr != nil {
		q.logger.ErrorContext(ctx, "Failed to reschedule job",
			"job_id", job.ID, "error", updateErr)
	}
}

func (q *Queue) delete(ctx context.Context, job *models.Job) {
	err := q.persistence.Jobs().Delete(ctx, job.ID)
	if err != nil {
		q.logger.ErrorContext(ctx, "Failed to delete job", "job_id", job.ID, "error", err)
	}
}

// Backoff returns the delay before the given retry attempt: doubles per
// attempt starting at two minutes.
func Backoff(attempt int) time.Duration {
	return time.Duration(math.Pow(2, float64(attempt))) * time.Minute
}

func (q *Queue) runMaintenance(ctx context.Context) {
	now := time.Now().UTC()

	deleted, err := q.persistence.Executions().DeleteOlderThan(ctx, now.Add(-q.config.ExecutionRetention))
	if err != nil {
		q.logger.ErrorContext(ctx, "Execution retention sweep failed", "error", err)
	} else if deleted > 0 {
		q.logger.InfoContext(ctx, "Deleted old executions", "count", deleted)
	}

	deleted, err = q.persistence.Runtimes().DeleteUnused(ctx, now.Add(-q.config.RuntimeRetention))
	if err != nil {
		q.logger.ErrorContext(ctx, "Runtime sweep failed", "error", err)
	} else if deleted > 0 {
		q.logger.InfoContext(ctx, "Deleted unused runtimes", "count", deleted)
	}

	deleted, err = q.persistence.Revocations().DeleteExpired(ctx, now)
	if err != nil {
		q.logger.ErrorContext(ctx, "Revocation sweep failed", "error", err)
	} else if deleted > 0 {
		q.logger.InfoContext(ctx, "Deleted expired revocations", "count", deleted)
	}
}
