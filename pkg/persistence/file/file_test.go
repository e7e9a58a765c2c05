package file_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/relayd/relay/pkg/models"
	"github.com/relayd/relay/pkg/persistence"
	"github.com/relayd/relay/pkg/persistence/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPersistence(t *testing.T) *file.Persistence {
	t.Helper()

	return file.NewPersistence(t.TempDir())
}

func TestWorkflowRepository_SaveAndSoftDelete(t *testing.T) {
	ctx := context.Background()
	p := newPersistence(t)

	workflow := &models.Workflow{
		Name:           "order sync",
		NamespaceID:    "ns-1",
		OrganizationID: "org-1",
		Active:         true,
	}
	require.NoError(t, p.Workflows().Save(ctx, workflow))
	require.NotEmpty(t, workflow.ID, "save assigns an id when absent")

	stored, err := p.Workflows().GetByID(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, "order sync", stored.Name)

	deleted := time.Now().UTC()
	workflow.DeletedAt = &deleted
	require.NoError(t, p.Workflows().Save(ctx, workflow))

	_, err = p.Workflows().GetByID(ctx, workflow.ID)
	assert.ErrorIs(t, err, persistence.ErrWorkflowNotFound)

	all, err := p.Workflows().All(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestDeploymentRepository_ActivateFlipsAtomically(t *testing.T) {
	ctx := context.Background()
	p := newPersistence(t)

	first := &models.Deployment{WorkflowID: "wf-1", RuntimeID: "rt-1", Bundle: []byte("v1")}
	require.NoError(t, p.Deployments().Activate(ctx, first))

	active, err := p.Deployments().ActiveByWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, active.ID)

	second := &models.Deployment{WorkflowID: "wf-1", RuntimeID: "rt-1", Bundle: []byte("v2")}
	require.NoError(t, p.Deployments().Activate(ctx, second))

	active, err = p.Deployments().ActiveByWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, second.ID, active.ID)

	demoted, err := p.Deployments().GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, demoted.Active)
}

func TestDeploymentRepository_ActiveByWorkflowNotFound(t *testing.T) {
	ctx := context.Background()
	p := newPersistence(t)

	_, err := p.Deployments().ActiveByWorkflow(ctx, "wf-missing")
	assert.ErrorIs(t, err, persistence.ErrDeploymentNotFound)
	assert.True(t, persistence.IsDeploymentNotFound(err))
}

func TestWebhookRepository_PathMethodLookupIsCaseInsensitive(t *testing.T) {
	ctx := context.Background()
	p := newPersistence(t)

	triggerID := "t-1"
	webhook := &models.IncomingWebhook{
		ID:        uuid.New().String(),
		Path:      "/deploy",
		Method:    "POST",
		TriggerID: &triggerID,
	}
	require.NoError(t, p.Webhooks().Save(ctx, webhook))

	found, err := p.Webhooks().GetByPathMethod(ctx, "/deploy", "post")
	require.NoError(t, err)
	assert.Equal(t, webhook.ID, found.ID)

	_, err = p.Webhooks().GetByPathMethod(ctx, "/deploy", "DELETE")
	assert.ErrorIs(t, err, persistence.ErrWebhookNotFound)
}

func TestWebhookRepository_SaveRejectsAmbiguousOwner(t *testing.T) {
	ctx := context.Background()
	p := newPersistence(t)

	triggerID := "t-1"
	providerID := "prov-1"

	err := p.Webhooks().Save(ctx, &models.IncomingWebhook{
		ID:         uuid.New().String(),
		Path:       "/both",
		Method:     "POST",
		TriggerID:  &triggerID,
		ProviderID: &providerID,
	})
	require.Error(t, err)
}

func TestTriggerRepository_ByProviderAndByType(t *testing.T) {
	ctx := context.Background()
	p := newPersistence(t)

	save := func(id, providerID string, triggerType models.TriggerType) {
		require.NoError(t, p.Triggers().Save(ctx, &models.Trigger{
			ID:          id,
			WorkflowID:  "wf-1",
			ProviderID:  providerID,
			TriggerType: triggerType,
		}))
	}

	save("t-1", "prov-a", models.TriggerTypePush)
	save("t-2", "prov-a", models.TriggerTypeMessage)
	save("t-3", "prov-b", models.TriggerTypeMessage)

	byProvider, err := p.Triggers().ByProvider(ctx, "prov-a")
	require.NoError(t, err)
	assert.Len(t, byProvider, 2)

	byType, err := p.Triggers().ByType(ctx, models.TriggerTypeMessage)
	require.NoError(t, err)
	assert.Len(t, byType, 2)
}

func TestExecutionRepository_LogsKeepAppendOrder(t *testing.T) {
	ctx := context.Background()
	p := newPersistence(t)

	exec := &models.Execution{
		ID:         uuid.New().String(),
		WorkflowID: "wf-1",
		Status:     models.ExecutionStatusReceived,
		ReceivedAt: time.Now().UTC(),
	}
	require.NoError(t, p.Executions().Create(ctx, exec))

	for _, message := range []string{"first", "second", "third"} {
		require.NoError(t, p.Executions().AppendLog(ctx, &models.ExecutionLogEntry{
			ExecutionID: exec.ID,
			Level:       models.LogLevelInfo,
			Message:     message,
		}))
	}

	// an entry for another execution must not leak in
	require.NoError(t, p.Executions().AppendLog(ctx, &models.ExecutionLogEntry{
		ExecutionID: "other-exec",
		Level:       models.LogLevelInfo,
		Message:     "noise",
	}))

	logs, err := p.Executions().Logs(ctx, exec.ID)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, "first", logs[0].Message)
	assert.Equal(t, "second", logs[1].Message)
	assert.Equal(t, "third", logs[2].Message)
}

func TestExecutionRepository_DeleteOlderThanKeepsRunning(t *testing.T) {
	ctx := context.Background()
	p := newPersistence(t)

	old := time.Now().UTC().Add(-48 * time.Hour)

	completed := &models.Execution{
		ID:         uuid.New().String(),
		WorkflowID: "wf-1",
		Status:     models.ExecutionStatusCompleted,
		ReceivedAt: old,
	}
	running := &models.Execution{
		ID:         uuid.New().String(),
		WorkflowID: "wf-1",
		Status:     models.ExecutionStatusStarted,
		ReceivedAt: old,
	}
	recent := &models.Execution{
		ID:         uuid.New().String(),
		WorkflowID: "wf-1",
		Status:     models.ExecutionStatusCompleted,
		ReceivedAt: time.Now().UTC(),
	}

	for _, exec := range []*models.Execution{completed, running, recent} {
		require.NoError(t, p.Executions().Create(ctx, exec))
	}

	deleted, err := p.Executions().DeleteOlderThan(ctx, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = p.Executions().GetByID(ctx, completed.ID)
	assert.ErrorIs(t, err, persistence.ErrExecutionNotFound)

	_, err = p.Executions().GetByID(ctx, running.ID)
	require.NoError(t, err, "a non-terminal execution is never reaped")

	_, err = p.Executions().GetByID(ctx, recent.ID)
	require.NoError(t, err)
}

func TestJobRepository_DueOrderingAndLimit(t *testing.T) {
	ctx := context.Background()
	p := newPersistence(t)

	now := time.Now().UTC()

	enqueue := func(id string, runAt time.Time) {
		require.NoError(t, p.Jobs().Enqueue(ctx, &models.Job{
			ID:    id,
			Kind:  models.JobKindWebhookDelivery,
			RunAt: runAt,
		}))
	}

	enqueue("j-late", now.Add(-time.Minute))
	enqueue("j-early", now.Add(-time.Hour))
	enqueue("j-future", now.Add(time.Hour))

	due, err := p.Jobs().Due(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "j-early", due[0].ID)
	assert.Equal(t, "j-late", due[1].ID)

	limited, err := p.Jobs().Due(ctx, now, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "j-early", limited[0].ID)
}

func TestJobRepository_EnqueueDefaultsMaxAttempts(t *testing.T) {
	ctx := context.Background()
	p := newPersistence(t)

	job := &models.Job{Kind: models.JobKindWebhookDelivery, RunAt: time.Now().UTC()}
	require.NoError(t, p.Jobs().Enqueue(ctx, job))

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, models.DefaultMaxAttempts, job.MaxAttempts)
}

func TestRuntimeRepository_DeleteUnusedKeepsReferenced(t *testing.T) {
	ctx := context.Background()
	p := newPersistence(t)

	old := time.Now().UTC().Add(-30 * 24 * time.Hour)

	used := &models.Runtime{ID: "rt-used", Image: "node:22", ConfigHash: "h1", CreatedAt: old}
	stale := &models.Runtime{ID: "rt-stale", Image: "node:20", ConfigHash: "h2", CreatedAt: old}
	fresh := &models.Runtime{ID: "rt-fresh", Image: "node:24", ConfigHash: "h3"}

	for _, rt := range []*models.Runtime{used, stale, fresh} {
		require.NoError(t, p.Runtimes().Save(ctx, rt))
	}

	require.NoError(t, p.Deployments().Activate(ctx, &models.Deployment{
		WorkflowID: "wf-1",
		RuntimeID:  used.ID,
		Bundle:     []byte("v1"),
	}))

	deleted, err := p.Runtimes().DeleteUnused(ctx, time.Now().UTC().Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = p.Runtimes().GetByID(ctx, used.ID)
	require.NoError(t, err)

	_, err = p.Runtimes().GetByID(ctx, stale.ID)
	assert.ErrorIs(t, err, persistence.ErrRuntimeNotFound)

	_, err = p.Runtimes().GetByConfigHash(ctx, "h3")
	require.NoError(t, err)
}

func TestRevocationRepository_SweepDropsExpiredOnly(t *testing.T) {
	ctx := context.Background()
	p := newPersistence(t)

	now := time.Now().UTC()

	require.NoError(t, p.Revocations().Revoke(ctx, "tok-expired", now.Add(-time.Minute)))
	require.NoError(t, p.Revocations().Revoke(ctx, "tok-live", now.Add(time.Hour)))

	deleted, err := p.Revocations().DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	revoked, err := p.Revocations().IsRevoked(ctx, "tok-live")
	require.NoError(t, err)
	assert.True(t, revoked)

	revoked, err = p.Revocations().IsRevoked(ctx, "tok-expired")
	require.NoError(t, err)
	assert.False(t, revoked)
}
