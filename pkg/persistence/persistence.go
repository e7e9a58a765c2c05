// Package persistence provides the data storage abstraction for the routing
// engine: workflows, triggers, webhook bindings, deployments, executions,
// providers, runtimes, jobs and token revocations.
package persistence

import (
	"context"
	"time"

	"github.com/relayd/relay/pkg/models"
)

type Persistence interface {
	Workflows() WorkflowRepository
	Triggers() TriggerRepository
	Webhooks() WebhookRepository
	Deployments() DeploymentRepository
	Executions() ExecutionRepository
	Providers() ProviderRepository
	Runtimes() RuntimeRepository
	Jobs() JobRepository
	Revocations() RevocationRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

type WorkflowRepository interface {
	GetByID(ctx context.Context, id string) (*models.Workflow, error)
	All(ctx context.Context) ([]*models.Workflow, error)
	Save(ctx context.Context, workflow *models.Workflow) error
	Delete(ctx context.Context, id string) error
}

type TriggerRepository interface {
	GetByID(ctx context.Context, id string) (*models.Trigger, error)
	All(ctx context.Context) ([]*models.Trigger, error)
	ByProvider(ctx context.Context, providerID string) ([]*models.Trigger, error)
	ByType(ctx context.Context, triggerType models.TriggerType) ([]*models.Trigger, error)
	Save(ctx context.Context, trigger *models.Trigger) error
	Delete(ctx context.Context, id string) error
}

type WebhookRepository interface {
	GetByPathMethod(ctx context.Context, path, method string) (*models.IncomingWebhook, error)
	All(ctx context.Context) ([]*models.IncomingWebhook, error)
	Save(ctx context.Context, webhook *models.IncomingWebhook) error
	Delete(ctx context.Context, id string) error
}

type DeploymentRepository interface {
	GetByID(ctx context.Context, id string) (*models.Deployment, error)
	ActiveByWorkflow(ctx context.Context, workflowID string) (*models.Deployment, error)
	// Activate persists the deployment and flips the workflow's active flag
	// to it in a single atomic operation: the previous active deployment is
	// deactivated and the new one activated with no window of zero or two
	// active deployments.
	Activate(ctx context.Context, deployment *models.Deployment) error
	Save(ctx context.Context, deployment *models.Deployment) error
}

type ExecutionRepository interface {
	GetByID(ctx context.Context, id string) (*models.Execution, error)
	Create(ctx context.Context, execution *models.Execution) error
	Update(ctx context.Context, execution *models.Execution) error
	AppendLog(ctx context.Context, entry *models.ExecutionLogEntry) error
	Logs(ctx context.Context, executionID string) ([]*models.ExecutionLogEntry, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

type ProviderRepository interface {
	GetByID(ctx context.Context, id string) (*models.ProviderInstance, error)
	ByNamespace(ctx context.Context, namespaceID string) ([]*models.ProviderInstance, error)
	All(ctx context.Context) ([]*models.ProviderInstance, error)
	Save(ctx context.Context, provider *models.ProviderInstance) error
	Delete(ctx context.Context, id string) error
}

type RuntimeRepository interface {
	GetByID(ctx context.Context, id string) (*models.Runtime, error)
	GetByConfigHash(ctx context.Context, hash string) (*models.Runtime, error)
	Save(ctx context.Context, runtime *models.Runtime) error
	// DeleteUnused removes runtimes older than cutoff that no deployment
	// references.
	DeleteUnused(ctx context.Context, cutoff time.Time) (int, error)
}

type JobRepository interface {
	Enqueue(ctx context.Context, job *models.Job) error
	// Due returns jobs whose run-at time is at or before now, oldest first.
	Due(ctx context.Context, now time.Time, limit int) ([]*models.Job, error)
	Update(ctx context.Context, job *models.Job) error
	Delete(ctx context.Context, id string) error
}

type RevocationRepository interface {
	Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}
