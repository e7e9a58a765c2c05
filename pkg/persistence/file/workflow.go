package file

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/relayd/relay/pkg/models"
	"github.com/relayd/relay/pkg/persistence"
)

const (
	workflowsDir   = "workflows"
	deploymentsDir = "deployments"
	providersDir   = "providers"
	runtimesDir    = "runtimes"
)

type WorkflowRepository struct {
	p *Persistence
}

func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	var workflow models.Workflow

	err := r.p.read(workflowsDir, id, &workflow)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.ErrWorkflowNotFound
		}

		return nil, err
	}

	if workflow.DeletedAt != nil {
		return nil, persistence.ErrWorkflowNotFound
	}

	return &workflow, nil
}

func (r *WorkflowRepository) All(ctx context.Context) ([]*models.Workflow, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	ids, err := r.p.ids(workflowsDir)
	if err != nil {
		return nil, err
	}

	workflows := make([]*models.Workflow, 0, len(ids))

	for _, id := range ids {
		var workflow models.Workflow

		err := r.p.read(workflowsDir, id, &workflow)
		if err != nil {
			return nil, err
		}

		if workflow.DeletedAt != nil {
			continue
		}

		workflows = append(workflows, &workflow)
	}

	return workflows, nil
}

func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	now := time.Now().UTC()

	if workflow.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}

		workflow.ID = id.String()
	}

	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	return r.p.write(workflowsDir, workflow.ID, workflow)
}

func (r *WorkflowRepository) Delete(ctx context.Context, id string) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	return r.p.remove(workflowsDir, id)
}

type DeploymentRepository struct {
	p *Persistence
}

func (r *DeploymentRepository) GetByID(ctx context.Context, id string) (*models.Deployment, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	var deployment models.Deployment

	err := r.p.read(deploymentsDir, id, &deployment)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.ErrDeploymentNotFound
		}

		return nil, err
	}

	return &deployment, nil
}

func (r *DeploymentRepository) ActiveByWorkflow(ctx context.Context, workflowID string) (*models.Deployment, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	return r.activeByWorkflowLocked(workflowID)
}

func (r *DeploymentRepository) activeByWorkflowLocked(workflowID string) (*models.Deployment, error) {
	ids, err := r.p.ids(deploymentsDir)
	if err != nil {
		return nil, err
	}

	for _, id := range ids {
		var deployment models.Deployment

		err := r.p.read(deploymentsDir, id, &deployment)
		if err != nil {
			return nil, err
		}

		if deployment.WorkflowID == workflowID && deployment.Active {
			return &deployment, nil
		}
	}

	return nil, persistence.ErrDeploymentNotFound
}

// Activate deactivates the workflow's current deployment and activates the
// new one under one lock, so a concurrent reader never observes zero or two
// active deployments.
func (r *DeploymentRepository) Activate(ctx context.Context, deployment *models.Deployment) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if deployment.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}

		deployment.ID = id.String()
	}

	if deployment.CreatedAt.IsZero() {
		deployment.CreatedAt = time.Now().UTC()
	}

	previous, err := r.activeByWorkflowLocked(deployment.WorkflowID)
	if err != nil && !persistence.IsDeploymentNotFound(err) {
		return err
	}

	if previous != nil && previous.ID != deployment.ID {
		previous.Active = false

		err = r.p.write(deploymentsDir, previous.ID, previous)
		if err != nil {
			return err
		}
	}

	deployment.Active = true

	return r.p.write(deploymentsDir, deployment.ID, deployment)
}

func (r *DeploymentRepository) Save(ctx context.Context, deployment *models.Deployment) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if deployment.CreatedAt.IsZero() {
		deployment.CreatedAt = time.Now().UTC()
	}

	return r.p.write(deploymentsDir, deployment.ID, deployment)
}

type ProviderRepository struct {
	p *Persistence
}

func (r *ProviderRepository) GetByID(ctx context.Context, id string) (*models.ProviderInstance, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	var provider models.ProviderInstance

	err := r.p.read(providersDir, id, &provider)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.ErrProviderNotFound
		}

		return nil, err
	}

	return &provider, nil
}

func (r *ProviderRepository) ByNamespace(ctx context.Context, namespaceID string) ([]*models.ProviderInstance, error) {
	all, err := r.All(ctx)
	if err != nil {
		return nil, err
	}

	providers := make([]*models.ProviderInstance, 0, len(all))

	for _, provider := range all {
		if provider.NamespaceID == namespaceID {
			providers = append(providers, provider)
		}
	}

	return providers, nil
}

func (r *ProviderRepository) All(ctx context.Context) ([]*models.ProviderInstance, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	ids, err := r.p.ids(providersDir)
	if err != nil {
		return nil, err
	}

	providers := make([]*models.ProviderInstance, 0, len(ids))

	for _, id := range ids {
		var provider models.ProviderInstance

		err := r.p.read(providersDir, id, &provider)
		if err != nil {
			return nil, err
		}

		providers = append(providers, &provider)
	}

	return providers, nil
}

func (r *ProviderRepository) Save(ctx context.Context, provider *models.ProviderInstance) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if provider.CreatedAt.IsZero() {
		provider.CreatedAt = time.Now().UTC()
	}

	return r.p.write(providersDir, provider.ID, provider)
}

func (r *ProviderRepository) Delete(ctx context.Context, id string) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	return r.p.remove(providersDir, id)
}

type RuntimeRepository struct {
	p *Persistence
}

func (r *RuntimeRepository) GetByID(ctx context.Context, id string) (*models.Runtime, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	var runtime models.Runtime

	err := r.p.read(runtimesDir, id, &runtime)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.ErrRuntimeNotFound
		}

		return nil, err
	}

	return &runtime, nil
}

func (r *RuntimeRepository) GetByConfigHash(ctx context.Context, hash string) (*models.Runtime, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	ids, err := r.p.ids(runtimesDir)
	if err != nil {
		return nil, err
	}

	for _, id := range ids {
		var runtime models.Runtime

		err := r.p.read(runtimesDir, id, &runtime)
		if err != nil {
			return nil, err
		}

		if runtime.ConfigHash == hash {
			return &runtime, nil
		}
	}

	return nil, persistence.ErrRuntimeNotFound
}

func (r *RuntimeRepository) Save(ctx context.Context, runtime *models.Runtime) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if runtime.CreatedAt.IsZero() {
		runtime.CreatedAt = time.Now().UTC()
	}

	return r.p.write(runtimesDir, runtime.ID, runtime)
}

func (r *RuntimeRepository) DeleteUnused(ctx context.Context, cutoff time.Time) (int, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	referenced := make(map[string]struct{})

	deploymentIDs, err := r.p.ids(deploymentsDir)
	if err != nil {
		return 0, err
	}

	for _, id := range deploymentIDs {
		var deployment models.Deployment

		err := r.p.read(deploymentsDir, id, &deployment)
		if err != nil {
			return 0, err
		}

		referenced[deployment.RuntimeID] = struct{}{}
	}

	runtimeIDs, err := r.p.ids(runtimesDir)
	if err != nil {
		return 0, err
	}

	deleted := 0

	for _, id := range runtimeIDs {
		var runtime models.Runtime

		err := r.p.read(runtimesDir, id, &runtime)
		if err != nil {
			return 0, err
		}

		if _, inUse := referenced[runtime.ID]; inUse {
			continue
		}

		if runtime.CreatedAt.After(cutoff) {
			continue
		}

		err = r.p.remove(runtimesDir, id)
		if err != nil {
			return deleted, err
		}

		deleted++
	}

	return deleted, nil
}
