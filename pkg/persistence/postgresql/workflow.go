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

// WorkflowRepository handles workflow-related database operations.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	query := `
		SELECT
			id
		  , name
		  , namespace_id
		  , organization_id
		  , active
		  , created_at
		  , updated_at
		  , deleted_at
		FROM workflows
		WHERE id = $1 AND deleted_at IS NULL
	`

	row := r.db.QueryRowContext(ctx, query, id)

	workflow, err := scanWorkflow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrWorkflowNotFound
		}

		return nil, fmt.Errorf("failed to scan workflow: %w", err)
	}

	return workflow, nil
}

func (r *WorkflowRepository) All(ctx context.Context) ([]*models.Workflow, error) {
	query := `
		SELECT
			id
		  , name
		  , namespace_id
		  , organization_id
		  , active
		  , created_at
		  , updated_at
		  , deleted_at
		FROM workflows
		WHERE deleted_at IS NULL
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}

	defer closeRows(ctx, rows, r.logger)

	workflows := make([]*models.Workflow, 0)

	for rows.Next() {
		workflow, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		workflows = append(workflows, workflow)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	return workflows, nil
}

func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	now := time.Now().UTC()

	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	if workflow.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate workflow ID: %w", err)
		}

		workflow.ID = id.String()
	}

	query := `
		INSERT INTO workflows (id, name, namespace_id, organization_id, active, created_at, updated_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			namespace_id = EXCLUDED.namespace_id,
			organization_id = EXCLUDED.organization_id,
			active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at,
			deleted_at = EXCLUDED.deleted_at
	`

	_, err := r.db.ExecContext(ctx, query,
		workflow.ID,
		workflow.Name,
		workflow.NamespaceID,
		workflow.OrganizationID,
		workflow.Active,
		workflow.CreatedAt,
		workflow.UpdatedAt,
		workflow.DeletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save workflow: %w", err)
	}

	return nil
}

// Delete soft deletes a workflow by setting deleted_at.
func (r *WorkflowRepository) Delete(ctx context.Context, id string) error {
	query := `UPDATE workflows SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL`

	_, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}

	return nil
}

func scanWorkflow(scanner interface {
	Scan(dest ...any) error
}) (*models.Workflow, error) {
	var workflow models.Workflow

	err := scanner.Scan(
		&workflow.ID,
		&workflow.Name,
		&workflow.NamespaceID,
		&workflow.OrganizationID,
		&workflow.Active,
		&workflow.CreatedAt,
		&workflow.UpdatedAt,
		&workflow.DeletedAt,
	)
	if err != nil {
		return nil, err
	}

	return &workflow, nil
}

// DeploymentRepository handles deployment-related database operations.
type DeploymentRepository struct {
	db *sql.DB
}

func (r *DeploymentRepository) GetByID(ctx context.Context, id string) (*models.Deployment, error) {
	query := `
		SELECT id, workflow_id, runtime_id, bundle, active, created_at
		FROM deployments
		WHERE id = $1
	`

	deployment, err := scanDeployment(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrDeploymentNotFound
		}

		return nil, fmt.Errorf("failed to scan deployment: %w", err)
	}

	return deployment, nil
}

func (r *DeploymentRepository) ActiveByWorkflow(ctx context.Context, workflowID string) (*models.Deployment, error) {
	query := `
		SELECT id, workflow_id, runtime_id, bundle, active, created_at
		FROM deployments
		WHERE workflow_id = $1 AND active
	`

	deployment, err := scanDeployment(r.db.QueryRowContext(ctx, query, workflowID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrDeploymentNotFound
		}

		return nil, fmt.Errorf("failed to scan deployment: %w", err)
	}

	return deployment, nil
}

// Activate persists the deployment and flips the workflow's active flag to
// it in one transaction, so there is no window with zero or two active
// deployments.
func (r *DeploymentRepository) Activate(ctx context.Context, deployment *models.Deployment) error {
	if deployment.CreatedAt.IsZero() {
		deployment.CreatedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx,
		"UPDATE deployments SET active = false WHERE workflow_id = $1 AND active",
		deployment.WorkflowID)
	if err != nil {
		return fmt.Errorf("failed to deactivate previous deployment: %w", err)
	}

	deployment.Active = true

	err = saveDeployment(ctx, tx, deployment)
	if err != nil {
		return fmt.Errorf("failed to save deployment: %w", err)
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (r *DeploymentRepository) Save(ctx context.Context, deployment *models.Deployment) error {
	if deployment.CreatedAt.IsZero() {
		deployment.CreatedAt = time.Now().UTC()
	}

	err := saveDeployment(ctx, r.db, deployment)
	if err != nil {
		return fmt.Errorf("failed to save deployment: %w", err)
	}

	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func saveDeployment(ctx context.Context, db execer, deployment *models.Deployment) error {
	query := `
		INSERT INTO deployments (id, workflow_id, runtime_id, bundle, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			active = EXCLUDED.active
	`

	_, err := db.ExecContext(ctx, query,
		deployment.ID,
		deployment.WorkflowID,
		deployment.RuntimeID,
		deployment.Bundle,
		deployment.Active,
		deployment.CreatedAt,
	)

	return err
}

func scanDeployment(scanner interface {
	Scan(dest ...any) error
}) (*models.Deployment, error) {
	var deployment models.Deployment

	err := scanner.Scan(
		&deployment.ID,
		&deployment.WorkflowID,
		&deployment.RuntimeID,
		&deployment.Bundle,
		&deployment.Active,
		&deployment.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &deployment, nil
}

// ProviderRepository handles provider instance database operations.
type ProviderRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func (r *ProviderRepository) GetByID(ctx context.Context, id string) (*models.ProviderInstance, error) {
	query := providerSelect + ` WHERE id = $1`

	provider, err := scanProvider(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrProviderNotFound
		}

		return nil, fmt.Errorf("failed to scan provider: %w", err)
	}

	return provider, nil
}

func (r *ProviderRepository) ByNamespace(ctx context.Context, namespaceID string) ([]*models.ProviderInstance, error) {
	query := providerSelect + ` WHERE namespace_id = $1 ORDER BY created_at`

	return r.queryProviders(ctx, query, namespaceID)
}

func (r *ProviderRepository) All(ctx context.Context) ([]*models.ProviderInstance, error) {
	return r.queryProviders(ctx, providerSelect+` ORDER BY created_at`)
}

func (r *ProviderRepository) queryProviders(ctx context.Context, query string, args ...any) ([]*models.ProviderInstance, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query providers: %w", err)
	}

	defer closeRows(ctx, rows, r.logger)

	providers := make([]*models.ProviderInstance, 0)

	for rows.Next() {
		provider, err := scanProvider(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan provider: %w", err)
		}

		providers = append(providers, provider)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating providers: %w", err)
	}

	return providers, nil
}

func (r *ProviderRepository) Save(ctx context.Context, provider *models.ProviderInstance) error {
	if provider.CreatedAt.IsZero() {
		provider.CreatedAt = time.Now().UTC()
	}

	configJSON, err := json.Marshal(provider.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal provider config: %w", err)
	}

	secretsJSON, err := json.Marshal(provider.Secrets)
	if err != nil {
		return fmt.Errorf("failed to marshal provider secrets: %w", err)
	}

	query := `
		INSERT INTO providers (id, namespace_id, type, alias, config, secrets, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			config = EXCLUDED.config,
			secrets = EXCLUDED.secrets,
			alias = EXCLUDED.alias
	`

	_, err = r.db.ExecContext(ctx, query,
		provider.ID,
		provider.NamespaceID,
		provider.Type,
		provider.Alias,
		configJSON,
		secretsJSON,
		provider.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save provider: %w", err)
	}

	return nil
}

func (r *ProviderRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM providers WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete provider: %w", err)
	}

	return nil
}

const providerSelect = `
	SELECT id, namespace_id, type, alias, config, secrets, created_at
	FROM providers`

func scanProvider(scanner interface {
	Scan(dest ...any) error
}) (*models.ProviderInstance, error) {
	var (
		provider                models.ProviderInstance
		configJSON, secretsJSON []byte
	)

	err := scanner.Scan(
		&provider.ID,
		&provider.NamespaceID,
		&provider.Type,
		&provider.Alias,
		&configJSON,
		&secretsJSON,
		&provider.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if configJSON != nil {
		err := json.Unmarshal(configJSON, &provider.Config)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal provider config: %w", err)
		}
	}

	if secretsJSON != nil {
		err := json.Unmarshal(secretsJSON, &provider.Secrets)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal provider secrets: %w", err)
		}
	}

	return &provider, nil
}

// RuntimeRepository handles runtime database operations.
type RuntimeRepository struct {
	db *sql.DB
}

func (r *RuntimeRepository) GetByID(ctx context.Context, id string) (*models.Runtime, error) {
	query := `
		SELECT id, image, config, config_hash, created_at
		FROM runtimes
		WHERE id = $1
	`

	runtime, err := scanRuntime(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrRuntimeNotFound
		}

		return nil, fmt.Errorf("failed to scan runtime: %w", err)
	}

	return runtime, nil
}

func (r *RuntimeRepository) GetByConfigHash(ctx context.Context, hash string) (*models.Runtime, error) {
	query := `
		SELECT id, image, config, config_hash, created_at
		FROM runtimes
		WHERE config_hash = $1
	`

	runtime, err := scanRuntime(r.db.QueryRowContext(ctx, query, hash))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrRuntimeNotFound
		}

		return nil, fmt.Errorf("failed to scan runtime: %w", err)
	}

	return runtime, nil
}

func (r *RuntimeRepository) Save(ctx context.Context, runtime *models.Runtime) error {
	if runtime.CreatedAt.IsZero() {
		runtime.CreatedAt = time.Now().UTC()
	}

	configJSON, err := json.Marshal(runtime.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal runtime config: %w", err)
	}

	query := `
		INSERT INTO runtimes (id, image, config, config_hash, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`

	_, err = r.db.ExecContext(ctx, query,
		runtime.ID,
		runtime.Image,
		configJSON,
		runtime.ConfigHash,
		runtime.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save runtime: %w", err)
	}

	return nil
}

// DeleteUnused removes runtimes older than cutoff that no deployment
// references.
func (r *RuntimeRepository) DeleteUnused(ctx context.Context, cutoff time.Time) (int, error) {
	query := `
		DELETE FROM runtimes
		WHERE created_at < $1
		  AND id NOT IN (SELECT DISTINCT runtime_id FROM deployments)
	`

	result, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete unused runtimes: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return int(deleted), nil
}

func scanRuntime(scanner interface {
	Scan(dest ...any) error
}) (*models.Runtime, error) {
	var (
		runtime    models.Runtime
		configJSON []byte
	)

	err := scanner.Scan(
		&runtime.ID,
		&runtime.Image,
		&configJSON,
		&runtime.ConfigHash,
		&runtime.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if configJSON != nil {
		err := json.Unmarshal(configJSON, &runtime.Config)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal runtime config: %w", err)
		}
	}

	return &runtime, nil
}

func closeRows(ctx context.Context, rows *sql.Rows, logger *slog.Logger) {
	err := rows.Close()
	if err != nil && logger != nil {
		logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}
