// Package postgresql provides the PostgreSQL persistence implementation.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq"
	"github.com/relayd/relay/pkg/persistence"
	"github.com/relayd/relay/pkg/persistence/sqlbase"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db     *sql.DB
	logger *slog.Logger

	workflows   *WorkflowRepository
	triggers    *TriggerRepository
	webhooks    *WebhookRepository
	deployments *DeploymentRepository
	executions  *ExecutionRepository
	providers   *ProviderRepository
	runtimes    *RuntimeRepository
	jobs        *JobRepository
	revocations *RevocationRepository
}

// NewPersistence opens the database, runs migrations and wires the
// repositories.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:          database,
		logger:      logger,
		workflows:   &WorkflowRepository{db: database, logger: logger},
		triggers:    &TriggerRepository{db: database, logger: logger},
		webhooks:    &WebhookRepository{db: database},
		deployments: &DeploymentRepository{db: database},
		executions:  &ExecutionRepository{db: database, logger: logger},
		providers:   &ProviderRepository{db: database, logger: logger},
		runtimes:    &RuntimeRepository{db: database},
		jobs:        &JobRepository{db: database, logger: logger},
		revocations: &RevocationRepository{db: database},
	}, nil
}

func (p *Persistence) Workflows() persistence.WorkflowRepository     { return p.workflows }
func (p *Persistence) Triggers() persistence.TriggerRepository       { return p.triggers }
func (p *Persistence) Webhooks() persistence.WebhookRepository       { return p.webhooks }
func (p *Persistence) Deployments() persistence.DeploymentRepository { return p.deployments }
func (p *Persistence) Executions() persistence.ExecutionRepository   { return p.executions }
func (p *Persistence) Providers() persistence.ProviderRepository     { return p.providers }
func (p *Persistence) Runtimes() persistence.RuntimeRepository       { return p.runtimes }
func (p *Persistence) Jobs() persistence.JobRepository               { return p.jobs }
func (p *Persistence) Revocations() persistence.RevocationRepository { return p.revocations }

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (p *Persistence) Close(ctx context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}
