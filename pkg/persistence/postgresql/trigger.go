package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/relayd/relay/pkg/models"
	"github.com/relayd/relay/pkg/persistence"
)

// TriggerRepository handles trigger database operations.
type TriggerRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

const triggerSelect = `
	SELECT id, workflow_id, provider_id, trigger_type, input, state, created_at
	FROM triggers`

func (r *TriggerRepository) GetByID(ctx context.Context, id string) (*models.Trigger, error) {
	query := triggerSelect + ` WHERE id = $1`

	trigger, err := scanTrigger(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrTriggerNotFound
		}

		return nil, fmt.Errorf("failed to scan trigger: %w", err)
	}

	return trigger, nil
}

func (r *TriggerRepository) All(ctx context.Context) ([]*models.Trigger, error) {
	return r.queryTriggers(ctx, triggerSelect+` ORDER BY created_at`)
}

func (r *TriggerRepository) ByProvider(ctx context.Context, providerID string) ([]*models.Trigger, error) {
	query := triggerSelect + ` WHERE provider_id = $1 ORDER BY created_at`

	return r.queryTriggers(ctx, query, providerID)
}

func (r *TriggerRepository) ByType(ctx context.Context, triggerType models.TriggerType) ([]*models.Trigger, error) {
	query := triggerSelect + ` WHERE trigger_type = $1 ORDER BY created_at`

	return r.queryTriggers(ctx, query, string(triggerType))
}

func (r *TriggerRepository) queryTriggers(ctx context.Context, query string, args ...any) ([]*models.Trigger, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query triggers: %w", err)
	}

	defer closeRows(ctx, rows, r.logger)

	triggers := make([]*models.Trigger, 0)

	for rows.Next() {
		trigger, err := scanTrigger(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trigger: %w", err)
		}

		triggers = append(triggers, trigger)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating triggers: %w", err)
	}

	return triggers, nil
}

func (r *TriggerRepository) Save(ctx context.Context, trigger *models.Trigger) error {
	if trigger.CreatedAt.IsZero() {
		trigger.CreatedAt = time.Now().UTC()
	}

	inputJSON, err := json.Marshal(trigger.Input)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger input: %w", err)
	}

	stateJSON, err := json.Marshal(trigger.State)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger state: %w", err)
	}

	query := `
		INSERT INTO triggers (id, workflow_id, provider_id, trigger_type, input, state, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			provider_id = EXCLUDED.provider_id,
			trigger_type = EXCLUDED.trigger_type,
			input = EXCLUDED.input,
			state = EXCLUDED.state
	`

	_, err = r.db.ExecContext(ctx, query,
		trigger.ID,
		trigger.WorkflowID,
		trigger.ProviderID,
		string(trigger.TriggerType),
		inputJSON,
		stateJSON,
		trigger.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save trigger: %w", err)
	}

	return nil
}

func (r *TriggerRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM triggers WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete trigger: %w", err)
	}

	return nil
}

func scanTrigger(scanner interface {
	Scan(dest ...any) error
}) (*models.Trigger, error) {
	var (
		trigger              models.Trigger
		inputJSON, stateJSON []byte
	)

	err := scanner.Scan(
		&trigger.ID,
		&trigger.WorkflowID,
		&trigger.ProviderID,
		&trigger.TriggerType,
		&inputJSON,
		&stateJSON,
		&trigger.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if inputJSON != nil {
		err := json.Unmarshal(inputJSON, &trigger.Input)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal trigger input: %w", err)
		}
	}

	if stateJSON != nil {
		err := json.Unmarshal(stateJSON, &trigger.State)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal trigger state: %w", err)
		}
	}

	return &trigger, nil
}

// WebhookRepository handles incoming webhook binding database operations.
type WebhookRepository struct {
	db *sql.DB
}

const webhookSelect = `
	SELECT id, path, method, trigger_id, provider_id, created_at
	FROM incoming_webhooks`

func (r *WebhookRepository) GetByPathMethod(ctx context.Context, path, method string) (*models.IncomingWebhook, error) {
	query := webhookSelect + ` WHERE path = $1 AND method = $2`

	webhook, err := scanWebhook(r.db.QueryRowContext(ctx, query, path, strings.ToUpper(method)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrWebhookNotFound
		}

		return nil, fmt.Errorf("failed to scan webhook: %w", err)
	}

	return webhook, nil
}

func (r *WebhookRepository) All(ctx context.Context) ([]*models.IncomingWebhook, error) {
	rows, err := r.db.QueryContext(ctx, webhookSelect+` ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to query webhooks: %w", err)
	}

	defer closeRows(ctx, rows, nil)

	webhooks := make([]*models.IncomingWebhook, 0)

	for rows.Next() {
		webhook, err := scanWebhook(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan webhook: %w", err)
		}

		webhooks = append(webhooks, webhook)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating webhooks: %w", err)
	}

	return webhooks, nil
}

func (r *WebhookRepository) Save(ctx context.Context, webhook *models.IncomingWebhook) error {
	err := webhook.Validate()
	if err != nil {
		return err
	}

	if webhook.CreatedAt.IsZero() {
		webhook.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO incoming_webhooks (id, path, method, trigger_id, provider_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			path = EXCLUDED.path,
			method = EXCLUDED.method,
			trigger_id = EXCLUDED.trigger_id,
			provider_id = EXCLUDED.provider_id
	`

	_, err = r.db.ExecContext(ctx, query,
		webhook.ID,
		webhook.Path,
		strings.ToUpper(webhook.Method),
		webhook.TriggerID,
		webhook.ProviderID,
		webhook.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save webhook: %w", err)
	}

	return nil
}

func (r *WebhookRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM incoming_webhooks WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete webhook: %w", err)
	}

	return nil
}

func scanWebhook(scanner interface {
	Scan(dest ...any) error
}) (*models.IncomingWebhook, error) {
	var webhook models.IncomingWebhook

	err := scanner.Scan(
		&webhook.ID,
		&webhook.Path,
		&webhook.Method,
		&webhook.TriggerID,
		&webhook.ProviderID,
		&webhook.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &webhook, nil
}
