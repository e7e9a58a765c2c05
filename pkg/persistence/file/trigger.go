package file

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/relayd/relay/pkg/models"
	"github.com/relayd/relay/pkg/persistence"
)

const (
	triggersDir = "triggers"
	webhooksDir = "webhooks"
)

type TriggerRepository struct {
	p *Persistence
}

func (r *TriggerRepository) GetByID(ctx context.Context, id string) (*models.Trigger, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	var trigger models.Trigger

	err := r.p.read(triggersDir, id, &trigger)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.ErrTriggerNotFound
		}

		return nil, err
	}

	return &trigger, nil
}

func (r *TriggerRepository) All(ctx context.Context) ([]*models.Trigger, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	ids, err := r.p.ids(triggersDir)
	if err != nil {
		return nil, err
	}

	triggers := make([]*models.Trigger, 0, len(ids))

	for _, id := range ids {
		var trigger models.Trigger

		err := r.p.read(triggersDir, id, &trigger)
		if err != nil {
			return nil, err
		}

		triggers = append(triggers, &trigger)
	}

	return triggers, nil
}

func (r *TriggerRepository) ByProvider(ctx context.Context, providerID string) ([]*models.Trigger, error) {
	all, err := r.All(ctx)
	if err != nil {
		return nil, err
	}

	triggers := make([]*models.Trigger, 0, len(all))

	for _, trigger := range all {
		if trigger.ProviderID == providerID {
			triggers = append(triggers, trigger)
		}
	}

	return triggers, nil
}

func (r *TriggerRepository) ByType(ctx context.Context, triggerType models.TriggerType) ([]*models.Trigger, error) {
	all, err := r.All(ctx)
	if err != nil {
		return nil, err
	}

	triggers := make([]*models.Trigger, 0, len(all))

	for _, trigger := range all {
		if trigger.TriggerType == triggerType {
			triggers = append(triggers, trigger)
		}
	}

	return triggers, nil
}

func (r *TriggerRepository) Save(ctx context.Context, trigger *models.Trigger) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if trigger.CreatedAt.IsZero() {
		trigger.CreatedAt = time.Now().UTC()
	}

	return r.p.write(triggersDir, trigger.ID, trigger)
}

func (r *TriggerRepository) Delete(ctx context.Context, id string) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	return r.p.remove(triggersDir, id)
}

type WebhookRepository struct {
	p *Persistence
}

func (r *WebhookRepository) GetByPathMethod(ctx context.Context, path, method string) (*models.IncomingWebhook, error) {
	all, err := r.All(ctx)
	if err != nil {
		return nil, err
	}

	for _, webhook := range all {
		if webhook.Path == path && strings.EqualFold(webhook.Method, method) {
			return webhook, nil
		}
	}

	return nil, persistence.ErrWebhookNotFound
}

func (r *WebhookRepository) All(ctx context.Context) ([]*models.IncomingWebhook, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	ids, err := r.p.ids(webhooksDir)
	if err != nil {
		return nil, err
	}

	webhooks := make([]*models.IncomingWebhook, 0, len(ids))

	for _, id := range ids {
		var webhook models.IncomingWebhook

		err := r.p.read(webhooksDir, id, &webhook)
		if err != nil {
			return nil, err
		}

		webhooks = append(webhooks, &webhook)
	}

	return webhooks, nil
}

func (r *WebhookRepository) Save(ctx context.Context, webhook *models.IncomingWebhook) error {
	err := webhook.Validate()
	if err != nil {
		return err
	}

	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if webhook.CreatedAt.IsZero() {
		webhook.CreatedAt = time.Now().UTC()
	}

	return r.p.write(webhooksDir, webhook.ID, webhook)
}

func (r *WebhookRepository) Delete(ctx context.Context, id string) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	return r.p.remove(webhooksDir, id)
}
