package models

import (
	"errors"
	"time"
)

var ErrAmbiguousWebhookOwner = errors.New(
	"incoming webhook must reference exactly one of trigger_id or provider_id")

// IncomingWebhook binds a path+method pair to either one specific trigger
// (trigger-owned) or one provider instance (provider-owned). Exactly one of
// the two references is set.
type IncomingWebhook struct {
	ID         string    `json:"id"     validate:"required"`
	Path       string    `json:"path"   validate:"required"`
	Method     string    `json:"method" validate:"required"`
	TriggerID  *string   `json:"trigger_id,omitempty"`
	ProviderID *string   `json:"provider_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func (w *IncomingWebhook) Validate() error {
	hasTrigger := w.TriggerID != nil && *w.TriggerID != ""
	hasProvider := w.ProviderID != nil && *w.ProviderID != ""

	if hasTrigger == hasProvider {
		return ErrAmbiguousWebhookOwner
	}

	return nil
}

// TriggerOwned reports whether exactly one workflow listens on this webhook.
func (w *IncomingWebhook) TriggerOwned() bool {
	return w.TriggerID != nil && *w.TriggerID != ""
}
