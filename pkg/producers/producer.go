// Package producers defines the contract shared by the event producers:
// webhook receiver, cron scheduler and realtime listener.
package producers

import (
	"context"

	"github.com/relayd/relay/pkg/models"
)

// Producer owns one external event resource. UpdateTriggers atomically
// replaces whatever the producer was previously watching with the new
// trigger set; it is idempotent, safe to call on every reload, and an empty
// set quiesces the producer. Stop releases all resources.
type Producer interface {
	UpdateTriggers(ctx context.Context, triggers []*models.Trigger) error
	Stop(ctx context.Context) error
}
