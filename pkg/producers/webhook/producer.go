package webhook

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/relayd/relay/pkg/models"
	"github.com/relayd/relay/pkg/persistence"
)

// Producer owns the HTTP listener binding. The trigger set itself carries no
// routing information for webhooks; the registered bindings do, so every
// reload re-reads them and swaps the server's set atomically.
type Producer struct {
	server   *Server
	webhooks persistence.WebhookRepository
	logger   *slog.Logger
	started  bool
}

func NewProducer(server *Server, webhooks persistence.WebhookRepository, logger *slog.Logger) *Producer {
	return &Producer{
		server:   server,
		webhooks: webhooks,
		logger:   logger.With("module", "webhook_producer"),
	}
}

func (p *Producer) UpdateTriggers(ctx context.Context, _ []*models.Trigger) error {
	bindings, err := p.webhooks.All(ctx)
	if err != nil {
		return fmt.Errorf("failed to load webhook bindings: %w", err)
	}

	p.server.Swap(bindings)

	if !p.started {
		p.started = true

		go func() {
			err := p.server.Start()
			if err != nil {
				p.logger.Error("Webhook server stopped", "error", err)
			}
		}()
	}

	return nil
}

func (p *Producer) Stop(ctx context.Context) error {
	if !p.started {
		return nil
	}

	p.started = false

	return p.server.Shutdown(ctx)
}
