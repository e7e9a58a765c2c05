package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relayd/relay/pkg/dispatcher"
	"github.com/relayd/relay/pkg/eventbus"
	"github.com/relayd/relay/pkg/events"
	"github.com/relayd/relay/pkg/jobs"
	"github.com/relayd/relay/pkg/matchers"
	"github.com/relayd/relay/pkg/models"
	"github.com/relayd/relay/pkg/persistence"
	"github.com/relayd/relay/pkg/producers"
)

const defaultReloadInterval = time.Minute

// Engine ties the producers, the event stream, the dispatcher and the job
// queue into one process. Reload replaces every producer's watch set from
// persistence; the engine reloads periodically and on SIGHUP.
type Engine struct {
	persistence    persistence.Persistence
	eventBus       eventbus.EventBus
	dispatch       *dispatcher.Dispatcher
	registry       *matchers.Registry
	producers      []producers.Producer
	queue          *jobs.Queue
	logger         *slog.Logger
	reloadInterval time.Duration
}

func NewEngine(
	p persistence.Persistence,
	bus eventbus.EventBus,
	dispatch *dispatcher.Dispatcher,
	registry *matchers.Registry,
	producerList []producers.Producer,
	queue *jobs.Queue,
	logger *slog.Logger,
	reloadInterval time.Duration,
) *Engine {
	if reloadInterval <= 0 {
		reloadInterval = defaultReloadInterval
	}

	return &Engine{
		persistence:    p,
		eventBus:       bus,
		dispatch:       dispatch,
		registry:       registry,
		producers:      producerList,
		queue:          queue,
		logger:         logger.With("module", "engine"),
		reloadInterval: reloadInterval,
	}
}

func (e *Engine) Start(ctx context.Context) error {
	err := e.subscribeEvents(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to event stream: %w", err)
	}

	err = e.queue.Start(ctx)
	if err != nil {
		return fmt.Errorf("failed to start job queue: %w", err)
	}

	err = e.Reload(ctx)
	if err != nil {
		return fmt.Errorf("initial trigger load failed: %w", err)
	}

	e.logger.InfoContext(ctx, "Engine started", "producers", len(e.producers))

	e.run(ctx)

	return nil
}

// subscribeEvents registers the stream handlers. Each dispatch runs on its
// own goroutine: a runtime invocation may hold the execution budget, and one
// slow execution must never delay the next event's dispatch. The message is
// acked as soon as the dispatch is accepted, matching the webhook path's
// per-request concurrency.
func (e *Engine) subscribeEvents(ctx context.Context) error {
	err := e.eventBus.Handle(events.CronFiredEvent, func(ctx context.Context, event any) error {
		fired, ok := event.(*events.CronFired)
		if !ok {
			return fmt.Errorf("unexpected event payload for %s", events.CronFiredEvent)
		}

		go func() {
			err := e.dispatch.HandleCron(ctx, fired)
			if err != nil {
				e.logger.ErrorContext(ctx, "Cron dispatch failed",
					"trigger_id", fired.TriggerID, "error", err)
			}
		}()

		return nil
	})
	if err != nil {
		return err
	}

	err = e.eventBus.Handle(events.RealtimeMessageEvent, func(ctx context.Context, event any) error {
		message, ok := event.(*events.RealtimeMessage)
		if !ok {
			return fmt.Errorf("unexpected event payload for %s", events.RealtimeMessageEvent)
		}

		go func() {
			err := e.dispatch.HandleRealtime(ctx, message)
			if err != nil {
				e.logger.ErrorContext(ctx, "Realtime dispatch failed",
					"channel", message.Channel, "error", err)
			}
		}()

		return nil
	})
	if err != nil {
		return err
	}

	return e.eventBus.Subscribe(ctx)
}

// Reload loads the full trigger set, drops triggers with invalid input and
// hands the remainder to every producer. Producers diff against their
// current watch set, so an unchanged reload is a no-op.
func (e *Engine) Reload(ctx context.Context) error {
	triggers, err := e.persistence.Triggers().All(ctx)
	if err != nil {
		return fmt.Errorf("failed to load triggers: %w", err)
	}

	valid := e.validTriggers(ctx, triggers)

	for _, producer := range e.producers {
		err := producer.UpdateTriggers(ctx, valid)
		if err != nil {
			return fmt.Errorf("failed to update producer triggers: %w", err)
		}
	}

	e.logger.InfoContext(ctx, "Triggers reloaded",
		"total", len(triggers), "valid", len(valid))

	return nil
}

func (e *Engine) validTriggers(ctx context.Context, triggers []*models.Trigger) []*models.Trigger {
	valid := make([]*models.Trigger, 0, len(triggers))
	kinds := make(map[string]matchers.ProviderKind)

	for _, trigger := range triggers {
		kind, known := kinds[trigger.ProviderID]
		if !known {
			provider, err := e.persistence.Providers().GetByID(ctx, trigger.ProviderID)
			if err != nil {
				if !persistence.IsProviderNotFound(err) {
					e.logger.ErrorContext(ctx, "Failed to load provider, keeping trigger",
						"trigger_id", trigger.ID, "provider_id", trigger.ProviderID, "error", err)
					valid = append(valid, trigger)

					continue
				}

				e.logger.WarnContext(ctx, "Trigger references missing provider, excluded",
					"trigger_id", trigger.ID, "provider_id", trigger.ProviderID)

				continue
			}

			kind = matchers.ProviderKind(provider.Type)
			kinds[trigger.ProviderID] = kind
		}

		err := e.registry.ValidateInput(kind, trigger.TriggerType, trigger.Input)
		if err != nil {
			e.logger.WarnContext(ctx, "Trigger input failed schema validation, excluded",
				"trigger_id", trigger.ID, "trigger_type", trigger.TriggerType, "error", err)

			continue
		}

		valid = append(valid, trigger)
	}

	return valid
}

func (e *Engine) run(ctx context.Context) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(e.reloadInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.shutdown()

			return
		case <-ticker.C:
			err := e.Reload(ctx)
			if err != nil {
				e.logger.ErrorContext(ctx, "Periodic reload failed", "error", err)
			}
		case sig := <-signals:
			switch sig {
			case syscall.SIGHUP:
				e.logger.InfoContext(ctx, "Reloading triggers on SIGHUP")

				err := e.Reload(ctx)
				if err != nil {
					e.logger.ErrorContext(ctx, "Reload failed", "error", err)
				}
			case syscall.SIGINT, syscall.SIGTERM:
				e.logger.InfoContext(ctx, "Shutting down gracefully", "signal", sig)
				e.shutdown()

				return
			}
		}
	}
}

func (e *Engine) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, producer := range e.producers {
		err := producer.Stop(ctx)
		if err != nil {
			e.logger.ErrorContext(ctx, "Failed to stop producer", "error", err)
		}
	}

	err := e.queue.Stop(ctx)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to stop job queue", "error", err)
	}

	err = e.eventBus.Close()
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
	}

	err = e.persistence.Close(ctx)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
	}

	e.logger.Info("Engine stopped")
}
