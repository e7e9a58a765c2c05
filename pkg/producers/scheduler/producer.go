// Package scheduler provides the cron event producer. Each cron trigger
// gets one scheduler entry; firings are emitted onto the event stream.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/relayd/relay/pkg/eventbus"
	"github.com/relayd/relay/pkg/events"
	"github.com/relayd/relay/pkg/models"
	"github.com/robfig/cron/v3"
)

// Producer owns the scheduled-task handles for every cron trigger. Entries
// are keyed by trigger id + expression, so a reload that leaves a trigger
// unchanged keeps its entry untouched: no duplicate firings, no dropped
// ticks.
type Producer struct {
	bus        eventbus.EventBus
	logger     *slog.Logger
	backendURL string

	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]cron.EntryID
}

func NewProducer(bus eventbus.EventBus, backendURL string, logger *slog.Logger) *Producer {
	c := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))
	c.Start()

	return &Producer{
		bus:        bus,
		logger:     logger.With("module", "scheduler_producer"),
		backendURL: backendURL,
		cron:       c,
		entries:    make(map[string]cron.EntryID),
	}
}

func entryKey(trigger *models.Trigger) string {
	return trigger.ID + "|" + trigger.InputString("cron")
}

func (p *Producer) UpdateTriggers(ctx context.Context, triggers []*models.Trigger) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	desired := make(map[string]*models.Trigger)

	for _, trigger := range triggers {
		if trigger.TriggerType != models.TriggerTypeCron {
			continue
		}

		expr := trigger.InputString("cron")
		if expr == "" {
			p.logger.WarnContext(ctx, "Cron trigger without expression, skipping",
				"trigger_id", trigger.ID)

			continue
		}

		if _, err := cron.ParseStandard(expr); err != nil {
			p.logger.WarnContext(ctx, "Invalid cron expression, skipping trigger",
				"trigger_id", trigger.ID, "cron", expr, "error", err)

			continue
		}

		desired[entryKey(trigger)] = trigger
	}

	// Remove entries whose trigger changed or disappeared.
	for key, entryID := range p.entries {
		if _, keep := desired[key]; !keep {
			p.cron.Remove(entryID)
			delete(p.entries, key)
		}
	}

	// Add entries for new or changed triggers; unchanged keys keep their
	// existing entry.
	for key, trigger := range desired {
		if _, exists := p.entries[key]; exists {
			continue
		}

		entryID, err := p.cron.AddFunc(trigger.InputString("cron"), p.fire(trigger))
		if err != nil {
			return fmt.Errorf("failed to schedule trigger %s: %w", trigger.ID, err)
		}

		p.entries[key] = entryID
	}

	p.logger.InfoContext(ctx, "Cron trigger set replaced", "entries", len(p.entries))

	return nil
}

// EntryCount reports how many cron entries are currently scheduled.
func (p *Producer) EntryCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.entries)
}

func (p *Producer) fire(trigger *models.Trigger) func() {
	triggerID := trigger.ID

	return func() {
		now := time.Now().UTC()

		event := events.CronFired{
			BaseEvent:   events.NewBaseEvent(events.CronFiredEvent),
			TriggerID:   triggerID,
			ScheduledAt: now.Truncate(time.Minute),
			FiredAt:     now,
			BackendURL:  p.backendURL,
		}

		err := p.bus.Publish(context.Background(), triggerID, event)
		if err != nil {
			p.logger.Error("Failed to publish cron firing",
				"trigger_id", triggerID, "error", err)
		}
	}
}

func (p *Producer) Stop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	stopCtx := p.cron.Stop()

	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}

	p.entries = make(map[string]cron.EntryID)

	return nil
}
