// Package realtime provides the realtime event producer. It subscribes to
// the union of Redis pub/sub channels referenced by message triggers and
// emits one stream event per received message.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/relayd/relay/pkg/eventbus"
	"github.com/relayd/relay/pkg/events"
	"github.com/relayd/relay/pkg/models"
)

type Producer struct {
	bus    eventbus.EventBus
	logger *slog.Logger

	client *redis.Client
	pubsub *redis.PubSub

	mu       sync.Mutex
	channels map[string]struct{}
	started  bool
	wg       sync.WaitGroup
}

func NewProducer(bus eventbus.EventBus, addr, password string, db int, logger *slog.Logger) (*Producer, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := client.Ping(ctx).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log := logger.With("module", "realtime_producer")
	log.Info("Connected to Redis", "addr", addr, "db", db)

	return &Producer{
		bus:      bus,
		logger:   log,
		client:   client,
		channels: make(map[string]struct{}),
	}, nil
}

// ChannelSet returns the channel union for a trigger set. Triggers without a
// channel are excluded; they can never receive a message.
func ChannelSet(triggers []*models.Trigger) map[string]struct{} {
	channels := make(map[string]struct{})

	for _, trigger := range triggers {
		if trigger.TriggerType != models.TriggerTypeMessage {
			continue
		}

		channel := trigger.InputString("channel")
		if channel == "" {
			continue
		}

		channels[channel] = struct{}{}
	}

	return channels
}

func (p *Producer) UpdateTriggers(ctx context.Context, triggers []*models.Trigger) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	desired := ChannelSet(triggers)

	for _, trigger := range triggers {
		if trigger.TriggerType == models.TriggerTypeMessage && trigger.InputString("channel") == "" {
			p.logger.WarnContext(ctx, "Message trigger without channel, skipping",
				"trigger_id", trigger.ID)
		}
	}

	if !p.started {
		p.pubsub = p.client.Subscribe(ctx)
		p.started = true

		p.wg.Add(1)

		go p.consume()
	}

	var added, removed []string

	for channel := range desired {
		if _, ok := p.channels[channel]; !ok {
			added = append(added, channel)
		}
	}

	for channel := range p.channels {
		if _, ok := desired[channel]; !ok {
			removed = append(removed, channel)
		}
	}

	if len(added) > 0 {
		err := p.pubsub.Subscribe(ctx, added...)
		if err != nil {
			return fmt.Errorf("failed to subscribe to channels: %w", err)
		}
	}

	if len(removed) > 0 {
		err := p.pubsub.Unsubscribe(ctx, removed...)
		if err != nil {
			return fmt.Errorf("failed to unsubscribe from channels: %w", err)
		}
	}

	p.channels = desired
	p.logger.InfoContext(ctx, "Realtime channel set replaced", "channels", len(desired))

	return nil
}

func (p *Producer) consume() {
	defer p.wg.Done()

	for message := range p.pubsub.Channel() {
		p.publish(message)
	}
}

func (p *Producer) publish(message *redis.Message) {
	payload := map[string]any{}

	err := json.Unmarshal([]byte(message.Payload), &payload)
	if err != nil {
		payload = map[string]any{
			"message": message.Payload,
		}
	}

	messageType, _ := payload["type"].(string)

	event := events.RealtimeMessage{
		BaseEvent:   events.NewBaseEvent(events.RealtimeMessageEvent),
		Channel:     message.Channel,
		MessageType: messageType,
		Payload:     payload,
	}

	err = p.bus.Publish(context.Background(), message.Channel, event)
	if err != nil {
		p.logger.Error("Failed to publish realtime message",
			"channel", message.Channel, "error", err)
	}
}

func (p *Producer) Stop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		err := p.pubsub.Close()
		if err != nil {
			p.logger.ErrorContext(ctx, "Error closing pub/sub subscription", "error", err)
		}

		p.wg.Wait()
		p.started = false
	}

	return p.client.Close()
}
