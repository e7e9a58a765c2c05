// Package events defines the normalized source events emitted by producers
// onto the event stream.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Topic is the single stream topic; every published event is consumed by
// exactly one dispatch pass.
const Topic = "relay.source.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	CronFiredEvent       EventType = "source.cron.fired"
	RealtimeMessageEvent EventType = "source.realtime.message"
)

type BaseEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// CronFired is emitted by the scheduler producer once per firing of one cron
// trigger. ScheduledAt is the cron boundary that caused the firing, FiredAt
// the wall-clock time the producer observed it. BackendURL is the compact
// context block used by downstream auth.
type CronFired struct {
	BaseEvent

	TriggerID   string    `json:"trigger_id"`
	ScheduledAt time.Time `json:"scheduled_at"`
	FiredAt     time.Time `json:"fired_at"`
	BackendURL  string    `json:"backend_url"`
}

func (c CronFired) GetType() EventType {
	return CronFiredEvent
}

// RealtimeMessage is emitted by the realtime producer for every message
// received on a subscribed channel.
type RealtimeMessage struct {
	BaseEvent

	Channel     string         `json:"channel"`
	MessageType string         `json:"message_type,omitempty"`
	Payload     map[string]any `json:"payload"`
}

func (r RealtimeMessage) GetType() EventType {
	return RealtimeMessageEvent
}

func NewBaseEvent(eventType EventType) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
	}
}
