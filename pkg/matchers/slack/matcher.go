// Package slack implements the webhook matcher for Slack provider
// instances, including the URL verification handshake.
package slack

import (
	"log/slog"

	"github.com/relayd/relay/pkg/matchers"
	"github.com/relayd/relay/pkg/models"
)

type Matcher struct {
	logger *slog.Logger
}

func NewMatcher(logger *slog.Logger) *Matcher {
	return &Matcher{logger: logger.With("module", "slack_matcher")}
}

func (m *Matcher) Kind() matchers.ProviderKind {
	return matchers.KindSlack
}

// ValidateWebhook answers Slack's url_verification ping. The challenge is
// echoed back immediately and the request is never dispatched further.
func (m *Matcher) ValidateWebhook(req *matchers.WebhookRequest, _ map[string]string) (*matchers.Handshake, bool) {
	if kind, _ := req.Body["type"].(string); kind != "url_verification" {
		return nil, false
	}

	challenge, _ := req.Body["challenge"].(string)

	return &matchers.Handshake{
		Challenge: challenge,
		Response:  map[string]any{"challenge": challenge},
	}, true
}

func (m *Matcher) ProcessWebhook(req *matchers.WebhookRequest, triggers []*models.Trigger, _ map[string]string) ([]matchers.Match, error) {
	event, _ := req.Body["event"].(map[string]any)
	channel, _ := event["channel"].(string)
	eventType, _ := event["type"].(string)

	data := map[string]any{
		"channel": channel,
		"type":    eventType,
		"event":   event,
		"body":    req.Body,
	}

	matchesFound := make([]matchers.Match, 0, len(triggers))

	for _, trigger := range triggers {
		if trigger.TriggerType != models.TriggerTypeMessage && trigger.TriggerType != models.TriggerTypeWebhook {
			continue
		}

		if want := trigger.InputString("channel"); want != "" && want != channel {
			continue
		}

		if want := trigger.InputString("messageType"); want != "" && want != eventType {
			continue
		}

		matchesFound = append(matchesFound, matchers.Match{
			TriggerID: trigger.ID,
			Data:      data,
		})
	}

	return matchesFound, nil
}

func (m *Matcher) InputSchemas() map[models.TriggerType]map[string]any {
	return map[models.TriggerType]map[string]any{
		models.TriggerTypeMessage: {
			"type": "object",
			"properties": map[string]any{
				"channel":     map[string]any{"type": "string"},
				"messageType": map[string]any{"type": "string"},
			},
			"required":             []any{"channel"},
			"additionalProperties": true,
		},
	}
}
