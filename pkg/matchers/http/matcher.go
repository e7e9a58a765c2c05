// Package http provides the matcher for generic HTTP webhook providers.
// There is no provider-specific envelope to inspect, so every onWebhook
// trigger of the provider matches with the normalized request as payload.
package http

import (
	"github.com/relayd/relay/pkg/matchers"
	"github.com/relayd/relay/pkg/models"
)

type Matcher struct{}

func NewMatcher() *Matcher {
	return &Matcher{}
}

func (m *Matcher) Kind() matchers.ProviderKind {
	return matchers.KindHTTP
}

func (m *Matcher) ValidateWebhook(_ *matchers.WebhookRequest, _ map[string]string) (*matchers.Handshake, bool) {
	return nil, false
}

func (m *Matcher) ProcessWebhook(req *matchers.WebhookRequest, triggers []*models.Trigger, _ map[string]string) ([]matchers.Match, error) {
	matches := make([]matchers.Match, 0, len(triggers))

	for _, trigger := range triggers {
		if trigger.TriggerType != models.TriggerTypeWebhook {
			continue
		}

		matches = append(matches, matchers.Match{
			TriggerID: trigger.ID,
			Data:      req.Data(),
		})
	}

	return matches, nil
}

func (m *Matcher) InputSchemas() map[models.TriggerType]map[string]any {
	return map[models.TriggerType]map[string]any{
		models.TriggerTypeWebhook: {
			"type":                 "object",
			"additionalProperties": true,
		},
	}
}
