// Package github implements the webhook matcher for GitHub provider
// instances: event-header mapping, payload extraction and trigger filter
// evaluation.
package github

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"slices"
	"strings"

	"github.com/relayd/relay/pkg/matchers"
	"github.com/relayd/relay/pkg/models"
)

const (
	eventHeader     = "X-Github-Event"
	signatureHeader = "X-Hub-Signature-256"
	refPrefix       = "refs/heads/"
)

type Matcher struct {
	logger *slog.Logger
}

func NewMatcher(logger *slog.Logger) *Matcher {
	return &Matcher{logger: logger.With("module", "github_matcher")}
}

func (m *Matcher) Kind() matchers.ProviderKind {
	return matchers.KindGitHub
}

// ValidateWebhook: GitHub has no handshake protocol; its "ping" event is
// dispatched like any other and simply matches no trigger types.
func (m *Matcher) ValidateWebhook(_ *matchers.WebhookRequest, _ map[string]string) (*matchers.Handshake, bool) {
	return nil, false
}

func (m *Matcher) ProcessWebhook(req *matchers.WebhookRequest, triggers []*models.Trigger, secrets map[string]string) ([]matchers.Match, error) {
	if secret := secrets["webhook_secret"]; secret != "" {
		if !verifySignature(req, secret) {
			// A bad signature is a rejected delivery, not a matcher failure:
			// returning an error would trip the fallback-to-all branch and
			// over-deliver an unauthenticated payload.
			m.logger.Warn("Rejecting webhook with invalid signature", "path", req.Path)

			return []matchers.Match{}, nil
		}
	}

	eventType := headerValue(req, eventHeader)
	triggerType := triggerTypeForEvent(eventType)
	data := payloadData(req, eventType)

	matchesFound := make([]matchers.Match, 0, len(triggers))

	for _, trigger := range triggers {
		if trigger.TriggerType != triggerType && trigger.TriggerType != models.TriggerTypeWebhook {
			continue
		}

		if !m.filtersMatch(trigger, data) {
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
	filterProperties := map[string]any{
		"owner":      map[string]any{"type": "string"},
		"repository": map[string]any{"type": "string"},
		"branch":     map[string]any{"type": "string"},
		"actions": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
	}

	schema := map[string]any{
		"type":                 "object",
		"properties":           filterProperties,
		"additionalProperties": true,
	}

	return map[models.TriggerType]map[string]any{
		models.TriggerTypePush:        schema,
		models.TriggerTypePullRequest: schema,
		models.TriggerTypeIssue:       schema,
	}
}

// filtersMatch applies the trigger's declared filters: exact owner, exact
// repository, branch suffix match after stripping the ref prefix, and
// action-list membership. Absent filters match everything.
func (m *Matcher) filtersMatch(trigger *models.Trigger, data map[string]any) bool {
	if owner := trigger.InputString("owner"); owner != "" {
		if value, _ := data["owner"].(string); value != owner {
			return false
		}
	}

	if repository := trigger.InputString("repository"); repository != "" {
		if value, _ := data["repository"].(string); value != repository {
			return false
		}
	}

	if branch := trigger.InputString("branch"); branch != "" {
		value, _ := data["branch"].(string)
		if !branchMatches(value, branch) {
			return false
		}
	}

	if actions := trigger.InputStrings("actions"); len(actions) > 0 {
		value, _ := data["action"].(string)
		if !slices.Contains(actions, value) {
			return false
		}
	}

	return true
}

func branchMatches(branch, want string) bool {
	branch = strings.TrimPrefix(branch, refPrefix)

	return branch == want || strings.HasSuffix(branch, "/"+want)
}

func triggerTypeForEvent(eventType string) models.TriggerType {
	switch eventType {
	case "push":
		return models.TriggerTypePush
	case "pull_request":
		return models.TriggerTypePullRequest
	case "issues":
		return models.TriggerTypeIssue
	default:
		return models.TriggerTypeWebhook
	}
}

// payloadData builds the normalized event payload from the raw webhook body.
func payloadData(req *matchers.WebhookRequest, eventType string) map[string]any {
	data := map[string]any{
		"event": eventType,
		"body":  req.Body,
	}

	if repository, ok := req.Body["repository"].(map[string]any); ok {
		if fullName, ok := repository["full_name"].(string); ok {
			data["repository"] = fullName

			if owner, _, found := strings.Cut(fullName, "/"); found {
				data["owner"] = owner
			}
		}

		if owner, ok := repository["owner"].(map[string]any); ok {
			if login, ok := owner["login"].(string); ok {
				data["owner"] = login
			}
		}
	}

	if ref, ok := req.Body["ref"].(string); ok {
		data["ref"] = ref
		data["branch"] = strings.TrimPrefix(ref, refPrefix)
	}

	if pullRequest, ok := req.Body["pull_request"].(map[string]any); ok {
		if head, ok := pullRequest["head"].(map[string]any); ok {
			if ref, ok := head["ref"].(string); ok {
				data["branch"] = strings.TrimPrefix(ref, refPrefix)
			}
		}
	}

	if action, ok := req.Body["action"].(string); ok {
		data["action"] = action
	}

	return data
}

func verifySignature(req *matchers.WebhookRequest, secret string) bool {
	signature := headerValue(req, signatureHeader)
	if !strings.HasPrefix(signature, "sha256=") {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(req.RawBody)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(signature), []byte(expected))
}

// headerValue does a case-insensitive header lookup since producers pass
// headers through verbatim.
func headerValue(req *matchers.WebhookRequest, name string) string {
	for key, value := range req.Headers {
		if strings.EqualFold(key, name) {
			return value
		}
	}

	return ""
}
