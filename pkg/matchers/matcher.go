// Package matchers defines the provider webhook matching protocol: the
// single place where per-integration webhook semantics live.
package matchers

import (
	"github.com/relayd/relay/pkg/models"
)

// ProviderKind enumerates the integration types with dedicated matchers.
// Provider instances of any other type fall back to all-triggers matching.
type ProviderKind string

const (
	KindGitHub ProviderKind = "github"
	KindSlack  ProviderKind = "slack"
	KindHTTP   ProviderKind = "http"
)

// WebhookRequest is the normalized form of an inbound webhook request.
// Headers and query parameters are passed through verbatim; Body is the
// parsed JSON or form payload, an empty object when parsing failed.
type WebhookRequest struct {
	Method  string            `json:"method"`
	Path    string            `json:"path"`
	Headers map[string]string `json:"headers"`
	Query   map[string]string `json:"query"`
	Body    map[string]any    `json:"body"`
	RawBody []byte            `json:"-"`
}

// Data builds the normalized event payload handed to dispatch when no
// provider-specific payload applies.
func (r *WebhookRequest) Data() map[string]any {
	return map[string]any{
		"method":  r.Method,
		"path":    r.Path,
		"headers": r.Headers,
		"query":   r.Query,
		"body":    r.Body,
	}
}

// Handshake is a protocol-level verification exchange (e.g. a Slack URL
// verification ping). It is answered immediately and never dispatched.
type Handshake struct {
	Challenge string         `json:"challenge"`
	Response  map[string]any `json:"response"`
}

// Match pairs a trigger with the normalized event payload built from the
// webhook body.
type Match struct {
	TriggerID string         `json:"trigger_id"`
	Data      map[string]any `json:"data"`
}

// Matcher maps one inbound webhook payload to zero or more trigger matches
// for one integration type.
type Matcher interface {
	Kind() ProviderKind

	// ValidateWebhook reports whether the request is a handshake that must
	// be answered without dispatching.
	ValidateWebhook(req *WebhookRequest, secrets map[string]string) (*Handshake, bool)

	// ProcessWebhook filters the provider's registered triggers down to
	// actual matches. An error here makes dispatch fall back to treating all
	// triggers as matched.
	ProcessWebhook(req *WebhookRequest, triggers []*models.Trigger, secrets map[string]string) ([]Match, error)

	// InputSchemas returns a JSON schema per trigger type, used to validate
	// trigger input at reload time.
	InputSchemas() map[models.TriggerType]map[string]any
}
