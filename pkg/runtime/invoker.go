// Package runtime defines the external collaborator contract with the
// isolated execution engine: the invocation payload, the structured outcome
// and the short-lived invocation credential.
package runtime

import (
	"context"
	"time"

	"github.com/relayd/relay/pkg/models"
)

// ResultStatus is the runtime's report for one invocation.
type ResultStatus string

const (
	ResultSuccess ResultStatus = "success"
	ResultFailure ResultStatus = "failure"
	ResultTimeout ResultStatus = "timeout"
)

// LogEntry is a runtime-reported log line, appended to the execution record.
type LogEntry struct {
	Timestamp time.Time       `json:"timestamp"`
	Level     models.LogLevel `json:"level"`
	Message   string          `json:"message"`
}

// Result is the structured outcome of one runtime invocation. DurationMS is
// runtime-reported when present; callers compute it otherwise.
type Result struct {
	Status       ResultStatus `json:"status"`
	ErrorMessage string       `json:"error_message,omitempty"`
	DurationMS   int64        `json:"duration_ms,omitempty"`
	Logs         []LogEntry   `json:"logs,omitempty"`
}

// PayloadProvider is the resolved provider identity carried in the payload.
type PayloadProvider struct {
	Type  string `json:"type"`
	Alias string `json:"alias"`
}

// PayloadTrigger describes which trigger caused the invocation.
type PayloadTrigger struct {
	Provider    PayloadProvider    `json:"provider"`
	TriggerType models.TriggerType `json:"triggerType"`
	Input       map[string]any     `json:"input"`
}

// Payload is the deterministic invocation payload delivered to user code.
// ProviderConfigs maps every configured provider of the namespace
// ("type:alias") to its merged configuration+secrets so user code can reach
// any configured integration without a second round trip.
type Payload struct {
	Trigger         PayloadTrigger            `json:"trigger"`
	Data            map[string]any            `json:"data"`
	BackendURL      string                    `json:"backendUrl"`
	AuthToken       string                    `json:"authToken"`
	ExecutionID     string                    `json:"executionId"`
	ProviderConfigs map[string]map[string]any `json:"providerConfigs"`
}

// Invoker delivers a payload to an isolated execution of the packaged code.
// Implementations must honor the context deadline; the caller applies the
// execution budget and records TIMEOUT when it is exceeded.
type Invoker interface {
	Invoke(ctx context.Context, deployment *models.Deployment, rt *models.Runtime, payload *Payload) (*Result, error)
}
