// Package dispatcher decides, per event, which triggers apply and drives
// each resulting execution through the lifecycle tracker and the runtime
// invoker.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/relayd/relay/pkg/events"
	"github.com/relayd/relay/pkg/execution"
	"github.com/relayd/relay/pkg/matchers"
	"github.com/relayd/relay/pkg/models"
	"github.com/relayd/relay/pkg/otelhelper"
	"github.com/relayd/relay/pkg/persistence"
	"github.com/relayd/relay/pkg/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultExecutionBudget bounds how long a runtime invocation may block
// before the execution is recorded as TIMEOUT and abandoned.
const DefaultExecutionBudget = 5 * time.Minute

type Config struct {
	BackendURL      string
	ExecutionBudget time.Duration
}

type Dispatcher struct {
	persistence persistence.Persistence
	tracker     *execution.Tracker
	invoker     runtime.Invoker
	tokens      *runtime.TokenIssuer
	registry    *matchers.Registry
	quota       QuotaGate
	logger      *slog.Logger
	tracer      trace.Tracer
	backendURL  string
	budget      time.Duration
}

func NewDispatcher(
	p persistence.Persistence,
	tracker *execution.Tracker,
	invoker runtime.Invoker,
	tokens *runtime.TokenIssuer,
	registry *matchers.Registry,
	quota QuotaGate,
	logger *slog.Logger,
	config Config,
) *Dispatcher {
	if config.ExecutionBudget <= 0 {
		config.ExecutionBudget = DefaultExecutionBudget
	}

	if quota == nil {
		quota = UnlimitedQuota{}
	}

	return &Dispatcher{
		persistence: p,
		tracker:     tracker,
		invoker:     invoker,
		tokens:      tokens,
		registry:    registry,
		quota:       quota,
		logger:      logger.With("module", "dispatcher"),
		tracer:      otel.Tracer("relay/dispatcher"),
		backendURL:  config.BackendURL,
		budget:      config.ExecutionBudget,
	}
}

// TriggerResult is the per-trigger outcome reported back to webhook callers.
// OverQuota distinguishes a quota refusal from an internal bookkeeping skip;
// only the former is the caller's problem.
type TriggerResult struct {
	TriggerID   string                 `json:"triggerId"`
	ExecutionID string                 `json:"executionId,omitempty"`
	Status      models.ExecutionStatus `json:"status,omitempty"`
	Skipped     bool                   `json:"skipped,omitempty"`
	Reason      string                 `json:"reason,omitempty"`
	OverQuota   bool                   `json:"-"`
}

// WebhookOutcome summarizes what a webhook request caused. Callers receive
// it synchronously; workflow results are never returned over the webhook
// response itself.
type WebhookOutcome struct {
	WebhookID        string          `json:"webhookId"`
	TriggerOwned     bool            `json:"-"`
	Handshake        map[string]any  `json:"-"`
	ExecutionID      string          `json:"executionId,omitempty"`
	Status           string          `json:"status,omitempty"`
	TriggersExecuted int             `json:"triggersExecuted"`
	Results          []TriggerResult `json:"results,omitempty"`
	QuotaExceeded    bool            `json:"-"`
	UpgradeRequired  bool            `json:"upgradeRequired,omitempty"`
}

// HandleWebhook routes one inbound webhook request through its binding:
// trigger-owned requests go straight to their single trigger, provider-owned
// requests fan out through the provider's matcher.
func (d *Dispatcher) HandleWebhook(ctx context.Context, webhook *models.IncomingWebhook, req *matchers.WebhookRequest) (*WebhookOutcome, error) {
	ctx, span := otelhelper.StartSpan(ctx, d.tracer, "dispatch.webhook",
		attribute.String(otelhelper.WebhookIDKey, webhook.ID))
	defer span.End()

	if webhook.TriggerOwned() {
		return d.handleTriggerOwned(ctx, webhook, req)
	}

	return d.handleProviderOwned(ctx, webhook, req)
}

func (d *Dispatcher) handleTriggerOwned(ctx context.Context, webhook *models.IncomingWebhook, req *matchers.WebhookRequest) (*WebhookOutcome, error) {
	trigger, err := d.persistence.Triggers().GetByID(ctx, *webhook.TriggerID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve webhook trigger: %w", err)
	}

	outcome := &WebhookOutcome{WebhookID: webhook.ID, TriggerOwned: true}

	// No matcher is consulted: there is no ambiguity about which trigger
	// applies. The normalized request is the event payload.
	result := d.Attempt(ctx, trigger, req.Data())
	outcome.ExecutionID = result.ExecutionID
	outcome.Status = string(result.Status)

	switch {
	case result.Skipped && result.OverQuota:
		// Trigger-owned over-quota surfaces as 402 to the caller; the
		// NO_DEPLOYMENT record was still written.
		outcome.QuotaExceeded = true
		outcome.UpgradeRequired = true
		outcome.Status = string(models.ExecutionStatusNoDeployment)
	case result.Skipped:
		// An internal skip (workflow lookup or execution bookkeeping
		// failed) is the engine's fault, never the caller's.
		return nil, fmt.Errorf("trigger dispatch failed: %s", result.Reason)
	default:
		outcome.TriggersExecuted = 1
	}

	return outcome, nil
}

func (d *Dispatcher) handleProviderOwned(ctx context.Context, webhook *models.IncomingWebhook, req *matchers.WebhookRequest) (*WebhookOutcome, error) {
	provider, err := d.persistence.Providers().GetByID(ctx, *webhook.ProviderID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve webhook provider: %w", err)
	}

	outcome := &WebhookOutcome{WebhookID: webhook.ID}

	matcher, hasMatcher := d.registry.ForKind(matchers.ProviderKind(provider.Type))
	if hasMatcher {
		if handshake, ok := matcher.ValidateWebhook(req, provider.Secrets); ok {
			// Handshake verification is answered immediately, never
			// dispatched further.
			outcome.Handshake = handshake.Response

			return outcome, nil
		}
	}

	triggers, err := d.persistence.Triggers().ByProvider(ctx, provider.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load provider triggers: %w", err)
	}

	matched := d.matchProviderTriggers(matcher, hasMatcher, provider, req, triggers)

	for _, match := range matched {
		trigger := triggerByID(triggers, match.TriggerID)
		if trigger == nil {
			continue
		}

		result := d.attempt(ctx, trigger, match.Data, true)

		// One trigger's failure never aborts its siblings; over-quota
		// matches are skipped, counted and logged.
		outcome.Results = append(outcome.Results, *result)

		if !result.Skipped {
			outcome.TriggersExecuted++
		}
	}

	return outcome, nil
}

// matchProviderTriggers filters the provider's trigger pool through its
// matcher. If the provider has no matcher, or the matcher fails, every
// trigger of the provider is treated as matched: a deliberate safety
// fallback favoring over-delivery over silent drops, at the cost of possible
// duplicate executions.
func (d *Dispatcher) matchProviderTriggers(
	matcher matchers.Matcher,
	hasMatcher bool,
	provider *models.ProviderInstance,
	req *matchers.WebhookRequest,
	triggers []*models.Trigger,
) []matchers.Match {
	if hasMatcher {
		matched, err := matcher.ProcessWebhook(req, triggers, provider.Secrets)
		if err == nil {
			return matched
		}

		d.logger.Warn("Provider matcher failed, falling back to all triggers; duplicate executions possible",
			"provider_id", provider.ID,
			"provider_type", provider.Type,
			"error", err)
	} else {
		d.logger.Warn("No matcher for provider type, treating all triggers as matched",
			"provider_id", provider.ID,
			"provider_type", provider.Type)
	}

	matched := make([]matchers.Match, 0, len(triggers))

	for _, trigger := range triggers {
		matched = append(matched, matchers.Match{TriggerID: trigger.ID, Data: req.Data()})
	}

	return matched
}

// HandleCron dispatches one scheduler firing. A firing is always
// trigger-owned: the schedule is bound to exactly one trigger.
func (d *Dispatcher) HandleCron(ctx context.Context, event *events.CronFired) error {
	ctx, span := otelhelper.StartSpan(ctx, d.tracer, "dispatch.cron",
		attribute.String(otelhelper.TriggerIDKey, event.TriggerID))
	defer span.End()

	trigger, err := d.persistence.Triggers().GetByID(ctx, event.TriggerID)
	if err != nil {
		otelhelper.SetError(span, err)

		return fmt.Errorf("failed to resolve cron trigger: %w", err)
	}

	data := map[string]any{
		"scheduledAt": event.ScheduledAt.Format(time.RFC3339),
		"firedAt":     event.FiredAt.Format(time.RFC3339),
		"backendUrl":  event.BackendURL,
	}

	d.Attempt(ctx, trigger, data)

	return nil
}

// HandleRealtime fans one channel message out to every realtime trigger
// whose channel matches exactly and whose optional message-type filter
// matches.
func (d *Dispatcher) HandleRealtime(ctx context.Context, event *events.RealtimeMessage) error {
	ctx, span := otelhelper.StartSpan(ctx, d.tracer, "dispatch.realtime",
		attribute.String(otelhelper.ChannelKey, event.Channel))
	defer span.End()

	triggers, err := d.persistence.Triggers().ByType(ctx, models.TriggerTypeMessage)
	if err != nil {
		otelhelper.SetError(span, err)

		return fmt.Errorf("failed to load realtime triggers: %w", err)
	}

	data := map[string]any{
		"channel": event.Channel,
		"type":    event.MessageType,
		"payload": event.Payload,
	}

	for _, trigger := range triggers {
		if trigger.InputString("channel") != event.Channel {
			continue
		}

		if want := trigger.InputString("messageType"); want != "" && want != event.MessageType {
			continue
		}

		d.Attempt(ctx, trigger, data)
	}

	return nil
}

// Attempt drives one trigger through the full lifecycle: record RECEIVED,
// re-check workflow/quota/deployment, invoke the runtime under the execution
// budget, and record the terminal state. Errors are absorbed into the
// execution record; the returned result always describes what happened.
func (d *Dispatcher) Attempt(ctx context.Context, trigger *models.Trigger, data map[string]any) *TriggerResult {
	return d.attempt(ctx, trigger, data, false)
}

// attempt is the single execution path. With skipOverQuota set (provider-
// owned fan-out), an over-quota match is skipped entirely: counted and
// logged, but no execution record is created. Otherwise the attempt is
// recorded as RECEIVED first and finalized as NO_DEPLOYMENT.
func (d *Dispatcher) attempt(ctx context.Context, trigger *models.Trigger, data map[string]any, skipOverQuota bool) *TriggerResult {
	ctx, span := otelhelper.StartSpan(ctx, d.tracer, "dispatch.attempt",
		attribute.String(otelhelper.TriggerIDKey, trigger.ID),
		attribute.String(otelhelper.WorkflowIDKey, trigger.WorkflowID),
	)
	defer span.End()

	result := &TriggerResult{TriggerID: trigger.ID}

	workflow, err := d.persistence.Workflows().GetByID(ctx, trigger.WorkflowID)
	if err != nil && !persistence.IsWorkflowNotFound(err) {
		d.logger.ErrorContext(ctx, "Failed to load workflow for dispatch",
			"workflow_id", trigger.WorkflowID, "error", err)
		otelhelper.SetError(span, err, attribute.String(otelhelper.WorkflowIDKey, trigger.WorkflowID))

		result.Skipped = true
		result.Reason = "workflow lookup failed"

		return result
	}

	withinQuota := true
	if workflow != nil {
		withinQuota, err = d.quota.WithinQuota(ctx, workflow.OrganizationID)
		if err != nil {
			d.logger.WarnContext(ctx, "Quota check failed, admitting execution",
				"organization_id", workflow.OrganizationID, "error", err)

			withinQuota = true
		}
	}

	if !withinQuota && skipOverQuota {
		d.logger.InfoContext(ctx, "Skipping over-quota match",
			"organization_id", workflow.OrganizationID,
			"trigger_id", trigger.ID)

		result.Skipped = true
		result.OverQuota = true
		result.Reason = "organization over execution quota"

		return result
	}

	// RECEIVED is recorded the instant the attempt is accepted, before any
	// access check or deployment lookup.
	exec, err := d.tracker.Create(ctx, trigger.WorkflowID, &trigger.ID)
	if err != nil {
		d.logger.ErrorContext(ctx, "Failed to create execution record",
			"trigger_id", trigger.ID, "error", err)
		otelhelper.SetError(span, err, attribute.String(otelhelper.TriggerIDKey, trigger.ID))

		result.Skipped = true
		result.Reason = "execution bookkeeping failed"

		return result
	}

	result.ExecutionID = exec.ID
	span.SetAttributes(attribute.String(otelhelper.ExecutionIDKey, exec.ID))

	if !withinQuota {
		d.logger.InfoContext(ctx, "Organization over execution quota",
			"organization_id", workflow.OrganizationID,
			"trigger_id", trigger.ID)

		_ = d.tracker.NoDeployment(ctx, exec, "organization over execution quota")
		result.Skipped = true
		result.OverQuota = true
		result.Reason = "organization over execution quota"
		result.Status = models.ExecutionStatusNoDeployment

		return result
	}

	if workflow == nil || !workflow.Active {
		_ = d.tracker.NoDeployment(ctx, exec, "workflow inactive")
		result.Status = models.ExecutionStatusNoDeployment

		return result
	}

	deployment, err := d.persistence.Deployments().ActiveByWorkflow(ctx, workflow.ID)
	if err != nil {
		if !persistence.IsDeploymentNotFound(err) {
			d.logger.ErrorContext(ctx, "Failed to resolve active deployment",
				"workflow_id", workflow.ID, "error", err)
		}

		_ = d.tracker.NoDeployment(ctx, exec, "no active deployment")
		result.Status = models.ExecutionStatusNoDeployment

		return result
	}

	payload, err := d.buildPayload(ctx, workflow, trigger, exec.ID, data)
	if err != nil {
		d.logger.ErrorContext(ctx, "Failed to build invocation payload",
			"execution_id", exec.ID, "error", err)
		otelhelper.SetError(span, err, attribute.String(otelhelper.ExecutionIDKey, exec.ID))

		_ = d.tracker.NoDeployment(ctx, exec, "payload construction failed: "+err.Error())
		result.Status = models.ExecutionStatusNoDeployment

		return result
	}

	result.Status = d.invoke(ctx, exec, deployment, payload)

	return result
}

// invoke runs the runtime call under the execution budget and records the
// terminal state.
func (d *Dispatcher) invoke(ctx context.Context, exec *models.Execution, deployment *models.Deployment, payload *runtime.Payload) models.ExecutionStatus {
	rt, err := d.persistence.Runtimes().GetByID(ctx, deployment.RuntimeID)
	if err != nil {
		_ = d.tracker.NoDeployment(ctx, exec, "runtime identity missing: "+deployment.RuntimeID)

		return models.ExecutionStatusNoDeployment
	}

	err = d.tracker.Start(ctx, exec, deployment.ID)
	if err != nil {
		d.logger.ErrorContext(ctx, "Failed to start execution",
			"execution_id", exec.ID, "error", err)

		return exec.Status
	}

	invokeCtx, cancel := context.WithTimeout(ctx, d.budget)
	defer cancel()

	outcome, err := d.invoker.Invoke(invokeCtx, deployment, rt, payload)

	switch {
	case err != nil && invokeCtx.Err() != nil:
		_ = d.tracker.Timeout(ctx, exec)
	case err != nil:
		_ = d.tracker.Fail(ctx, exec, err.Error(), 0)
	case outcome.Status == runtime.ResultTimeout:
		_ = d.tracker.Timeout(ctx, exec)
	case outcome.Status == runtime.ResultFailure:
		_ = d.tracker.Fail(ctx, exec, outcome.ErrorMessage, outcome.DurationMS)
	default:
		_ = d.tracker.Complete(ctx, exec, outcome.DurationMS)
	}

	if outcome != nil {
		for _, entry := range outcome.Logs {
			_ = d.tracker.AppendLog(ctx, exec.ID, entry.Level, entry.Message)
		}
	}

	return exec.Status
}

// buildPayload assembles the deterministic invocation payload, including a
// short-lived credential and the merged configuration of every provider in
// the namespace.
func (d *Dispatcher) buildPayload(ctx context.Context, workflow *models.Workflow, trigger *models.Trigger, executionID string, data map[string]any) (*runtime.Payload, error) {
	provider, err := d.persistence.Providers().GetByID(ctx, trigger.ProviderID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve trigger provider: %w", err)
	}

	token, err := d.tokens.Issue(workflow.ID, workflow.NamespaceID, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to issue invocation token: %w", err)
	}

	namespaceProviders, err := d.persistence.Providers().ByNamespace(ctx, workflow.NamespaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load namespace providers: %w", err)
	}

	providerConfigs := make(map[string]map[string]any, len(namespaceProviders))

	for _, p := range namespaceProviders {
		providerConfigs[p.Type+":"+p.Alias] = p.MergedConfig()
	}

	return &runtime.Payload{
		Trigger: runtime.PayloadTrigger{
			Provider: runtime.PayloadProvider{
				Type:  provider.Type,
				Alias: provider.Alias,
			},
			TriggerType: trigger.TriggerType,
			Input:       trigger.Input,
		},
		Data:            data,
		BackendURL:      d.backendURL,
		AuthToken:       token,
		ExecutionID:     executionID,
		ProviderConfigs: providerConfigs,
	}, nil
}

func triggerByID(triggers []*models.Trigger, id string) *models.Trigger {
	for _, trigger := range triggers {
		if trigger.ID == id {
			return trigger
		}
	}

	return nil
}
