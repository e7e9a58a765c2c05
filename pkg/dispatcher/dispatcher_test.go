package dispatcher_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/relayd/relay/pkg/dispatcher"
	"github.com/relayd/relay/pkg/events"
	"github.com/relayd/relay/pkg/execution"
	"github.com/relayd/relay/pkg/matchers"
	"github.com/relayd/relay/pkg/matchers/github"
	"github.com/relayd/relay/pkg/matchers/slack"
	"github.com/relayd/relay/pkg/mocks"
	"github.com/relayd/relay/pkg/models"
	"github.com/relayd/relay/pkg/otelhelper"
	"github.com/relayd/relay/pkg/persistence/file"
	"github.com/relayd/relay/pkg/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"
)

type fixture struct {
	root        string
	persistence *file.Persistence
	invoker     *mocks.MockInvoker
	quota       *mocks.MockQuotaGate
	dispatch    *dispatcher.Dispatcher

	workflow *models.Workflow
	provider *models.ProviderInstance
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	ctx := context.Background()
	root := t.TempDir()
	p := file.NewPersistence(root)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	invoker := &mocks.MockInvoker{}
	quota := &mocks.MockQuotaGate{}

	tracker := execution.NewTracker(p.Executions(), logger)
	tokens := runtime.NewTokenIssuer([]byte("test-secret"), time.Minute, p.Revocations())
	registry := matchers.NewRegistry(github.NewMatcher(logger), slack.NewMatcher(logger))

	dispatch := dispatcher.NewDispatcher(p, tracker, invoker, tokens, registry, quota, logger, dispatcher.Config{
		BackendURL:      "http://backend.test",
		ExecutionBudget: 2 * time.Second,
	})

	workflow := &models.Workflow{
		ID:             uuid.New().String(),
		Name:           "dispatch test workflow",
		NamespaceID:    "ns-1",
		OrganizationID: "org-1",
		Active:         true,
	}
	require.NoError(t, p.Workflows().Save(ctx, workflow))

	provider := &models.ProviderInstance{
		ID:          uuid.New().String(),
		NamespaceID: "ns-1",
		Type:        "github",
		Alias:       "main",
		Config:      map[string]any{"base_url": "https://api.github.com"},
		Secrets:     map[string]string{"api_token": "tok"},
	}
	require.NoError(t, p.Providers().Save(ctx, provider))

	return &fixture{
		root:        root,
		persistence: p,
		invoker:     invoker,
		quota:       quota,
		dispatch:    dispatch,
		workflow:    workflow,
		provider:    provider,
	}
}

func (f *fixture) saveTrigger(t *testing.T, triggerType models.TriggerType, input map[string]any) *models.Trigger {
	t.Helper()

	trigger := &models.Trigger{
		ID:          uuid.New().String(),
		WorkflowID:  f.workflow.ID,
		ProviderID:  f.provider.ID,
		TriggerType: triggerType,
		Input:       input,
	}
	require.NoError(t, f.persistence.Triggers().Save(context.Background(), trigger))

	return trigger
}

func (f *fixture) deploy(t *testing.T) *models.Deployment {
	t.Helper()

	ctx := context.Background()

	runtimeRecord := &models.Runtime{
		ID:         uuid.New().String(),
		Image:      "node:22",
		ConfigHash: models.RuntimeConfigHash("node:22", nil),
	}
	require.NoError(t, f.persistence.Runtimes().Save(ctx, runtimeRecord))

	deployment := &models.Deployment{
		ID:         uuid.New().String(),
		WorkflowID: f.workflow.ID,
		RuntimeID:  runtimeRecord.ID,
		Bundle:     []byte("bundle"),
	}
	require.NoError(t, f.persistence.Deployments().Activate(ctx, deployment))

	return deployment
}

func (f *fixture) allowQuota() {
	f.quota.On("WithinQuota", mock.Anything, "org-1").Return(true, nil)
}

func triggerOwnedWebhook(trigger *models.Trigger) *models.IncomingWebhook {
	return &models.IncomingWebhook{
		ID:        uuid.New().String(),
		Path:      "/deploy",
		Method:    "POST",
		TriggerID: &trigger.ID,
	}
}

func (f *fixture) providerOwnedWebhook() *models.IncomingWebhook {
	return &models.IncomingWebhook{
		ID:         uuid.New().String(),
		Path:       "/github",
		Method:     "POST",
		ProviderID: &f.provider.ID,
	}
}

func pushRequest(t *testing.T, ref string) *matchers.WebhookRequest {
	t.Helper()

	body := map[string]any{
		"ref": ref,
		"repository": map[string]any{
			"full_name": "acme/api",
		},
	}
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	return &matchers.WebhookRequest{
		Method:  "POST",
		Path:    "/github",
		Headers: map[string]string{"X-Github-Event": "push"},
		Body:    body,
		RawBody: raw,
	}
}

func TestHandleWebhook_TriggerOwnedSuccess(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.allowQuota()
	f.deploy(t)

	trigger := f.saveTrigger(t, models.TriggerTypeWebhook, nil)

	var captured *runtime.Payload

	f.invoker.On("Invoke", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			captured, _ = args.Get(3).(*runtime.Payload)
		}).
		Return(&runtime.Result{Status: runtime.ResultSuccess, DurationMS: 42}, nil)

	req := &matchers.WebhookRequest{
		Method: "POST", Path: "/deploy",
		Body: map[string]any{"version": "1.2.3"},
	}

	outcome, err := f.dispatch.HandleWebhook(ctx, triggerOwnedWebhook(trigger), req)
	require.NoError(t, err)
	assert.True(t, outcome.TriggerOwned)
	assert.Equal(t, 1, outcome.TriggersExecuted)
	assert.Equal(t, string(models.ExecutionStatusCompleted), outcome.Status)
	require.NotEmpty(t, outcome.ExecutionID)

	exec, err := f.persistence.Executions().GetByID(ctx, outcome.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, exec.Status)
	assert.Equal(t, int64(42), exec.DurationMS)

	require.NotNil(t, captured)
	assert.Equal(t, "github", captured.Trigger.Provider.Type)
	assert.Equal(t, "main", captured.Trigger.Provider.Alias)
	assert.Equal(t, "http://backend.test", captured.BackendURL)
	assert.Equal(t, outcome.ExecutionID, captured.ExecutionID)
	assert.NotEmpty(t, captured.AuthToken)
	assert.Contains(t, captured.ProviderConfigs, "github:main")
	assert.Equal(t, "tok", captured.ProviderConfigs["github:main"]["api_token"])
	assert.Equal(t, map[string]any{"version": "1.2.3"}, captured.Data["body"])
}

func TestHandleWebhook_InactiveWorkflowRecordsNoDeployment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.allowQuota()
	f.deploy(t)

	f.workflow.Active = false
	require.NoError(t, f.persistence.Workflows().Save(ctx, f.workflow))

	trigger := f.saveTrigger(t, models.TriggerTypeWebhook, nil)

	outcome, err := f.dispatch.HandleWebhook(ctx, triggerOwnedWebhook(trigger), &matchers.WebhookRequest{Method: "POST", Path: "/deploy"})
	require.NoError(t, err)
	assert.Equal(t, string(models.ExecutionStatusNoDeployment), outcome.Status)

	exec, err := f.persistence.Executions().GetByID(ctx, outcome.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusNoDeployment, exec.Status)
	assert.Equal(t, "workflow inactive", exec.ErrorMessage)

	f.invoker.AssertNotCalled(t, "Invoke")
}

func TestHandleWebhook_MissingDeploymentRecordsNoDeployment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.allowQuota()

	trigger := f.saveTrigger(t, models.TriggerTypeWebhook, nil)

	outcome, err := f.dispatch.HandleWebhook(ctx, triggerOwnedWebhook(trigger), &matchers.WebhookRequest{Method: "POST", Path: "/deploy"})
	require.NoError(t, err)
	assert.Equal(t, string(models.ExecutionStatusNoDeployment), outcome.Status)

	exec, err := f.persistence.Executions().GetByID(ctx, outcome.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, "no active deployment", exec.ErrorMessage)
}

func TestHandleWebhook_TriggerOwnedOverQuota(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.deploy(t)
	f.quota.On("WithinQuota", mock.Anything, "org-1").Return(false, nil)

	trigger := f.saveTrigger(t, models.TriggerTypeWebhook, nil)

	outcome, err := f.dispatch.HandleWebhook(ctx, triggerOwnedWebhook(trigger), &matchers.WebhookRequest{Method: "POST", Path: "/deploy"})
	require.NoError(t, err)
	assert.True(t, outcome.QuotaExceeded)
	assert.True(t, outcome.UpgradeRequired)
	assert.Zero(t, outcome.TriggersExecuted)

	// The attempt is still recorded before being refused.
	exec, err := f.persistence.Executions().GetByID(ctx, outcome.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusNoDeployment, exec.Status)
	assert.Equal(t, "organization over execution quota", exec.ErrorMessage)

	f.invoker.AssertNotCalled(t, "Invoke")
}

func TestHandleWebhook_ProviderOwnedFanOut(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.allowQuota()
	f.deploy(t)

	mainTrigger := f.saveTrigger(t, models.TriggerTypePush, map[string]any{"branch": "main"})
	f.saveTrigger(t, models.TriggerTypePush, map[string]any{"branch": "dev"})

	f.invoker.On("Invoke", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&runtime.Result{Status: runtime.ResultSuccess}, nil)

	outcome, err := f.dispatch.HandleWebhook(ctx, f.providerOwnedWebhook(), pushRequest(t, "refs/heads/main"))
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.TriggersExecuted)
	require.Len(t, outcome.Results, 1)
	assert.Equal(t, mainTrigger.ID, outcome.Results[0].TriggerID)
	assert.Equal(t, models.ExecutionStatusCompleted, outcome.Results[0].Status)

	f.invoker.AssertNumberOfCalls(t, "Invoke", 1)
}

func TestHandleWebhook_ProviderOwnedOverQuotaSkipsEntirely(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.deploy(t)
	f.quota.On("WithinQuota", mock.Anything, "org-1").Return(false, nil)

	f.saveTrigger(t, models.TriggerTypePush, map[string]any{"branch": "main"})

	outcome, err := f.dispatch.HandleWebhook(ctx, f.providerOwnedWebhook(), pushRequest(t, "refs/heads/main"))
	require.NoError(t, err)
	assert.Zero(t, outcome.TriggersExecuted)
	require.Len(t, outcome.Results, 1)
	assert.True(t, outcome.Results[0].Skipped)
	assert.Empty(t, outcome.Results[0].ExecutionID, "no execution record for a skipped fan-out match")

	f.invoker.AssertNotCalled(t, "Invoke")
}

func TestHandleWebhook_FailureIsolation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.allowQuota()
	f.deploy(t)

	failing := f.saveTrigger(t, models.TriggerTypePush, map[string]any{"branch": "main", "mark": "fail"})
	passing := f.saveTrigger(t, models.TriggerTypePush, map[string]any{"branch": "main", "mark": "pass"})

	markMatcher := func(mark string) any {
		return mock.MatchedBy(func(payload *runtime.Payload) bool {
			value, _ := payload.Trigger.Input["mark"].(string)

			return value == mark
		})
	}

	f.invoker.On("Invoke", mock.Anything, mock.Anything, mock.Anything, markMatcher("fail")).
		Return(nil, errors.New("runner unreachable"))
	f.invoker.On("Invoke", mock.Anything, mock.Anything, mock.Anything, markMatcher("pass")).
		Return(&runtime.Result{Status: runtime.ResultSuccess}, nil)

	outcome, err := f.dispatch.HandleWebhook(ctx, f.providerOwnedWebhook(), pushRequest(t, "refs/heads/main"))
	require.NoError(t, err)
	assert.Equal(t, 2, outcome.TriggersExecuted)
	require.Len(t, outcome.Results, 2)

	statuses := map[string]models.ExecutionStatus{}
	for _, result := range outcome.Results {
		statuses[result.TriggerID] = result.Status
	}

	assert.Equal(t, models.ExecutionStatusFailed, statuses[failing.ID])
	assert.Equal(t, models.ExecutionStatusCompleted, statuses[passing.ID])
}

func TestHandleWebhook_UnknownProviderTypeFallsBackToAll(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.allowQuota()
	f.deploy(t)

	f.provider.Type = "bitbucket"
	require.NoError(t, f.persistence.Providers().Save(ctx, f.provider))

	f.saveTrigger(t, models.TriggerTypePush, map[string]any{"branch": "main"})
	f.saveTrigger(t, models.TriggerTypePush, map[string]any{"branch": "dev"})

	f.invoker.On("Invoke", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&runtime.Result{Status: runtime.ResultSuccess}, nil)

	outcome, err := f.dispatch.HandleWebhook(ctx, f.providerOwnedWebhook(), pushRequest(t, "refs/heads/main"))
	require.NoError(t, err)
	assert.Equal(t, 2, outcome.TriggersExecuted, "no matcher means every trigger of the provider fires")
}

func TestHandleWebhook_SlackHandshakeShortCircuits(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.provider.Type = "slack"
	require.NoError(t, f.persistence.Providers().Save(ctx, f.provider))
	f.saveTrigger(t, models.TriggerTypeMessage, map[string]any{"channel": "C-OPS"})

	req := &matchers.WebhookRequest{
		Method: "POST", Path: "/slack",
		Body: map[string]any{"type": "url_verification", "challenge": "abc123"},
	}

	outcome, err := f.dispatch.HandleWebhook(ctx, f.providerOwnedWebhook(), req)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"challenge": "abc123"}, outcome.Handshake)
	assert.Zero(t, outcome.TriggersExecuted)

	f.invoker.AssertNotCalled(t, "Invoke")
}

func TestHandleWebhook_RuntimeTimeoutRecorded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.allowQuota()
	f.deploy(t)

	trigger := f.saveTrigger(t, models.TriggerTypeWebhook, nil)

	f.invoker.On("Invoke", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&runtime.Result{Status: runtime.ResultTimeout}, nil)

	outcome, err := f.dispatch.HandleWebhook(ctx, triggerOwnedWebhook(trigger), &matchers.WebhookRequest{Method: "POST", Path: "/deploy"})
	require.NoError(t, err)
	assert.Equal(t, string(models.ExecutionStatusTimeout), outcome.Status)

	exec, err := f.persistence.Executions().GetByID(ctx, outcome.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusTimeout, exec.Status)
	assert.Equal(t, "execution budget exceeded", exec.ErrorMessage)
}

func TestHandleWebhook_RuntimeLogsAppended(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.allowQuota()
	f.deploy(t)

	trigger := f.saveTrigger(t, models.TriggerTypeWebhook, nil)

	f.invoker.On("Invoke", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&runtime.Result{
			Status: runtime.ResultSuccess,
			Logs: []runtime.LogEntry{
				{Level: models.LogLevelInfo, Message: "hello from user code"},
				{Level: models.LogLevelWarn, Message: "deprecated API"},
			},
		}, nil)

	outcome, err := f.dispatch.HandleWebhook(ctx, triggerOwnedWebhook(trigger), &matchers.WebhookRequest{Method: "POST", Path: "/deploy"})
	require.NoError(t, err)

	logs, err := f.persistence.Executions().Logs(ctx, outcome.ExecutionID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "hello from user code", logs[0].Message)
	assert.Equal(t, models.LogLevelWarn, logs[1].Level)
}

func TestHandleCron_DispatchesWithScheduleData(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.allowQuota()
	f.deploy(t)

	trigger := f.saveTrigger(t, models.TriggerTypeCron, map[string]any{"cron": "0 9 * * *"})

	var captured *runtime.Payload

	f.invoker.On("Invoke", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			captured, _ = args.Get(3).(*runtime.Payload)
		}).
		Return(&runtime.Result{Status: runtime.ResultSuccess}, nil)

	fired := time.Date(2026, 8, 23, 9, 0, 12, 0, time.UTC)
	event := &events.CronFired{
		BaseEvent:   events.NewBaseEvent(events.CronFiredEvent),
		TriggerID:   trigger.ID,
		ScheduledAt: fired.Truncate(time.Minute),
		FiredAt:     fired,
		BackendURL:  "http://backend.test",
	}

	require.NoError(t, f.dispatch.HandleCron(ctx, event))

	require.NotNil(t, captured)
	assert.Equal(t, "2026-08-23T09:00:00Z", captured.Data["scheduledAt"])
	assert.Equal(t, "2026-08-23T09:00:12Z", captured.Data["firedAt"])
	assert.Equal(t, "http://backend.test", captured.Data["backendUrl"])
}

func TestHandleRealtime_ChannelAndTypeFilters(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.allowQuota()
	f.deploy(t)

	f.saveTrigger(t, models.TriggerTypeMessage, map[string]any{"channel": "orders"})
	f.saveTrigger(t, models.TriggerTypeMessage, map[string]any{"channel": "payments"})
	f.saveTrigger(t, models.TriggerTypeMessage, map[string]any{"channel": "orders", "messageType": "refund"})

	f.invoker.On("Invoke", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&runtime.Result{Status: runtime.ResultSuccess}, nil)

	event := &events.RealtimeMessage{
		BaseEvent:   events.NewBaseEvent(events.RealtimeMessageEvent),
		Channel:     "orders",
		MessageType: "created",
		Payload:     map[string]any{"order_id": "o-1"},
	}

	require.NoError(t, f.dispatch.HandleRealtime(ctx, event))

	// only the unfiltered "orders" trigger matches
	f.invoker.AssertNumberOfCalls(t, "Invoke", 1)
}

func TestHandleWebhook_BookkeepingFailureIsNotQuota(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.allowQuota()
	f.deploy(t)

	trigger := f.saveTrigger(t, models.TriggerTypeWebhook, nil)

	// a plain file where the executions collection lives makes record
	// creation fail
	require.NoError(t, os.WriteFile(filepath.Join(f.root, "executions"), []byte("x"), 0o644))

	outcome, err := f.dispatch.HandleWebhook(ctx, triggerOwnedWebhook(trigger), &matchers.WebhookRequest{Method: "POST", Path: "/deploy"})
	require.Error(t, err)
	assert.Nil(t, outcome)
	assert.ErrorContains(t, err, "bookkeeping")

	f.invoker.AssertNotCalled(t, "Invoke")
}

func TestHandleCron_SpanRecordsLookupError(t *testing.T) {
	ctx := context.Background()

	recorder := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(noop.NewTracerProvider()) })

	// the fixture's dispatcher picks up the recording provider at build time
	f := newFixture(t)

	event := &events.CronFired{
		BaseEvent: events.NewBaseEvent(events.CronFiredEvent),
		TriggerID: "missing-trigger",
	}

	err := f.dispatch.HandleCron(ctx, event)
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "dispatch.cron", spans[0].Name())
	assert.Contains(t, spans[0].Attributes(),
		attribute.String(otelhelper.TriggerIDKey, "missing-trigger"))
	assert.Equal(t, codes.Error, spans[0].Status().Code)
}
