package main

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/relayd/relay/pkg/channels/gochannel"
	"github.com/relayd/relay/pkg/dispatcher"
	"github.com/relayd/relay/pkg/eventbus"
	"github.com/relayd/relay/pkg/events"
	"github.com/relayd/relay/pkg/execution"
	"github.com/relayd/relay/pkg/jobs"
	"github.com/relayd/relay/pkg/matchers"
	"github.com/relayd/relay/pkg/matchers/github"
	"github.com/relayd/relay/pkg/mocks"
	"github.com/relayd/relay/pkg/models"
	"github.com/relayd/relay/pkg/persistence/file"
	"github.com/relayd/relay/pkg/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// A slow runtime invocation must not delay the dispatch of the next stream
// event: the scheduler may fire the same trigger again while the previous
// execution is still in flight.
func TestEngine_StreamDispatchesConcurrently(t *testing.T) {
	ctx := context.Background()

	p := file.NewPersistence(t.TempDir())
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	require.NoError(t, p.Workflows().Save(ctx, &models.Workflow{
		ID:             "wf-1",
		Name:           "engine test workflow",
		NamespaceID:    "ns-1",
		OrganizationID: "org-1",
		Active:         true,
	}))
	require.NoError(t, p.Providers().Save(ctx, &models.ProviderInstance{
		ID:          "prov-1",
		NamespaceID: "ns-1",
		Type:        "github",
		Alias:       "main",
	}))
	require.NoError(t, p.Runtimes().Save(ctx, &models.Runtime{
		ID:         "rt-1",
		Image:      "node:22",
		ConfigHash: models.RuntimeConfigHash("node:22", nil),
	}))
	require.NoError(t, p.Deployments().Activate(ctx, &models.Deployment{
		ID:         "deploy-1",
		WorkflowID: "wf-1",
		RuntimeID:  "rt-1",
		Bundle:     []byte("bundle"),
	}))

	for _, id := range []string{"t-1", "t-2"} {
		require.NoError(t, p.Triggers().Save(ctx, &models.Trigger{
			ID:          id,
			WorkflowID:  "wf-1",
			ProviderID:  "prov-1",
			TriggerType: models.TriggerTypeCron,
			Input:       map[string]any{"cron": "* * * * *"},
		}))
	}

	starts := make(chan time.Time, 2)

	invoker := &mocks.MockInvoker{}
	invoker.On("Invoke", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(_ mock.Arguments) {
			starts <- time.Now()

			time.Sleep(400 * time.Millisecond)
		}).
		Return(&runtime.Result{Status: runtime.ResultSuccess}, nil)

	tracker := execution.NewTracker(p.Executions(), logger)
	tokens := runtime.NewTokenIssuer([]byte("test-secret"), time.Minute, p.Revocations())
	registry := matchers.NewRegistry(github.NewMatcher(logger))
	dispatch := dispatcher.NewDispatcher(p, tracker, invoker, tokens, registry, nil, logger, dispatcher.Config{
		BackendURL: "http://backend.test",
	})

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)
	queue := jobs.NewQueue(p, logger, jobs.Config{})
	engine := NewEngine(p, bus, dispatch, registry, nil, queue, logger, time.Minute)

	require.NoError(t, engine.subscribeEvents(ctx))

	now := time.Now().UTC()
	for _, id := range []string{"t-1", "t-2"} {
		require.NoError(t, bus.Publish(ctx, id, events.CronFired{
			BaseEvent:   events.NewBaseEvent(events.CronFiredEvent),
			TriggerID:   id,
			ScheduledAt: now.Truncate(time.Minute),
			FiredAt:     now,
			BackendURL:  "http://backend.test",
		}))
	}

	times := make([]time.Time, 0, 2)

	for range 2 {
		select {
		case ts := <-starts:
			times = append(times, ts)
		case <-time.After(2 * time.Second):
			t.Fatal("dispatch never reached the invoker")
		}
	}

	gap := times[1].Sub(times[0])
	if gap < 0 {
		gap = -gap
	}

	assert.Less(t, gap, 300*time.Millisecond,
		"second dispatch must start while the first invocation is still running")
}
