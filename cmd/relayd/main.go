package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/relayd/relay/pkg/cmd"
	"github.com/relayd/relay/pkg/dispatcher"
	"github.com/relayd/relay/pkg/execution"
	"github.com/relayd/relay/pkg/jobs"
	"github.com/relayd/relay/pkg/log"
	"github.com/relayd/relay/pkg/matchers"
	"github.com/relayd/relay/pkg/matchers/github"
	httpmatcher "github.com/relayd/relay/pkg/matchers/http"
	"github.com/relayd/relay/pkg/matchers/slack"
	"github.com/relayd/relay/pkg/models"
	"github.com/relayd/relay/pkg/otelhelper"
	"github.com/relayd/relay/pkg/producers"
	"github.com/relayd/relay/pkg/producers/realtime"
	"github.com/relayd/relay/pkg/producers/scheduler"
	"github.com/relayd/relay/pkg/producers/webhook"
	"github.com/relayd/relay/pkg/runtime"
	cli "github.com/urfave/cli/v3"
)

func main() {
	command := &cli.Command{
		Name:                  "relayd",
		Usage:                 "Start the trigger routing and execution engine",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "engine-id",
				Aliases: []string{"id"},
				Usage:   "Custom engine ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("ENGINE_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence (file:// or postgres://)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus provider (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS"),
			},
			&cli.IntFlag{
				Name:    "webhook-port",
				Usage:   "Port for the webhook ingress server",
				Value:   8085,
				Sources: cli.EnvVars("WEBHOOK_PORT"),
			},
			&cli.StringFlag{
				Name:     "runner-url",
				Usage:    "Base URL of the runtime invocation endpoint",
				Required: true,
				Sources:  cli.EnvVars("RUNNER_URL"),
			},
			&cli.StringFlag{
				Name:     "backend-url",
				Usage:    "Public base URL of this engine, handed to user code",
				Required: true,
				Sources:  cli.EnvVars("BACKEND_URL"),
			},
			&cli.StringFlag{
				Name:     "token-secret",
				Usage:    "HMAC secret for invocation tokens",
				Required: true,
				Sources:  cli.EnvVars("TOKEN_SECRET"),
			},
			&cli.DurationFlag{
				Name:    "execution-budget",
				Usage:   "Maximum wall-clock time for one runtime invocation",
				Value:   dispatcher.DefaultExecutionBudget,
				Sources: cli.EnvVars("EXECUTION_BUDGET"),
			},
			&cli.StringFlag{
				Name:    "redis-addr",
				Usage:   "Redis address for realtime triggers (disabled when empty)",
				Value:   "",
				Sources: cli.EnvVars("REDIS_ADDR"),
			},
			&cli.StringFlag{
				Name:    "redis-password",
				Usage:   "Redis password",
				Value:   "",
				Sources: cli.EnvVars("REDIS_PASSWORD"),
			},
			&cli.IntFlag{
				Name:    "redis-db",
				Usage:   "Redis database number",
				Value:   0,
				Sources: cli.EnvVars("REDIS_DB"),
			},
			&cli.DurationFlag{
				Name:    "reload-interval",
				Usage:   "How often the trigger set is reloaded from persistence",
				Value:   time.Minute,
				Sources: cli.EnvVars("RELOAD_INTERVAL"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: run,
		Commands: []*cli.Command{
			NewValidateCommand(),
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		slog.Error("relayd exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))

	engineID := command.String("engine-id")
	if engineID == "" {
		engineID = fmt.Sprintf("relayd-%s", uuid.New().String()[:8])
	}

	logger := log.WithModule("relayd").With("engine_id", engineID)
	logger.Info("Initializing trigger routing engine")

	_, err := otelhelper.NewTracer(ctx, "relayd")
	if err != nil {
		logger.Warn("Tracer initialization failed, continuing without export", "error", err)
	}

	p, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return err
	}

	bus, err := cmd.NewEventBus(command.String("event-bus"), logger)
	if err != nil {
		return err
	}

	registry := matchers.NewRegistry(
		github.NewMatcher(logger),
		slack.NewMatcher(logger),
		httpmatcher.NewMatcher(),
	)

	tracker := execution.NewTracker(p.Executions(), logger)
	invoker := runtime.NewHTTPInvoker(command.String("runner-url"), logger)
	tokens := runtime.NewTokenIssuer(
		[]byte(command.String("token-secret")),
		runtime.DefaultTokenTTL,
		p.Revocations(),
	)

	dispatch := dispatcher.NewDispatcher(p, tracker, invoker, tokens, registry, nil, logger, dispatcher.Config{
		BackendURL:      command.String("backend-url"),
		ExecutionBudget: command.Duration("execution-budget"),
	})

	webhookServer := webhook.NewServer(dispatch, command.Int("webhook-port"), logger)

	producerList := []producers.Producer{
		webhook.NewProducer(webhookServer, p.Webhooks(), logger),
		scheduler.NewProducer(bus, command.String("backend-url"), logger),
	}

	if addr := command.String("redis-addr"); addr != "" {
		realtimeProducer, err := realtime.NewProducer(bus, addr,
			command.String("redis-password"), command.Int("redis-db"), logger)
		if err != nil {
			return fmt.Errorf("failed to initialize realtime producer: %w", err)
		}

		producerList = append(producerList, realtimeProducer)
	}

	queue := jobs.NewQueue(p, logger, jobs.Config{})
	queue.Register(models.JobKindWebhookDelivery, jobs.WebhookDeliveryHandler(nil, logger))

	engine := NewEngine(p, bus, dispatch, registry, producerList, queue, logger,
		command.Duration("reload-interval"))

	return engine.Start(ctx)
}
