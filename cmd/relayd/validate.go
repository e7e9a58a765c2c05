package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/relayd/relay/pkg/cmd"
	"github.com/relayd/relay/pkg/log"
	"github.com/relayd/relay/pkg/matchers"
	"github.com/relayd/relay/pkg/matchers/github"
	httpmatcher "github.com/relayd/relay/pkg/matchers/http"
	"github.com/relayd/relay/pkg/matchers/slack"
	"github.com/relayd/relay/pkg/persistence"
	cli "github.com/urfave/cli/v3"
)

var validate *validator.Validate

// NewValidateCommand checks every stored workflow, trigger and webhook
// binding against its struct constraints and the provider input schemas,
// without starting the engine.
func NewValidateCommand() *cli.Command {
	return &cli.Command{
		Name:    "validate",
		Aliases: []string{"v"},
		Usage:   "Validate stored workflows, triggers and webhook bindings",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence (file:// or postgres://)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			validate = validator.New(validator.WithRequiredStructEnabled())

			log.Setup("info")
			logger := slog.With("module", "relayd", "action", "validate")

			p, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				_ = p.Close(ctx)
			}()

			registry := matchers.NewRegistry(
				github.NewMatcher(logger),
				slack.NewMatcher(logger),
				httpmatcher.NewMatcher(),
			)

			return runValidation(ctx, p, registry, logger)
		},
	}
}

func runValidation(ctx context.Context, p persistence.Persistence, registry *matchers.Registry, logger *slog.Logger) error {
	invalid := 0

	workflows, err := p.Workflows().All(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch workflows: %w", err)
	}

	fmt.Println("Validation Results:")
	fmt.Println("===================")

	for _, workflow := range workflows {
		err = validate.Struct(workflow)
		if err != nil {
			fmt.Printf("  ❌ workflow %s: %v\n", workflow.ID, err)

			invalid++
		} else {
			fmt.Printf("  ✅ workflow %s (%s)\n", workflow.ID, workflow.Name)
		}
	}

	triggers, err := p.Triggers().All(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch triggers: %w", err)
	}

	providerKinds := make(map[string]matchers.ProviderKind)

	for _, trigger := range triggers {
		err = validate.Struct(trigger)
		if err != nil {
			fmt.Printf("  ❌ trigger %s: %v\n", trigger.ID, err)

			invalid++

			continue
		}

		kind, ok := providerKinds[trigger.ProviderID]
		if !ok {
			provider, err := p.Providers().GetByID(ctx, trigger.ProviderID)
			if err != nil {
				fmt.Printf("  ❌ trigger %s: provider %s not found\n", trigger.ID, trigger.ProviderID)

				invalid++

				continue
			}

			kind = matchers.ProviderKind(provider.Type)
			providerKinds[trigger.ProviderID] = kind
		}

		err = registry.ValidateInput(kind, trigger.TriggerType, trigger.Input)
		if err != nil {
			fmt.Printf("  ❌ trigger %s: %v\n", trigger.ID, err)

			invalid++

			continue
		}

		fmt.Printf("  ✅ trigger %s (%s)\n", trigger.ID, trigger.TriggerType)
	}

	webhooks, err := p.Webhooks().All(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch webhooks: %w", err)
	}

	for _, webhook := range webhooks {
		err = validate.Struct(webhook)
		if err == nil {
			err = webhook.Validate()
		}

		if err != nil {
			fmt.Printf("  ❌ webhook %s: %v\n", webhook.ID, err)

			invalid++
		} else {
			fmt.Printf("  ✅ webhook %s (%s %s)\n", webhook.ID, webhook.Method, webhook.Path)
		}
	}

	fmt.Printf("\nChecked %d workflows, %d triggers, %d webhooks\n",
		len(workflows), len(triggers), len(webhooks))

	if invalid > 0 {
		return fmt.Errorf("found %d invalid records", invalid)
	}

	logger.Info("All records valid")

	return nil
}
