package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/dukex/timelock/pkg/cmd"
	"github.com/dukex/timelock/pkg/log"
	"github.com/dukex/timelock/pkg/otelhelper"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
)

const (
	defaultPollEvery = "5s"
	defaultBatchSize = 20
)

func main() {
	command := &cli.Command{
		Name:                  "timelock-executor",
		Usage:                 "Execute approved releases when their scheduled instant passes",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "executor-id",
				Aliases: []string{"id"},
				Usage:   "Custom executor ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("EXECUTOR_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus provider (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "poll-every",
				Usage:   "Polling interval for due releases (e.g. 5s, 1m)",
				Value:   defaultPollEvery,
				Sources: cli.EnvVars("POLL_EVERY"),
			},
			&cli.IntFlag{
				Name:    "batch-size",
				Usage:   "Maximum releases executed per poll",
				Value:   defaultBatchSize,
				Sources: cli.EnvVars("BATCH_SIZE"),
			},
			&cli.StringFlag{
				Name:    "webhook-url",
				Usage:   "Endpoint notified after each execution (disabled when empty)",
				Value:   "",
				Sources: cli.EnvVars("WEBHOOK_URL"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			executorID := command.String("executor-id")
			if executorID == "" {
				executorID = fmt.Sprintf("executor-%s", uuid.New().String()[:8])
			}

			logger := log.WithModule("timelock-executor").With("executor_id", executorID)

			logger.Info("Initializing Timelock Executor", "executor_id", executorID)

			tracer, err := otelhelper.NewTracer(ctx, "timelock-executor")
			if err != nil {
				return fmt.Errorf("failed to initialize tracer: %w", err)
			}

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.Error("Failed to close persistence", "error", err)
				}
			}()

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), "timelock-executor", logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.Error("Failed to close event bus", "error", err)
				}
			}()

			executor := NewExecutor(
				executorID,
				persistence,
				eventBus,
				logger,
				tracer,
				nil,
				command.Int("batch-size"),
				command.String("webhook-url"),
			)

			return executor.Start(ctx, command.String("poll-every"))
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		slog.Error("Executor exited with error", "error", err)
		os.Exit(1)
	}
}
