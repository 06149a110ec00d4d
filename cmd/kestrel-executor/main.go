package main

import (
	"context"
	"os"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/kestrelflow/kestrel/pkg/admission"
	"github.com/kestrelflow/kestrel/pkg/cmd"
	"github.com/kestrelflow/kestrel/pkg/executor"
	"github.com/kestrelflow/kestrel/pkg/log"
	"github.com/kestrelflow/kestrel/pkg/otelhelper"
	"github.com/kestrelflow/kestrel/pkg/subflow"
)

func main() {
	app := &cli.Command{
		Name:                  "kestrel-executor",
		EnableShellCompletion: true,
		Usage:                 "Start the execution engine resolving flow runs",
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
				Name:     "event-bus",
				Usage:    "Event bus type (kafka, memory)",
				Required: true,
				Sources:  cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "redis-addr",
				Usage:   "Redis address for shared concurrency slots (in-memory slots if empty)",
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
				executorID = "executor-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("kestrel-executor").With("executor_id", executorID)

			logger.InfoContext(ctx, "Initializing Kestrel Executor")

			tracerProvider, err := otelhelper.NewTracerProvider(ctx, "kestrel-executor")
			if err != nil {
				logger.WarnContext(ctx, "Tracing disabled", "error", err)
			} else {
				defer func() {
					if err := tracerProvider.Shutdown(ctx); err != nil {
						logger.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
					}
				}()
			}

			persistence := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus := cmd.NewEventBus(command.String("event-bus"), "executor", logger)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			slots := cmd.NewSlotStore(
				ctx,
				command.String("redis-addr"),
				command.String("redis-password"),
				command.Int("redis-db"),
			)

			flows := persistence.FlowRepository()
			executions := persistence.ExecutionRepository()

			controller := admission.NewController(slots, executions, logger)
			coordinator := subflow.NewCoordinator(flows, logger)

			e := executor.New(executorID, flows, executions, controller, coordinator, eventBus, logger)

			if err := e.Start(ctx); err != nil {
				logger.ErrorContext(ctx, "Failed to start executor", "error", err)
			}

			return nil
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
