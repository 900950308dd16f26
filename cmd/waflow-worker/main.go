package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/waflow/waflow/pkg/cmd"
	"github.com/waflow/waflow/pkg/config"
	"github.com/waflow/waflow/pkg/dispatch"
	"github.com/waflow/waflow/pkg/engine"
	"github.com/waflow/waflow/pkg/log"
	"github.com/waflow/waflow/pkg/otelhelper"
	"github.com/waflow/waflow/pkg/window"
	"github.com/waflow/waflow/pkg/worker"
)

func main() {
	command := &cli.Command{
		Name:                  "waflow-worker",
		Usage:                 "Consume inbound messages and run conversation flows",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:     "event-bus",
				Usage:    "Event bus type (kafka, gochannel)",
				Required: true,
				Sources:  cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for distributed conversation locks (in-process locks if empty)",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Path to a worker YAML config file (flags take precedence)",
				Sources: cli.EnvVars("WORKER_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "whatsapp-access-token",
				Usage:   "WhatsApp Cloud API access token",
				Sources: cli.EnvVars("WHATSAPP_ACCESS_TOKEN"),
			},
			&cli.StringFlag{
				Name:    "whatsapp-phone-number-id",
				Usage:   "WhatsApp Cloud API phone number id",
				Sources: cli.EnvVars("WHATSAPP_PHONE_NUMBER_ID"),
			},
			&cli.StringFlag{
				Name:    "whatsapp-template-name",
				Usage:   "Pre-approved template sent when the 24h window is closed",
				Value:   "conversation_resume",
				Sources: cli.EnvVars("WHATSAPP_TEMPLATE_NAME"),
			},
			&cli.DurationFlag{
				Name:    "session-ttl",
				Usage:   "Idle duration after which a conversation context expires",
				Value:   engine.DefaultSessionTTL,
				Sources: cli.EnvVars("SESSION_TTL"),
			},
			&cli.IntFlag{
				Name:    "step-limit",
				Usage:   "Maximum graph steps per inbound event",
				Value:   engine.DefaultStepLimit,
				Sources: cli.EnvVars("STEP_LIMIT"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Enable OpenTelemetry tracing",
				Sources: cli.EnvVars("TRACING_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json)",
				Value:   "text",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
		},
		Action: run,
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"), command.String("log-format"))

	workerID := command.String("worker-id")
	if workerID == "" {
		workerID = "worker-" + uuid.New().String()[:8]
	}

	logger := log.WithModule("waflow-worker").With("worker_id", workerID)
	logger.InfoContext(ctx, "Initializing Waflow worker")

	persistence := cmd.NewPersistence(ctx, logger, command.String("database-url"))

	defer func() {
		err := persistence.Close(ctx)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	eventBus := cmd.NewEventBus(command.String("event-bus"), logger)

	defer func() {
		err := eventBus.Close()
		if err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	dispatchConfig, engineOptions, err := buildConfig(command)
	if err != nil {
		return err
	}

	dispatcher := dispatch.NewWhatsAppDispatcher(dispatchConfig, logger)

	engineOptions = append(engineOptions, engine.WithHooks(engine.NewBusHooks(eventBus, workerID)))

	eng := engine.New(
		persistence,
		dispatcher,
		window.NewTracker(persistence.Conversations()),
		cmd.NewConversationLocker(command.String("redis-url")),
		logger,
		engineOptions...,
	)

	conversationWorker := worker.NewConversationWorker(workerID, eng, dispatcher, eventBus, logger)

	if command.Bool("tracing") {
		tracer, err := otelhelper.NewTracer(ctx, "waflow-worker")
		if err != nil {
			logger.ErrorContext(ctx, "Failed to initialize tracer", "error", err)

			return err
		}

		conversationWorker.WithTracer(tracer)
	}

	runCtx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return conversationWorker.Start(runCtx)
}

// buildConfig merges the optional YAML config file with command line flags.
// Values set on the command line take precedence over file values.
func buildConfig(command *cli.Command) (dispatch.Config, []engine.Option, error) {
	var fileConfig config.WorkerConfig

	if path := command.String("config"); path != "" {
		loaded, err := config.LoadWorkerConfig(path)
		if err != nil {
			return dispatch.Config{}, nil, err
		}

		fileConfig = *loaded
	}

	dispatchConfig := dispatch.Config{
		BaseURL:           fileConfig.WhatsApp.BaseURL,
		PhoneNumberID:     stringOr(command, "whatsapp-phone-number-id", fileConfig.WhatsApp.PhoneNumberID),
		AccessToken:       stringOr(command, "whatsapp-access-token", fileConfig.WhatsApp.AccessToken),
		TemplateName:      stringOr(command, "whatsapp-template-name", fileConfig.WhatsApp.TemplateName),
		TemplateLanguage:  fileConfig.WhatsApp.TemplateLanguage,
		SendRetryAttempts: fileConfig.WhatsApp.SendRetryAttempts,
		SendRetryDelay:    fileConfig.WhatsApp.SendRetryDelay.Std(),
	}

	if dispatchConfig.PhoneNumberID == "" || dispatchConfig.AccessToken == "" {
		return dispatch.Config{}, nil, errors.New("whatsapp phone number id and access token are required (flags or config file)")
	}

	sessionTTL := command.Duration("session-ttl")
	if !command.IsSet("session-ttl") && fileConfig.Engine.SessionTTL > 0 {
		sessionTTL = fileConfig.Engine.SessionTTL.Std()
	}

	stepLimit := int(command.Int("step-limit"))
	if !command.IsSet("step-limit") && fileConfig.Engine.StepLimit > 0 {
		stepLimit = fileConfig.Engine.StepLimit
	}

	options := []engine.Option{
		engine.WithSessionTTL(sessionTTL),
		engine.WithStepLimit(stepLimit),
	}

	if fileConfig.Engine.LockTTL > 0 {
		options = append(options, engine.WithLockTTL(fileConfig.Engine.LockTTL.Std()))
	}

	return dispatchConfig, options, nil
}

func stringOr(command *cli.Command, name, fallback string) string {
	if value := command.String(name); value != "" {
		return value
	}

	return fallback
}
