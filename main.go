// Command stream-pal-ai is the chat bot service entrypoint. It:
//   - Loads configuration (env, optional content file, optional SSM secrets)
//     and initializes structured logging, metrics and tracing.
//   - Connects to Postgres and runs versioned migrations.
//   - Wires the interaction engine: Helix client, subscription manager,
//     context formatter, response pacer, completion client and orchestrator.
//   - Serves the EventSub webhook and operator API, optionally ingests chat
//     over IRC, and runs the idle interaction loop.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/angelotc/stream-pal-ai/chat"
	"github.com/angelotc/stream-pal-ai/config"
	"github.com/angelotc/stream-pal-ai/conversation"
	"github.com/angelotc/stream-pal-ai/db"
	"github.com/angelotc/stream-pal-ai/domain"
	"github.com/angelotc/stream-pal-ai/eventsub"
	"github.com/angelotc/stream-pal-ai/interaction"
	"github.com/angelotc/stream-pal-ai/llm"
	"github.com/angelotc/stream-pal-ai/secrets"
	"github.com/angelotc/stream-pal-ai/server"
	"github.com/angelotc/stream-pal-ai/telemetry"
	"github.com/angelotc/stream-pal-ai/twitchapi"
)

func setupLogging() {
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		// unknown level -> keep info but note once using temporary logger
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		format = "text"
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", format))
}

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()
	setupLogging()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.SSMParamPrefix != "" {
		sctx, cancel := context.WithTimeout(ctx, 15*time.Second)
		store, err := secrets.NewFromEnv(sctx)
		if err == nil {
			err = cfg.ApplySecrets(sctx, store, cfg.SSMParamPrefix)
		}
		cancel()
		if err != nil {
			slog.Error("ssm secret overlay failed", slog.String("prefix", cfg.SSMParamPrefix), slog.Any("err", err))
			os.Exit(1)
		}
		slog.Info("secrets loaded from ssm", slog.String("prefix", cfg.SSMParamPrefix))
	}

	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdownTracing, err := telemetry.InitTracing("stream-pal-ai", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdownTracing()

	database, err := db.Connect(cfg.DBDsn)
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Error("failed to migrate db", slog.Any("err", err))
		os.Exit(1)
	}
	go db.ReportPoolStats(ctx, database, 30*time.Second)

	if err := run(ctx, cfg, database); err != nil {
		slog.Error("bot exited with error", slog.Any("err", err))
		os.Exit(1)
	}
	slog.Info("shutdown complete")
}

// run wires the engine and blocks until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, database *sql.DB) error {
	messages := db.NewMessageStore(database)
	channels := db.NewChannelStore(database)

	tokens := &twitchapi.AppTokenSource{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret}
	helix := &twitchapi.HelixClient{AppTokenSource: tokens, ClientID: cfg.TwitchClientID}
	manager := eventsub.NewManager(helix, channels, eventsub.ManagerConfig{
		CallbackURL: cfg.CallbackURL,
		Secret:      cfg.WebhookSecret,
		BotUserID:   cfg.TwitchBotUserID,
		ChatOverIRC: cfg.ChatIngest == config.IngestIRC,
	})

	var completer interaction.Completer
	client, err := llm.NewClient(cfg.LLMAPIKey, llm.WithBaseURL(cfg.LLMBaseURL))
	if err != nil {
		slog.Warn("completion provider not configured; replies will fail", slog.Any("err", err))
		completer = unconfiguredCompleter{}
	} else {
		completer = client
	}

	bot := domain.BotIdentity{UserID: cfg.TwitchBotUserID, Platform: domain.SourceTwitch}
	formatter := conversation.NewFormatter(conversation.Config{
		SpamKeywords:  cfg.Content.SpamKeywords,
		DefaultPrompt: cfg.Content.DefaultPrompt,
		GlobalPrompt:  cfg.Content.GlobalPrompt,
		Window:        cfg.ContextWindow,
	}, bot)
	pacer := interaction.NewPacer(interaction.PacerConfig{
		BaseThinking:   cfg.PacingBaseThinking,
		CharsPerSecond: cfg.PacingTypeSpeed,
		Variation:      cfg.PacingVariation,
		MinDelay:       cfg.PacingMinDelay,
		MaxDelay:       cfg.PacingMaxDelay,
	})
	orch := interaction.NewOrchestrator(interaction.Config{
		ContextSize: cfg.ContextFetchLimit,
		Completion: domain.CompletionParams{
			Model:       cfg.LLMModel,
			MaxTokens:   cfg.LLMMaxTokens,
			Temperature: cfg.LLMTemperature,
		},
		Policy:  interaction.ParsePolicy(cfg.PriorityPolicy),
		BotName: cfg.BotName,
	}, messages, channels, formatter, completer,
		&twitchapi.ChatSender{Client: helix, SenderID: cfg.TwitchBotUserID}, pacer)

	deps := server.Deps{
		DB:                     database,
		Subscriptions:          manager,
		Channels:               channels,
		Users:                  helix,
		Transcripts:            orch,
		TranscriptDebounce:     cfg.TranscriptDebounce,
		DefaultCooldown:        cfg.DefaultCooldownSeconds,
		TokenRateLimitRequests: cfg.TokenRateLimitRequests,
		TokenRateLimitWindow:   cfg.TokenRateLimitWindow,
	}
	if cfg.TwitchClientID != "" && cfg.TwitchClientSecret != "" {
		deps.Tokens = tokens
	}

	if err := cfg.ValidateWebhookReady(); err != nil {
		slog.Warn("eventsub webhook disabled", slog.Any("err", err))
	} else {
		var chatHandler eventsub.ChatHandler = orch
		if cfg.ChatIngest == config.IngestIRC {
			chatHandler = nil
		}
		deps.Webhook = eventsub.NewWebhookHandler(cfg.WebhookSecret, manager, chatHandler, eventsub.WithMaxAge(cfg.WebhookMaxAge))
		go startupReconcile(ctx, manager, channels)
	}

	if cfg.ChatIngest == config.IngestIRC {
		if err := startIRC(ctx, cfg, orch, channels); err != nil {
			slog.Warn("irc chat ingest disabled", slog.Any("err", err))
		}
	}

	go orch.StartIdleLoop(ctx, cfg.IdleInterval)

	err = server.Start(ctx, deps, cfg.HTTPAddr)
	slog.Info("waiting for in-flight interactions")
	orch.Wait()
	return err
}

// startupReconcile converges every registered channel once, since
// subscriptions may have drifted while the service was down.
func startupReconcile(ctx context.Context, manager *eventsub.Manager, channels *db.ChannelStore) {
	states, err := channels.List(ctx)
	if err != nil {
		slog.Warn("startup reconcile: list channels", slog.Any("err", err))
		return
	}
	if err := manager.ReconcileAll(ctx, states); err != nil {
		slog.Warn("startup reconcile finished with errors", slog.Any("err", err))
		return
	}
	slog.Info("startup reconcile complete", slog.Int("channels", len(states)))
}

func startIRC(ctx context.Context, cfg *config.Config, h chat.Handler, channels chat.ActiveChannels) error {
	if err := cfg.ValidateChatReady(); err != nil {
		return err
	}
	rec, err := chat.NewRecorder(cfg.TwitchBotUsername, cfg.TwitchOAuthToken, h)
	if err != nil {
		return err
	}
	go chat.NewAutoJoiner(rec, channels, chat.DefaultPollInterval).Run(ctx)
	go func() {
		if err := rec.Run(ctx); err != nil {
			slog.Error("irc chat ingest stopped", slog.Any("err", err))
		}
	}()
	return nil
}

// unconfiguredCompleter fails every completion so the orchestrator records
// the failure instead of the process refusing to start.
type unconfiguredCompleter struct{}

func (unconfiguredCompleter) Complete(context.Context, []domain.ChatMessage, domain.CompletionParams) (string, error) {
	return "", domain.NewError(domain.KindUpstream, "llm.Complete", errors.New("LLM_API_KEY not configured"))
}
