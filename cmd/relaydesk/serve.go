package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/relaydesk/relaydesk/internal/agents"
	"github.com/relaydesk/relaydesk/internal/backend"
	"github.com/relaydesk/relaydesk/internal/boot"
	"github.com/relaydesk/relaydesk/internal/channel"
	"github.com/relaydesk/relaydesk/internal/config"
	"github.com/relaydesk/relaydesk/internal/dedupe"
	"github.com/relaydesk/relaydesk/internal/embeddings"
	"github.com/relaydesk/relaydesk/internal/handlers"
	"github.com/relaydesk/relaydesk/internal/llm"
	"github.com/relaydesk/relaydesk/internal/logger"
	"github.com/relaydesk/relaydesk/internal/memory"
	"github.com/relaydesk/relaydesk/internal/orchestrator"
	"github.com/relaydesk/relaydesk/internal/retry"
	"github.com/relaydesk/relaydesk/internal/secrets"
	"github.com/relaydesk/relaydesk/internal/server"
	"github.com/relaydesk/relaydesk/internal/status"
	"github.com/relaydesk/relaydesk/internal/tenant"
	"github.com/relaydesk/relaydesk/internal/version"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			boot.ProvideRuntimeConfig,
			provideLogger,

			provideSecretsBox,
			provideDialer,
			provideAdminCredentials,
			provideAdminClient,
			tenant.NewRegistry,
			provideResolver,

			provideTracker,
			provideDedupe,
			agents.NewSelector,
			provideGenerator,
			provideEmbedder,
			memory.NewService,
			provideChannels,
			provideRetryOptions,
			provideTuning,
			orchestrator.NewService,

			provideServerHandler(handlers.NewPingHandler),
			provideServerHandler(handlers.NewWebhookHandler),
			provideServerHandler(handlers.NewMessagesHandler),

			provideServer,
		),
		fx.Invoke(
			startSchedules,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideConfig() (config.Config, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideSecretsBox(cfg config.Config) *secrets.Box {
	return secrets.NewBox(cfg.Secrets.MasterKey)
}

func provideDialer(lc fx.Lifecycle, log *slog.Logger) *backend.Dialer {
	dialer := backend.NewDialer(log)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			dialer.Close()
			return nil
		},
	})
	return dialer
}

func provideAdminCredentials(cfg config.Config) backend.Credentials {
	return backend.Credentials{
		URL:            cfg.AdminBackend.URL,
		AnonKey:        cfg.AdminBackend.AnonKey,
		ServiceRoleKey: cfg.AdminBackend.ServiceRoleKey,
	}
}

func provideAdminClient(log *slog.Logger, dialer *backend.Dialer, creds backend.Credentials) (backend.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := dialer.Dial(ctx, creds)
	if err != nil {
		return nil, fmt.Errorf("admin backend: %w", err)
	}
	return client, nil
}

func provideResolver(log *slog.Logger, dialer *backend.Dialer, box *secrets.Box, registry *tenant.Registry, creds backend.Credentials, rt *boot.RuntimeConfig, cfg config.Config) *tenant.Resolver {
	return tenant.NewResolver(log, dialer, box, registry, creds, rt.JwtSecret, cfg.Orchestrator.TenantScanLimit)
}

func provideTracker(log *slog.Logger, rt *boot.RuntimeConfig) *status.Tracker {
	return status.NewTracker(log, status.WithGrace(rt.ReleaseGrace, rt.EvictionGrace))
}

func provideDedupe(log *slog.Logger, rt *boot.RuntimeConfig) *dedupe.Service {
	return dedupe.NewService(log, dedupe.WithWindow(rt.DedupWindow))
}

func provideGenerator(log *slog.Logger, cfg config.Config) (llm.Generator, error) {
	return llm.NewClient(log, cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model,
		time.Duration(cfg.LLM.TimeoutSeconds)*time.Second)
}

func provideEmbedder(log *slog.Logger, cfg config.Config) (embeddings.Embedder, error) {
	return embeddings.NewOpenAIEmbedder(log, cfg.Embeddings.APIKey, cfg.Embeddings.BaseURL,
		cfg.Embeddings.Model, cfg.Embeddings.Dimensions,
		time.Duration(cfg.Embeddings.TimeoutSeconds)*time.Second)
}

func provideChannels(log *slog.Logger, cfg config.Config) *channel.Registry {
	return channel.NewRegistry(log, cfg.Channels.RatePerChat,
		channel.NewTelegramSender(log, cfg.Channels.Telegram.BotToken),
		channel.NewSlackSender(log, cfg.Channels.Slack.BotToken),
	)
}

func provideRetryOptions(log *slog.Logger, rt *boot.RuntimeConfig) retry.Options {
	return retry.Options{
		MaxRetries:   rt.MaxRetries,
		InitialDelay: rt.RetryDelay,
		Logger:       log,
	}
}

func provideTuning(cfg config.Config) orchestrator.Tuning {
	return orchestrator.Tuning{
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: float32(cfg.LLM.Temperature),
		MemoryLimit: cfg.Orchestrator.MemoryRetrieveMax,
	}
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

type serverParams struct {
	fx.In

	Logger         *slog.Logger
	RuntimeConfig  *boot.RuntimeConfig
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Logger, params.RuntimeConfig.ServerAddr, params.RuntimeConfig.JwtSecret, params.ServerHandlers...)
}

// startSchedules runs the cache sweeps and the unanswered-message poller on
// cron ticks.
func startSchedules(
	lc fx.Lifecycle,
	log *slog.Logger,
	cfg config.Config,
	tracker *status.Tracker,
	dedupeSvc *dedupe.Service,
	orch *orchestrator.Service,
	admin backend.Client,
) error {
	c := cron.New()

	if _, err := c.AddFunc(cfg.Orchestrator.SweepSpec, func() {
		released, evicted := tracker.Sweep()
		swept := dedupeSvc.Sweep()
		if released+evicted+swept > 0 {
			log.Debug("cache sweep",
				slog.Int("released", released),
				slog.Int("evicted", evicted),
				slog.Int("dedupe", swept))
		}
	}); err != nil {
		return fmt.Errorf("sweep schedule: %w", err)
	}

	if cfg.Orchestrator.PollEnabled {
		if _, err := c.AddFunc(cfg.Orchestrator.PollSpec, func() {
			orch.PollUnanswered(context.Background(), admin)
		}); err != nil {
			return fmt.Errorf("poll schedule: %w", err)
		}
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			c.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			<-c.Stop().Done()
			return nil
		},
	})
	return nil
}

func startServer(
	lc fx.Lifecycle,
	log *slog.Logger,
	srv *server.Server,
	shutdowner fx.Shutdowner,
) {
	fmt.Fprintf(os.Stdout, "Starting relaydesk %s\n", version.GetInfo())

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil { // block until server is stopped
					log.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
