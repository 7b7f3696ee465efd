package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/vendalink/vendalink/internal/analysis"
	"github.com/vendalink/vendalink/internal/catalog"
	"github.com/vendalink/vendalink/internal/config"
	"github.com/vendalink/vendalink/internal/contact"
	"github.com/vendalink/vendalink/internal/conversation"
	"github.com/vendalink/vendalink/internal/db"
	"github.com/vendalink/vendalink/internal/handlers"
	"github.com/vendalink/vendalink/internal/ingest"
	"github.com/vendalink/vendalink/internal/llm"
	"github.com/vendalink/vendalink/internal/logger"
	"github.com/vendalink/vendalink/internal/message"
	"github.com/vendalink/vendalink/internal/server"
	"github.com/vendalink/vendalink/internal/sweep"
	"github.com/vendalink/vendalink/internal/timeline"
	"github.com/vendalink/vendalink/internal/waba"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideDBConn,
			contact.NewService,
			waba.NewService,
			message.NewService,
			conversation.NewService,
			catalog.NewService,
			timeline.NewService,
			provideLLMClient,
			provideAnalysisStore,
			provideAnalysisWorker,
			provideScheduler,
			provideIngestService,
			provideWebhookHandler,
			provideConversationHandler,
			handlers.NewPingHandler,
			provideSweeper,
			provideServer,
		),
		fx.Invoke(
			applyMigrations,
			startSweeper,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideConfig() (config.Config, error) {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideDBConn(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	conn, err := db.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { conn.Close(); return nil }})
	return conn, nil
}

func provideLLMClient(log *slog.Logger, cfg config.Config) *llm.Client {
	return llm.NewClient(log, cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model,
		time.Duration(cfg.LLM.TimeoutSeconds)*time.Second)
}

func provideAnalysisStore(log *slog.Logger, conn *pgxpool.Pool, conversations *conversation.Service, catalogs *catalog.Service) *analysis.Store {
	return analysis.NewStore(log, conn, conversations, catalogs)
}

func provideAnalysisWorker(log *slog.Logger, cfg config.Config, store *analysis.Store, client *llm.Client) *analysis.AnalysisWorker {
	return analysis.NewWorker(log, store, client,
		time.Duration(cfg.Analysis.CallTimeoutSeconds)*time.Second)
}

func provideScheduler(lc fx.Lifecycle, log *slog.Logger, cfg config.Config, worker *analysis.AnalysisWorker) *analysis.Scheduler {
	sched := analysis.NewScheduler(log, worker, cfg.Analysis.MaxConcurrency)
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error {
		done := make(chan struct{})
		go func() { sched.Wait(); close(done) }()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}})
	return sched
}

func provideIngestService(log *slog.Logger, cfg config.Config, contacts *contact.Service, channels *waba.Service, messages *message.Service, conversations *conversation.Service, tl *timeline.Service, sched *analysis.Scheduler) *ingest.Service {
	if !cfg.LLM.Enabled() {
		log.Warn("no completion endpoint configured, ingested conversations stay queued until one is")
		return ingest.NewService(log, contacts, channels, messages, conversations, tl, nil)
	}
	return ingest.NewService(log, contacts, channels, messages, conversations, tl, sched)
}

func provideWebhookHandler(log *slog.Logger, cfg config.Config, ing *ingest.Service) *handlers.WebhookHandler {
	return handlers.NewWebhookHandler(log, ing, cfg.Server.WebhookToken)
}

func provideConversationHandler(log *slog.Logger, conversations *conversation.Service, sched *analysis.Scheduler) *handlers.ConversationHandler {
	return handlers.NewConversationHandler(log, conversations, sched)
}

func provideSweeper(log *slog.Logger, cfg config.Config, conversations *conversation.Service, sched *analysis.Scheduler) *sweep.Sweeper {
	return sweep.NewSweeper(log, conversations, sched, cfg.Sweep.Spec,
		time.Duration(cfg.Sweep.QuietMinutes)*time.Minute)
}

func provideServer(log *slog.Logger, cfg config.Config, pingHandler *handlers.PingHandler, webhookHandler *handlers.WebhookHandler, conversationHandler *handlers.ConversationHandler) *server.Server {
	return server.NewServer(log, cfg.Server.Addr, pingHandler, webhookHandler, conversationHandler)
}

func applyMigrations(cfg config.Config) error {
	if err := db.Migrate(cfg.Postgres); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func startSweeper(lc fx.Lifecycle, cfg config.Config, sweeper *sweep.Sweeper) {
	if !cfg.Sweep.Enabled {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { return sweeper.Start() },
		OnStop:  func(ctx context.Context) error { sweeper.Stop(); return nil },
	})
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
