// Package main contains the entrypoint for the QuickLingo bot: the
// ingestion server, the queue workers, and the maintenance scheduler run
// together in one process group.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/quicklingo/quicklingo/internal/config"
	"github.com/quicklingo/quicklingo/internal/database"
	"github.com/quicklingo/quicklingo/internal/logger"
	"github.com/quicklingo/quicklingo/internal/openai"
	"github.com/quicklingo/quicklingo/internal/pipeline"
	"github.com/quicklingo/quicklingo/internal/queue"
	"github.com/quicklingo/quicklingo/internal/server"
	"github.com/quicklingo/quicklingo/internal/tasks"
	"github.com/quicklingo/quicklingo/internal/telegram"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop()
	os.Exit(exitCode)
}

func run(ctx context.Context) int {
	// A local .env is optional; real deployments set the environment.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to load .env file", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		return 1
	}

	log := logger.New(cfg.Log.Level, cfg.Log.JSON)
	log.Info("Logger initialized", "level", cfg.Log.Level, "json", cfg.Log.JSON)

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		log.Error("Failed to connect to database", "path", cfg.Database.Path, "error", err)
		return 1
	}
	defer database.CloseDB(db)
	store := database.NewStore(db, log)

	q, err := queue.New(ctx, cfg.Queue, log)
	if err != nil {
		log.Error("Failed to connect to queue", "error", err)
		return 1
	}
	defer func() {
		if err := q.Close(); err != nil {
			log.Error("Error closing queue connections", "error", err)
		}
	}()

	if err := q.Recover(ctx); err != nil {
		log.Error("Failed to recover in-flight tasks", "error", err)
		return 1
	}

	gen, err := openai.NewClient(cfg.OpenAI, log)
	if err != nil {
		log.Error("Failed to initialize generation client", "error", err)
		return 1
	}

	tg, err := telegram.New(cfg.Telegram.Token, log)
	if err != nil {
		log.Error("Failed to create Telegram client", "error", err)
		return 1
	}

	botInfo, err := tg.GetMe(ctx)
	if err != nil {
		log.Error("Failed to get bot identity", "error", err)
		return 1
	}

	recorder := pipeline.NewRecorder(store, *botInfo, log)
	if err := recorder.EnsureBotUser(ctx); err != nil {
		log.Error("Failed to ensure bot user row", "error", err)
		return 1
	}

	pipe := pipeline.New(
		pipeline.NewGate(store, cfg.Bot.TagToken, cfg.Bot.NoReplyToken, log),
		pipeline.NewAssembler(store, cfg.Bot.ContextWindow),
		recorder,
		gen,
		tg,
		cfg.Bot,
		log,
	)

	sched, err := tasks.NewScheduler(store, log)
	if err != nil {
		log.Error("Failed to create scheduler", "error", err)
		return 1
	}

	srv := server.New(cfg.Server, q, store, log)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Run(gCtx)
	})

	for i := 0; i < cfg.Queue.Workers; i++ {
		workerID := i
		g.Go(func() error {
			return q.Worker(gCtx, workerID, pipe.Process)
		})
	}

	g.Go(func() error {
		sched.Start()
		<-gCtx.Done()
		return sched.Stop()
	})

	log.Info("QuickLingo started",
		"addr", cfg.Server.Addr,
		"workers", cfg.Queue.Workers,
		"model", cfg.OpenAI.Model,
		"bot_username", botInfo.Username)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Shutting down after error", "error", err)
		return 1
	}

	log.Info("Shutdown complete")
	return 0
}
