package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/letsssgooo/quizhost/internal/bot"
	"github.com/letsssgooo/quizhost/internal/client"
	"github.com/letsssgooo/quizhost/internal/config"
	"github.com/letsssgooo/quizhost/internal/events/fetcher"
	"github.com/letsssgooo/quizhost/internal/events/sender"
	"github.com/letsssgooo/quizhost/internal/httpapi"
	"github.com/letsssgooo/quizhost/internal/lib/slogcustom"
	"github.com/letsssgooo/quizhost/internal/quiz"
	"github.com/letsssgooo/quizhost/internal/storage"
	"github.com/letsssgooo/quizhost/internal/storage/memory"
	"github.com/letsssgooo/quizhost/internal/storage/postgres"
	"github.com/letsssgooo/quizhost/internal/storage/sqlite"
	"github.com/letsssgooo/quizhost/internal/updates"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return err
	}

	slog.SetDefault(setupLogger(cfg.LogLevel))
	slog.Info("starting quiz host...", "addr", cfg.HTTP.Addr, "storage", cfg.Storage.Driver)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStorage(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("failed to close storage", "err", err)
		}
	}()

	var (
		tgClient  *client.HTTPClient
		msgSender sender.Sender
	)
	if cfg.Telegram.Token != "" {
		tgClient = client.NewHTTPClient(cfg.Telegram.Token, cfg.Telegram.APIURL)
		msgSender = sender.NewTelegramSender(tgClient)
	}

	q := quiz.New(store, msgSender)
	svc := updates.NewService(store, q, cfg.HTTP.MaxPollTimeout)
	api := httpapi.NewServer(q, svc, httpapi.QuizDefaults{
		Language:          cfg.Quiz.Language,
		NumberOfQuestions: cfg.Quiz.NumberOfQuestions,
	})

	wg := new(sync.WaitGroup)

	if tgClient != nil {
		tgBot := bot.NewBot(fetcher.NewTelegramFetcher(tgClient), msgSender, q, store, cfg.Telegram.PollTimeout)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := tgBot.Run(ctx); err != nil {
				slog.Error("telegram bot failed", "err", err)
			}
		}()
	} else {
		slog.Warn("telegram token is not set, the bot is disabled")
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("http server listening", "addr", cfg.HTTP.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("server listen failed: %w", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("graceful shutdown failed, closing connections", "err", err)
		_ = httpServer.Close()
	}

	wg.Wait()

	select {
	case err := <-serveErr:
		return err
	default:
		return nil
	}
}

func openStorage(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		return sqlite.NewStorage(ctx, cfg.Path)
	case config.DriverPostgres:
		return postgres.NewStorage(ctx, cfg.DSN)
	case config.DriverMemory:
		slog.Warn("using in-memory storage, data is lost on exit")
		return memory.NewStorage(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func setupLogger(level slog.Level) *slog.Logger {
	return slog.New(slogcustom.NewCustomHandler(os.Stdout, level))
}
