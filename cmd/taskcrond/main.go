package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"taskcron/internal/api"
	"taskcron/internal/config"
	"taskcron/internal/core"
	"taskcron/internal/logging"
	taskcronmcp "taskcron/internal/mcp"
	"taskcron/internal/notify"
	"taskcron/internal/store"
	"taskcron/internal/store/pgstore"
	"taskcron/pkg/postgres"
)

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}

	// The MCP stdio transport owns stdout.
	logger := logging.New(cfg.Log.Level, cfg.Log.Format)
	if cfg.Server.Mode != "http" {
		logger = logging.NewTo(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("taskcrond exited", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	baseCtx := context.Background()

	catalog, closeCatalog, err := openCatalog(baseCtx, cfg)
	if err != nil {
		return err
	}
	defer closeCatalog()

	executor := core.NewCommandExecutor(logger, core.ExecutorOptions{
		Shell:          cfg.Scheduler.Shell,
		MaxOutputBytes: cfg.Scheduler.MaxOutputBytes,
	})
	notifier := buildNotifier(cfg.Notification, logger)
	scheduler := core.NewScheduler(catalog, executor, logger, core.Options{
		Timeout:       cfg.Scheduler.Timeout,
		MaxConcurrent: cfg.Scheduler.MaxConcurrent,
		Overlap:       cfg.Scheduler.Overlap,
		Notifier:      notifier,
	})

	ctx, cancel := signal.NotifyContext(baseCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	mcpServer := taskcronmcp.NewMCPServer(scheduler, logger)
	errs := make(chan error, 2)

	var server *api.Server
	if cfg.Server.Mode == "http" || cfg.Server.Mode == "both" {
		server = api.NewServer(cfg.Server.Addr, cfg.Server.AuthToken, scheduler, mcpServer.Handler(), logger)
		go func() {
			if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errs <- fmt.Errorf("http server: %w", err)
			}
		}()
	}
	if cfg.Server.Mode == "mcp" || cfg.Server.Mode == "both" {
		go func() {
			// ServeStdio returns once stdin closes; treat that as a shutdown request.
			if err := mcpServer.Run(); err != nil {
				errs <- fmt.Errorf("mcp server: %w", err)
				return
			}
			logger.Info("mcp stdio closed")
			cancel()
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down", "cause", context.Cause(ctx))
	case runErr = <-errs:
		logger.Error("server error", "err", runErr)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer shutdownCancel()

	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", "err", err)
		}
	}
	if err := scheduler.Stop(shutdownCtx); err != nil {
		logger.Warn("scheduler stop timed out, running commands were aborted", "err", err)
	}

	logSuppressed(notifier, logger)
	logger.Info("shutdown complete")
	return runErr
}

// openCatalog opens the configured task catalog and returns its closer.
func openCatalog(ctx context.Context, cfg *config.Config) (core.Catalog, func(), error) {
	switch cfg.Catalog.Driver {
	case "postgres":
		db, err := postgres.NewDB(cfg.Catalog.Postgres)
		if err != nil {
			return nil, nil, err
		}
		st, err := pgstore.New(ctx, db.DB, cfg.Catalog.HistoryLimit)
		if err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("open postgres catalog: %w", err)
		}
		return st, func() { _ = db.Close() }, nil
	default:
		st, err := store.Open(ctx, cfg.StateDir, cfg.Catalog.HistoryLimit)
		if err != nil {
			return nil, nil, fmt.Errorf("open store: %w", err)
		}
		return st, func() { _ = st.Close() }, nil
	}
}

// buildNotifier combines every configured failure notifier. It returns nil
// when none is configured.
func buildNotifier(cfg config.NotificationConfig, logger *slog.Logger) core.Notifier {
	var notifiers []notify.Notifier
	if cfg.Bark.Enabled {
		bark, err := notify.NewBarkNotifier(cfg.Bark.URL)
		if err != nil {
			logger.Warn("bark notifications disabled", "err", err)
		} else {
			notifiers = append(notifiers, bark)
		}
	}
	if cfg.Telegram.Token != "" {
		tg, err := notify.NewTelegramNotifier(cfg.Telegram.Token, cfg.Telegram.ChatID, cfg.Telegram.APIURL)
		if err != nil {
			logger.Warn("telegram notifications disabled", "err", err)
		} else {
			notifiers = append(notifiers, tg)
		}
	}
	if len(notifiers) == 0 {
		return nil
	}

	var n notify.Notifier = notify.NewMultiNotifier(notifiers...)
	if cfg.PerMinute > 0 {
		n = notify.NewThrottled(n, cfg.PerMinute)
	}
	logger.Info("failure notifications enabled", "channels", len(notifiers), "per_minute", cfg.PerMinute)
	return n
}

func logSuppressed(n core.Notifier, logger *slog.Logger) {
	if th, ok := n.(*notify.Throttled); ok && th.Dropped() > 0 {
		logger.Warn("failure notifications suppressed by rate limit", "dropped", th.Dropped())
	}
}
