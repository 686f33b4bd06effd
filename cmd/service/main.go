// cmd/service/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"

	"repo-catalog/internal/api"
	"repo-catalog/internal/cache"
	"repo-catalog/internal/config"
	"repo-catalog/internal/database"
	"repo-catalog/internal/fetcher"
	"repo-catalog/internal/github"
	"repo-catalog/internal/gitlocal"
	"repo-catalog/internal/ratelimit"
	"repo-catalog/internal/reconcile"
	"repo-catalog/internal/scraper"
	"repo-catalog/internal/syncer"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Application startup error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Initialize structured logger
	logLevel := new(slog.LevelVar)
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	// 2. Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	setLogLevel(cfg.LogLevel, logLevel)
	logger.Info("Configuration loaded successfully")

	// 3. Setup context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 4. Initialize database connection and run migrations
	dbpool, err := pgxpool.New(ctx, cfg.DBURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer dbpool.Close()
	logger.Info("Database connection established")

	if err := runMigrations(cfg.DBURL); err != nil {
		return fmt.Errorf("failed to run database migrations: %w", err)
	}
	logger.Info("Database migrations applied successfully")

	// 5. Initialize application components
	store := database.NewStore(dbpool)
	appSyncer, err := newSyncer(cfg, store, logger)
	if err != nil {
		return fmt.Errorf("failed to create syncer: %w", err)
	}

	// 6. Start the syncer and, when configured, the read-only API
	syncDone := make(chan struct{})
	go func() {
		defer close(syncDone)
		appSyncer.Start(ctx)
	}()

	if cfg.HTTPAddr == "" {
		<-syncDone
		logger.Info("Syncer finished. Exiting.")
		return nil
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewRouter(store, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("API listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// 7. Wait for shutdown signal
	logger.Info("Application started. Waiting for shutdown signal...")
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received. Exiting.")
	case err := <-serveErr:
		if err != nil {
			cancel()
			<-syncDone
			return fmt.Errorf("api server: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("API shutdown failed", "error", err)
	}
	<-syncDone
	return nil
}

// newSyncer wires the remote client, rate limit guard, fetcher, cache, scraper and
// reconciliation engine into a Syncer.
func newSyncer(cfg *config.Config, store database.Store, logger *slog.Logger) (*syncer.Syncer, error) {
	ghClient := github.NewClient(cfg.GithubToken, logger)
	if cfg.GithubAPIURL != "" {
		if err := ghClient.WithEnterpriseURL(cfg.GithubAPIURL); err != nil {
			return nil, fmt.Errorf("invalid GITHUB_API_URL: %w", err)
		}
	}

	guard := ratelimit.NewGuard(ghClient, cfg.RateLimitBackoff, logger)
	pager := fetcher.New(ghClient, guard, logger)
	pager.SetPacing(cfg.FetchRate)

	remote := scraper.New(ghClient, pager, cache.New(store, logger), guard, scraper.Options{
		WebURL: cfg.GithubWebURL,
		Fetch: fetcher.Options{
			Concurrency:      cfg.FetchConcurrency,
			MaxPages:         cfg.FetchMaxPages,
			All:              cfg.FetchAll,
			ItemBudget:       cfg.FetchItemBudget,
			ThresholdPercent: cfg.RateLimitThreshold,
		},
		ListMaxPages:    cfg.ListMaxPages,
		ListConcurrency: cfg.FetchConcurrency,
	}, logger)

	engine := reconcile.New(store, gitlocal.NewInspector(logger), reconcile.Options{
		Workers:     cfg.ReconcileWorkers,
		CommitEvery: cfg.CommitEvery,
	}, logger)

	exclude := cfg.ScanExclude
	if len(exclude) == 0 {
		exclude = gitlocal.DefaultExcludeDirs
	}

	var users syncer.UserSource
	if ghClient.HasCredentials() {
		users = ghClient
	}
	return syncer.NewSyncer(store, engine, remote, users, guard, syncer.Options{
		ScanRoots:   cfg.ScanRoots,
		ScanExclude: exclude,
		User:        cfg.GithubUser,
		Interval:    cfg.SyncInterval,
		CacheMaxAge: cfg.CacheMaxAge,
		EnrichLimit: cfg.EnrichLimit,
	}, logger), nil
}

func runMigrations(dbURL string) error {
	m, err := migrate.New("file://migrations", dbURL)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func setLogLevel(level string, v *slog.LevelVar) {
	switch level {
	case "debug":
		v.Set(slog.LevelDebug)
	case "warn":
		v.Set(slog.LevelWarn)
	case "error":
		v.Set(slog.LevelError)
	default:
		v.Set(slog.LevelInfo)
	}
}
