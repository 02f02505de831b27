package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	"github.com/ericfisherdev/checkgate/internal/adapter/driven/checklog"
	githubadapter "github.com/ericfisherdev/checkgate/internal/adapter/driven/github"
	sqliteadapter "github.com/ericfisherdev/checkgate/internal/adapter/driven/sqlite"
	"github.com/ericfisherdev/checkgate/internal/adapter/driven/statecache"
	httphandler "github.com/ericfisherdev/checkgate/internal/adapter/driving/http"
	"github.com/ericfisherdev/checkgate/internal/application"
	"github.com/ericfisherdev/checkgate/internal/config"
	"github.com/ericfisherdev/checkgate/internal/domain/port/driven"
	"github.com/ericfisherdev/checkgate/internal/metrics"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration (fail fast on invalid env vars).
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"cache_dir", cfg.CacheDir,
		"retry_max_attempts", cfg.RetryMaxAttempts,
		"max_scheme_checkers", cfg.MaxSchemeCheckers,
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open database (dual reader/writer with WAL mode, migrations applied).
	db, err := sqliteadapter.NewDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()
	slog.Info("database opened", "path", cfg.DBPath)

	// 4. Open the combined state cache.
	cacheCfg := statecache.DefaultConfig(cfg.CacheDir)
	cacheCfg.InMemory = cfg.CacheDir == ""
	cacheCfg.MaxEntries = cfg.CacheMaxEntries
	cacheCfg.TTL = cfg.CacheTTL
	cacheCfg.Logger = slog.Default()
	states, err := statecache.Open(cacheCfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := states.Close(); closeErr != nil {
			slog.Error("error closing state cache", "error", closeErr)
		}
	}()

	// 5. Wire adapters.
	m := metrics.New()
	retry := checklog.RetryPolicy{
		MaxRetries:      cfg.RetryMaxAttempts,
		InitialInterval: cfg.RetryInitialInterval,
		MaxInterval:     cfg.RetryMaxInterval,
	}
	revisions := sqliteadapter.NewRevisionLog(db)
	checkerStore := checklog.NewCheckerRepo(revisions, retry, m)
	checkStore := checklog.NewCheckRepo(revisions, checkerStore, retry, m)
	changeIndex := sqliteadapter.NewChangeRepo(db)

	// 6. Create the notifier: commit statuses when a token is configured.
	var notifier driven.Notifier
	if cfg.HasGitHubCredentials() {
		ghClient := githubadapter.NewClient(cfg.GitHubToken)
		login, err := ghClient.ValidateToken(ctx)
		if err != nil {
			return err
		}
		notifier = ghClient
		slog.Info("github notifier enabled", "login", login)
	} else {
		notifier = application.NewLogNotifier(slog.Default())
		slog.Info("no github token configured, combined state changes are only logged")
	}

	// 7. Create services.
	checkSvc := application.NewCheckService(checkStore, checkerStore, changeIndex, states, notifier, nil, m)
	checkStore.AddListener(checkSvc.StateCache())
	checkStore.AddListener(application.NewAuditListener(slog.Default()))

	checkerSvc := application.NewCheckerService(checkerStore, changeIndex)
	pendingSvc := application.NewPendingChecksService(checkSvc, cfg.MaxSchemeCheckers)
	submitRule := application.NewSubmitRule(checkSvc)

	// 8. Create HTTP handler with routes and middleware.
	apiHandler := httphandler.NewHandler(checkSvc, checkerSvc, pendingSvc, submitRule, db, m, slog.Default())

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httphandler.NewServeMux(apiHandler, slog.Default()),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
			stop()
		}
	}()

	slog.Info("checkgate started", "listen_addr", cfg.ListenAddr)

	// 9. Wait for shutdown signal.
	<-ctx.Done()
	slog.Info("shutting down")

	// 10. Graceful shutdown with 10s timeout for in-flight requests.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}
