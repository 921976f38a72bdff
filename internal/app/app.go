// Package app wires the drip components together and runs their lifecycle.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/tealmail/drip/internal/api"
	"github.com/tealmail/drip/internal/config"
	"github.com/tealmail/drip/internal/db"
	"github.com/tealmail/drip/internal/dkim"
	"github.com/tealmail/drip/internal/lock"
	"github.com/tealmail/drip/internal/metrics"
	"github.com/tealmail/drip/internal/orchestrator"
	"github.com/tealmail/drip/internal/pacing"
	"github.com/tealmail/drip/internal/reputation"
	"github.com/tealmail/drip/internal/repository"
	"github.com/tealmail/drip/internal/sender"
	"github.com/tealmail/drip/internal/verify"
)

// App is the main application
type App struct {
	config    *config.Config
	database  *db.DB
	lockDB    *bolt.DB
	monitor   *reputation.Monitor
	orch      *orchestrator.Orchestrator
	apiServer *api.Server
	logger    *slog.Logger
}

// New creates a new application
func New(cfg *config.Config) (*App, error) {
	logger := setupLogger(cfg.Logging)

	database, err := db.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.Migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	locks, lockDB, err := lock.Open(cfg.LockStore.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock store: %w", err)
	}

	m := metrics.New()
	campaigns := repository.NewCampaignRepository(database.DB)
	leads := repository.NewLeadRepository(database.DB)
	windows := repository.NewReputationRepository(database.DB)
	audit := repository.NewAuditRepository(database.DB)

	monitor := reputation.NewMonitor(reputation.Config{
		MaxBounceRate:    cfg.Reputation.MaxBounceRate,
		MaxComplaintRate: cfg.Reputation.MaxComplaintRate,
		QueueSize:        cfg.Reputation.QueueSize,
	}, campaigns, leads, windows, audit, m, logger)

	verifier := verify.NewClient(verify.Options{
		BaseURL:          cfg.Verifier.BaseURL,
		APIKey:           cfg.Verifier.APIKey,
		Timeout:          cfg.Verifier.Timeout,
		MaxRetries:       cfg.Verifier.MaxRetries,
		RetryBackoff:     cfg.Verifier.RetryBackoff,
		BreakerThreshold: cfg.Verifier.BreakerThreshold,
		BreakerReset:     cfg.Verifier.BreakerReset,
	}, logger.With("component", "verify"))

	snd, err := buildSender(cfg, logger)
	if err != nil {
		return nil, err
	}

	orch := orchestrator.New(orchestrator.Config{
		LockTTL:        cfg.LockStore.TTL,
		StaleThreshold: cfg.LockStore.StaleThreshold,
		SendTimeout:    cfg.Sender.SendTimeout,
		MinDelayMs:     cfg.Pacing.MinDelayMs,
		MaxDelayMs:     cfg.Pacing.MaxDelayMs,
		DailyQuota:     cfg.Pacing.DailyQuota,
		SlotDuration:   cfg.Pacing.SlotDuration,
		MaxDeferred:    cfg.Pacing.MaxDeferred,
		Hours: pacing.Hours{
			Start:     cfg.Pacing.WorkStart,
			End:       cfg.Pacing.WorkEnd,
			PeakStart: cfg.Pacing.PeakStart,
			PeakEnd:   cfg.Pacing.PeakEnd,
		},
	}, campaigns, leads, audit, locks, verifier, snd, monitor,
		pacing.CryptoSource{}, m, logger)

	apiServer := api.NewServer(&cfg.Server, campaigns, leads, orch, monitor, m, logger)

	return &App{
		config:    cfg,
		database:  database,
		lockDB:    lockDB,
		monitor:   monitor,
		orch:      orch,
		apiServer: apiServer,
		logger:    logger,
	}, nil
}

// buildSender constructs the configured delivery backend
func buildSender(cfg *config.Config, logger *slog.Logger) (sender.Sender, error) {
	if cfg.Sender.DryRun {
		logger.Info("dry-run mode, messages will not be delivered")
		return sender.NewMemorySender(), nil
	}

	s := sender.NewSMTPSender(sender.RelayConfig{
		Host:     cfg.Sender.Host,
		Port:     cfg.Sender.Port,
		Username: cfg.Sender.Username,
		Password: cfg.Sender.Password,
		Hostname: cfg.Server.Hostname,
	}, cfg.Sender.SendTimeout, logger.With("component", "sender"))

	if cfg.Sender.DKIM.Enabled {
		signer, err := dkim.NewSignerFromFile(
			cfg.Sender.DKIM.KeyFile,
			cfg.Sender.DKIM.Domain,
			cfg.Sender.DKIM.Selector,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to load DKIM signer: %w", err)
		}
		s.SetDKIMSigner(signer)
		logger.Info("DKIM signing enabled",
			"domain", cfg.Sender.DKIM.Domain,
			"selector", cfg.Sender.DKIM.Selector,
		)
	}
	return s, nil
}

// Run starts all components and waits for shutdown
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting dripd",
		"api_addr", a.config.Server.ListenAddr,
		"database", a.config.Database.Path,
		"lockstore", a.config.LockStore.Path,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a.monitor.Start()

	// Clear stale leases and park campaigns stranded by a previous crash
	if report, err := a.orch.Recover(); err != nil {
		a.logger.Error("startup recovery failed", "error", err)
	} else if report.StaleLocksCleared > 0 || len(report.CampaignsPaused) > 0 {
		a.logger.Info("startup recovery",
			"stale_locks_cleared", report.StaleLocksCleared,
			"campaigns_paused", report.CampaignsPaused,
		)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := a.apiServer.ListenAndServe(); err != nil {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		a.logger.Error("server error", "error", err)
		cancel()
	}

	return a.Shutdown(context.Background())
}

// Shutdown gracefully shuts down all components
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("api server shutdown error", "error", err)
	}

	// Park running campaigns so a restart resumes them from checkpoint
	if err := a.orch.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("orchestrator shutdown error", "error", err)
	}

	a.monitor.Stop()

	if err := a.lockDB.Close(); err != nil {
		a.logger.Error("lock store close error", "error", err)
	}
	if err := a.database.Close(); err != nil {
		a.logger.Error("database close error", "error", err)
	}

	a.logger.Info("shutdown complete")
	return nil
}

// setupLogger creates a logger based on configuration
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
