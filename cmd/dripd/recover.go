package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tealmail/drip/internal/config"
	"github.com/tealmail/drip/internal/db"
	"github.com/tealmail/drip/internal/lock"
	"github.com/tealmail/drip/internal/metrics"
	"github.com/tealmail/drip/internal/orchestrator"
	"github.com/tealmail/drip/internal/repository"
)

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Clear stale locks and park stranded campaigns",
	Long: `Clear campaign leases left behind by a crashed process and move
campaigns stranded in the running state back to paused. Run this only
while the engine is stopped; a live engine recovers on startup by itself.`,
	RunE: runRecover,
}

func runRecover(cmd *cobra.Command, args []string) error {
	if cfgFile == "" {
		return fmt.Errorf("config file is required (use -c flag)")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	database, err := db.New(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer database.Close()

	locks, lockDB, err := lock.Open(cfg.LockStore.Path)
	if err != nil {
		return fmt.Errorf("failed to open lock store: %w", err)
	}
	defer lockDB.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	campaigns := repository.NewCampaignRepository(database.DB)
	leads := repository.NewLeadRepository(database.DB)
	audit := repository.NewAuditRepository(database.DB)

	orch := orchestrator.New(orchestrator.Config{
		LockTTL:        cfg.LockStore.TTL,
		StaleThreshold: cfg.LockStore.StaleThreshold,
	}, campaigns, leads, audit, locks, nil, nil, nil, nil, metrics.New(), logger)

	report, err := orch.Recover()
	if err != nil {
		return err
	}

	fmt.Printf("Stale locks cleared: %d\n", report.StaleLocksCleared)
	if len(report.CampaignsPaused) == 0 {
		fmt.Println("No stranded campaigns")
		return nil
	}
	fmt.Println("Campaigns moved to paused:")
	for _, id := range report.CampaignsPaused {
		fmt.Printf("  %s\n", id)
	}
	return nil
}
