package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tealmail/drip/internal/app"
	"github.com/tealmail/drip/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the campaign engine",
	Long:  `Start the drip campaign engine with its control API.`,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	if cfgFile == "" {
		return fmt.Errorf("config file is required (use -c flag)")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	a, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}

	return a.Run(context.Background())
}
