// Package cli implements the wastectl operator commands.
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/greencredits/report-server/internal/config"
	"github.com/greencredits/report-server/internal/database"
	"github.com/greencredits/report-server/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "wastectl",
	Short: "Operate the GreenCredits report server",
	Long: `wastectl manages the report server's database and configuration.
It reads the same environment (and .env file) as the server.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func loadConfig() (*config.Config, error) {
	return config.Load()
}

// openStore loads the configuration and opens the configured store.
func openStore(ctx context.Context) (*config.Config, *store.SQLStore, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	st, closeStore, err := database.OpenStore(ctx, cfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open %s store: %w", cfg.DBDriver, err)
	}
	return cfg, st, closeStore, nil
}

func newLogger() *zap.SugaredLogger {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop().Sugar()
	}
	return logger.Sugar()
}
