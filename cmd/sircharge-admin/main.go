package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sircharge/admin/internal/config"
	"sircharge/admin/internal/logging"
	"sircharge/admin/internal/store"
)

var (
	envFile  string
	logLevel string
)

// rootCmd is the sircharge-admin binary.
var rootCmd = &cobra.Command{
	Use:   "sircharge-admin",
	Short: "SirCharge admin API and maintenance commands",
	Long: `sircharge-admin runs the operator API for the SirCharge app and the
maintenance tasks around it.

Configuration comes from the environment. A .env file is read first when
present; variables already set win.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override SIRCHARGE_LOG_LEVEL")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(createAdminCmd)
	rootCmd.AddCommand(resetPasswordCmd)
	rootCmd.AddCommand(importPromptsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the dotenv file and the environment and builds the logger.
func loadConfig() (config.Config, *zap.Logger, error) {
	if err := config.DotEnv(envFile); err != nil {
		return config.Config{}, nil, fmt.Errorf("load %s: %w", envFile, err)
	}
	cfg := config.Load()
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

func openDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	db, err := store.Open(ctx, cfg.DatabaseURL, store.Pool{MaxOpen: cfg.DBMaxConns})
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	return db, nil
}
