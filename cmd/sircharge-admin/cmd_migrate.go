package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"sircharge/admin/internal/store"
)

var (
	migrationsDir string
	downSteps     int
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
	Long: `Apply, roll back or list the SQL migrations in the migrations directory.

Available subcommands:
  up     - Apply pending migrations (default)
  down   - Roll back the newest migrations
  status - List migrations and whether they are applied`,
	RunE: runMigrateUp,
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	RunE:  runMigrateUp,
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the newest migrations",
	RunE:  runMigrateDown,
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List migrations and whether they are applied",
	RunE:  runMigrateStatus,
}

func init() {
	migrateCmd.PersistentFlags().StringVar(&migrationsDir, "dir", "", "migrations directory (default SIRCHARGE_MIGRATIONS_DIR)")
	migrateDownCmd.Flags().IntVar(&downSteps, "steps", 1, "number of migrations to roll back; 0 rolls back all")

	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
	migrateCmd.AddCommand(migrateStatusCmd)
}

func resolveMigrationsDir(configured string) string {
	if migrationsDir != "" {
		return migrationsDir
	}
	return configured
}

func runMigrateUp(cmd *cobra.Command, _ []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openDB(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	applied, err := store.ApplyMigrations(cmd.Context(), db, resolveMigrationsDir(cfg.MigrationsDir))
	for _, name := range applied {
		fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", name)
	}
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
	}
	return nil
}

func runMigrateDown(cmd *cobra.Command, _ []string) error {
	if downSteps < 0 {
		return fmt.Errorf("--steps must be 0 or more")
	}
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openDB(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	rolledBack, err := store.RollbackMigrations(cmd.Context(), db, resolveMigrationsDir(cfg.MigrationsDir), downSteps)
	for _, name := range rolledBack {
		fmt.Fprintf(cmd.OutOrStdout(), "rolled back %s\n", name)
	}
	return err
}

func runMigrateStatus(cmd *cobra.Command, _ []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openDB(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	migrations, err := store.MigrationStatus(cmd.Context(), db, resolveMigrationsDir(cfg.MigrationsDir))
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tNAME\tSTATUS")
	for _, m := range migrations {
		status := "pending"
		if m.Applied {
			status = "applied"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", m.Version, m.Name, status)
	}
	return w.Flush()
}
