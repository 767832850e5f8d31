package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hairizuan-noorazman/spahost/database"
)

var (
	migrationsPath string
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Database migration commands",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		dbCfg, err := loadDatabaseConfig()
		if err != nil {
			return err
		}

		if err := database.RunMigrations(dbCfg, migrationsPath); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), "Migrations applied successfully")
		return nil
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Rollback the most recent migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		dbCfg, err := loadDatabaseConfig()
		if err != nil {
			return err
		}

		if err := database.RollbackMigration(dbCfg, migrationsPath); err != nil {
			return fmt.Errorf("failed to rollback migration: %w", err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), "Migration rolled back successfully")
		return nil
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the current schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		dbCfg, err := loadDatabaseConfig()
		if err != nil {
			return err
		}

		version, dirty, err := database.MigrationVersion(dbCfg, migrationsPath)
		if err != nil {
			return fmt.Errorf("failed to read migration version: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty: %t)\n", version, dirty)
		return nil
	},
}

func loadDatabaseConfig() (database.Config, error) {
	cfg, err := LoadConfig(configFile)
	if err != nil {
		return database.Config{}, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg.prepareDatabase()
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
	migrateCmd.AddCommand(migrateVersionCmd)

	migrateCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path")
	migrateCmd.PersistentFlags().StringVarP(&migrationsPath, "path", "p", "", "migrations directory path (default: embedded migrations)")

	rootCmd.AddCommand(migrateCmd)
}
