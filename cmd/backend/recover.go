package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hairizuan-noorazman/spahost/logger"
)

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Repair state left behind by interrupted operations",
	Long: `Removes abandoned staging directories, finishes interrupted deletes,
discards abandoned upload slots and removes unreferenced versions. Slugs
locked by a running server are skipped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		cfg, err := LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		log := logger.NewLogrusLogger(cfg.Log.Level)

		a, err := newApp(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.coordinator.Recover(ctx)
		if err != nil {
			return fmt.Errorf("recovery failed: %w", err)
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

func init() {
	recoverCmd.Flags().StringVarP(&configFile, "config", "c", "", "config file path")
	rootCmd.AddCommand(recoverCmd)
}
