// Command kb is the knowledge sync bridge CLI.
//
// It keeps an agent-facing memory store consistent with a versioned
// knowledge repository: lightweight pointer records in memory, delta
// detection over content hashes, and conflict repair.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/knowmesh/kbridge/internal/config"
)

var (
	configPath string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "kb",
	Short: "Knowledge sync bridge",
	Long: `kb keeps an agent memory store in sync with a knowledge repository.

Knowledge items live as items/*.json under the knowledge directory with an
append-only commits.jsonl feed. kb mirrors them into the memory store as
lightweight pointer records and keeps the two sides consistent.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"config file (default: kbridge.yaml in the working directory)")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(conflictsCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(daemonCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
