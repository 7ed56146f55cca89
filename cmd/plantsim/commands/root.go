package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	plantName  string
	mapPath    string
	refPath    string
	storePath  string
	verbose    bool
	jsonOutput bool

	buildVersion = "dev"
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	buildVersion = version

	rootCmd := &cobra.Command{
		Use:   "plantsim",
		Short: "plantsim - ICS process simulation testbed",
		Long: `plantsim simulates small industrial processes behind a tag-addressable
register space, for fieldbus and intrusion-detection experiments.

Features:
  - Bottle-filling line and oil refinery physics
  - Tag maps loaded from CSV and checked against a reference model
  - Tag naming, type and table policies in Rego
  - Concurrent attack injection with scripted scenarios
  - Attack history, event log and tag snapshots in SQLite`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "simulation config file (CUE)")
	rootCmd.PersistentFlags().StringVarP(&plantName, "plant", "p", "bottle", "plant to simulate when no config is given (bottle, refinery)")
	rootCmd.PersistentFlags().StringVarP(&mapPath, "map", "m", "", "tag map CSV (overrides the config)")
	rootCmd.PersistentFlags().StringVar(&refPath, "reference", "", "cross-PLC reference model (overrides the config)")
	rootCmd.PersistentFlags().StringVar(&storePath, "store", "", "SQLite database path (overrides the config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newAttackCommand())
	rootCmd.AddCommand(newScenariosCommand())
	rootCmd.AddCommand(newHistoryCommand())

	return rootCmd
}
