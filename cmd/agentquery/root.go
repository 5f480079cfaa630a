package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags)
	Version = "dev"

	configPath  string
	prefsPath   string
	metricsPort int
)

var rootCmd = &cobra.Command{
	Use:           "agentquery",
	Short:         "Interactive client for the specialized agent query service",
	SilenceUsage:  true,
	SilenceErrors: false,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("agentquery %s\n", Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: ~/.agentquery/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&prefsPath, "prefs", "", "Preferences file (default: ~/.agentquery/prefs.yaml)")
	rootCmd.PersistentFlags().IntVar(&metricsPort, "metrics-port", 0, "Override the metrics server port")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(chatCmd)
}
