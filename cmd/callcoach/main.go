package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string
	rootCmd := &cobra.Command{
		Use:           "callcoach",
		Short:         "Real-time sales call coaching engine",
		Long:          "callcoach turns a live call transcript into stage-aware suggestions, nudges and context cards.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return loadEnvFile(envFile)
		},
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before configuration (missing file is ignored)")

	rootCmd.AddCommand(
		newServeCmd(),
		newSimulateCmd(),
		newReplayCmd(),
	)
	return rootCmd
}

// loadEnvFile applies a dotenv file without overriding variables already set.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	return godotenv.Load(path)
}
