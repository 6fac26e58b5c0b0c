package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

// buildRootCmd creates the root command with all subcommands attached. Separated from main()
// to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "corerun",
		Short: "corerun - autonomous coding-assistant runtime core",
		Long: `corerun drives a single agent run: it loads a prompt, dispatches model calls
through the LLM Gateway, executes any requested tool actions through the Tool Dispatcher, and
persists the conversation through the Session Store and Checkpoint Manager.

This binary is a smoke-testing harness for the runtime core, not a product UI.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath(),
		"Path to YAML configuration file")

	rootCmd.AddCommand(
		buildRunCmd(),
		buildSweepCmd(),
		buildServeCmd(),
	)
	return rootCmd
}

// defaultConfigPath honors COREUN_CONFIG before falling back to ./corerun.yaml.
func defaultConfigPath() string {
	if v := os.Getenv("COREUN_CONFIG"); v != "" {
		return v
	}
	return "corerun.yaml"
}
