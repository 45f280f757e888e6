package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "copilotz",
	Short: "Copilotz runs language-model copilots that call actions and drive workflows",
	Long: `Copilotz loads a copilot definition (persona, tools, workflows, model and stores)
from a YAML or JSON file and lets you chat with it, inspect its actions and
visualize its workflows.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().StringP("config", "c", "copilot.yaml", "Path to the copilot definition")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
}
