package main

import (
	"fmt"

	"github.com/aretw0/copilotz/internal/cli"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the copilot definition for consistency",
	Long: `Loads the definition, compiles every tool into actions and checks each
workflow for unknown steps and cycles.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		c, cfg, err := cli.Inspect(cmd.Context(), path)
		if err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}
		defer c.Close(cmd.Context())

		fmt.Fprintf(cmd.OutOrStdout(), "Copilot %q is valid: %d actions, %d workflows\n",
			cfg.Name, len(c.Actions()), len(cfg.Workflows))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
