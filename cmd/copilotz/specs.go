package main

import (
	"fmt"

	"github.com/aretw0/copilotz/internal/cli"
	"github.com/spf13/cobra"
)

var specsCmd = &cobra.Command{
	Use:   "specs",
	Short: "Print the action specs offered to the model",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		c, _, err := cli.Inspect(cmd.Context(), path)
		if err != nil {
			return err
		}
		defer c.Close(cmd.Context())

		for _, spec := range c.Specs() {
			fmt.Fprintln(cmd.OutOrStdout(), spec)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(specsCmd)
}
