package main

import (
	"fmt"
	"strings"

	"github.com/aretw0/copilotz"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of copilotz",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "copilotz version %s\n", strings.TrimSpace(copilotz.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
