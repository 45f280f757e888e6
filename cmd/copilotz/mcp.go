package main

import (
	"os"

	"github.com/aretw0/copilotz/internal/cli"
	"github.com/aretw0/copilotz/pkg/adapters/mcp"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the copilot as a Model Context Protocol server over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		debug, _ := cmd.Flags().GetBool("debug")

		sigCtx := cli.NewSignalContext(cmd.Context())
		defer sigCtx.Cancel()

		app, err := cli.Setup(sigCtx, cli.Options{ConfigPath: path, Debug: debug})
		if err != nil {
			return err
		}
		defer app.Close(sigCtx)

		srv := mcp.NewServer(app.Copilot, app.Config.Name, mcp.WithLogger(app.Logger))
		app.Logger.Info("Serving MCP over stdio", "copilot", app.Config.Name)
		return cli.HandleExecutionError(srv.Serve(sigCtx, os.Stdin, os.Stdout))
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
