package main

import (
	"os"
	"strings"

	"github.com/aretw0/copilotz"
	"github.com/aretw0/copilotz/internal/cli"
	"github.com/aretw0/copilotz/internal/presentation/tui"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the copilot",
	Long: `Starts an interactive chat. Each line is one user message. Use --thread to
resume a conversation and its tasks, and --json for NDJSON input and output.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		debug, _ := cmd.Flags().GetBool("debug")
		threadID, _ := cmd.Flags().GetString("thread")
		jsonMode, _ := cmd.Flags().GetBool("json")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

		sigCtx := cli.NewSignalContext(cmd.Context())
		defer sigCtx.Cancel()

		app, err := cli.Setup(sigCtx, cli.Options{
			ConfigPath:  path,
			Debug:       debug,
			MetricsAddr: metricsAddr,
		})
		if err != nil {
			return err
		}
		defer func() {
			if err := app.Close(sigCtx); err != nil {
				app.Logger.Error("Failed to close copilot", "err", err)
			}
		}()

		if threadID == "" {
			threadID = uuid.NewString()
		}

		opts := cli.ChatOptions{
			ThreadID:      threadID,
			JSON:          jsonMode,
			ShowFunctions: debug,
			In:            os.Stdin,
			Out:           cmd.OutOrStdout(),
		}
		if !jsonMode && term.IsTerminal(int(os.Stdout.Fd())) {
			tui.PrintBanner(opts.Out, app.Config.Name, strings.TrimSpace(copilotz.Version))
			opts.Render = tui.NewRenderer()
		}

		err = cli.RunChat(sigCtx, app.Copilot, opts)
		if sig := sigCtx.Signal(); sig != nil {
			app.Logger.Info("Interrupted", "signal", sig.String(), "thread_id", threadID)
		}
		return cli.HandleExecutionError(err)
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)

	chatCmd.Flags().StringP("thread", "t", "", "Thread id to resume (random when empty)")
	chatCmd.Flags().Bool("json", false, "Run in JSON mode (NDJSON input/output)")
	chatCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address")

	// chat is the default command
	rootCmd.RunE = chatCmd.RunE
	rootCmd.Flags().AddFlagSet(chatCmd.Flags())
}
