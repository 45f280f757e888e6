package main

import (
	"context"
	"fmt"

	"github.com/aretw0/copilotz/internal/cli"
	"github.com/aretw0/copilotz/internal/presentation/graph"
	"github.com/aretw0/copilotz/pkg/domain"
	"github.com/spf13/cobra"
)

// graphCmd represents the graph command
var graphCmd = &cobra.Command{
	Use:   "graph [workflow]",
	Short: "Export the workflow visualization",
	Long: `Outputs a Mermaid diagram (graph TD) for each workflow of the definition,
or only for the named one. With --thread, the thread's active task is
highlighted using the configured task store.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		threadID, _ := cmd.Flags().GetString("thread")

		c, cfg, err := cli.Inspect(cmd.Context(), path)
		if err != nil {
			return err
		}
		defer c.Close(cmd.Context())

		var task *domain.Task
		if threadID != "" {
			if task, err = activeTask(cmd.Context(), path, threadID); err != nil {
				return err
			}
		}

		found := false
		for i := range cfg.Workflows {
			wf := &cfg.Workflows[i]
			if len(args) > 0 && wf.Name != args[0] {
				continue
			}
			found = true

			var overlay *graph.TaskOverlay
			if task != nil && task.Workflow == wf.Name {
				overlay = graph.OverlayFor(task)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%%%% workflow: %s\n", wf.Name)
			fmt.Fprint(cmd.OutOrStdout(), graph.GenerateMermaid(wf, overlay))
		}
		if len(args) > 0 && !found {
			return fmt.Errorf("unknown workflow %q", args[0])
		}
		return nil
	},
}

func activeTask(ctx context.Context, path, threadID string) (*domain.Task, error) {
	app, err := cli.Setup(ctx, cli.Options{ConfigPath: path, Chat: cli.OfflineChat()})
	if err != nil {
		return nil, err
	}
	defer app.Close(ctx)
	return app.Copilot.ActiveTask(ctx, threadID)
}

func init() {
	rootCmd.AddCommand(graphCmd)
	graphCmd.Flags().String("thread", "", "Highlight the active task of this thread")
}
