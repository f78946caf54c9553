package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Walk a sandbox through a pause",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		k := newKernel()
		defer k.close(ctx)

		sb, id := spawnStarted(ctx, k, "pause-demo")
		before := sb.State()
		if err := sb.Pause(ctx); err != nil {
			fatal("Error pausing sandbox: %v", err)
		}
		printTransition(id, before, sb.State())
	},
}

func init() {
	rootCmd.AddCommand(pauseCmd)
}
