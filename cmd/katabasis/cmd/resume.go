package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Walk a sandbox through pause and resume",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		k := newKernel()
		defer k.close(ctx)

		sb, id := spawnStarted(ctx, k, "resume-demo")
		if err := sb.Pause(ctx); err != nil {
			fatal("Error pausing sandbox: %v", err)
		}
		before := sb.State()
		if err := sb.Resume(ctx); err != nil {
			fatal("Error resuming sandbox: %v", err)
		}
		printTransition(id, before, sb.State())
	},
}

func init() {
	rootCmd.AddCommand(resumeCmd)
}
