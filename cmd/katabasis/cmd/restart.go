package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Walk a sandbox through terminate and restart",
	Long: `Terminate a running sandbox and restart it, printing the epoch
before and after. Restart opens a fresh epoch with zeroed usage.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		k := newKernel()
		defer k.close(ctx)

		sb, id := spawnStarted(ctx, k, "restart-demo")
		if err := sb.Terminate(ctx); err != nil {
			fatal("Error terminating sandbox: %v", err)
		}
		epochBefore := sb.Epoch()

		before := sb.State()
		if err := sb.Restart(ctx); err != nil {
			fatal("Error restarting sandbox: %v", err)
		}
		printTransition(id, before, sb.State())
		fmt.Printf("Epoch: %d -> %d\n", epochBefore, sb.Epoch())
	},
}

func init() {
	rootCmd.AddCommand(restartCmd)
}
