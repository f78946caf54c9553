package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var terminateAll bool

var terminateCmd = &cobra.Command{
	Use:   "terminate",
	Short: "Walk a sandbox through termination",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		k := newKernel()
		defer k.close(ctx)

		sb, id := spawnStarted(ctx, k, "terminate-demo")

		if terminateAll {
			failures := k.sandboxes.TerminateAll(ctx)
			for fid, err := range failures {
				fmt.Printf("%s: %v\n", fid, err)
			}
			fmt.Printf("Terminated %d sandbox(es)\n", len(k.sandboxes.List())-len(failures))
			return
		}

		before := sb.State()
		if err := sb.Terminate(ctx); err != nil {
			fatal("Error terminating sandbox: %v", err)
		}
		printTransition(id, before, sb.State())
	},
}

func init() {
	rootCmd.AddCommand(terminateCmd)
	terminateCmd.Flags().BoolVar(&terminateAll, "all", false, "Terminate every sandbox in the registry")
}
