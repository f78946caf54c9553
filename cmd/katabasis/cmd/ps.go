package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/katabasis-sandbox/katabasis/pkg/domain"
)

var psSpawn int

var psCmd = &cobra.Command{
	Use:   "ps",
	Short: "List sandboxes in the kernel",
	Long: `Spawn --spawn sandboxes (started), then print the registry listing.
Useful for eyeballing the listing format and the registry's bookkeeping.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		k := newKernel()
		defer k.close(ctx)

		for i := 0; i < psSpawn; i++ {
			spec := domain.SandboxSpec{Name: fmt.Sprintf("demo-%d", i)}
			id, err := k.sandboxes.Create(ctx, spec)
			if err != nil {
				fatal("Error creating sandbox: %v", err)
			}
			sb, err := k.sandboxes.Get(id)
			if err != nil {
				fatal("Error fetching sandbox: %v", err)
			}
			if err := sb.Start(ctx); err != nil {
				fatal("Error starting sandbox: %v", err)
			}
		}

		printSandboxes(k.sandboxes.List())
	},
}

func printSandboxes(infos []domain.SandboxInfo) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATE\tMEMORY\tCPU%\tAGE")
	for _, info := range infos {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%.1f\t%s\n",
			info.ID,
			info.Name,
			info.State,
			info.Usage.MemoryBytes,
			info.Usage.CPUPercent,
			time.Since(info.CreatedAt).Round(time.Millisecond),
		)
	}
	w.Flush()
}

func init() {
	rootCmd.AddCommand(psCmd)
	psCmd.Flags().IntVar(&psSpawn, "spawn", 1, "Sandboxes to spawn before listing")
}
