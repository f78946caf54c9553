package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/katabasis-sandbox/katabasis/pkg/domain"
)

var statusSpawn int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print registry and memory status",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		k := newKernel()
		defer k.close(ctx)

		for i := 0; i < statusSpawn; i++ {
			spawnStarted(ctx, k, fmt.Sprintf("status-demo-%d", i))
		}

		status := k.sandboxes.Status()
		fmt.Println("Sandboxes:")
		for _, state := range []domain.SandboxState{
			domain.StateCreated, domain.StateRunning, domain.StatePaused, domain.StateTerminated,
		} {
			fmt.Printf("  %s: %d\n", state, status.CountsPerState[state])
		}
		fmt.Printf("  terminated total: %d\n", status.TerminatedTotal)
		fmt.Printf("  memory: %d bytes\n", status.TotalMemoryBytes)
		fmt.Printf("  cpu: %.1f%%\n", status.TotalCPUPercent)

		mem := k.regions.Status()
		fmt.Println("Memory:")
		fmt.Printf("  regions: %d\n", mem.RegionCount)
		fmt.Printf("  live: %d bytes\n", mem.Stats.CurrentUsage())
		fmt.Printf("  allocations: %d\n", mem.Stats.AllocationCount)
		fmt.Printf("  deallocations: %d\n", mem.Stats.DeallocationCount)
		fmt.Printf("  reallocations: %d\n", mem.Stats.ReallocationCount)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().IntVar(&statusSpawn, "spawn", 0, "Sandboxes to spawn before reporting")
}
