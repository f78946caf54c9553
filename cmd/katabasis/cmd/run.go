package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/katabasis-sandbox/katabasis/pkg/asphodel"
	"github.com/katabasis-sandbox/katabasis/pkg/domain"
)

var (
	runName    string
	runMem     uint64
	runCPU     float64
	runNetBPS  uint64
	runFS      uint64
	runTimeout time.Duration
	runCaps    []string
	runWorkdir string
	runHold    time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run [workload]",
	Short: "Run a demo workload in a fresh sandbox",
	Long: `Create a sandbox, start it, execute one of the built-in workloads
under the breach watcher, print the result, and terminate.

Workloads:
  sleep   idle for --hold (default 100ms), exercising the watcher
  touch   write a marker file into the working directory
  fill    write into the sandbox's default memory region
  stream  push --net-bps worth of bytes through the network throttle`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		workload, err := buildWorkload(args[0])
		if err != nil {
			fatal("Unknown workload: %v", err)
		}

		ctx := context.Background()
		k := newKernel()
		defer k.close(ctx)

		spec := domain.SandboxSpec{Name: runName, WorkingDir: runWorkdir}
		if runMem > 0 || runCPU > 0 || runNetBPS > 0 || runFS > 0 || runTimeout > 0 {
			spec.Limits = &domain.ResourceLimits{
				MemoryBytes:        runMem,
				CPUPercent:         runCPU,
				NetworkBytesPerSec: runNetBPS,
				FilesystemBytes:    runFS,
				ExecutionTime:      runTimeout,
			}
		}
		if len(runCaps) > 0 {
			set, err := parseCapabilities(runCaps)
			if err != nil {
				fatal("Invalid capability: %v", err)
			}
			spec.Capabilities = &set
		}

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
		if err := k.fury.Arm(ctx, sb, nil); err != nil {
			fatal("Error arming watcher: %v", err)
		}
		defer k.fury.Disarm(id)

		result, err := sb.Execute(ctx, workload)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Workload failed: %v\n", err)
			_ = sb.Terminate(ctx)
			os.Exit(1)
		}

		if runHold > 0 {
			time.Sleep(runHold)
		}

		usage := sb.UsageSnapshot()
		fmt.Printf("Sandbox: %s\n", id)
		fmt.Printf("Output: %s\n", result.Output)
		fmt.Printf("Duration: %s\n", result.Duration.Round(time.Microsecond))
		fmt.Printf("Memory: %d bytes\n", usage.MemoryBytes)
		fmt.Printf("Network: %d bytes\n", usage.NetworkBytes)
		fmt.Printf("Filesystem: %d bytes\n", usage.FilesystemBytes)

		if err := sb.Terminate(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error terminating sandbox: %v\n", err)
		}
	},
}

func buildWorkload(name string) (asphodel.Workload, error) {
	switch name {
	case "sleep":
		return asphodel.Workload{
			Name: "sleep",
			Run: func(ctx context.Context, env *asphodel.ExecEnv) (string, error) {
				d := runHold
				if d <= 0 {
					d = 100 * time.Millisecond
				}
				select {
				case <-ctx.Done():
					return "", ctx.Err()
				case <-time.After(d):
					return "slept " + d.String(), nil
				}
			},
		}, nil
	case "touch":
		return asphodel.Workload{
			Name:     "touch",
			Requires: domain.NewCapabilitySet(domain.CapabilityFilesystem),
			Run: func(ctx context.Context, env *asphodel.ExecEnv) (string, error) {
				path := filepath.Join(env.WorkingDir(), "katabasis.marker")
				payload := []byte(time.Now().Format(time.RFC3339Nano))
				if err := os.MkdirAll(env.WorkingDir(), 0o755); err != nil {
					return "", err
				}
				if err := os.WriteFile(path, payload, 0o644); err != nil {
					return "", err
				}
				env.RecordFilesystem(uint64(len(payload)))
				return "wrote " + path, nil
			},
		}, nil
	case "fill":
		return asphodel.Workload{
			Name: "fill",
			Run: func(ctx context.Context, env *asphodel.ExecEnv) (string, error) {
				regions := env.Regions()
				if len(regions) == 0 {
					return "", fmt.Errorf("no region bound")
				}
				region := regions[0]
				buf := make([]byte, 4096)
				for i := range buf {
					buf[i] = byte(i)
				}
				if err := region.WriteAt(0, buf); err != nil {
					return "", err
				}
				env.RecordMemory(uint64(len(buf)))
				return fmt.Sprintf("filled %d bytes at %#x", len(buf), uint64(region.Addr())), nil
			},
		}, nil
	case "stream":
		return asphodel.Workload{
			Name:     "stream",
			Requires: domain.NewCapabilitySet(domain.CapabilityNetwork),
			Run: func(ctx context.Context, env *asphodel.ExecEnv) (string, error) {
				total := runNetBPS
				if total == 0 {
					total = 64 * 1024
				}
				if err := env.ConsumeNetwork(ctx, total); err != nil {
					return "", err
				}
				return fmt.Sprintf("streamed %d bytes", total), nil
			},
		}, nil
	default:
		return asphodel.Workload{}, fmt.Errorf("%q (want sleep, touch, fill, or stream)", name)
	}
}

func parseCapabilities(names []string) (domain.CapabilitySet, error) {
	var set domain.CapabilitySet
	for _, name := range names {
		c, err := domain.ParseCapability(name)
		if err != nil {
			return set, err
		}
		set = set.With(c)
	}
	return set, nil
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runName, "name", "cli", "Sandbox name")
	runCmd.Flags().Uint64Var(&runMem, "mem", 0, "Memory limit in bytes (0 = registry default)")
	runCmd.Flags().Float64Var(&runCPU, "cpu", 0, "CPU limit in percent")
	runCmd.Flags().Uint64Var(&runNetBPS, "net-bps", 0, "Network bandwidth limit in bytes/sec")
	runCmd.Flags().Uint64Var(&runFS, "fs", 0, "Filesystem usage limit in bytes")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "Execution time limit")
	runCmd.Flags().StringSliceVar(&runCaps, "cap", nil, "Granted capability (repeatable)")
	runCmd.Flags().StringVar(&runWorkdir, "workdir", "", "Working directory (default registry setting)")
	runCmd.Flags().DurationVar(&runHold, "hold", 0, "Keep the sandbox alive after the workload")
}
