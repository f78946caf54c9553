package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/katabasis-sandbox/katabasis/pkg/config"
	"github.com/katabasis-sandbox/katabasis/pkg/domain"
	"github.com/katabasis-sandbox/katabasis/pkg/erinyes"
	"github.com/katabasis-sandbox/katabasis/pkg/hades"
	"github.com/katabasis-sandbox/katabasis/pkg/hermes"
	"github.com/katabasis-sandbox/katabasis/pkg/mnemosyne"
)

var (
	memLimit      uint64
	noProtection  bool
	noIsolation   bool
	watchInterval time.Duration
	quiet         bool
)

var rootCmd = &cobra.Command{
	Use:   "katabasis",
	Short: "Katabasis CLI",
	Long: `A developer harness around the katabasis sandbox kernel.

Each invocation provisions a fresh in-process kernel (region registry,
sandbox registry, breach watcher) and drives it through the requested
operation. Nothing persists between invocations.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().Uint64Var(&memLimit, "mem-limit", 0, "Total tracked memory budget in bytes (0 = unbounded)")
	rootCmd.PersistentFlags().BoolVar(&noProtection, "no-protection", false, "Disable protection flag enforcement")
	rootCmd.PersistentFlags().BoolVar(&noIsolation, "no-isolation", false, "Disable isolated region creation")
	rootCmd.PersistentFlags().DurationVar(&watchInterval, "watch-interval", 0, "Breach watcher poll interval (0 = from environment)")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "Suppress kernel logs")
}

// kernel bundles the subsystem objects a command drives.
type kernel struct {
	cfg       *config.Config
	logger    hermes.Logger
	metrics   hermes.Metrics
	regions   *mnemosyne.RegionRegistry
	sandboxes *hades.Registry
	fury      *erinyes.PollFury
}

func newKernel() *kernel {
	cfg := config.Load()
	if memLimit > 0 {
		cfg.MemoryLimit = memLimit
	}
	if noProtection {
		cfg.EnableProtection = false
	}
	if noIsolation {
		cfg.EnableIsolation = false
	}
	if watchInterval > 0 {
		cfg.WatchInterval = watchInterval
	}

	var logger hermes.Logger
	if quiet {
		logger = hermes.NewQuietAdapter()
	} else {
		handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)})
		logger = hermes.NewSlogAdapterFrom(slog.New(handler))
	}
	metrics := hermes.NewNoopMetrics()

	alloc := mnemosyne.NewAllocator(metrics)
	regions := mnemosyne.NewRegionRegistry(alloc, cfg.MemoryConfig(), logger, metrics)
	sandboxes := hades.NewRegistry(regions, hades.Config{
		DefaultLimits:       cfg.DefaultLimits(),
		DefaultCapabilities: domain.NewCapabilitySet(domain.CapabilityFilesystem),
		DefaultWorkingDir:   cfg.DefaultWorkingDir,
	}, logger, metrics)

	sampler, err := erinyes.NewProcessSampler()
	if err != nil {
		logger.Warn(context.Background(), "Host sampling unavailable", map[string]any{"error": err.Error()})
		sampler = nil
	}
	var hostSampler erinyes.Sampler
	if sampler != nil {
		hostSampler = sampler
	}
	fury := erinyes.NewPollFury(logger, metrics, hostSampler, cfg.WatchInterval)

	return &kernel{
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
		regions:   regions,
		sandboxes: sandboxes,
		fury:      fury,
	}
}

func (k *kernel) close(ctx context.Context) {
	k.sandboxes.Close(ctx)
	k.regions.Close(ctx)
}

func parseLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
