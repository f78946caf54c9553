package asphodel

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/katabasis-sandbox/katabasis/pkg/cerberus"
	"github.com/katabasis-sandbox/katabasis/pkg/domain"
	"github.com/katabasis-sandbox/katabasis/pkg/hermes"
	"github.com/katabasis-sandbox/katabasis/pkg/mnemosyne"
)

// defaultRegionSize is the main region allocated on first start when the
// sandbox has no regions bound.
const defaultRegionSize = 1 << 20

// Config carries everything a sandbox needs at construction. The registry
// is the only caller expected to build one.
type Config struct {
	ID           domain.SandboxID
	Name         string
	Limits       domain.ResourceLimits
	Capabilities domain.CapabilitySet
	WorkingDir   string

	// Regions, when set, backs the sandbox's default region and owns
	// region teardown on terminate.
	Regions *mnemosyne.RegionRegistry

	Logger  hermes.Logger
	Metrics hermes.Metrics
}

// Sandbox is one isolated execution context. Lifecycle transitions are
// serialized by a per-sandbox mutex; Execute drops that mutex while guest
// code runs so long workloads never block lifecycle queries.
type Sandbox struct {
	id         domain.SandboxID
	name       string
	limits     domain.ResourceLimits
	gate       *cerberus.Gate
	workingDir string
	regions    *mnemosyne.RegionRegistry
	throttle   *rate.Limiter
	logger     hermes.Logger
	metrics    hermes.Metrics
	createdAt  time.Time

	mu          sync.Mutex
	state       domain.SandboxState
	epoch       uint64
	epochCtx    context.Context
	epochCancel context.CancelFunc
	owned       []*mnemosyne.ProtectedRegion
	counters    usageCounters
	startedAt   time.Time
}

// New constructs a sandbox in the Created state.
func New(cfg Config) *Sandbox {
	logger := cfg.Logger
	if logger == nil {
		logger = hermes.NewQuietAdapter()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = hermes.NewNoopMetrics()
	}

	var throttle *rate.Limiter
	if cfg.Limits.NetworkBytesPerSec > 0 {
		burst := cfg.Limits.NetworkBytesPerSec
		if burst > math.MaxInt32 {
			burst = math.MaxInt32
		}
		throttle = rate.NewLimiter(rate.Limit(cfg.Limits.NetworkBytesPerSec), int(burst))
	}

	return &Sandbox{
		id:         cfg.ID,
		name:       cfg.Name,
		limits:     cfg.Limits,
		gate:       cerberus.NewGate(cfg.ID, cfg.Capabilities, logger, metrics),
		workingDir: cfg.WorkingDir,
		regions:    cfg.Regions,
		throttle:   throttle,
		logger:     logger,
		metrics:    metrics,
		createdAt:  time.Now(),
		state:      domain.StateCreated,
	}
}

// ID returns the sandbox id.
func (s *Sandbox) ID() domain.SandboxID {
	return s.id
}

// State returns the current lifecycle state.
func (s *Sandbox) State() domain.SandboxState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Epoch returns the current execution epoch. It starts at 0 and
// increments on every restart.
func (s *Sandbox) Epoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

// StartedAt returns when the current epoch opened; zero before first
// start.
func (s *Sandbox) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// Limits returns the configured bounds.
func (s *Sandbox) Limits() domain.ResourceLimits {
	return s.limits
}

// HasCapability reports whether c was granted at creation time.
func (s *Sandbox) HasCapability(c domain.Capability) bool {
	return s.gate.Has(c)
}

// Start moves the sandbox from Created to Running and opens the first
// execution epoch.
func (s *Sandbox) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case domain.StateCreated:
	case domain.StateRunning:
		return fmt.Errorf("sandbox %s: %w", s.id, ErrAlreadyRunning)
	case domain.StatePaused:
		return fmt.Errorf("sandbox %s is paused, resume instead: %w", s.id, ErrAlreadyRunning)
	case domain.StateTerminated:
		return fmt.Errorf("sandbox %s: %w", s.id, ErrAlreadyTerminated)
	}

	if err := s.openEpochLocked(ctx); err != nil {
		return err
	}
	s.state = domain.StateRunning
	s.logger.Info(ctx, "Sandbox started", map[string]any{
		"sandbox_id": string(s.id),
		"epoch":      s.epoch,
	})
	return nil
}

// Pause moves a Running sandbox to Paused. In-flight executions are not
// interrupted; new ones are refused until resume.
func (s *Sandbox) Pause(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != domain.StateRunning {
		return fmt.Errorf("sandbox %s in state %s: %w", s.id, s.state, ErrNotRunning)
	}
	s.state = domain.StatePaused
	s.logger.Info(ctx, "Sandbox paused", map[string]any{"sandbox_id": string(s.id)})
	return nil
}

// Resume moves a Paused sandbox back to Running.
func (s *Sandbox) Resume(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != domain.StatePaused {
		return fmt.Errorf("sandbox %s in state %s: %w", s.id, s.state, ErrNotPaused)
	}
	s.state = domain.StateRunning
	s.logger.Info(ctx, "Sandbox resumed", map[string]any{"sandbox_id": string(s.id)})
	return nil
}

// Terminate ends the current epoch from any non-terminal state. It cancels
// the epoch context to signal in-flight work (best effort, no forced
// preemption) and releases the sandbox's regions. Exactly one concurrent
// caller wins; the rest get ErrAlreadyTerminated and no duplicate event.
func (s *Sandbox) Terminate(ctx context.Context) error {
	s.mu.Lock()
	if s.state == domain.StateTerminated {
		s.mu.Unlock()
		return fmt.Errorf("sandbox %s: %w", s.id, ErrAlreadyTerminated)
	}
	s.state = domain.StateTerminated
	if s.epochCancel != nil {
		s.epochCancel()
		s.epochCancel = nil
	}
	owned := s.owned
	s.owned = nil
	s.mu.Unlock()

	for _, region := range owned {
		s.releaseRegion(ctx, region)
	}

	s.logger.Info(ctx, "Sandbox terminated", map[string]any{"sandbox_id": string(s.id)})
	s.metrics.IncCounter("katabasis_sandbox_terminations_total", 1)
	return nil
}

// Restart opens a fresh execution epoch on a Terminated sandbox: usage
// counters reset, regions are re-bound, state goes straight to Running.
func (s *Sandbox) Restart(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != domain.StateTerminated {
		return fmt.Errorf("sandbox %s in state %s: %w", s.id, s.state, ErrNotTerminated)
	}

	s.epoch++
	s.counters.reset()
	if err := s.openEpochLocked(ctx); err != nil {
		return err
	}
	s.state = domain.StateRunning
	s.logger.Info(ctx, "Sandbox restarted", map[string]any{
		"sandbox_id": string(s.id),
		"epoch":      s.epoch,
	})
	return nil
}

// BindRegion attaches an already-created protected region to the sandbox.
// The sandbox takes ownership: the region is released on terminate.
func (s *Sandbox) BindRegion(region *mnemosyne.ProtectedRegion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == domain.StateTerminated {
		return fmt.Errorf("sandbox %s: %w", s.id, ErrAlreadyTerminated)
	}
	s.owned = append(s.owned, region)
	return nil
}

// Execute runs a workload in the sandbox. Valid only while Running. The
// capability check happens before any guest code runs and a denial leaves
// all state untouched. The lifecycle lock is released for the duration of
// the guest call; termination and the execution-time limit cancel the
// workload's context.
func (s *Sandbox) Execute(ctx context.Context, w Workload) (ExecResult, error) {
	s.mu.Lock()
	if s.state != domain.StateRunning {
		state := s.state
		s.mu.Unlock()
		return ExecResult{}, fmt.Errorf("sandbox %s in state %s: %w", s.id, state, ErrNotRunning)
	}
	if err := s.gate.Check(ctx, w.Requires); err != nil {
		s.mu.Unlock()
		return ExecResult{}, err
	}

	epoch := s.epoch
	epochCtx := s.epochCtx
	env := &ExecEnv{
		workingDir: s.workingDir,
		regions:    append([]*mnemosyne.ProtectedRegion(nil), s.owned...),
		throttle:   s.throttle,
		counters:   &s.counters,
	}
	s.mu.Unlock()

	var runCtx context.Context
	var cancel context.CancelFunc
	if s.limits.ExecutionTime > 0 {
		runCtx, cancel = context.WithTimeout(ctx, s.limits.ExecutionTime)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()
	stop := context.AfterFunc(epochCtx, cancel)
	defer stop()

	start := time.Now()
	output, runErr := w.Run(runCtx, env)
	duration := time.Since(start)

	s.mu.Lock()
	if s.epoch == epoch {
		s.counters.execNanos.Add(duration.Nanoseconds())
	}
	s.mu.Unlock()

	s.metrics.ObserveHistogram("katabasis_sandbox_exec_seconds", duration.Seconds(),
		hermes.Label{Key: "workload", Value: w.Name})

	result := ExecResult{Output: output, Duration: duration, Epoch: epoch}
	if runErr != nil {
		if s.limits.ExecutionTime > 0 && errors.Is(runErr, context.DeadlineExceeded) {
			return result, fmt.Errorf("workload %s exceeded execution time %s: %w",
				w.Name, s.limits.ExecutionTime, ErrResourceLimitExceeded)
		}
		return result, fmt.Errorf("workload %s: %w", w.Name, runErr)
	}
	return result, nil
}

// RecordCPU stores the latest sampled CPU share for this sandbox.
func (s *Sandbox) RecordCPU(percent float64) {
	s.counters.cpuPercent.Store(math.Float64bits(percent))
}

// UsageSnapshot returns the resources consumed in the current epoch.
// Memory counts the bound protected regions plus recorded guest heap.
func (s *Sandbox) UsageSnapshot() domain.ResourceUsage {
	s.mu.Lock()
	var regionBytes uint64
	for _, region := range s.owned {
		regionBytes += region.Region().Size
	}
	s.mu.Unlock()

	return domain.ResourceUsage{
		MemoryBytes:     regionBytes + s.counters.memoryBytes.Load(),
		CPUPercent:      math.Float64frombits(s.counters.cpuPercent.Load()),
		NetworkBytes:    s.counters.networkBytes.Load(),
		FilesystemBytes: s.counters.filesystemBytes.Load(),
		Elapsed:         time.Duration(s.counters.execNanos.Load()),
	}
}

// Info returns a read-only view for external consumers.
func (s *Sandbox) Info() domain.SandboxInfo {
	s.mu.Lock()
	state := s.state
	epoch := s.epoch
	s.mu.Unlock()

	return domain.SandboxInfo{
		ID:           s.id,
		Name:         s.name,
		State:        state,
		Limits:       s.limits,
		Capabilities: s.gate.Granted(),
		WorkingDir:   s.workingDir,
		Usage:        s.UsageSnapshot(),
		Epoch:        epoch,
		CreatedAt:    s.createdAt,
	}
}

// openEpochLocked provisions the epoch context and the default region.
// Caller holds s.mu.
func (s *Sandbox) openEpochLocked(ctx context.Context) error {
	s.epochCtx, s.epochCancel = context.WithCancel(context.Background())
	s.startedAt = time.Now()

	if s.regions != nil && len(s.owned) == 0 {
		name := fmt.Sprintf("sandbox_%s_main", s.id)
		region, err := s.regions.CreateIsolatedRegion(ctx, defaultRegionSize, domain.ReadWrite(), name)
		if err != nil {
			s.epochCancel()
			s.epochCancel = nil
			return fmt.Errorf("provisioning main region: %w", err)
		}
		s.owned = append(s.owned, region)
	}
	return nil
}

func (s *Sandbox) releaseRegion(ctx context.Context, region *mnemosyne.ProtectedRegion) {
	if s.regions != nil {
		if err := s.regions.ReleaseRegion(ctx, region); err == nil {
			return
		}
	}
	region.Release()
}
