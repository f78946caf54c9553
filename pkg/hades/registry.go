package hades

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/katabasis-sandbox/katabasis/pkg/asphodel"
	"github.com/katabasis-sandbox/katabasis/pkg/domain"
	"github.com/katabasis-sandbox/katabasis/pkg/hermes"
	"github.com/katabasis-sandbox/katabasis/pkg/mnemosyne"
)

// ErrNotFound is returned when no sandbox has the requested id.
var ErrNotFound = errors.New("sandbox not found")

// Config holds the registry-wide defaults applied when a SandboxSpec
// leaves fields nil. Settable at runtime.
type Config struct {
	DefaultLimits       domain.ResourceLimits
	DefaultCapabilities domain.CapabilitySet
	DefaultWorkingDir   string
}

// DefaultConfig applies the stock resource limits, grants nothing, and
// works under /tmp.
func DefaultConfig() Config {
	return Config{
		DefaultLimits:     domain.DefaultResourceLimits(),
		DefaultWorkingDir: "/tmp",
	}
}

// Registry is the process-wide catalog of sandboxes. The registry mutex
// guards only the map itself; lifecycle transitions are serialized per
// sandbox, so driving one sandbox never blocks lookups of another.
// Construct one per subsystem instance; there is no ambient global.
type Registry struct {
	regions *mnemosyne.RegionRegistry
	logger  hermes.Logger
	metrics hermes.Metrics

	mu              sync.Mutex
	sandboxes       map[domain.SandboxID]*asphodel.Sandbox
	cfg             Config
	terminatedTotal int
}

// NewRegistry creates a sandbox registry. The region registry may be nil,
// in which case sandboxes run without backing memory regions.
func NewRegistry(regions *mnemosyne.RegionRegistry, cfg Config, logger hermes.Logger, metrics hermes.Metrics) *Registry {
	if logger == nil {
		logger = hermes.NewQuietAdapter()
	}
	if metrics == nil {
		metrics = hermes.NewNoopMetrics()
	}
	return &Registry{
		regions:   regions,
		logger:    logger,
		metrics:   metrics,
		sandboxes: make(map[domain.SandboxID]*asphodel.Sandbox),
		cfg:       cfg,
	}
}

// SetConfig swaps the registry defaults at runtime. Existing sandboxes
// keep the configuration they were created with.
func (r *Registry) SetConfig(cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg = cfg
}

// Config returns the current defaults.
func (r *Registry) Config() Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg
}

// Create registers a new sandbox in the Created state and returns its
// fresh id. Nil spec fields take the registry defaults. Concurrent
// callers always receive distinct ids.
func (r *Registry) Create(ctx context.Context, spec domain.SandboxSpec) (domain.SandboxID, error) {
	id := domain.SandboxID(uuid.NewString())

	r.mu.Lock()
	limits := r.cfg.DefaultLimits
	if spec.Limits != nil {
		limits = *spec.Limits
	}
	caps := r.cfg.DefaultCapabilities
	if spec.Capabilities != nil {
		caps = *spec.Capabilities
	}
	workingDir := r.cfg.DefaultWorkingDir
	if spec.WorkingDir != "" {
		workingDir = spec.WorkingDir
	}

	sandbox := asphodel.New(asphodel.Config{
		ID:           id,
		Name:         spec.Name,
		Limits:       limits,
		Capabilities: caps,
		WorkingDir:   workingDir,
		Regions:      r.regions,
		Logger:       r.logger,
		Metrics:      r.metrics,
	})

	if _, exists := r.sandboxes[id]; exists {
		// A uuid collision means the registry is corrupt; continuing
		// would hand two callers the same sandbox.
		panic(fmt.Sprintf("hades: duplicate sandbox id %s", id))
	}
	r.sandboxes[id] = sandbox
	count := len(r.sandboxes)
	r.mu.Unlock()

	r.metrics.SetGauge("katabasis_sandboxes", float64(count))
	r.logger.Info(ctx, "Sandbox created", map[string]any{
		"sandbox_id": string(id),
		"name":       spec.Name,
	})
	return id, nil
}

// Get returns the sandbox with the given id.
func (r *Registry) Get(id domain.SandboxID) (*asphodel.Sandbox, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sandbox, ok := r.sandboxes[id]
	if !ok {
		return nil, fmt.Errorf("id %s: %w", id, ErrNotFound)
	}
	return sandbox, nil
}

// List returns a read-only view of every registered sandbox.
func (r *Registry) List() []domain.SandboxInfo {
	snapshot := r.snapshot()
	infos := make([]domain.SandboxInfo, 0, len(snapshot))
	for _, sandbox := range snapshot {
		infos = append(infos, sandbox.Info())
	}
	return infos
}

// Remove deletes the sandbox from the catalog. A non-terminal sandbox is
// terminated first.
func (r *Registry) Remove(ctx context.Context, id domain.SandboxID) error {
	sandbox, err := r.Get(id)
	if err != nil {
		return err
	}

	// Terminate outside the registry lock; a long teardown must not block
	// unrelated lookups.
	if err := sandbox.Terminate(ctx); err != nil && !errors.Is(err, asphodel.ErrAlreadyTerminated) {
		return fmt.Errorf("terminating %s before removal: %w", id, err)
	}

	r.mu.Lock()
	if _, ok := r.sandboxes[id]; !ok {
		r.mu.Unlock()
		return fmt.Errorf("id %s: %w", id, ErrNotFound)
	}
	delete(r.sandboxes, id)
	r.terminatedTotal++
	count := len(r.sandboxes)
	r.mu.Unlock()

	r.metrics.SetGauge("katabasis_sandboxes", float64(count))
	r.logger.Info(ctx, "Sandbox removed", map[string]any{"sandbox_id": string(id)})
	return nil
}

// Status aggregates state counts and resource usage across the catalog.
func (r *Registry) Status() domain.RegistryStatus {
	snapshot := r.snapshot()

	status := domain.RegistryStatus{
		CountsPerState: map[domain.SandboxState]int{},
	}
	r.mu.Lock()
	status.TerminatedTotal = r.terminatedTotal
	r.mu.Unlock()

	for _, sandbox := range snapshot {
		status.CountsPerState[sandbox.State()]++
		usage := sandbox.UsageSnapshot()
		status.TotalMemoryBytes += usage.MemoryBytes
		status.TotalCPUPercent += usage.CPUPercent
	}
	return status
}

// StartAll starts every sandbox currently in the catalog, collecting
// per-id failures instead of aborting on the first.
func (r *Registry) StartAll(ctx context.Context) map[domain.SandboxID]error {
	return r.forEach(func(sandbox *asphodel.Sandbox) error {
		return sandbox.Start(ctx)
	})
}

// TerminateAll terminates every sandbox currently in the catalog,
// collecting per-id failures. Already-terminated sandboxes are not
// counted as failures.
func (r *Registry) TerminateAll(ctx context.Context) map[domain.SandboxID]error {
	return r.forEach(func(sandbox *asphodel.Sandbox) error {
		err := sandbox.Terminate(ctx)
		if errors.Is(err, asphodel.ErrAlreadyTerminated) {
			return nil
		}
		return err
	})
}

// Close terminates everything and empties the catalog.
func (r *Registry) Close(ctx context.Context) map[domain.SandboxID]error {
	failures := r.TerminateAll(ctx)

	r.mu.Lock()
	removed := len(r.sandboxes)
	r.sandboxes = make(map[domain.SandboxID]*asphodel.Sandbox)
	r.terminatedTotal += removed
	r.mu.Unlock()

	r.metrics.SetGauge("katabasis_sandboxes", 0)
	r.logger.Info(ctx, "Sandbox registry closed", map[string]any{"removed": removed})
	return failures
}

// snapshot copies the catalog under the lock so iteration happens without
// it. Per-sandbox locks are only taken inside the caller's loop body.
func (r *Registry) snapshot() map[domain.SandboxID]*asphodel.Sandbox {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[domain.SandboxID]*asphodel.Sandbox, len(r.sandboxes))
	for id, sandbox := range r.sandboxes {
		out[id] = sandbox
	}
	return out
}

func (r *Registry) forEach(op func(*asphodel.Sandbox) error) map[domain.SandboxID]error {
	failures := make(map[domain.SandboxID]error)
	for id, sandbox := range r.snapshot() {
		if err := op(sandbox); err != nil {
			failures[id] = err
		}
	}
	return failures
}
