package mnemosyne

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/katabasis-sandbox/katabasis/pkg/domain"
	"github.com/katabasis-sandbox/katabasis/pkg/hermes"
)

// MemoryConfig controls registry-wide behavior. Settable at runtime; the
// toggles take effect on the next call without re-initialization.
type MemoryConfig struct {
	// MemoryLimit caps the total size of registered regions, in bytes.
	// Zero means unbounded.
	MemoryLimit uint64 `json:"memory_limit"`
	// EnableProtection gates range validation in SetProtection. When off,
	// SetProtection always succeeds: an explicit escape hatch for trusted
	// contexts and tests.
	EnableProtection bool `json:"enable_protection"`
	// EnableIsolation gates CreateIsolatedRegion.
	EnableIsolation bool `json:"enable_isolation"`
}

// DefaultMemoryConfig enables everything and leaves the limit unbounded.
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		EnableProtection: true,
		EnableIsolation:  true,
	}
}

// MemoryStatus is the registry's aggregate report.
type MemoryStatus struct {
	Stats       AllocatorStats `json:"stats"`
	RegionCount int            `json:"region_count"`
}

// RegionRegistry is the process-wide catalog of memory regions, keyed by
// base address. Invariant: no two registered regions overlap. Construct
// one per subsystem instance and pass it by handle; there is no ambient
// global.
type RegionRegistry struct {
	alloc *Allocator

	mu      sync.Mutex
	regions map[domain.Address]domain.MemoryRegion
	owned   map[domain.Address]*ProtectedRegion
	cfg     MemoryConfig

	logger  hermes.Logger
	metrics hermes.Metrics
}

// NewRegionRegistry creates a registry over the given allocator.
func NewRegionRegistry(alloc *Allocator, cfg MemoryConfig, logger hermes.Logger, metrics hermes.Metrics) *RegionRegistry {
	if logger == nil {
		logger = hermes.NewQuietAdapter()
	}
	if metrics == nil {
		metrics = hermes.NewNoopMetrics()
	}
	return &RegionRegistry{
		alloc:   alloc,
		regions: make(map[domain.Address]domain.MemoryRegion),
		owned:   make(map[domain.Address]*ProtectedRegion),
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
	}
}

// Allocator exposes the underlying allocator for callers that manage raw
// blocks directly.
func (rr *RegionRegistry) Allocator() *Allocator {
	return rr.alloc
}

// SetConfig swaps the registry configuration at runtime.
func (rr *RegionRegistry) SetConfig(cfg MemoryConfig) {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	rr.cfg = cfg
}

// Config returns the current configuration.
func (rr *RegionRegistry) Config() MemoryConfig {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	return rr.cfg
}

// Register records a region descriptor. Fails with ErrInvalidSize on a
// zero-size region, ErrRegionAlreadyExists when the base is taken or the
// range intersects any registered region, and ErrOutOfMemory when the
// configured memory limit would be exceeded.
func (rr *RegionRegistry) Register(ctx context.Context, region domain.MemoryRegion) error {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	return rr.registerLocked(ctx, region)
}

func (rr *RegionRegistry) registerLocked(ctx context.Context, region domain.MemoryRegion) error {
	if region.Size == 0 {
		return fmt.Errorf("region %q: %w", region.Name, ErrInvalidSize)
	}
	if region.Size > math.MaxUint64-uint64(region.Base) {
		// A wrapped End() would defeat the overlap and containment checks.
		return fmt.Errorf("region %q range [%#x, +%d) wraps the address space: %w",
			region.Name, uint64(region.Base), region.Size, ErrInvalidAddress)
	}
	if _, ok := rr.regions[region.Base]; ok {
		return fmt.Errorf("base %#x: %w", uint64(region.Base), ErrRegionAlreadyExists)
	}
	for _, existing := range rr.regions {
		if existing.Overlaps(region) {
			return fmt.Errorf("range [%#x, %#x) intersects %s: %w",
				uint64(region.Base), uint64(region.End()), existing, ErrRegionAlreadyExists)
		}
	}
	if rr.cfg.MemoryLimit > 0 {
		total := region.Size
		for _, existing := range rr.regions {
			total += existing.Size
		}
		if total > rr.cfg.MemoryLimit {
			return fmt.Errorf("registering %d bytes exceeds limit %d: %w",
				region.Size, rr.cfg.MemoryLimit, ErrOutOfMemory)
		}
	}

	rr.regions[region.Base] = region
	rr.metrics.SetGauge("katabasis_memory_regions", float64(len(rr.regions)))
	rr.logger.Info(ctx, "Registered memory region", map[string]any{
		"base": fmt.Sprintf("%#x", uint64(region.Base)),
		"size": region.Size,
		"name": region.Name,
	})
	return nil
}

// Find returns the unique region whose range contains addr.
func (rr *RegionRegistry) Find(addr domain.Address) (domain.MemoryRegion, bool) {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	for _, region := range rr.regions {
		if region.Contains(addr) {
			return region, true
		}
	}
	return domain.MemoryRegion{}, false
}

// Unregister removes the region with the given base and returns its
// descriptor. Fails with ErrRegionNotFound if absent.
func (rr *RegionRegistry) Unregister(ctx context.Context, base domain.Address) (domain.MemoryRegion, error) {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	region, ok := rr.regions[base]
	if !ok {
		return domain.MemoryRegion{}, fmt.Errorf("base %#x: %w", uint64(base), ErrRegionNotFound)
	}
	delete(rr.regions, base)
	delete(rr.owned, base)
	rr.metrics.SetGauge("katabasis_memory_regions", float64(len(rr.regions)))
	rr.logger.Info(ctx, "Unregistered memory region", map[string]any{
		"base": fmt.Sprintf("%#x", uint64(base)),
		"name": region.Name,
	})
	return region, nil
}

// SetProtection replaces the flags of the registered range. The requested
// range must be fully contained within a single registered region, unless
// protection is configured off, in which case the call always succeeds.
func (rr *RegionRegistry) SetProtection(base domain.Address, length uint64, flags domain.ProtectionFlags) error {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	if !rr.cfg.EnableProtection {
		return nil
	}

	var target domain.MemoryRegion
	found := false
	for _, region := range rr.regions {
		if region.Contains(base) {
			target = region
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("no region contains %#x: %w", uint64(base), ErrInvalidAddress)
	}
	end := base + domain.Address(length)
	if end < base || end > target.End() {
		return fmt.Errorf("range [%#x, %#x) escapes %s: %w",
			uint64(base), uint64(end), target, ErrInvalidAddress)
	}

	target.Protection = flags
	rr.regions[target.Base] = target
	if owned, ok := rr.owned[target.Base]; ok {
		owned.setProtection(flags)
	}
	return nil
}

// CreateIsolatedRegion allocates a protected region and registers it
// atomically. Fails with ErrIsolationDisabled when isolation is configured
// off. On registration failure the backing storage is released.
func (rr *RegionRegistry) CreateIsolatedRegion(ctx context.Context, size uint64, flags domain.ProtectionFlags, name string) (*ProtectedRegion, error) {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	if !rr.cfg.EnableIsolation {
		return nil, ErrIsolationDisabled
	}

	region, err := NewProtectedRegion(rr.alloc, size, flags, name)
	if err != nil {
		return nil, err
	}
	if err := rr.registerLocked(ctx, region.Region()); err != nil {
		region.Release()
		return nil, err
	}
	rr.owned[region.Addr()] = region
	return region, nil
}

// ReleaseRegion unregisters the region and returns its storage to the
// allocator. This is the sole teardown path for an isolated region: the
// descriptor leaves the catalog first, then the buffer is freed.
func (rr *RegionRegistry) ReleaseRegion(ctx context.Context, region *ProtectedRegion) error {
	if _, err := rr.Unregister(ctx, region.Addr()); err != nil {
		return err
	}
	region.Release()
	return nil
}

// Regions returns a snapshot of every registered descriptor, ordered by
// base address.
func (rr *RegionRegistry) Regions() []domain.MemoryRegion {
	rr.mu.Lock()
	out := make([]domain.MemoryRegion, 0, len(rr.regions))
	for _, region := range rr.regions {
		out = append(out, region)
	}
	rr.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Base < out[j].Base })
	return out
}

// Status reports allocator stats plus the live region count.
func (rr *RegionRegistry) Status() MemoryStatus {
	rr.mu.Lock()
	count := len(rr.regions)
	rr.mu.Unlock()

	return MemoryStatus{
		Stats:       rr.alloc.Stats(),
		RegionCount: count,
	}
}

// Close tears the registry down, releasing every region it owns.
func (rr *RegionRegistry) Close(ctx context.Context) {
	rr.mu.Lock()
	owned := make([]*ProtectedRegion, 0, len(rr.owned))
	for _, region := range rr.owned {
		owned = append(owned, region)
	}
	rr.regions = make(map[domain.Address]domain.MemoryRegion)
	rr.owned = make(map[domain.Address]*ProtectedRegion)
	rr.mu.Unlock()

	for _, region := range owned {
		region.Release()
	}
	rr.metrics.SetGauge("katabasis_memory_regions", 0)
	rr.logger.Info(ctx, "Region registry closed", map[string]any{
		"released": len(owned),
	})
}
