package asphodel

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/katabasis-sandbox/katabasis/pkg/domain"
	"github.com/katabasis-sandbox/katabasis/pkg/mnemosyne"
)

// Workload is a unit of guest code to run inside a sandbox. Requires
// declares every capability the work needs; execution is refused before
// Run is called if any of them is missing from the sandbox's grant.
type Workload struct {
	Name     string
	Requires domain.CapabilitySet
	Run      func(ctx context.Context, env *ExecEnv) (string, error)
}

// ExecResult describes a completed execution.
type ExecResult struct {
	Output   string        `json:"output"`
	Duration time.Duration `json:"duration"`
	Epoch    uint64        `json:"epoch"`
}

// ExecEnv is the view of the sandbox a workload runs against. All methods
// are safe for concurrent use; the env stays valid for the duration of
// one Run call.
type ExecEnv struct {
	workingDir string
	regions    []*mnemosyne.ProtectedRegion
	throttle   *rate.Limiter
	counters   *usageCounters
}

// WorkingDir is the sandbox's working directory.
func (e *ExecEnv) WorkingDir() string {
	return e.workingDir
}

// Regions returns the protected regions bound to the sandbox at the time
// execution started.
func (e *ExecEnv) Regions() []*mnemosyne.ProtectedRegion {
	return e.regions
}

// ConsumeNetwork accounts for n bytes of network traffic, waiting on the
// sandbox's bandwidth throttle when one is configured.
func (e *ExecEnv) ConsumeNetwork(ctx context.Context, n uint64) error {
	if e.throttle != nil {
		burst := e.throttle.Burst()
		remaining := n
		for remaining > 0 {
			chunk := remaining
			if chunk > uint64(burst) {
				chunk = uint64(burst)
			}
			if err := e.throttle.WaitN(ctx, int(chunk)); err != nil {
				return fmt.Errorf("network throttle: %w", err)
			}
			remaining -= chunk
		}
	}
	e.counters.networkBytes.Add(n)
	return nil
}

// RecordMemory accounts for n bytes of guest heap the workload is holding
// beyond its protected regions.
func (e *ExecEnv) RecordMemory(n uint64) {
	e.counters.memoryBytes.Add(n)
}

// RecordFilesystem accounts for n bytes written under the working
// directory.
func (e *ExecEnv) RecordFilesystem(n uint64) {
	e.counters.filesystemBytes.Add(n)
}

// usageCounters accumulate consumption for one execution epoch. Reset on
// restart.
type usageCounters struct {
	memoryBytes     atomic.Uint64
	networkBytes    atomic.Uint64
	filesystemBytes atomic.Uint64
	execNanos       atomic.Int64
	cpuPercent      atomic.Uint64 // math.Float64bits
}

func (c *usageCounters) reset() {
	c.memoryBytes.Store(0)
	c.networkBytes.Store(0)
	c.filesystemBytes.Store(0)
	c.execNanos.Store(0)
	c.cpuPercent.Store(0)
}
