package erinyes

import (
	"context"
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v3/process"
)

// HostSample is one observation of the hosting process.
type HostSample struct {
	CPUPercent  float64
	MemoryBytes uint64
}

// Sampler provides host-level usage figures to attribute to running
// sandboxes. Optional: without one the watcher relies on the sandbox's
// own counters.
type Sampler interface {
	Sample(ctx context.Context) (HostSample, error)
}

// ProcessSampler reads CPU and resident memory of this process via
// gopsutil. Workloads run in-process, so the hosting process is the
// closest observable proxy for guest consumption.
type ProcessSampler struct {
	proc *process.Process
}

// NewProcessSampler builds a sampler for the current process.
func NewProcessSampler() (*ProcessSampler, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("opening process handle: %w", err)
	}
	return &ProcessSampler{proc: proc}, nil
}

func (s *ProcessSampler) Sample(ctx context.Context) (HostSample, error) {
	cpu, err := s.proc.CPUPercentWithContext(ctx)
	if err != nil {
		return HostSample{}, fmt.Errorf("sampling cpu: %w", err)
	}
	mem, err := s.proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return HostSample{}, fmt.Errorf("sampling memory: %w", err)
	}
	return HostSample{CPUPercent: cpu, MemoryBytes: mem.RSS}, nil
}
