package domain

import "time"

// ResourceKind identifies which configured bound a usage figure is
// compared against.

type ResourceKind string

const (
	ResourceMemory        ResourceKind = "memory"
	ResourceCPU           ResourceKind = "cpu"
	ResourceNetwork       ResourceKind = "network"
	ResourceFilesystem    ResourceKind = "filesystem"
	ResourceExecutionTime ResourceKind = "execution_time"
)

// ResourceLimits are the configured upper bounds for a sandbox.
// A zero field means unbounded.

type ResourceLimits struct {
	MemoryBytes        uint64        `json:"memory_bytes,omitempty"`
	CPUPercent         float64       `json:"cpu_percent,omitempty"`
	NetworkBytesPerSec uint64        `json:"network_bytes_per_sec,omitempty"`
	FilesystemBytes    uint64        `json:"filesystem_bytes,omitempty"`
	ExecutionTime      time.Duration `json:"execution_time,omitempty"`
}

// DefaultResourceLimits returns the stock bounds applied when a spec
// carries none: 100 MiB of memory and 10% of a CPU, everything else
// unbounded.
func DefaultResourceLimits() ResourceLimits {
	return ResourceLimits{
		MemoryBytes: 100 * 1024 * 1024,
		CPUPercent:  10.0,
	}
}

// ResourceUsage is a point-in-time snapshot of what a sandbox has consumed
// during its current execution epoch.

type ResourceUsage struct {
	MemoryBytes     uint64        `json:"memory_bytes"`
	CPUPercent      float64       `json:"cpu_percent"`
	NetworkBytes    uint64        `json:"network_bytes"`
	FilesystemBytes uint64        `json:"filesystem_bytes"`
	Elapsed         time.Duration `json:"elapsed"`
}
