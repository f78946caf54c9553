package domain

import (
	"time"
)

// IDs

type SandboxID string

// States

type SandboxState string

const (
	StateCreated    SandboxState = "CREATED"
	StateRunning    SandboxState = "RUNNING"
	StatePaused     SandboxState = "PAUSED"
	StateTerminated SandboxState = "TERMINATED"
)

// SandboxSpec is what callers hand to the registry when creating a sandbox.
// Nil fields fall back to the registry defaults.

type SandboxSpec struct {
	Name         string          `json:"name"`
	Limits       *ResourceLimits `json:"limits,omitempty"`
	Capabilities *CapabilitySet  `json:"capabilities,omitempty"`
	WorkingDir   string          `json:"working_dir,omitempty"`
}

// SandboxInfo is a read-only view of a sandbox for external consumers
// (process manager, threat detection). It never exposes mutable state.

type SandboxInfo struct {
	ID           SandboxID      `json:"id"`
	Name         string         `json:"name"`
	State        SandboxState   `json:"state"`
	Limits       ResourceLimits `json:"limits"`
	Capabilities CapabilitySet  `json:"capabilities"`
	WorkingDir   string         `json:"working_dir"`
	Usage        ResourceUsage  `json:"usage"`
	Epoch        uint64         `json:"epoch"`
	CreatedAt    time.Time      `json:"created_at"`
}

// RegistryStatus is the aggregate report returned by the sandbox registry.

type RegistryStatus struct {
	CountsPerState   map[SandboxState]int `json:"counts_per_state"`
	TerminatedTotal  int                  `json:"terminated_total"`
	TotalMemoryBytes uint64               `json:"total_memory_bytes"`
	TotalCPUPercent  float64              `json:"total_cpu_percent"`
}
