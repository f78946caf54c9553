package erinyes

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/katabasis-sandbox/katabasis/pkg/asphodel"
	"github.com/katabasis-sandbox/katabasis/pkg/domain"
	"github.com/katabasis-sandbox/katabasis/pkg/hermes"
)

// DefaultInterval is the polling period when none is configured.
const DefaultInterval = time.Second

// PollFury is a poll-based implementation of the Fury interface. Each
// armed sandbox gets its own watcher goroutine that samples usage,
// compares it to the configured limits, and applies the policy verdict
// on breach. A breach-triggered termination is idempotent with a
// concurrent explicit terminate: the loser sees AlreadyTerminated and no
// second event is emitted.
type PollFury struct {
	Logger   hermes.Logger
	Metrics  hermes.Metrics
	Sampler  Sampler
	Interval time.Duration

	mu     sync.Mutex
	active map[domain.SandboxID]context.CancelFunc
}

// NewPollFury creates a watcher pool. Sampler may be nil.
func NewPollFury(logger hermes.Logger, metrics hermes.Metrics, sampler Sampler, interval time.Duration) *PollFury {
	if logger == nil {
		logger = hermes.NewQuietAdapter()
	}
	if metrics == nil {
		metrics = hermes.NewNoopMetrics()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &PollFury{
		Logger:   logger,
		Metrics:  metrics,
		Sampler:  sampler,
		Interval: interval,
		active:   make(map[domain.SandboxID]context.CancelFunc),
	}
}

// Arm starts a watcher for the sandbox. Arming an already-armed id
// replaces its watcher.
func (p *PollFury) Arm(ctx context.Context, sandbox *asphodel.Sandbox, policy *BreachPolicy) error {
	if policy == nil {
		policy = DefaultBreachPolicy()
	}
	watchCtx, cancel := context.WithCancel(ctx)

	p.mu.Lock()
	if prev, ok := p.active[sandbox.ID()]; ok {
		prev()
	}
	p.active[sandbox.ID()] = cancel
	p.mu.Unlock()

	go p.watch(watchCtx, sandbox, policy.Clone())
	return nil
}

// Disarm stops the watcher for the given sandbox id. Safe to call
// multiple times.
func (p *PollFury) Disarm(id domain.SandboxID) error {
	p.mu.Lock()
	cancel, ok := p.active[id]
	if ok {
		delete(p.active, id)
	}
	p.mu.Unlock()

	if ok {
		cancel()
	}
	return nil
}

func (p *PollFury) watch(ctx context.Context, sandbox *asphodel.Sandbox, policy *BreachPolicy) {
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if done := p.checkAndEnforce(ctx, sandbox, policy); done {
				_ = p.Disarm(sandbox.ID())
				return
			}
		}
	}
}

// checkAndEnforce samples one tick. Returns true when watching should
// stop.
func (p *PollFury) checkAndEnforce(ctx context.Context, sandbox *asphodel.Sandbox, policy *BreachPolicy) bool {
	switch sandbox.State() {
	case domain.StateTerminated:
		return true
	case domain.StateRunning:
	default:
		// Created or Paused: nothing accrues, keep watching.
		return false
	}

	if p.Sampler != nil {
		sample, err := p.Sampler.Sample(ctx)
		if err != nil {
			p.Logger.Error(ctx, "Failed to sample host usage", map[string]any{
				"sandbox_id": string(sandbox.ID()),
				"error":      err.Error(),
			})
		} else {
			sandbox.RecordCPU(sample.CPUPercent)
		}
	}

	limits := sandbox.Limits()
	usage := sandbox.UsageSnapshot()

	if limits.MemoryBytes > 0 && usage.MemoryBytes > limits.MemoryBytes {
		return p.enforce(ctx, sandbox, policy, domain.ResourceMemory, float64(usage.MemoryBytes), float64(limits.MemoryBytes))
	}
	if limits.CPUPercent > 0 && usage.CPUPercent > limits.CPUPercent {
		return p.enforce(ctx, sandbox, policy, domain.ResourceCPU, usage.CPUPercent, limits.CPUPercent)
	}
	if limits.FilesystemBytes > 0 && usage.FilesystemBytes > limits.FilesystemBytes {
		return p.enforce(ctx, sandbox, policy, domain.ResourceFilesystem, float64(usage.FilesystemBytes), float64(limits.FilesystemBytes))
	}
	if limits.ExecutionTime > 0 {
		elapsed := time.Since(sandbox.StartedAt())
		if elapsed > limits.ExecutionTime {
			return p.enforce(ctx, sandbox, policy, domain.ResourceExecutionTime, elapsed.Seconds(), limits.ExecutionTime.Seconds())
		}
	}
	return false
}

// enforce applies the verdict for one breach. Returns true when the
// watcher should stop (sandbox terminated).
func (p *PollFury) enforce(ctx context.Context, sandbox *asphodel.Sandbox, policy *BreachPolicy, resource domain.ResourceKind, observed, limit float64) bool {
	verdict := policy.Resolve(resource)

	var err error
	switch verdict {
	case VerdictPause:
		err = sandbox.Pause(ctx)
		if errors.Is(err, asphodel.ErrNotRunning) {
			// Someone else already paused or terminated it; not our event.
			return sandbox.State() == domain.StateTerminated
		}
	default:
		err = sandbox.Terminate(ctx)
		if errors.Is(err, asphodel.ErrAlreadyTerminated) {
			// Raced an explicit terminate; exactly one event was emitted
			// by the winner.
			return true
		}
	}
	if err != nil {
		p.Logger.Error(ctx, "Failed to enforce breach verdict", map[string]any{
			"sandbox_id": string(sandbox.ID()),
			"verdict":    string(verdict),
			"error":      err.Error(),
		})
		return false
	}

	p.Logger.Warn(ctx, "Resource limit breached", map[string]any{
		"sandbox_id": string(sandbox.ID()),
		"resource":   string(resource),
		"observed":   observed,
		"limit":      limit,
		"verdict":    string(verdict),
	})
	p.Metrics.IncCounter("katabasis_limit_breaches_total", 1,
		hermes.Label{Key: "resource", Value: string(resource)},
		hermes.Label{Key: "verdict", Value: string(verdict)})

	return verdict != VerdictPause
}
