package erinyes

import (
	"github.com/katabasis-sandbox/katabasis/pkg/domain"
)

// Verdict is what happens to a sandbox that breaches a resource limit.
type Verdict string

const (
	VerdictTerminate Verdict = "terminate"
	VerdictPause     Verdict = "pause"
)

// BreachPolicy decides the verdict per breached resource. Resolution
// order: PerResource, then Default. Execution-time breaches always
// terminate regardless of policy: a paused sandbox cannot stop its own
// clock, so pausing would re-breach on the next sample.
type BreachPolicy struct {
	Default     Verdict                         `json:"default"`
	PerResource map[domain.ResourceKind]Verdict `json:"per_resource,omitempty"`
}

// DefaultBreachPolicy terminates on every breach.
func DefaultBreachPolicy() *BreachPolicy {
	return &BreachPolicy{Default: VerdictTerminate}
}

// Clone creates a deep copy of the policy.
func (p *BreachPolicy) Clone() *BreachPolicy {
	if p == nil {
		return nil
	}
	out := &BreachPolicy{Default: p.Default}
	if p.PerResource != nil {
		out.PerResource = make(map[domain.ResourceKind]Verdict, len(p.PerResource))
		for k, v := range p.PerResource {
			out.PerResource[k] = v
		}
	}
	return out
}

// Resolve returns the verdict for a breach of the given resource.
func (p *BreachPolicy) Resolve(resource domain.ResourceKind) Verdict {
	if resource == domain.ResourceExecutionTime {
		return VerdictTerminate
	}
	if v, ok := p.PerResource[resource]; ok {
		return v
	}
	if p.Default == "" {
		return VerdictTerminate
	}
	return p.Default
}
