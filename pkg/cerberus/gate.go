package cerberus

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/katabasis-sandbox/katabasis/pkg/domain"
	"github.com/katabasis-sandbox/katabasis/pkg/hermes"
)

// ErrCapabilityDenied is the sentinel matched by errors.Is for any
// capability denial.
var ErrCapabilityDenied = errors.New("capability denied")

// CapabilityError reports which required capabilities the sandbox lacks.
type CapabilityError struct {
	SandboxID domain.SandboxID
	Missing   []domain.Capability
	Granted   domain.CapabilitySet
}

func (e *CapabilityError) Error() string {
	names := make([]string, len(e.Missing))
	for i, c := range e.Missing {
		names[i] = c.String()
	}
	return fmt.Sprintf("sandbox %s lacks capabilities [%s] (granted %s)",
		e.SandboxID, strings.Join(names, ","), e.Granted)
}

func (e *CapabilityError) Unwrap() error {
	return ErrCapabilityDenied
}

// Gate holds the capability set granted to one sandbox.
type Gate struct {
	sandboxID domain.SandboxID
	granted   domain.CapabilitySet
	logger    hermes.Logger
	metrics   hermes.Metrics
}

// NewGate builds a gate for the sandbox's granted set. The set is copied
// by value and cannot change afterwards.
func NewGate(sandboxID domain.SandboxID, granted domain.CapabilitySet, logger hermes.Logger, metrics hermes.Metrics) *Gate {
	if logger == nil {
		logger = hermes.NewQuietAdapter()
	}
	if metrics == nil {
		metrics = hermes.NewNoopMetrics()
	}
	return &Gate{
		sandboxID: sandboxID,
		granted:   granted,
		logger:    logger,
		metrics:   metrics,
	}
}

// Has reports whether the single capability was granted at creation time.
func (g *Gate) Has(c domain.Capability) bool {
	return g.granted.Has(c)
}

// Granted returns the full granted set.
func (g *Gate) Granted() domain.CapabilitySet {
	return g.granted
}

// Check verifies that every required capability is granted. A denial is
// audited and returns a *CapabilityError; the caller's state must be left
// untouched.
func (g *Gate) Check(ctx context.Context, required domain.CapabilitySet) error {
	missing := g.granted.Missing(required)
	if len(missing) == 0 {
		return nil
	}

	err := &CapabilityError{
		SandboxID: g.sandboxID,
		Missing:   missing,
		Granted:   g.granted,
	}
	g.logger.Warn(ctx, "Capability denied", map[string]any{
		"sandbox_id": string(g.sandboxID),
		"required":   required.String(),
		"granted":    g.granted.String(),
	})
	g.metrics.IncCounter("katabasis_capability_denials_total", 1,
		hermes.Label{Key: "sandbox_id", Value: string(g.sandboxID)})
	return err
}
