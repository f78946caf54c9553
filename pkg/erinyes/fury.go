package erinyes

import (
	"context"

	"github.com/katabasis-sandbox/katabasis/pkg/asphodel"
	"github.com/katabasis-sandbox/katabasis/pkg/domain"
)

// Fury watches a sandbox and enforces its resource limits.

type Fury interface {
	// Arm starts a watcher for the sandbox.
	Arm(ctx context.Context, sandbox *asphodel.Sandbox, policy *BreachPolicy) error

	// Disarm stops the watcher (sandbox finished or was removed). Safe to
	// call for an id that was never armed.
	Disarm(id domain.SandboxID) error
}
