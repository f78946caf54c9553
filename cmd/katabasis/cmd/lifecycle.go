package cmd

import (
	"context"
	"fmt"

	"github.com/katabasis-sandbox/katabasis/pkg/asphodel"
	"github.com/katabasis-sandbox/katabasis/pkg/domain"
)

// spawnStarted creates and starts one sandbox, the fixture every
// lifecycle verb operates on.
func spawnStarted(ctx context.Context, k *kernel, name string) (*asphodel.Sandbox, domain.SandboxID) {
	id, err := k.sandboxes.Create(ctx, domain.SandboxSpec{Name: name})
	if err != nil {
		fatal("Error creating sandbox: %v", err)
	}
	sb, err := k.sandboxes.Get(id)
	if err != nil {
		fatal("Error fetching sandbox: %v", err)
	}
	if err := sb.Start(ctx); err != nil {
		fatal("Error starting sandbox: %v", err)
	}
	return sb, id
}

func printTransition(id domain.SandboxID, from, to domain.SandboxState) {
	fmt.Printf("%s: %s -> %s\n", id, from, to)
}
