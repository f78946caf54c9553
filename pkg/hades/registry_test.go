package hades_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/katabasis-sandbox/katabasis/pkg/asphodel"
	"github.com/katabasis-sandbox/katabasis/pkg/domain"
	"github.com/katabasis-sandbox/katabasis/pkg/hades"
	"github.com/katabasis-sandbox/katabasis/pkg/mnemosyne"
)

func newSandboxRegistry(t *testing.T) *hades.Registry {
	t.Helper()
	alloc := mnemosyne.NewAllocator(nil)
	regions := mnemosyne.NewRegionRegistry(alloc, mnemosyne.DefaultMemoryConfig(), nil, nil)
	return hades.NewRegistry(regions, hades.DefaultConfig(), nil, nil)
}

func TestCreateAndGet(t *testing.T) {
	registry := newSandboxRegistry(t)
	ctx := context.Background()

	id, err := registry.Create(ctx, domain.SandboxSpec{Name: "worker"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	sandbox, err := registry.Get(id)
	require.NoError(t, err)
	assert.Equal(t, id, sandbox.ID())
	assert.Equal(t, domain.StateCreated, sandbox.State())

	_, err = registry.Get("no-such-id")
	assert.ErrorIs(t, err, hades.ErrNotFound)
}

func TestCreateAppliesDefaults(t *testing.T) {
	registry := newSandboxRegistry(t)
	ctx := context.Background()

	id, err := registry.Create(ctx, domain.SandboxSpec{Name: "defaulted"})
	require.NoError(t, err)

	sandbox, err := registry.Get(id)
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultResourceLimits(), sandbox.Limits())
	for _, c := range domain.AllCapabilities() {
		assert.False(t, sandbox.HasCapability(c), "default grant must be empty")
	}
}

func TestCreateHonorsSpecOverrides(t *testing.T) {
	registry := newSandboxRegistry(t)
	ctx := context.Background()

	limits := domain.ResourceLimits{MemoryBytes: 64 * 1024 * 1024}
	caps := domain.NewCapabilitySet(domain.CapabilityFilesystem)
	id, err := registry.Create(ctx, domain.SandboxSpec{
		Name:         "custom",
		Limits:       &limits,
		Capabilities: &caps,
		WorkingDir:   "/var/sandbox",
	})
	require.NoError(t, err)

	sandbox, err := registry.Get(id)
	require.NoError(t, err)
	assert.Equal(t, limits, sandbox.Limits())
	assert.True(t, sandbox.HasCapability(domain.CapabilityFilesystem))
	assert.False(t, sandbox.HasCapability(domain.CapabilityNetwork))
	assert.Equal(t, "/var/sandbox", sandbox.Info().WorkingDir)
}

func TestConcurrentCreateYieldsDistinctIDs(t *testing.T) {
	registry := newSandboxRegistry(t)
	ctx := context.Background()

	const n = 64
	ids := make(chan domain.SandboxID, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := registry.Create(ctx, domain.SandboxSpec{Name: "racer"})
			if err != nil {
				t.Error(err)
				return
			}
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[domain.SandboxID]bool)
	for id := range ids {
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)
	assert.Len(t, registry.List(), n)
}

func TestRemoveTerminatesFirst(t *testing.T) {
	registry := newSandboxRegistry(t)
	ctx := context.Background()

	id, err := registry.Create(ctx, domain.SandboxSpec{Name: "doomed"})
	require.NoError(t, err)
	sandbox, err := registry.Get(id)
	require.NoError(t, err)
	require.NoError(t, sandbox.Start(ctx))

	require.NoError(t, registry.Remove(ctx, id))
	assert.Equal(t, domain.StateTerminated, sandbox.State())

	_, err = registry.Get(id)
	assert.ErrorIs(t, err, hades.ErrNotFound)
	err = registry.Remove(ctx, id)
	assert.ErrorIs(t, err, hades.ErrNotFound)
}

func TestStatusAggregation(t *testing.T) {
	registry := newSandboxRegistry(t)
	ctx := context.Background()

	var ids []domain.SandboxID
	for i := 0; i < 4; i++ {
		id, err := registry.Create(ctx, domain.SandboxSpec{Name: "s"})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	s0, _ := registry.Get(ids[0])
	require.NoError(t, s0.Start(ctx))
	s1, _ := registry.Get(ids[1])
	require.NoError(t, s1.Start(ctx))
	require.NoError(t, s1.Pause(ctx))
	s2, _ := registry.Get(ids[2])
	require.NoError(t, s2.Terminate(ctx))

	status := registry.Status()
	assert.Equal(t, 1, status.CountsPerState[domain.StateRunning])
	assert.Equal(t, 1, status.CountsPerState[domain.StatePaused])
	assert.Equal(t, 1, status.CountsPerState[domain.StateTerminated])
	assert.Equal(t, 1, status.CountsPerState[domain.StateCreated])
	// Two live epochs, each holding a default 1 MiB region.
	assert.Equal(t, uint64(2<<20), status.TotalMemoryBytes)
	assert.Zero(t, status.TerminatedTotal)

	require.NoError(t, registry.Remove(ctx, ids[2]))
	assert.Equal(t, 1, registry.Status().TerminatedTotal)
}

func TestBulkLifecycle(t *testing.T) {
	registry := newSandboxRegistry(t)
	ctx := context.Background()

	var ids []domain.SandboxID
	for i := 0; i < 3; i++ {
		id, err := registry.Create(ctx, domain.SandboxSpec{Name: "fleet"})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	// One sandbox is already running, so bulk start partially fails; the
	// rest must still be started.
	pre, err := registry.Get(ids[0])
	require.NoError(t, err)
	require.NoError(t, pre.Start(ctx))

	failures := registry.StartAll(ctx)
	require.Len(t, failures, 1)
	assert.ErrorIs(t, failures[ids[0]], asphodel.ErrAlreadyRunning)
	for _, id := range ids[1:] {
		sandbox, err := registry.Get(id)
		require.NoError(t, err)
		assert.Equal(t, domain.StateRunning, sandbox.State())
	}

	failures = registry.TerminateAll(ctx)
	assert.Empty(t, failures)
	for _, id := range ids {
		sandbox, err := registry.Get(id)
		require.NoError(t, err)
		assert.Equal(t, domain.StateTerminated, sandbox.State())
	}

	// A second pass is clean: already-terminated is not a failure.
	assert.Empty(t, registry.TerminateAll(ctx))
}

func TestCloseEmptiesCatalog(t *testing.T) {
	registry := newSandboxRegistry(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := registry.Create(ctx, domain.SandboxSpec{Name: "s"})
		require.NoError(t, err)
	}
	registry.StartAll(ctx)

	failures := registry.Close(ctx)
	assert.Empty(t, failures)
	assert.Empty(t, registry.List())
	assert.Equal(t, 3, registry.Status().TerminatedTotal)
}

func TestSetConfigAffectsNewSandboxesOnly(t *testing.T) {
	registry := newSandboxRegistry(t)
	ctx := context.Background()

	before, err := registry.Create(ctx, domain.SandboxSpec{Name: "old"})
	require.NoError(t, err)

	cfg := registry.Config()
	cfg.DefaultCapabilities = domain.NewCapabilitySet(domain.CapabilityNetwork)
	registry.SetConfig(cfg)

	after, err := registry.Create(ctx, domain.SandboxSpec{Name: "new"})
	require.NoError(t, err)

	oldSandbox, _ := registry.Get(before)
	newSandbox, _ := registry.Get(after)
	assert.False(t, oldSandbox.HasCapability(domain.CapabilityNetwork))
	assert.True(t, newSandbox.HasCapability(domain.CapabilityNetwork))
}
