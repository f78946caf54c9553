package erinyes_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/katabasis-sandbox/katabasis/pkg/asphodel"
	"github.com/katabasis-sandbox/katabasis/pkg/domain"
	"github.com/katabasis-sandbox/katabasis/pkg/erinyes"
)

func startedSandbox(t *testing.T, limits domain.ResourceLimits) *asphodel.Sandbox {
	t.Helper()
	sb := asphodel.New(asphodel.Config{
		ID:           "sb-fury",
		Name:         "watched",
		Limits:       limits,
		Capabilities: domain.NewCapabilitySet(domain.CapabilityFilesystem),
		WorkingDir:   t.TempDir(),
	})
	require.NoError(t, sb.Start(context.Background()))
	return sb
}

func waitForState(t *testing.T, sb *asphodel.Sandbox, want domain.SandboxState) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if sb.State() == want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("sandbox never reached %s, still %s", want, sb.State())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func recordUsage(t *testing.T, sb *asphodel.Sandbox, memory uint64) {
	t.Helper()
	_, err := sb.Execute(context.Background(), asphodel.Workload{
		Name: "hog",
		Run: func(ctx context.Context, env *asphodel.ExecEnv) (string, error) {
			env.RecordMemory(memory)
			return "", nil
		},
	})
	require.NoError(t, err)
}

func TestMemoryBreachTerminates(t *testing.T) {
	sb := startedSandbox(t, domain.ResourceLimits{MemoryBytes: 1024})
	recordUsage(t, sb, 4096)

	fury := erinyes.NewPollFury(nil, nil, nil, 10*time.Millisecond)
	require.NoError(t, fury.Arm(context.Background(), sb, nil))
	defer fury.Disarm(sb.ID())

	waitForState(t, sb, domain.StateTerminated)
}

func TestMemoryBreachPausesUnderPausePolicy(t *testing.T) {
	sb := startedSandbox(t, domain.ResourceLimits{MemoryBytes: 1024})
	recordUsage(t, sb, 4096)

	policy := &erinyes.BreachPolicy{
		Default: erinyes.VerdictTerminate,
		PerResource: map[domain.ResourceKind]erinyes.Verdict{
			domain.ResourceMemory: erinyes.VerdictPause,
		},
	}
	fury := erinyes.NewPollFury(nil, nil, nil, 10*time.Millisecond)
	require.NoError(t, fury.Arm(context.Background(), sb, policy))
	defer fury.Disarm(sb.ID())

	waitForState(t, sb, domain.StatePaused)
}

func TestNoBreachLeavesSandboxAlone(t *testing.T) {
	sb := startedSandbox(t, domain.ResourceLimits{MemoryBytes: 1 << 30})
	recordUsage(t, sb, 4096)

	fury := erinyes.NewPollFury(nil, nil, nil, 10*time.Millisecond)
	require.NoError(t, fury.Arm(context.Background(), sb, nil))
	defer fury.Disarm(sb.ID())

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, domain.StateRunning, sb.State())
}

func TestBreachIdempotentWithExplicitTerminate(t *testing.T) {
	// The watcher races an explicit terminate; whatever the interleaving,
	// the net state is Terminated and nothing panics or flips back.
	sb := startedSandbox(t, domain.ResourceLimits{MemoryBytes: 1024})
	recordUsage(t, sb, 4096)

	fury := erinyes.NewPollFury(nil, nil, nil, time.Millisecond)
	require.NoError(t, fury.Arm(context.Background(), sb, nil))
	defer fury.Disarm(sb.ID())

	_ = sb.Terminate(context.Background())

	waitForState(t, sb, domain.StateTerminated)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, domain.StateTerminated, sb.State())
}

func TestExecutionTimeBreachAlwaysTerminates(t *testing.T) {
	// Even with a pause-everything policy, the wall clock verdict is
	// terminate.
	sb := startedSandbox(t, domain.ResourceLimits{ExecutionTime: 10 * time.Millisecond})

	policy := &erinyes.BreachPolicy{Default: erinyes.VerdictPause}
	fury := erinyes.NewPollFury(nil, nil, nil, 10*time.Millisecond)
	require.NoError(t, fury.Arm(context.Background(), sb, policy))
	defer fury.Disarm(sb.ID())

	waitForState(t, sb, domain.StateTerminated)
}

func TestDisarmStopsWatcher(t *testing.T) {
	sb := startedSandbox(t, domain.ResourceLimits{MemoryBytes: 1024})

	fury := erinyes.NewPollFury(nil, nil, nil, 10*time.Millisecond)
	require.NoError(t, fury.Arm(context.Background(), sb, nil))
	require.NoError(t, fury.Disarm(sb.ID()))
	require.NoError(t, fury.Disarm(sb.ID()))

	// Breach after disarm goes unpunished.
	recordUsage(t, sb, 4096)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, domain.StateRunning, sb.State())
}

func TestPausedSandboxIsNotEnforced(t *testing.T) {
	sb := startedSandbox(t, domain.ResourceLimits{MemoryBytes: 1024})
	recordUsage(t, sb, 4096)
	require.NoError(t, sb.Pause(context.Background()))

	fury := erinyes.NewPollFury(nil, nil, nil, 10*time.Millisecond)
	require.NoError(t, fury.Arm(context.Background(), sb, nil))
	defer fury.Disarm(sb.ID())

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, domain.StatePaused, sb.State())
}

func TestPolicyResolution(t *testing.T) {
	policy := &erinyes.BreachPolicy{
		Default: erinyes.VerdictPause,
		PerResource: map[domain.ResourceKind]erinyes.Verdict{
			domain.ResourceCPU: erinyes.VerdictTerminate,
		},
	}

	assert.Equal(t, erinyes.VerdictTerminate, policy.Resolve(domain.ResourceCPU))
	assert.Equal(t, erinyes.VerdictPause, policy.Resolve(domain.ResourceMemory))
	assert.Equal(t, erinyes.VerdictPause, policy.Resolve(domain.ResourceNetwork))
	assert.Equal(t, erinyes.VerdictTerminate, policy.Resolve(domain.ResourceExecutionTime))

	// Zero-value default falls back to terminate.
	empty := &erinyes.BreachPolicy{}
	assert.Equal(t, erinyes.VerdictTerminate, empty.Resolve(domain.ResourceMemory))

	// Clone is deep.
	clone := policy.Clone()
	clone.PerResource[domain.ResourceMemory] = erinyes.VerdictTerminate
	assert.Equal(t, erinyes.VerdictPause, policy.Resolve(domain.ResourceMemory))
}
