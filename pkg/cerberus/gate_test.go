package cerberus_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/katabasis-sandbox/katabasis/pkg/cerberus"
	"github.com/katabasis-sandbox/katabasis/pkg/domain"
)

func TestGateAllowsGrantedSet(t *testing.T) {
	gate := cerberus.NewGate("sb-1",
		domain.NewCapabilitySet(domain.CapabilityFilesystem, domain.CapabilityNetwork), nil, nil)

	assert.NoError(t, gate.Check(context.Background(), domain.NewCapabilitySet(domain.CapabilityFilesystem)))
	assert.NoError(t, gate.Check(context.Background(), domain.CapabilitySet{}))
	assert.NoError(t, gate.Check(context.Background(),
		domain.NewCapabilitySet(domain.CapabilityFilesystem, domain.CapabilityNetwork)))
}

func TestGateDeniesMissingCapability(t *testing.T) {
	gate := cerberus.NewGate("sb-2", domain.NewCapabilitySet(domain.CapabilityFilesystem), nil, nil)

	err := gate.Check(context.Background(), domain.NewCapabilitySet(domain.CapabilityNetwork))
	require.Error(t, err)
	assert.ErrorIs(t, err, cerberus.ErrCapabilityDenied)

	var capErr *cerberus.CapabilityError
	require.True(t, errors.As(err, &capErr))
	assert.Equal(t, domain.SandboxID("sb-2"), capErr.SandboxID)
	require.Len(t, capErr.Missing, 1)
	assert.Equal(t, domain.CapabilityNetwork, capErr.Missing[0])
}

func TestGateHasIsExactlyTheGrantedSet(t *testing.T) {
	granted := domain.NewCapabilitySet(domain.CapabilitySyscall)
	gate := cerberus.NewGate("sb-3", granted, nil, nil)

	for _, c := range domain.AllCapabilities() {
		assert.Equal(t, granted.Has(c), gate.Has(c), "capability %s", c)
	}
}

func TestGateEmptyGrantDeniesEverything(t *testing.T) {
	gate := cerberus.NewGate("sb-4", domain.CapabilitySet{}, nil, nil)

	for _, c := range domain.AllCapabilities() {
		err := gate.Check(context.Background(), domain.NewCapabilitySet(c))
		assert.ErrorIs(t, err, cerberus.ErrCapabilityDenied, "capability %s", c)
	}
}
