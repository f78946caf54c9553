package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapabilitySetMembership(t *testing.T) {
	set := NewCapabilitySet(CapabilityNetwork, CapabilitySyscall)

	assert.True(t, set.Has(CapabilityNetwork))
	assert.True(t, set.Has(CapabilitySyscall))
	assert.False(t, set.Has(CapabilityFilesystem))
	assert.False(t, set.Has(CapabilityProcessCreation))
	assert.False(t, set.Has(CapabilityDevice))
}

func TestCapabilitySetWithDoesNotMutate(t *testing.T) {
	base := NewCapabilitySet(CapabilityFilesystem)
	grown := base.With(CapabilityNetwork)

	assert.False(t, base.Has(CapabilityNetwork))
	assert.True(t, grown.Has(CapabilityNetwork))
	assert.True(t, grown.Has(CapabilityFilesystem))
}

func TestCapabilitySetMissing(t *testing.T) {
	granted := NewCapabilitySet(CapabilityFilesystem)
	required := NewCapabilitySet(CapabilityNetwork, CapabilityFilesystem, CapabilityDevice)

	missing := granted.Missing(required)
	require.Len(t, missing, 2)
	assert.Equal(t, CapabilityNetwork, missing[0])
	assert.Equal(t, CapabilityDevice, missing[1])

	assert.Empty(t, granted.Missing(NewCapabilitySet(CapabilityFilesystem)))
	assert.Empty(t, granted.Missing(CapabilitySet{}))
}

func TestParseCapabilityRoundTrip(t *testing.T) {
	for _, c := range AllCapabilities() {
		parsed, err := ParseCapability(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, parsed)
	}

	_, err := ParseCapability("teleport")
	assert.Error(t, err)
}

func TestProtectionFlagsString(t *testing.T) {
	assert.Equal(t, "r--", ReadOnly().String())
	assert.Equal(t, "rw-", ReadWrite().String())
	assert.Equal(t, "r-x", ReadExecute().String())
	assert.Equal(t, "---", NoAccess().String())
	assert.Equal(t, "rwx", NewProtectionFlags(true, true, true).String())
}

func TestMemoryRegionContainsAndOverlaps(t *testing.T) {
	a := MemoryRegion{Base: 0x1000, Size: 0x100}
	b := MemoryRegion{Base: 0x1080, Size: 0x100}
	c := MemoryRegion{Base: 0x1100, Size: 0x100}

	assert.True(t, a.Contains(0x1000))
	assert.True(t, a.Contains(0x10ff))
	assert.False(t, a.Contains(0x1100))
	assert.False(t, a.Contains(0xfff))

	assert.True(t, a.Overlaps(b))
	assert.True(t, b.Overlaps(a))
	assert.False(t, a.Overlaps(c))
	assert.False(t, c.Overlaps(a))
}
