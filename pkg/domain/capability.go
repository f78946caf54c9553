package domain

import (
	"fmt"
	"strings"
)

// Capability is a named permission granted to a sandbox at creation time.
// The set is closed: capability checks stay exhaustively testable and are
// never extended through dynamic dispatch.

type Capability uint8

const (
	CapabilityNetwork Capability = iota
	CapabilityFilesystem
	CapabilityProcessCreation
	CapabilitySyscall
	CapabilityDevice

	capabilityCount
)

var capabilityNames = [capabilityCount]string{
	CapabilityNetwork:         "network",
	CapabilityFilesystem:      "filesystem",
	CapabilityProcessCreation: "process_creation",
	CapabilitySyscall:         "syscall",
	CapabilityDevice:          "device",
}

func (c Capability) String() string {
	if c >= capabilityCount {
		return fmt.Sprintf("capability(%d)", uint8(c))
	}
	return capabilityNames[c]
}

// ParseCapability maps a configuration name back to a Capability.
func ParseCapability(name string) (Capability, error) {
	for i, n := range capabilityNames {
		if n == name {
			return Capability(i), nil
		}
	}
	return 0, fmt.Errorf("unknown capability %q", name)
}

// AllCapabilities lists every member of the closed set, in declaration order.
func AllCapabilities() []Capability {
	caps := make([]Capability, capabilityCount)
	for i := range caps {
		caps[i] = Capability(i)
	}
	return caps
}

// CapabilitySet is a bit-set over the closed capability enumeration.
// The zero value is the empty set. Value semantics: With returns a copy,
// so a granted set handed to a sandbox cannot be mutated by the caller.

type CapabilitySet struct {
	bits uint8
}

func NewCapabilitySet(caps ...Capability) CapabilitySet {
	var s CapabilitySet
	for _, c := range caps {
		s.bits |= 1 << c
	}
	return s
}

// Has reports whether c is in the set.
func (s CapabilitySet) Has(c Capability) bool {
	if c >= capabilityCount {
		return false
	}
	return s.bits&(1<<c) != 0
}

// With returns a new set that additionally contains c.
func (s CapabilitySet) With(c Capability) CapabilitySet {
	if c >= capabilityCount {
		return s
	}
	return CapabilitySet{bits: s.bits | 1<<c}
}

// Union returns the union of the two sets.
func (s CapabilitySet) Union(other CapabilitySet) CapabilitySet {
	return CapabilitySet{bits: s.bits | other.bits}
}

// Missing returns the members of required that are absent from s.
func (s CapabilitySet) Missing(required CapabilitySet) []Capability {
	var missing []Capability
	for _, c := range AllCapabilities() {
		if required.Has(c) && !s.Has(c) {
			missing = append(missing, c)
		}
	}
	return missing
}

// List returns the members in declaration order.
func (s CapabilitySet) List() []Capability {
	var caps []Capability
	for _, c := range AllCapabilities() {
		if s.Has(c) {
			caps = append(caps, c)
		}
	}
	return caps
}

func (s CapabilitySet) IsEmpty() bool {
	return s.bits == 0
}

func (s CapabilitySet) String() string {
	caps := s.List()
	if len(caps) == 0 {
		return "{}"
	}
	names := make([]string, len(caps))
	for i, c := range caps {
		names[i] = c.String()
	}
	return "{" + strings.Join(names, ",") + "}"
}
