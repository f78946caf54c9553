package domain

import "fmt"

// Address is a location in the subsystem's logical address space.
// The zero address is never a valid allocation.

type Address uint64

// ProtectionFlags describe the access rights of a memory region.
// Immutable value type; construct via the helpers below.

type ProtectionFlags struct {
	Read    bool `json:"read"`
	Write   bool `json:"write"`
	Execute bool `json:"execute"`
}

func NewProtectionFlags(read, write, execute bool) ProtectionFlags {
	return ProtectionFlags{Read: read, Write: write, Execute: execute}
}

func ReadOnly() ProtectionFlags {
	return ProtectionFlags{Read: true}
}

func ReadWrite() ProtectionFlags {
	return ProtectionFlags{Read: true, Write: true}
}

func ReadExecute() ProtectionFlags {
	return ProtectionFlags{Read: true, Execute: true}
}

func NoAccess() ProtectionFlags {
	return ProtectionFlags{}
}

// String renders the flags in rwx notation.
func (p ProtectionFlags) String() string {
	buf := []byte("---")
	if p.Read {
		buf[0] = 'r'
	}
	if p.Write {
		buf[1] = 'w'
	}
	if p.Execute {
		buf[2] = 'x'
	}
	return string(buf)
}

// MemoryRegion is the descriptor of a tracked memory range.
// Identity is Base. Invariant: Size > 0 for any registered region.

type MemoryRegion struct {
	Base       Address         `json:"base"`
	Size       uint64          `json:"size"`
	Protection ProtectionFlags `json:"protection"`
	Name       string          `json:"name,omitempty"`
}

// End returns the first address past the region.
func (r MemoryRegion) End() Address {
	return r.Base + Address(r.Size)
}

// Contains reports whether addr falls inside [Base, Base+Size).
func (r MemoryRegion) Contains(addr Address) bool {
	return addr >= r.Base && addr < r.End()
}

// Overlaps reports whether the two half-open ranges intersect.
func (r MemoryRegion) Overlaps(other MemoryRegion) bool {
	return r.Base < other.End() && other.Base < r.End()
}

func (r MemoryRegion) String() string {
	name := r.Name
	if name == "" {
		name = "<anonymous>"
	}
	return fmt.Sprintf("%s [%#x-%#x) %s", name, uint64(r.Base), uint64(r.End()), r.Protection)
}
