package mnemosyne

import (
	"fmt"
	"sync"
	"time"

	"github.com/katabasis-sandbox/katabasis/pkg/domain"
)

// regionAlignment is the alignment used for region backing storage.
const regionAlignment = 8

// ProtectedRegion owns a byte buffer of exactly Size bytes, tagged with
// access flags. The buffer belongs to this region alone; Release returns
// it to the allocator exactly once.
type ProtectedRegion struct {
	alloc *Allocator
	data  []byte

	mu         sync.Mutex
	region     domain.MemoryRegion
	lastAccess time.Time
	released   bool
}

// NewProtectedRegion allocates backing storage for a region of the given
// size. Fails with ErrInvalidSize when size is 0.
func NewProtectedRegion(alloc *Allocator, size uint64, flags domain.ProtectionFlags, name string) (*ProtectedRegion, error) {
	if size == 0 {
		return nil, fmt.Errorf("region %q: %w", name, ErrInvalidSize)
	}

	base, err := alloc.Allocate(size, regionAlignment)
	if err != nil {
		return nil, fmt.Errorf("allocating region %q: %w", name, err)
	}
	data, ok := alloc.View(base)
	if !ok {
		// The allocator just handed us this address; losing it is
		// registry corruption, not a caller error.
		panic(fmt.Sprintf("mnemosyne: allocator lost block at %#x", uint64(base)))
	}

	return &ProtectedRegion{
		alloc: alloc,
		data:  data,
		region: domain.MemoryRegion{
			Base:       base,
			Size:       size,
			Protection: flags,
			Name:       name,
		},
		lastAccess: time.Now(),
	}, nil
}

// Addr returns the region's base address.
func (r *ProtectedRegion) Addr() domain.Address {
	return r.region.Base
}

// Bytes returns the raw backing slice; its length equals the region size.
// Valid for the region's lifetime, regardless of protection flags.
func (r *ProtectedRegion) Bytes() []byte {
	return r.data
}

// Region returns a copy of the region descriptor.
func (r *ProtectedRegion) Region() domain.MemoryRegion {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.region
}

// LastAccess reports when the region was last read or written through the
// checked accessors.
func (r *ProtectedRegion) LastAccess() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastAccess
}

// ReadAt copies n bytes starting at offset into a fresh slice, enforcing
// bounds and the read protection flag.
func (r *ProtectedRegion) ReadAt(offset, n uint64) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.region.Protection.Read {
		return nil, fmt.Errorf("region %q is not readable: %w", r.region.Name, ErrPermissionDenied)
	}
	if offset+n > r.region.Size || offset+n < offset {
		return nil, fmt.Errorf("read offset=%d len=%d size=%d: %w",
			offset, n, r.region.Size, ErrInvalidAddress)
	}

	out := make([]byte, n)
	copy(out, r.data[offset:offset+n])
	r.lastAccess = time.Now()
	return out, nil
}

// WriteAt copies p into the region at offset, enforcing bounds and the
// write protection flag.
func (r *ProtectedRegion) WriteAt(offset uint64, p []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.region.Protection.Write {
		return fmt.Errorf("region %q is not writable: %w", r.region.Name, ErrPermissionDenied)
	}
	n := uint64(len(p))
	if offset+n > r.region.Size || offset+n < offset {
		return fmt.Errorf("write offset=%d len=%d size=%d: %w",
			offset, n, r.region.Size, ErrInvalidAddress)
	}

	copy(r.data[offset:offset+n], p)
	r.lastAccess = time.Now()
	return nil
}

// setProtection replaces the region's flags. Called by the registry while
// it updates its own descriptor.
func (r *ProtectedRegion) setProtection(flags domain.ProtectionFlags) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.region.Protection = flags
}

// Release returns the backing storage to the allocator. Safe to call more
// than once; only the first call deallocates.
func (r *ProtectedRegion) Release() {
	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		return
	}
	r.released = true
	region := r.region
	r.mu.Unlock()

	r.alloc.Deallocate(region.Base, region.Size, regionAlignment)
}
