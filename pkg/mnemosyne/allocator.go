package mnemosyne

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/katabasis-sandbox/katabasis/pkg/domain"
	"github.com/katabasis-sandbox/katabasis/pkg/hermes"
)

// regionBaseStart is where the logical address space begins. Sentinel
// pointers for zero-size allocations are small alignment values, so real
// blocks must never be handed out below this base.
const regionBaseStart = 0x1000_0000

// AllocatorStats are monotonically non-decreasing counters. CurrentUsage
// is derived and never negative.
type AllocatorStats struct {
	TotalAllocated    uint64 `json:"total_allocated"`
	TotalDeallocated  uint64 `json:"total_deallocated"`
	AllocationCount   uint64 `json:"allocation_count"`
	DeallocationCount uint64 `json:"deallocation_count"`
	ReallocationCount uint64 `json:"reallocation_count"`
}

// CurrentUsage returns the bytes currently live.
func (s AllocatorStats) CurrentUsage() uint64 {
	if s.TotalDeallocated > s.TotalAllocated {
		return 0
	}
	return s.TotalAllocated - s.TotalDeallocated
}

// Allocator hands out blocks in a logical address space. Backing storage
// is plain heap memory pinned in a map; addresses are minted from a
// monotonic cursor, so a freed block's address is never reused within a
// process lifetime.
type Allocator struct {
	next atomic.Uint64

	mu     sync.Mutex
	blocks map[domain.Address][]byte
	stats  AllocatorStats
	limit  uint64

	metrics hermes.Metrics
}

// NewAllocator creates an allocator with no arena limit.
func NewAllocator(metrics hermes.Metrics) *Allocator {
	return NewLimitedAllocator(0, metrics)
}

// NewLimitedAllocator creates an allocator that fails with ErrOutOfMemory
// once live usage would exceed limit bytes. A limit of 0 means unbounded.
func NewLimitedAllocator(limit uint64, metrics hermes.Metrics) *Allocator {
	if metrics == nil {
		metrics = hermes.NewNoopMetrics()
	}
	a := &Allocator{
		blocks:  make(map[domain.Address][]byte),
		limit:   limit,
		metrics: metrics,
	}
	a.next.Store(regionBaseStart)
	return a
}

func isPowerOfTwo(n uint64) bool {
	return n != 0 && n&(n-1) == 0
}

// Allocate returns the address of a fresh block of exactly size bytes,
// aligned to align. A zero-size request is legal and returns the sentinel
// address equal to align; it is never tracked and never aliases a block.
func (a *Allocator) Allocate(size, align uint64) (domain.Address, error) {
	if !isPowerOfTwo(align) {
		return 0, fmt.Errorf("alignment %d: %w", align, ErrInvalidAlignment)
	}
	if size == 0 {
		return domain.Address(align), nil
	}
	if size > math.MaxInt {
		// No backing slice can be that large; refuse before make faults.
		return 0, fmt.Errorf("%d bytes requested: %w", size, ErrOutOfMemory)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	// Written as a subtraction so a huge size cannot wrap past the limit.
	if a.limit > 0 && size > a.limit-a.stats.CurrentUsage() {
		return 0, fmt.Errorf("%d bytes requested, %d in use of %d: %w",
			size, a.stats.CurrentUsage(), a.limit, ErrOutOfMemory)
	}

	base := a.mintBase(size, align)
	a.blocks[base] = make([]byte, size)
	a.stats.TotalAllocated += size
	a.stats.AllocationCount++
	a.metrics.SetGauge("katabasis_allocator_bytes_in_use", float64(a.stats.CurrentUsage()))

	return base, nil
}

// Deallocate releases the block at addr. It must not fault: a nil address,
// a zero size, or an address the allocator does not know are all no-ops.
func (a *Allocator) Deallocate(addr domain.Address, size, align uint64) {
	if addr == 0 || size == 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.blocks[addr]; !ok {
		return
	}
	delete(a.blocks, addr)
	a.stats.TotalDeallocated += size
	a.stats.DeallocationCount++
	a.metrics.SetGauge("katabasis_allocator_bytes_in_use", float64(a.stats.CurrentUsage()))
}

// Reallocate resizes the block at addr via move-and-copy. A newSize of 0
// behaves as deallocate followed by a zero-size allocate and returns the
// sentinel address. A nil addr behaves as a fresh allocation of newSize.
func (a *Allocator) Reallocate(addr domain.Address, oldSize, newSize, align uint64) (domain.Address, error) {
	if !isPowerOfTwo(align) {
		return 0, fmt.Errorf("alignment %d: %w", align, ErrInvalidAlignment)
	}
	if newSize == 0 {
		a.Deallocate(addr, oldSize, align)
		return domain.Address(align), nil
	}
	if newSize > math.MaxInt {
		return 0, fmt.Errorf("%d bytes requested: %w", newSize, ErrOutOfMemory)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	var old []byte
	if addr != 0 && oldSize != 0 {
		var ok bool
		old, ok = a.blocks[addr]
		if !ok {
			return 0, fmt.Errorf("no block at %#x: %w", uint64(addr), ErrInvalidAddress)
		}
	}

	grow := uint64(0)
	if newSize > oldSize {
		grow = newSize - oldSize
	}
	if a.limit > 0 && grow > a.limit-a.stats.CurrentUsage() {
		return 0, fmt.Errorf("%d bytes requested, %d in use of %d: %w",
			newSize, a.stats.CurrentUsage(), a.limit, ErrOutOfMemory)
	}

	base := a.mintBase(newSize, align)
	fresh := make([]byte, newSize)
	copy(fresh, old)
	a.blocks[base] = fresh
	if addr != 0 && old != nil {
		delete(a.blocks, addr)
	}

	a.stats.TotalAllocated += newSize
	a.stats.TotalDeallocated += oldSize
	a.stats.ReallocationCount++
	a.metrics.SetGauge("katabasis_allocator_bytes_in_use", float64(a.stats.CurrentUsage()))

	return base, nil
}

// View returns the backing bytes of the block at addr. The slice stays
// valid until the block is deallocated.
func (a *Allocator) View(addr domain.Address) ([]byte, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.blocks[addr]
	return b, ok
}

// Stats returns a consistent snapshot; no operation can be observed
// mid-update.
func (a *Allocator) Stats() AllocatorStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// mintBase reserves an aligned address range for size bytes.
func (a *Allocator) mintBase(size, align uint64) domain.Address {
	start := a.next.Add(size+align) - (size + align)
	base := (start + align - 1) &^ (align - 1)
	return domain.Address(base)
}
