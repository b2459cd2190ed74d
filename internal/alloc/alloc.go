// Package alloc implements the bump allocator a transaction uses to carve
// out new, uninitialised storage from the arena (spec §4.3). It is a thin
// mechanical layer over internal/region: internal/txn is the only caller,
// and it is responsible for enforcing which transaction states may call
// Allocate.
package alloc

import (
	"sync"

	"github.com/iamNilotpal/pstore/internal/region"
	"github.com/iamNilotpal/pstore/pkg/address"
)

// Allocator bumps a monotone end-of-arena marker within one open
// transaction, honouring alignment and growing the backing file through
// the region manager when a request would overflow it.
type Allocator struct {
	mu sync.Mutex

	mgr *region.Manager

	// start is the address the previous revision's trailer ended at; every
	// address this allocator returns is >= start (spec invariant 3).
	start address.Address

	// next is the current high-water mark: the address the next
	// allocation will begin at, before alignment padding.
	next uint64
}

// New constructs an Allocator whose first allocation will land at or after
// start, which must be the previous revision's trailer-end address.
func New(mgr *region.Manager, start address.Address) *Allocator {
	return &Allocator{mgr: mgr, start: start, next: uint64(start)}
}

// Allocate reserves size bytes aligned to align, growing the backing file
// if necessary, and returns the address of the first reserved byte. The
// reserved bytes are uninitialised and immediately writable through the
// region manager.
func (a *Allocator) Allocate(size, align uint64) (address.Address, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if align == 0 {
		align = 1
	}

	base := address.AlignUp(a.next, align)
	end := base + size

	if end > a.mgr.Size() {
		if err := a.mgr.Grow(end); err != nil {
			return address.Null, err
		}
	}

	a.next = end
	return address.Address(base), nil
}

// End returns the current high-water mark: the address one past the last
// byte allocated so far in this transaction.
func (a *Allocator) End() address.Address {
	a.mu.Lock()
	defer a.mu.Unlock()
	return address.Address(a.next)
}

// Start returns the address this allocator began at (the previous
// revision's trailer-end address).
func (a *Allocator) Start() address.Address {
	return a.start
}

// BytesAllocated returns the number of bytes allocated so far in this
// transaction, used to populate the new trailer's size field.
func (a *Allocator) BytesAllocated() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.next - uint64(a.start)
}

// Rollback rewinds the high-water mark back to the transaction's starting
// point. The underlying file is not shrunk; the next transaction's first
// allocation may silently reuse those bytes (spec §4.5 rollback note,
// SPEC_FULL.md §11 item 6).
func (a *Allocator) Rollback() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.next = uint64(a.start)
}
