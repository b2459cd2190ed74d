// Package address defines the byte-offset addressing scheme used throughout
// the store: plain addresses, type-tagged addresses, extents (address+size
// pairs) and the single atomically-published address that commits a
// revision.
package address

import (
	"fmt"
	"sync/atomic"
)

// Address is a 64-bit byte offset into the logical file. The zero value is
// the null sentinel: no valid record is ever written at offset 0 because the
// store's header always occupies it.
type Address uint64

// Null is the sentinel value meaning "no address".
const Null Address = 0

// IsNull reports whether a is the null sentinel.
func (a Address) IsNull() bool {
	return a == Null
}

// String renders the address as a hex offset, e.g. "0x1a40".
func (a Address) String() string {
	return fmt.Sprintf("0x%x", uint64(a))
}

// Offset returns the low bits of the address within its region, given a
// region size that is a power of two.
func (a Address) Offset(regionSize uint64) uint64 {
	return uint64(a) & (regionSize - 1)
}

// Segment returns the region index containing a, given a region size that is
// a power of two.
func (a Address) Segment(regionSize uint64) uint64 {
	return uint64(a) / regionSize
}

// Typed wraps an Address with a phantom type so that callers cannot
// accidentally treat a Trailer address as a Fragment address and so on. The
// zero value is the null typed address.
type Typed[T any] struct {
	Addr Address
}

// MakeTyped constructs a Typed[T] from a plain Address.
func MakeTyped[T any](a Address) Typed[T] {
	return Typed[T]{Addr: a}
}

// IsNull reports whether the wrapped address is null.
func (t Typed[T]) IsNull() bool {
	return t.Addr.IsNull()
}

// Extent names a contiguous run of storage: an address and a byte size.
type Extent[T any] struct {
	Addr Typed[T]
	Size uint64
}

// IsEmpty reports whether the extent names zero bytes at a null address,
// which is how an absent/empty record is conventionally represented.
func (e Extent[T]) IsEmpty() bool {
	return e.Addr.IsNull() && e.Size == 0
}

// CalcAlignment returns the number of padding bytes that must follow pos so
// that pos+padding is a multiple of align. align must be a power of two.
func CalcAlignment(pos uint64, align uint64) uint64 {
	if align <= 1 {
		return 0
	}
	rem := pos % align
	if rem == 0 {
		return 0
	}
	return align - rem
}

// AlignUp rounds pos up to the next multiple of align.
func AlignUp(pos uint64, align uint64) uint64 {
	return pos + CalcAlignment(pos, align)
}

// AtomicAddress is the single mutable word in the store's header
// (header.footer_pos). Store uses release semantics and Load uses acquire
// semantics on platforms where Go's atomic package exposes the distinction;
// on all currently supported Go architectures a plain atomic load/store over
// a naturally aligned word is sequentially consistent, which is a strictly
// stronger guarantee than the spec requires.
type AtomicAddress struct {
	v atomic.Uint64
}

// Load performs an acquire-load of the published address.
func (a *AtomicAddress) Load() Address {
	return Address(a.v.Load())
}

// Store performs a release-store that publishes addr as the new value.
// This is the commit linearisation point described in spec §4.5 step 6.
func (a *AtomicAddress) Store(addr Address) {
	a.v.Store(uint64(addr))
}

// CompareAndSwap atomically sets the address to new if the current value is
// old, returning whether the swap took place.
func (a *AtomicAddress) CompareAndSwap(old, new Address) bool {
	return a.v.CompareAndSwap(uint64(old), uint64(new))
}
