// Package istring implements the indirect-string interning protocol (spec
// §4.7): every string body in the store (names, paths) is written at most
// once, addressed indirectly through a small fixed-size pointer cell so
// that the underlying HAMT set can give every interned string a stable
// identity before its body has even been written.
//
// A Ref is deliberately NOT the phantom-typed address.Typed[T] used
// elsewhere: its three states (heap view, pending pointer-slot, resolved)
// cannot all be expressed as plain store addresses, since "heap view" is
// an in-process byte slice with no on-disk existence at all.
package istring

import (
	"bytes"
	"encoding/binary"

	"github.com/cespare/xxhash/v2"

	"github.com/iamNilotpal/pstore/internal/alloc"
	"github.com/iamNilotpal/pstore/internal/hamt"
	"github.com/iamNilotpal/pstore/internal/region"
	"github.com/iamNilotpal/pstore/pkg/address"
	"github.com/iamNilotpal/pstore/pkg/errors"
)

// Ref is an indirect-string reference in one of the three states spec
// §4.7 describes:
//
//   - heap view: carries view directly, no arena address yet exists.
//   - heap-pointer-slot: the arena cell at SlotAddress() exists and has
//     been inserted into the interning set, but its contents still await
//     the body write that Adder.Flush performs.
//   - fully-in-store: the arena cell at SlotAddress() holds the address
//     of a written, immutable body.
//
// Both non-heap states are carried as the same physical slot address; only
// bit 0, which a 8-byte-aligned slot address never itself sets, tags which
// of the two applies.
type Ref struct {
	heap bool
	view []byte
	addr address.Address
}

// HeapView wraps data as a transient, not-yet-interned string reference.
func HeapView(data []byte) Ref {
	return Ref{heap: true, view: data}
}

// ResolvedRef wraps slot, the address of an interned string's pointer
// cell, as a fully-in-store reference. Use it once a slot address has
// been obtained from a committed index's Find, where it is always
// resolved; a freshly Add-ed but not yet Flush-ed slot should instead use
// the Ref that Add itself returned.
func ResolvedRef(slot address.Address) Ref { return taggedRef(slot, true) }

func taggedRef(slot address.Address, resolved bool) Ref {
	a := uint64(slot)
	if resolved {
		a &^= 1
	} else {
		a |= 1
	}
	return Ref{addr: address.Address(a)}
}

// IsHeapView reports whether r is still a bare in-memory view.
func (r Ref) IsHeapView() bool { return r.heap }

// IsHeapPointerSlot reports whether r names an arena slot whose body has
// not yet been written (Adder.Flush has not run since this string was
// added).
func (r Ref) IsHeapPointerSlot() bool { return !r.heap && uint64(r.addr)&1 == 1 }

// IsFullyInStore reports whether r names an arena slot whose contents
// point at a written, immutable body.
func (r Ref) IsFullyInStore() bool { return !r.heap && uint64(r.addr)&1 == 0 }

// SlotAddress returns the arena address of r's pointer cell, or
// address.Null if r is still a heap view.
func (r Ref) SlotAddress() address.Address {
	if r.heap {
		return address.Null
	}
	return address.Address(uint64(r.addr) &^ 1)
}

// GetView resolves ref to its byte content. A heap view resolves
// immediately; a resolved store reference follows the slot to its body.
// Resolving a pending (not yet flushed) slot is a bad_address failure
// per spec §4.7.
func GetView(mgr *region.Manager, ref Ref) ([]byte, error) {
	if ref.heap {
		return ref.view, nil
	}
	if ref.IsHeapPointerSlot() {
		return nil, errors.NewBadAddressError(uint64(ref.addr), "indirect string body not yet flushed")
	}

	slotBuf, err := mgr.View(ref.SlotAddress(), 8)
	if err != nil {
		return nil, err
	}
	bodyAddr := address.Address(binary.LittleEndian.Uint64(slotBuf))

	lenBuf, err := mgr.View(bodyAddr, 4)
	if err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenBuf)

	full, err := mgr.View(bodyAddr, uint64(4+n))
	if err != nil {
		return nil, err
	}
	return full[4 : 4+n], nil
}

// Equal reports whether a and b resolve to byte-identical content. Two
// fully-in-store references are compared by address alone, per the
// string-uniqueness invariant (spec §3 invariant 4) rather than by
// re-reading and comparing their bodies.
func Equal(mgr *region.Manager, a, b Ref) (bool, error) {
	if a.IsFullyInStore() && b.IsFullyInStore() {
		return a.SlotAddress() == b.SlotAddress(), nil
	}

	av, err := GetView(mgr, a)
	if err != nil {
		return false, err
	}
	bv, err := GetView(mgr, b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(av, bv), nil
}

// hashContent is the interning set's key hasher, used consistently by
// NewIndex, Adder and any direct index.Find callers.
func hashContent(s string) uint64 { return xxhash.Sum64String(s) }

func equalContent(a, b string) bool { return a == b }

var contentCodec = hamt.Codec[string]{
	Encode: func(s string) []byte { return []byte(s) },
	Decode: func(b []byte) (string, error) { return string(b), nil },
}

var slotCodec = hamt.Codec[address.Address]{
	Encode: func(a address.Address) []byte {
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, uint64(a))
		return buf
	},
	Decode: func(b []byte) (address.Address, error) {
		return address.Address(binary.LittleEndian.Uint64(b)), nil
	},
}

// NewIndex constructs the HAMT set backing an interning index: content
// string to the address of its pointer slot.
func NewIndex(mgr *region.Manager, a *alloc.Allocator) *hamt.Index[string, address.Address] {
	return hamt.New[string, address.Address](mgr, a, hashContent, equalContent, contentCodec, slotCodec)
}

// LoadIndex reconstructs an interning index around a previously persisted
// root.
func LoadIndex(mgr *region.Manager, a *alloc.Allocator, root address.Address, writable bool) (*hamt.Index[string, address.Address], error) {
	return hamt.Load[string, address.Address](mgr, a, hashContent, equalContent, contentCodec, slotCodec, root, writable)
}

type pendingBody struct {
	content []byte
	slot    address.Address
}

// Adder implements the two-phase add-then-flush protocol of spec §4.7.
// Add decides interning membership and reserves a pointer slot
// immediately; Flush writes the deferred bodies and patches each slot
// to point at its body, in allocation order.
type Adder struct {
	mgr   *region.Manager
	alloc *alloc.Allocator
	ix    *hamt.Index[string, address.Address]

	pendingByContent map[string]address.Address
	pending          []pendingBody
}

// NewAdder constructs a string adder writing new slots and bodies through
// mgr and a, and interning membership into ix.
func NewAdder(mgr *region.Manager, a *alloc.Allocator, ix *hamt.Index[string, address.Address]) *Adder {
	return &Adder{mgr: mgr, alloc: a, ix: ix, pendingByContent: map[string]address.Address{}}
}

// Add interns view, returning a Ref to it. If view's content is already
// present in the index or was already added earlier in this transaction,
// the existing reference is returned instead of allocating a new slot
// (the add step is idempotent, mirroring HAMT Insert's own idempotence).
func (ad *Adder) Add(view []byte) (Ref, error) {
	content := string(view)

	if slot, ok := ad.pendingByContent[content]; ok {
		return taggedRef(slot, false), nil
	}

	if slot, found, err := ad.ix.Find(content); err != nil {
		return Ref{}, err
	} else if found {
		return taggedRef(slot, true), nil
	}

	slot, err := ad.alloc.Allocate(8, 8)
	if err != nil {
		return Ref{}, err
	}
	slotBuf, err := ad.mgr.View(slot, 8)
	if err != nil {
		return Ref{}, err
	}
	binary.LittleEndian.PutUint64(slotBuf, 0)

	if _, err := ad.ix.Insert(content, slot); err != nil {
		return Ref{}, err
	}

	ad.pendingByContent[content] = slot
	ad.pending = append(ad.pending, pendingBody{content: []byte(content), slot: slot})

	return taggedRef(slot, false), nil
}

// Flush writes the body of every string added (but not yet flushed) in
// this transaction, 2-byte aligned and length-prefixed, and patches each
// reserved slot to point at it. It does not itself flush the backing
// HAMT; callers flush the index separately once all of a transaction's
// indices are ready to be serialized (spec §4.9 "at commit... invokes
// their flush").
func (ad *Adder) Flush() error {
	for _, p := range ad.pending {
		size := uint64(4 + len(p.content))
		bodyAddr, err := ad.alloc.Allocate(size, 2)
		if err != nil {
			return err
		}

		buf, err := ad.mgr.View(bodyAddr, size)
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint32(buf[0:4], uint32(len(p.content)))
		copy(buf[4:], p.content)

		slotBuf, err := ad.mgr.View(p.slot, 8)
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint64(slotBuf, uint64(bodyAddr))
	}

	ad.pending = nil
	ad.pendingByContent = map[string]address.Address{}
	return nil
}
