// Package hamt implements the persistent, copy-on-write hash-array-mapped
// trie used for every logical index in the store (spec §4.6 — the single
// largest component of the core). A single generic Index[K, V] serves both
// maps and sets, matching the original's "one template serves both" design
// (SPEC_FULL.md §11 item 1); a set is Index[K, struct{}].
//
// Go has no tagged unions, so the index_pointer the spec describes (a word
// distinguishing heap-internal / heap-leaf / store-internal / store-leaf)
// is represented as the Pointer[K, V] struct below: an explicit kind tag
// plus the heap or store payload for that kind, exactly as spec §9's
// design notes recommend ("model as a sum type... decode at the
// boundary"). On-disk, a node's own leading byte carries the same
// information (leaf / internal / linear), so a store pointer's variant is
// resolved by peeking that byte rather than by packing tag bits into the
// address itself.
package hamt

import (
	"encoding/binary"
	"fmt"
	"math/bits"
	"sync"

	"github.com/iamNilotpal/pstore/internal/alloc"
	"github.com/iamNilotpal/pstore/internal/region"
	"github.com/iamNilotpal/pstore/pkg/address"
	"github.com/iamNilotpal/pstore/pkg/errors"
)

// maxShift is the point at which the 64-bit hash is exhausted (6 bits
// consumed per level, fan-out 64); beyond it, linear nodes hold all
// colliding children as a flat array (spec §4.6, SPEC_FULL.md §11 item 2).
const maxShift = 60

// On-disk node discriminants, stored as the first byte of every persisted
// node so that a bare store address is enough to resolve its variant.
const (
	discLeaf     byte = 0
	discInternal byte = 1
	discLinear   byte = 2
)

type ptrKind uint8

const (
	ptrNull ptrKind = iota
	ptrHeapLeaf
	ptrHeapInternal
	ptrHeapLinear
	ptrStoreLeaf
	ptrStoreBranch
)

// Pointer is the tagged reference to a HAMT node described by spec §4.6's
// "index pointer": heap-leaf, heap-internal (including linear), or a
// store address whose variant is resolved on demand.
type Pointer[K any, V any] struct {
	kind     ptrKind
	leaf     *leafEntry[K, V]
	internal *internalNode[K, V]
	linear   *linearNode[K, V]
	addr     address.Address
}

// IsNull reports whether p refers to no node at all.
func (p Pointer[K, V]) IsNull() bool { return p.kind == ptrNull }

// IsHeap reports whether p refers to an uncommitted, heap-resident node.
func (p Pointer[K, V]) IsHeap() bool {
	return p.kind == ptrHeapLeaf || p.kind == ptrHeapInternal || p.kind == ptrHeapLinear
}

// Addr returns the store address p refers to, or address.Null if p is
// null or heap-resident.
func (p Pointer[K, V]) Addr() address.Address {
	if p.kind == ptrStoreLeaf || p.kind == ptrStoreBranch {
		return p.addr
	}
	return address.Null
}

type leafEntry[K any, V any] struct {
	key   K
	value V
}

type internalNode[K any, V any] struct {
	bitmap   uint64
	children []Pointer[K, V]
}

type linearNode[K any, V any] struct {
	children []Pointer[K, V]
}

func newLeafPointer[K any, V any](key K, value V) Pointer[K, V] {
	return Pointer[K, V]{kind: ptrHeapLeaf, leaf: &leafEntry[K, V]{key: key, value: value}}
}

func makeInternalPointer[K any, V any](bitmap uint64, children []Pointer[K, V]) Pointer[K, V] {
	return Pointer[K, V]{kind: ptrHeapInternal, internal: &internalNode[K, V]{bitmap: bitmap, children: children}}
}

func makeLinearPointer[K any, V any](children []Pointer[K, V]) Pointer[K, V] {
	return Pointer[K, V]{kind: ptrHeapLinear, linear: &linearNode[K, V]{children: children}}
}

// Hasher produces the 64-bit digest the trie consumes 6 bits at a time.
type Hasher[K any] func(key K) uint64

// KeyEqual reports whether two keys are equal.
type KeyEqual[K any] func(a, b K) bool

// Codec encodes and decodes a key or value to and from its serialized
// form in the arena.
type Codec[T any] struct {
	Encode func(v T) []byte
	Decode func(buf []byte) (T, error)
}

// Entry is a single (key, value) pair yielded by iteration.
type Entry[K any, V any] struct {
	Key   K
	Value V
}

// Index is a persistent, copy-on-write HAMT mapping keys of type K to
// values of type V, or a set when V is struct{}.
type Index[K any, V any] struct {
	mu sync.Mutex

	mgr   *region.Manager
	alloc *alloc.Allocator

	hash     Hasher[K]
	equal    KeyEqual[K]
	keyCodec Codec[K]
	valCodec Codec[V]

	root     Pointer[K, V]
	size     int
	modified bool

	// writable is false when this handle was loaded from a revision other
	// than the current head; Insert then fails with
	// index_not_latest_revision (spec §4.6 Failure).
	writable bool
}

// New constructs an empty, writable index backed by mgr and a, the
// allocator of the currently open transaction.
func New[K any, V any](mgr *region.Manager, a *alloc.Allocator, hash Hasher[K], equal KeyEqual[K], keyCodec Codec[K], valCodec Codec[V]) *Index[K, V] {
	return &Index[K, V]{mgr: mgr, alloc: a, hash: hash, equal: equal, keyCodec: keyCodec, valCodec: valCodec, writable: true}
}

// Load reconstructs an index handle around a previously persisted root
// address, counting its entries. writable should be true only when root
// is loaded from the current head revision.
func Load[K any, V any](mgr *region.Manager, a *alloc.Allocator, hash Hasher[K], equal KeyEqual[K], keyCodec Codec[K], valCodec Codec[V], root address.Address, writable bool) (*Index[K, V], error) {
	ix := &Index[K, V]{mgr: mgr, alloc: a, hash: hash, equal: equal, keyCodec: keyCodec, valCodec: valCodec, writable: writable}
	if root.IsNull() {
		return ix, nil
	}

	kind, err := ix.peekKind(root)
	if err != nil {
		return nil, err
	}
	ix.root = Pointer[K, V]{kind: kind, addr: root}

	n, err := ix.count(ix.root)
	if err != nil {
		return nil, err
	}
	ix.size = n
	return ix, nil
}

// Size returns the number of entries in the index.
func (ix *Index[K, V]) Size() int { return ix.size }

// Empty reports whether the index has no entries.
func (ix *Index[K, V]) Empty() bool { return ix.size == 0 }

// Root returns the current root pointer, for diff and debugging (spec
// §4.6 "root()").
func (ix *Index[K, V]) Root() Pointer[K, V] { return ix.root }

// Insert inserts entry (key, value) if key is not already present.
// Returns (inserted=true) on success or (inserted=false) if key already
// existed, in which case the original value is left untouched (spec §4.6
// insertion idempotence, property P5).
func (ix *Index[K, V]) Insert(key K, value V) (bool, error) {
	if !ix.writable {
		return false, errors.NewNotLatestRevisionError(fmt.Sprint(key))
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	h := ix.hash(key)
	newRoot, inserted, err := ix.insertAt(ix.root, key, value, h, 0)
	if err != nil {
		return false, err
	}
	if inserted {
		ix.root = newRoot
		ix.size++
		ix.modified = true
	}
	return inserted, nil
}

// Find looks up key, returning its value and true if present, or the zero
// value and false if absent. A miss is never an error (spec §7 "lookup
// misses (non-error)").
func (ix *Index[K, V]) Find(key K) (V, bool, error) {
	var zero V

	h := ix.hash(key)
	ptr := ix.root
	shift := uint(0)

	for {
		switch {
		case ptr.kind == ptrNull:
			return zero, false, nil

		case ptr.kind == ptrHeapLeaf || ptr.kind == ptrStoreLeaf:
			leaf, err := ix.resolveLeaf(ptr)
			if err != nil {
				return zero, false, err
			}
			if ix.equal(leaf.key, key) {
				return leaf.value, true, nil
			}
			return zero, false, nil

		default:
			bitmap, children, isLinear, err := ix.loadBranchFull(ptr)
			if err != nil {
				return zero, false, err
			}

			if isLinear {
				for _, c := range children {
					leaf, err := ix.resolveLeaf(c)
					if err != nil {
						return zero, false, err
					}
					if ix.equal(leaf.key, key) {
						return leaf.value, true, nil
					}
				}
				return zero, false, nil
			}

			slot := (h >> shift) & 0x3F
			bit := uint64(1) << slot
			if bitmap&bit == 0 {
				return zero, false, nil
			}
			idx := bits.OnesCount64(bitmap & (bit - 1))
			ptr = children[idx]
			shift += 6
		}
	}
}

// insertAt implements spec §4.6's insertion algorithm: descend to the
// slot named by the next 6 bits of the hash, splitting a leaf into a new
// branch on collision, and copy-on-write every node on the path back to
// the root. Subtrees off the path keep their existing pointer untouched
// (spec §4.6 copy-on-write invariant, property P8).
func (ix *Index[K, V]) insertAt(ptr Pointer[K, V], key K, value V, h uint64, shift uint) (Pointer[K, V], bool, error) {
	switch {
	case ptr.kind == ptrNull:
		return newLeafPointer[K, V](key, value), true, nil

	case ptr.kind == ptrHeapLeaf || ptr.kind == ptrStoreLeaf:
		existing, err := ix.resolveLeaf(ptr)
		if err != nil {
			return ptr, false, err
		}
		if ix.equal(existing.key, key) {
			return ptr, false, nil
		}
		existingHash := ix.hash(existing.key)
		return ix.mergeLeaves(ptr, existingHash, newLeafPointer[K, V](key, value), h, shift)

	default:
		bitmap, children, isLinear, err := ix.loadBranchFull(ptr)
		if err != nil {
			return ptr, false, err
		}

		if isLinear {
			for _, c := range children {
				leaf, err := ix.resolveLeaf(c)
				if err != nil {
					return ptr, false, err
				}
				if ix.equal(leaf.key, key) {
					return ptr, false, nil
				}
			}
			newChildren := append(append([]Pointer[K, V]{}, children...), newLeafPointer[K, V](key, value))
			return makeLinearPointer[K, V](newChildren), true, nil
		}

		slot := (h >> shift) & 0x3F
		bit := uint64(1) << slot
		idx := bits.OnesCount64(bitmap & (bit - 1))

		if bitmap&bit == 0 {
			newChildren := make([]Pointer[K, V], len(children)+1)
			copy(newChildren[:idx], children[:idx])
			newChildren[idx] = newLeafPointer[K, V](key, value)
			copy(newChildren[idx+1:], children[idx:])
			return makeInternalPointer[K, V](bitmap|bit, newChildren), true, nil
		}

		updatedChild, inserted, err := ix.insertAt(children[idx], key, value, h, shift+6)
		if err != nil {
			return ptr, false, err
		}
		if !inserted {
			return ptr, false, nil
		}
		newChildren := append([]Pointer[K, V]{}, children...)
		newChildren[idx] = updatedChild
		return makeInternalPointer[K, V](bitmap, newChildren), true, nil
	}
}

// mergeLeaves wraps two colliding leaves in new internal nodes until
// their hash slices diverge, or produces a linear node once the hash is
// exhausted (spec §4.6 step 3).
func (ix *Index[K, V]) mergeLeaves(aPtr Pointer[K, V], aHash uint64, bPtr Pointer[K, V], bHash uint64, shift uint) (Pointer[K, V], bool, error) {
	if shift > maxShift {
		return makeLinearPointer[K, V]([]Pointer[K, V]{aPtr, bPtr}), true, nil
	}

	aSlot := (aHash >> shift) & 0x3F
	bSlot := (bHash >> shift) & 0x3F

	if aSlot != bSlot {
		var children []Pointer[K, V]
		if aSlot < bSlot {
			children = []Pointer[K, V]{aPtr, bPtr}
		} else {
			children = []Pointer[K, V]{bPtr, aPtr}
		}
		bitmap := uint64(1)<<aSlot | uint64(1)<<bSlot
		return makeInternalPointer[K, V](bitmap, children), true, nil
	}

	child, _, err := ix.mergeLeaves(aPtr, aHash, bPtr, bHash, shift+6)
	if err != nil {
		return Pointer[K, V]{}, false, err
	}
	bitmap := uint64(1) << aSlot
	return makeInternalPointer[K, V](bitmap, []Pointer[K, V]{child}), true, nil
}

// Flush serialises all heap-resident nodes reachable from the root into
// the arena, via alloc, replacing every contained pointer with its store
// form, and returns the new root address (spec §4.6 "flush"). If nothing
// has changed since the index was loaded or last flushed, it returns the
// existing root address without writing anything.
func (ix *Index[K, V]) Flush() (address.Address, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if !ix.modified {
		return ix.root.Addr(), nil
	}

	newRoot, addr, err := ix.flushPointer(ix.root)
	if err != nil {
		return address.Null, err
	}
	ix.root = newRoot
	ix.modified = false
	return addr, nil
}

func (ix *Index[K, V]) flushPointer(ptr Pointer[K, V]) (Pointer[K, V], address.Address, error) {
	switch ptr.kind {
	case ptrNull:
		return ptr, address.Null, nil

	case ptrStoreLeaf, ptrStoreBranch:
		return ptr, ptr.addr, nil

	case ptrHeapLeaf:
		addr, err := ix.writeLeaf(ptr.leaf.key, ptr.leaf.value)
		if err != nil {
			return ptr, address.Null, err
		}
		return Pointer[K, V]{kind: ptrStoreLeaf, addr: addr}, addr, nil

	case ptrHeapInternal:
		children := make([]Pointer[K, V], len(ptr.internal.children))
		for i, c := range ptr.internal.children {
			nc, _, err := ix.flushPointer(c)
			if err != nil {
				return ptr, address.Null, err
			}
			children[i] = nc
		}
		addr, err := ix.writeInternal(ptr.internal.bitmap, children)
		if err != nil {
			return ptr, address.Null, err
		}
		return Pointer[K, V]{kind: ptrStoreBranch, addr: addr}, addr, nil

	case ptrHeapLinear:
		children := make([]Pointer[K, V], len(ptr.linear.children))
		for i, c := range ptr.linear.children {
			nc, _, err := ix.flushPointer(c)
			if err != nil {
				return ptr, address.Null, err
			}
			children[i] = nc
		}
		addr, err := ix.writeLinear(children)
		if err != nil {
			return ptr, address.Null, err
		}
		return Pointer[K, V]{kind: ptrStoreBranch, addr: addr}, addr, nil
	}

	return ptr, address.Null, errors.NewIndexCorruptionError("Flush", ix.size, nil)
}

// Children returns the child pointers of a branch node (internal or
// linear) and whether it was linear, for use by internal/diff's
// threshold-pruned traversal. It is an error to call it on a leaf or null
// pointer.
func (ix *Index[K, V]) Children(ptr Pointer[K, V]) ([]Pointer[K, V], bool, error) {
	_, children, isLinear, err := ix.loadBranchFull(ptr)
	return children, isLinear, err
}

// IsLeaf reports whether ptr refers to a leaf node.
func (ix *Index[K, V]) IsLeaf(ptr Pointer[K, V]) bool {
	return ptr.kind == ptrHeapLeaf || ptr.kind == ptrStoreLeaf
}

func (ix *Index[K, V]) loadBranchFull(ptr Pointer[K, V]) (bitmap uint64, children []Pointer[K, V], isLinear bool, err error) {
	switch ptr.kind {
	case ptrHeapInternal:
		return ptr.internal.bitmap, ptr.internal.children, false, nil
	case ptrHeapLinear:
		return 0, ptr.linear.children, true, nil
	case ptrStoreBranch:
		return ix.readBranch(ptr.addr)
	}
	return 0, nil, false, errors.NewIndexCorruptionError("loadBranch", ix.size, nil)
}

func (ix *Index[K, V]) resolveLeaf(ptr Pointer[K, V]) (*leafEntry[K, V], error) {
	if ptr.kind == ptrHeapLeaf {
		return ptr.leaf, nil
	}
	if ptr.kind != ptrStoreLeaf {
		return nil, errors.NewIndexCorruptionError("resolveLeaf", ix.size, nil)
	}
	return ix.readLeaf(ptr.addr)
}

func (ix *Index[K, V]) count(ptr Pointer[K, V]) (int, error) {
	switch {
	case ptr.kind == ptrNull:
		return 0, nil
	case ptr.kind == ptrHeapLeaf || ptr.kind == ptrStoreLeaf:
		return 1, nil
	default:
		_, children, _, err := ix.loadBranchFull(ptr)
		if err != nil {
			return 0, err
		}
		total := 0
		for _, c := range children {
			n, err := ix.count(c)
			if err != nil {
				return 0, err
			}
			total += n
		}
		return total, nil
	}
}

func (ix *Index[K, V]) peekKind(addr address.Address) (ptrKind, error) {
	head, err := ix.mgr.View(addr, 1)
	if err != nil {
		return ptrNull, err
	}
	switch head[0] {
	case discLeaf:
		return ptrStoreLeaf, nil
	case discInternal, discLinear:
		return ptrStoreBranch, nil
	}
	return ptrNull, errors.NewBadAddressError(uint64(addr), "unrecognized HAMT node discriminant")
}

func (ix *Index[K, V]) readBranch(addr address.Address) (bitmap uint64, children []Pointer[K, V], isLinear bool, err error) {
	head, err := ix.mgr.View(addr, 9)
	if err != nil {
		return 0, nil, false, err
	}
	disc := head[0]
	word := binary.LittleEndian.Uint64(head[1:9])

	var n int
	switch disc {
	case discInternal:
		n = bits.OnesCount64(word)
		bitmap = word
	case discLinear:
		n = int(word)
		isLinear = true
	default:
		return 0, nil, false, errors.NewBadAddressError(uint64(addr), "expected HAMT branch node")
	}

	full, err := ix.mgr.View(addr, uint64(9+8*n))
	if err != nil {
		return 0, nil, false, err
	}

	children = make([]Pointer[K, V], n)
	for i := 0; i < n; i++ {
		off := 9 + i*8
		childAddr := address.Address(binary.LittleEndian.Uint64(full[off : off+8]))
		kind, err := ix.peekKind(childAddr)
		if err != nil {
			return 0, nil, false, err
		}
		children[i] = Pointer[K, V]{kind: kind, addr: childAddr}
	}
	return bitmap, children, isLinear, nil
}

func (ix *Index[K, V]) readLeaf(addr address.Address) (*leafEntry[K, V], error) {
	head, err := ix.mgr.View(addr, 5)
	if err != nil {
		return nil, err
	}
	if head[0] != discLeaf {
		return nil, errors.NewBadAddressError(uint64(addr), "expected HAMT leaf node")
	}
	keyLen := binary.LittleEndian.Uint32(head[1:5])

	withKey, err := ix.mgr.View(addr, uint64(5+int(keyLen)+4))
	if err != nil {
		return nil, err
	}
	keyBytes := withKey[5 : 5+keyLen]
	valLen := binary.LittleEndian.Uint32(withKey[5+keyLen : 5+keyLen+4])

	full, err := ix.mgr.View(addr, uint64(5+int(keyLen)+4+int(valLen)))
	if err != nil {
		return nil, err
	}
	valBytes := full[5+keyLen+4 : 5+keyLen+4+valLen]

	key, err := ix.keyCodec.Decode(keyBytes)
	if err != nil {
		return nil, err
	}
	val, err := ix.valCodec.Decode(valBytes)
	if err != nil {
		return nil, err
	}
	return &leafEntry[K, V]{key: key, value: val}, nil
}

func (ix *Index[K, V]) writeLeaf(key K, value V) (address.Address, error) {
	keyBytes := ix.keyCodec.Encode(key)
	valBytes := ix.valCodec.Encode(value)
	size := uint64(5 + len(keyBytes) + 4 + len(valBytes))

	addr, err := ix.alloc.Allocate(size, 8)
	if err != nil {
		return address.Null, err
	}
	buf, err := ix.mgr.View(addr, size)
	if err != nil {
		return address.Null, err
	}

	buf[0] = discLeaf
	binary.LittleEndian.PutUint32(buf[1:5], uint32(len(keyBytes)))
	copy(buf[5:5+len(keyBytes)], keyBytes)
	off := 5 + len(keyBytes)
	binary.LittleEndian.PutUint32(buf[off:off+4], uint32(len(valBytes)))
	copy(buf[off+4:off+4+len(valBytes)], valBytes)

	return addr, nil
}

func (ix *Index[K, V]) writeInternal(bitmap uint64, children []Pointer[K, V]) (address.Address, error) {
	n := len(children)
	size := uint64(9 + 8*n)

	addr, err := ix.alloc.Allocate(size, 8)
	if err != nil {
		return address.Null, err
	}
	buf, err := ix.mgr.View(addr, size)
	if err != nil {
		return address.Null, err
	}

	buf[0] = discInternal
	binary.LittleEndian.PutUint64(buf[1:9], bitmap)
	for i, c := range children {
		off := 9 + i*8
		binary.LittleEndian.PutUint64(buf[off:off+8], uint64(c.addr))
	}
	return addr, nil
}

func (ix *Index[K, V]) writeLinear(children []Pointer[K, V]) (address.Address, error) {
	n := len(children)
	size := uint64(9 + 8*n)

	addr, err := ix.alloc.Allocate(size, 8)
	if err != nil {
		return address.Null, err
	}
	buf, err := ix.mgr.View(addr, size)
	if err != nil {
		return address.Null, err
	}

	buf[0] = discLinear
	binary.LittleEndian.PutUint64(buf[1:9], uint64(n))
	for i, c := range children {
		off := 9 + i*8
		binary.LittleEndian.PutUint64(buf[off:off+8], uint64(c.addr))
	}
	return addr, nil
}

// Iterator is a single-pass, forward-only iterator over all entries of an
// index in unspecified order (spec §4.6 "begin(db)/end(db)").
type Iterator[K any, V any] struct {
	ix    *Index[K, V]
	stack []Pointer[K, V]
	err   error
}

// Begin returns an iterator positioned before the first entry.
func (ix *Index[K, V]) Begin() *Iterator[K, V] {
	it := &Iterator[K, V]{ix: ix}
	if !ix.root.IsNull() {
		it.stack = []Pointer[K, V]{ix.root}
	}
	return it
}

// Next advances the iterator, returning the next entry and true, or the
// zero entry and false once exhausted. Check Err after a false return.
func (it *Iterator[K, V]) Next() (Entry[K, V], bool) {
	for len(it.stack) > 0 {
		ptr := it.stack[len(it.stack)-1]
		it.stack = it.stack[:len(it.stack)-1]

		if ptr.kind == ptrHeapLeaf || ptr.kind == ptrStoreLeaf {
			leaf, err := it.ix.resolveLeaf(ptr)
			if err != nil {
				it.err = err
				return Entry[K, V]{}, false
			}
			return Entry[K, V]{Key: leaf.key, Value: leaf.value}, true
		}

		_, children, _, err := it.ix.loadBranchFull(ptr)
		if err != nil {
			it.err = err
			return Entry[K, V]{}, false
		}
		it.stack = append(it.stack, children...)
	}
	return Entry[K, V]{}, false
}

// Err returns the first error encountered during iteration, if any.
func (it *Iterator[K, V]) Err() error { return it.err }
