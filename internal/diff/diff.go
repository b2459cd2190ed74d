// Package diff implements the generation iterator and the address-threshold
// diff walk of spec §4.8: given an old revision, find every HAMT leaf added
// (or re-addressed) since then without visiting any subtree that structural
// sharing guarantees is unchanged.
package diff

import (
	"github.com/iamNilotpal/pstore/internal/hamt"
	"github.com/iamNilotpal/pstore/internal/header"
	"github.com/iamNilotpal/pstore/internal/region"
	"github.com/iamNilotpal/pstore/pkg/address"
	"github.com/iamNilotpal/pstore/pkg/errors"
)

// GenerationIterator walks the trailer chain from a starting revision back
// to revision 0, forward-only, revalidating each trailer as it follows
// prev_generation (spec §4.8 "Generation iterator").
type GenerationIterator struct {
	mgr     *region.Manager
	current *header.Trailer
	err     error
}

// NewGenerationIterator positions an iterator at the trailer whose address
// is start.
func NewGenerationIterator(mgr *region.Manager, start address.Address) *GenerationIterator {
	it := &GenerationIterator{mgr: mgr}
	if start.IsNull() {
		return it
	}
	t, err := header.LoadTrailer(mgr, start)
	if err != nil {
		it.err = err
		return it
	}
	it.current = t
	return it
}

// Done reports whether iteration has reached the end (the null address)
// or encountered an error.
func (it *GenerationIterator) Done() bool {
	return it.current == nil || it.err != nil
}

// Trailer returns the trailer the iterator currently points at. Valid only
// when Done() is false.
func (it *GenerationIterator) Trailer() *header.Trailer { return it.current }

// Err returns the first error encountered while following the chain.
func (it *GenerationIterator) Err() error { return it.err }

// Next advances the iterator to the previous generation's trailer.
func (it *GenerationIterator) Next() {
	if it.Done() {
		return
	}
	prev := it.current.PrevGeneration.Addr
	if prev.IsNull() {
		it.current = nil
		return
	}
	t, err := header.LoadTrailer(it.mgr, prev)
	if err != nil {
		it.err = err
		it.current = nil
		return
	}
	it.current = t
}

// Diff finds every leaf of ix added, in any revision strictly after
// oldRevisionFooter's trailer, up to and including the index's current
// root (spec §4.8). currentGeneration and oldGeneration are the
// trailers' generation counters, used only to detect the no-op cases
// ("old_revision == current_revision" and "old_revision invalid").
// emit is called once per newly-added leaf address, in unspecified
// traversal order.
func Diff[K any, V any](ix *hamt.Index[K, V], currentGeneration, oldGeneration uint64, oldRevisionFooter address.Address, emit func(address.Address) error) error {
	if oldGeneration >= currentGeneration {
		return nil
	}

	threshold := address.Address(uint64(oldRevisionFooter) + 1)
	root := ix.Root()
	if !isNew(root, threshold) {
		return nil
	}
	return walk(ix, root, threshold, emit)
}

func isNew[K any, V any](p hamt.Pointer[K, V], threshold address.Address) bool {
	if p.IsHeap() {
		return true
	}
	return uint64(p.Addr()) >= uint64(threshold)
}

func walk[K any, V any](ix *hamt.Index[K, V], ptr hamt.Pointer[K, V], threshold address.Address, emit func(address.Address) error) error {
	if ptr.IsNull() {
		return nil
	}

	if ix.IsLeaf(ptr) {
		if isNew(ptr, threshold) {
			return emit(ptr.Addr())
		}
		return nil
	}

	children, _, err := ix.Children(ptr)
	if err != nil {
		return err
	}

	for _, child := range children {
		if !isNew(child, threshold) {
			continue
		}
		if err := walk(ix, child, threshold, emit); err != nil {
			return err
		}
	}
	return nil
}

// ErrNoSuchRevision is returned by helpers that resolve a generation
// number to a trailer address when the chain is exhausted before reaching
// it.
var ErrNoSuchRevision = errors.NewIndexCorruptionError("resolveRevision", 0, nil)

// FindGeneration walks the chain starting at head looking for the trailer
// whose Generation equals want, returning its address. It is a small
// convenience used by callers that only know a target generation number,
// not its trailer's address.
func FindGeneration(mgr *region.Manager, head address.Address, want uint64) (address.Address, *header.Trailer, error) {
	it := NewGenerationIterator(mgr, head)
	for !it.Done() {
		t := it.Trailer()
		if t.Generation == want {
			return head, t, nil
		}
		head = t.PrevGeneration.Addr
		it.Next()
	}
	if it.Err() != nil {
		return address.Null, nil, it.Err()
	}
	return address.Null, nil, ErrNoSuchRevision
}
