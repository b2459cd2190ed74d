// Package registry implements the fixed enumeration of named indices that
// every trailer carries a root for (spec §4.9). It does not know how to
// decode any particular index's key/value types itself; it hands out
// backing indirect-string sets for the two string-keyed kinds only. The
// digest-keyed kinds (Fragment, Compilation, DebugLineHeader, Write) keep
// their trailer slot, and their roots are carried forward unchanged from
// revision to revision, but no package in this module builds or opens an
// index for them.
package registry

import (
	"github.com/iamNilotpal/pstore/internal/alloc"
	"github.com/iamNilotpal/pstore/internal/hamt"
	"github.com/iamNilotpal/pstore/internal/istring"
	"github.com/iamNilotpal/pstore/internal/region"
	"github.com/iamNilotpal/pstore/pkg/address"
	"github.com/iamNilotpal/pstore/pkg/errors"
)

// Kind enumerates the canonical indices named in every trailer's
// index_records array, in storage-slot order (spec §4.9). This is the
// resolution of spec.md's Open Question #1, taken from
// original_source/include/pstore/core/index_types.hpp's exhaustive list.
type Kind int

const (
	Name Kind = iota
	Path
	Fragment
	Compilation
	DebugLineHeader
	Write
	numKinds
)

func (k Kind) String() string {
	switch k {
	case Name:
		return "name"
	case Path:
		return "path"
	case Fragment:
		return "fragment"
	case Compilation:
		return "compilation"
	case DebugLineHeader:
		return "debug_line_header"
	case Write:
		return "write"
	default:
		return "unknown"
	}
}

// NumKinds is the fixed number of registered index kinds, matching
// internal/header.NumIndices.
const NumKinds = int(numKinds)

// StringIndex pairs an interning index with the string adder that feeds
// it, for the two string-keyed kinds (Name, Path).
type StringIndex struct {
	Index *hamt.Index[string, address.Address]
	Adder *istring.Adder
}

// Registry lazily loads and caches, per transaction, the backing index
// for each kind a caller touches, and flushes all touched indices at
// commit.
type Registry struct {
	mgr   *region.Manager
	alloc *alloc.Allocator

	strings [2]*StringIndex // indexed by Name, Path
	roots   [NumKinds]address.Address
	touched [NumKinds]bool
}

// New constructs a registry around the given trailer's index_records,
// which become the lazily-loaded roots for each kind.
func New(mgr *region.Manager, a *alloc.Allocator, roots [NumKinds]address.Address) *Registry {
	return &Registry{mgr: mgr, alloc: a, roots: roots}
}

// GetStringIndex returns the backing interning index and adder for kind,
// which must be Name or Path, constructing an empty one if create is true
// and none exists yet, per spec §4.9 "null root with create=false yields
// an empty handle".
func (r *Registry) GetStringIndex(kind Kind, create bool) (*StringIndex, error) {
	if kind != Name && kind != Path {
		return nil, errors.NewIndexCorruptionError("GetStringIndex", 0, nil)
	}
	slot := kind

	if r.strings[slot] != nil {
		return r.strings[slot], nil
	}

	root := r.roots[kind]
	if root.IsNull() && !create {
		return nil, nil
	}

	var ix *hamt.Index[string, address.Address]
	var err error
	if root.IsNull() {
		ix = istring.NewIndex(r.mgr, r.alloc)
	} else {
		ix, err = istring.LoadIndex(r.mgr, r.alloc, root, true)
		if err != nil {
			return nil, err
		}
	}

	si := &StringIndex{Index: ix, Adder: istring.NewAdder(r.mgr, r.alloc, ix)}
	r.strings[slot] = si
	r.touched[kind] = true
	return si, nil
}

// AnyTouched reports whether any kind's index was loaded or created during
// this transaction. A commit that touches no index and allocates no bytes
// directly is the "empty commit" of spec §8 scenario 1: it publishes no
// new revision at all.
func (r *Registry) AnyTouched() bool {
	for _, t := range r.touched {
		if t {
			return true
		}
	}
	return false
}

// Root returns the current (possibly not yet flushed) root address
// recorded for kind, for use in the commit protocol once flushing is
// complete.
func (r *Registry) Root(kind Kind) address.Address {
	return r.roots[kind]
}

// FlushAll flushes every index touched during this transaction, writing
// its resulting root back into the registry's per-kind slots, which the
// caller then copies into the new trailer's index_records (spec §4.9 "at
// commit... invokes their flush").
func (r *Registry) FlushAll() error {
	for kind := Name; kind <= Path; kind++ {
		si := r.strings[kind]
		if si == nil {
			continue
		}
		if err := si.Adder.Flush(); err != nil {
			return err
		}
		root, err := si.Index.Flush()
		if err != nil {
			return err
		}
		r.roots[kind] = root
	}
	return nil
}

// Roots returns the full set of index roots, in index_records order,
// ready to be written into a new trailer.
func (r *Registry) Roots() [NumKinds]address.Address {
	return r.roots
}
