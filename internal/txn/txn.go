// Package txn implements the single-writer transaction that gates every
// mutation of the store (spec §4.5): a state machine running
// open -> active -> committed, or open/active -> rolled_back, holding the
// file's writer lock for its entire lifetime.
package txn

import (
	"time"

	"github.com/iamNilotpal/pstore/internal/alloc"
	"github.com/iamNilotpal/pstore/internal/header"
	"github.com/iamNilotpal/pstore/internal/region"
	"github.com/iamNilotpal/pstore/internal/registry"
	"github.com/iamNilotpal/pstore/pkg/address"
	"github.com/iamNilotpal/pstore/pkg/errors"

	"go.uber.org/zap"
)

// State is a transaction's position in its lifecycle (spec §4.5
// "States").
type State int

const (
	// StateOpen is the initial state: the lock is held but no bytes have
	// been allocated yet.
	StateOpen State = iota
	// StateActive means at least one Allocate call has succeeded.
	StateActive
	// StateCommitted is terminal: the commit protocol has run to
	// completion and the lock has been released.
	StateCommitted
	// StateRolledBack is terminal: the transaction was abandoned without
	// committing and the lock has been released.
	StateRolledBack
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateActive:
		return "active"
	case StateCommitted:
		return "committed"
	case StateRolledBack:
		return "rolled_back"
	default:
		return "unknown"
	}
}

// Transaction is the single in-flight writer permitted against a store at
// any moment. It owns the writer lock, an allocator rooted at the
// previous revision's trailer end, and the per-kind index registry.
type Transaction struct {
	mgr    *region.Manager
	header *header.Header
	alloc  *alloc.Allocator
	reg    *registry.Registry
	log    *zap.SugaredLogger

	state State

	prevFooter  address.Address
	prevTrailer *header.Trailer

	firstAllocated address.Address
	haveFirst      bool

	nowMillis func() uint64
}

// Begin acquires the writer lock on mgr's backing file, loads the current
// head revision, and returns an open transaction. nowMillis supplies the
// trailer's timestamp field; pass nil to use wall-clock time.
func Begin(mgr *region.Manager, h *header.Header, log *zap.SugaredLogger, nowMillis func() uint64) (*Transaction, error) {
	if err := mgr.Lock(); err != nil {
		return nil, err
	}

	footer := h.CurrentFooter()
	trailer, err := header.LoadTrailer(mgr, footer)
	if err != nil {
		mgr.Unlock()
		return nil, err
	}

	start := address.Address(uint64(footer) + header.TrailerSize)
	a := alloc.New(mgr, start)
	tx := &Transaction{
		mgr:         mgr,
		header:      h,
		alloc:       a,
		reg:         registry.New(mgr, a, trailer.IndexRecords),
		log:         log,
		state:       StateOpen,
		prevFooter:  footer,
		prevTrailer: trailer,
		nowMillis:   nowMillis,
	}

	log.Debugw("transaction begun", "prevGeneration", trailer.Generation, "prevFooter", footer)
	return tx, nil
}

// State returns the transaction's current lifecycle state.
func (tx *Transaction) State() State { return tx.state }

// Registry returns the index registry scoped to this transaction.
func (tx *Transaction) Registry() *registry.Registry { return tx.reg }

// Allocate reserves size bytes aligned to align in the arena, transitioning
// open -> active on the first call (spec §4.5 "allocate").
func (tx *Transaction) Allocate(size, align uint64) (address.Address, error) {
	if tx.state == StateCommitted || tx.state == StateRolledBack {
		return address.Null, errors.NewValidationError(nil, errors.ErrorCodeInvalidTransactionState, "cannot_allocate_after_commit").
			WithField("state").WithProvided(tx.state.String())
	}

	addr, err := tx.alloc.Allocate(size, align)
	if err != nil {
		return address.Null, err
	}

	if tx.state == StateOpen {
		tx.state = StateActive
	}
	if !tx.haveFirst {
		tx.firstAllocated = addr
		tx.haveFirst = true
	}
	return addr, nil
}

// GetReadOnly returns an immutable view of size bytes at addr.
func (tx *Transaction) GetReadOnly(addr address.Address, size uint64) ([]byte, error) {
	return tx.mgr.View(addr, size)
}

// GetWritable returns a writable view of size bytes at addr. addr must lie
// within the range this transaction itself has allocated (spec §4.5
// "only legal for addresses within [first_allocated_, first_allocated_ +
// size_)").
func (tx *Transaction) GetWritable(addr address.Address, size uint64) ([]byte, error) {
	if !tx.haveFirst || uint64(addr) < uint64(tx.firstAllocated) || uint64(addr)+size > uint64(tx.alloc.End()) {
		return nil, errors.NewFormatError(nil, errors.ErrorCodeBadAddress, "writable view requested outside bytes allocated by this transaction").
			WithAddress(uint64(addr))
	}
	return tx.mgr.View(addr, size)
}

// Allocator exposes the transaction's allocator for components (HAMT
// indices, the string adder) that need to reserve arena space directly.
func (tx *Transaction) Allocator() *alloc.Allocator { return tx.alloc }

// Manager exposes the transaction's region manager for components that
// need direct read access to the arena.
func (tx *Transaction) Manager() *region.Manager { return tx.mgr }

// Commit runs the eight-step commit protocol of spec §4.5: flush every
// touched index, allocate and write a new trailer, atomically publish it,
// protect the committed range, and release the writer lock.
func (tx *Transaction) Commit() error {
	if tx.state == StateCommitted || tx.state == StateRolledBack {
		return errors.NewValidationError(nil, errors.ErrorCodeInvalidTransactionState, "transaction already finalized").
			WithField("state").WithProvided(tx.state.String())
	}

	if !tx.haveFirst && !tx.reg.AnyTouched() {
		// Empty commit (spec §8 scenario 1): nothing was allocated and no
		// index was touched, so no new revision is published. footer_pos
		// and the trailer chain are left exactly as found.
		tx.state = StateCommitted
		if err := tx.mgr.Unlock(); err != nil {
			return err
		}
		tx.log.Debugw("empty transaction committed as no-op", "generation", tx.prevTrailer.Generation)
		return nil
	}

	if err := tx.reg.FlushAll(); err != nil {
		return err
	}
	locations := tx.reg.Roots()

	trailerSize := uint64(header.TrailerSize)
	trailerAddr, err := tx.alloc.Allocate(trailerSize, 8)
	if err != nil {
		return err
	}

	newTrailer := &header.Trailer{
		Generation:     tx.prevTrailer.Generation + 1,
		Size:           tx.alloc.BytesAllocated() - trailerSize,
		TimeMs:         tx.now(),
		PrevGeneration: address.MakeTyped[header.Trailer](tx.prevFooter),
		IndexRecords:   locations,
	}

	if err := header.WriteTrailer(tx.mgr, trailerAddr, newTrailer); err != nil {
		return err
	}

	// Linearisation point: the new revision becomes observable the
	// instant this store completes.
	if err := header.PublishFooter(tx.mgr, tx.header, trailerAddr); err != nil {
		return err
	}

	protectFrom := tx.firstAllocated
	if !tx.haveFirst {
		protectFrom = trailerAddr
	}
	protectTo := address.Address(uint64(trailerAddr) + trailerSize)
	if err := tx.mgr.Protect(protectFrom, protectTo); err != nil {
		tx.log.Errorw("commit: failed to protect committed range", "error", err)
	}

	tx.state = StateCommitted
	if err := tx.mgr.Unlock(); err != nil {
		return err
	}

	tx.log.Infow("transaction committed", "generation", newTrailer.Generation, "footer", trailerAddr)
	return nil
}

// Rollback abandons the transaction, rewinding the allocator's
// high-water mark to the previous revision's end and releasing the
// writer lock. The backing file is not shrunk (spec §4.5 rollback note).
func (tx *Transaction) Rollback() error {
	if tx.state == StateCommitted || tx.state == StateRolledBack {
		return nil
	}

	tx.alloc.Rollback()
	tx.state = StateRolledBack

	if err := tx.mgr.Unlock(); err != nil {
		return err
	}
	tx.log.Debugw("transaction rolled back", "prevGeneration", tx.prevTrailer.Generation)
	return nil
}

func (tx *Transaction) now() uint64 {
	if tx.nowMillis != nil {
		return tx.nowMillis()
	}
	return uint64(time.Now().UnixMilli())
}
