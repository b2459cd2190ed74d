// Package pstore is the top-level facade over a database: open (or create)
// the single arena file, hand out write transactions, answer read-only
// index lookups against the current head revision, and compute diffs
// against older revisions (spec §4, §4.8, §4.9). It corresponds to the
// teacher's pkg/ignite.Instance, which wraps an engine.Engine the same
// way Database wraps internal/region + internal/header + internal/txn.
package pstore

import (
	"context"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/iamNilotpal/pstore/internal/diff"
	"github.com/iamNilotpal/pstore/internal/header"
	"github.com/iamNilotpal/pstore/internal/istring"
	"github.com/iamNilotpal/pstore/internal/region"
	"github.com/iamNilotpal/pstore/internal/registry"
	"github.com/iamNilotpal/pstore/internal/txn"
	"github.com/iamNilotpal/pstore/pkg/address"
	"github.com/iamNilotpal/pstore/pkg/errors"
	"github.com/iamNilotpal/pstore/pkg/filesys"
	"github.com/iamNilotpal/pstore/pkg/log"
	"github.com/iamNilotpal/pstore/pkg/options"
)

// Database is a single open arena file: its memory mapping, its bootstrap
// header, and the access mode under which it was opened.
type Database struct {
	mgr    *region.Manager
	header *header.Header
	log    *zap.SugaredLogger
	access options.AccessMode
}

// Open maps the arena file named by opts (DataDir/FileName, defaulted by
// options.NewDefaultOptions), creating both the directory and an empty
// store if neither already exists, per spec §4.4 "Initial state".
//
// There is no separate Create: region.Open already creates a zero-filled
// file on first open, and Open itself detects that condition and lays
// down a fresh header and revision-0 trailer, matching the single
// constructor shape of the teacher's NewInstance.
func Open(ctx context.Context, opts ...options.OptionFunc) (*Database, error) {
	o := options.NewDefaultOptions()
	for _, fn := range opts {
		fn(&o)
	}

	logger := log.New("pstore")

	if err := filesys.CreateDir(o.DataDir, 0o755, true); err != nil {
		return nil, errors.NewStorageError(err, errors.ErrorCodeIO, "failed to create data directory").
			WithPath(o.DataDir)
	}

	path := filepath.Join(o.DataDir, o.FileName)
	existed, err := filesys.Exists(path)
	if err != nil {
		return nil, errors.NewStorageError(err, errors.ErrorCodeIO, "failed to stat arena file").
			WithPath(path)
	}

	mgr, err := region.Open(ctx, path, &region.Config{Options: &o, Logger: logger})
	if err != nil {
		return nil, err
	}

	h, err := openOrBuildHeader(mgr, existed)
	if err != nil {
		mgr.Close()
		return nil, err
	}

	logger.Infow("database open", "path", path, "accessMode", o.AccessMode, "footer", h.CurrentFooter())
	return &Database{mgr: mgr, header: h, log: logger, access: o.AccessMode}, nil
}

// openOrBuildHeader loads an existing header, or lays down a fresh one if
// the file did not exist before this Open call (wasExisting is false) and
// the header region is still all zero, meaning region.Open just created it.
// Any other corruption is reported rather than silently overwritten.
func openOrBuildHeader(mgr *region.Manager, wasExisting bool) (*header.Header, error) {
	h, err := header.Load(mgr)
	if err == nil {
		return h, nil
	}
	if wasExisting {
		return nil, err
	}

	buf, viewErr := mgr.View(address.Address(0), header.HeaderSize)
	if viewErr != nil {
		return nil, viewErr
	}
	for _, b := range buf {
		if b != 0 {
			return nil, err
		}
	}
	return header.BuildNewStore(mgr)
}

// BeginTransaction acquires the writer lock and returns a new
// transaction, or a validation error if the database was opened
// read-only (spec §4.5, §6 access_mode).
func (db *Database) BeginTransaction() (*txn.Transaction, error) {
	if db.access == options.AccessReadOnly {
		return nil, errors.NewValidationError(nil, errors.ErrorCodeInvalidInput, "database opened read_only, cannot begin a transaction")
	}
	return txn.Begin(db.mgr, db.header, db.log, nil)
}

// GetCurrentRevision returns the trailer of the currently published head
// revision.
func (db *Database) GetCurrentRevision() (*header.Trailer, error) {
	return header.LoadTrailer(db.mgr, db.header.CurrentFooter())
}

// GetStringIndex returns a read-only handle on the interning set backing
// kind (Name or Path) as of the current head revision. A caller wanting
// to write must instead go through a Transaction's Registry.
func (db *Database) GetStringIndex(kind registry.Kind) (*registry.StringIndex, error) {
	trailer, err := db.GetCurrentRevision()
	if err != nil {
		return nil, err
	}
	root := trailer.IndexRecords[kind]

	ix, err := istring.LoadIndex(db.mgr, nil, root, false)
	if err != nil {
		return nil, err
	}
	return &registry.StringIndex{Index: ix}, nil
}

// GenerationIterator returns an iterator walking the trailer chain
// backward from the current head revision to revision 0 (spec §4.8).
func (db *Database) GenerationIterator() *diff.GenerationIterator {
	return diff.NewGenerationIterator(db.mgr, db.header.CurrentFooter())
}

// DiffStrings reports every leaf address added to kind's interning index
// in any revision strictly after oldGeneration, up to and including the
// current head revision (spec §4.8). kind must be Name or Path.
func (db *Database) DiffStrings(kind registry.Kind, oldGeneration uint64) ([]address.Address, error) {
	current, err := db.GetCurrentRevision()
	if err != nil {
		return nil, err
	}

	oldFooter, oldTrailer, err := diff.FindGeneration(db.mgr, db.header.CurrentFooter(), oldGeneration)
	if err != nil {
		return nil, err
	}

	si, err := db.GetStringIndex(kind)
	if err != nil {
		return nil, err
	}

	var added []address.Address
	err = diff.Diff(si.Index, current.Generation, oldTrailer.Generation, oldFooter, func(addr address.Address) error {
		added = append(added, addr)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return added, nil
}

// Size returns the current total size of the mapped arena file in bytes.
func (db *Database) Size() uint64 {
	return db.mgr.Size()
}

// View returns a read-only byte slice covering [addr, addr+size) of the
// arena, for callers that allocated and wrote raw bytes directly through
// a Transaction and want to read them back outside of one.
func (db *Database) View(addr address.Address, size uint64) ([]byte, error) {
	return db.mgr.View(addr, size)
}

// Sync flushes all dirty mapped pages to the backing file.
func (db *Database) Sync() error {
	return db.mgr.Sync()
}

// Close unmaps the arena file and closes its file handle.
func (db *Database) Close() error {
	db.log.Infow("database closing")
	return db.mgr.Close()
}
