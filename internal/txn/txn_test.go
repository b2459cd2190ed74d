package txn_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iamNilotpal/pstore/internal/header"
	"github.com/iamNilotpal/pstore/internal/region"
	"github.com/iamNilotpal/pstore/internal/registry"
	"github.com/iamNilotpal/pstore/internal/txn"
	"github.com/iamNilotpal/pstore/pkg/log"
	"github.com/iamNilotpal/pstore/pkg/options"
)

func newStore(t *testing.T) (*region.Manager, *header.Header) {
	t.Helper()
	opts := options.NewDefaultOptions()
	opts.RegionSize = 64 * 1024
	mgr, err := region.Open(context.Background(), filepath.Join(t.TempDir(), "store.pst"), &region.Config{
		Options: &opts,
		Logger:  log.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Close() })

	h, err := header.BuildNewStore(mgr)
	require.NoError(t, err)
	return mgr, h
}

func fixedClock(ms uint64) func() uint64 {
	return func() uint64 { return ms }
}

func TestBeginStartsInOpenState(t *testing.T) {
	mgr, h := newStore(t)
	tx, err := txn.Begin(mgr, h, log.Nop(), fixedClock(1000))
	require.NoError(t, err)
	assert.Equal(t, txn.StateOpen, tx.State())
	require.NoError(t, tx.Rollback())
}

func TestAllocateTransitionsToActive(t *testing.T) {
	mgr, h := newStore(t)
	tx, err := txn.Begin(mgr, h, log.Nop(), fixedClock(1000))
	require.NoError(t, err)
	defer tx.Rollback()

	_, err = tx.Allocate(16, 8)
	require.NoError(t, err)
	assert.Equal(t, txn.StateActive, tx.State())
}

func TestGetWritableRejectsAddressOutsideAllocatedRange(t *testing.T) {
	mgr, h := newStore(t)
	tx, err := txn.Begin(mgr, h, log.Nop(), fixedClock(1000))
	require.NoError(t, err)
	defer tx.Rollback()

	addr, err := tx.Allocate(16, 8)
	require.NoError(t, err)

	_, err = tx.GetWritable(addr, 16)
	require.NoError(t, err)

	_, err = tx.GetWritable(0, 8)
	assert.Error(t, err)
}

func TestCommitPublishesNewRevisionAndAdvancesGeneration(t *testing.T) {
	mgr, h := newStore(t)
	tx, err := txn.Begin(mgr, h, log.Nop(), fixedClock(1000))
	require.NoError(t, err)

	si, err := tx.Registry().GetStringIndex(registry.Name, true)
	require.NoError(t, err)
	_, err = si.Adder.Add([]byte("hello"))
	require.NoError(t, err)

	require.NoError(t, tx.Commit())
	assert.Equal(t, txn.StateCommitted, tx.State())

	reloadedHeader, err := header.Load(mgr)
	require.NoError(t, err)
	trailer, err := header.LoadTrailer(mgr, reloadedHeader.CurrentFooter())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), trailer.Generation)
	assert.False(t, trailer.IndexRecords[registry.Name].IsNull())
}

func TestAllocateAfterCommitFails(t *testing.T) {
	mgr, h := newStore(t)
	tx, err := txn.Begin(mgr, h, log.Nop(), fixedClock(1000))
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	_, err = tx.Allocate(8, 8)
	assert.Error(t, err)
}

func TestRollbackReleasesLockForNextTransaction(t *testing.T) {
	mgr, h := newStore(t)
	tx, err := txn.Begin(mgr, h, log.Nop(), fixedClock(1000))
	require.NoError(t, err)
	_, err = tx.Allocate(8, 8)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())
	assert.Equal(t, txn.StateRolledBack, tx.State())

	tx2, err := txn.Begin(mgr, h, log.Nop(), fixedClock(2000))
	require.NoError(t, err)
	require.NoError(t, tx2.Rollback())
}
