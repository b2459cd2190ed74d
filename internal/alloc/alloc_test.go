package alloc_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iamNilotpal/pstore/internal/alloc"
	"github.com/iamNilotpal/pstore/internal/region"
	"github.com/iamNilotpal/pstore/pkg/address"
	"github.com/iamNilotpal/pstore/pkg/log"
	"github.com/iamNilotpal/pstore/pkg/options"
)

func newRegion(t *testing.T) *region.Manager {
	t.Helper()
	opts := options.NewDefaultOptions()
	opts.RegionSize = 64 * 1024
	mgr, err := region.Open(context.Background(), filepath.Join(t.TempDir(), "store.pst"), &region.Config{
		Options: &opts,
		Logger:  log.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Close() })
	return mgr
}

func TestAllocateHonoursAlignment(t *testing.T) {
	mgr := newRegion(t)
	a := alloc.New(mgr, address.Address(13))

	addr, err := a.Allocate(4, 8)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), uint64(addr)%8)
	assert.GreaterOrEqual(t, uint64(addr), uint64(13))
}

func TestAllocateNeverGoesBackwards(t *testing.T) {
	mgr := newRegion(t)
	a := alloc.New(mgr, address.Null)

	first, err := a.Allocate(10, 1)
	require.NoError(t, err)
	second, err := a.Allocate(10, 1)
	require.NoError(t, err)
	assert.Less(t, uint64(first), uint64(second))
}

func TestAllocateGrowsFileOnOverflow(t *testing.T) {
	mgr := newRegion(t)
	a := alloc.New(mgr, address.Null)

	_, err := a.Allocate(128*1024, 1)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, mgr.Size(), uint64(128*1024))
}

func TestRollbackRewindsHighWaterMark(t *testing.T) {
	mgr := newRegion(t)
	a := alloc.New(mgr, address.Address(100))

	_, err := a.Allocate(50, 1)
	require.NoError(t, err)
	a.Rollback()
	assert.Equal(t, address.Address(100), a.End())
}

func TestBytesAllocatedExcludesStart(t *testing.T) {
	mgr := newRegion(t)
	a := alloc.New(mgr, address.Address(100))

	_, err := a.Allocate(50, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), a.BytesAllocated())
}
