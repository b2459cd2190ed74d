package registry_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iamNilotpal/pstore/internal/alloc"
	"github.com/iamNilotpal/pstore/internal/region"
	"github.com/iamNilotpal/pstore/internal/registry"
	"github.com/iamNilotpal/pstore/pkg/address"
	"github.com/iamNilotpal/pstore/pkg/log"
	"github.com/iamNilotpal/pstore/pkg/options"
)

func newManagerAndAllocator(t *testing.T) (*region.Manager, *alloc.Allocator) {
	t.Helper()
	opts := options.NewDefaultOptions()
	opts.RegionSize = 64 * 1024
	mgr, err := region.Open(context.Background(), filepath.Join(t.TempDir(), "store.pst"), &region.Config{
		Options: &opts,
		Logger:  log.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Close() })
	return mgr, alloc.New(mgr, address.Address(64))
}

func TestGetStringIndexNoCreateOnEmptyRootReturnsNil(t *testing.T) {
	mgr, a := newManagerAndAllocator(t)
	reg := registry.New(mgr, a, [registry.NumKinds]address.Address{})

	si, err := reg.GetStringIndex(registry.Name, false)
	require.NoError(t, err)
	assert.Nil(t, si)
}

func TestGetStringIndexCreateBuildsEmptyIndex(t *testing.T) {
	mgr, a := newManagerAndAllocator(t)
	reg := registry.New(mgr, a, [registry.NumKinds]address.Address{})

	si, err := reg.GetStringIndex(registry.Name, true)
	require.NoError(t, err)
	require.NotNil(t, si)
	assert.Equal(t, 0, si.Index.Size())
}

func TestGetStringIndexRejectsNonStringKind(t *testing.T) {
	mgr, a := newManagerAndAllocator(t)
	reg := registry.New(mgr, a, [registry.NumKinds]address.Address{})

	_, err := reg.GetStringIndex(registry.Fragment, true)
	assert.Error(t, err)
}

func TestFlushAllPopulatesRootsForTouchedKinds(t *testing.T) {
	mgr, a := newManagerAndAllocator(t)
	reg := registry.New(mgr, a, [registry.NumKinds]address.Address{})

	si, err := reg.GetStringIndex(registry.Name, true)
	require.NoError(t, err)
	_, err = si.Adder.Add([]byte("hello"))
	require.NoError(t, err)

	require.NoError(t, reg.FlushAll())

	roots := reg.Roots()
	assert.False(t, roots[registry.Name].IsNull())
	assert.True(t, roots[registry.Path].IsNull())
}

func TestAnyTouchedReflectsWhetherAKindWasLoaded(t *testing.T) {
	mgr, a := newManagerAndAllocator(t)
	reg := registry.New(mgr, a, [registry.NumKinds]address.Address{})
	assert.False(t, reg.AnyTouched())

	_, err := reg.GetStringIndex(registry.Name, true)
	require.NoError(t, err)
	assert.True(t, reg.AnyTouched())
}

func TestGetStringIndexCachesHandleWithinTransaction(t *testing.T) {
	mgr, a := newManagerAndAllocator(t)
	reg := registry.New(mgr, a, [registry.NumKinds]address.Address{})

	si1, err := reg.GetStringIndex(registry.Path, true)
	require.NoError(t, err)
	si2, err := reg.GetStringIndex(registry.Path, false)
	require.NoError(t, err)
	assert.Same(t, si1, si2)
}
