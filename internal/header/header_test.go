package header_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iamNilotpal/pstore/internal/header"
	"github.com/iamNilotpal/pstore/internal/region"
	"github.com/iamNilotpal/pstore/pkg/address"
	"github.com/iamNilotpal/pstore/pkg/errors"
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

func TestBuildNewStoreWritesValidHeaderAndTrailer(t *testing.T) {
	mgr := newRegion(t)

	h, err := header.BuildNewStore(mgr)
	require.NoError(t, err)
	assert.False(t, h.CurrentFooter().IsNull())

	loaded, err := header.Load(mgr)
	require.NoError(t, err)
	assert.Equal(t, h.UUID, loaded.UUID)
	assert.Equal(t, h.CurrentFooter(), loaded.CurrentFooter())

	trailer, err := header.LoadTrailer(mgr, loaded.CurrentFooter())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), trailer.Generation)
	assert.Equal(t, uint64(0), trailer.Size)
	assert.True(t, trailer.PrevGeneration.IsNull())
	for _, rec := range trailer.IndexRecords {
		assert.True(t, rec.IsNull())
	}
}

func TestLoadRejectsCorruptSignature(t *testing.T) {
	mgr := newRegion(t)
	_, err := header.BuildNewStore(mgr)
	require.NoError(t, err)

	buf, err := mgr.View(address.Address(0), header.HeaderSize)
	require.NoError(t, err)
	buf[0] ^= 0xFF

	_, err = header.Load(mgr)
	require.Error(t, err)
	assert.True(t, errors.IsFormatError(err))
}

func TestValidNullAddressIsTriviallyValid(t *testing.T) {
	mgr := newRegion(t)
	assert.True(t, header.Valid(mgr, address.Null))
}

func TestValidRejectsMisalignedAddress(t *testing.T) {
	mgr := newRegion(t)
	_, err := header.BuildNewStore(mgr)
	require.NoError(t, err)
	assert.False(t, header.Valid(mgr, address.Address(3)))
}

func TestPublishFooterUpdatesOnDiskAndInMemory(t *testing.T) {
	mgr := newRegion(t)
	h, err := header.BuildNewStore(mgr)
	require.NoError(t, err)

	newTrailer := address.Address(uint64(h.CurrentFooter()) + header.TrailerSize)
	if uint64(newTrailer)+header.TrailerSize > mgr.Size() {
		require.NoError(t, mgr.Grow(uint64(newTrailer)+header.TrailerSize))
	}

	t2 := &header.Trailer{Generation: 1, PrevGeneration: address.MakeTyped[header.Trailer](h.CurrentFooter())}
	require.NoError(t, header.WriteTrailer(mgr, newTrailer, t2))
	require.NoError(t, header.PublishFooter(mgr, h, newTrailer))

	reloaded, err := header.Load(mgr)
	require.NoError(t, err)
	assert.Equal(t, newTrailer, reloaded.CurrentFooter())
}
