package hamt_test

import (
	"context"
	"encoding/binary"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/cespare/xxhash/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iamNilotpal/pstore/internal/alloc"
	"github.com/iamNilotpal/pstore/internal/hamt"
	"github.com/iamNilotpal/pstore/internal/region"
	"github.com/iamNilotpal/pstore/pkg/address"
	"github.com/iamNilotpal/pstore/pkg/errors"
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

func stringHasher(s string) uint64 { return xxhash.Sum64String(s) }
func stringEqual(a, b string) bool { return a == b }

var stringCodec = hamt.Codec[string]{
	Encode: func(s string) []byte { return []byte(s) },
	Decode: func(b []byte) (string, error) { return string(b), nil },
}

var uint64Codec = hamt.Codec[uint64]{
	Encode: func(v uint64) []byte {
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, v)
		return buf
	},
	Decode: func(b []byte) (uint64, error) {
		if len(b) != 8 {
			return 0, fmt.Errorf("bad uint64 encoding length %d", len(b))
		}
		return binary.LittleEndian.Uint64(b), nil
	},
}

func newIndex(t *testing.T) *hamt.Index[string, uint64] {
	t.Helper()
	mgr, a := newManagerAndAllocator(t)
	return hamt.New[string, uint64](mgr, a, stringHasher, stringEqual, stringCodec, uint64Codec)
}

func TestInsertAndFind(t *testing.T) {
	ix := newIndex(t)

	inserted, err := ix.Insert("alpha", 1)
	require.NoError(t, err)
	assert.True(t, inserted)

	val, ok, err := ix.Find("alpha")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(1), val)
}

func TestFindMissingKeyIsNotError(t *testing.T) {
	ix := newIndex(t)
	val, ok, err := ix.Find("missing")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, uint64(0), val)
}

func TestInsertDuplicateKeyIsIdempotent(t *testing.T) {
	ix := newIndex(t)

	inserted, err := ix.Insert("alpha", 1)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = ix.Insert("alpha", 999)
	require.NoError(t, err)
	assert.False(t, inserted)

	val, ok, err := ix.Find("alpha")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(1), val)
}

func TestInsertManyKeysAllFindable(t *testing.T) {
	ix := newIndex(t)

	const n = 500
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("key-%d", i)
		inserted, err := ix.Insert(key, uint64(i))
		require.NoError(t, err)
		assert.True(t, inserted)
	}

	assert.Equal(t, n, ix.Size())

	for i := 0; i < n; i++ {
		key := fmt.Sprintf("key-%d", i)
		val, ok, err := ix.Find(key)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, uint64(i), val)
	}
}

func TestFlushPersistsAcrossReload(t *testing.T) {
	mgr, a := newManagerAndAllocator(t)
	ix := hamt.New[string, uint64](mgr, a, stringHasher, stringEqual, stringCodec, uint64Codec)

	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("k-%d", i)
		_, err := ix.Insert(key, uint64(i))
		require.NoError(t, err)
	}

	root, err := ix.Flush()
	require.NoError(t, err)
	assert.False(t, root.IsNull())

	reloaded, err := hamt.Load[string, uint64](mgr, a, stringHasher, stringEqual, stringCodec, uint64Codec, root, true)
	require.NoError(t, err)
	assert.Equal(t, 100, reloaded.Size())

	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("k-%d", i)
		val, ok, err := reloaded.Find(key)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, uint64(i), val)
	}
}

func TestFlushIsIdempotentWhenUnmodified(t *testing.T) {
	ix := newIndex(t)
	_, err := ix.Insert("a", 1)
	require.NoError(t, err)

	root1, err := ix.Flush()
	require.NoError(t, err)
	root2, err := ix.Flush()
	require.NoError(t, err)
	assert.Equal(t, root1, root2)
}

func TestInsertOnNonWritableIndexFails(t *testing.T) {
	mgr, a := newManagerAndAllocator(t)
	ix := hamt.New[string, uint64](mgr, a, stringHasher, stringEqual, stringCodec, uint64Codec)
	_, err := ix.Insert("a", 1)
	require.NoError(t, err)
	root, err := ix.Flush()
	require.NoError(t, err)

	stale, err := hamt.Load[string, uint64](mgr, a, stringHasher, stringEqual, stringCodec, uint64Codec, root, false)
	require.NoError(t, err)

	_, err = stale.Insert("b", 2)
	require.Error(t, err)
	assert.True(t, errors.IsIndexError(err))
}

func TestIteratorVisitsEveryEntry(t *testing.T) {
	ix := newIndex(t)
	want := map[string]uint64{}
	for i := 0; i < 50; i++ {
		key := fmt.Sprintf("iter-%d", i)
		want[key] = uint64(i)
		_, err := ix.Insert(key, uint64(i))
		require.NoError(t, err)
	}

	got := map[string]uint64{}
	it := ix.Begin()
	for {
		entry, ok := it.Next()
		if !ok {
			break
		}
		got[entry.Key] = entry.Value
	}
	require.NoError(t, it.Err())
	assert.Equal(t, want, got)
}

func TestStructuralSharingLeavesUntouchedSubtreesAtSameAddress(t *testing.T) {
	mgr, a := newManagerAndAllocator(t)
	ix := hamt.New[string, uint64](mgr, a, stringHasher, stringEqual, stringCodec, uint64Codec)

	for i := 0; i < 200; i++ {
		_, err := ix.Insert(fmt.Sprintf("s-%d", i), uint64(i))
		require.NoError(t, err)
	}
	root1, err := ix.Flush()
	require.NoError(t, err)

	_, err = ix.Insert("s-new", 9999)
	require.NoError(t, err)
	root2, err := ix.Flush()
	require.NoError(t, err)

	assert.NotEqual(t, root1, root2)

	reloaded, err := hamt.Load[string, uint64](mgr, a, stringHasher, stringEqual, stringCodec, uint64Codec, root2, true)
	require.NoError(t, err)
	assert.Equal(t, 201, reloaded.Size())

	before, err := hamt.Load[string, uint64](mgr, a, stringHasher, stringEqual, stringCodec, uint64Codec, root1, false)
	require.NoError(t, err)
	oldChildren, _, err := before.Children(before.Root())
	require.NoError(t, err)
	newChildren, _, err := reloaded.Children(reloaded.Root())
	require.NoError(t, err)

	newAddrs := map[address.Address]bool{}
	for _, c := range newChildren {
		newAddrs[c.Addr()] = true
	}
	kept := 0
	for _, c := range oldChildren {
		if newAddrs[c.Addr()] {
			kept++
		}
	}
	// Only the one root slot on the path to "s-new" may have been rewritten.
	assert.GreaterOrEqual(t, kept, len(oldChildren)-1)
}
