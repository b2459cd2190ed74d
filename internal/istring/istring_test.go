package istring_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iamNilotpal/pstore/internal/alloc"
	"github.com/iamNilotpal/pstore/internal/istring"
	"github.com/iamNilotpal/pstore/internal/region"
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

func TestAddReturnsHeapPointerSlotBeforeFlush(t *testing.T) {
	mgr, a := newManagerAndAllocator(t)
	ix := istring.NewIndex(mgr, a)
	adder := istring.NewAdder(mgr, a, ix)

	ref, err := adder.Add([]byte("hello"))
	require.NoError(t, err)
	assert.True(t, ref.IsHeapPointerSlot())
	assert.False(t, ref.IsFullyInStore())

	_, err = istring.GetView(mgr, ref)
	assert.Error(t, err)
}

func TestAddDedupsWithinSameTransaction(t *testing.T) {
	mgr, a := newManagerAndAllocator(t)
	ix := istring.NewIndex(mgr, a)
	adder := istring.NewAdder(mgr, a, ix)

	ref1, err := adder.Add([]byte("hello"))
	require.NoError(t, err)
	ref2, err := adder.Add([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, ref1.SlotAddress(), ref2.SlotAddress())
}

func TestFlushResolvesSlotToReadableBody(t *testing.T) {
	mgr, a := newManagerAndAllocator(t)
	ix := istring.NewIndex(mgr, a)
	adder := istring.NewAdder(mgr, a, ix)

	ref, err := adder.Add([]byte("hello world"))
	require.NoError(t, err)
	require.NoError(t, adder.Flush())

	resolved := istring.ResolvedRef(ref.SlotAddress())
	assert.True(t, resolved.IsFullyInStore())

	view, err := istring.GetView(mgr, resolved)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(view))
}

func TestStringsAcrossTransactionsDedupToSameSlot(t *testing.T) {
	mgr, a := newManagerAndAllocator(t)
	ix := istring.NewIndex(mgr, a)
	adder := istring.NewAdder(mgr, a, ix)

	firstRef, err := adder.Add([]byte("shared"))
	require.NoError(t, err)
	require.NoError(t, adder.Flush())

	root, err := ix.Flush()
	require.NoError(t, err)

	reloaded, err := istring.LoadIndex(mgr, a, root, true)
	require.NoError(t, err)

	adder2 := istring.NewAdder(mgr, a, reloaded)
	secondRef, err := adder2.Add([]byte("shared"))
	require.NoError(t, err)
	assert.True(t, secondRef.IsFullyInStore())
	assert.Equal(t, firstRef.SlotAddress(), secondRef.SlotAddress())
}

func TestEqualComparesFullyInStoreByAddress(t *testing.T) {
	mgr, a := newManagerAndAllocator(t)
	ix := istring.NewIndex(mgr, a)
	adder := istring.NewAdder(mgr, a, ix)

	ref1, err := adder.Add([]byte("same"))
	require.NoError(t, err)
	ref2, err := adder.Add([]byte("same"))
	require.NoError(t, err)
	require.NoError(t, adder.Flush())

	resolved1 := istring.ResolvedRef(ref1.SlotAddress())
	resolved2 := istring.ResolvedRef(ref2.SlotAddress())

	eq, err := istring.Equal(mgr, resolved1, resolved2)
	require.NoError(t, err)
	assert.True(t, eq)
}

func TestEqualComparesHeapViewsByContent(t *testing.T) {
	mgr, _ := newManagerAndAllocator(t)
	a := istring.HeapView([]byte("abc"))
	b := istring.HeapView([]byte("abc"))
	c := istring.HeapView([]byte("xyz"))

	eq, err := istring.Equal(mgr, a, b)
	require.NoError(t, err)
	assert.True(t, eq)

	eq, err = istring.Equal(mgr, a, c)
	require.NoError(t, err)
	assert.False(t, eq)
}
