package heap_test

import (
	"testing"

	"github.com/maestro-os/maestro/errno"
	"github.com/maestro-os/maestro/mm/buddy"
	"github.com/maestro-os/maestro/mm/heap"
	"github.com/stretchr/testify/require"
)

func newTestHeap(t *testing.T) *heap.Heap {
	t.Helper()
	a, err := buddy.New([]buddy.ZoneSpec{
		{Kind: buddy.ZoneKernel, Base: 0, Pages: 1 << 10},
	}, nil)
	require.NoError(t, err)
	return heap.New(a)
}

func TestAllocWriteReadRoundTrip(t *testing.T) {
	h := newTestHeap(t)
	hnd, err := h.Alloc(128)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(hnd.Bytes), 128)

	copy(hnd.Bytes, []byte("hello kernel heap"))
	require.Equal(t, byte('h'), hnd.Bytes[0])
	require.NoError(t, h.CheckInvariants())
}

func TestFreeThenAllocReusesSpace(t *testing.T) {
	h := newTestHeap(t)
	a, err := h.Alloc(256)
	require.NoError(t, err)
	require.NoError(t, h.Free(a))

	b, err := h.Alloc(256)
	require.NoError(t, err)
	require.NotNil(t, b)
	require.NoError(t, h.CheckInvariants())
}

func TestReallocGrowPreservesContent(t *testing.T) {
	h := newTestHeap(t)
	a, err := h.Alloc(16)
	require.NoError(t, err)
	copy(a.Bytes, []byte("0123456789abcdef"))

	b, err := h.Realloc(a, 256)
	require.NoError(t, err)
	require.Equal(t, []byte("0123456789abcdef"), b.Bytes[:16])
	require.NoError(t, h.CheckInvariants())
}

func TestReallocShrinkSplitsRemainder(t *testing.T) {
	h := newTestHeap(t)
	a, err := h.Alloc(512)
	require.NoError(t, err)
	copy(a.Bytes, []byte("shrink me"))

	b, err := h.Realloc(a, 16)
	require.NoError(t, err)
	require.Equal(t, []byte("shrink me"), b.Bytes[:9])

	// The freed remainder should be available to a subsequent allocation.
	c, err := h.Alloc(400)
	require.NoError(t, err)
	require.NotNil(t, c)
	require.NoError(t, h.CheckInvariants())
}

func TestCoalesceAcrossMultipleFrees(t *testing.T) {
	h := newTestHeap(t)
	var handles []*heap.Handle
	for i := 0; i < 4; i++ {
		hnd, err := h.Alloc(64)
		require.NoError(t, err)
		handles = append(handles, hnd)
	}
	for _, hnd := range handles {
		require.NoError(t, h.Free(hnd))
	}
	require.NoError(t, h.CheckInvariants())

	// Coalescing should have restored a single large free chunk usable by
	// a request bigger than any one of the original four.
	big, err := h.Alloc(200)
	require.NoError(t, err)
	require.NotNil(t, big)
}

func TestFreeUnknownHandleIsEINVAL(t *testing.T) {
	h := newTestHeap(t)
	err := h.Free(&heap.Handle{})
	require.ErrorIs(t, err, errno.EINVAL)
}

func TestAllocZeroIsEINVAL(t *testing.T) {
	h := newTestHeap(t)
	_, err := h.Alloc(0)
	require.ErrorIs(t, err, errno.EINVAL)
}

func TestAllocGrowsMultipleBlocksUnderPressure(t *testing.T) {
	h := newTestHeap(t)
	var handles []*heap.Handle
	for i := 0; i < 200; i++ {
		hnd, err := h.Alloc(300)
		require.NoError(t, err)
		handles = append(handles, hnd)
	}
	require.NoError(t, h.CheckInvariants())
	for _, hnd := range handles {
		require.NoError(t, h.Free(hnd))
	}
	require.NoError(t, h.CheckInvariants())
}
