package buddy_test

import (
	"testing"

	"github.com/maestro-os/maestro/errno"
	"github.com/maestro-os/maestro/mm/buddy"
	"github.com/stretchr/testify/require"
)

func newTestAllocator(t *testing.T) *buddy.Allocator {
	t.Helper()
	a, err := buddy.New([]buddy.ZoneSpec{
		{Kind: buddy.ZoneUser, Base: 0, Pages: 1 << 10},
		{Kind: buddy.ZoneMMIO, Base: uintptr(1<<10) * buddy.PageSize, Pages: 1 << 8},
		{Kind: buddy.ZoneKernel, Base: uintptr(1<<10+1<<8) * buddy.PageSize, Pages: 1 << 10},
	}, nil)
	require.NoError(t, err)
	return a
}

func TestAllocFreeIdempotent(t *testing.T) {
	a := newTestAllocator(t)
	before := a.AllocatedPages(buddy.ZoneUser)

	var allocs []uintptr
	for i := 0; i < 8; i++ {
		p, err := a.Alloc(2, buddy.ZoneUser)
		require.NoError(t, err)
		allocs = append(allocs, p)
	}
	require.NoError(t, a.CheckInvariants())
	require.Greater(t, a.AllocatedPages(buddy.ZoneUser), before)

	for _, p := range allocs {
		require.NoError(t, a.Free(p, 2))
	}

	require.Equal(t, before, a.AllocatedPages(buddy.ZoneUser))
	require.NoError(t, a.CheckInvariants())
}

func TestCoalesceRestoresLargeBlock(t *testing.T) {
	a := newTestAllocator(t)

	p, err := a.Alloc(3, buddy.ZoneUser)
	require.NoError(t, err)
	require.NoError(t, a.Free(p, 3))

	// A single order-3 alloc/free cycle must not fragment the zone: the
	// next same-size request should succeed from the same region.
	p2, err := a.Alloc(3, buddy.ZoneUser)
	require.NoError(t, err)
	require.Equal(t, p, p2)
}

func TestZoneFallbackEscalatesOneStep(t *testing.T) {
	a, err := buddy.New([]buddy.ZoneSpec{
		{Kind: buddy.ZoneUser, Base: 0, Pages: 0},
		{Kind: buddy.ZoneMMIO, Base: 0x1000, Pages: 4},
		{Kind: buddy.ZoneKernel, Base: 0x2000, Pages: 4},
	}, nil)
	require.NoError(t, err)

	// User zone is empty: a user-hinted request must escalate to MMIO and
	// succeed there, but never skip straight to Kernel.
	p, err := a.Alloc(0, buddy.ZoneUser)
	require.NoError(t, err)
	require.GreaterOrEqual(t, p, uintptr(0x1000))
	require.Less(t, p, uintptr(0x2000))
}

func TestKernelZoneNeverFallsBackElsewhere(t *testing.T) {
	a, err := buddy.New([]buddy.ZoneSpec{
		{Kind: buddy.ZoneUser, Base: 0, Pages: 16},
		{Kind: buddy.ZoneKernel, Base: 0x10000, Pages: 0},
	}, nil)
	require.NoError(t, err)

	_, err = a.Alloc(0, buddy.ZoneKernel)
	require.ErrorIs(t, err, errno.ENOMEM)
}

func TestOOMWhenNoZoneSufficient(t *testing.T) {
	a := newTestAllocator(t)
	_, err := a.Alloc(buddy.MaxOrder, buddy.ZoneUser)
	require.Error(t, err)
}
