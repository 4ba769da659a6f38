package vmspace_test

import (
	"testing"

	"github.com/maestro-os/maestro/mm/buddy"
	"github.com/maestro-os/maestro/mm/paging"
	"github.com/maestro-os/maestro/mm/physmem"
	"github.com/maestro-os/maestro/mm/vmspace"
	"github.com/stretchr/testify/require"
)

// fakeFileNode is a minimal fileReaderAt double, standing in for a
// vfs.RegularFileNode without importing vfs.
type fakeFileNode struct {
	data []byte
}

func (f *fakeFileNode) ReadAt(buf []byte, offset int64) (int, error) {
	if offset >= int64(len(f.data)) {
		return 0, nil
	}
	return copy(buf, f.data[offset:]), nil
}

func newTestSpace(t *testing.T) (*vmspace.Space, *paging.Engine, *buddy.Allocator) {
	t.Helper()
	alloc, err := buddy.New([]buddy.ZoneSpec{
		{Kind: buddy.ZoneUser, Base: 0, Pages: 1 << 12},
		{Kind: buddy.ZoneKernel, Base: uintptr(1 << 12) * buddy.PageSize, Pages: 1 << 10},
	}, nil)
	require.NoError(t, err)
	eng := paging.NewEngine(paging.LayoutAMD64, alloc, nil)
	sp, err := vmspace.New(eng, alloc)
	require.NoError(t, err)
	return sp, eng, alloc
}

func TestMapFaultPopulatesAnonymousPage(t *testing.T) {
	sp, _, _ := newTestSpace(t)
	const base = 0x400000
	_, err := sp.Map(base, 4, paging.Writable|paging.User, vmspace.ResidenceAnonymous, nil, false)
	require.NoError(t, err)

	_, mapped := sp.Translate(base)
	require.False(t, mapped)

	require.NoError(t, sp.Fault(base, true))
	phys, mapped := sp.Translate(base)
	require.True(t, mapped)
	require.NotZero(t, phys)
}

func TestUnmapSplitsMiddleOfVMA(t *testing.T) {
	sp, _, _ := newTestSpace(t)
	const base = 0x500000
	_, err := sp.Map(base, 10, paging.Writable|paging.User, vmspace.ResidenceAnonymous, nil, false)
	require.NoError(t, err)

	require.NoError(t, sp.Fault(base, true))
	require.NoError(t, sp.Fault(base+9*buddy.PageSize, true))

	require.NoError(t, sp.Unmap(base+3*buddy.PageSize, base+7*buddy.PageSize))

	_, ok := sp.Find(base)
	require.True(t, ok)
	_, ok = sp.Find(base + 9*buddy.PageSize)
	require.True(t, ok)
	_, ok = sp.Find(base + 5*buddy.PageSize)
	require.False(t, ok)
}

func TestMapOverlapIsRejected(t *testing.T) {
	sp, _, _ := newTestSpace(t)
	const base = 0x600000
	_, err := sp.Map(base, 4, paging.Writable, vmspace.ResidenceAnonymous, nil, false)
	require.NoError(t, err)

	_, err = sp.Map(base+buddy.PageSize, 4, paging.Writable, vmspace.ResidenceAnonymous, nil, false)
	require.Error(t, err)
}

func TestForkSharesPagesCopyOnWrite(t *testing.T) {
	sp, eng, _ := newTestSpace(t)
	const base = 0x700000
	_, err := sp.Map(base, 1, paging.Writable|paging.User, vmspace.ResidenceAnonymous, nil, false)
	require.NoError(t, err)
	require.NoError(t, sp.Fault(base, true))

	parentPhys, ok := sp.Translate(base)
	require.True(t, ok)

	child, err := sp.Fork(eng)
	require.NoError(t, err)

	childPhys, ok := child.Translate(base)
	require.True(t, ok)
	require.Equal(t, parentPhys, childPhys, "COW sibling should still share the original frame")

	// Writing in the child must break COW and give it its own frame, never
	// disturbing the parent's mapping.
	require.NoError(t, child.Fault(base, true))
	childPhysAfter, ok := child.Translate(base)
	require.True(t, ok)
	require.NotEqual(t, parentPhys, childPhysAfter)

	stillParentPhys, ok := sp.Translate(base)
	require.True(t, ok)
	require.Equal(t, parentPhys, stillParentPhys)
}

func TestFaultPopulatesFileBackedPageFromReadAt(t *testing.T) {
	sp, _, _ := newTestSpace(t)
	sp.SetMemory(physmem.New())

	node := &fakeFileNode{data: []byte("file-backed contents")}
	const base = 0x800000
	_, err := sp.Map(base, 1, paging.User, vmspace.ResidenceFile, &vmspace.FileBacking{Node: node}, false)
	require.NoError(t, err)

	require.NoError(t, sp.Fault(base, false))
	phys, mapped := sp.Translate(base)
	require.True(t, mapped)
	require.NotZero(t, phys)
}

func TestFaultOnFileBackedVMAWithoutMemoryFails(t *testing.T) {
	sp, _, _ := newTestSpace(t)
	node := &fakeFileNode{data: []byte("unused")}
	const base = 0x900000
	_, err := sp.Map(base, 1, paging.User, vmspace.ResidenceFile, &vmspace.FileBacking{Node: node}, false)
	require.NoError(t, err)

	require.Error(t, sp.Fault(base, false))
}

func TestFindGapSkipsExistingVMAs(t *testing.T) {
	sp, _, _ := newTestSpace(t)
	_, err := sp.Map(0x10000, 4, paging.Writable, vmspace.ResidenceAnonymous, nil, false)
	require.NoError(t, err)

	gap, err := sp.FindGap(0x10000, 2)
	require.NoError(t, err)
	require.GreaterOrEqual(t, gap, uintptr(0x10000+4*buddy.PageSize))
}
