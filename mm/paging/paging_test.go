package paging_test

import (
	"testing"

	"github.com/maestro-os/maestro/arch/halsim"
	"github.com/maestro-os/maestro/mm/buddy"
	"github.com/maestro-os/maestro/mm/paging"
	"github.com/stretchr/testify/require"
)

func TestMapTranslateUnmap(t *testing.T) {
	eng := paging.NewEngine(paging.LayoutAMD64, nil, halsim.New())
	ctx, err := eng.NewContext()
	require.NoError(t, err)

	const virt = 0x1000 * 17
	const phys = 0x500000

	txn := ctx.Begin()
	require.NoError(t, txn.Map(phys, virt, paging.Writable|paging.User))
	txn.Commit()

	for i := 0; i < 4; i++ {
		got, ok := ctx.Translate(uintptr(virt + i))
		require.True(t, ok)
		require.Equal(t, uintptr(phys+i), got)
	}

	txn2 := ctx.Begin()
	require.NoError(t, txn2.Unmap(virt))
	txn2.Commit()

	_, ok := ctx.Translate(virt)
	require.False(t, ok)
}

func TestPSEExpansion(t *testing.T) {
	eng := paging.NewEngine(paging.LayoutAMD64, nil, nil)
	ctx, err := eng.NewContext()
	require.NoError(t, err)

	const largeVirt = 0
	const largePhys = 0x40000000

	txn := ctx.Begin()
	require.NoError(t, txn.MapLargePage(largePhys, largeVirt, paging.Writable))
	txn.Commit()

	// A fine-grained map inside the large page's range must transparently
	// expand it and preserve translations for untouched pages.
	txn2 := ctx.Begin()
	require.NoError(t, txn2.Map(largePhys+buddy.PageSize, buddy.PageSize, paging.Writable|paging.User))
	txn2.Commit()

	got, ok := ctx.Translate(0)
	require.True(t, ok)
	require.Equal(t, uintptr(largePhys), got)

	got2, ok := ctx.Translate(buddy.PageSize)
	require.True(t, ok)
	require.Equal(t, uintptr(largePhys+buddy.PageSize), got2)
}

func TestRollbackRestoresPriorState(t *testing.T) {
	alloc, err := buddy.New([]buddy.ZoneSpec{
		{Kind: buddy.ZoneKernel, Base: 0, Pages: 5},
	}, nil)
	require.NoError(t, err)

	eng := paging.NewEngine(paging.LayoutAMD64, alloc, nil)
	ctx, err := eng.NewContext()
	require.NoError(t, err)

	// First mapping succeeds, consuming three of the four table pages left
	// after the root.
	txn := ctx.Begin()
	err = txn.Map(0x9000, 0x9000, paging.Writable)
	if err != nil {
		txn.Rollback()
	} else {
		txn.Commit()
	}

	// A second deep mapping into an unrelated region should exhaust the
	// zone partway through the walk; rollback must restore every entry it
	// touched so the existing translation keeps working.
	txn2 := ctx.Begin()
	mapErr := txn2.Map(0x7fffffff000, 0x7fffffff000, paging.Writable)
	if mapErr != nil {
		txn2.Rollback()
	}

	got, ok := ctx.Translate(0x9000)
	require.True(t, ok)
	require.Equal(t, uintptr(0x9000), got)
}
