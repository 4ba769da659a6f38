package proc_test

import (
	"testing"

	"github.com/maestro-os/maestro/arch/halsim"
	"github.com/maestro-os/maestro/mm/buddy"
	"github.com/maestro-os/maestro/mm/paging"
	"github.com/maestro-os/maestro/mm/vmspace"
	"github.com/maestro-os/maestro/proc"
	"github.com/maestro-os/maestro/sched"
	"github.com/stretchr/testify/require"
)

func newTestTable(t *testing.T) (*proc.Table, *paging.Engine, *buddy.Allocator) {
	t.Helper()
	cpu := halsim.New()
	s := sched.New(cpu, nil, nil)
	table := proc.NewTable(s, cpu)

	alloc, err := buddy.New([]buddy.ZoneSpec{
		{Kind: buddy.ZoneUser, Base: 0, Pages: 1 << 12},
		{Kind: buddy.ZoneKernel, Base: uintptr(1 << 12) * buddy.PageSize, Pages: 1 << 10},
	}, nil)
	require.NoError(t, err)
	eng := paging.NewEngine(paging.LayoutAMD64, alloc, cpu)
	return table, eng, alloc
}

func TestNewInitIsPID1AndItsOwnGroup(t *testing.T) {
	table, eng, alloc := newTestTable(t)
	space, err := vmspace.New(eng, alloc)
	require.NoError(t, err)

	init := table.NewInit(space)
	require.Equal(t, int32(1), init.PID())
	require.Equal(t, int32(0), init.PPID())
	require.Equal(t, int32(1), init.ProcessGroup())
	require.Equal(t, sched.Running, init.State())

	got, ok := table.Get(1)
	require.True(t, ok)
	require.Same(t, init, got)
}

func TestCredentialsRoundTrip(t *testing.T) {
	table, eng, alloc := newTestTable(t)
	space, err := vmspace.New(eng, alloc)
	require.NoError(t, err)
	init := table.NewInit(space)

	init.SetCredentials(proc.Credentials{UID: 1000, EUID: 1000, GID: 1000, EGID: 1000})
	creds := init.Credentials()
	require.Equal(t, uint32(1000), creds.UID)
}

func TestTranslateAndWritableDelegateToSpace(t *testing.T) {
	table, eng, alloc := newTestTable(t)
	space, err := vmspace.New(eng, alloc)
	require.NoError(t, err)
	init := table.NewInit(space)

	const base = 0x400000
	_, err = space.Map(base, 1, paging.Writable|paging.User, vmspace.ResidenceAnonymous, nil, false)
	require.NoError(t, err)
	require.NoError(t, space.Fault(base, true))

	phys, ok := init.Translate(base)
	require.True(t, ok)
	require.NotZero(t, phys)
	require.True(t, init.Writable(base))
}
