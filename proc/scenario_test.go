package proc_test

import (
	"testing"

	"github.com/maestro-os/maestro/arch"
	"github.com/maestro-os/maestro/mm/vmspace"
	"github.com/maestro-os/maestro/proc"
	"github.com/maestro-os/maestro/signal"
	"github.com/stretchr/testify/require"
)

// TestScenarioSigkillTerminatesAndWaitReportsWifsignaled covers spec.md
// §8 scenario 6's second case end to end: sending SIGKILL to a process,
// regardless of its disposition, terminates it, and waitpid(pid) reports
// WIFSIGNALED with signal 9 — exercising signal.Deliver's default-action
// path through proc.Process.NotifyParent into proc.Process.Wait's status
// encoding, the same chain a real kill(2)/waitpid(2) pair drives.
func TestScenarioSigkillTerminatesAndWaitReportsWifsignaled(t *testing.T) {
	table, eng, alloc := newTestTable(t)
	space, err := vmspace.New(eng, alloc)
	require.NoError(t, err)
	init := table.NewInit(space)

	child, err := init.Clone(eng, table, proc.CloneVM)
	require.NoError(t, err)

	// A disposition set before the kill must not matter: SIGKILL always
	// takes its default action.
	child.Signals().SetIgnore(signal.SIGUSR1) // unrelated signal, sanity noise
	child.Signals().Raise(signal.SIGKILL)

	frame := &arch.Frame{}
	require.NoError(t, signal.Deliver(child.Signals(), frame, nil, nil, child))

	pid, status, err := init.Wait(table, child.PID())
	require.NoError(t, err)
	require.Equal(t, child.PID(), pid)
	require.True(t, proc.WIFSIGNALED(status))
	require.Equal(t, int32(signal.SIGKILL), proc.WTERMSIG(status))
}
