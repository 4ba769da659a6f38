package signal_test

import (
	"testing"

	"github.com/maestro-os/maestro/signal"
	"github.com/stretchr/testify/require"
)

func TestSetAddHasWithout(t *testing.T) {
	var s signal.Set
	s = s.With(signal.SIGUSR1)
	require.True(t, s.Has(signal.SIGUSR1))
	s = s.Without(signal.SIGUSR1)
	require.False(t, s.Has(signal.SIGUSR1))
}

func TestSetLowestPicksSmallestPending(t *testing.T) {
	var s signal.Set
	s = s.With(signal.SIGTERM).With(signal.SIGHUP).With(signal.SIGUSR1)
	n, ok := s.Lowest()
	require.True(t, ok)
	require.Equal(t, signal.SIGHUP, n)
}

func TestEmptySetLowestIsFalse(t *testing.T) {
	var s signal.Set
	_, ok := s.Lowest()
	require.False(t, ok)
}

func TestUncatchableSignalsBypassDisposition(t *testing.T) {
	require.True(t, signal.Uncatchable(signal.SIGKILL))
	require.True(t, signal.Uncatchable(signal.SIGSTOP))
	require.True(t, signal.Uncatchable(signal.SIGSEGV))
	require.True(t, signal.Uncatchable(signal.SIGSYS))
	require.False(t, signal.Uncatchable(signal.SIGTERM))
}

func TestDefaultActionTableMatchesPOSIX(t *testing.T) {
	require.Equal(t, signal.Terminate, signal.DefaultAction(signal.SIGTERM))
	require.Equal(t, signal.Abort, signal.DefaultAction(signal.SIGSEGV))
	require.Equal(t, signal.Ignore, signal.DefaultAction(signal.SIGCHLD))
	require.Equal(t, signal.Stop, signal.DefaultAction(signal.SIGSTOP))
	require.Equal(t, signal.Continue, signal.DefaultAction(signal.SIGCONT))
}

func TestNextDeliverableRespectsBlockedMask(t *testing.T) {
	s := signal.NewState()
	s.Raise(signal.SIGTERM)
	s.Raise(signal.SIGHUP)
	s.Block(signal.Set(0).With(signal.SIGHUP))

	n, ok := s.NextDeliverable()
	require.True(t, ok)
	require.Equal(t, signal.SIGTERM, n)
}

func TestSetIgnoreDropsAlreadyPendingSignal(t *testing.T) {
	s := signal.NewState()
	s.Raise(signal.SIGUSR1)
	s.SetIgnore(signal.SIGUSR1)
	require.False(t, s.Pending.Has(signal.SIGUSR1))
}

func TestSetIgnoreRejectsKillAndStop(t *testing.T) {
	s := signal.NewState()
	s.SetIgnore(signal.SIGKILL)
	kind, _ := s.Disposition(signal.SIGKILL)
	require.Equal(t, signal.DispositionDefault, kind)

	s.SetIgnore(signal.SIGSTOP)
	kind, _ = s.Disposition(signal.SIGSTOP)
	require.Equal(t, signal.DispositionDefault, kind)
}

func TestBlockNeverBlocksKillOrStop(t *testing.T) {
	s := signal.NewState()
	s.Block(signal.Set(0).With(signal.SIGKILL).With(signal.SIGSTOP).With(signal.SIGTERM))
	require.False(t, s.Blocked.Has(signal.SIGKILL))
	require.False(t, s.Blocked.Has(signal.SIGSTOP))
	require.True(t, s.Blocked.Has(signal.SIGTERM))
}

func TestHasDeliverableSignalReflectsPendingUnblocked(t *testing.T) {
	s := signal.NewState()
	require.False(t, s.HasDeliverableSignal())
	s.Raise(signal.SIGUSR2)
	require.True(t, s.HasDeliverableSignal())
}
