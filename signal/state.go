package signal

// Disposition records how a process has asked a signal to be handled.
type Disposition int

const (
	DispositionDefault Disposition = iota
	DispositionIgnore
	DispositionHandler
)

// HandlerFlags mirrors the sa_flags bits spec.md §4.6 names.
type HandlerFlags uint32

const (
	SAFlagSigInfo HandlerFlags = 1 << iota
	SAFlagRestorer
	SAFlagOnStack
	SAFlagRestart
	SAFlagNoDefer
)

func (f HandlerFlags) Has(bit HandlerFlags) bool { return f&bit != 0 }

// HandlerAction is a per-signal custom handler registration: the handler
// PC, flags, the restorer trampoline PC (sa_restorer), and the mask
// applied while the handler runs (sa_mask).
type HandlerAction struct {
	HandlerPC  uintptr
	Flags      HandlerFlags
	RestorerPC uintptr
	Mask       Set
}

// AltStack is the alternate signal stack descriptor (sigaltstack).
type AltStack struct {
	Base  uintptr
	Size  uintptr
	Armed bool
}

// disposition bundles a signal's configured behavior.
type disposition struct {
	kind   Disposition
	action HandlerAction
}

// State is the per-process signal state described in spec.md §3/§4.6:
// pending and blocked 64-bit sets, a disposition per signal, an alt-stack
// descriptor, and the termsig recorded on a Zombie/Stopped transition.
type State struct {
	Pending  Set
	Blocked  Set
	AltStack AltStack
	Termsig  Number

	dispositions [MaxSignal + 1]disposition
}

// NewState returns signal state with every signal at its default
// disposition and nothing pending or blocked.
func NewState() *State {
	return &State{}
}

// Raise adds n to the pending set. Raising an uncatchable signal against
// a process whose disposition for it is Ignore still takes effect: the
// bypass applies at delivery, not at raise time.
func (s *State) Raise(n Number) {
	s.Pending = s.Pending.With(n)
}

// Clear removes n from the pending set (delivered, or discarded because
// its disposition is Ignore).
func (s *State) Clear(n Number) {
	s.Pending = s.Pending.Without(n)
}

// SetIgnore sets a signal's disposition to Ignore. SIGKILL and SIGSTOP
// reject this: they are always uncatchable and always take their default
// action (spec.md §4.6).
func (s *State) SetIgnore(n Number) {
	if n == SIGKILL || n == SIGSTOP {
		return
	}
	s.dispositions[n] = disposition{kind: DispositionIgnore}
	s.Clear(n) // a pending signal that becomes ignored is dropped
}

// SetDefault resets a signal's disposition to Default.
func (s *State) SetDefault(n Number) {
	s.dispositions[n] = disposition{kind: DispositionDefault}
}

// SetHandler installs a custom handler for n. SIGKILL and SIGSTOP reject
// this.
func (s *State) SetHandler(n Number, action HandlerAction) {
	if n == SIGKILL || n == SIGSTOP {
		return
	}
	s.dispositions[n] = disposition{kind: DispositionHandler, action: action}
}

// Disposition reports n's current disposition and, if DispositionHandler,
// its action.
func (s *State) Disposition(n Number) (Disposition, HandlerAction) {
	d := s.dispositions[n]
	return d.kind, d.action
}

// Block adds signals to the blocked mask. SIGKILL and SIGSTOP can never
// be blocked.
func (s *State) Block(mask Set) {
	s.Blocked = s.Blocked.Union(mask).Without(SIGKILL).Without(SIGSTOP)
}

// Unblock removes signals from the blocked mask.
func (s *State) Unblock(mask Set) {
	for n := MinSignal; n <= MaxSignal; n++ {
		if mask.Has(n) {
			s.Blocked = s.Blocked.Without(n)
		}
	}
}

// SetBlocked replaces the blocked mask outright (sigprocmask SIG_SETMASK).
func (s *State) SetBlocked(mask Set) {
	s.Blocked = mask.Without(SIGKILL).Without(SIGSTOP)
}

// NextDeliverable returns the lowest-numbered pending signal not in the
// blocked mask, per spec.md §4.6. Uncatchable signals are never blocked
// in practice (Block strips SIGKILL/SIGSTOP) but the mask is still
// honored uniformly for every other signal.
func (s *State) NextDeliverable() (Number, bool) {
	return (s.Pending &^ s.Blocked).Lowest()
}

// HasDeliverableSignal implements sched.Interruptible: a sleeping process
// with any deliverable signal unblocks a wait with EINTR.
func (s *State) HasDeliverableSignal() bool {
	_, ok := s.NextDeliverable()
	return ok
}

// ForkCopy returns a new State for a cloned process: dispositions, the
// blocked mask, and the alt-stack descriptor are inherited from the
// parent, but pending signals and termsig are not — a child starts with
// an empty pending set per POSIX fork semantics. A thread-clone with
// CLONE_SIGHAND instead shares the parent's *State pointer directly and
// never calls this.
func (s *State) ForkCopy() *State {
	child := &State{Blocked: s.Blocked, AltStack: s.AltStack}
	child.dispositions = s.dispositions
	return child
}
