package signal

import (
	"encoding/binary"

	"github.com/maestro-os/maestro/arch"
	"github.com/maestro-os/maestro/errno"
	"github.com/maestro-os/maestro/mm/usercopy"
)

// ProcessState is the lifecycle transition a default signal action
// drives, kept separate from sched.State so this package never needs to
// import the scheduler (proc.Process maps between the two).
type ProcessState int

const (
	StateRunning ProcessState = iota
	StateStopped
	StateZombie
)

// ProcessControl is the process-lifecycle callback signal delivery needs:
// applying a default action's Terminate/Abort/Stop/Continue effect and
// notifying the parent, per spec.md §4.6.
type ProcessControl interface {
	NotifyParent(termsig Number, newState ProcessState)
}

// frameWords is the number of uintptr-sized fields serializeFrame packs;
// kept in lockstep with the field list in serializeFrame/deserializeFrame.
const frameWords = 22

// ucontextSize is the on-stack size of a serialized ucontext_t: the
// interrupted frame plus the 8-byte old signal mask.
const ucontextSize = frameWords*8 + 8

// Deliver implements spec.md §4.6's full delivery procedure for the next
// deliverable pending signal, if any. frame is the interrupt frame being
// returned to ring 3 through; sp/mem back the checked user-stack writes a
// custom handler requires. ctl receives default-action lifecycle
// transitions.
func Deliver(s *State, frame *arch.Frame, sp usercopy.Space, mem usercopy.Memory, ctl ProcessControl) error {
	num, ok := s.NextDeliverable()
	if !ok {
		return nil
	}
	s.Clear(num)

	if Uncatchable(num) {
		applyDefault(s, num, ctl)
		return nil
	}

	kind, action := s.Disposition(num)
	switch kind {
	case DispositionIgnore:
		return nil
	case DispositionHandler:
		if err := deliverToHandler(s, num, action, frame, sp, mem); err != nil {
			if err == errno.EFAULT {
				// "A handler invocation failing to write the user stack
				// (EFAULT) converts to a synthesized SIGSEGV with
				// default action" (spec.md §4.6).
				applyDefault(s, SIGSEGV, ctl)
				return nil
			}
			return err
		}
		return nil
	default: // DispositionDefault
		applyDefault(s, num, ctl)
		return nil
	}
}

func applyDefault(s *State, num Number, ctl ProcessControl) {
	switch DefaultAction(num) {
	case Terminate, Abort:
		s.Termsig = num
		ctl.NotifyParent(num, StateZombie)
	case Stop:
		s.Termsig = num
		ctl.NotifyParent(num, StateStopped)
	case Continue:
		ctl.NotifyParent(0, StateRunning)
	case Ignore:
	}
}

// deliverToHandler prepares the user stack for a custom handler: picks
// the alt-stack if SA_ONSTACK is set and armed, writes a ucontext_t
// capturing the interrupted frame and the pre-handler blocked mask,
// writes the sa_restorer trampoline return address below it, and rewrites
// frame so that on iret the process enters the handler with that stack.
// The blocked mask is only extended after every write succeeds, so a
// failed setup leaves signal state exactly as it was pending re-delivery
// via the synthesized SIGSEGV.
func deliverToHandler(s *State, num Number, action HandlerAction, frame *arch.Frame, sp usercopy.Space, mem usercopy.Memory) error {
	top := frame.RSP
	if action.Flags.Has(SAFlagOnStack) && s.AltStack.Armed {
		top = s.AltStack.Base + s.AltStack.Size
	}
	top &^= 15 // 16-byte align, matching the SysV x86-64 stack ABI

	ucontextAddr := top - ucontextSize
	trampolineAddr := ucontextAddr - 8

	oldMask := s.Blocked
	ucontextBytes := append(serializeFrame(frame), encodeWord(uint64(oldMask))...)
	if err := usercopy.CopyToUser(sp, mem, ucontextAddr, ucontextBytes); err != nil {
		return err
	}
	if err := usercopy.CopyToUser(sp, mem, trampolineAddr, encodeWord(uint64(action.RestorerPC))); err != nil {
		return err
	}

	saved := *frame
	saved.RIP = action.HandlerPC
	saved.RSP = trampolineAddr
	saved.RDI = uintptr(num)      // signal number argument
	saved.RDX = ucontextAddr      // ucontext_t* argument (SA_SIGINFO ABI slot)
	*frame = saved

	s.Blocked = s.Blocked.Union(action.Mask)
	if !action.Flags.Has(SAFlagNoDefer) {
		s.Blocked = s.Blocked.With(num)
	}
	return nil
}

// Sigreturn restores the frame and blocked mask captured in the
// ucontext_t at ucontextAddr, completing the trampoline's "invokes
// sigreturn" contract (spec.md §4.6, §9).
func Sigreturn(s *State, frame *arch.Frame, sp usercopy.Space, mem usercopy.Memory, ucontextAddr uintptr) error {
	data, err := usercopy.CopyFromUser(sp, mem, ucontextAddr, ucontextSize)
	if err != nil {
		return err
	}
	restored := deserializeFrame(data[:frameWords*8])
	oldMask := Set(decodeWord(data[frameWords*8:]))
	*frame = *restored
	s.Blocked = oldMask
	return nil
}

func serializeFrame(f *arch.Frame) []byte {
	vals := [frameWords]uintptr{
		f.RAX, f.RBX, f.RCX, f.RDX, f.RSI, f.RDI, f.RBP,
		f.R8, f.R9, f.R10, f.R11, f.R12, f.R13, f.R14, f.R15,
		f.Vector, f.ErrorCode,
		f.RIP, f.CS, f.RFLAGS, f.RSP, f.SS,
	}
	buf := make([]byte, 0, frameWords*8)
	for _, v := range vals {
		buf = append(buf, encodeWord(uint64(v))...)
	}
	return buf
}

func deserializeFrame(buf []byte) *arch.Frame {
	w := func(i int) uintptr { return uintptr(decodeWord(buf[i*8 : i*8+8])) }
	return &arch.Frame{
		RAX: w(0), RBX: w(1), RCX: w(2), RDX: w(3), RSI: w(4), RDI: w(5), RBP: w(6),
		R8: w(7), R9: w(8), R10: w(9), R11: w(10), R12: w(11), R13: w(12), R14: w(13), R15: w(14),
		Vector: w(15), ErrorCode: w(16),
		RIP: w(17), CS: w(18), RFLAGS: w(19), RSP: w(20), SS: w(21),
	}
}

func encodeWord(v uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	return buf
}

func decodeWord(b []byte) uint64 {
	return binary.LittleEndian.Uint64(b)
}
