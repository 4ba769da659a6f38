// Package halsim implements arch.CPU entirely in Go state, the way the
// teacher tests GCS access against a fake bucket instead of real Cloud
// Storage: no privileged instruction is ever issued, so every subsystem
// built on arch.CPU is unit-testable on an ordinary host.
package halsim

import (
	"sync"

	"github.com/maestro-os/maestro/arch"
)

var _ arch.CPU = (*Fake)(nil)

// Fake is an in-memory arch.CPU. The zero value is usable.
type Fake struct {
	mu sync.Mutex

	ports   map[uint16]uint32
	cr3     uintptr
	cr4     uint64
	ifFlag  bool
	invalid []uintptr

	idtInstalled bool
	handlers     [129]func(*arch.Frame)
	picEOI       []int
	picProg      bool
	pitHz        uint32
}

// New returns a Fake CPU with interrupts enabled, matching the state the
// boot sequence leaves a real CPU in just before entering the scheduler.
func New() *Fake {
	return &Fake{ports: make(map[uint16]uint32), ifFlag: true}
}

func (f *Fake) In8(port uint16) uint8   { f.mu.Lock(); defer f.mu.Unlock(); return uint8(f.ports[port]) }
func (f *Fake) In16(port uint16) uint16 { f.mu.Lock(); defer f.mu.Unlock(); return uint16(f.ports[port]) }
func (f *Fake) In32(port uint16) uint32 { f.mu.Lock(); defer f.mu.Unlock(); return f.ports[port] }

func (f *Fake) Out8(port uint16, v uint8) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ports[port] = uint32(v)
}
func (f *Fake) Out16(port uint16, v uint16) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ports[port] = uint32(v)
}
func (f *Fake) Out32(port uint16, v uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ports[port] = v
}

func (f *Fake) CR3() uintptr { f.mu.Lock(); defer f.mu.Unlock(); return f.cr3 }
func (f *Fake) SetCR3(root uintptr) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cr3 = root
}

func (f *Fake) CR4Flags() uint64 { f.mu.Lock(); defer f.mu.Unlock(); return f.cr4 }
func (f *Fake) EnableCR4Flags(flags uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cr4 |= flags
}

func (f *Fake) InterruptsEnabled() bool { f.mu.Lock(); defer f.mu.Unlock(); return f.ifFlag }

// SetInterruptsEnabled forces the IF flag directly, for tests that need to
// set up a specific starting state before exercising save/restore logic.
func (f *Fake) SetInterruptsEnabled(enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ifFlag = enabled
}

func (f *Fake) DisableInterrupts() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	was := f.ifFlag
	f.ifFlag = false
	return was
}

func (f *Fake) RestoreInterrupts(wasEnabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ifFlag = wasEnabled
}

func (f *Fake) InvalidatePage(virt uintptr) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalid = append(f.invalid, virt)
}

// Invalidated returns the set of pages invalidated since the last reset,
// for assertions in page-table tests.
func (f *Fake) Invalidated() []uintptr {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]uintptr, len(f.invalid))
	copy(out, f.invalid)
	return out
}

func (f *Fake) InstallIDT(handlers [129]func(*arch.Frame)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.idtInstalled = true
	f.handlers = handlers
}

// IDTInstalled reports whether InstallIDT has been called, for boot-wiring
// assertions.
func (f *Fake) IDTInstalled() bool { f.mu.Lock(); defer f.mu.Unlock(); return f.idtInstalled }

// RaiseInterrupt simulates hardware vectoring to the handler installed for
// vector via InstallIDT, the way a real CPU would on an exception, a
// PIC-routed IRQ, or the int 0x80/SYSCALL syscall entry. It panics if no
// handler is installed for vector, matching a real triple-fault-inducing
// unhandled-vector condition.
func (f *Fake) RaiseInterrupt(vector uintptr, frame *arch.Frame) {
	f.mu.Lock()
	h := f.handlers[vector]
	f.mu.Unlock()
	if h == nil {
		panic("halsim: no handler installed for vector")
	}
	h(frame)
}

func (f *Fake) ProgramPIC() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.picProg = true
}

func (f *Fake) AcknowledgeIRQ(irq int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.picEOI = append(f.picEOI, irq)
}

// AcknowledgedIRQs returns every IRQ line acknowledged via AcknowledgeIRQ
// since the Fake was created, for scheduler-tick assertions.
func (f *Fake) AcknowledgedIRQs() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, len(f.picEOI))
	copy(out, f.picEOI)
	return out
}

func (f *Fake) SetFrequency(hz uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pitHz = hz
}

// Frequency returns the last frequency programmed via SetFrequency, for
// scheduler tick-rate-adaptation tests.
func (f *Fake) Frequency() uint32 { f.mu.Lock(); defer f.mu.Unlock(); return f.pitHz }

// PICProgrammed reports whether ProgramPIC has been called.
func (f *Fake) PICProgrammed() bool { f.mu.Lock(); defer f.mu.Unlock(); return f.picProg }
