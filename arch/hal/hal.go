//go:build kernel

// Package hal is the real arch.CPU: the boot sequence that runs on actual
// x86 hardware (or a hypervisor such as QEMU) rather than in a unit test.
// Every method here issues a privileged instruction and can only execute in
// ring 0 running under the kernel's own tiny freestanding runtime; it is
// excluded from hosted `go test` builds by the "kernel" build tag the same
// way the teacher's boot-only code is excluded from its hosted test suite.
package hal

import "github.com/maestro-os/maestro/arch"

// Real is the production arch.CPU. Its methods are thin sequencing points
// around inline-assembly trampolines (out/in, mov cr3/cr4, cli/sti,
// invlpg, lidt) supplied by the kernel's platform-specific runtime; the
// trampolines are not expressible in portable Go and are linked in only
// when building the freestanding kernel image, never in a hosted test
// binary.
type Real struct{}

// New returns the real, privileged CPU implementation.
func New() *Real { return &Real{} }

func (r *Real) In8(port uint16) uint8     { return inb(port) }
func (r *Real) In16(port uint16) uint16   { return inw(port) }
func (r *Real) In32(port uint16) uint32   { return inl(port) }
func (r *Real) Out8(port uint16, v uint8) { outb(port, v) }
func (r *Real) Out16(port uint16, v uint16) { outw(port, v) }
func (r *Real) Out32(port uint16, v uint32) { outl(port, v) }

func (r *Real) CR3() uintptr          { return readCR3() }
func (r *Real) SetCR3(root uintptr)   { writeCR3(root) }
func (r *Real) CR4Flags() uint64      { return readCR4() }
func (r *Real) EnableCR4Flags(f uint64) { writeCR4(readCR4() | f) }

func (r *Real) InterruptsEnabled() bool    { return interruptsEnabled() }
func (r *Real) DisableInterrupts() bool    { return cli() }
func (r *Real) RestoreInterrupts(was bool) { if was { sti() } }
func (r *Real) InvalidatePage(virt uintptr) { invlpg(virt) }

func (r *Real) InstallIDT(handlers [129]func(*arch.Frame)) { installIDT(handlers) }
func (r *Real) ProgramPIC()                                { programPIC8259() }
func (r *Real) AcknowledgeIRQ(irq int)                      { ackIRQ(irq) }

func (r *Real) SetFrequency(hz uint32) { programPIT(hz) }

var _ arch.CPU = (*Real)(nil)
