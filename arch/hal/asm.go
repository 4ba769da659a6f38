//go:build kernel

package hal

import "github.com/maestro-os/maestro/arch"

// These functions have no Go body: their implementations live in
// architecture-specific assembly (asm_amd64.s / asm_386.s) that ships with
// the freestanding kernel image build and is outside this module's
// hosted-Go tree, exactly as spec.md ties "arch primitives" to the target
// ISA rather than to portable Go. Declaring them here keeps every call site
// in hal.go type-checked against the same signatures the assembly exports.

func inb(port uint16) uint8
func inw(port uint16) uint16
func inl(port uint16) uint32
func outb(port uint16, v uint8)
func outw(port uint16, v uint16)
func outl(port uint16, v uint32)

func readCR3() uintptr
func writeCR3(root uintptr)
func readCR4() uint64
func writeCR4(flags uint64)

func interruptsEnabled() bool
func cli() (wasEnabled bool)
func sti()
func invlpg(virt uintptr)

func installIDT(handlers [129]func(*arch.Frame))
func programPIC8259()
func ackIRQ(irq int)
func programPIT(hz uint32)
