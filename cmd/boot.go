// Copyright 2024 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"context"
	"fmt"

	"github.com/maestro-os/maestro/arch"
	"github.com/maestro-os/maestro/arch/halsim"
	"github.com/maestro-os/maestro/block"
	"github.com/maestro-os/maestro/cfg"
	_ "github.com/maestro-os/maestro/fs/ramfs" // registers the "ramfs" driver
	"github.com/maestro-os/maestro/internal/kernlog"
	"github.com/maestro-os/maestro/internal/kmetrics"
	"github.com/maestro-os/maestro/mm/buddy"
	"github.com/maestro-os/maestro/mm/paging"
	"github.com/maestro-os/maestro/mm/physmem"
	"github.com/maestro-os/maestro/mm/vmspace"
	"github.com/maestro-os/maestro/module"
	"github.com/maestro-os/maestro/net"
	"github.com/maestro-os/maestro/proc"
	"github.com/maestro-os/maestro/sched"
	"github.com/maestro-os/maestro/syscall"
	"github.com/maestro-os/maestro/vfs"
	"golang.org/x/sync/errgroup"
)

// defaultZonePages are used for any zone whose page count was not given
// on the manifest/command line (0 = autodetect from a real boot memory
// map, which this simulation has no access to).
const (
	defaultUserZonePages   = 1 << 16 // 256 MiB
	defaultMMIOZonePages   = 1 << 12 // 16 MiB
	defaultKernelZonePages = 1 << 14 // 64 MiB
)

// syscallVector is the int 0x80/SYSCALL trap vector, per arch.CPU's own
// documented layout (32 exception vectors, 16 PIC IRQs remapped to
// 0x20-0x2f, then the syscall vector).
const syscallVector = 0x80

func zonePages(configured, fallback int) int {
	if configured > 0 {
		return configured
	}
	return fallback
}

// Kernel is the set of live subsystems Boot wires together, returned so a
// caller (the CLI's RunE, or a test exercising the full syscall path
// end-to-end) can drive the booted kernel rather than only the error it
// surfaced along the way.
type Kernel struct {
	CPU          *halsim.Fake
	Scheduler    *sched.Scheduler
	Table        *proc.Table
	Init         *proc.Process
	SyscallTable *syscall.Table
	Mounts       *vfs.Mounts
	Resolver     *vfs.Resolver
	Memory       *physmem.Memory
}

// Boot brings up every kernel subsystem — the buddy allocator and the VFS
// root mount (concurrently), then paging, scheduler, process table, syscall
// dispatch, and finally the net/block/module registries — the way
// kernel_main hands off from the bootloader. It creates the init process
// (PID 1) with an empty address space; c.Boot.InitProgram is recorded in
// the boot log line but is not loaded or executed.
func Boot(c cfg.Config) (*Kernel, error) {
	log := kernlog.New(c.Logging)
	metrics := kmetrics.New(nil)

	// This binary is a hosted-Go simulation of the kernel, not the
	// freestanding kernel image itself (arch/hal requires the "kernel"
	// build tag and links against external assembly that ships only with
	// that image); halsim's Go-only fake CPU is what every subsystem runs
	// against here, the same way the teacher's fs package runs against a
	// fake bucket instead of real Cloud Storage.
	cpu := halsim.New()

	userPages := zonePages(c.Memory.UserZonePages, defaultUserZonePages)
	mmioPages := zonePages(c.Memory.MMIOZonePages, defaultMMIOZonePages)
	kernelPages := zonePages(c.Memory.KernelZonePages, defaultKernelZonePages)

	specs := []buddy.ZoneSpec{
		{Kind: buddy.ZoneUser, Base: 0, Pages: userPages},
		{Kind: buddy.ZoneMMIO, Base: uintptr(userPages) * buddy.PageSize, Pages: mmioPages},
		{Kind: buddy.ZoneKernel, Base: uintptr(userPages+mmioPages) * buddy.PageSize, Pages: kernelPages},
	}

	// The zone/buddy allocator and the VFS root mount depend on nothing but
	// c and each other's results are never read by the other, so they boot
	// concurrently under one errgroup.Group with first-error propagation —
	// the scheduler, process table, address space and syscall table that
	// follow all need one or both of these, so they stay sequential.
	var (
		alloc    *buddy.Allocator
		mounts   *vfs.Mounts
		resolver *vfs.Resolver
	)
	var g errgroup.Group
	g.Go(func() error {
		a, err := buddy.New(specs, nil)
		if err != nil {
			return fmt.Errorf("booting buddy allocator: %w", err)
		}
		alloc = a
		return nil
	})
	rootFSType := c.Boot.RootFSType
	if rootFSType == "" {
		rootFSType = "ramfs"
	}
	g.Go(func() error {
		rootFS, err := vfs.NewFilesystem(string(rootFSType), nil)
		if err != nil {
			return fmt.Errorf("instantiating root filesystem driver %q: %w", rootFSType, err)
		}
		m, err := vfs.NewMounts(rootFS)
		if err != nil {
			return fmt.Errorf("mounting root filesystem: %w", err)
		}
		mounts = m
		resolver = vfs.NewResolver(mounts)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	eng := paging.NewEngine(paging.LayoutAMD64, alloc, cpu)

	scheduler := sched.New(cpu, metrics, log)

	table := proc.NewTable(scheduler, cpu)

	// mem is the byte-array-per-page physical RAM every process's address
	// space reads/writes through: mm/usercopy's checked copies and
	// mm/vmspace's file-backed page population both address it by the same
	// physical page base the buddy allocator hands out.
	mem := physmem.New()

	space, err := vmspace.New(eng, alloc)
	if err != nil {
		return nil, fmt.Errorf("building init's address space: %w", err)
	}
	space.SetMemory(mem)
	initProc := table.NewInit(space)

	syscallTable := syscall.NewTable(metrics)
	syscall.RegisterDefault(syscallTable, func(ctx *syscall.Context) *syscall.ProcContext {
		return &syscall.ProcContext{
			Context:  ctx,
			Process:  initProc,
			Table:    table,
			Resolver: resolver,
			Mounts:   mounts,
		}
	})

	// Connect the syscall vector to dispatch: every trap into vector 0x80
	// builds a fresh syscall.Context against whichever process the
	// scheduler has currently selected and hands it to the table. Every
	// other vector is left nil, matching a kernel that has no exception or
	// device-IRQ handlers registered yet beyond the scheduler's own timer
	// line (wired separately, below, through AcknowledgeIRQ rather than a
	// trapped frame).
	var handlers [129]func(*arch.Frame)
	handlers[syscallVector] = func(frame *arch.Frame) {
		current, ok := scheduler.Current().(*proc.Process)
		if !ok {
			return
		}
		ctx := &syscall.Context{Frame: frame, Space: current, Memory: mem, Compat: false}
		syscallTable.Dispatch(ctx)
	}
	cpu.InstallIDT(handlers)

	// The very first process switch is not timer-driven (a single runnable
	// process disables the adaptive PIT entirely, per spec.md §4.5), so
	// kernel_main's final handoff to init has to select it explicitly once
	// here; every switch after another process joins the run queue goes
	// through the tick generator started below instead.
	scheduler.EndTick()

	// Hand off to the scheduler's timer tick the way kernel_main never
	// returns from calling the scheduler on real hardware; here that's a
	// background goroutine driven by the simulated PIT instead of an IDT
	// entry, since this process is also expected to return control to its
	// caller (a test harness, or a future REPL/shell built on this same
	// Boot call).
	go halsim.NewTickGenerator(cpu).Run(context.Background(), scheduler.EndTick)

	// No storage controller or network interface driver exists in this
	// simulation yet (spec.md's Non-goals exclude concrete HBA/NIC
	// drivers), so these registries start empty; they still need to exist
	// at boot time so device-detection code elsewhere has somewhere to
	// register against once a driver does load.
	netRegistry := net.NewRegistry()
	blockRegistry := block.NewRegistry()
	moduleRegistry := module.NewRegistry()
	_, _, _ = netRegistry, blockRegistry, moduleRegistry

	boot := log.WithSubsystem("boot")
	boot.Trace(context.Background(), "kernel booted",
		"app", c.AppName,
		"root_fs_type", string(c.Boot.RootFSType),
		"init", c.Boot.InitProgram,
		"init_pid", initProc.PID(),
		"modules_configured", c.Boot.Modules,
		"scheduler_uptime", scheduler.Uptime(),
	)

	return &Kernel{
		CPU:          cpu,
		Scheduler:    scheduler,
		Table:        table,
		Init:         initProc,
		SyscallTable: syscallTable,
		Mounts:       mounts,
		Resolver:     resolver,
		Memory:       mem,
	}, nil
}
