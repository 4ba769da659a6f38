// Package paging implements the hierarchical page-table engine: map/unmap
// with transactional rollback, PSE large-page expansion, TLB invalidation,
// and address-space bind/free. Depth and fan-out are architecture
// parameters (2 levels x 1024 entries on 32-bit x86, 4 levels x 512
// entries on x86-64) rather than hard-coded, per spec.md §4.2.
package paging

import (
	"fmt"

	"github.com/maestro-os/maestro/arch"
	"github.com/maestro-os/maestro/errno"
	"github.com/maestro-os/maestro/mm/buddy"
)

// Flags are the per-entry protection/residence bits, architecture-neutral.
type Flags uint32

const (
	Present Flags = 1 << iota
	Writable
	User
	Global
	NoExecute
	pse // internal: this entry is a large-page leaf, not a pointer to a table
)

// Layout describes one architecture's page-table shape.
type Layout struct {
	Levels int // number of levels walked from root to leaf, e.g. 4 on amd64
	Fanout int // entries per table at every level, e.g. 512 on amd64

	// UserspaceTables is the number of leading (low-address) top-level
	// entries available to userspace; the remaining top-level entries are
	// reserved for the shared kernel map installed at boot.
	UserspaceTables int

	PageShift uint // log2(page size); 12 for 4 KiB pages
}

// Layout386 and LayoutAMD64 are the two architectures spec.md §4.2 names.
var (
	Layout386   = Layout{Levels: 2, Fanout: 1024, UserspaceTables: 768, PageShift: 12}
	LayoutAMD64 = Layout{Levels: 4, Fanout: 512, UserspaceTables: 256, PageShift: 12}
)

type entry struct {
	flags Flags
	phys  uintptr
}

func (e entry) present() bool { return e.flags&Present != 0 }

type table struct {
	entries []entry
}

func newTable(n int) *table { return &table{entries: make([]entry, n)} }

// Engine owns the physical allocator tables are carved from and the
// architecture layout every Context walks.
type Engine struct {
	layout Layout
	alloc  *buddy.Allocator
	cpu    arch.CPU

	// tables maps a table's physical base address to its in-memory
	// contents. A real kernel addresses tables through the identity/high-
	// half map; this registry stands in for that indirection so the engine
	// can be exercised without a byte-addressable physical RAM model.
	tables map[uintptr]*table

	kernelTop *table // pre-allocated, shared top-level kernel entries
	nextPhys  uintptr
}

// NewEngine constructs a paging engine. alloc provides the physical pages
// backing page tables; cpu is used for TLB invalidation (InvalidatePage) and
// by Context.Bind (SetCR3), and is nil-safe for tests that don't care about
// either.
func NewEngine(layout Layout, alloc *buddy.Allocator, cpu arch.CPU) *Engine {
	e := &Engine{layout: layout, alloc: alloc, cpu: cpu, tables: make(map[uintptr]*table)}
	e.kernelTop = newTable(layout.Fanout)
	return e
}

// Context is one address space's root page table.
type Context struct {
	eng      *Engine
	rootPhys uintptr
}

// NewContext allocates a fresh root table whose upper UserspaceTables..
// Fanout-1 entries alias the engine's shared kernel table, and whose lower
// entries start empty.
func (e *Engine) NewContext() (*Context, error) {
	root, err := e.allocTable()
	if err != nil {
		return nil, err
	}
	t := e.tables[root]
	for i := e.layout.UserspaceTables; i < e.layout.Fanout; i++ {
		t.entries[i] = e.kernelTop.entries[i]
	}
	return &Context{eng: e, rootPhys: root}, nil
}

func (e *Engine) allocTable() (uintptr, error) {
	if e.alloc == nil {
		phys := e.nextPhys
		e.nextPhys += buddy.PageSize
		e.tables[phys] = newTable(e.layout.Fanout)
		return phys, nil
	}
	phys, err := e.alloc.Alloc(0, buddy.ZoneKernel)
	if err != nil {
		return 0, err
	}
	e.tables[phys] = newTable(e.layout.Fanout)
	return phys, nil
}

func (e *Engine) freeTable(phys uintptr) {
	delete(e.tables, phys)
	if e.alloc != nil {
		_ = e.alloc.Free(phys, 0)
	}
}

func (e *Engine) indices(virt uintptr) []int {
	idx := make([]int, e.layout.Levels)
	shiftBits := log2(e.layout.Fanout)
	v := virt >> e.layout.PageShift
	for lvl := e.layout.Levels - 1; lvl >= 0; lvl-- {
		idx[lvl] = int(v & uintptr(e.layout.Fanout-1))
		v >>= shiftBits
	}
	return idx
}

func log2(n int) uint {
	var b uint
	for (1 << b) < n {
		b++
	}
	return b
}

// logRecord is one entry mutation recorded for rollback.
type logRecord struct {
	tablePhys   uintptr
	index       int
	prev        entry
	freeOnAbort uintptr // non-zero: a table allocated during this txn at this phys addr, to be freed on rollback
}

// Txn is a map/unmap transaction. Every entry mutation is appended to a log
// that is either discarded on Commit or replayed backward on Rollback,
// replacing the exception-style unwinding the original kernel used
// (spec.md §9).
type Txn struct {
	ctx *Context
	log []logRecord
	// touched virtual pages, for the TLB flush on Commit.
	touched []uintptr
}

// Begin starts a transaction against ctx.
func (ctx *Context) Begin() *Txn { return &Txn{ctx: ctx} }

func (t *Txn) record(tablePhys uintptr, index int, prev entry, freeOnAbort uintptr) {
	t.log = append(t.log, logRecord{tablePhys: tablePhys, index: index, prev: prev, freeOnAbort: freeOnAbort})
}

// Rollback restores every modified entry to its pre-transaction value, in
// reverse order, and frees any table that was allocated (and is now empty)
// during the transaction.
func (t *Txn) Rollback() {
	for i := len(t.log) - 1; i >= 0; i-- {
		r := t.log[i]
		tb := t.ctx.eng.tables[r.tablePhys]
		if tb != nil {
			tb.entries[r.index] = r.prev
		}
		if r.freeOnAbort != 0 {
			t.ctx.eng.freeTable(r.freeOnAbort)
		}
	}
	t.log = nil
	t.touched = nil
}

// Commit flushes the TLB for every page touched by the transaction on the
// current CPU.
func (t *Txn) Commit() {
	if t.ctx.eng.cpu != nil {
		for _, v := range t.touched {
			t.ctx.eng.cpu.InvalidatePage(v)
		}
	}
	t.log = nil
	t.touched = nil
}

// walkForWrite walks from root to the leaf level for virt, allocating
// intermediate tables as needed and expanding any PSE entry found along
// the way into a finer table that reproduces the prior large mapping. It
// returns the leaf table and the index within it. On allocation failure it
// returns an error; the caller must Rollback the transaction.
func (t *Txn) walkForWrite(virt uintptr) (*table, int, error) {
	e := t.ctx.eng
	idx := e.indices(virt)
	curPhys := t.ctx.rootPhys
	for lvl := 0; lvl < e.layout.Levels-1; lvl++ {
		tb := e.tables[curPhys]
		i := idx[lvl]
		ent := tb.entries[i]

		switch {
		case !ent.present():
			childPhys, err := e.allocTable()
			if err != nil {
				return nil, 0, err
			}
			t.record(curPhys, i, ent, childPhys)
			tb.entries[i] = entry{flags: Present | Writable | User, phys: childPhys}
			curPhys = childPhys

		case ent.flags&pse != 0:
			// Expand: this entry currently maps a large page directly;
			// build a finer table whose every entry reproduces the same
			// physical range and flags, then replace the PSE leaf with a
			// pointer to it.
			childPhys, err := e.allocTable()
			if err != nil {
				return nil, 0, err
			}
			child := e.tables[childPhys]
			baseFlags := ent.flags &^ pse
			for j := 0; j < e.layout.Fanout; j++ {
				child.entries[j] = entry{flags: baseFlags, phys: ent.phys + uintptr(j)*buddy.PageSize}
			}
			t.record(curPhys, i, ent, childPhys)
			tb.entries[i] = entry{flags: Present | Writable | User, phys: childPhys}
			curPhys = childPhys

		default:
			curPhys = ent.phys
		}
	}
	return e.tables[curPhys], idx[e.layout.Levels-1], nil
}

// Map installs a single-page mapping of phys at virt with the given flags
// within txn. Both virt and phys must be page-aligned.
func (t *Txn) Map(phys, virt uintptr, flags Flags) error {
	if phys%buddy.PageSize != 0 || virt%buddy.PageSize != 0 {
		return errno.EINVAL
	}
	leaf, i, err := t.walkForWrite(virt)
	if err != nil {
		return err
	}
	prev := leaf.entries[i]
	t.record(t.leafTablePhys(virt), i, prev, 0)
	leaf.entries[i] = entry{flags: flags | Present, phys: phys}
	t.touched = append(t.touched, virt)
	return nil
}

// leafTablePhys re-walks read-only to find the physical address of the
// table holding virt's leaf entry, for log bookkeeping after walkForWrite
// has already ensured every intermediate table exists.
func (t *Txn) leafTablePhys(virt uintptr) uintptr {
	e := t.ctx.eng
	idx := e.indices(virt)
	cur := t.ctx.rootPhys
	for lvl := 0; lvl < e.layout.Levels-1; lvl++ {
		tb := e.tables[cur]
		cur = tb.entries[idx[lvl]].phys
	}
	return cur
}

// Unmap clears the mapping at virt, if any.
func (t *Txn) Unmap(virt uintptr) error {
	if virt%buddy.PageSize != 0 {
		return errno.EINVAL
	}
	e := t.ctx.eng
	idx := e.indices(virt)
	cur := t.ctx.rootPhys
	for lvl := 0; lvl < e.layout.Levels-1; lvl++ {
		tb := e.tables[cur]
		ent := tb.entries[idx[lvl]]
		if !ent.present() {
			return nil // already unmapped
		}
		cur = ent.phys
	}
	leaf := e.tables[cur]
	i := idx[e.layout.Levels-1]
	prev := leaf.entries[i]
	if !prev.present() {
		return nil
	}
	t.record(cur, i, prev, 0)
	leaf.entries[i] = entry{}
	t.touched = append(t.touched, virt)
	return nil
}

// Translate walks the tree honoring PSE and returns the physical address
// corresponding to virt, including its low-order offset bits.
func (ctx *Context) Translate(virt uintptr) (uintptr, bool) {
	e := ctx.eng
	idx := e.indices(virt)
	cur := ctx.rootPhys
	offset := virt & (buddy.PageSize - 1)
	for lvl := 0; lvl < e.layout.Levels-1; lvl++ {
		tb := e.tables[cur]
		ent := tb.entries[idx[lvl]]
		if !ent.present() {
			return 0, false
		}
		if ent.flags&pse != 0 {
			return ent.phys + offset, true
		}
		cur = ent.phys
	}
	leaf := e.tables[cur]
	ent := leaf.entries[idx[e.layout.Levels-1]]
	if !ent.present() {
		return 0, false
	}
	return ent.phys + offset, true
}

// Bind loads this context's root table as the hardware page-table root
// (mov cr3 on x86).
func (ctx *Context) Bind() {
	if ctx.eng.cpu != nil {
		ctx.eng.cpu.SetCR3(ctx.rootPhys)
	}
}

// Free drops every userspace table reachable from the root; the shared
// kernel tables above UserspaceTables are never freed.
func (ctx *Context) Free() {
	e := ctx.eng
	root := e.tables[ctx.rootPhys]
	for i := 0; i < e.layout.UserspaceTables; i++ {
		ent := root.entries[i]
		if ent.present() && ent.flags&pse == 0 {
			e.freeSubtree(ent.phys, e.layout.Levels-2)
		}
	}
	e.freeTable(ctx.rootPhys)
}

func (e *Engine) freeSubtree(phys uintptr, levelsBelow int) {
	if levelsBelow < 0 {
		return
	}
	tb := e.tables[phys]
	if tb == nil {
		return
	}
	if levelsBelow > 0 {
		for _, ent := range tb.entries {
			if ent.present() && ent.flags&pse == 0 {
				e.freeSubtree(ent.phys, levelsBelow-1)
			}
		}
	}
	e.freeTable(phys)
}

// InstallKernelTable pre-populates one of the shared top-level entries at
// boot, before any per-process context exists. index must be >=
// UserspaceTables.
func (e *Engine) InstallKernelTable(index int, phys uintptr, flags Flags) error {
	if index < e.layout.UserspaceTables || index >= e.layout.Fanout {
		return fmt.Errorf("paging: kernel table index %d outside reserved range", index)
	}
	e.kernelTop.entries[index] = entry{flags: flags | Present, phys: phys}
	return nil
}

// MapLargePage installs a PSE leaf directly at a top-level-minus-one
// boundary, used by boot-time identity mapping of low memory. Only valid
// where the architecture's large-page size aligns with the level being
// written; callers are responsible for picking a virt/phys pair valid for
// the target architecture.
func (t *Txn) MapLargePage(phys, virt uintptr, flags Flags) error {
	e := t.ctx.eng
	idx := e.indices(virt)
	cur := t.ctx.rootPhys
	for lvl := 0; lvl < e.layout.Levels-2; lvl++ {
		tb := e.tables[cur]
		i := idx[lvl]
		ent := tb.entries[i]
		if !ent.present() {
			childPhys, err := e.allocTable()
			if err != nil {
				return err
			}
			t.record(cur, i, ent, childPhys)
			tb.entries[i] = entry{flags: Present | Writable | User, phys: childPhys}
			cur = childPhys
		} else {
			cur = ent.phys
		}
	}
	tb := e.tables[cur]
	i := idx[e.layout.Levels-2]
	prev := tb.entries[i]
	t.record(cur, i, prev, 0)
	tb.entries[i] = entry{flags: flags | Present | pse, phys: phys}
	t.touched = append(t.touched, virt)
	return nil
}
