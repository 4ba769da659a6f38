// Package buddy implements the physical-page buddy allocator: order-N
// contiguous page allocation across the user, MMIO, and kernel zones.
//
// Free frames are linked via indices stored inside the frame metadata array
// (each zone's frames slice), never by writing into the pages themselves — the
// invariant spec.md §4.1 requires so that free/allocation never touches
// managed memory. This mirrors the invariant-checking-wrapper pattern the
// teacher applies to its caches (internal/lrucache/cache_test.go's
// invariantsCache): CheckInvariants walks every free list and asserts
// alignment and buddy-state consistency without mutating anything.
package buddy

import (
	"fmt"

	"github.com/maestro-os/maestro/errno"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// PageSize is the frame size in bytes (4 KiB pages).
	PageSize = 4096
	// MaxOrder is the largest block order the allocator will track: 2^17
	// pages (512 MiB) in one contiguous block.
	MaxOrder = 17
)

// Zone identifies a disjoint, privilege-ordered region of physical memory.
// Allocation requests carry a zone hint and escalate privilege on failure;
// see Allocator.Alloc.
type Zone int

const (
	ZoneUser Zone = iota
	ZoneMMIO
	ZoneKernel

	zoneCount
)

func (z Zone) String() string {
	switch z {
	case ZoneUser:
		return "user"
	case ZoneMMIO:
		return "mmio"
	case ZoneKernel:
		return "kernel"
	default:
		return fmt.Sprintf("zone(%d)", int(z))
	}
}

// fallbackChain is the set of zones tried, in order, for a given hint. A
// request never skips a privilege level: user escalates to MMIO only,
// MMIO escalates to kernel, and kernel never leaves its own zone.
var fallbackChain = map[Zone][]Zone{
	ZoneUser:   {ZoneUser, ZoneMMIO},
	ZoneMMIO:   {ZoneMMIO, ZoneKernel},
	ZoneKernel: {ZoneKernel},
}

type frameState uint8

const (
	stateFree frameState = iota
	stateAllocated
)

// BackingRef identifies the higher-level owner of an allocated frame
// (a VFS node for a file-backed page, nil for anonymous/kernel memory).
type BackingRef struct {
	Node  any // *vfs.Node, kept as `any` to avoid an import cycle with vfs.
	Index uint64
}

type frame struct {
	state frameState
	order int8 // order of the free block this frame is the base of; -1 if not a free-list head

	// Free-list links, indices into the zone's frames slice. -1 is the
	// sentinel for "no link".
	prev, next int32

	// Allocated-frame metadata.
	backing *BackingRef
	dirty   bool
}

// zone is one contiguous physical region managed at a single privilege
// level.
type zone struct {
	kind     Zone
	base     uintptr // physical address of frames[0]
	frames   []frame
	freeHead [MaxOrder + 1]int32 // index of the head of each order's free list, -1 if empty

	allocatedPages prometheus.Gauge
	freePages      prometheus.Gauge
}

// Allocator is the buddy physical-page allocator across all zones. A single
// interrupt-masking mutex in the real kernel guards all zones (spec.md §5);
// this package exposes plain methods and leaves locking to the caller
// (internal/kirq.Mutex) so unit tests can exercise it without an IRQ model.
type Allocator struct {
	zones      [zoneCount]*zone
	kernelBase uintptr // virtual address corresponding to zones[ZoneKernel].base
}

// ZoneSpec describes one zone's extent at construction time.
type ZoneSpec struct {
	Kind   Zone
	Base   uintptr
	Pages  int
}

// New builds an Allocator over the given zones. Each zone is tiled into
// the largest power-of-two free blocks that fit its page count, the way
// real buddy allocators seed a non-power-of-two boot extent.
func New(specs []ZoneSpec, reg prometheus.Registerer) (*Allocator, error) {
	a := &Allocator{}
	for _, s := range specs {
		if int(s.Kind) < 0 || int(s.Kind) >= int(zoneCount) {
			return nil, fmt.Errorf("buddy: invalid zone kind %d", s.Kind)
		}
		z := &zone{kind: s.Kind, base: s.Base, frames: make([]frame, s.Pages)}
		for i := range z.freeHead {
			z.freeHead[i] = -1
		}
		for i := range z.frames {
			z.frames[i] = frame{state: stateFree, order: -1, prev: -1, next: -1}
		}
		z.allocatedPages = prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "maestro_buddy_allocated_pages",
			Help:        "Pages currently allocated in this zone.",
			ConstLabels: prometheus.Labels{"zone": s.Kind.String()},
		})
		z.freePages = prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "maestro_buddy_free_pages",
			Help:        "Pages currently free in this zone.",
			ConstLabels: prometheus.Labels{"zone": s.Kind.String()},
		})
		if reg != nil {
			reg.MustRegister(z.allocatedPages, z.freePages)
		}
		seedFreeList(z)
		a.zones[s.Kind] = z
	}
	return a, nil
}

// seedFreeList breaks a fresh zone into the largest power-of-two blocks
// that tile its page count and inserts each as a free-list head.
func seedFreeList(z *zone) {
	n := len(z.frames)
	idx := 0
	for n > 0 {
		order := 0
		for order < MaxOrder && (1<<(order+1)) <= n && idx%(1<<(order+1)) == 0 {
			order++
		}
		blockPages := 1 << order
		insertFree(z, idx, order)
		idx += blockPages
		n -= blockPages
	}
	updateFreeGauge(z)
}

func updateFreeGauge(z *zone) {
	free := 0
	for order := 0; order <= MaxOrder; order++ {
		for i := z.freeHead[order]; i != -1; i = z.frames[i].next {
			free += 1 << order
		}
	}
	z.freePages.Set(float64(free))
	z.allocatedPages.Set(float64(len(z.frames) - free))
}

func insertFree(z *zone, idx, order int) {
	head := z.freeHead[order]
	z.frames[idx] = frame{state: stateFree, order: int8(order), prev: -1, next: head}
	if head != -1 {
		z.frames[head].prev = int32(idx)
	}
	z.freeHead[order] = int32(idx)
}

func removeFree(z *zone, idx, order int) {
	f := &z.frames[idx]
	if f.prev != -1 {
		z.frames[f.prev].next = f.next
	} else {
		z.freeHead[order] = f.next
	}
	if f.next != -1 {
		z.frames[f.next].prev = f.prev
	}
	f.prev, f.next = -1, -1
}

// buddyIndex returns the index of idx's buddy at the given order: the
// frame whose base address differs from idx's by exactly 2^order pages.
func buddyIndex(idx, order int) int {
	return idx ^ (1 << order)
}

// Alloc allocates 2^order contiguous pages, trying zoneHint first and
// escalating to more-privileged zones per fallbackChain. It returns the
// physical address of the base page.
func (a *Allocator) Alloc(order int, zoneHint Zone) (uintptr, error) {
	if order < 0 || order > MaxOrder {
		return 0, errno.EINVAL
	}
	for _, zk := range fallbackChain[zoneHint] {
		z := a.zones[zk]
		if z == nil {
			continue
		}
		if idx, ok := allocFrom(z, order); ok {
			updateFreeGauge(z)
			return z.base + uintptr(idx)*PageSize, nil
		}
	}
	return 0, errno.ENOMEM
}

// AllocKernel allocates from the kernel zone and additionally returns the
// kernel-mapped virtual address (identity-mapped offset from the zone
// base, matching the high-half kernel map spec.md §6 describes).
func (a *Allocator) AllocKernel(order int) (phys uintptr, virt uintptr, err error) {
	phys, err = a.Alloc(order, ZoneKernel)
	if err != nil {
		return 0, 0, err
	}
	return phys, a.kernelBase + phys, nil
}

// SetKernelVirtualBase configures the offset AllocKernel uses to derive a
// virtual address from a physical one.
func (a *Allocator) SetKernelVirtualBase(base uintptr) { a.kernelBase = base }

func allocFrom(z *zone, order int) (int, bool) {
	// Find the smallest order >= requested with a free block.
	for o := order; o <= MaxOrder; o++ {
		if z.freeHead[o] == -1 {
			continue
		}
		idx := int(z.freeHead[o])
		removeFree(z, idx, o)
		// Split down to the requested order, inserting the unused upper
		// halves into their own free lists.
		for o > order {
			o--
			buddy := idx + (1 << o)
			insertFree(z, buddy, o)
		}
		z.frames[idx].state = stateAllocated
		z.frames[idx].order = int8(order)
		return idx, true
	}
	return -1, false
}

// Free returns a 2^order block starting at phys to its zone, coalescing
// with its buddy repeatedly while the buddy is free at the same order, up
// to MaxOrder.
func (a *Allocator) Free(phys uintptr, order int) error {
	z, idx, ok := a.locate(phys)
	if !ok {
		return errno.EINVAL
	}
	if idx < 0 || idx >= len(z.frames) || z.frames[idx].state != stateAllocated {
		return errno.EINVAL
	}
	z.frames[idx] = frame{state: stateFree, order: int8(order), prev: -1, next: -1}

	for order < MaxOrder {
		bud := buddyIndex(idx, order)
		if bud < 0 || bud >= len(z.frames) {
			break
		}
		bf := &z.frames[bud]
		if bf.state != stateFree || int(bf.order) != order {
			break
		}
		// Coalesce: remove the buddy from its free list, merge upward.
		removeFree(z, bud, order)
		if bud < idx {
			idx = bud
		}
		order++
	}
	insertFree(z, idx, order)
	updateFreeGauge(z)
	return nil
}

func (a *Allocator) locate(phys uintptr) (*zone, int, bool) {
	for _, z := range a.zones {
		if z == nil {
			continue
		}
		if phys < z.base {
			continue
		}
		idx := int((phys - z.base) / PageSize)
		if idx < len(z.frames) {
			return z, idx, true
		}
	}
	return nil, 0, false
}

// SetBacking records the owning node/index of an allocated frame, used by
// the address-space COW path to tell private pages from shared ones.
func (a *Allocator) SetBacking(phys uintptr, ref *BackingRef, dirty bool) error {
	z, idx, ok := a.locate(phys)
	if !ok || z.frames[idx].state != stateAllocated {
		return errno.EINVAL
	}
	z.frames[idx].backing = ref
	z.frames[idx].dirty = dirty
	return nil
}

// Backing returns the owning reference and dirty flag previously recorded
// by SetBacking.
func (a *Allocator) Backing(phys uintptr) (*BackingRef, bool, error) {
	z, idx, ok := a.locate(phys)
	if !ok || z.frames[idx].state != stateAllocated {
		return nil, false, errno.EINVAL
	}
	return z.frames[idx].backing, z.frames[idx].dirty, nil
}

// AllocatedPages returns the number of pages currently allocated in zone z,
// for the idempotence property in spec.md §8.
func (a *Allocator) AllocatedPages(z Zone) int {
	zn := a.zones[z]
	if zn == nil {
		return 0
	}
	total := 0
	for i := range zn.frames {
		if zn.frames[i].state == stateAllocated {
			total++
		}
	}
	return total
}

// CheckInvariants walks every free list in every zone and verifies the
// alignment and buddy-state invariants spec.md §3 requires, without
// mutating anything. Intended for use the way internal/lrucache's
// invariantsCache wraps every mutating call in tests.
func (a *Allocator) CheckInvariants() error {
	for _, z := range a.zones {
		if z == nil {
			continue
		}
		for order := 0; order <= MaxOrder; order++ {
			for i := z.freeHead[order]; i != -1; i = z.frames[i].next {
				if int(i)%(1<<order) != 0 {
					return fmt.Errorf("buddy: frame %d in zone %s not aligned to order %d", i, z.kind, order)
				}
				if z.frames[i].state != stateFree {
					return fmt.Errorf("buddy: frame %d in zone %s free list but marked allocated", i, z.kind)
				}
			}
		}
	}
	return nil
}
