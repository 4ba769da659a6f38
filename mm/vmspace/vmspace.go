// Package vmspace implements a process address space: an ordered list of
// VMAs (virtual memory areas) with gap tracking, copy-on-write fork,
// residence bookkeeping, and page-fault resolution layered on mm/paging
// and mm/buddy.
package vmspace

import (
	"sort"

	"github.com/maestro-os/maestro/errno"
	"github.com/maestro-os/maestro/mm/buddy"
	"github.com/maestro-os/maestro/mm/paging"
)

// Residence describes where a VMA's pages come from once faulted in.
type Residence int

const (
	// ResidenceAnonymous pages are zero-filled on first fault.
	ResidenceAnonymous Residence = iota
	// ResidenceFile pages are populated from a backing VFS node.
	ResidenceFile
	// ResidenceMMIO pages map a fixed device-memory range; never COW'd,
	// never demand-paged, and excluded from fork's copy-on-write pass.
	ResidenceMMIO
)

// FileBacking names the VFS node and offset a ResidenceFile VMA reads from.
// Node is `any` to avoid importing the vfs package here, mirroring
// mm/buddy.BackingRef's layering choice.
type FileBacking struct {
	Node   any
	Offset uint64
}

// fileReaderAt is the narrow interface a FileBacking.Node must satisfy for
// populate to pull its content in, kept local (rather than imported from
// vfs.RegularFileNode) for the same reason FileBacking.Node is `any`.
type fileReaderAt interface {
	ReadAt(buf []byte, offset int64) (int, error)
}

// PageStore is the physical memory backing populate writes file content
// and zero-fill into, addressed by physical page base. mm/physmem.Memory
// satisfies it structurally; it is declared here rather than imported so
// this package does not depend on mm/physmem or mm/usercopy.
type PageStore interface {
	WritePage(phys uintptr, data []byte)
}

// VMA is one contiguous mapped region of a process's address space.
type VMA struct {
	Start, End uintptr // [Start, End), page-aligned
	Prot       paging.Flags
	Shared     bool // MAP_SHARED vs. MAP_PRIVATE
	Residence  Residence
	File       *FileBacking

	// cowPages tracks which pages within this VMA are still
	// copy-on-write-shared with a parent/sibling address space, keyed by
	// page index from Start.
	cowPages map[int]bool
}

func (v *VMA) Pages() int { return int(v.End-v.Start) / buddy.PageSize }

func (v *VMA) contains(addr uintptr) bool { return addr >= v.Start && addr < v.End }

// Space is one process's address space: its page-table context plus the
// VMA list describing what each mapped range means.
type Space struct {
	ctx   *paging.Context
	alloc *buddy.Allocator
	vmas  []*VMA // kept sorted by Start

	// mem is the physical memory backing file-residence pages are read
	// into. It is nil until SetMemory is called, which every production
	// caller does right after New (tests that only exercise anonymous
	// VMAs have no need to set it).
	mem PageStore
}

// New creates an empty address space backed by a fresh page-table context.
func New(eng *paging.Engine, alloc *buddy.Allocator) (*Space, error) {
	ctx, err := eng.NewContext()
	if err != nil {
		return nil, err
	}
	return &Space{ctx: ctx, alloc: alloc}, nil
}

// SetMemory wires the physical memory backing used to populate
// ResidenceFile pages. Spaces created without calling this can still map
// and fault anonymous/MMIO VMAs; faulting a ResidenceFile VMA without one
// returns errno.EIO.
func (s *Space) SetMemory(mem PageStore) { s.mem = mem }

func (s *Space) indexOf(start uintptr) int {
	return sort.Search(len(s.vmas), func(i int) bool { return s.vmas[i].Start >= start })
}

// overlaps reports whether [start, end) intersects any existing VMA.
func (s *Space) overlaps(start, end uintptr) bool {
	for _, v := range s.vmas {
		if start < v.End && end > v.Start {
			return true
		}
	}
	return false
}

// FindGap scans upward from hint for a free run of at least n pages,
// returning its base address. This is the allocation strategy for
// MAP_PRIVATE/MAP_ANONYMOUS requests without a fixed address.
func (s *Space) FindGap(hint uintptr, n int) (uintptr, error) {
	need := uintptr(n) * buddy.PageSize
	candidate := hint
	sorted := append([]*VMA(nil), s.vmas...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })
	for _, v := range sorted {
		if candidate+need <= v.Start {
			return candidate, nil
		}
		if v.End > candidate {
			candidate = v.End
		}
	}
	return candidate, nil
}

// Map installs a new VMA over [start, start+n*PageSize) with the given
// protection and residence. It does not establish any page-table entries;
// those are created lazily on first fault (anonymous/file) or eagerly for
// MMIO, via bindMMIO.
func (s *Space) Map(start uintptr, n int, prot paging.Flags, res Residence, file *FileBacking, shared bool) (*VMA, error) {
	end := start + uintptr(n)*buddy.PageSize
	if s.overlaps(start, end) {
		return nil, errno.EINVAL
	}
	v := &VMA{Start: start, End: end, Prot: prot, Shared: shared, Residence: res, File: file}
	if res == ResidenceMMIO {
		if err := s.bindMMIO(v); err != nil {
			return nil, err
		}
	}
	idx := s.indexOf(start)
	s.vmas = append(s.vmas, nil)
	copy(s.vmas[idx+1:], s.vmas[idx:])
	s.vmas[idx] = v
	return v, nil
}

func (s *Space) bindMMIO(v *VMA) error {
	txn := s.ctx.Begin()
	for p := v.Start; p < v.End; p += buddy.PageSize {
		if err := txn.Map(p, p, v.Prot); err != nil {
			txn.Rollback()
			return err
		}
	}
	txn.Commit()
	return nil
}

// Find returns the VMA containing addr, if any.
func (s *Space) Find(addr uintptr) (*VMA, bool) {
	for _, v := range s.vmas {
		if v.contains(addr) {
			return v, true
		}
	}
	return nil, false
}

// Unmap removes all or part of the VMA(s) covering [start, end), freeing
// any already-resident physical pages and punching a hole if the unmapped
// range is a strict subset of an existing VMA.
func (s *Space) Unmap(start, end uintptr) error {
	var kept []*VMA
	for _, v := range s.vmas {
		switch {
		case end <= v.Start || start >= v.End:
			kept = append(kept, v)
		case start <= v.Start && end >= v.End:
			s.releaseRange(v, v.Start, v.End)
		case start <= v.Start:
			s.releaseRange(v, v.Start, end)
			v.Start = end
			kept = append(kept, v)
		case end >= v.End:
			s.releaseRange(v, start, v.End)
			v.End = start
			kept = append(kept, v)
		default:
			// Splits the VMA in two, unmapping the middle.
			s.releaseRange(v, start, end)
			right := &VMA{Start: end, End: v.End, Prot: v.Prot, Shared: v.Shared, Residence: v.Residence, File: v.File}
			v.End = start
			kept = append(kept, v, right)
		}
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].Start < kept[j].Start })
	s.vmas = kept
	return nil
}

func (s *Space) releaseRange(v *VMA, start, end uintptr) {
	txn := s.ctx.Begin()
	for p := start; p < end; p += buddy.PageSize {
		if phys, ok := s.ctx.Translate(p); ok {
			if v.Residence != ResidenceMMIO {
				_ = s.alloc.Free(phys, 0)
			}
			_ = txn.Unmap(p)
		}
	}
	txn.Commit()
}

// Fault resolves a page fault at addr: demand-pages anonymous/file VMAs on
// first touch, and breaks copy-on-write sharing on a write fault to a
// cow-marked page, duplicating the frame.
func (s *Space) Fault(addr uintptr, write bool) error {
	v, ok := s.Find(addr)
	if !ok {
		return errno.EFAULT
	}
	page := addr &^ (buddy.PageSize - 1)
	pageIdx := int(page-v.Start) / buddy.PageSize

	if phys, mapped := s.ctx.Translate(page); mapped {
		if write && v.cowPages != nil && v.cowPages[pageIdx] {
			return s.breakCOW(v, page, phys, pageIdx)
		}
		if write && v.Prot&paging.Writable == 0 {
			return errno.EFAULT
		}
		return nil
	}

	if write && v.Prot&paging.Writable == 0 {
		return errno.EFAULT
	}
	return s.populate(v, page)
}

func (s *Space) populate(v *VMA, page uintptr) error {
	phys, err := s.alloc.Alloc(0, buddy.ZoneUser)
	if err != nil {
		return err
	}
	if v.Residence == ResidenceFile {
		if err := s.readFileBacking(v, page, phys); err != nil {
			_ = s.alloc.Free(phys, 0)
			return err
		}
	}
	txn := s.ctx.Begin()
	if err := txn.Map(phys, page, v.Prot|paging.User); err != nil {
		txn.Rollback()
		_ = s.alloc.Free(phys, 0)
		return err
	}
	txn.Commit()
	return nil
}

// readFileBacking fills phys with v.File's content at the offset
// corresponding to page, zero-padding any range past end-of-file — the
// "file-read" case of spec.md §4.3's "acquire a page from the residence
// (zero-fill, file-read, or MMIO)" contract.
func (s *Space) readFileBacking(v *VMA, page, phys uintptr) error {
	if s.mem == nil {
		return errno.EIO
	}
	reader, ok := v.File.Node.(fileReaderAt)
	if !ok {
		return errno.EIO
	}
	off := v.File.Offset + uint64(page-v.Start)
	buf := make([]byte, buddy.PageSize)
	if _, err := reader.ReadAt(buf, int64(off)); err != nil {
		return err
	}
	_ = s.alloc.SetBacking(phys, &buddy.BackingRef{Node: v.File.Node, Index: off / buddy.PageSize}, false)
	s.mem.WritePage(phys, buf)
	return nil
}

func (s *Space) breakCOW(v *VMA, page, oldPhys uintptr, pageIdx int) error {
	newPhys, err := s.alloc.Alloc(0, buddy.ZoneUser)
	if err != nil {
		return err
	}
	txn := s.ctx.Begin()
	if err := txn.Unmap(page); err != nil {
		txn.Rollback()
		_ = s.alloc.Free(newPhys, 0)
		return err
	}
	if err := txn.Map(newPhys, page, v.Prot|paging.User); err != nil {
		txn.Rollback()
		_ = s.alloc.Free(newPhys, 0)
		return err
	}
	txn.Commit()
	delete(v.cowPages, pageIdx)
	// Copy the shared frame's content into the private one. The old frame
	// stays mapped in the other sharers and is not released here; no frame
	// reference count is kept.
	if r, ok := s.mem.(interface{ ReadPage(uintptr) []byte }); ok {
		s.mem.WritePage(newPhys, r.ReadPage(oldPhys))
	}
	return nil
}

// Fork duplicates this address space for a child process: VMAs are copied,
// and every private (non-shared, non-MMIO) resident page is remapped
// read-only and marked copy-on-write in both the parent and the child,
// so neither actually copies page content until one of them writes.
func (s *Space) Fork(eng *paging.Engine) (*Space, error) {
	child, err := New(eng, s.alloc)
	if err != nil {
		return nil, err
	}
	child.mem = s.mem
	for _, v := range s.vmas {
		cv := &VMA{Start: v.Start, End: v.End, Prot: v.Prot, Shared: v.Shared, Residence: v.Residence, File: v.File}
		child.vmas = append(child.vmas, cv)

		if v.Residence == ResidenceMMIO || v.Shared {
			if v.Residence == ResidenceMMIO {
				if err := child.bindMMIO(cv); err != nil {
					return nil, err
				}
			}
			continue
		}

		cv.cowPages = make(map[int]bool)
		if v.cowPages == nil {
			v.cowPages = make(map[int]bool)
		}
		for p := v.Start; p < v.End; p += buddy.PageSize {
			phys, ok := s.ctx.Translate(p)
			if !ok {
				continue
			}
			idx := int(p-v.Start) / buddy.PageSize
			v.cowPages[idx] = true
			cv.cowPages[idx] = true

			roFlags := (v.Prot &^ paging.Writable) | paging.User
			ptxn := s.ctx.Begin()
			_ = ptxn.Unmap(p)
			if err := ptxn.Map(phys, p, roFlags); err != nil {
				ptxn.Rollback()
				return nil, err
			}
			ptxn.Commit()

			ctxn := child.ctx.Begin()
			if err := ctxn.Map(phys, p, roFlags); err != nil {
				ctxn.Rollback()
				return nil, err
			}
			ctxn.Commit()
		}
	}
	return child, nil
}

// Translate exposes the underlying page-table context's translation, for
// checked user-copy (mm/usercopy) to resolve a virtual address.
func (s *Space) Translate(addr uintptr) (uintptr, bool) { return s.ctx.Translate(addr) }

// Writable reports whether the VMA covering addr grants write access,
// completing mm/usercopy.Space so a *Space can be passed directly to the
// checked-copy helpers without an adapter.
func (s *Space) Writable(addr uintptr) bool {
	v, ok := s.Find(addr)
	if !ok {
		return false
	}
	return v.Prot&paging.Writable != 0
}

// VMAs returns the sorted list of mapped regions, for /proc-style
// introspection and exec teardown.
func (s *Space) VMAs() []*VMA { return append([]*VMA(nil), s.vmas...) }
