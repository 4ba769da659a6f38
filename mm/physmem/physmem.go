// Package physmem implements the production mm/usercopy.Memory backing: a
// byte array per physical page, standing in for physical RAM the way
// mm/buddy's frame metadata stands in for the page-frame array, addressed
// by the same physical page base mm/buddy.Allocator hands out.
package physmem

import "github.com/maestro-os/maestro/mm/buddy"

// Memory is physical RAM, one []byte per page, allocated lazily on first
// touch the way a frame only holds real content once the buddy allocator
// hands it to a caller. Locking is left to the caller, the same discipline
// mm/buddy.Allocator documents: the single-CPU cooperative scheduler
// serializes syscall dispatch, so no internal mutex is needed.
type Memory struct {
	pages map[uintptr][]byte
}

// New returns an empty physical memory backing.
func New() *Memory {
	return &Memory{pages: make(map[uintptr][]byte)}
}

// ReadPage returns a copy of the page containing phys, allocating and
// zero-filling it first if this is its first touch.
func (m *Memory) ReadPage(phys uintptr) []byte {
	base := phys &^ (buddy.PageSize - 1)
	page := m.pages[base]
	if page == nil {
		page = make([]byte, buddy.PageSize)
		m.pages[base] = page
	}
	return append([]byte(nil), page...)
}

// WritePage replaces the full contents of the page containing phys.
func (m *Memory) WritePage(phys uintptr, data []byte) {
	base := phys &^ (buddy.PageSize - 1)
	buf := make([]byte, buddy.PageSize)
	copy(buf, data)
	m.pages[base] = buf
}
