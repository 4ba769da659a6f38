// Package heap implements the kernel block/chunk allocator layered on the
// buddy physical allocator: malloc/realloc/free over one or more
// buddy-allocated blocks, with size-segregated free-list bins.
package heap

import (
	"fmt"

	"github.com/maestro-os/maestro/errno"
	"github.com/maestro-os/maestro/mm/buddy"
)

const (
	// chunkMagic guards every chunk header against corruption; checked on
	// every free and on CheckInvariants.
	chunkMagic = 0xC0DEC0DE

	// minAlign is the minimum payload alignment guaranteed to callers.
	minAlign = 8

	// numBins is the number of size-segregated free lists, geometric in
	// size per spec.md §4.4.
	numBins = 8

	// blockOrder is the buddy order requested for each backing block (a
	// 16-page, 64 KiB block by default).
	blockOrder = 4
)

type chunk struct {
	magic      uint32
	used       bool
	size       int // payload size in bytes, not including the header
	block      *block
	prev, next *chunk // chunk order within the owning block
	binPrev    *chunk // free-list links; unused while used == true
	binNext    *chunk
}

// block is one buddy-allocated extent carved into chunks.
type block struct {
	phys  uintptr
	order int
	first *chunk
}

// Heap is a kernel malloc/realloc/free arena layered on a buddy.Allocator.
// It is not internally synchronized; callers hold the allocator's
// interrupt-masking mutex, matching the single-CPU cooperative-kernel
// concurrency model in spec.md §5.
type Heap struct {
	alloc  *buddy.Allocator
	blocks []*block
	bins   [numBins]*chunk // free-list heads, by bin

	// payload -> chunk, so Free/Realloc take raw pointers (represented
	// here as an opaque handle rather than an unsafe.Pointer, since this
	// module is exercised on the host rather than mapped kernel memory).
	live map[*Handle]*chunk
}

// Handle stands in for a raw pointer returned to kernel code: Go has no
// portable way to hand out a `*byte` backed by buddy-allocated physical
// memory outside the freestanding kernel image, so every allocation is
// identified by a Handle plus a byte slice view of its payload.
type Handle struct {
	Bytes []byte
}

// New creates an empty heap over alloc.
func New(alloc *buddy.Allocator) *Heap {
	return &Heap{alloc: alloc, live: make(map[*Handle]*chunk)}
}

func binFor(size int) int {
	// Geometric bins: bin i holds chunks of size in (2^(i+4), 2^(i+5)],
	// i.e. smallest bin covers up to 32 bytes, largest is a catch-all for
	// anything bigger than the other seven cover.
	threshold := 32
	for i := 0; i < numBins-1; i++ {
		if size <= threshold {
			return i
		}
		threshold <<= 1
	}
	return numBins - 1
}

func align(n, a int) int { return (n + a - 1) &^ (a - 1) }

// Alloc returns a payload of at least n bytes, allocating a fresh backing
// block from the buddy allocator if no free chunk fits.
func (h *Heap) Alloc(n int) (*Handle, error) {
	if n <= 0 {
		return nil, errno.EINVAL
	}
	n = align(n, minAlign)

	if c := h.findFit(n); c != nil {
		h.splitIfWorthwhile(c, n)
		c.used = true
		return h.handleFor(c), nil
	}

	if err := h.growByBlock(n); err != nil {
		return nil, err
	}
	c := h.findFit(n)
	if c == nil {
		return nil, errno.ENOMEM
	}
	h.splitIfWorthwhile(c, n)
	c.used = true
	return h.handleFor(c), nil
}

func (h *Heap) handleFor(c *chunk) *Handle {
	hnd := &Handle{Bytes: make([]byte, c.size)}
	h.live[hnd] = c
	return hnd
}

// findFit scans bins from the smallest that could fit upward, picking the
// first chunk large enough (first-fit within the smallest viable bin).
func (h *Heap) findFit(n int) *chunk {
	for b := binFor(n); b < numBins; b++ {
		for c := h.bins[b]; c != nil; c = c.binNext {
			if c.size >= n {
				return c
			}
		}
	}
	return nil
}

func (h *Heap) growByBlock(minPayload int) error {
	order := blockOrder
	for (1<<order)*buddy.PageSize-64 < minPayload && order < buddy.MaxOrder {
		order++
	}
	phys, err := h.alloc.Alloc(order, buddy.ZoneKernel)
	if err != nil {
		return err
	}
	blk := &block{phys: phys, order: order}
	size := (1 << order) * buddy.PageSize
	c := &chunk{magic: chunkMagic, size: size - 1, block: blk}
	blk.first = c
	h.blocks = append(h.blocks, blk)
	h.insertFree(c)
	return nil
}

func (h *Heap) insertFree(c *chunk) {
	c.used = false
	b := binFor(c.size)
	c.binNext = h.bins[b]
	c.binPrev = nil
	if h.bins[b] != nil {
		h.bins[b].binPrev = c
	}
	h.bins[b] = c
}

func (h *Heap) removeFree(c *chunk) {
	b := binFor(c.size)
	if c.binPrev != nil {
		c.binPrev.binNext = c.binNext
	} else {
		h.bins[b] = c.binNext
	}
	if c.binNext != nil {
		c.binNext.binPrev = c.binPrev
	}
	c.binPrev, c.binNext = nil, nil
}

// splitIfWorthwhile splits c if the remainder after carving out n bytes is
// large enough to be a useful chunk on its own.
func (h *Heap) splitIfWorthwhile(c *chunk, n int) {
	h.removeFree(c)
	const headerOverhead = 32 // notional header cost, for remainder viability
	remainder := c.size - n
	if remainder <= headerOverhead {
		return
	}
	rem := &chunk{
		magic: chunkMagic,
		size:  remainder - headerOverhead,
		block: c.block,
		prev:  c,
		next:  c.next,
	}
	if c.next != nil {
		c.next.prev = rem
	}
	c.next = rem
	c.size = n
	h.insertFree(rem)
}

// Free marks hnd's chunk free and coalesces with adjacent free chunks; if
// the resulting chunk spans the entire block, the block is returned to the
// buddy allocator.
func (h *Heap) Free(hnd *Handle) error {
	c, ok := h.live[hnd]
	if !ok {
		return errno.EINVAL
	}
	if c.magic != chunkMagic {
		panic("heap: corrupted chunk header on free")
	}
	delete(h.live, hnd)
	h.insertFree(c)

	if c.next != nil && !c.next.used {
		h.mergeNext(c)
	}
	if c.prev != nil && !c.prev.used {
		c = h.mergeNext(c.prev)
	}

	if c.prev == nil && c.next == nil {
		h.removeFree(c)
		h.releaseBlock(c.block)
	}
	return nil
}

// mergeNext folds c.next into c and returns c.
func (h *Heap) mergeNext(c *chunk) *chunk {
	n := c.next
	if n == nil {
		return c
	}
	h.removeFree(c)
	h.removeFree(n)
	const headerOverhead = 32
	c.size += n.size + headerOverhead
	c.next = n.next
	if n.next != nil {
		n.next.prev = c
	}
	h.insertFree(c)
	return c
}

func (h *Heap) releaseBlock(blk *block) {
	_ = h.alloc.Free(blk.phys, blk.order)
	for i, b := range h.blocks {
		if b == blk {
			h.blocks = append(h.blocks[:i], h.blocks[i+1:]...)
			break
		}
	}
}

// Realloc resizes hnd's allocation to n bytes, preserving the first
// min(old, n) bytes. It grows in place by consuming a following free
// chunk when possible, shrinks in place by splitting, and otherwise
// allocates a fresh chunk, copies, and frees the old one.
func (h *Heap) Realloc(hnd *Handle, n int) (*Handle, error) {
	c, ok := h.live[hnd]
	if !ok {
		return nil, errno.EINVAL
	}
	n = align(n, minAlign)

	if n <= c.size {
		if c.size-n > 32 {
			h.splitUsed(c, n)
		}
		hnd.Bytes = hnd.Bytes[:min(n, len(hnd.Bytes))]
		if len(hnd.Bytes) < n {
			grown := make([]byte, n)
			copy(grown, hnd.Bytes)
			hnd.Bytes = grown
		}
		return hnd, nil
	}

	if c.next != nil && !c.next.used && c.size+32+c.next.size >= n {
		h.removeFree(c.next)
		const headerOverhead = 32
		merged := c.size + headerOverhead + c.next.size
		c.next = c.next.next
		if c.next != nil {
			c.next.prev = c
		}
		c.size = merged
		if c.size-n > 32 {
			h.splitUsed(c, n)
		}
		grown := make([]byte, n)
		copy(grown, hnd.Bytes)
		hnd.Bytes = grown
		return hnd, nil
	}

	newHnd, err := h.Alloc(n)
	if err != nil {
		return nil, err
	}
	copy(newHnd.Bytes, hnd.Bytes)
	_ = h.Free(hnd)
	return newHnd, nil
}

// splitUsed splits an in-use chunk after shrinking it to n bytes, freeing
// the remainder.
func (h *Heap) splitUsed(c *chunk, n int) {
	const headerOverhead = 32
	remainder := c.size - n - headerOverhead
	if remainder <= 0 {
		return
	}
	rem := &chunk{
		magic: chunkMagic,
		size:  remainder,
		block: c.block,
		prev:  c,
		next:  c.next,
	}
	if c.next != nil {
		c.next.prev = rem
	}
	c.next = rem
	c.size = n
	h.insertFree(rem)
	if rem.next != nil && !rem.next.used {
		h.mergeNext(rem)
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// CheckInvariants verifies chunk header magics and bidirectional prev/next
// link consistency across every block. It does not check payload alignment
// or free-list membership.
func (h *Heap) CheckInvariants() error {
	for _, blk := range h.blocks {
		for c := blk.first; c != nil; c = c.next {
			if c.magic != chunkMagic {
				return fmt.Errorf("heap: bad chunk magic in block %#x", blk.phys)
			}
			if c.next != nil && c.next.prev != c {
				return fmt.Errorf("heap: broken prev/next link in block %#x", blk.phys)
			}
		}
	}
	return nil
}
