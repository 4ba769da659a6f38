package vfs

import (
	"sync"

	"github.com/maestro-os/maestro/errno"
)

// Pipe is the byte-stream buffer object backing both named pipes
// (KindFIFO nodes opened through the VFS) and the AF_UNIX socket pairs
// net/ builds on top of it, per SPEC_FULL.md §6: "a minimal AF_UNIX socket
// pair backed by the same FIFO buffer object §4.7 already defines for
// named pipes." There is exactly one data structure; FIFO and AF_UNIX
// differ only in how their endpoints are obtained (Open() vs. a connected
// pair from net.SocketPair).
//
// Grounded on the teacher's bounded in-memory buffering pattern used for
// ephemeral bytes passed between goroutines rather than persisted,
// generalized here to a blocking ring buffer with open/close refcounting
// instead of a channel, since a pipe has readers and writers that outlive
// any single Read/Write call and must observe EOF/EPIPE across closes.
type Pipe struct {
	mu       sync.Mutex
	cond     *sync.Cond
	buf      []byte
	cap      int
	readers  int
	writers  int
	freed    bool
}

// DefaultPipeCapacity mirrors a typical kernel pipe buffer size (64KiB).
const DefaultPipeCapacity = 64 * 1024

// NewPipe allocates a pipe with the given buffer capacity (DefaultPipeCapacity
// if cap <= 0).
func NewPipe(capacity int) *Pipe {
	if capacity <= 0 {
		capacity = DefaultPipeCapacity
	}
	p := &Pipe{cap: capacity}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// AddReader/AddWriter register an endpoint open against the pipe; each
// open must be balanced by CloseReader/CloseWriter.
func (p *Pipe) AddReader() {
	p.mu.Lock()
	p.readers++
	p.mu.Unlock()
}

func (p *Pipe) AddWriter() {
	p.mu.Lock()
	p.writers++
	p.mu.Unlock()
}

// CloseReader drops one reader reference; when the last reader goes away,
// blocked writers are woken so they can observe EPIPE.
func (p *Pipe) CloseReader() {
	p.mu.Lock()
	p.readers--
	p.cond.Broadcast()
	p.mu.Unlock()
}

// CloseWriter drops one writer reference; when the last writer goes away,
// blocked readers are woken so they can observe EOF (a zero-length read).
func (p *Pipe) CloseWriter() {
	p.mu.Lock()
	p.writers--
	p.cond.Broadcast()
	p.mu.Unlock()
}

// Read blocks until data is available, the last writer closes (EOF, a
// zero-length successful read), or the pipe itself is freed.
func (p *Pipe) Read(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.buf) == 0 && p.writers > 0 && !p.freed {
		p.cond.Wait()
	}
	if len(p.buf) == 0 {
		return 0, nil
	}
	n := copy(buf, p.buf)
	p.buf = p.buf[n:]
	p.cond.Broadcast()
	return n, nil
}

// Write blocks until room is available or fails with EPIPE once the last
// reader has gone away — the condition a FIFO writer must observe per
// spec.md §4.7's FileOps dispatch for special files.
func (p *Pipe) Write(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	written := 0
	for written < len(buf) {
		if p.readers == 0 {
			return written, errno.EPIPE
		}
		room := p.cap - len(p.buf)
		for room <= 0 && p.readers > 0 {
			p.cond.Wait()
			room = p.cap - len(p.buf)
		}
		if p.readers == 0 {
			return written, errno.EPIPE
		}
		n := room
		if remaining := len(buf) - written; n > remaining {
			n = remaining
		}
		p.buf = append(p.buf, buf[written:written+n]...)
		written += n
		p.cond.Broadcast()
	}
	return written, nil
}

// PipeNode is the FIFO-kind Node a filesystem driver hands back for a
// named pipe; its FileOps wraps Pipe.Read/Write and tracks the
// reader/writer refcounts an open(2) on a FIFO must bump.
type PipeNode struct {
	node Node
	Pipe *Pipe
}

// NewPipeNode wraps an existing KindFIFO node with a fresh Pipe buffer.
func NewPipeNode(n Node) *PipeNode {
	return &PipeNode{node: n, Pipe: NewPipe(0)}
}

func (pn *PipeNode) Ino() uint64            { return pn.node.Ino() }
func (pn *PipeNode) FileSystem() FileSystem { return pn.node.FileSystem() }
func (pn *PipeNode) Stat() (Stat, error)    { return pn.node.Stat() }
func (pn *PipeNode) SetStat(s Stat) error   { return pn.node.SetStat(s) }
func (pn *PipeNode) FileOps() FileOps       { return pipeFileOps{} }

// pipeFileOps is the owned FileOps override special files use, per
// fileops.go's Open dispatch rule.
type pipeFileOps struct{}

func (pipeFileOps) Read(n Node, offset int64, buf []byte) (int, error) {
	pn, ok := n.(*PipeNode)
	if !ok {
		return 0, errno.EINVAL
	}
	return pn.Pipe.Read(buf)
}

func (pipeFileOps) Write(n Node, offset int64, buf []byte) (int, error) {
	pn, ok := n.(*PipeNode)
	if !ok {
		return 0, errno.EINVAL
	}
	return pn.Pipe.Write(buf)
}

func (pipeFileOps) Readdir(n Node, cache *Cache, entry *Entry) ([]DirEntry, error) {
	return nil, errno.ENOTDIR
}

func (pipeFileOps) Close(n Node) error { return nil }
