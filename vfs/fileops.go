package vfs

import "github.com/maestro-os/maestro/errno"

// FileOps is the open-file vtable spec.md §4.7 describes: open files carry
// either a borrowed pointer to their node's default FileOps (regular
// files, directories) or an owned override for special files (block
// device, char device, FIFO, socket) — grounded on fuseutil/file_system.go
// and fuseutil/not_implemented_file_system.go's vtable-dispatch idiom,
// generalized from FUSE's fixed op set to a per-node-kind table.
type FileOps interface {
	Read(n Node, offset int64, buf []byte) (int, error)
	Write(n Node, offset int64, buf []byte) (int, error)
	Readdir(n Node, cache *Cache, entry *Entry) ([]DirEntry, error)
	Close(n Node) error
}

// DirEntry is one entry returned by a directory's Readdir.
type DirEntry struct {
	Name string
	Ino  uint64
	Kind NodeKind
}

// defaultFileOps implements FileOps for regular files and directories by
// delegating straight to the node's own storage, with no device-specific
// behavior.
type defaultFileOps struct{}

var DefaultFileOps FileOps = defaultFileOps{}

func (defaultFileOps) Read(n Node, offset int64, buf []byte) (int, error) {
	if st, err := n.Stat(); err == nil && st.Kind == KindDirectory {
		return 0, errno.EISDIR
	}
	rw, ok := n.(RegularFileNode)
	if !ok {
		return 0, errno.EISDIR
	}
	return rw.ReadAt(buf, offset)
}

func (defaultFileOps) Write(n Node, offset int64, buf []byte) (int, error) {
	rw, ok := n.(RegularFileNode)
	if !ok {
		return 0, errno.EISDIR
	}
	return rw.WriteAt(buf, offset)
}

func (defaultFileOps) Readdir(n Node, cache *Cache, entry *Entry) ([]DirEntry, error) {
	st, err := n.Stat()
	if err != nil {
		return nil, err
	}
	if st.Kind != KindDirectory {
		return nil, errno.ENOTDIR
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	out := make([]DirEntry, 0, len(entry.children))
	for name, child := range entry.children {
		cst, serr := child.Node().Stat()
		if serr != nil {
			continue
		}
		out = append(out, DirEntry{Name: name, Ino: child.Node().Ino(), Kind: cst.Kind})
	}
	return out, nil
}

func (defaultFileOps) Close(n Node) error { return nil }

// RegularFileNode is the narrow interface a filesystem driver's regular
// file Node implements for defaultFileOps's read/write to work.
type RegularFileNode interface {
	Node
	ReadAt(buf []byte, offset int64) (int, error)
	WriteAt(buf []byte, offset int64) (int, error)
}

// Open selects a node's FileOps per spec.md §4.7's dispatch rule: a
// borrowed node default for regular files/directories, or the node's own
// class-specific override when it is a device, FIFO, or socket (those
// Node implementations return a distinct FileOps from FileOps()).
func Open(n Node) FileOps {
	if ops := n.FileOps(); ops != nil {
		return ops
	}
	return DefaultFileOps
}

// CloseRef releases one reference to entry's node, performing the
// deferred-unlink cleanup spec.md §4.7 requires: the node's FileOps.Close
// is invoked, and once the entry is both unlinked and at zero references
// it is detached from its parent's cache so no further lookup can find it.
func CloseRef(entry *Entry, ops FileOps) error {
	if err := ops.Close(entry.Node()); err != nil {
		return err
	}
	destroyed := entry.DecRef(1)
	if !destroyed {
		return nil
	}
	entry.mu.Lock()
	unlinked := entry.unlinked
	parent := entry.parent
	name := entry.name
	entry.mu.Unlock()
	if unlinked && parent != nil {
		parent.mu.Lock()
		delete(parent.children, name)
		parent.mu.Unlock()
	}
	return nil
}
