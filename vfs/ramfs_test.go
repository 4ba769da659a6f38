package vfs_test

import (
	"sync"
	"sync/atomic"

	"github.com/maestro-os/maestro/errno"
	"github.com/maestro-os/maestro/vfs"
)

// ramNode and ramFS are a tiny in-memory filesystem used solely to drive
// vfs package tests, not a production filesystem driver — the same role
// fake-gcs-server/fake bucket plays for the teacher's own fs/inode tests.
type ramNode struct {
	fs   *ramFS
	ino  uint64
	mu   sync.Mutex
	stat vfs.Stat
	data []byte
	link string
}

func (n *ramNode) Ino() uint64            { return n.ino }
func (n *ramNode) FileSystem() vfs.FileSystem { return n.fs }

func (n *ramNode) Stat() (vfs.Stat, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.stat, nil
}

func (n *ramNode) SetStat(s vfs.Stat) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stat = s
	return nil
}

func (n *ramNode) FileOps() vfs.FileOps { return nil }

func (n *ramNode) ReadAt(buf []byte, offset int64) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if offset >= int64(len(n.data)) {
		return 0, nil
	}
	c := copy(buf, n.data[offset:])
	return c, nil
}

func (n *ramNode) WriteAt(buf []byte, offset int64) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	end := offset + int64(len(buf))
	if end > int64(len(n.data)) {
		grown := make([]byte, end)
		copy(grown, n.data)
		n.data = grown
	}
	copy(n.data[offset:end], buf)
	n.stat.Size = int64(len(n.data))
	return len(buf), nil
}

type ramFS struct {
	mu       sync.Mutex
	nextIno  uint64
	root     *ramNode
	children map[uint64]map[string]*ramNode
}

func newRamFS() *ramFS {
	fs := &ramFS{children: make(map[uint64]map[string]*ramNode)}
	fs.root = &ramNode{fs: fs, ino: fs.allocIno(), stat: vfs.Stat{Kind: vfs.KindDirectory, Mode: 0o755, NLink: 2}}
	fs.children[fs.root.ino] = make(map[string]*ramNode)
	return fs
}

func (fs *ramFS) allocIno() uint64 { return atomic.AddUint64(&fs.nextIno, 1) }

func (fs *ramFS) Name() string { return "ramfs" }

func (fs *ramFS) Root() (vfs.Node, error) { return fs.root, nil }

func (fs *ramFS) Lookup(parent vfs.Node, name string) (vfs.Node, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	p := parent.(*ramNode)
	kids := fs.children[p.ino]
	child, ok := kids[name]
	if !ok {
		return nil, errno.ENOENT
	}
	return child, nil
}

func (fs *ramFS) Create(parent vfs.Node, name string, kind vfs.NodeKind, mode uint32, rdev vfs.DeviceID) (vfs.Node, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	p := parent.(*ramNode)
	kids := fs.children[p.ino]
	if _, exists := kids[name]; exists {
		return nil, errno.EEXIST
	}
	child := &ramNode{fs: fs, ino: fs.allocIno(), stat: vfs.Stat{Kind: kind, Mode: mode, NLink: 1, RDev: rdev}}
	if kind == vfs.KindDirectory {
		child.stat.NLink = 2
		fs.children[child.ino] = make(map[string]*ramNode)
		p.mu.Lock()
		p.stat.NLink++ // the child's ".." entry
		p.mu.Unlock()
	}
	kids[name] = child
	return child, nil
}

func (fs *ramFS) Link(parent vfs.Node, name string, target vfs.Node) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	p := parent.(*ramNode)
	t := target.(*ramNode)
	kids := fs.children[p.ino]
	if _, exists := kids[name]; exists {
		return errno.EEXIST
	}
	kids[name] = t
	t.mu.Lock()
	t.stat.NLink++
	t.mu.Unlock()
	return nil
}

func (fs *ramFS) Unlink(parent vfs.Node, name string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	p := parent.(*ramNode)
	kids := fs.children[p.ino]
	child, ok := kids[name]
	if !ok {
		return errno.ENOENT
	}
	delete(kids, name)
	child.mu.Lock()
	child.stat.NLink--
	child.mu.Unlock()
	return nil
}

func (fs *ramFS) Rename(oldParent vfs.Node, oldName string, newParent vfs.Node, newName string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	op := oldParent.(*ramNode)
	np := newParent.(*ramNode)
	oldKids := fs.children[op.ino]
	child, ok := oldKids[oldName]
	if !ok {
		return errno.ENOENT
	}
	delete(oldKids, oldName)
	newKids := fs.children[np.ino]
	newKids[newName] = child
	return nil
}

func (fs *ramFS) Readlink(n vfs.Node) (string, error) {
	rn := n.(*ramNode)
	if rn.stat.Kind != vfs.KindSymlink {
		return "", errno.EINVAL
	}
	return rn.link, nil
}

func (fs *ramFS) Symlink(parent vfs.Node, name, target string) (vfs.Node, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	p := parent.(*ramNode)
	kids := fs.children[p.ino]
	if _, exists := kids[name]; exists {
		return nil, errno.EEXIST
	}
	child := &ramNode{fs: fs, ino: fs.allocIno(), stat: vfs.Stat{Kind: vfs.KindSymlink, Mode: 0o777, NLink: 1}, link: target}
	kids[name] = child
	return child, nil
}
