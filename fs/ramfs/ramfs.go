// Package ramfs is an in-memory vfs.FileSystem driver: the default root
// filesystem a fresh boot mounts before any real block-backed driver is
// available. It generalizes fs/inode's per-inode locking, lookup-count
// and directory-child-map idioms (fs/inode/inode.go, fs/inode/dir.go,
// fs/inode/file.go, fs/inode/symlink.go) from GCS-object-backed inodes to
// plain byte slices held in memory, the way vfs.Entry/vfs.Cache already
// generalize fs/inode/lookup_count.go's refcount to every node kind.
package ramfs

import (
	"sync"
	"sync/atomic"

	"github.com/maestro-os/maestro/errno"
	"github.com/maestro-os/maestro/vfs"
)

type node struct {
	fs  *FS
	ino uint64

	mu   sync.Mutex
	stat vfs.Stat
	data []byte
	link string
}

func (n *node) Ino() uint64            { return n.ino }
func (n *node) FileSystem() vfs.FileSystem { return n.fs }

func (n *node) Stat() (vfs.Stat, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.stat, nil
}

func (n *node) SetStat(s vfs.Stat) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stat = s
	return nil
}

func (n *node) FileOps() vfs.FileOps {
	switch n.stat.Kind {
	case vfs.KindFIFO:
		return nil // PipeNode wraps FIFO nodes itself; ramfs never hands one out directly
	default:
		return nil // defer to vfs.DefaultFileOps
	}
}

func (n *node) ReadAt(buf []byte, offset int64) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if offset < 0 {
		return 0, errno.EINVAL
	}
	if offset >= int64(len(n.data)) {
		return 0, nil
	}
	return copy(buf, n.data[offset:]), nil
}

func (n *node) WriteAt(buf []byte, offset int64) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if offset < 0 {
		return 0, errno.EINVAL
	}
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

// FS is a whole in-memory filesystem instance: one root directory plus
// every node reachable from it, addressed by a flat ino->children map the
// way a real filesystem addresses directory blocks by inode number.
type FS struct {
	mu       sync.Mutex
	nextIno  uint64
	root     *node
	children map[uint64]map[string]*node

	defaultUID, defaultGID uint32
}

// Options configures a fresh FS's root directory.
type Options struct {
	RootMode           uint32
	DefaultUID         uint32
	DefaultGID         uint32
}

// New builds an empty in-memory filesystem with a bare root directory.
func New(opts Options) *FS {
	if opts.RootMode == 0 {
		opts.RootMode = 0o755
	}
	fs := &FS{children: make(map[uint64]map[string]*node), defaultUID: opts.DefaultUID, defaultGID: opts.DefaultGID}
	fs.root = &node{
		fs:  fs,
		ino: fs.allocIno(),
		stat: vfs.Stat{
			Kind: vfs.KindDirectory, Mode: opts.RootMode, NLink: 2,
			UID: opts.DefaultUID, GID: opts.DefaultGID,
		},
	}
	fs.children[fs.root.ino] = make(map[string]*node)
	return fs
}

func (fs *FS) allocIno() uint64 { return atomic.AddUint64(&fs.nextIno, 1) }

func (fs *FS) Name() string { return "ramfs" }

func (fs *FS) Root() (vfs.Node, error) { return fs.root, nil }

func (fs *FS) Lookup(parent vfs.Node, name string) (vfs.Node, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	p := parent.(*node)
	kids := fs.children[p.ino]
	child, ok := kids[name]
	if !ok {
		return nil, errno.ENOENT
	}
	return child, nil
}

func (fs *FS) Create(parent vfs.Node, name string, kind vfs.NodeKind, mode uint32, rdev vfs.DeviceID) (vfs.Node, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	p := parent.(*node)
	kids := fs.children[p.ino]
	if _, exists := kids[name]; exists {
		return nil, errno.EEXIST
	}
	child := &node{
		fs: fs, ino: fs.allocIno(),
		stat: vfs.Stat{Kind: kind, Mode: mode, NLink: 1, RDev: rdev, UID: fs.defaultUID, GID: fs.defaultGID},
	}
	if kind == vfs.KindDirectory {
		child.stat.NLink = 2
		fs.children[child.ino] = make(map[string]*node)
		p.mu.Lock()
		p.stat.NLink++
		p.mu.Unlock()
	}
	kids[name] = child
	return child, nil
}

func (fs *FS) Link(parent vfs.Node, name string, target vfs.Node) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	p := parent.(*node)
	tgt := target.(*node)
	kids := fs.children[p.ino]
	if _, exists := kids[name]; exists {
		return errno.EEXIST
	}
	kids[name] = tgt
	tgt.mu.Lock()
	tgt.stat.NLink++
	tgt.mu.Unlock()
	return nil
}

func (fs *FS) Unlink(parent vfs.Node, name string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	p := parent.(*node)
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

func (fs *FS) Rename(oldParent vfs.Node, oldName string, newParent vfs.Node, newName string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	op := oldParent.(*node)
	np := newParent.(*node)
	oldKids := fs.children[op.ino]
	child, ok := oldKids[oldName]
	if !ok {
		return errno.ENOENT
	}
	newKids := fs.children[np.ino]
	if _, exists := newKids[newName]; exists {
		return errno.EEXIST
	}
	delete(oldKids, oldName)
	newKids[newName] = child
	return nil
}

func (fs *FS) Readlink(n vfs.Node) (string, error) {
	rn := n.(*node)
	if rn.stat.Kind != vfs.KindSymlink {
		return "", errno.EINVAL
	}
	return rn.link, nil
}

func (fs *FS) Symlink(parent vfs.Node, name, target string) (vfs.Node, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	p := parent.(*node)
	kids := fs.children[p.ino]
	if _, exists := kids[name]; exists {
		return nil, errno.EEXIST
	}
	child := &node{
		fs: fs, ino: fs.allocIno(),
		stat: vfs.Stat{Kind: vfs.KindSymlink, Mode: 0o777, NLink: 1, UID: fs.defaultUID, GID: fs.defaultGID},
		link: target,
	}
	kids[name] = child
	return child, nil
}

func init() {
	vfs.RegisterFilesystem("ramfs", func(opts map[string]string) (vfs.FileSystem, error) {
		return New(Options{}), nil
	})
}
