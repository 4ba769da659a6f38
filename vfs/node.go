// Package vfs implements spec.md §4.7's VFS core: an entry cache layered
// over pluggable filesystem drivers, path resolution, mountpoints, and
// FileOps dispatch. Node and Entry play the role the teacher's
// fs/inode.Inode and fs/inode.DirInode play for GCS objects: Node is the
// filesystem-driver-facing handle to stored data (fs/inode/inode.go's
// Inode interface), Entry is the cached, refcounted directory-tree
// position pointing at one (fs/inode/lookup_count.go's lookupCount,
// generalized to any node kind instead of just directories).
package vfs

import (
	"sync"

	"github.com/maestro-os/maestro/errno"
)

// NodeKind is a file's type, as recorded in its mode's type bits.
type NodeKind int

const (
	KindRegular NodeKind = iota
	KindDirectory
	KindSymlink
	KindFIFO
	KindSocket
	KindBlockDevice
	KindCharDevice
)

// DeviceID packs a driver-assigned major/minor pair, per spec.md §6's
// device id encoding.
type DeviceID struct {
	Major, Minor uint32
}

// Stat is the subset of struct stat the VFS core itself maintains; a
// filesystem driver owns size/timestamps and reports them via Node.Stat.
type Stat struct {
	Kind    NodeKind
	Mode    uint32 // permission bits only; Kind carries the type
	UID     uint32
	GID     uint32
	Size    int64
	NLink   uint32
	Dev     DeviceID // meaningful only for KindBlockDevice/KindCharDevice
	RDev    DeviceID
}

// Node is the filesystem driver's handle to one piece of stored data,
// grounded on fs/inode.Inode: an identity, current attributes, and the
// operations a filesystem driver implements to mutate/read it. Every Node
// belongs to exactly one FileSystem and is addressed within it by Ino.
type Node interface {
	Ino() uint64
	FileSystem() FileSystem
	Stat() (Stat, error)
	SetStat(s Stat) error

	// FileOps returns the vtable used to open this node, per spec.md
	// §4.7's FileOps-dispatch rule (borrowed default vs. owned override
	// for special files).
	FileOps() FileOps
}

// FileSystem is the driver-registration contract spec.md §6 names
// ("filesystem/device driver contracts") and spec.md §4.7 calls "pluggable
// filesystems": given a parent node and a child name, produce the child
// Node or ENOENT.
type FileSystem interface {
	Name() string
	Root() (Node, error)
	Lookup(parent Node, name string) (Node, error)
	Create(parent Node, name string, kind NodeKind, mode uint32, rdev DeviceID) (Node, error)
	Link(parent Node, name string, target Node) error
	Unlink(parent Node, name string) error
	Rename(oldParent Node, oldName string, newParent Node, newName string) error
	Readlink(n Node) (string, error)
	Symlink(parent Node, name, target string) (Node, error)
}

var (
	registryMu sync.Mutex
	registry   = map[string]func(opts map[string]string) (FileSystem, error){}
)

// RegisterFilesystem records a filesystem driver constructor under name,
// for the mount table to instantiate by name at mount time (spec.md §6's
// driver-registration contract).
func RegisterFilesystem(name string, ctor func(opts map[string]string) (FileSystem, error)) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = ctor
}

// NewFilesystem instantiates a registered driver by name.
func NewFilesystem(name string, opts map[string]string) (FileSystem, error) {
	registryMu.Lock()
	ctor, ok := registry[name]
	registryMu.Unlock()
	if !ok {
		return nil, errno.ENODEV
	}
	return ctor(opts)
}
