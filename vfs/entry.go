package vfs

import (
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/maestro-os/maestro/errno"
	"github.com/maestro-os/maestro/internal/kmetrics"
	"golang.org/x/sync/singleflight"
)

// Generation disambiguates a reused inode number across remounts of the same
// filesystem: Session is fixed for the lifetime of the Cache that minted the
// entry (one per mount), Seq is a per-mount monotonic counter — together
// they play the role fuseops.GenerationNumber plays in the teacher's FUSE
// transport, where a NodeID can likewise be recycled after a forget/lookup
// cycle.
type Generation struct {
	Session uuid.UUID
	Seq     uint64
}

// Entry is one cached position in the directory tree: a name under a
// parent, the Node it currently resolves to, and (if it is itself a
// directory) the cached set of children by name — generalizing
// fs/inode/dir.go's per-directory child-name cache to every node kind, and
// fs/inode/lookup_count.go's refcount to every cached Entry rather than
// just inodes the kernel driver has handed to the FUSE kernel module.
type Entry struct {
	mu sync.Mutex

	name   string
	parent *Entry
	node   Node

	generation Generation

	refCount uint64
	unlinked bool // set when the directory entry has been removed but a node reference still exists (deferred unlink)

	children map[string]*Entry // nil until this entry is known to be a directory

	// mount is set when this entry is a mountpoint: lookups crossing it
	// are transparently redirected to mount.rootEntry, per spec.md §4.7.
	mount *Mount
}

// Name returns the entry's name within its parent ("" for a root entry).
func (e *Entry) Name() string { return e.name }

// Parent returns the entry's parent, or nil for a filesystem root.
func (e *Entry) Parent() *Entry { return e.parent }

// Node returns the entry's currently resolved node.
func (e *Entry) Node() Node {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.node
}

// Generation returns the entry's identity marker, stable for the entry's
// lifetime and never reused even if its inode number is.
func (e *Entry) Generation() Generation { return e.generation }

// IncRef increments the entry's lookup-style reference count, mirroring
// fs/inode/lookup_count.go's IncrementLookupCount.
func (e *Entry) IncRef() {
	e.mu.Lock()
	e.refCount++
	e.mu.Unlock()
}

// DecRef decrements the reference count by n, reporting whether it has
// hit zero. Per spec.md §4.7's deferred-unlink rule, the caller is
// responsible for freeing the underlying node's data only once both the
// entry is unlinked and its refcount has reached zero.
func (e *Entry) DecRef(n uint64) (destroyed bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if n > e.refCount {
		panic("vfs: DecRef n exceeds refcount")
	}
	e.refCount -= n
	return e.refCount == 0
}

// Cache is the per-mountpoint entry cache coordinating lookups against one
// FileSystem, deduplicating concurrent misses for the same (parent, name)
// pair with golang.org/x/sync/singleflight the way a production VFS
// de-duplicates concurrent faults on the same path — the teacher achieves
// the same effect implicitly through fs/inode's per-inode locking, which
// single-flight makes explicit here because multiple simulated processes
// may race on the same path.
type Cache struct {
	fs      FileSystem
	group   singleflight.Group
	metrics *kmetrics.Registry

	session uuid.UUID
	nextGen uint64

	mu   sync.Mutex
	root *Entry
}

// NewCache builds an entry cache rooted at fs's root node, with no metrics
// collection.
func NewCache(fs FileSystem) (*Cache, error) {
	return NewCacheWithMetrics(fs, nil)
}

// NewCacheWithMetrics is NewCache reporting entry-cache hit/miss counts
// through metrics (nil is accepted and simply disables reporting).
func NewCacheWithMetrics(fs FileSystem, metrics *kmetrics.Registry) (*Cache, error) {
	root, err := fs.Root()
	if err != nil {
		return nil, err
	}
	c := &Cache{fs: fs, metrics: metrics, session: uuid.New()}
	c.root = &Entry{node: root, children: make(map[string]*Entry), refCount: 1, generation: c.newGeneration()}
	return c, nil
}

// newGeneration mints the next generation marker for this mount's session.
func (c *Cache) newGeneration() Generation {
	return Generation{Session: c.session, Seq: atomic.AddUint64(&c.nextGen, 1)}
}

// Root returns the cache's root entry.
func (c *Cache) Root() *Entry { return c.root }

// LookupChild resolves name under parent, consulting the cache first and
// falling back to the filesystem driver on a miss, per spec.md §4.7's
// entry-cache rule.
func (c *Cache) LookupChild(parent *Entry, name string) (*Entry, error) {
	parent.mu.Lock()
	if parent.children == nil {
		parent.children = make(map[string]*Entry)
	}
	if child, ok := parent.children[name]; ok {
		parent.mu.Unlock()
		if c.metrics != nil {
			c.metrics.VFSCacheHits.Inc()
		}
		return child, nil
	}
	parentNode := parent.node
	parent.mu.Unlock()

	if c.metrics != nil {
		c.metrics.VFSCacheMisses.Inc()
	}

	key := cacheKey(parent, name)
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		node, lookupErr := c.fs.Lookup(parentNode, name)
		if lookupErr != nil {
			return nil, lookupErr
		}
		return node, nil
	})
	if err != nil {
		return nil, err
	}

	parent.mu.Lock()
	defer parent.mu.Unlock()
	if child, ok := parent.children[name]; ok {
		return child, nil
	}
	child := &Entry{name: name, parent: parent, node: v.(Node), refCount: 1, generation: c.newGeneration()}
	stat, statErr := child.node.Stat()
	if statErr == nil && stat.Kind == KindDirectory {
		child.children = make(map[string]*Entry)
	}
	parent.children[name] = child
	return child, nil
}

func cacheKey(parent *Entry, name string) string {
	return strconv.FormatUint(parent.node.Ino(), 10) + "/" + name
}

// Create makes a new child of kind under parent, mutating the filesystem
// and the cache transactionally: on driver failure the cache is left
// untouched, per spec.md §4.7.
func (c *Cache) Create(parent *Entry, name string, kind NodeKind, mode uint32, rdev DeviceID) (*Entry, error) {
	parent.mu.Lock()
	if _, exists := parent.children[name]; exists {
		parent.mu.Unlock()
		return nil, errno.EEXIST
	}
	parentNode := parent.node
	parent.mu.Unlock()

	node, err := c.fs.Create(parentNode, name, kind, mode, rdev)
	if err != nil {
		return nil, err
	}

	parent.mu.Lock()
	defer parent.mu.Unlock()
	child := &Entry{name: name, parent: parent, node: node, refCount: 1, generation: c.newGeneration()}
	if kind == KindDirectory {
		child.children = make(map[string]*Entry)
	}
	parent.children[name] = child
	return child, nil
}

// Link creates name under parent pointing at target's node (hard link),
// updating the cache only after the driver succeeds. Hard-linking a
// directory is refused with EPERM, per spec.md §8's link("test_dir",
// "bad") scenario — POSIX reserves directory linking for the filesystem
// itself (mkdir's own "." / ".." entries).
func (c *Cache) Link(parent *Entry, name string, target *Entry) error {
	parent.mu.Lock()
	if _, exists := parent.children[name]; exists {
		parent.mu.Unlock()
		return errno.EEXIST
	}
	parentNode := parent.node
	parent.mu.Unlock()

	targetNode := target.Node()
	st, err := targetNode.Stat()
	if err != nil {
		return err
	}
	if st.Kind == KindDirectory {
		return errno.EPERM
	}
	if err := c.fs.Link(parentNode, name, targetNode); err != nil {
		return err
	}

	parent.mu.Lock()
	parent.children[name] = &Entry{name: name, parent: parent, node: targetNode, refCount: 1, generation: c.newGeneration()}
	parent.mu.Unlock()
	return nil
}

// Unlink removes name from parent and drops the reference the directory
// held on the cached entry. If the entry still has references outstanding
// (open files), it is marked unlinked rather than freed — spec.md §4.7's deferred-unlink rule; the node's data is
// released only when the entry's last reference closes (see Entry.DecRef).
func (c *Cache) Unlink(parent *Entry, name string) error {
	parent.mu.Lock()
	child, exists := parent.children[name]
	parentNode := parent.node
	parent.mu.Unlock()
	if !exists {
		return errno.ENOENT
	}

	if err := c.fs.Unlink(parentNode, name); err != nil {
		return err
	}

	parent.mu.Lock()
	delete(parent.children, name)
	parent.mu.Unlock()

	child.mu.Lock()
	child.unlinked = true
	if child.refCount > 0 {
		child.refCount-- // the directory's own reference
	}
	child.mu.Unlock()
	return nil
}

// Rename moves oldName under oldParent to newName under newParent,
// updating both directories' caches only after the driver succeeds.
func (c *Cache) Rename(oldParent *Entry, oldName string, newParent *Entry, newName string) error {
	oldParent.mu.Lock()
	child, exists := oldParent.children[oldName]
	oldParentNode := oldParent.node
	oldParent.mu.Unlock()
	if !exists {
		return errno.ENOENT
	}

	newParent.mu.Lock()
	newParentNode := newParent.node
	newParent.mu.Unlock()

	if err := c.fs.Rename(oldParentNode, oldName, newParentNode, newName); err != nil {
		return err
	}

	oldParent.mu.Lock()
	delete(oldParent.children, oldName)
	oldParent.mu.Unlock()

	child.mu.Lock()
	child.name = newName
	child.parent = newParent
	child.mu.Unlock()

	newParent.mu.Lock()
	newParent.children[newName] = child
	newParent.mu.Unlock()
	return nil
}
