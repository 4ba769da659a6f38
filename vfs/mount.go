package vfs

import (
	"sync"

	"github.com/maestro-os/maestro/errno"
)

// Mount is one mounted filesystem instance, registered in the mount table
// keyed by the Entry it is mounted on.
type Mount struct {
	fs        FileSystem
	cache     *Cache
	rootEntry *Entry
}

func (m *Mount) RootEntry() *Entry { return m.rootEntry }

// Mounts is the process-wide mountpoint table, spec.md §5's "mountpoint
// table" with its own mutex at the top of the stated lock order
// (mountpoint table → filesystem map → parent entry → child entry →
// node).
type Mounts struct {
	mu    sync.Mutex
	table map[*Entry]*Mount
	root  *Cache
}

// NewMounts creates the mount table with rootFS mounted at "/".
func NewMounts(rootFS FileSystem) (*Mounts, error) {
	cache, err := NewCache(rootFS)
	if err != nil {
		return nil, err
	}
	return &Mounts{table: make(map[*Entry]*Mount), root: cache}, nil
}

// Root returns the root entry of the whole tree (the root filesystem's
// root, not affected by any mount).
func (m *Mounts) Root() *Entry { return m.root.Root() }

// RootCache returns the cache the root filesystem is served from, used by
// the resolver when walking entries not under any other mount.
func (m *Mounts) RootCache() *Cache { return m.root }

// Mount attaches fs at the directory named by at, which must already exist
// and be empty of its own mount. Returns the new filesystem's root entry,
// the substitute spec.md §4.7 says traversal should transparently use once
// at is crossed.
func (m *Mounts) Mount(at *Entry, fs FileSystem) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.table[at]; exists {
		return nil, errno.EBUSY
	}
	cache, err := NewCache(fs)
	if err != nil {
		return nil, err
	}
	mnt := &Mount{fs: fs, cache: cache, rootEntry: cache.Root()}
	at.mu.Lock()
	at.mount = mnt
	at.mu.Unlock()
	m.table[at] = mnt
	return mnt.rootEntry, nil
}

// Unmount detaches whatever filesystem is mounted at entry.
func (m *Mounts) Unmount(at *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.table[at]; !exists {
		return errno.EINVAL
	}
	delete(m.table, at)
	at.mu.Lock()
	at.mount = nil
	at.mu.Unlock()
	return nil
}

// CacheFor returns the Cache responsible for serving lookups under entry
// (the entry's own mount's cache if it is a mountpoint root that has
// already been substituted, otherwise the root cache — resolve.go always
// calls this after substituting mountpoints, so it only ever needs the
// root cache for the common case and a mount's cache right after crossing
// into it).
func (m *Mounts) CacheFor(entry *Entry) *Cache {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mnt := range m.table {
		if mnt.rootEntry == entry {
			return mnt.cache
		}
	}
	return m.root
}

// substitute returns entry's mount's root, transparently, if entry is a
// mountpoint; otherwise entry itself.
func (m *Mounts) substitute(entry *Entry) *Entry {
	entry.mu.Lock()
	mnt := entry.mount
	entry.mu.Unlock()
	if mnt == nil {
		return entry
	}
	return mnt.rootEntry
}
