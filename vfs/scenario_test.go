package vfs_test

import (
	"testing"

	"github.com/maestro-os/maestro/errno"
	"github.com/maestro-os/maestro/vfs"
	"github.com/stretchr/testify/require"
)

// TestScenarioFileLifecycle covers spec.md §8's file create/write/seek/
// read/chmod/unlink-while-open scenario: a file written at offset 0 and
// again at an offset past the first write grows to cover the gap; chmod
// changes only the permission bits; unlinking a file with an open
// reference leaves its data reachable through the still-open node until
// the reference itself is dropped.
func TestScenarioFileLifecycle(t *testing.T) {
	mounts, _ := newTestTree(t)
	aEntry := mustEntry(t, mounts, "a")
	bEntry, err := mounts.RootCache().LookupChild(aEntry, "b")
	require.NoError(t, err)

	ops := vfs.Open(bEntry.Node())
	n, err := ops.Write(bEntry.Node(), 0, []byte("hello"))
	require.NoError(t, err)
	require.Equal(t, 5, n)

	n, err = ops.Write(bEntry.Node(), 10, []byte("world"))
	require.NoError(t, err)
	require.Equal(t, 5, n)

	st, err := bEntry.Node().Stat()
	require.NoError(t, err)
	require.Equal(t, int64(15), st.Size)

	st.Mode = 0o600
	require.NoError(t, bEntry.Node().SetStat(st))
	st, err = bEntry.Node().Stat()
	require.NoError(t, err)
	require.Equal(t, uint32(0o600), st.Mode)

	bEntry.IncRef() // simulates an open file descriptor
	require.NoError(t, mounts.RootCache().Unlink(aEntry, "b"))

	_, err = mounts.RootCache().LookupChild(aEntry, "b")
	require.ErrorIs(t, err, errno.ENOENT)

	// The still-referenced node is unaffected by the directory removal.
	buf := make([]byte, 5)
	n, err = ops.Read(bEntry.Node(), 0, buf)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf[:n]))

	destroyed := bEntry.DecRef(1)
	require.True(t, destroyed)
}

// TestScenarioDirectoryNlinkBookkeeping covers spec.md §8's directory
// nlink scenario: a fresh directory starts at nlink 2 (self + its "."
// entry), and each subdirectory created under it bumps the parent's
// nlink by one (for the child's "..").
func TestScenarioDirectoryNlinkBookkeeping(t *testing.T) {
	mounts, _ := newTestTree(t)
	root := mounts.Root()

	dirEntry, err := mounts.RootCache().Create(root, "d", vfs.KindDirectory, 0o755, vfs.DeviceID{})
	require.NoError(t, err)
	st, err := dirEntry.Node().Stat()
	require.NoError(t, err)
	require.Equal(t, uint32(2), st.NLink)

	_, err = mounts.RootCache().Create(dirEntry, "child1", vfs.KindDirectory, 0o755, vfs.DeviceID{})
	require.NoError(t, err)
	_, err = mounts.RootCache().Create(dirEntry, "child2", vfs.KindDirectory, 0o755, vfs.DeviceID{})
	require.NoError(t, err)

	st, err = dirEntry.Node().Stat()
	require.NoError(t, err)
	require.Equal(t, uint32(4), st.NLink)
}

// TestScenarioDirectoryPermissionMatrix covers spec.md §8's directory
// permission matrix: search (x) permission gates traversal through a
// directory independent of owner/group/other, and is evaluated against
// the caller's effective credentials at every intermediate component.
func TestScenarioDirectoryPermissionMatrix(t *testing.T) {
	mounts, r := newTestTree(t)
	aEntry := mustEntry(t, mounts, "a")
	st, err := aEntry.Node().Stat()
	require.NoError(t, err)
	st.UID, st.GID, st.Mode = 1000, 1000, 0o750
	require.NoError(t, aEntry.Node().SetStat(st))

	// Owner: has x, resolves fine.
	_, err = r.Resolve("/a/b", vfs.Settings{Creds: vfs.Credentials{UID: 1000, GID: 1000}})
	require.NoError(t, err)

	// Same group: has x via group bit.
	_, err = r.Resolve("/a/b", vfs.Settings{Creds: vfs.Credentials{UID: 2000, GID: 1000}})
	require.NoError(t, err)

	// Other, no matching group: denied, no x bit for "other".
	_, err = r.Resolve("/a/b", vfs.Settings{Creds: vfs.Credentials{UID: 2000, GID: 2000}})
	require.ErrorIs(t, err, errno.EACCES)

	// Group membership via supplementary groups list also grants x.
	_, err = r.Resolve("/a/b", vfs.Settings{Creds: vfs.Credentials{UID: 2000, GID: 2000, Groups: []uint32{1000}}})
	require.NoError(t, err)
}

// TestScenarioHardLinksAndSymlinks covers spec.md §8's link/symlink
// scenario: hard-linking a directory is refused with EPERM and does not
// create the destination name; hard-linking a regular file bumps nlink
// and both names resolve to the same inode; unlinking one name leaves
// the other intact; a symlink can coexist with a directory of a
// different name, and removing a symlink's target leaves lstat-style
// access to the link itself working while following it returns ENOENT.
func TestScenarioHardLinksAndSymlinks(t *testing.T) {
	mounts, r := newTestTree(t)
	root := mounts.Root()
	fs := root.Node().FileSystem()
	aEntry := mustEntry(t, mounts, "a")

	// link("test_dir", "bad") where test_dir is a directory: EPERM, "bad"
	// is not created.
	err := mounts.RootCache().Link(root, "bad", aEntry)
	require.ErrorIs(t, err, errno.EPERM)
	_, err = mounts.RootCache().LookupChild(root, "bad")
	require.ErrorIs(t, err, errno.ENOENT)

	// link("file", "good"): both names share an inode and nlink reaches 2.
	_, err = mounts.RootCache().Create(root, "file", vfs.KindRegular, 0o644, vfs.DeviceID{})
	require.NoError(t, err)
	fileEntry, err := mounts.RootCache().LookupChild(root, "file")
	require.NoError(t, err)

	require.NoError(t, mounts.RootCache().Link(root, "good", fileEntry))
	goodEntry, err := mounts.RootCache().LookupChild(root, "good")
	require.NoError(t, err)
	require.Equal(t, fileEntry.Node().Ino(), goodEntry.Node().Ino())

	st, err := fileEntry.Node().Stat()
	require.NoError(t, err)
	require.Equal(t, uint32(2), st.NLink)

	// Unlinking "good" leaves "file" stat-able.
	require.NoError(t, mounts.RootCache().Unlink(root, "good"))
	st, err = fileEntry.Node().Stat()
	require.NoError(t, err)
	require.Equal(t, uint32(1), st.NLink)

	// symlink + mkdir under different names coexist without conflict.
	_, err = fs.Symlink(root.Node(), "link-to-file", "/file")
	require.NoError(t, err)
	_, err = mounts.RootCache().Create(root, "somedir", vfs.KindDirectory, 0o755, vfs.DeviceID{})
	require.NoError(t, err)

	// Removing the symlink's target: the link itself (unresolved) is
	// still stat-able directly...
	require.NoError(t, mounts.RootCache().Unlink(root, "file"))
	linkEntry, err := mounts.RootCache().LookupChild(root, "link-to-file")
	require.NoError(t, err)
	linkSt, err := linkEntry.Node().Stat()
	require.NoError(t, err)
	require.Equal(t, vfs.KindSymlink, linkSt.Kind)

	// ...but following it resolves ENOENT.
	_, err = r.Resolve("/link-to-file", vfs.Settings{FollowLink: true})
	require.ErrorIs(t, err, errno.ENOENT)
}

// TestScenarioRenamePreservesSizeAndNlink covers spec.md §8's rename
// scenario for a plain file: renaming across directories preserves the
// file's size and nlink.
func TestScenarioRenamePreservesSizeAndNlink(t *testing.T) {
	mounts, _ := newTestTree(t)
	root := mounts.Root()
	aEntry := mustEntry(t, mounts, "a")

	fEntry, err := mounts.RootCache().Create(root, "f", vfs.KindRegular, 0o644, vfs.DeviceID{})
	require.NoError(t, err)
	ops := vfs.Open(fEntry.Node())
	_, err = ops.Write(fEntry.Node(), 0, []byte("payload"))
	require.NoError(t, err)

	require.NoError(t, mounts.RootCache().Rename(root, "f", aEntry, "f-moved"))

	_, err = mounts.RootCache().LookupChild(root, "f")
	require.ErrorIs(t, err, errno.ENOENT)

	moved, err := mounts.RootCache().LookupChild(aEntry, "f-moved")
	require.NoError(t, err)
	st, err := moved.Node().Stat()
	require.NoError(t, err)
	require.Equal(t, int64(7), st.Size)
	require.Equal(t, uint32(1), st.NLink)
}

// TestScenarioRenameDirectoryTreePreservesNlinks covers spec.md §8's
// directory-tree rename scenario: moving a directory (with its own
// children) to a new parent preserves the nlink counts of both the
// moved directory and the children underneath it.
func TestScenarioRenameDirectoryTreePreservesNlinks(t *testing.T) {
	mounts, _ := newTestTree(t)
	root := mounts.Root()
	aEntry := mustEntry(t, mounts, "a")

	treeEntry, err := mounts.RootCache().Create(root, "tree", vfs.KindDirectory, 0o755, vfs.DeviceID{})
	require.NoError(t, err)
	_, err = mounts.RootCache().Create(treeEntry, "leaf1", vfs.KindDirectory, 0o755, vfs.DeviceID{})
	require.NoError(t, err)
	_, err = mounts.RootCache().Create(treeEntry, "leaf2", vfs.KindRegular, 0o644, vfs.DeviceID{})
	require.NoError(t, err)

	treeStBefore, err := treeEntry.Node().Stat()
	require.NoError(t, err)

	require.NoError(t, mounts.RootCache().Rename(root, "tree", aEntry, "tree-moved"))

	moved, err := mounts.RootCache().LookupChild(aEntry, "tree-moved")
	require.NoError(t, err)
	treeStAfter, err := moved.Node().Stat()
	require.NoError(t, err)
	require.Equal(t, treeStBefore.NLink, treeStAfter.NLink)

	leaf1, err := mounts.RootCache().LookupChild(moved, "leaf1")
	require.NoError(t, err)
	leaf1St, err := leaf1.Node().Stat()
	require.NoError(t, err)
	require.Equal(t, uint32(2), leaf1St.NLink)

	leaf2, err := mounts.RootCache().LookupChild(moved, "leaf2")
	require.NoError(t, err)
	leaf2St, err := leaf2.Node().Stat()
	require.NoError(t, err)
	require.Equal(t, uint32(1), leaf2St.NLink)
}
