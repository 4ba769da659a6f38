package vfs_test

import (
	"testing"

	"github.com/maestro-os/maestro/errno"
	"github.com/maestro-os/maestro/vfs"
	"github.com/stretchr/testify/require"
)

func newTestTree(t *testing.T) (*vfs.Mounts, *vfs.Resolver) {
	t.Helper()
	fs := newRamFS()
	mounts, err := vfs.NewMounts(fs)
	require.NoError(t, err)
	root := mounts.Root()

	_, err = mounts.RootCache().Create(root, "a", vfs.KindDirectory, 0o755, vfs.DeviceID{})
	require.NoError(t, err)
	aEntry, err := mounts.RootCache().LookupChild(root, "a")
	require.NoError(t, err)
	_, err = mounts.RootCache().Create(aEntry, "b", vfs.KindRegular, 0o644, vfs.DeviceID{})
	require.NoError(t, err)
	_, err = mounts.RootCache().Create(aEntry, "c", vfs.KindDirectory, 0o755, vfs.DeviceID{})
	require.NoError(t, err)

	return mounts, vfs.NewResolver(mounts)
}

func TestResolveDotAndDotDotAreIdempotentWithPlainPath(t *testing.T) {
	mounts, r := newTestTree(t)

	plain, err := r.Resolve("/a/b", vfs.Settings{FollowLink: true})
	require.NoError(t, err)

	withDot, err := r.Resolve("/a/./b", vfs.Settings{FollowLink: true})
	require.NoError(t, err)
	require.Equal(t, plain.Found.Node().Ino(), withDot.Found.Node().Ino())

	withDotDot, err := r.Resolve("/a/c/../b", vfs.Settings{FollowLink: true})
	require.NoError(t, err)
	require.Equal(t, plain.Found.Node().Ino(), withDotDot.Found.Node().Ino())

	_ = mounts
}

func TestResolveMissingFinalComponentWithCreateReturnsCreatable(t *testing.T) {
	_, r := newTestTree(t)
	res, err := r.Resolve("/a/new-file", vfs.Settings{Create: true})
	require.NoError(t, err)
	require.NotNil(t, res.Missing)
	require.Equal(t, "new-file", res.Missing.Name)
}

func TestResolveMissingFinalComponentWithoutCreateReturnsENOENT(t *testing.T) {
	_, r := newTestTree(t)
	_, err := r.Resolve("/a/new-file", vfs.Settings{})
	require.ErrorIs(t, err, errno.ENOENT)
}

func TestResolveThroughRegularFileFailsWithENOTDIR(t *testing.T) {
	_, r := newTestTree(t)
	_, err := r.Resolve("/a/b/c", vfs.Settings{})
	require.ErrorIs(t, err, errno.ENOTDIR)
}

func TestResolveDotDotAtChrootStays(t *testing.T) {
	mounts, r := newTestTree(t)
	aEntry, err := mounts.RootCache().LookupChild(mounts.Root(), "a")
	require.NoError(t, err)

	res, err := r.Resolve("..", vfs.Settings{Cwd: aEntry, Chroot: aEntry})
	require.NoError(t, err)
	require.Equal(t, aEntry.Node().Ino(), res.Found.Node().Ino())
}

func TestResolveFollowsSymlinkAtFinalComponentWhenRequested(t *testing.T) {
	mounts, r := newTestTree(t)
	root := mounts.Root()
	fs := root.Node().FileSystem()
	_, err := fs.Symlink(root.Node(), "link", "/a/b")
	require.NoError(t, err)

	withoutFollow, err := r.Resolve("/link", vfs.Settings{})
	require.NoError(t, err)
	st, err := withoutFollow.Found.Node().Stat()
	require.NoError(t, err)
	require.Equal(t, vfs.KindSymlink, st.Kind)

	withFollow, err := r.Resolve("/link", vfs.Settings{FollowLink: true})
	require.NoError(t, err)
	bEntry, err := mounts.RootCache().LookupChild(mustEntry(t, mounts, "a"), "b")
	require.NoError(t, err)
	require.Equal(t, bEntry.Node().Ino(), withFollow.Found.Node().Ino())
}

func mustEntry(t *testing.T, mounts *vfs.Mounts, name string) *vfs.Entry {
	t.Helper()
	e, err := mounts.RootCache().LookupChild(mounts.Root(), name)
	require.NoError(t, err)
	return e
}
