package syscall_test

import (
	"testing"

	"github.com/maestro-os/maestro/arch"
	"github.com/maestro-os/maestro/errno"
	"github.com/maestro-os/maestro/mm/buddy"
	"github.com/maestro-os/maestro/syscall"
	"github.com/stretchr/testify/require"
)

type fakeSpace struct{}

func (fakeSpace) Translate(addr uintptr) (uintptr, bool) { return addr, true }
func (fakeSpace) Writable(addr uintptr) bool             { return true }

type fakeMemory struct {
	pages map[uintptr][]byte
}

func newFakeMemory() *fakeMemory { return &fakeMemory{pages: make(map[uintptr][]byte)} }

func (m *fakeMemory) ReadPage(phys uintptr) []byte {
	base := phys &^ (buddy.PageSize - 1)
	if m.pages[base] == nil {
		m.pages[base] = make([]byte, buddy.PageSize)
	}
	return append([]byte(nil), m.pages[base]...)
}

func (m *fakeMemory) WritePage(phys uintptr, data []byte) {
	base := phys &^ (buddy.PageSize - 1)
	m.pages[base] = append([]byte(nil), data...)
}

func TestDispatchUnregisteredSyscallReturnsENOSYS(t *testing.T) {
	table := syscall.NewTable(nil)
	frame := &arch.Frame{RAX: 999}
	ctx := &syscall.Context{Frame: frame, Space: fakeSpace{}, Memory: newFakeMemory()}
	table.Dispatch(ctx)
	want := -int64(errno.ENOSYS)
	require.Equal(t, uintptr(want), frame.RAX)
}

func TestDispatchSuccessWritesPositiveResult(t *testing.T) {
	table := syscall.NewTable(nil)
	table.Register(42, "answer", func(ctx *syscall.Context) (uintptr, error) {
		return 42, nil
	})
	frame := &arch.Frame{RAX: 42}
	ctx := &syscall.Context{Frame: frame, Space: fakeSpace{}, Memory: newFakeMemory()}
	table.Dispatch(ctx)
	require.Equal(t, uintptr(42), frame.RAX)
}

func TestDispatchFailureNegatesErrno(t *testing.T) {
	table := syscall.NewTable(nil)
	table.Register(7, "fails", func(ctx *syscall.Context) (uintptr, error) {
		return 0, errno.EBADF
	})
	frame := &arch.Frame{RAX: 7}
	ctx := &syscall.Context{Frame: frame, Space: fakeSpace{}, Memory: newFakeMemory()}
	table.Dispatch(ctx)
	want := -int64(errno.EBADF)
	require.Equal(t, uintptr(want), frame.RAX)
}

func TestContextReadStringRoundTrips(t *testing.T) {
	mem := newFakeMemory()
	sp := fakeSpace{}
	const addr = 0x1000
	require.NoError(t, writeCString(sp, mem, addr, "hello"))

	ctx := &syscall.Context{Frame: &arch.Frame{RBX: addr}, Space: sp, Memory: mem}
	got, err := ctx.ReadString(0, 64)
	require.NoError(t, err)
	require.Equal(t, "hello", got)
}

func writeCString(sp fakeSpace, mem *fakeMemory, addr uintptr, s string) error {
	buf := append([]byte(s), 0)
	page := mem.ReadPage(addr)
	copy(page[addr&(buddy.PageSize-1):], buf)
	mem.WritePage(addr&^(buddy.PageSize-1), page)
	return nil
}
