package usercopy_test

import (
	"testing"

	"github.com/maestro-os/maestro/mm/buddy"
	"github.com/maestro-os/maestro/mm/usercopy"
	"github.com/stretchr/testify/require"
)

// fakeSpace identity-maps every address to the same physical address,
// rounded to its page, and treats pages below roThreshold as read-only.
type fakeSpace struct {
	roThreshold uintptr
	unmapped    map[uintptr]bool
}

func (f *fakeSpace) Translate(addr uintptr) (uintptr, bool) {
	page := addr &^ (buddy.PageSize - 1)
	if f.unmapped[page] {
		return 0, false
	}
	return addr, true
}

func (f *fakeSpace) Writable(addr uintptr) bool {
	return addr&^(buddy.PageSize-1) >= f.roThreshold
}

// fakeMemory is a flat byte-addressable store keyed by page base.
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

func TestCopyToFromUserRoundTrip(t *testing.T) {
	sp := &fakeSpace{roThreshold: 0, unmapped: map[uintptr]bool{}}
	mem := newFakeMemory()

	const addr = 0x2000
	payload := []byte("round trip payload")
	require.NoError(t, usercopy.CopyToUser(sp, mem, addr, payload))

	got, err := usercopy.CopyFromUser(sp, mem, addr, len(payload))
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestCopySpanningPageBoundary(t *testing.T) {
	sp := &fakeSpace{roThreshold: 0, unmapped: map[uintptr]bool{}}
	mem := newFakeMemory()

	addr := uintptr(buddy.PageSize - 4)
	payload := []byte("0123456789")
	require.NoError(t, usercopy.CopyToUser(sp, mem, addr, payload))

	got, err := usercopy.CopyFromUser(sp, mem, addr, len(payload))
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestWriteToReadOnlyPageFails(t *testing.T) {
	sp := &fakeSpace{roThreshold: 0x5000, unmapped: map[uintptr]bool{}}
	mem := newFakeMemory()

	err := usercopy.CopyToUser(sp, mem, 0x1000, []byte("nope"))
	require.Error(t, err)
}

func TestCopyFromUnmappedPageFaults(t *testing.T) {
	sp := &fakeSpace{roThreshold: 0, unmapped: map[uintptr]bool{0x3000: true}}
	mem := newFakeMemory()

	_, err := usercopy.CopyFromUser(sp, mem, 0x3000, 16)
	require.Error(t, err)
}

func TestReadStringStopsAtNUL(t *testing.T) {
	sp := &fakeSpace{roThreshold: 0, unmapped: map[uintptr]bool{}}
	mem := newFakeMemory()

	const addr = 0x4000
	raw := append([]byte("hello\x00garbage"), make([]byte, 64)...)
	require.NoError(t, usercopy.CopyToUser(sp, mem, addr, raw))

	s, err := usercopy.ReadString(sp, mem, usercopy.UserString{Addr: addr, MaxLen: 128})
	require.NoError(t, err)
	require.Equal(t, "hello", s)
}

func TestReadStringTooLong(t *testing.T) {
	sp := &fakeSpace{roThreshold: 0, unmapped: map[uintptr]bool{}}
	mem := newFakeMemory()

	const addr = 0x6000
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = 'a'
	}
	require.NoError(t, usercopy.CopyToUser(sp, mem, addr, raw))

	_, err := usercopy.ReadString(sp, mem, usercopy.UserString{Addr: addr, MaxLen: 16})
	require.Error(t, err)
}
