package net

import "github.com/maestro-os/maestro/vfs"

// UnixSocket is one endpoint of an AF_UNIX connected socket pair,
// wrapping a vfs.Pipe for each direction exactly as SPEC_FULL.md §6
// specifies ("a minimal AF_UNIX socket pair backed by the same FIFO
// buffer object §4.7 already defines for named pipes"). A SOCK_STREAM
// pair is two independent pipes (one per direction); nothing here models
// SOCK_DGRAM framing, which is out of scope beyond the data model.
type UnixSocket struct {
	recv *vfs.Pipe
	send *vfs.Pipe
}

// SocketPair creates a connected pair of AF_UNIX sockets, the Go
// analogue of socketpair(2) for SOCK_STREAM/SOCK_SEQPACKET domains.
func SocketPair() (a, b *UnixSocket) {
	toA := vfs.NewPipe(0)
	toB := vfs.NewPipe(0)

	toA.AddWriter()
	toA.AddReader()
	toB.AddWriter()
	toB.AddReader()

	a = &UnixSocket{recv: toA, send: toB}
	b = &UnixSocket{recv: toB, send: toA}
	return a, b
}

// Read receives bytes written by the peer.
func (s *UnixSocket) Read(buf []byte) (int, error) { return s.recv.Read(buf) }

// Write sends bytes to the peer.
func (s *UnixSocket) Write(buf []byte) (int, error) { return s.send.Write(buf) }

// Close tears down both directions of the pair's local endpoint.
func (s *UnixSocket) Close() {
	s.recv.CloseReader()
	s.send.CloseWriter()
}
