// Package net implements SPEC_FULL.md §6's socket/route data model: the
// address family/socket-type/protocol triple, an interface registry, a
// routing table keyed by destination prefix, and a minimal AF_UNIX socket
// pair. Networking stack semantics beyond this data model (IP/TCP
// processing, ARP, actual packet transmission) are out of scope per
// spec.md's Non-goals; this package stops exactly where
// original_source/kernel/src/net/mod.rs's own data types stop, before its
// protocol submodules (icmp/ip/tcp/netlink) begin.
package net

import (
	"sync"

	"github.com/maestro-os/maestro/errno"
	"github.com/maestro-os/maestro/vfs"
)

// MAC is a Media Access Control address.
type MAC [6]byte

// AddressFamily is a network address's kind, grounded on net/mod.rs's
// Address enum.
type AddressFamily int

const (
	AddressIPv4 AddressFamily = iota
	AddressIPv6
)

// Address is a network-layer address; exactly one of the two byte arrays
// is meaningful, per Family.
type Address struct {
	Family AddressFamily
	IPv4   [4]byte
	IPv6   [16]byte
}

// Equal reports whether two addresses are the same family and value.
func (a Address) Equal(b Address) bool {
	if a.Family != b.Family {
		return false
	}
	if a.Family == AddressIPv4 {
		return a.IPv4 == b.IPv4
	}
	return a.IPv6 == b.IPv6
}

// BindAddress pairs an address with a subnet mask/prefix length, per
// net/mod.rs's BindAddress.
type BindAddress struct {
	Addr       Address
	SubnetMask uint8
}

// IsMatching reports whether addr falls within the bound address's
// network, masking each 32-bit chunk by the prefix length exactly as
// net/mod.rs's BindAddress::is_matching does.
func (b BindAddress) IsMatching(addr Address) bool {
	if b.Addr.Family != addr.Family {
		return false
	}
	if b.Addr.Family == AddressIPv4 {
		return matchPrefix(b.Addr.IPv4[:], addr.IPv4[:], int(b.SubnetMask))
	}
	return matchPrefix(b.Addr.IPv6[:], addr.IPv6[:], int(b.SubnetMask))
}

func matchPrefix(a, b []byte, prefixBits int) bool {
	fullBytes := prefixBits / 8
	if fullBytes > len(a) {
		fullBytes = len(a)
	}
	for i := 0; i < fullBytes; i++ {
		if a[i] != b[i] {
			return false
		}
	}
	remBits := prefixBits % 8
	if remBits == 0 || fullBytes >= len(a) {
		return true
	}
	mask := byte(0xff << (8 - remBits))
	return a[fullBytes]&mask == b[fullBytes]&mask
}

// Interface is a network interface, grounded on net/mod.rs's Interface
// trait.
type Interface interface {
	Name() string
	IsUp() bool
	MAC() MAC
	Addresses() []BindAddress
	Read(buf []byte) (int, error)
	Write(buf []byte) (int, error)
}

// Route is one entry in the routing table, grounded on net/mod.rs's
// Route.
type Route struct {
	Dst     *BindAddress // nil means the default route
	Iface   string
	Gateway Address
	Metric  uint32
}

// IsMatching reports whether the route applies to addr: either addr is
// the gateway itself, the route is the default route (Dst == nil), or
// addr falls inside Dst's network.
func (r Route) IsMatching(addr Address) bool {
	if r.Gateway.Equal(addr) {
		return true
	}
	if r.Dst == nil {
		return true
	}
	return r.Dst.IsMatching(addr)
}

// betterThan reports whether r is preferred over other for reaching
// addr, mirroring net/mod.rs's Route::cmp_for (gateway match, then
// network-prefix match, then lowest metric wins).
func (r Route) betterThan(other Route, addr Address) bool {
	rGateway := r.Gateway.Equal(addr)
	oGateway := other.Gateway.Equal(addr)
	if rGateway != oGateway {
		return rGateway
	}
	rMatch := r.Dst == nil || r.Dst.IsMatching(addr)
	oMatch := other.Dst == nil || other.Dst.IsMatching(addr)
	if rMatch != oMatch {
		return rMatch
	}
	return r.Metric < other.Metric
}

// Registry owns the interface table and routing table, the Go analogue
// of net/mod.rs's static INTERFACES/ROUTING_TABLE Mutex-guarded globals
// (made an explicit value here rather than package-level state, so tests
// can run with isolated instances).
type Registry struct {
	mu         sync.Mutex
	interfaces map[string]Interface
	routes     []Route
}

// NewRegistry returns an empty interface/route registry.
func NewRegistry() *Registry {
	return &Registry{interfaces: make(map[string]Interface)}
}

// RegisterInterface adds iface under its own name, replacing any
// previous interface registered under that name.
func (r *Registry) RegisterInterface(iface Interface) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.interfaces[iface.Name()] = iface
}

// UnregisterInterface removes the named interface, if present.
func (r *Registry) UnregisterInterface(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.interfaces, name)
}

// Interface looks up a registered interface by name.
func (r *Registry) Interface(name string) (Interface, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	iface, ok := r.interfaces[name]
	return iface, ok
}

// AddRoute appends a routing table entry.
func (r *Registry) AddRoute(route Route) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, route)
}

// InterfaceFor selects the interface that should transmit a packet to
// addr: the matching route with the best betterThan ranking, per
// net/mod.rs's get_iface_for.
func (r *Registry) InterfaceFor(addr Address) (Interface, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *Route
	for i := range r.routes {
		route := r.routes[i]
		if !route.IsMatching(addr) {
			continue
		}
		if best == nil || route.betterThan(*best, addr) {
			best = &r.routes[i]
		}
	}
	if best == nil {
		return nil, false
	}
	iface, ok := r.interfaces[best.Iface]
	return iface, ok
}

// SocketDomain is a socket address family, per net/mod.rs's
// SocketDomain.
type SocketDomain uint32

const (
	AfUnix    SocketDomain = 1
	AfInet    SocketDomain = 2
	AfInet6   SocketDomain = 10
	AfNetlink SocketDomain = 16
	AfPacket  SocketDomain = 17
)

// ParseSocketDomain validates a raw domain id from a socket(2) call, per
// net/mod.rs's TryFrom<u32> impl for SocketDomain.
func ParseSocketDomain(id uint32) (SocketDomain, error) {
	switch SocketDomain(id) {
	case AfUnix, AfInet, AfInet6, AfNetlink, AfPacket:
		return SocketDomain(id), nil
	default:
		return 0, errno.EAFNOSUPPORT
	}
}

// SocketType is a socket's communication semantics, per net/mod.rs's
// SocketType.
type SocketType uint32

const (
	SockStream    SocketType = 1
	SockDgram     SocketType = 2
	SockRaw       SocketType = 3
	SockSeqpacket SocketType = 5
)

// ParseSocketType validates a raw type id from a socket(2) call.
func ParseSocketType(id uint32) (SocketType, error) {
	switch SocketType(id) {
	case SockStream, SockDgram, SockRaw, SockSeqpacket:
		return SocketType(id), nil
	default:
		return 0, errno.EPROTONOSUPPORT
	}
}

// IsStream reports whether t delivers a sequenced, reliable byte/message
// stream (as opposed to unordered datagrams).
func (t SocketType) IsStream() bool {
	return t == SockStream || t == SockSeqpacket
}

// SocketDesc is a socket's network-stack descriptor, per net/mod.rs's
// SocketDesc.
type SocketDesc struct {
	Domain   SocketDomain
	Type     SocketType
	Protocol int32
}

// CanUseDomain reports whether creds may create a socket of domain,
// mirroring net/mod.rs's AccessProfile::can_use_sock_domain: AF_PACKET
// is root-only.
func CanUseDomain(domain SocketDomain, creds vfs.Credentials) bool {
	if domain == AfPacket {
		return creds.UID == 0 || creds.GID == 0
	}
	return true
}

// CanUseType reports whether creds may create a socket of the given
// type, mirroring net/mod.rs's AccessProfile::can_use_sock_type:
// SOCK_RAW is root-only.
func CanUseType(t SocketType, creds vfs.Credentials) bool {
	if t == SockRaw {
		return creds.UID == 0 || creds.GID == 0
	}
	return true
}
