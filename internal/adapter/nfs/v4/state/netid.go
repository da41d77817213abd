package state

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// ============================================================================
// Netid table
// ============================================================================

// NetID describes how a callback netid maps onto a socket.
type NetID struct {
	Name     string
	Family   int // unix.AF_INET or unix.AF_INET6
	SockType int // unix.SOCK_STREAM or unix.SOCK_DGRAM
	Protocol int // unix.IPPROTO_*
}

// IsIPv6 reports whether the netid carries IPv6 addresses.
func (n NetID) IsIPv6() bool { return n.Family == unix.AF_INET6 }

// IsRDMA reports whether the netid names an RDMA transport.
func (n NetID) IsRDMA() bool { return strings.HasPrefix(n.Name, "rdma") }

// network returns the Go dial network for the netid. RDMA rides the TCP
// path; SCTP has no Go network and is dialed by hand.
func (n NetID) network() string {
	switch {
	case n.SockType == unix.SOCK_DGRAM && n.IsIPv6():
		return "udp6"
	case n.SockType == unix.SOCK_DGRAM:
		return "udp4"
	case n.IsIPv6():
		return "tcp6"
	default:
		return "tcp4"
	}
}

// ipprotoSCTP is the IANA protocol number for SCTP.
const ipprotoSCTP = 132

// netids lists every callback netid the server can dial.
var netids = [...]NetID{
	{Name: "tcp", Family: unix.AF_INET, SockType: unix.SOCK_STREAM, Protocol: unix.IPPROTO_TCP},
	{Name: "tcp6", Family: unix.AF_INET6, SockType: unix.SOCK_STREAM, Protocol: unix.IPPROTO_TCP},
	{Name: "udp", Family: unix.AF_INET, SockType: unix.SOCK_DGRAM, Protocol: unix.IPPROTO_UDP},
	{Name: "udp6", Family: unix.AF_INET6, SockType: unix.SOCK_DGRAM, Protocol: unix.IPPROTO_UDP},
	{Name: "rdma", Family: unix.AF_INET, SockType: unix.SOCK_STREAM, Protocol: unix.IPPROTO_TCP},
	{Name: "rdma6", Family: unix.AF_INET6, SockType: unix.SOCK_STREAM, Protocol: unix.IPPROTO_TCP},
	{Name: "sctp", Family: unix.AF_INET, SockType: unix.SOCK_STREAM, Protocol: ipprotoSCTP},
	{Name: "sctp6", Family: unix.AF_INET6, SockType: unix.SOCK_STREAM, Protocol: ipprotoSCTP},
}

// LookupNetID returns the table entry for name.
func LookupNetID(name string) (NetID, bool) {
	for _, n := range netids {
		if n.Name == name {
			return n, true
		}
	}
	return NetID{}, false
}

// ============================================================================
// Universal addresses
// ============================================================================

// CallbackAddr is a client's v4.0 callback location, parsed from the
// r_netid/r_addr pair given to SETCLIENTID.
type CallbackAddr struct {
	NetID NetID
	UAddr string
	Addr  netip.AddrPort
}

func (a CallbackAddr) String() string {
	return a.NetID.Name + "://" + a.Addr.String()
}

// ParseCallbackAddr parses a universal address ("h1.h2.h3.h4.p1.p2" for
// IPv4, "x:x::x.p1.p2" for IPv6) under netid. The address family must
// match the netid.
func ParseCallbackAddr(netid, uaddr string) (CallbackAddr, error) {
	n, ok := LookupNetID(netid)
	if !ok {
		return CallbackAddr{}, errnof(unix.EINVAL, "unsupported callback netid %q", netid)
	}

	host, port, err := splitUniversalAddr(uaddr)
	if err != nil {
		return CallbackAddr{}, withErrno(unix.EINVAL, err)
	}

	ip, err := netip.ParseAddr(host)
	if err != nil {
		return CallbackAddr{}, errnof(unix.EINVAL, "malformed universal address %q: %v", uaddr, err)
	}
	if n.IsIPv6() != ip.Is6() {
		return CallbackAddr{}, errnof(unix.EINVAL, "universal address %q does not match netid %s", uaddr, netid)
	}

	return CallbackAddr{
		NetID: n,
		UAddr: uaddr,
		Addr:  netip.AddrPortFrom(ip, port),
	}, nil
}

// splitUniversalAddr splits off the two trailing port octets.
func splitUniversalAddr(uaddr string) (string, uint16, error) {
	lastDot := strings.LastIndex(uaddr, ".")
	if lastDot < 0 {
		return "", 0, fmt.Errorf("malformed universal address %q: no dots found", uaddr)
	}
	p2Str := uaddr[lastDot+1:]
	rest := uaddr[:lastDot]

	secondLastDot := strings.LastIndex(rest, ".")
	if secondLastDot < 0 {
		return "", 0, fmt.Errorf("malformed universal address %q: need at least host.p1.p2", uaddr)
	}
	p1Str := rest[secondLastDot+1:]
	host := rest[:secondLastDot]
	if host == "" {
		return "", 0, fmt.Errorf("malformed universal address %q: empty host", uaddr)
	}

	p1, err := strconv.ParseUint(p1Str, 10, 8)
	if err != nil {
		return "", 0, fmt.Errorf("malformed universal address %q: invalid p1 %q", uaddr, p1Str)
	}
	p2, err := strconv.ParseUint(p2Str, 10, 8)
	if err != nil {
		return "", 0, fmt.Errorf("malformed universal address %q: invalid p2 %q", uaddr, p2Str)
	}
	return host, uint16(p1<<8 | p2), nil
}

// FormatUniversalAddr is the inverse of ParseCallbackAddr's address part.
func FormatUniversalAddr(addr netip.AddrPort) string {
	port := addr.Port()
	return fmt.Sprintf("%s.%d.%d", addr.Addr().String(), port>>8, port&0xff)
}
