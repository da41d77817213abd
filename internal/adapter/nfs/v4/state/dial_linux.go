//go:build linux

package state

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// dialSCTP opens a one-to-one SCTP socket. The stream API makes it usable
// through the same record-marked transport as TCP.
func dialSCTP(ctx context.Context, addr CallbackAddr) (net.Conn, error) {
	fd, err := unix.Socket(addr.NetID.Family, unix.SOCK_STREAM, ipprotoSCTP)
	if err != nil {
		return nil, fmt.Errorf("sctp socket: %w", err)
	}
	unix.CloseOnExec(fd)

	if deadline, ok := ctx.Deadline(); ok {
		tv := unix.NsecToTimeval(time.Until(deadline).Nanoseconds())
		_ = unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_SNDTIMEO, &tv)
	}

	var sa unix.Sockaddr
	if addr.NetID.IsIPv6() {
		sa6 := &unix.SockaddrInet6{Port: int(addr.Addr.Port())}
		sa6.Addr = addr.Addr.Addr().As16()
		sa = sa6
	} else {
		sa4 := &unix.SockaddrInet4{Port: int(addr.Addr.Port())}
		sa4.Addr = addr.Addr.Addr().As4()
		sa = sa4
	}

	if err := unix.Connect(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("sctp connect %s: %w", addr.Addr, err)
	}

	f := os.NewFile(uintptr(fd), "sctp:"+addr.Addr.String())
	defer f.Close()
	conn, err := net.FileConn(f)
	if err != nil {
		return nil, fmt.Errorf("sctp conn %s: %w", addr.Addr, err)
	}
	return conn, nil
}
