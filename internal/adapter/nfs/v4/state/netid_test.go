package state

import (
	"errors"
	"fmt"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestParseCallbackAddr(t *testing.T) {
	t.Run("IPv4 TCP", func(t *testing.T) {
		addr, err := ParseCallbackAddr("tcp", "10.0.0.5.8.1")
		require.NoError(t, err)

		assert.Equal(t, netip.MustParseAddrPort("10.0.0.5:2049"), addr.Addr)
		assert.Equal(t, unix.AF_INET, addr.NetID.Family)
		assert.Equal(t, unix.SOCK_STREAM, addr.NetID.SockType)
		assert.Equal(t, unix.IPPROTO_TCP, addr.NetID.Protocol)
		assert.Equal(t, "10.0.0.5.8.1", addr.UAddr)
		assert.Equal(t, "tcp://10.0.0.5:2049", addr.String())
	})

	t.Run("IPv6 TCP", func(t *testing.T) {
		addr, err := ParseCallbackAddr("tcp6", "fe80::1.3.232")
		require.NoError(t, err)

		assert.Equal(t, uint16(1000), addr.Addr.Port())
		assert.Equal(t, "fe80::1", addr.Addr.Addr().String())
		assert.Equal(t, unix.AF_INET6, addr.NetID.Family)
		assert.Equal(t, "tcp6", addr.NetID.network())
	})

	t.Run("UDP", func(t *testing.T) {
		addr, err := ParseCallbackAddr("udp", "192.168.1.10.0.111")
		require.NoError(t, err)

		assert.Equal(t, uint16(111), addr.Addr.Port())
		assert.Equal(t, unix.SOCK_DGRAM, addr.NetID.SockType)
		assert.Equal(t, "udp4", addr.NetID.network())
	})

	t.Run("SCTP", func(t *testing.T) {
		addr, err := ParseCallbackAddr("sctp", "10.1.1.1.4.1")
		require.NoError(t, err)
		assert.Equal(t, ipprotoSCTP, addr.NetID.Protocol)
	})

	t.Run("RDMA", func(t *testing.T) {
		addr, err := ParseCallbackAddr("rdma", "10.1.1.1.79.230")
		require.NoError(t, err)
		assert.True(t, addr.NetID.IsRDMA())
		assert.Equal(t, "tcp4", addr.NetID.network())
	})

	invalid := []struct {
		name  string
		netid string
		uaddr string
	}{
		{"unknown netid", "ipx", "10.0.0.5.8.1"},
		{"empty address", "tcp", ""},
		{"no port octets", "tcp", "10.0.0.5"},
		{"one port octet", "tcp", "10.8"},
		{"port octet too large", "tcp", "10.0.0.5.300.1"},
		{"non-numeric port", "tcp", "10.0.0.5.a.1"},
		{"bad host", "tcp", "10.0.0.256.8.1"},
		{"empty host", "tcp", ".8.1"},
		{"IPv6 address on tcp", "tcp", "::1.8.1"},
		{"IPv4 address on tcp6", "tcp6", "10.0.0.5.8.1"},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCallbackAddr(tt.netid, tt.uaddr)
			require.Error(t, err)
			assert.True(t, errors.Is(err, unix.EINVAL), "got %v", err)
			assert.Equal(t, unix.EINVAL, Errno(err))
		})
	}
}

func TestFormatUniversalAddr(t *testing.T) {
	tests := []struct {
		addr string
		want string
	}{
		{"10.0.0.5:2049", "10.0.0.5.8.1"},
		{"127.0.0.1:0", "127.0.0.1.0.0"},
		{"[::1]:65535", "::1.255.255"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got := FormatUniversalAddr(netip.MustParseAddrPort(tt.addr))
			assert.Equal(t, tt.want, got)

			netid := "tcp"
			if netip.MustParseAddrPort(tt.addr).Addr().Is6() {
				netid = "tcp6"
			}
			parsed, err := ParseCallbackAddr(netid, got)
			require.NoError(t, err)
			assert.Equal(t, tt.addr, parsed.Addr.String())
		})
	}
}

func TestLookupNetID(t *testing.T) {
	for _, name := range []string{"tcp", "tcp6", "udp", "udp6", "rdma", "rdma6", "sctp", "sctp6"} {
		n, ok := LookupNetID(name)
		require.True(t, ok, name)
		assert.Equal(t, name, n.Name)
	}

	_, ok := LookupNetID("local")
	assert.False(t, ok)
}

func TestErrno(t *testing.T) {
	assert.Equal(t, unix.Errno(0), Errno(nil))
	assert.Equal(t, unix.EIO, Errno(errors.New("plain")))
	assert.Equal(t, unix.ENOENT, Errno(unix.ENOENT))

	err := withErrno(unix.ENOTCONN, ErrNoBackchannel)
	assert.Equal(t, unix.ENOTCONN, Errno(err))
	assert.ErrorIs(t, err, unix.ENOTCONN)
	assert.ErrorIs(t, err, ErrNoBackchannel)
	assert.Equal(t, ErrNoBackchannel.Error(), err.Error())

	wrapped := fmt.Errorf("dispatch: %w", err)
	assert.Equal(t, unix.ENOTCONN, Errno(wrapped))

	assert.NoError(t, withErrno(unix.EINVAL, nil))
}
