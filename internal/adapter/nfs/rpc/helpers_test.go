package rpc

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

func buildAcceptedReply(xid uint32, acceptStat uint32, results []byte) []byte {
	var reply bytes.Buffer
	_ = binary.Write(&reply, binary.BigEndian, xid)
	_ = binary.Write(&reply, binary.BigEndian, RPCReply)
	_ = binary.Write(&reply, binary.BigEndian, RPCMsgAccepted)
	_ = binary.Write(&reply, binary.BigEndian, AuthNull)
	_ = binary.Write(&reply, binary.BigEndian, uint32(0))
	_ = binary.Write(&reply, binary.BigEndian, acceptStat)
	reply.Write(results)
	return reply.Bytes()
}

func buildAuthErrorReply(xid uint32, why AuthStat) []byte {
	var reply bytes.Buffer
	_ = binary.Write(&reply, binary.BigEndian, xid)
	_ = binary.Write(&reply, binary.BigEndian, RPCReply)
	_ = binary.Write(&reply, binary.BigEndian, RPCMsgDenied)
	_ = binary.Write(&reply, binary.BigEndian, RPCAuthError)
	_ = binary.Write(&reply, binary.BigEndian, uint32(why))
	return reply.Bytes()
}

// callHeader is the decoded fixed part of a call message.
type callHeader struct {
	XID, MsgType, RPCVers, Prog, Vers, Proc uint32
	Cred, Verf                              OpaqueAuth
	Args                                    []byte
}

func parseCall(t *testing.T, msg []byte) callHeader {
	t.Helper()
	r := bytes.NewReader(msg)
	var h callHeader
	for _, p := range []*uint32{&h.XID, &h.MsgType, &h.RPCVers, &h.Prog, &h.Vers, &h.Proc} {
		require.NoError(t, binary.Read(r, binary.BigEndian, p))
	}
	var err error
	h.Cred, err = DecodeOpaqueAuth(r)
	require.NoError(t, err)
	h.Verf, err = DecodeOpaqueAuth(r)
	require.NoError(t, err)
	h.Args, _ = io.ReadAll(r)
	return h
}

// startCallbackServer runs a one-connection TCP server. handle returns the
// reply for each call, or nil to stay silent.
func startCallbackServer(t *testing.T, handle func(msg []byte) []byte) net.Listener {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()
		for {
			msg, err := ReadRecord(conn, DefaultMaxRecordSize)
			if err != nil {
				return
			}
			if reply := handle(msg); reply != nil {
				if _, err := conn.Write(AddRecordMark(reply)); err != nil {
					return
				}
			}
		}
	}()
	return l
}
