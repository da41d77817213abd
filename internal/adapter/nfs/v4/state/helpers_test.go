package state

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"net/netip"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/marmos91/nfscallback/internal/adapter/nfs/rpc"
	"github.com/marmos91/nfscallback/internal/adapter/nfs/v4/types"
	"github.com/marmos91/nfscallback/internal/protocol/xdr"
	"github.com/marmos91/nfscallback/pkg/config"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

func testConfig() config.CallbackConfig {
	return config.CallbackConfig{
		CallTimeout:    2 * time.Second,
		DialTimeout:    time.Second,
		SlotWait:       100 * time.Millisecond,
		BackoffInitial: time.Millisecond,
		BackoffMax:     5 * time.Millisecond,
		MachineName:    "nfscb-test",
	}
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(Options{Callback: testConfig()})
}

func testSessionID(n byte) types.SessionId4 {
	var id types.SessionId4
	id[0] = 0xcb
	id[15] = n
	return id
}

func testRecall() *types.CbRecallArgs {
	return &types.CbRecallArgs{
		Stateid: types.Stateid4{Seqid: 1, Other: [12]byte{1, 2, 3}},
		FH:      []byte{0xde, 0xad, 0xbe, 0xef},
	}
}

// fakeCall is a decoded callback request as a client would see it.
type fakeCall struct {
	XID, Prog, Vers, Proc uint32
	Cred                  rpc.OpaqueAuth
	Args                  []byte
}

func parseFakeCall(t *testing.T, msg []byte) fakeCall {
	t.Helper()
	r := bytes.NewReader(msg)
	var c fakeCall
	var msgType, rpcVers uint32
	for _, p := range []*uint32{&c.XID, &msgType, &rpcVers, &c.Prog, &c.Vers, &c.Proc} {
		require.NoError(t, binary.Read(r, binary.BigEndian, p))
	}
	require.Equal(t, rpc.RPCCall, msgType)
	var err error
	c.Cred, err = rpc.DecodeOpaqueAuth(r)
	require.NoError(t, err)
	_, err = rpc.DecodeOpaqueAuth(r)
	require.NoError(t, err)
	c.Args, _ = io.ReadAll(r)
	return c
}

// decodedCompound is the subset of CB_COMPOUND4args the fake client checks.
type decodedCompound struct {
	MinorVersion  uint32
	CallbackIdent uint32
	Ops           []uint32
	Sequence      *types.CbSequenceArgs
	Recall        *types.CbRecallArgs
}

func decodeCompound(t *testing.T, args []byte) decodedCompound {
	t.Helper()
	r := bytes.NewReader(args)
	var d decodedCompound

	_, err := xdr.DecodeString(r)
	require.NoError(t, err)
	d.MinorVersion, err = xdr.DecodeUint32(r)
	require.NoError(t, err)
	d.CallbackIdent, err = xdr.DecodeUint32(r)
	require.NoError(t, err)
	n, err := xdr.DecodeUint32(r)
	require.NoError(t, err)

	for i := uint32(0); i < n; i++ {
		op, err := xdr.DecodeUint32(r)
		require.NoError(t, err)
		d.Ops = append(d.Ops, op)
		switch op {
		case types.OP_CB_SEQUENCE:
			d.Sequence = &types.CbSequenceArgs{}
			require.NoError(t, d.Sequence.Decode(r))
		case types.OP_CB_RECALL:
			d.Recall = &types.CbRecallArgs{}
			require.NoError(t, d.Recall.Decode(r))
		default:
			t.Fatalf("unexpected callback op %d", op)
		}
	}
	return d
}

func acceptedReply(xid uint32, results []byte) []byte {
	var reply bytes.Buffer
	for _, v := range []uint32{xid, rpc.RPCReply, rpc.RPCMsgAccepted, rpc.AuthNull, 0, rpc.RPCSuccess} {
		_ = binary.Write(&reply, binary.BigEndian, v)
	}
	reply.Write(results)
	return reply.Bytes()
}

func authErrorReply(xid uint32, why rpc.AuthStat) []byte {
	var reply bytes.Buffer
	for _, v := range []uint32{xid, rpc.RPCReply, rpc.RPCMsgDenied, rpc.RPCAuthError, uint32(why)} {
		_ = binary.Write(&reply, binary.BigEndian, v)
	}
	return reply.Bytes()
}

// okCompoundReply answers a decoded compound with NFS4_OK for every op,
// echoing CB_SEQUENCE. seqDelta skews the echoed sequence id.
func okCompoundReply(t *testing.T, xid uint32, d decodedCompound, seqDelta uint32) []byte {
	t.Helper()
	res := &types.CbCompoundRes{Status: types.NFS4_OK}
	for _, op := range d.Ops {
		rop := types.CbResOp{Op: op, Status: types.NFS4_OK}
		if op == types.OP_CB_SEQUENCE {
			rop.Sequence = &types.CbSequenceRes{
				Status:              types.NFS4_OK,
				SessionID:           d.Sequence.SessionID,
				SequenceID:          d.Sequence.SequenceID + seqDelta,
				SlotID:              d.Sequence.SlotID,
				HighestSlotID:       d.Sequence.HighestSlotID,
				TargetHighestSlotID: d.Sequence.HighestSlotID,
			}
		}
		res.Results = append(res.Results, rop)
	}
	body, err := xdr.Marshal(res)
	require.NoError(t, err)
	return acceptedReply(xid, body)
}

// fakeClient plays the client end of a callback connection. handle returns
// the reply for each call, or nil to stay silent.
type fakeClient struct {
	t      *testing.T
	handle func(call fakeCall) []byte
	calls  atomic.Int32
}

func (f *fakeClient) serve(conn net.Conn) {
	defer func() { _ = conn.Close() }()
	for {
		msg, err := rpc.ReadRecord(conn, rpc.DefaultMaxRecordSize)
		if err != nil {
			return
		}
		f.calls.Add(1)
		if reply := f.handle(parseFakeCall(f.t, msg)); reply != nil {
			if _, err := conn.Write(rpc.AddRecordMark(reply)); err != nil {
				return
			}
		}
	}
}

// defaultHandler answers CB_NULL and CB_COMPOUND successfully.
func (f *fakeClient) defaultHandler(call fakeCall) []byte {
	if call.Proc == types.CB_NULL {
		return acceptedReply(call.XID, nil)
	}
	return okCompoundReply(f.t, call.XID, decodeCompound(f.t, call.Args), 0)
}

// listen starts a TCP callback service and returns its universal address.
func (f *fakeClient) listen() string {
	f.t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(f.t, err)
	f.t.Cleanup(func() { _ = l.Close() })

	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go f.serve(conn)
		}
	}()
	return FormatUniversalAddr(netip.MustParseAddrPort(l.Addr().String()))
}

// backchannel returns a server-side transport over an in-memory connection
// whose far end is served by f.
func (f *fakeClient) backchannel() (rpc.Transport, net.Conn) {
	server, client := net.Pipe()
	f.t.Cleanup(func() { _ = server.Close(); _ = client.Close() })
	go f.serve(client)
	return rpc.NewStreamTransport(server, "tcp", rpc.DefaultMaxRecordSize, time.Second), client
}

func newFakeClient(t *testing.T, handle func(fakeCall) []byte) *fakeClient {
	f := &fakeClient{t: t}
	if handle == nil {
		handle = f.defaultHandler
	}
	f.handle = handle
	return f
}

// closedUAddr returns a loopback universal address nothing listens on.
func closedUAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := netip.MustParseAddrPort(l.Addr().String())
	require.NoError(t, l.Close())
	return FormatUniversalAddr(addr)
}

var sysSecParms = []types.CallbackSecParms4{{
	Flavor: types.AUTH_SYS,
	Sys:    &types.AuthSysParms{MachineName: "client.example.com"},
}}

// waitCall returns a completion function and a channel that receives the
// call once it completes.
func waitCall() (CompletionFunc, <-chan *Call) {
	ch := make(chan *Call, 1)
	return func(c *Call) { ch <- c }, ch
}

func recvCall(t *testing.T, ch <-chan *Call) *Call {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("callback did not complete")
		return nil
	}
}
