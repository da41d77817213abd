package commands

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"net"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/nfscallback/internal/adapter/nfs/rpc"
	"github.com/marmos91/nfscallback/internal/adapter/nfs/v4/state"
	"github.com/marmos91/nfscallback/internal/adapter/nfs/v4/types"
)

func TestParseTarget(t *testing.T) {
	tg, err := parseTarget(" tcp,10.0.0.5.8.1 ")
	require.NoError(t, err)
	assert.Equal(t, target{NetID: "tcp", UAddr: "10.0.0.5.8.1"}, tg)
	assert.Equal(t, "tcp,10.0.0.5.8.1", tg.String())

	tg, err = parseTarget("tcp6,fe80::1.3.232")
	require.NoError(t, err)
	assert.Equal(t, "fe80::1.3.232", tg.UAddr)

	for _, bad := range []string{"", "tcp", "tcp,", ",10.0.0.5.8.1", "ipx,10.0.0.5.8.1", "tcp,10.0.0.5"} {
		_, err := parseTarget(bad)
		assert.Error(t, err, bad)
	}
}

func TestSecurityFlags(t *testing.T) {
	tests := []struct {
		flavor string
		want   uint32
	}{
		{"none", rpc.AuthNull},
		{"", rpc.AuthSys},
		{"SYS", rpc.AuthSys},
		{"gss", rpc.AuthRPCSECGSS},
		{"krb5", rpc.AuthRPCSECGSS},
	}
	for _, tt := range tests {
		f := securityFlags{flavor: tt.flavor, gssTarget: "nfs@client"}
		sec, err := f.security()
		require.NoError(t, err, tt.flavor)
		assert.Equal(t, tt.want, sec.Flavor, tt.flavor)
		assert.Equal(t, "nfs@client", sec.GSSTarget)
	}

	_, err := (&securityFlags{flavor: "des"}).security()
	assert.Error(t, err)

	f := securityFlags{flavor: "sys", program: 0x40000001}
	info, err := f.clientInfo(7, target{NetID: "tcp", UAddr: "10.0.0.5.8.1"}, 3)
	require.NoError(t, err)
	assert.Equal(t, state.ClientInfo{
		ClientID:      7,
		NetID:         "tcp",
		UAddr:         "10.0.0.5.8.1",
		Program:       0x40000001,
		CallbackIdent: 3,
		Security:      state.CallbackSecurity{Flavor: rpc.AuthSys},
	}, info)
}

func TestProbeReport(t *testing.T) {
	report := probeReport{
		{Target: "tcp,10.0.0.5.8.1", Status: "RPC_SUCCESS", DurationMs: 1.25},
		{Target: "tcp,10.0.0.6.8.1", Status: "RPC_TIMEDOUT", CallbackDown: true},
	}
	assert.Equal(t, []string{"Target", "Status", "Callback", "Duration"}, report.Headers())
	assert.Equal(t, [][]string{
		{"tcp,10.0.0.5.8.1", "RPC_SUCCESS", "up", "1.2ms"},
		{"tcp,10.0.0.6.8.1", "RPC_TIMEDOUT", "down", "0.0ms"},
	}, report.Rows())

	assert.EqualError(t, report.err(), "1 of 2 callback probes failed")
	assert.NoError(t, report[:1].err())
}

func TestRecallArgs(t *testing.T) {
	defer func() {
		recallFH, recallStateidOther, recallStateidSeq, recallTruncate = "", "", 0, false
	}()

	recallFH = "deadbeef"
	recallStateidSeq = 4
	recallStateidOther = "000102030405060708090a0b"
	recallTruncate = true

	args, err := recallArgs()
	require.NoError(t, err)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, args.FH)
	assert.Equal(t, uint32(4), args.Stateid.Seqid)
	assert.Equal(t, byte(0x0b), args.Stateid.Other[11])
	assert.True(t, args.Truncate)

	recallStateidOther = "0001"
	_, err = recallArgs()
	assert.ErrorContains(t, err, "want 12 bytes")

	recallStateidOther = ""
	recallFH = "zz"
	_, err = recallArgs()
	assert.ErrorContains(t, err, "invalid --fh")
}

func TestRecallResultFields(t *testing.T) {
	r := recallResult{Target: "tcp,x", State: "FINISHED", Status: "RPC_SUCCESS", NFSStatus: "NFS4_OK", XID: 0x10}
	f := r.fields()
	assert.Contains(t, f, [2]string{"NFS status", "NFS4_OK"})
	assert.Contains(t, f, [2]string{"XID", "0x00000010"})
	assert.NotContains(t, f, [2]string{"Error", ""})
}

// ============================================================================
// End-to-end against a loopback callback service
// ============================================================================

// serveCallbacks answers every call with success. CB_COMPOUND gets a
// reply with NFS4_OK for a single CB_RECALL.
func serveCallbacks(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go func() {
				defer func() { _ = conn.Close() }()
				for {
					msg, err := rpc.ReadRecord(conn, rpc.DefaultMaxRecordSize)
					if err != nil || len(msg) < 24 {
						return
					}
					xid := binary.BigEndian.Uint32(msg[0:4])
					proc := binary.BigEndian.Uint32(msg[20:24])

					var reply bytes.Buffer
					for _, v := range []uint32{xid, rpc.RPCReply, rpc.RPCMsgAccepted, rpc.AuthNull, 0, rpc.RPCSuccess} {
						_ = binary.Write(&reply, binary.BigEndian, v)
					}
					if proc == 1 {
						// status, empty tag, one result: CB_RECALL NFS4_OK
						for _, v := range []uint32{types.NFS4_OK, 0, 1, types.OP_CB_RECALL, types.NFS4_OK} {
							_ = binary.Write(&reply, binary.BigEndian, v)
						}
					}
					if _, err := conn.Write(rpc.AddRecordMark(reply.Bytes())); err != nil {
						return
					}
				}
			}()
		}
	}()
	return state.FormatUniversalAddr(netip.MustParseAddrPort(l.Addr().String()))
}

func isolateConfig(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("NFSCB_LOGGING_OUTPUT", "stderr")
	t.Setenv("NFSCB_LOGGING_LEVEL", "ERROR")
}

func TestProbeCommand(t *testing.T) {
	isolateConfig(t)
	uaddr := serveCallbacks(t)

	var out bytes.Buffer
	root := GetRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"probe", "-o", "json", "tcp," + uaddr})
	require.NoError(t, root.Execute())

	var report []probeResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	require.Len(t, report, 1)
	assert.Equal(t, "RPC_SUCCESS", report[0].Status)
	assert.False(t, report[0].CallbackDown)
}

func TestRecallCommand(t *testing.T) {
	isolateConfig(t)
	uaddr := serveCallbacks(t)

	var out bytes.Buffer
	root := GetRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"recall", "-o", "json", "--ident", "9", "--fh", "deadbeef", "tcp," + uaddr})
	require.NoError(t, root.Execute())

	var res recallResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	assert.Equal(t, "FINISHED", res.State)
	assert.Equal(t, "RPC_SUCCESS", res.Status)
	assert.Equal(t, "NFS4_OK", res.NFSStatus)
	assert.Empty(t, res.Error)
}
