package types

import (
	"bytes"
	"testing"

	"github.com/marmos91/nfscallback/internal/protocol/xdr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSession() SessionId4 {
	var s SessionId4
	for i := range s {
		s[i] = byte(i + 1)
	}
	return s
}

func TestCbCompoundArgs_V41Layout(t *testing.T) {
	seq := &CbSequenceArgs{
		SessionID:     testSession(),
		SequenceID:    7,
		SlotID:        2,
		HighestSlotID: 3,
		ReferringCallLists: []ReferringCallTriple{{
			SessionID:      testSession(),
			ReferringCalls: []ReferringCall4{{SequenceID: 11, SlotID: 0}},
		}},
	}
	recall := &CbRecallArgs{
		Stateid: Stateid4{Seqid: 1, Other: [NFS4_OTHER_SIZE]byte{0xaa}},
		FH:      []byte{1, 2, 3},
	}
	args := &CbCompoundArgs{MinorVersion: 1, Ops: []CbArgOp{seq, recall}}

	data, err := xdr.Marshal(args)
	require.NoError(t, err)

	r := bytes.NewReader(data)
	tag, err := xdr.DecodeString(r)
	require.NoError(t, err)
	assert.Empty(t, tag)
	minor, _ := xdr.DecodeUint32(r)
	ident, _ := xdr.DecodeUint32(r)
	count, _ := xdr.DecodeUint32(r)
	assert.Equal(t, uint32(1), minor)
	assert.Equal(t, uint32(0), ident)
	assert.Equal(t, uint32(2), count)

	op, _ := xdr.DecodeUint32(r)
	assert.Equal(t, OP_CB_SEQUENCE, op)
	var gotSeq CbSequenceArgs
	require.NoError(t, gotSeq.Decode(r))
	assert.Equal(t, *seq, gotSeq)

	op, _ = xdr.DecodeUint32(r)
	assert.Equal(t, OP_CB_RECALL, op)
	var gotRecall CbRecallArgs
	require.NoError(t, gotRecall.Decode(r))
	assert.Equal(t, *recall, gotRecall)
	assert.Zero(t, r.Len())

	assert.Equal(t, "CB_SEQUENCE,CB_RECALL", args.OpNames())
}

func TestCbRecallArgs_RejectsLongHandle(t *testing.T) {
	a := &CbRecallArgs{FH: make([]byte, NFS4_FHSIZE+1)}
	_, err := xdr.Marshal(a)
	assert.Error(t, err)
}

func TestCbCompoundArgs_OpErrorStopsEncoding(t *testing.T) {
	args := &CbCompoundArgs{
		CallbackIdent: 9,
		Ops:           []CbArgOp{&CbRecallArgs{FH: make([]byte, NFS4_FHSIZE+1)}},
	}

	var buf bytes.Buffer
	err := args.Encode(&buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CB_RECALL (op 0)")
	// tag, minorversion, callback_ident, count and the op number only.
	assert.Equal(t, 20, buf.Len())
}

func TestCbSequenceRes_Encode(t *testing.T) {
	res := &CbSequenceRes{
		Status:              NFS4_OK,
		SessionID:           testSession(),
		SequenceID:          4,
		SlotID:              1,
		HighestSlotID:       2,
		TargetHighestSlotID: 3,
	}
	var buf bytes.Buffer
	require.NoError(t, res.Encode(&buf))
	assert.Equal(t, 4+NFS4_SESSIONID_SIZE+16, buf.Len())

	var got CbSequenceRes
	require.NoError(t, got.Decode(bytes.NewReader(buf.Bytes())))
	assert.Equal(t, *res, got)

	buf.Reset()
	require.NoError(t, (&CbSequenceRes{Status: NFS4ERR_BADSLOT, SequenceID: 4}).Encode(&buf))
	assert.Equal(t, 4, buf.Len(), "error results carry the status only")
}

func TestCbCompoundRes_Decode(t *testing.T) {
	want := &CbCompoundRes{
		Status: NFS4_OK,
		Tag:    "cb",
		Results: []CbResOp{
			{Op: OP_CB_SEQUENCE, Sequence: &CbSequenceRes{
				SessionID: testSession(), SequenceID: 4, SlotID: 1, HighestSlotID: 1, TargetHighestSlotID: 1,
			}},
			{Op: OP_CB_RECALL, Status: NFS4_OK},
		},
	}
	data, err := xdr.Marshal(want)
	require.NoError(t, err)

	got, err := DecodeCbCompoundRes(data)
	require.NoError(t, err)
	assert.Equal(t, NFS4_OK, got.Status)
	assert.Equal(t, "cb", got.Tag)
	require.Len(t, got.Results, 2)
	require.NotNil(t, got.Results[0].Sequence)
	assert.Equal(t, uint32(4), got.Results[0].Sequence.SequenceID)
	assert.Equal(t, OP_CB_RECALL, got.Results[1].Op)

	assert.NoError(t, got.Results[0].Sequence.Matches(&CbSequenceArgs{
		SessionID: testSession(), SequenceID: 4, SlotID: 1,
	}))
	assert.Error(t, got.Results[0].Sequence.Matches(&CbSequenceArgs{
		SessionID: testSession(), SequenceID: 5, SlotID: 1,
	}))
}

func TestCbCompoundRes_ErrorStatus(t *testing.T) {
	res := &CbCompoundRes{
		Status: NFS4ERR_BADSESSION,
		Results: []CbResOp{
			{Op: OP_CB_SEQUENCE, Status: NFS4ERR_BADSESSION, Sequence: &CbSequenceRes{Status: NFS4ERR_BADSESSION}},
		},
	}
	data, err := xdr.Marshal(res)
	require.NoError(t, err)

	got, err := DecodeCbCompoundRes(data)
	require.NoError(t, err)
	assert.Equal(t, NFS4ERR_BADSESSION, got.Status)
	assert.Equal(t, NFS4ERR_BADSESSION, got.Results[0].Status)
	assert.Contains(t, got.String(), "NFS4ERR_BADSESSION")
}

func TestCbCompoundRes_UnknownOp(t *testing.T) {
	var buf bytes.Buffer
	_ = xdr.WriteUint32(&buf, NFS4_OK)
	_ = xdr.WriteXDRString(&buf, "")
	_ = xdr.WriteUint32(&buf, 1)
	_ = xdr.WriteUint32(&buf, 99)
	_ = xdr.WriteUint32(&buf, NFS4_OK)

	_, err := DecodeCbCompoundRes(buf.Bytes())
	assert.ErrorContains(t, err, "unknown callback operation")
}

func TestCallbackSecParmsList(t *testing.T) {
	list := []CallbackSecParms4{
		{Flavor: RPCSEC_GSS, Gss: &GssCbHandles4{Service: 1, HandleFromServer: []byte{1}, HandleFromClient: []byte{2, 3}}},
		{Flavor: AUTH_SYS, Sys: &AuthSysParms{Stamp: 9, MachineName: "client1", UID: 1000, GID: 100, GIDs: []uint32{4, 27}}},
		{Flavor: AUTH_NONE},
	}
	var buf bytes.Buffer
	require.NoError(t, EncodeSecParmsList(&buf, list))

	got, err := DecodeSecParmsList(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []byte{2, 3}, got[0].Gss.HandleFromClient)
	assert.Equal(t, "client1", got[1].Sys.MachineName)
	assert.Equal(t, []uint32{4, 27}, got[1].Sys.GIDs)
	assert.Nil(t, got[2].Sys)
	assert.Equal(t, `AUTH_SYS{machine="client1", uid=1000, gid=100}`, got[1].String())
}

func TestCallbackSecParms_UnknownFlavor(t *testing.T) {
	var buf bytes.Buffer
	_ = xdr.WriteUint32(&buf, 1)
	_ = xdr.WriteUint32(&buf, 3) // AUTH_DES
	_, err := DecodeSecParmsList(bytes.NewReader(buf.Bytes()))
	assert.Error(t, err)
}

func TestBitmap4(t *testing.T) {
	var b Bitmap4
	b.Set(RCA4_TYPE_MASK_WDATA_DLG)
	b.Set(33)
	assert.Equal(t, Bitmap4{0x2, 0x2}, b)
	assert.True(t, b.IsSet(33))
	assert.False(t, b.IsSet(64))
}

func TestChannelAttrs(t *testing.T) {
	ca := &ChannelAttrs{MaxRequestSize: 4096, MaxResponseSize: 4096, MaxOperations: 2, MaxRequests: 4, RdmaIrd: []uint32{1, 2}}
	_, err := xdr.Marshal(ca)
	assert.Error(t, err, "rdma_ird is at most one element")

	ca.RdmaIrd = nil
	data, err := xdr.Marshal(ca)
	require.NoError(t, err)
	var got ChannelAttrs
	require.NoError(t, xdr.Unmarshal(data, &got))
	assert.Equal(t, uint32(4), got.MaxRequests)
}

func TestNames(t *testing.T) {
	assert.Equal(t, "CB_RECALL", CbOpName(OP_CB_RECALL))
	assert.Equal(t, "CB_OP_77", CbOpName(77))
	assert.Equal(t, "NFS4ERR_DELAY", StatusName(NFS4ERR_DELAY))
}
