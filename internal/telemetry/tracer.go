package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Common attribute keys for callback operations.
// These follow OpenTelemetry semantic conventions where applicable.
const (
	// ========================================================================
	// Client attributes
	// ========================================================================
	AttrClientAddr = "client.address"
	AttrNetID      = "network.netid"

	// ========================================================================
	// RPC attributes
	// ========================================================================
	AttrRPCXID      = "rpc.xid"
	AttrRPCProgram  = "rpc.program"
	AttrRPCVersion  = "rpc.version"
	AttrRPCAuthType = "rpc.auth_type"
	AttrRPCClntStat = "rpc.clnt_stat"

	// ========================================================================
	// NFSv4 callback attributes
	// ========================================================================
	AttrCBClientID     = "nfs_cb.client_id"
	AttrCBSessionID    = "nfs_cb.session_id"
	AttrCBMinorVersion = "nfs_cb.minor_version"
	AttrCBOp           = "nfs_cb.op"
	AttrCBCallID       = "nfs_cb.call_id"
	AttrCBSlot         = "nfs_cb.slot_id"
	AttrCBSeq          = "nfs_cb.seq_id"
	AttrCBStatus       = "nfs_cb.status"
)

// Span names for operations.
// Format: nfs_cb.<procedure> for wire calls, nfs_cb.<component>.<operation>
// for internal steps.
const (
	SpanCBNull          = "nfs_cb.CB_NULL"
	SpanCBCompound      = "nfs_cb.CB_COMPOUND"
	SpanCBChannelCreate = "nfs_cb.channel.create"
	SpanCBGSSInit       = "nfs_cb.gss.init"
)

// ClientAddr returns an attribute for a callback address
func ClientAddr(addr string) attribute.KeyValue {
	return attribute.String(AttrClientAddr, addr)
}

// CBNetID returns an attribute for a callback netid
func CBNetID(netid string) attribute.KeyValue {
	return attribute.String(AttrNetID, netid)
}

// RPCXID returns an attribute for RPC transaction ID
func RPCXID(xid uint32) attribute.KeyValue {
	return attribute.Int64(AttrRPCXID, int64(xid))
}

// RPCProgram returns an attribute for an RPC program number
func RPCProgram(prog uint32) attribute.KeyValue {
	return attribute.Int64(AttrRPCProgram, int64(prog))
}

// AuthMethod returns an attribute for the RPC auth flavor name
func AuthMethod(method string) attribute.KeyValue {
	return attribute.String(AttrRPCAuthType, method)
}

// CBClntStat returns an attribute for the RPC client status of a call
func CBClntStat(stat string) attribute.KeyValue {
	return attribute.String(AttrRPCClntStat, stat)
}

// CBClientID returns an attribute for a clientid, formatted as in logs
func CBClientID(id uint64) attribute.KeyValue {
	return attribute.String(AttrCBClientID, fmt.Sprintf("%016x", id))
}

// CBSessionID returns an attribute for a session id (hex)
func CBSessionID(id []byte) attribute.KeyValue {
	return attribute.String(AttrCBSessionID, fmt.Sprintf("%x", id))
}

// CBMinorVersion returns an attribute for the client's minor version
func CBMinorVersion(minor uint32) attribute.KeyValue {
	return attribute.Int(AttrCBMinorVersion, int(minor))
}

// CBOp returns an attribute for the callback operation name
func CBOp(op string) attribute.KeyValue {
	return attribute.String(AttrCBOp, op)
}

// CBCallID returns an attribute for the per-call correlation id
func CBCallID(id string) attribute.KeyValue {
	return attribute.String(AttrCBCallID, id)
}

// CBSlot returns an attribute for a back-channel slot
func CBSlot(slot uint32) attribute.KeyValue {
	return attribute.Int64(AttrCBSlot, int64(slot))
}

// CBSeq returns an attribute for a slot sequence id
func CBSeq(seq uint32) attribute.KeyValue {
	return attribute.Int64(AttrCBSeq, int64(seq))
}

// CBStatus returns an attribute for an nfsstat4 result name
func CBStatus(status string) attribute.KeyValue {
	return attribute.String(AttrCBStatus, status)
}

// StartCallbackSpan starts a client-kind span for a callback operation.
// The caller must call span.End() when done.
func StartCallbackSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return StartSpan(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...))
}
