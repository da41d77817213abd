package logger

import (
	"fmt"
	"log/slog"
)

// Standard field keys for structured logging.
// Callback-path log statements should use these keys so that a single
// recall can be followed from dispatch through the RPC layer to completion.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id" // OpenTelemetry trace ID for request correlation
	KeySpanID  = "span_id"  // OpenTelemetry span ID for operation tracking

	// ========================================================================
	// NFSv4 State
	// ========================================================================
	KeyClientID  = "client_id"  // 64-bit NFSv4 client ID (hex)
	KeySessionID = "session_id" // NFSv4.1 session ID (hex)
	KeySlotID    = "slot_id"    // Backchannel slot index
	KeySeqID     = "seq_id"     // Slot sequence ID sent in CB_SEQUENCE
	KeyMinorVer  = "minor_version"

	// ========================================================================
	// Callback Transport
	// ========================================================================
	KeyNetID   = "netid"   // Callback netid: tcp, tcp6, udp, ...
	KeyAddr    = "addr"    // Callback universal or host:port address
	KeyProgram = "program" // Callback RPC program number
	KeyXID     = "xid"     // RPC transaction ID
	KeyFlavor  = "flavor"  // RPC auth flavor name

	// ========================================================================
	// Callback Operations
	// ========================================================================
	KeyOp       = "op"        // Callback operation: CB_NULL, CB_RECALL, ...
	KeyCallID   = "call_id"   // Per-call correlation ID
	KeyClntStat = "clnt_stat" // RPC client status of a completed call
	KeyNFSStat  = "nfs_stat"  // nfsstat4 returned by the client
	KeyState    = "state"     // Callback lifecycle state

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyDurationMs = "duration_ms" // Operation duration in milliseconds
	KeyError      = "error"       // Error message
	KeyAttempt    = "attempt"     // Retry attempt number
	KeyComponent  = "component"   // Subsystem emitting the record
	KeyPath       = "path"        // Filesystem path (keytab, config)
)

// ============================================================================
// Field constructors for type safety
// ============================================================================

// TraceID returns a slog.Attr for OpenTelemetry trace ID
func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

// SpanID returns a slog.Attr for OpenTelemetry span ID
func SpanID(id string) slog.Attr {
	return slog.String(KeySpanID, id)
}

// ClientID formats a client ID the way it is shown everywhere else.
func ClientID(id uint64) slog.Attr {
	return slog.String(KeyClientID, fmt.Sprintf("%016x", id))
}

// SessionID returns a slog.Attr for a 16-byte session ID (hex).
func SessionID(id []byte) slog.Attr {
	return slog.String(KeySessionID, fmt.Sprintf("%x", id))
}

func SlotID(id uint32) slog.Attr {
	return slog.Any(KeySlotID, id)
}

func SeqID(id uint32) slog.Attr {
	return slog.Any(KeySeqID, id)
}

func NetID(netid string) slog.Attr {
	return slog.String(KeyNetID, netid)
}

func Addr(addr string) slog.Attr {
	return slog.String(KeyAddr, addr)
}

// XID returns a slog.Attr for an RPC transaction ID (hex, as in packet traces).
func XID(xid uint32) slog.Attr {
	return slog.String(KeyXID, fmt.Sprintf("0x%08x", xid))
}

func Op(name string) slog.Attr {
	return slog.String(KeyOp, name)
}

func CallID(id string) slog.Attr {
	return slog.String(KeyCallID, id)
}

// ClntStat accepts anything with a String method so that callers can pass
// their status type directly.
func ClntStat(s fmt.Stringer) slog.Attr {
	return slog.String(KeyClntStat, s.String())
}

// DurationMs returns a slog.Attr for duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error. A nil error yields an empty Attr,
// which handlers drop.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Attempt returns a slog.Attr for retry attempt number
func Attempt(n int) slog.Attr {
	return slog.Int(KeyAttempt, n)
}
