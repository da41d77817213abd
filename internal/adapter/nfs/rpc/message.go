// Package rpc implements the client side of ONC RPC version 2 (RFC 5531)
// as needed to reach an NFSv4 client's callback service: call header
// encoding, reply parsing, record marking, AUTH_NONE and AUTH_SYS
// credentials, and a multiplexing client that routes replies by xid.
//
// The server-side RPC machinery lives elsewhere; this package only ever
// originates calls.
package rpc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/marmos91/nfscallback/internal/protocol/xdr"
)

// ============================================================================
// RPC Constants (RFC 5531)
// ============================================================================

// RPCVersion is the only ONC RPC protocol version.
const RPCVersion uint32 = 2

// Message types.
const (
	RPCCall  uint32 = 0
	RPCReply uint32 = 1
)

// Reply status.
const (
	RPCMsgAccepted uint32 = 0
	RPCMsgDenied   uint32 = 1
)

// Accept status.
const (
	RPCSuccess      uint32 = 0
	RPCProgUnavail  uint32 = 1
	RPCProgMismatch uint32 = 2
	RPCProcUnavail  uint32 = 3
	RPCGarbageArgs  uint32 = 4
	RPCSystemErr    uint32 = 5
)

// Reject status.
const (
	RPCMismatch  uint32 = 0
	RPCAuthError uint32 = 1
)

// Authentication flavors.
const (
	AuthNull      uint32 = 0
	AuthUnix      uint32 = 1
	AuthShort     uint32 = 2
	AuthDES       uint32 = 3
	AuthRPCSECGSS uint32 = 6
)

// AuthSys is the RFC 5531 name for AuthUnix.
const AuthSys = AuthUnix

// MaxAuthBytes is the largest opaque_auth body allowed on the wire.
const MaxAuthBytes = 400

// ============================================================================
// opaque_auth
// ============================================================================

// OpaqueAuth is an RPC credential or verifier.
type OpaqueAuth struct {
	Flavor uint32
	Body   []byte
}

// NullAuth is the empty AUTH_NONE credential/verifier.
var NullAuth = OpaqueAuth{Flavor: AuthNull}

// Encode writes the opaque_auth to buf.
func (a OpaqueAuth) Encode(buf *bytes.Buffer) error {
	if len(a.Body) > MaxAuthBytes {
		return fmt.Errorf("auth body length %d exceeds %d", len(a.Body), MaxAuthBytes)
	}
	if err := xdr.WriteUint32(buf, a.Flavor); err != nil {
		return err
	}
	return xdr.WriteXDROpaque(buf, a.Body)
}

// DecodeOpaqueAuth reads an opaque_auth from r.
func DecodeOpaqueAuth(r io.Reader) (OpaqueAuth, error) {
	flavor, err := xdr.DecodeUint32(r)
	if err != nil {
		return OpaqueAuth{}, fmt.Errorf("read auth flavor: %w", err)
	}
	body, err := xdr.DecodeOpaqueMax(r, MaxAuthBytes)
	if err != nil {
		return OpaqueAuth{}, fmt.Errorf("read auth body: %w", err)
	}
	return OpaqueAuth{Flavor: flavor, Body: body}, nil
}

// FlavorName returns a printable name for an auth flavor.
func FlavorName(flavor uint32) string {
	switch flavor {
	case AuthNull:
		return "AUTH_NONE"
	case AuthUnix:
		return "AUTH_SYS"
	case AuthShort:
		return "AUTH_SHORT"
	case AuthDES:
		return "AUTH_DH"
	case AuthRPCSECGSS:
		return "RPCSEC_GSS"
	default:
		return fmt.Sprintf("AUTH_%d", flavor)
	}
}

// ============================================================================
// Call header
// ============================================================================

// encodeCallPrefix writes the fixed call fields that precede the credential.
func encodeCallPrefix(buf *bytes.Buffer, xid, prog, vers, proc uint32) error {
	for _, v := range []uint32{xid, RPCCall, RPCVersion, prog, vers, proc} {
		if err := xdr.WriteUint32(buf, v); err != nil {
			return err
		}
	}
	return nil
}

// BuildCallMessage assembles a complete, unframed call message. The
// verifier is produced by auth over the header bytes up to and including
// the credential, which is what RPCSEC_GSS signs.
func BuildCallMessage(xid, prog, vers, proc uint32, auth Auth, args []byte) ([]byte, AuthToken, error) {
	var buf bytes.Buffer
	if err := encodeCallPrefix(&buf, xid, prog, vers, proc); err != nil {
		return nil, 0, fmt.Errorf("encode call header: %w", err)
	}

	cred, tok, err := auth.Credential()
	if err != nil {
		return nil, 0, fmt.Errorf("marshal credential: %w", err)
	}
	if err := cred.Encode(&buf); err != nil {
		return nil, 0, fmt.Errorf("encode credential: %w", err)
	}

	verf, err := auth.Verifier(buf.Bytes(), tok)
	if err != nil {
		return nil, 0, fmt.Errorf("compute verifier: %w", err)
	}
	if err := verf.Encode(&buf); err != nil {
		return nil, 0, fmt.Errorf("encode verifier: %w", err)
	}

	if bp, ok := auth.(BodyProtector); ok {
		if args, err = bp.WrapArgs(tok, args); err != nil {
			return nil, 0, fmt.Errorf("protect arguments: %w", err)
		}
	}
	buf.Write(args)
	return buf.Bytes(), tok, nil
}

// ============================================================================
// Reply parsing
// ============================================================================

// Reply is an accepted, successful RPC reply.
type Reply struct {
	XID     uint32
	Verf    OpaqueAuth
	Results []byte
}

// ReplyXID extracts the xid and message type from the head of a message.
func ReplyXID(msg []byte) (xid uint32, msgType uint32, err error) {
	if len(msg) < 8 {
		return 0, 0, fmt.Errorf("rpc message too short: %d bytes", len(msg))
	}
	return binary.BigEndian.Uint32(msg[0:4]), binary.BigEndian.Uint32(msg[4:8]), nil
}

// ParseReply decodes a reply message. Anything other than MSG_ACCEPTED /
// SUCCESS is returned as a *CallError carrying the matching client status.
func ParseReply(msg []byte) (*Reply, error) {
	r := bytes.NewReader(msg)

	xid, err := xdr.DecodeUint32(r)
	if err != nil {
		return nil, decodeError(fmt.Errorf("read xid: %w", err))
	}
	msgType, err := xdr.DecodeUint32(r)
	if err != nil {
		return nil, decodeError(fmt.Errorf("read msg_type: %w", err))
	}
	if msgType != RPCReply {
		return nil, decodeError(fmt.Errorf("expected REPLY, got msg_type %d", msgType))
	}

	replyStat, err := xdr.DecodeUint32(r)
	if err != nil {
		return nil, decodeError(fmt.Errorf("read reply_stat: %w", err))
	}

	switch replyStat {
	case RPCMsgAccepted:
		return parseAccepted(xid, r)
	case RPCMsgDenied:
		return nil, parseDenied(r)
	default:
		return nil, decodeError(fmt.Errorf("unknown reply_stat %d", replyStat))
	}
}

func parseAccepted(xid uint32, r *bytes.Reader) (*Reply, error) {
	verf, err := DecodeOpaqueAuth(r)
	if err != nil {
		return nil, decodeError(err)
	}
	acceptStat, err := xdr.DecodeUint32(r)
	if err != nil {
		return nil, decodeError(fmt.Errorf("read accept_stat: %w", err))
	}

	switch acceptStat {
	case RPCSuccess:
		results := make([]byte, r.Len())
		_, _ = r.Read(results)
		return &Reply{XID: xid, Verf: verf, Results: results}, nil
	case RPCProgUnavail:
		return nil, &CallError{Stat: StatProgUnavail}
	case RPCProgMismatch:
		low, _ := xdr.DecodeUint32(r)
		high, _ := xdr.DecodeUint32(r)
		return nil, &CallError{Stat: StatProgVersMismatch, Err: fmt.Errorf("supported versions %d-%d", low, high)}
	case RPCProcUnavail:
		return nil, &CallError{Stat: StatProcUnavail}
	case RPCGarbageArgs:
		return nil, &CallError{Stat: StatCantDecodeArgs}
	case RPCSystemErr:
		return nil, &CallError{Stat: StatSystemError}
	default:
		return nil, decodeError(fmt.Errorf("unknown accept_stat %d", acceptStat))
	}
}

func parseDenied(r *bytes.Reader) error {
	rejectStat, err := xdr.DecodeUint32(r)
	if err != nil {
		return decodeError(fmt.Errorf("read reject_stat: %w", err))
	}
	switch rejectStat {
	case RPCMismatch:
		return &CallError{Stat: StatVersMismatch}
	case RPCAuthError:
		why, err := xdr.DecodeUint32(r)
		if err != nil {
			return decodeError(fmt.Errorf("read auth_stat: %w", err))
		}
		return &CallError{Stat: StatAuthError, Auth: AuthStat(why)}
	default:
		return decodeError(fmt.Errorf("unknown reject_stat %d", rejectStat))
	}
}

func decodeError(err error) error {
	return &CallError{Stat: StatCantDecodeRes, Err: err}
}
