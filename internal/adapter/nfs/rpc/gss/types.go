// Package gss implements the initiator side of RPCSEC_GSS version 1
// (RFC 2203) with the Kerberos V5 mechanism (RFC 4121), used to
// authenticate callback calls to an NFSv4 client that registered
// RPCSEC_GSS callback security.
//
// Only the krb5 and krb5i services are supported. Context establishment
// is a single INIT round trip carrying a Kerberos AP-REQ without mutual
// authentication.
package gss

import (
	"bytes"
	"fmt"

	"github.com/jcmturner/gofork/encoding/asn1"
	xdr "github.com/rasky/go-xdr/xdr2"
)

// ============================================================================
// RPCSEC_GSS Constants
// ============================================================================

// RPCGSSVers1 is the only defined RPCSEC_GSS version.
const RPCGSSVers1 uint32 = 1

// gss_proc values.
const (
	RPCGSSData         uint32 = 0
	RPCGSSInit         uint32 = 1
	RPCGSSContinueInit uint32 = 2
	RPCGSSDestroy      uint32 = 3
)

// Service levels.
const (
	RPCGSSSvcNone      uint32 = 1
	RPCGSSSvcIntegrity uint32 = 2
	RPCGSSSvcPrivacy   uint32 = 3
)

// MAXSEQ is the largest sequence number a context may use (RFC 2203
// Section 5.3.3.1). A context that reaches it must be re-established.
const MAXSEQ uint32 = 0x80000000

// GSS major status codes (RFC 2743 Section 1.2.1.1).
const (
	GSSComplete       uint32 = 0
	GSSContinueNeeded uint32 = 1
)

// KRB5OID is the Kerberos V5 mechanism OID, 1.2.840.113554.1.2.2.
var KRB5OID = asn1.ObjectIdentifier{1, 2, 840, 113554, 1, 2, 2}

// Pseudo-flavors used by NFSv4 for RPCSEC_GSS/krb5 triples.
const (
	PseudoFlavorKrb5  uint32 = 390003
	PseudoFlavorKrb5i uint32 = 390004
	PseudoFlavorKrb5p uint32 = 390005
)

// RFC 4121 key usages for MIC tokens.
const (
	KeyUsageAcceptorSign  uint32 = 23
	KeyUsageInitiatorSign uint32 = 25
)

// ServiceName returns the short name of a service level.
func ServiceName(svc uint32) string {
	switch svc {
	case RPCGSSSvcNone:
		return "none"
	case RPCGSSSvcIntegrity:
		return "integrity"
	case RPCGSSSvcPrivacy:
		return "privacy"
	default:
		return fmt.Sprintf("service_%d", svc)
	}
}

// ParseService maps a configured protection name to a service level.
func ParseService(name string) (uint32, error) {
	switch name {
	case "", "none", "krb5":
		return RPCGSSSvcNone, nil
	case "integrity", "krb5i":
		return RPCGSSSvcIntegrity, nil
	default:
		return 0, fmt.Errorf("unsupported RPCSEC_GSS service %q", name)
	}
}

// ============================================================================
// rpc_gss_cred_t
// ============================================================================

// CredV1 is the rpc_gss_cred_vers_1_t credential body (RFC 2203 Section
// 5), preceded on the wire by the version number.
type CredV1 struct {
	Version uint32
	GSSProc uint32
	SeqNum  uint32
	Service uint32
	Handle  []byte
}

// EncodeCred encodes a credential body. The version is always 1.
func EncodeCred(cred *CredV1) ([]byte, error) {
	c := *cred
	c.Version = RPCGSSVers1
	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, &c); err != nil {
		return nil, fmt.Errorf("marshal rpc_gss_cred: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeCred decodes a credential body.
func DecodeCred(body []byte) (*CredV1, error) {
	var c CredV1
	if _, err := xdr.Unmarshal(bytes.NewReader(body), &c); err != nil {
		return nil, fmt.Errorf("unmarshal rpc_gss_cred: %w", err)
	}
	if c.Version != RPCGSSVers1 {
		return nil, fmt.Errorf("unsupported RPCSEC_GSS version %d", c.Version)
	}
	return &c, nil
}

// ============================================================================
// rpc_gss_init_res
// ============================================================================

// InitRes is the result of an INIT or CONTINUE_INIT call (RFC 2203
// Section 5.2.3.1).
type InitRes struct {
	Handle    []byte
	GSSMajor  uint32
	GSSMinor  uint32
	SeqWindow uint32
	Token     []byte
}

// EncodeInitRes encodes an init result.
func EncodeInitRes(res *InitRes) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, res); err != nil {
		return nil, fmt.Errorf("marshal rpc_gss_init_res: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeInitRes decodes an init result.
func DecodeInitRes(body []byte) (*InitRes, error) {
	var res InitRes
	if _, err := xdr.Unmarshal(bytes.NewReader(body), &res); err != nil {
		return nil, fmt.Errorf("unmarshal rpc_gss_init_res: %w", err)
	}
	return &res, nil
}
