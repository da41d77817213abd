package gss

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/jcmturner/gokrb5/v8/types"
	"github.com/marmos91/nfscallback/internal/protocol/xdr"
)

// maxIntegBody bounds each opaque of an rpc_gss_integ_data reply.
const maxIntegBody = 1 << 20

// WrapIntegrity wraps call arguments as rpc_gss_integ_data (RFC 2203
// Section 5.3.2.2):
//
//	struct rpc_gss_integ_data {
//	    opaque databody_integ<>;   /* XDR(seq_num) + args */
//	    opaque checksum<>;         /* initiator MIC over databody_integ */
//	};
func WrapIntegrity(key types.EncryptionKey, seq uint32, args []byte) ([]byte, error) {
	body := make([]byte, 4+len(args))
	binary.BigEndian.PutUint32(body[0:4], seq)
	copy(body[4:], args)

	mic, err := initiatorMIC(key, seq, body)
	if err != nil {
		return nil, fmt.Errorf("integrity MIC: %w", err)
	}

	var buf bytes.Buffer
	if err := xdr.WriteXDROpaque(&buf, body); err != nil {
		return nil, fmt.Errorf("encode databody_integ: %w", err)
	}
	if err := xdr.WriteXDROpaque(&buf, mic); err != nil {
		return nil, fmt.Errorf("encode checksum: %w", err)
	}
	return buf.Bytes(), nil
}

// UnwrapIntegrity verifies an rpc_gss_integ_data reply body and returns
// the procedure results. The embedded sequence number must match seq.
func UnwrapIntegrity(key types.EncryptionKey, seq uint32, data []byte) ([]byte, error) {
	r := bytes.NewReader(data)

	body, err := xdr.DecodeOpaqueMax(r, maxIntegBody)
	if err != nil {
		return nil, fmt.Errorf("decode databody_integ: %w", err)
	}
	mic, err := xdr.DecodeOpaqueMax(r, maxIntegBody)
	if err != nil {
		return nil, fmt.Errorf("decode checksum: %w", err)
	}

	if err := verifyAcceptorMIC(key, mic, body); err != nil {
		return nil, err
	}

	if len(body) < 4 {
		return nil, fmt.Errorf("databody_integ too short for seq_num: %d bytes", len(body))
	}
	if got := binary.BigEndian.Uint32(body[0:4]); got != seq {
		return nil, fmt.Errorf("seq_num mismatch: call=%d, reply=%d", seq, got)
	}
	return body[4:], nil
}
