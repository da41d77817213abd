package gss

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/jcmturner/gokrb5/v8/gssapi"
	"github.com/jcmturner/gokrb5/v8/types"
)

// ErrBadMIC is returned when a MIC token does not verify.
var ErrBadMIC = errors.New("gss: MIC verification failed")

// initiatorMIC computes an initiator MIC token over payload.
func initiatorMIC(key types.EncryptionKey, seq uint32, payload []byte) ([]byte, error) {
	tok := gssapi.MICToken{
		SndSeqNum: uint64(seq),
		Payload:   payload,
	}
	if err := tok.SetChecksum(key, KeyUsageInitiatorSign); err != nil {
		return nil, fmt.Errorf("compute MIC: %w", err)
	}
	b, err := tok.Marshal()
	if err != nil {
		return nil, fmt.Errorf("marshal MIC token: %w", err)
	}
	return b, nil
}

// verifyAcceptorMIC checks a MIC token produced by the acceptor over
// payload.
func verifyAcceptorMIC(key types.EncryptionKey, mic, payload []byte) error {
	var tok gssapi.MICToken
	if err := tok.Unmarshal(mic, true); err != nil {
		return fmt.Errorf("unmarshal MIC token: %w", err)
	}
	tok.Payload = payload
	ok, err := tok.Verify(key, KeyUsageAcceptorSign)
	if err != nil {
		return fmt.Errorf("verify MIC: %w", err)
	}
	if !ok {
		return ErrBadMIC
	}
	return nil
}

func xdrUint32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

// ComputeCallVerifier computes the verifier of a DATA or DESTROY call: a
// MIC over the call header from the xid through the credential (RFC 2203
// Section 5.3.1).
func ComputeCallVerifier(key types.EncryptionKey, seq uint32, header []byte) ([]byte, error) {
	return initiatorMIC(key, seq, header)
}

// VerifyReplyVerifier checks the verifier of a DATA reply, a MIC over the
// XDR-encoded sequence number of the call (RFC 2203 Section 5.3.3.2).
func VerifyReplyVerifier(key types.EncryptionKey, seq uint32, mic []byte) error {
	return verifyAcceptorMIC(key, mic, xdrUint32(seq))
}

// VerifyInitVerifier checks the verifier of a successful INIT reply, a MIC
// over the XDR-encoded sequence window.
func VerifyInitVerifier(key types.EncryptionKey, window uint32, mic []byte) error {
	return verifyAcceptorMIC(key, mic, xdrUint32(window))
}
