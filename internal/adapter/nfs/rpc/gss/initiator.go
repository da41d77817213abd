package gss

import (
	"context"
	"fmt"

	"github.com/jcmturner/gokrb5/v8/gssapi"
	"github.com/jcmturner/gokrb5/v8/spnego"
	"github.com/jcmturner/gokrb5/v8/types"
	"github.com/marmos91/nfscallback/pkg/auth/kerberos"
)

// TokenSource produces the initial context token for a callback target
// and the session key the context will use.
type TokenSource interface {
	InitSecContext(ctx context.Context, target string) (token []byte, key types.EncryptionKey, err error)
}

// Krb5TokenSource builds krb5 initial context tokens (RFC 1964 Section
// 1.1 framing around an AP-REQ) from the machine credential.
type Krb5TokenSource struct {
	provider *kerberos.Provider
}

// NewKrb5TokenSource returns a token source backed by provider.
func NewKrb5TokenSource(provider *kerberos.Provider) *Krb5TokenSource {
	return &Krb5TokenSource{provider: provider}
}

// InitSecContext obtains a service ticket for target and wraps an AP-REQ
// for it. Mutual authentication is not requested, so the ticket session
// key is the context key.
func (s *Krb5TokenSource) InitSecContext(ctx context.Context, target string) ([]byte, types.EncryptionKey, error) {
	if err := ctx.Err(); err != nil {
		return nil, types.EncryptionKey{}, err
	}

	spn := s.provider.CallbackSPN(target)
	tkt, key, err := s.provider.ServiceTicket(spn)
	if err != nil {
		return nil, types.EncryptionKey{}, err
	}
	cl, err := s.provider.Client()
	if err != nil {
		return nil, types.EncryptionKey{}, err
	}

	krb5Tok, err := spnego.NewKRB5TokenAPREQ(cl, tkt, key,
		[]int{gssapi.ContextFlagInteg, gssapi.ContextFlagConf}, []int{})
	if err != nil {
		return nil, types.EncryptionKey{}, fmt.Errorf("build AP-REQ for %s: %w", spn, err)
	}
	tok, err := krb5Tok.Marshal()
	if err != nil {
		return nil, types.EncryptionKey{}, fmt.Errorf("marshal krb5 token: %w", err)
	}
	return tok, key, nil
}
