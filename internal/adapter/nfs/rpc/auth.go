package rpc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	xdr "github.com/rasky/go-xdr/xdr2"
)

// AuthToken is per-call state handed back to an Auth when its reply is
// validated. RPCSEC_GSS uses it for the call's sequence number.
type AuthToken uint32

// Auth produces credentials and verifiers for outgoing calls and checks
// the verifiers of replies.
type Auth interface {
	// Flavor returns the RPC auth flavor.
	Flavor() uint32

	// Credential returns the credential for the next call.
	Credential() (OpaqueAuth, AuthToken, error)

	// Verifier computes the call verifier over header, which holds the
	// encoded call up to and including the credential.
	Verifier(header []byte, tok AuthToken) (OpaqueAuth, error)

	// Validate checks a reply verifier.
	Validate(verf OpaqueAuth, tok AuthToken) error

	// Refresh re-establishes the credential after an AUTH_ERROR.
	Refresh(ctx context.Context) error

	// Destroy releases the handle. Calls after Destroy fail.
	Destroy()
}

// BodyProtector is implemented by an Auth whose security service protects
// the call arguments and reply results (RPCSEC_GSS integrity).
type BodyProtector interface {
	WrapArgs(tok AuthToken, args []byte) ([]byte, error)
	UnwrapResults(tok AuthToken, results []byte) ([]byte, error)
}

var (
	// ErrAuthDestroyed is returned by a handle used after Destroy.
	ErrAuthDestroyed = errors.New("auth handle destroyed")

	// ErrRefreshUnsupported is returned by flavors with nothing to refresh.
	ErrRefreshUnsupported = errors.New("auth flavor cannot be refreshed")
)

// ============================================================================
// AUTH_NONE
// ============================================================================

type noneAuth struct{}

// NewNoneAuth returns an AUTH_NONE handle.
func NewNoneAuth() Auth { return noneAuth{} }

func (noneAuth) Flavor() uint32                                 { return AuthNull }
func (noneAuth) Credential() (OpaqueAuth, AuthToken, error)     { return NullAuth, 0, nil }
func (noneAuth) Verifier([]byte, AuthToken) (OpaqueAuth, error) { return NullAuth, nil }
func (noneAuth) Validate(OpaqueAuth, AuthToken) error           { return nil }
func (noneAuth) Refresh(context.Context) error                  { return ErrRefreshUnsupported }
func (noneAuth) Destroy()                                       {}

// ============================================================================
// AUTH_SYS
// ============================================================================

// Limits from RFC 5531 Appendix A.
const (
	maxMachineNameLen = 255
	maxAuthSysGIDs    = 16
)

// UnixAuth is the authsys_parms body of an AUTH_SYS credential.
type UnixAuth struct {
	Stamp       uint32
	MachineName string
	UID         uint32
	GID         uint32
	GIDs        []uint32
}

func (u *UnixAuth) String() string {
	return fmt.Sprintf("AUTH_SYS{machine=%q uid=%d gid=%d gids=%v}", u.MachineName, u.UID, u.GID, u.GIDs)
}

// Marshal encodes the parameters in XDR.
func (u *UnixAuth) Marshal() ([]byte, error) {
	if len(u.MachineName) > maxMachineNameLen {
		return nil, fmt.Errorf("machine name length %d exceeds %d", len(u.MachineName), maxMachineNameLen)
	}
	if len(u.GIDs) > maxAuthSysGIDs {
		return nil, fmt.Errorf("%d supplementary gids exceeds %d", len(u.GIDs), maxAuthSysGIDs)
	}
	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, u); err != nil {
		return nil, fmt.Errorf("marshal authsys_parms: %w", err)
	}
	return buf.Bytes(), nil
}

// ParseUnixAuth decodes an authsys_parms body.
func ParseUnixAuth(body []byte) (*UnixAuth, error) {
	var u UnixAuth
	if _, err := xdr.Unmarshal(bytes.NewReader(body), &u); err != nil {
		return nil, fmt.Errorf("unmarshal authsys_parms: %w", err)
	}
	if len(u.MachineName) > maxMachineNameLen {
		return nil, fmt.Errorf("machine name length %d exceeds %d", len(u.MachineName), maxMachineNameLen)
	}
	if len(u.GIDs) > maxAuthSysGIDs {
		return nil, fmt.Errorf("%d supplementary gids exceeds %d", len(u.GIDs), maxAuthSysGIDs)
	}
	return &u, nil
}

// SysAuth is an AUTH_SYS handle.
type SysAuth struct {
	mu        sync.Mutex
	parms     UnixAuth
	body      []byte
	destroyed bool
}

// NewSysAuth builds an AUTH_SYS handle. A zero Stamp is replaced by the
// current time.
func NewSysAuth(parms UnixAuth) (*SysAuth, error) {
	if parms.Stamp == 0 {
		parms.Stamp = uint32(time.Now().Unix())
	}
	parms.GIDs = append([]uint32(nil), parms.GIDs...)
	body, err := parms.Marshal()
	if err != nil {
		return nil, err
	}
	return &SysAuth{parms: parms, body: body}, nil
}

// Parms returns a copy of the credential parameters.
func (a *SysAuth) Parms() UnixAuth {
	a.mu.Lock()
	defer a.mu.Unlock()
	p := a.parms
	p.GIDs = append([]uint32(nil), a.parms.GIDs...)
	return p
}

func (a *SysAuth) Flavor() uint32 { return AuthSys }

func (a *SysAuth) Credential() (OpaqueAuth, AuthToken, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.destroyed {
		return OpaqueAuth{}, 0, ErrAuthDestroyed
	}
	return OpaqueAuth{Flavor: AuthSys, Body: a.body}, 0, nil
}

func (a *SysAuth) Verifier([]byte, AuthToken) (OpaqueAuth, error) {
	return NullAuth, nil
}

// Validate accepts AUTH_NONE and AUTH_SHORT reply verifiers. Shorthand
// credentials are never used, so an AUTH_SHORT body is ignored.
func (a *SysAuth) Validate(verf OpaqueAuth, _ AuthToken) error {
	switch verf.Flavor {
	case AuthNull, AuthShort:
		return nil
	default:
		return fmt.Errorf("unexpected %s reply verifier for AUTH_SYS", FlavorName(verf.Flavor))
	}
}

// Refresh re-stamps the credential.
func (a *SysAuth) Refresh(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.destroyed {
		return ErrAuthDestroyed
	}
	stamp := uint32(time.Now().Unix())
	if stamp == a.parms.Stamp {
		stamp++
	}
	a.parms.Stamp = stamp
	body, err := a.parms.Marshal()
	if err != nil {
		return err
	}
	a.body = body
	return nil
}

func (a *SysAuth) Destroy() {
	a.mu.Lock()
	a.destroyed = true
	a.body = nil
	a.mu.Unlock()
}
