package gss

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jcmturner/gokrb5/v8/types"
	"github.com/marmos91/nfscallback/internal/adapter/nfs/rpc"
	"github.com/marmos91/nfscallback/internal/logger"
	"github.com/marmos91/nfscallback/internal/protocol/xdr"
)

// ErrContinueNeeded is returned when the acceptor asks for another
// context token. Single round-trip mechanisms never need one.
var ErrContinueNeeded = errors.New("gss: acceptor requested CONTINUE_INIT")

// nullProc is the procedure RPCSEC_GSS control calls are sent to.
const nullProc uint32 = 0

// Auth is an RPCSEC_GSS handle bound to one rpc.Client. It implements
// rpc.Auth and, for the integrity service, rpc.BodyProtector.
//
// Refresh runs a fresh INIT exchange over the same client and therefore
// must not be called from the client's reply path.
//
// Thread Safety: All methods are safe for concurrent use.
type Auth struct {
	clnt    *rpc.Client
	src     TokenSource
	target  string
	service uint32
	timeout time.Duration

	mu        sync.RWMutex
	handle    []byte
	key       types.EncryptionKey
	window    uint32
	destroyed bool

	seq SeqCounter
}

// Establish creates a context with the callback service behind clnt.
// target is the client's callback principal; service is RPCGSSSvcNone or
// RPCGSSSvcIntegrity.
func Establish(ctx context.Context, clnt *rpc.Client, src TokenSource, target string, service uint32, timeout time.Duration) (*Auth, error) {
	switch service {
	case RPCGSSSvcNone, RPCGSSSvcIntegrity:
	default:
		return nil, fmt.Errorf("unsupported RPCSEC_GSS service %s", ServiceName(service))
	}

	a := &Auth{
		clnt:    clnt,
		src:     src,
		target:  target,
		service: service,
		timeout: timeout,
	}
	if err := a.establish(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Auth) establish(ctx context.Context) error {
	token, key, err := a.src.InitSecContext(ctx, a.target)
	if err != nil {
		return fmt.Errorf("init sec context for %s: %w", a.target, err)
	}

	args := new(bytes.Buffer)
	if err := xdr.WriteXDROpaque(args, token); err != nil {
		return fmt.Errorf("encode init token: %w", err)
	}

	reply, err := a.clnt.Call(ctx, nullProc, &initAuth{service: a.service}, args.Bytes(), a.timeout)
	if err != nil {
		return fmt.Errorf("RPCSEC_GSS INIT: %w", err)
	}

	res, err := DecodeInitRes(reply.Results)
	if err != nil {
		return &rpc.CallError{Stat: rpc.StatCantDecodeRes, Err: err}
	}
	switch res.GSSMajor {
	case GSSComplete:
	case GSSContinueNeeded:
		return ErrContinueNeeded
	default:
		return &rpc.CallError{
			Stat: rpc.StatAuthError,
			Auth: rpc.RPCSECGSSCredProblem,
			Err:  fmt.Errorf("gss major %d minor %d", res.GSSMajor, res.GSSMinor),
		}
	}
	if len(res.Handle) == 0 {
		return &rpc.CallError{Stat: rpc.StatCantDecodeRes, Err: errors.New("empty context handle")}
	}

	if reply.Verf.Flavor != rpc.AuthRPCSECGSS {
		return &rpc.CallError{Stat: rpc.StatAuthError, Auth: rpc.AuthInvalidResp,
			Err: fmt.Errorf("INIT reply verifier flavor %s", rpc.FlavorName(reply.Verf.Flavor))}
	}
	if err := VerifyInitVerifier(key, res.SeqWindow, reply.Verf.Body); err != nil {
		return &rpc.CallError{Stat: rpc.StatAuthError, Auth: rpc.AuthInvalidResp, Err: err}
	}

	a.mu.Lock()
	a.handle = res.Handle
	a.key = key
	a.window = res.SeqWindow
	a.destroyed = false
	a.mu.Unlock()
	a.seq.Reset()

	logger.Debug("RPCSEC_GSS context established",
		"target", a.target,
		"service", ServiceName(a.service),
		"mech", KRB5OID.String(),
		"seq_window", res.SeqWindow,
	)
	return nil
}

// Service returns the negotiated service level.
func (a *Auth) Service() uint32 { return a.service }

// SeqWindow returns the acceptor's sequence window.
func (a *Auth) SeqWindow() uint32 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.window
}

func (a *Auth) Flavor() uint32 { return rpc.AuthRPCSECGSS }

func (a *Auth) Credential() (rpc.OpaqueAuth, rpc.AuthToken, error) {
	return a.credential(RPCGSSData)
}

func (a *Auth) credential(proc uint32) (rpc.OpaqueAuth, rpc.AuthToken, error) {
	a.mu.RLock()
	handle, destroyed := a.handle, a.destroyed
	a.mu.RUnlock()
	if destroyed {
		return rpc.OpaqueAuth{}, 0, rpc.ErrAuthDestroyed
	}

	seq, err := a.seq.Next()
	if err != nil {
		return rpc.OpaqueAuth{}, 0, err
	}
	body, err := EncodeCred(&CredV1{GSSProc: proc, SeqNum: seq, Service: a.service, Handle: handle})
	if err != nil {
		return rpc.OpaqueAuth{}, 0, err
	}
	return rpc.OpaqueAuth{Flavor: rpc.AuthRPCSECGSS, Body: body}, rpc.AuthToken(seq), nil
}

func (a *Auth) sessionKey() types.EncryptionKey {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.key
}

func (a *Auth) Verifier(header []byte, tok rpc.AuthToken) (rpc.OpaqueAuth, error) {
	mic, err := ComputeCallVerifier(a.sessionKey(), uint32(tok), header)
	if err != nil {
		return rpc.OpaqueAuth{}, err
	}
	return rpc.OpaqueAuth{Flavor: rpc.AuthRPCSECGSS, Body: mic}, nil
}

func (a *Auth) Validate(verf rpc.OpaqueAuth, tok rpc.AuthToken) error {
	if verf.Flavor != rpc.AuthRPCSECGSS {
		return fmt.Errorf("unexpected %s reply verifier for RPCSEC_GSS", rpc.FlavorName(verf.Flavor))
	}
	return VerifyReplyVerifier(a.sessionKey(), uint32(tok), verf.Body)
}

// WrapArgs applies the integrity service to call arguments.
func (a *Auth) WrapArgs(tok rpc.AuthToken, args []byte) ([]byte, error) {
	if a.service != RPCGSSSvcIntegrity {
		return args, nil
	}
	return WrapIntegrity(a.sessionKey(), uint32(tok), args)
}

// UnwrapResults verifies and strips the integrity service from results.
func (a *Auth) UnwrapResults(tok rpc.AuthToken, results []byte) ([]byte, error) {
	if a.service != RPCGSSSvcIntegrity {
		return results, nil
	}
	return UnwrapIntegrity(a.sessionKey(), uint32(tok), results)
}

// Refresh discards the context and establishes a new one.
func (a *Auth) Refresh(ctx context.Context) error {
	a.mu.RLock()
	destroyed := a.destroyed
	a.mu.RUnlock()
	if destroyed {
		return rpc.ErrAuthDestroyed
	}
	return a.establish(ctx)
}

// Destroy sends RPCSEC_GSS_DESTROY without waiting for the reply and
// invalidates the handle.
func (a *Auth) Destroy() {
	a.mu.Lock()
	if a.destroyed {
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()

	if !a.clnt.Closed() {
		_, err := a.clnt.Go(nullProc, destroyAuth{a}, nil, a.timeout, func(*rpc.Reply, error) {})
		if err != nil {
			logger.Debug("RPCSEC_GSS DESTROY not sent", "target", a.target, logger.KeyError, err)
		}
	}

	a.mu.Lock()
	a.destroyed = true
	a.handle = nil
	a.key = types.EncryptionKey{}
	a.mu.Unlock()
}

// ============================================================================
// Control-call credentials
// ============================================================================

// initAuth carries the INIT credential. The reply verifier is checked by
// establish once the sequence window is known.
type initAuth struct {
	service uint32
}

func (i *initAuth) Flavor() uint32 { return rpc.AuthRPCSECGSS }

func (i *initAuth) Credential() (rpc.OpaqueAuth, rpc.AuthToken, error) {
	body, err := EncodeCred(&CredV1{GSSProc: RPCGSSInit, Service: i.service})
	if err != nil {
		return rpc.OpaqueAuth{}, 0, err
	}
	return rpc.OpaqueAuth{Flavor: rpc.AuthRPCSECGSS, Body: body}, 0, nil
}

func (i *initAuth) Verifier([]byte, rpc.AuthToken) (rpc.OpaqueAuth, error) {
	return rpc.NullAuth, nil
}

func (i *initAuth) Validate(rpc.OpaqueAuth, rpc.AuthToken) error { return nil }
func (i *initAuth) Refresh(context.Context) error                { return rpc.ErrRefreshUnsupported }
func (i *initAuth) Destroy()                                     {}

// destroyAuth carries the DESTROY credential. Control calls are never
// body-protected.
type destroyAuth struct {
	a *Auth
}

func (d destroyAuth) Flavor() uint32 { return rpc.AuthRPCSECGSS }

func (d destroyAuth) Credential() (rpc.OpaqueAuth, rpc.AuthToken, error) {
	return d.a.credential(RPCGSSDestroy)
}

func (d destroyAuth) Verifier(header []byte, tok rpc.AuthToken) (rpc.OpaqueAuth, error) {
	return d.a.Verifier(header, tok)
}

func (d destroyAuth) Validate(rpc.OpaqueAuth, rpc.AuthToken) error { return nil }
func (d destroyAuth) Refresh(context.Context) error                { return rpc.ErrRefreshUnsupported }
func (d destroyAuth) Destroy()                                     {}
