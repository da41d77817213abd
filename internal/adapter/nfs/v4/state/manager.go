// Package state implements the server side of the NFSv4 callback path:
// the per-client (v4.0) and per-session (v4.1) callback channels, the
// back-channel slot allocator and session selector, the CB_COMPOUND
// dispatcher, and the CB_NULL health probe.
//
// The Manager owns a table of confirmed clients. NFS request handlers
// register clients and sessions as SETCLIENTID, EXCHANGE_ID and
// CREATE_SESSION complete, then call Dispatch to deliver callback
// operations and Probe to test a client's callback path.
package state

import (
	"context"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/marmos91/nfscallback/internal/adapter/nfs/rpc"
	"github.com/marmos91/nfscallback/internal/adapter/nfs/rpc/gss"
	"github.com/marmos91/nfscallback/internal/adapter/nfs/v4/types"
	"github.com/marmos91/nfscallback/internal/logger"
	"github.com/marmos91/nfscallback/internal/telemetry"
	"github.com/marmos91/nfscallback/pkg/config"
)

// Options configures a Manager.
type Options struct {
	// Callback holds timeouts and limits. Zero fields take defaults.
	Callback config.CallbackConfig

	// TokenSource enables RPCSEC_GSS on v4.0 channels. Nil leaves
	// RPCSEC_GSS unsupported.
	TokenSource gss.TokenSource

	// GSSService is the RPCSEC_GSS service used for new contexts.
	GSSService uint32

	// Metrics may be nil.
	Metrics *Metrics
}

// Manager is the callback subsystem.
//
// Thread Safety: all methods are safe for concurrent use.
type Manager struct {
	cfg     config.CallbackConfig
	tokens  gss.TokenSource
	gssSvc  uint32
	metrics *Metrics
	clients *ClientTable

	dial func(ctx context.Context, addr CallbackAddr) (rpc.Transport, error)
}

// NewManager creates a Manager with an empty client table.
func NewManager(opts Options) *Manager {
	cfg := opts.Callback
	config.ApplyCallbackDefaults(&cfg)

	svc := opts.GSSService
	if svc == 0 {
		svc = gss.RPCGSSSvcNone
	}

	m := &Manager{
		cfg:     cfg,
		tokens:  opts.TokenSource,
		gssSvc:  svc,
		metrics: opts.Metrics,
		clients: NewClientTable(),
	}
	m.dial = m.dialCallback
	return m
}

// Clients returns the client table.
func (m *Manager) Clients() *ClientTable { return m.clients }

// Config returns the effective callback configuration.
func (m *Manager) Config() config.CallbackConfig { return m.cfg }

// ============================================================================
// Client lifecycle
// ============================================================================

// RegisterClient adds a confirmed client. For v4.0 the callback address
// is parsed here; an unknown netid or malformed address fails with EINVAL.
func (m *Manager) RegisterClient(info ClientInfo) (*Client, error) {
	c, err := newClient(info, m.metrics)
	if err != nil {
		return nil, err
	}
	if err := m.clients.add(c); err != nil {
		return nil, err
	}

	if c.minor == 0 {
		logger.Info("Callback client registered",
			logger.ClientID(c.id), logger.NetID(c.addr.NetID.Name), logger.Addr(c.addr.Addr.String()),
			logger.KeyFlavor, rpc.FlavorName(c.security.Flavor))
	} else {
		logger.Info("Callback client registered", logger.ClientID(c.id), logger.KeyMinorVer, c.minor)
	}
	return c, nil
}

// SetCallback replaces a v4.0 client's callback location, as a fresh
// SETCLIENTID does. The old channel is destroyed and the down flag is
// cleared so the next callback dials the new address.
func (m *Manager) SetCallback(clientID uint64, netid, uaddr string, program, ident uint32) error {
	c, err := m.clients.Get(clientID)
	if err != nil {
		return err
	}
	defer c.Put()

	if c.minor != 0 {
		return withErrno(unix.EINVAL, ErrWrongMinorVersion)
	}
	addr, err := ParseCallbackAddr(netid, uaddr)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.addr = addr
	c.program = programOrDefault(program)
	c.ident = ident
	c.mu.Unlock()

	c.channel.Destroy()
	c.setCallbackDown(false)

	logger.Info("Callback address updated", logger.ClientID(clientID), logger.NetID(netid), logger.Addr(addr.Addr.String()))
	return nil
}

// DestroyClient removes a client and destroys every channel it owns.
// Calls in flight complete as aborted.
func (m *Manager) DestroyClient(clientID uint64) error {
	c, ok := m.clients.remove(clientID)
	if !ok {
		return withErrno(unix.ENOENT, fmt.Errorf("%w: %016x", ErrClientNotFound, clientID))
	}

	c.mu.Lock()
	c.removed = true
	sessions := c.sessions
	c.sessions = nil
	c.mu.Unlock()

	for _, s := range sessions {
		s.destroy()
		s.Put()
	}
	if c.channel != nil {
		c.channel.Destroy()
	}
	c.Put()

	logger.Info("Callback client destroyed", logger.ClientID(clientID), "sessions", len(sessions))
	return nil
}

// ============================================================================
// Session lifecycle (v4.1)
// ============================================================================

// CreateSession records a session's back-channel attributes. The slot
// table has attrs.MaxRequests slots, clamped to [1, MaxBackchannelSlots].
// The back channel itself is bound later with CreateBackchannel.
func (m *Manager) CreateSession(clientID uint64, id types.SessionId4, attrs types.ChannelAttrs, program uint32, secParms []types.CallbackSecParms4) (*Session, error) {
	c, err := m.clients.Get(clientID)
	if err != nil {
		return nil, err
	}
	defer c.Put()

	if c.minor == 0 {
		return nil, withErrno(unix.EINVAL, ErrWrongMinorVersion)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.removed {
		return nil, withErrno(unix.ENOENT, fmt.Errorf("%w: %016x", ErrClientNotFound, clientID))
	}
	if _, dup := c.findSessionLocked(id); dup != nil {
		return nil, withErrno(unix.EEXIST, fmt.Errorf("%w: %s", ErrSessionExists, id))
	}

	s := newSession(c, id, attrs, program, secParms, m.metrics)
	c.sessions = append(c.sessions, s)

	logger.Debug("Callback session created", logger.ClientID(clientID), logger.SessionID(id[:]), "slots", len(s.slots))
	return s, nil
}

// LookupSession returns a session with a reference taken.
func (m *Manager) LookupSession(clientID uint64, id types.SessionId4) (*Session, error) {
	c, err := m.clients.Get(clientID)
	if err != nil {
		return nil, err
	}
	defer c.Put()

	c.mu.Lock()
	defer c.mu.Unlock()
	_, s := c.findSessionLocked(id)
	if s == nil {
		return nil, withErrno(unix.ENOENT, fmt.Errorf("%w: %s", ErrSessionNotFound, id))
	}
	s.Get()
	return s, nil
}

// DestroySession removes a session, destroys its back channel and wakes
// any dispatcher waiting for one of its slots.
func (m *Manager) DestroySession(clientID uint64, id types.SessionId4) error {
	c, err := m.clients.Get(clientID)
	if err != nil {
		return err
	}
	defer c.Put()

	c.mu.Lock()
	i, s := c.findSessionLocked(id)
	if s != nil {
		c.sessions = append(c.sessions[:i], c.sessions[i+1:]...)
	}
	c.mu.Unlock()

	if s == nil {
		return withErrno(unix.ENOENT, fmt.Errorf("%w: %s", ErrSessionNotFound, id))
	}
	s.destroy()
	s.Put()

	logger.Debug("Callback session destroyed", logger.ClientID(clientID), logger.SessionID(id[:]))
	return nil
}

// ============================================================================
// Channel creation
// ============================================================================

// CreateBackchannel binds a v4.1 back channel over tr, a transport on a
// connection the client opened, using the first offered security
// parameter the server can honor. It fails with EEXIST if the session
// already has a live back channel, EINVAL for RDMA, and EPERM if no
// offered parameter can be honored. On success the session's back
// channel is marked up.
func (m *Manager) CreateBackchannel(s *Session, tr rpc.Transport, secParms []types.CallbackSecParms4) error {
	ch := s.channel

	ch.mu.Lock()
	if ch.liveLocked() {
		ch.mu.Unlock()
		return withErrno(unix.EEXIST, ErrChannelExists)
	}
	staleClnt, staleAuth := ch.detachLocked()
	ch.mu.Unlock()
	ch.release(staleClnt, staleAuth)

	if n, ok := LookupNetID(tr.NetID()); ok && n.IsRDMA() {
		return withErrno(unix.EINVAL, ErrRDMAUnsupported)
	}

	auth, err := m.backchannelAuth(s, secParms)
	if err != nil {
		return err
	}
	clnt := rpc.NewClient(tr, s.program, types.NFS_CB_VERSION)

	ch.mu.Lock()
	if ch.clnt != nil {
		ch.mu.Unlock()
		auth.Destroy()
		_ = clnt.Close()
		return withErrno(unix.EEXIST, ErrChannelExists)
	}
	ch.bindLocked(clnt, auth)
	ch.mu.Unlock()

	s.setSecParms(secParms)
	s.setBackchannelUp()

	logger.Info("Back channel created",
		logger.ClientID(s.client.id), logger.SessionID(s.id[:]),
		logger.NetID(tr.NetID()), logger.KeyFlavor, rpc.FlavorName(auth.Flavor()))
	return nil
}

// BindBackchannel moves a session's back channel onto a new connection
// after BIND_CONN_TO_SESSION, reusing the security parameters the session
// was created with, and marks the back channel up again.
func (m *Manager) BindBackchannel(s *Session, tr rpc.Transport) error {
	s.channel.Destroy()
	return m.CreateBackchannel(s, tr, s.secParmsSnapshot())
}

// backchannelAuth returns an auth handle for the first honorable entry
// of secParms. RPCSEC_GSS entries are skipped: the server cannot use a
// client-supplied handle pair without its own context.
func (m *Manager) backchannelAuth(s *Session, secParms []types.CallbackSecParms4) (rpc.Auth, error) {
	for i := range secParms {
		p := &secParms[i]
		switch p.Flavor {
		case types.AUTH_NONE:
			return rpc.NewNoneAuth(), nil

		case types.AUTH_SYS:
			parms := rpc.UnixAuth{MachineName: m.cfg.MachineName}
			if p.Sys != nil {
				parms = rpc.UnixAuth{
					Stamp:       p.Sys.Stamp,
					MachineName: p.Sys.MachineName,
					UID:         p.Sys.UID,
					GID:         p.Sys.GID,
					GIDs:        p.Sys.GIDs,
				}
			}
			auth, err := rpc.NewSysAuth(parms)
			if err != nil {
				logger.Debug("Skipping unusable AUTH_SYS back-channel parameters",
					logger.SessionID(s.id[:]), logger.Err(err))
				continue
			}
			return auth, nil

		default:
			logger.Debug("Skipping back-channel security flavor",
				logger.SessionID(s.id[:]), logger.KeyFlavor, rpc.FlavorName(p.Flavor))
		}
	}
	return nil, withErrno(unix.EPERM, ErrNoSecParms)
}

// channelV40 returns the client's v4.0 channel, creating it if it is
// absent or its client has failed.
func (m *Manager) channelV40(ctx context.Context, c *Client) (*Channel, error) {
	ch := c.channel

	ch.mu.Lock()
	if ch.liveLocked() {
		ch.mu.Unlock()
		return ch, nil
	}
	staleClnt, staleAuth := ch.detachLocked()
	ch.mu.Unlock()
	ch.release(staleClnt, staleAuth)

	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.liveLocked() {
		return ch, nil
	}
	if err := m.createV40Locked(ctx, c, ch); err != nil {
		return ch, err
	}
	return ch, nil
}

// createV40Locked dials the client's callback address and builds the
// auth handle for its flavor. Nothing is bound on failure.
func (m *Manager) createV40Locked(ctx context.Context, c *Client, ch *Channel) error {
	addr, prog, _, sec := c.callbackParams()

	ctx, span := telemetry.StartCallbackSpan(ctx, telemetry.SpanCBChannelCreate,
		telemetry.CBClientID(c.id), telemetry.CBNetID(addr.NetID.Name), telemetry.AuthMethod(rpc.FlavorName(sec.Flavor)))
	defer span.End()

	tr, err := m.dial(ctx, addr)
	if err != nil {
		err = withErrno(unix.ENOTCONN, fmt.Errorf("connect to callback %s: %w", addr, err))
		telemetry.RecordError(ctx, err)
		logger.Warn("Callback channel connect failed", logger.ClientID(c.id), logger.Addr(addr.String()), logger.Err(err))
		return err
	}

	clnt := rpc.NewClient(tr, prog, types.NFS_CB_VERSION)
	auth, err := m.authV40(ctx, clnt, addr, sec)
	if err != nil {
		_ = clnt.Close()
		telemetry.RecordError(ctx, err)
		logger.Warn("Callback channel auth setup failed", logger.ClientID(c.id), logger.Addr(addr.String()), logger.Err(err))
		return err
	}

	ch.bindLocked(clnt, auth)
	logger.Info("Callback channel created",
		logger.ClientID(c.id), logger.Addr(addr.String()), logger.KeyFlavor, rpc.FlavorName(auth.Flavor()))
	return nil
}

func (m *Manager) authV40(ctx context.Context, clnt *rpc.Client, addr CallbackAddr, sec CallbackSecurity) (rpc.Auth, error) {
	switch sec.Flavor {
	case rpc.AuthNull:
		return rpc.NewNoneAuth(), nil

	case rpc.AuthSys:
		parms := rpc.UnixAuth{MachineName: m.cfg.MachineName}
		if sec.Sys != nil {
			parms = *sec.Sys
		}
		auth, err := rpc.NewSysAuth(parms)
		if err != nil {
			return nil, withErrno(unix.EINVAL, err)
		}
		return auth, nil

	case rpc.AuthRPCSECGSS:
		if m.tokens == nil {
			return nil, withErrno(unix.EINVAL, fmt.Errorf("%w: RPCSEC_GSS is not configured", ErrUnsupportedFlavor))
		}
		target := sec.GSSTarget
		if target == "" {
			target = addr.Addr.Addr().String()
		}
		auth, err := gss.Establish(ctx, clnt, m.tokens, target, m.gssSvc, m.cfg.CallTimeout)
		if err != nil {
			return nil, withErrno(unix.ENOTCONN, fmt.Errorf("establish RPCSEC_GSS context with %s: %w", target, err))
		}
		return auth, nil

	default:
		return nil, withErrno(unix.EINVAL, fmt.Errorf("%w: %s", ErrUnsupportedFlavor, rpc.FlavorName(sec.Flavor)))
	}
}

// HandleReply routes a back-channel reply received on a v4.1 client's
// connection to the session channel that issued the call.
func (m *Manager) HandleReply(clientID uint64, msg []byte) bool {
	c, err := m.clients.Get(clientID)
	if err != nil {
		return false
	}
	defer c.Put()

	for _, s := range c.Sessions() {
		if s.HandleReply(msg) {
			return true
		}
	}
	return false
}
