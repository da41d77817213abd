package state

import (
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/marmos91/nfscallback/internal/adapter/nfs/rpc"
	"github.com/marmos91/nfscallback/internal/adapter/nfs/v4/types"
	"github.com/marmos91/nfscallback/internal/logger"
)

// ============================================================================
// Client records
// ============================================================================

// CallbackSecurity is the security a v4.0 client negotiated for its
// callback path.
type CallbackSecurity struct {
	Flavor uint32

	// Sys overrides the AUTH_SYS credential sent to the client. When nil
	// the server's machine name with uid/gid 0 is used.
	Sys *rpc.UnixAuth

	// GSSTarget is the client's callback principal (service@host). When
	// empty it is derived from the callback address.
	GSSTarget string
}

// ClientInfo is what SETCLIENTID (v4.0) or EXCHANGE_ID (v4.1) leaves
// behind for the callback path.
type ClientInfo struct {
	ClientID     uint64
	MinorVersion uint32

	// v4.0 callback location and program (cb_program, r_netid, r_addr).
	NetID         string
	UAddr         string
	Program       uint32
	CallbackIdent uint32
	Security      CallbackSecurity
}

// Client is a confirmed client as seen by the callback subsystem.
//
// Lock order: Client.mu before Session.mu.
type Client struct {
	id    uint64
	minor uint32
	refs  atomic.Int32

	// channel is the v4.0 callback channel; unused for v4.1.
	channel *Channel

	mu       sync.Mutex
	addr     CallbackAddr
	program  uint32
	ident    uint32
	security CallbackSecurity
	cbDown   bool
	removed  bool
	sessions []*Session
}

func newClient(info ClientInfo, metrics *Metrics) (*Client, error) {
	if info.MinorVersion > 1 {
		return nil, errnof(unix.EINVAL, "unsupported minor version %d", info.MinorVersion)
	}

	c := &Client{
		id:       info.ClientID,
		minor:    info.MinorVersion,
		program:  programOrDefault(info.Program),
		ident:    info.CallbackIdent,
		security: info.Security,
	}
	c.refs.Store(1)

	if info.MinorVersion == 0 {
		addr, err := ParseCallbackAddr(info.NetID, info.UAddr)
		if err != nil {
			return nil, err
		}
		c.addr = addr
		c.channel = newChannel(ChannelV40, metrics, func() { c.setCallbackDown(true) })
	}
	return c, nil
}

func programOrDefault(prog uint32) uint32 {
	if prog == 0 {
		return types.NFS4_CALLBACK
	}
	return prog
}

// ID returns the clientid.
func (c *Client) ID() uint64 { return c.id }

// MinorVersion returns the client's NFSv4 minor version.
func (c *Client) MinorVersion() uint32 { return c.minor }

// Channel returns the v4.0 callback channel, nil for v4.1 clients.
func (c *Client) Channel() *Channel { return c.channel }

// Get takes a reference.
func (c *Client) Get() { c.refs.Add(1) }

// Put drops a reference taken with Get or a table lookup.
func (c *Client) Put() {
	if n := c.refs.Add(-1); n < 0 {
		logger.Warn("Client reference count went negative", logger.ClientID(c.id), "refs", n)
	}
}

// Refs returns the current reference count.
func (c *Client) Refs() int32 { return c.refs.Load() }

// CallbackAddr returns the parsed v4.0 callback address.
func (c *Client) CallbackAddr() CallbackAddr {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addr
}

// CallbackDown reports whether the v4.0 callback path is known broken: a
// probe, a channel create or a call on the channel failed. Dispatch
// refuses such a client until a probe succeeds or SetCallback runs.
func (c *Client) CallbackDown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cbDown
}

func (c *Client) setCallbackDown(down bool) {
	c.mu.Lock()
	c.cbDown = down
	c.mu.Unlock()
}

// Sessions returns a snapshot of the client's sessions.
func (c *Client) Sessions() []*Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Session(nil), c.sessions...)
}

func (c *Client) callbackParams() (CallbackAddr, uint32, uint32, CallbackSecurity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addr, c.program, c.ident, c.security
}

func (c *Client) findSessionLocked(id types.SessionId4) (int, *Session) {
	for i, s := range c.sessions {
		if s.id == id {
			return i, s
		}
	}
	return -1, nil
}

func (c *Client) String() string {
	return fmt.Sprintf("client{%016x v4.%d}", c.id, c.minor)
}

// ============================================================================
// Client table
// ============================================================================

// ClientTable is the confirmed-client table. Lookups hand out a reference
// that the caller releases with Put.
type ClientTable struct {
	mu      sync.RWMutex
	clients map[uint64]*Client
}

// NewClientTable creates an empty table.
func NewClientTable() *ClientTable {
	return &ClientTable{clients: make(map[uint64]*Client)}
}

func (t *ClientTable) add(c *Client) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.clients[c.id]; ok {
		return withErrno(unix.EEXIST, fmt.Errorf("%w: %016x", ErrClientExists, c.id))
	}
	t.clients[c.id] = c
	return nil
}

// Get looks up a client and takes a reference.
func (t *ClientTable) Get(id uint64) (*Client, error) {
	t.mu.RLock()
	c, ok := t.clients[id]
	if ok {
		c.Get()
	}
	t.mu.RUnlock()
	if !ok {
		return nil, withErrno(unix.ENOENT, fmt.Errorf("%w: %016x", ErrClientNotFound, id))
	}
	return c, nil
}

func (t *ClientTable) remove(id uint64) (*Client, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.clients[id]
	if ok {
		delete(t.clients, id)
	}
	return c, ok
}

// Len returns the number of clients.
func (t *ClientTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.clients)
}

// IDs returns the clientids currently in the table.
func (t *ClientTable) IDs() []uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]uint64, 0, len(t.clients))
	for id := range t.clients {
		ids = append(ids, id)
	}
	return ids
}
