package state

import (
	"context"
	"sync"
	"time"

	"github.com/marmos91/nfscallback/internal/adapter/nfs/rpc"
	"github.com/marmos91/nfscallback/internal/adapter/nfs/v4/types"
	"github.com/marmos91/nfscallback/internal/logger"
)

// ChannelKind distinguishes a dialed v4.0 channel from a v4.1 back channel
// riding a client-initiated connection.
type ChannelKind uint8

const (
	ChannelV40 ChannelKind = iota
	ChannelV41
)

func (k ChannelKind) String() string {
	if k == ChannelV41 {
		return "v4.1"
	}
	return "v4.0"
}

// Channel owns the RPC client and auth handle used for callbacks to one
// client endpoint. A channel is absent until created, connected while it
// holds both handles, and returns to absent when destroyed; it may then
// be created again.
//
// Thread Safety: handles are only swapped under mu. Network calls run
// without mu held so that reply processing never waits on it.
type Channel struct {
	kind    ChannelKind
	metrics *Metrics

	// down runs after Destroy or destroyIf tears down a live channel.
	down func()

	mu       sync.Mutex
	clnt     *rpc.Client
	auth     rpc.Auth
	lastCall time.Time
}

func newChannel(kind ChannelKind, metrics *Metrics, down func()) *Channel {
	return &Channel{kind: kind, metrics: metrics, down: down}
}

// Kind returns the channel kind.
func (ch *Channel) Kind() ChannelKind { return ch.kind }

// Live reports whether the channel holds an open RPC client.
func (ch *Channel) Live() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.liveLocked()
}

func (ch *Channel) liveLocked() bool {
	return ch.clnt != nil && ch.auth != nil && !ch.clnt.Closed()
}

// LastCall returns when the channel last issued a call; zero once destroyed.
func (ch *Channel) LastCall() time.Time {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.lastCall
}

// Flavor returns the auth flavor of a live channel, or AUTH_NONE.
func (ch *Channel) Flavor() uint32 {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.auth == nil {
		return rpc.AuthNull
	}
	return ch.auth.Flavor()
}

// handles returns the current client and auth and stamps the call time.
// Either may be nil.
func (ch *Channel) handles() (*rpc.Client, rpc.Auth) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.clnt != nil {
		ch.lastCall = time.Now()
	}
	return ch.clnt, ch.auth
}

func (ch *Channel) bindLocked(clnt *rpc.Client, auth rpc.Auth) {
	ch.clnt = clnt
	ch.auth = auth
	ch.lastCall = time.Time{}
	ch.metrics.RecordChannelCreate(ch.kind)
}

func (ch *Channel) detachLocked() (*rpc.Client, rpc.Auth) {
	clnt, auth := ch.clnt, ch.auth
	ch.clnt = nil
	ch.auth = nil
	ch.lastCall = time.Time{}
	return clnt, auth
}

// Destroy releases the auth handle and RPC client. Calls still in flight
// complete with RPC_INTR. Destroying an absent channel is a no-op.
func (ch *Channel) Destroy() {
	ch.mu.Lock()
	clnt, auth := ch.detachLocked()
	ch.mu.Unlock()

	ch.teardown(clnt, auth)
}

// destroyIf destroys the channel only if it still holds clnt, so that a
// late failure on an old client never tears down its replacement.
func (ch *Channel) destroyIf(clnt *rpc.Client) bool {
	ch.mu.Lock()
	if clnt == nil || ch.clnt != clnt {
		ch.mu.Unlock()
		return false
	}
	c, auth := ch.detachLocked()
	ch.mu.Unlock()

	ch.teardown(c, auth)
	return true
}

func (ch *Channel) teardown(clnt *rpc.Client, auth rpc.Auth) {
	if ch.release(clnt, auth) && ch.down != nil {
		ch.down()
	}
}

// release closes detached handles and reports whether there were any.
func (ch *Channel) release(clnt *rpc.Client, auth rpc.Auth) bool {
	if clnt == nil && auth == nil {
		return false
	}
	if auth != nil {
		auth.Destroy()
	}
	if clnt != nil {
		_ = clnt.Close()
	}
	ch.metrics.RecordChannelDestroy(ch.kind)
	logger.Debug("Callback channel destroyed", "kind", ch.kind.String())
	return true
}

// HandleReply hands a reply received outside the transport's own reader
// to the channel's client.
func (ch *Channel) HandleReply(msg []byte) bool {
	ch.mu.Lock()
	clnt := ch.clnt
	ch.mu.Unlock()
	if clnt == nil {
		return false
	}
	return clnt.HandleReply(msg)
}

// CallNull issues CB_NULL and returns its client status. A channel with no
// client answers RPC_INTR without touching the network. Any other failure
// destroys the channel.
func (ch *Channel) CallNull(ctx context.Context, timeout time.Duration) rpc.ClntStat {
	clnt, auth := ch.handles()
	if clnt == nil || auth == nil {
		return rpc.StatIntr
	}

	_, err := clnt.Call(ctx, types.CB_NULL, auth, nil, timeout)
	stat := rpc.StatusOf(err)
	if stat != rpc.StatSuccess {
		logger.Debug("CB_NULL failed, destroying channel",
			"kind", ch.kind.String(), logger.ClntStat(stat), logger.Err(err))
		ch.destroyIf(clnt)
	}
	return stat
}
