package rpc

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/nfscallback/internal/logger"
)

// ErrClientClosed is the cause attached to calls failed by Close.
var ErrClientClosed = errors.New("rpc client closed")

// CompletionFunc receives the outcome of an asynchronous call. It runs on
// the goroutine that completed the call (the transport reader, a timer, or
// Close), never on the submitting goroutine, and must not block for long.
type CompletionFunc func(reply *Reply, err error)

type pendingCall struct {
	auth  Auth
	tok   AuthToken
	timer *time.Timer
	done  CompletionFunc
}

// Client issues calls for one program/version over one transport and
// routes replies to their callers by xid.
//
// Thread Safety: all methods are safe for concurrent use.
type Client struct {
	tr   Transport
	prog uint32
	vers uint32

	nextXID atomic.Uint32

	mu        sync.Mutex
	pending   map[uint32]*pendingCall
	closed    bool
	closeOnce sync.Once
	closeErr  error
}

// NewClient binds a client to tr. Transports that implement Receiver get a
// reader goroutine; others must feed replies through HandleReply.
func NewClient(tr Transport, prog, vers uint32) *Client {
	c := &Client{
		tr:      tr,
		prog:    prog,
		vers:    vers,
		pending: make(map[uint32]*pendingCall),
	}
	c.nextXID.Store(uint32(time.Now().UnixNano()))

	if rx, ok := tr.(Receiver); ok {
		go c.receive(rx)
	}
	return c
}

// Program returns the bound program number.
func (c *Client) Program() uint32 { return c.prog }

// Version returns the bound program version.
func (c *Client) Version() uint32 { return c.vers }

// Transport returns the underlying transport.
func (c *Client) Transport() Transport { return c.tr }

// Closed reports whether the client no longer accepts calls.
func (c *Client) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Pending returns the number of calls awaiting a reply.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Go submits a call and returns once the message has been handed to the
// transport. If Go returns an error, done is never invoked. Otherwise done
// is invoked exactly once: with the reply, with the decoded failure, with
// RPC_TIMEDOUT after timeout (when positive), or with RPC_INTR if the
// client is closed first.
func (c *Client) Go(proc uint32, auth Auth, args []byte, timeout time.Duration, done CompletionFunc) (uint32, error) {
	xid := c.nextXID.Add(1)

	msg, tok, err := BuildCallMessage(xid, c.prog, c.vers, proc, auth, args)
	if err != nil {
		return 0, &CallError{Stat: StatCantEncodeArgs, Err: err}
	}

	pc := &pendingCall{auth: auth, tok: tok, done: done}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, &CallError{Stat: StatCantSend, Err: ErrClientClosed}
	}
	c.pending[xid] = pc
	if timeout > 0 {
		pc.timer = time.AfterFunc(timeout, func() { c.expire(xid) })
	}
	c.mu.Unlock()

	if err := c.tr.Send(msg); err != nil {
		if c.take(xid) == nil {
			// Already completed by a timer or Close; done has run.
			return xid, nil
		}
		return 0, &CallError{Stat: StatCantSend, Err: err}
	}
	return xid, nil
}

// Call submits a call and waits for its outcome. Cancelling ctx abandons
// the call with RPC_INTR.
func (c *Client) Call(ctx context.Context, proc uint32, auth Auth, args []byte, timeout time.Duration) (*Reply, error) {
	type result struct {
		reply *Reply
		err   error
	}
	ch := make(chan result, 1)

	xid, err := c.Go(proc, auth, args, timeout, func(reply *Reply, err error) {
		ch <- result{reply, err}
	})
	if err != nil {
		return nil, err
	}

	select {
	case res := <-ch:
		return res.reply, res.err
	case <-ctx.Done():
		if c.take(xid) != nil {
			return nil, &CallError{Stat: StatIntr, Err: ctx.Err()}
		}
		res := <-ch
		return res.reply, res.err
	}
}

// HandleReply routes a reply message to its pending call. It returns false
// if msg is not a reply or matches no pending call.
func (c *Client) HandleReply(msg []byte) bool {
	xid, msgType, err := ReplyXID(msg)
	if err != nil || msgType != RPCReply {
		return false
	}

	pc := c.take(xid)
	if pc == nil {
		logger.Debug("RPC reply for unknown xid dropped", logger.KeyXID, xid, logger.KeyProgram, c.prog)
		return false
	}

	reply, err := ParseReply(msg)
	if err == nil {
		if verr := pc.auth.Validate(reply.Verf, pc.tok); verr != nil {
			reply = nil
			err = &CallError{Stat: StatAuthError, Auth: AuthInvalidResp, Err: verr}
		} else if bp, ok := pc.auth.(BodyProtector); ok {
			results, uerr := bp.UnwrapResults(pc.tok, reply.Results)
			if uerr != nil {
				reply = nil
				err = &CallError{Stat: StatCantDecodeRes, Err: uerr}
			} else {
				reply.Results = results
			}
		}
	}
	pc.done(reply, err)
	return true
}

// Close fails every pending call with RPC_INTR and closes the transport.
// It is safe to call more than once.
func (c *Client) Close() error {
	c.shutdown(&CallError{Stat: StatIntr, Err: ErrClientClosed})
	return c.closeErr
}

func (c *Client) receive(rx Receiver) {
	err := rx.Receive(func(msg []byte) { c.HandleReply(msg) })

	if !c.Closed() {
		logger.Debug("RPC transport receive loop ended",
			logger.KeyNetID, c.tr.NetID(), logger.KeyError, err)
	}
	c.shutdown(&CallError{Stat: StatCantRecv, Err: err})
}

func (c *Client) shutdown(cause *CallError) {
	c.mu.Lock()
	c.closed = true
	pending := c.pending
	c.pending = make(map[uint32]*pendingCall)
	c.mu.Unlock()

	c.closeOnce.Do(func() { c.closeErr = c.tr.Close() })

	for _, pc := range pending {
		if pc.timer != nil {
			pc.timer.Stop()
		}
		pc.done(nil, cause)
	}
}

func (c *Client) expire(xid uint32) {
	if pc := c.take(xid); pc != nil {
		pc.done(nil, &CallError{Stat: StatTimedOut})
	}
}

// take removes and returns the pending call for xid, or nil if it has
// already completed.
func (c *Client) take(xid uint32) *pendingCall {
	c.mu.Lock()
	pc, ok := c.pending[xid]
	if ok {
		delete(c.pending, xid)
	}
	c.mu.Unlock()
	if ok && pc.timer != nil {
		pc.timer.Stop()
	}
	return pc
}
