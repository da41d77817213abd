package state

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sys/unix"

	"github.com/marmos91/nfscallback/internal/adapter/nfs/rpc"
	"github.com/marmos91/nfscallback/internal/adapter/nfs/v4/types"
	"github.com/marmos91/nfscallback/internal/logger"
	"github.com/marmos91/nfscallback/internal/protocol/xdr"
	"github.com/marmos91/nfscallback/internal/telemetry"
)

// maxAuthRefreshes bounds refresh-and-retry cycles per call.
const maxAuthRefreshes = 1

// CallState is the lifecycle state of a callback call.
type CallState int32

const (
	CallDispatched CallState = iota
	CallFinished
	CallAborted
)

func (s CallState) String() string {
	switch s {
	case CallDispatched:
		return "DISPATCH"
	case CallFinished:
		return "FINISHED"
	case CallAborted:
		return "ABORTED"
	default:
		return fmt.Sprintf("CallState(%d)", int32(s))
	}
}

// CompletionFunc is invoked once per accepted call, on whichever goroutine
// completed it. It must not assume it runs on the dispatching goroutine.
type CompletionFunc func(call *Call)

// Call is one CB_COMPOUND in flight. The exported result fields are set
// before the completion function runs and must not be read before.
type Call struct {
	ID       string
	ClientID uint64
	Op       uint32
	Args     *types.CbCompoundArgs

	// Session and Lease are set for v4.1 calls.
	Session *Session
	Lease   SlotLease

	State     CallState
	Stat      rpc.ClntStat
	Err       error
	Res       *types.CbCompoundRes
	Refreshes int

	m        *Manager
	ch       *Channel
	clnt     *rpc.Client
	auth     rpc.Auth
	seqArgs  *types.CbSequenceArgs
	body     []byte
	done     CompletionFunc
	ctx      context.Context
	span     trace.Span
	start    time.Time
	xid      atomic.Uint32
	finished atomic.Bool
}

// XID returns the transaction id of the most recent transmission.
func (call *Call) XID() uint32 { return call.xid.Load() }

// Duration returns the time from dispatch to now.
func (call *Call) Duration() time.Duration { return time.Since(call.start) }

func (m *Manager) newCall(ctx context.Context, c *Client, s *Session, op types.CbArgOp, args *types.CbCompoundArgs, done CompletionFunc) *Call {
	call := &Call{
		ID:       uuid.NewString(),
		ClientID: c.id,
		Op:       op.OpNum(),
		Args:     args,
		m:        m,
		done:     done,
		start:    time.Now(),
	}

	opName := types.CbOpName(call.Op)
	attrs := []attribute.KeyValue{
		telemetry.CBClientID(c.id), telemetry.CBOp(opName), telemetry.CBCallID(call.ID),
		telemetry.CBMinorVersion(args.MinorVersion),
	}
	lc := logger.NewLogContext(c.id, opName)
	if s != nil {
		lc = lc.WithSession(s.id[:])
		attrs = append(attrs, telemetry.CBSessionID(s.id[:]))
	}

	ctx, call.span = telemetry.StartCallbackSpan(ctx, telemetry.SpanCBCompound, attrs...)
	lc = lc.WithCall(call.ID, "").WithTrace(telemetry.TraceID(ctx), telemetry.SpanID(ctx))
	call.ctx = logger.WithContext(ctx, lc)
	return call
}

// ============================================================================
// Dispatch
// ============================================================================

// Dispatch delivers op to a client as a CB_COMPOUND: alone for v4.0,
// after a CB_SEQUENCE on a healthy session for v4.1. refer lists the
// fore-channel calls that caused the callback (v4.1 only, may be nil).
//
// A nil error means the call was handed to the transport; done then runs
// exactly once with the call in state FINISHED or ABORTED. A non-nil
// error carries a POSIX code (see Errno): ENOTCONN when no channel is
// usable, EINVAL for an unusable security flavor or transport, ENOENT for
// an unknown client. done never runs in that case.
func (m *Manager) Dispatch(ctx context.Context, clientID uint64, op types.CbArgOp, refer []types.ReferringCallTriple, done CompletionFunc) error {
	c, err := m.clients.Get(clientID)
	if err != nil {
		return err
	}
	defer c.Put()

	if c.minor == 0 {
		return m.dispatchV40(ctx, c, op, done)
	}
	return m.dispatchV41(ctx, c, op, refer, done)
}

func (m *Manager) dispatchV40(ctx context.Context, c *Client, op types.CbArgOp, done CompletionFunc) error {
	if c.CallbackDown() {
		return withErrno(unix.ENOTCONN, fmt.Errorf("%w: client %016x", ErrCallbackDown, c.id))
	}

	ch, err := m.channelV40(ctx, c)
	if err != nil {
		c.setCallbackDown(true)
		return err
	}

	_, _, ident, _ := c.callbackParams()
	args := &types.CbCompoundArgs{
		MinorVersion:  0,
		CallbackIdent: ident,
		Ops:           []types.CbArgOp{op},
	}

	call := m.newCall(ctx, c, nil, op, args, done)
	call.ch = ch
	if err := m.submit(call); err != nil {
		ch.destroyIf(call.clnt)
		call.abandon(err)
		return err
	}

	m.metrics.RecordCall(types.CbOpName(call.Op), 0)
	return nil
}

// sendV41 builds CB_SEQUENCE + op for a reserved slot and submits it. On
// failure the slot is still held by the caller.
func (m *Manager) sendV41(ctx context.Context, c *Client, s *Session, lease SlotLease, op types.CbArgOp, refer []types.ReferringCallTriple, done CompletionFunc) error {
	seqArgs := &types.CbSequenceArgs{
		SessionID:          s.id,
		SequenceID:         lease.Seq,
		SlotID:             lease.Slot,
		HighestSlotID:      lease.Highest,
		ReferringCallLists: refer,
	}
	args := &types.CbCompoundArgs{
		MinorVersion: 1,
		Ops:          []types.CbArgOp{seqArgs, op},
	}

	call := m.newCall(ctx, c, s, op, args, done)
	call.ch = s.channel
	call.seqArgs = seqArgs
	call.Lease = lease
	call.Session = s
	s.Get()

	if err := m.submit(call); err != nil {
		s.channel.destroyIf(call.clnt)
		call.Session = nil
		s.Put()
		call.abandon(err)
		return err
	}

	logger.DebugCtx(call.ctx, "Callback dispatched",
		logger.SlotID(lease.Slot), logger.SeqID(lease.Seq), logger.XID(call.XID()))
	m.metrics.RecordCall(types.CbOpName(call.Op), 1)
	return nil
}

// submit encodes the compound and hands it to the channel's client. An
// encoding failure is EINVAL and leaves call.clnt nil: it says nothing
// about the channel.
func (m *Manager) submit(call *Call) error {
	body, err := xdr.Marshal(call.Args)
	if err != nil {
		return withErrno(unix.EINVAL, fmt.Errorf("encode CB_COMPOUND: %w", err))
	}
	call.body = body

	clnt, auth := call.ch.handles()
	call.clnt, call.auth = clnt, auth
	if clnt == nil || auth == nil {
		return withErrno(unix.ENOTCONN, errors.New("callback channel is not connected"))
	}

	xid, err := clnt.Go(types.CB_COMPOUND, auth, body, m.cfg.CallTimeout, call.complete)
	if err != nil {
		return withErrno(unix.ENOTCONN, fmt.Errorf("submit CB_COMPOUND: %w", err))
	}
	call.xid.Store(xid)
	return nil
}

// ============================================================================
// Completion
// ============================================================================

// complete runs on the RPC client's completion path. An auth error earns
// one refresh-and-retry, which runs on its own goroutine because a
// refresh may need a round trip through the same client.
func (call *Call) complete(reply *rpc.Reply, err error) {
	if err != nil && rpc.IsAuthError(err) && call.Refreshes < maxAuthRefreshes {
		call.Refreshes++
		go call.m.refreshAndRetry(call, err)
		return
	}
	call.m.finish(call, reply, err)
}

func (m *Manager) refreshAndRetry(call *Call, cause error) {
	m.metrics.RecordRefresh()
	logger.InfoCtx(call.ctx, "Refreshing callback credentials after auth error", logger.Err(cause))

	ctx, cancel := context.WithTimeout(context.WithoutCancel(call.ctx), m.cfg.CallTimeout)
	defer cancel()

	if err := call.auth.Refresh(ctx); err != nil {
		m.finish(call, nil, fmt.Errorf("%w (credential refresh failed: %w)", cause, err))
		return
	}

	xid, err := call.clnt.Go(types.CB_COMPOUND, call.auth, call.body, m.cfg.CallTimeout, call.complete)
	if err != nil {
		m.finish(call, nil, err)
		return
	}
	call.xid.Store(xid)
}

// finish moves the call to its terminal state, releases what it holds and
// runs the completion function.
func (m *Manager) finish(call *Call, reply *rpc.Reply, err error) {
	if !call.finished.CompareAndSwap(false, true) {
		return
	}

	var res *types.CbCompoundRes
	if err == nil {
		res, err = types.DecodeCbCompoundRes(reply.Results)
		if err != nil {
			err = &rpc.CallError{Stat: rpc.StatCantDecodeRes, Err: err}
		}
	}

	call.Stat = rpc.StatusOf(err)
	call.Res = res
	elapsed := call.Duration()

	if err != nil {
		call.State = CallAborted
		call.Err = err
		m.metrics.RecordFailure(call.Stat)
		call.ch.destroyIf(call.clnt)

		logger.WarnCtx(call.ctx, "Callback aborted",
			logger.ClntStat(call.Stat), logger.Err(err), logger.Attempt(call.Refreshes+1))
		call.span.RecordError(err)
		call.span.SetStatus(codes.Error, call.Stat.String())
	} else {
		call.State = CallFinished
		if call.seqArgs != nil {
			call.Err = checkSequence(res, call.seqArgs)
		}
		if call.Err == nil && res.Status != types.NFS4_OK {
			call.Err = fmt.Errorf("CB_COMPOUND failed: %s", types.StatusName(res.Status))
		}
		m.metrics.ObserveDuration(elapsed)

		logger.DebugCtx(call.ctx, "Callback finished",
			logger.KeyNFSStat, types.StatusName(res.Status), logger.DurationMs(float64(elapsed.Microseconds())/1000))
		if call.Err != nil {
			call.span.SetStatus(codes.Error, call.Err.Error())
		}
	}

	if s := call.Session; s != nil {
		s.ReleaseSlot(call.Lease.Slot, true)
		s.Put()
	}

	call.span.SetAttributes(telemetry.CBClntStat(call.Stat.String()), telemetry.RPCXID(call.XID()))
	call.span.End()

	if call.done != nil {
		call.done(call)
	}
	call.body = nil
	call.clnt, call.auth = nil, nil
}

// abandon ends a call that was never accepted.
func (call *Call) abandon(err error) {
	call.State = CallAborted
	call.Err = err
	call.Stat = rpc.StatusOf(err)
	call.body = nil
	call.finished.Store(true)

	logger.DebugCtx(call.ctx, "Callback submission failed", logger.Err(err))
	call.span.RecordError(err)
	call.span.SetStatus(codes.Error, "submission failed")
	call.span.End()
}

// checkSequence validates the leading CB_SEQUENCE result of a v4.1 reply.
func checkSequence(res *types.CbCompoundRes, args *types.CbSequenceArgs) error {
	if len(res.Results) == 0 {
		return fmt.Errorf("CB_COMPOUND failed before CB_SEQUENCE: %s", types.StatusName(res.Status))
	}
	first := res.Results[0]
	if first.Op != types.OP_CB_SEQUENCE || first.Sequence == nil {
		return fmt.Errorf("reply starts with %s, not CB_SEQUENCE", types.CbOpName(first.Op))
	}
	return first.Sequence.Matches(args)
}
