package state

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/nfscallback/internal/adapter/nfs/v4/types"
	"github.com/marmos91/nfscallback/internal/logger"
)

// ============================================================================
// Back-channel slot table constants
// ============================================================================

const (
	// MaxBackchannelSlots bounds the back-channel slot table whatever the
	// client negotiated as ca_maxrequests.
	MaxBackchannelSlots uint32 = 64

	// MinBackchannelSlots is the minimum slot count per session.
	MinBackchannelSlots uint32 = 1
)

// backSlot is one entry of a back-channel slot table. seq is the sequence
// id of the last call reserved on the slot; the first call sends 1.
type backSlot struct {
	inUse bool
	seq   uint32
}

// SlotLease is a reserved back-channel slot: the values CB_SEQUENCE
// carries for the call that holds it.
type SlotLease struct {
	Slot    uint32
	Highest uint32
	Seq     uint32
}

// ============================================================================
// Session
// ============================================================================

// Session is the back-channel half of an NFSv4.1 session: its slot table,
// the channel bound to it, and whether that channel is believed healthy
// (session_bc_up).
//
// Thread Safety: mu guards the slot table and flags; cond is signalled
// whenever a slot is freed or the session is destroyed.
type Session struct {
	id      types.SessionId4
	client  *Client
	program uint32
	refs    atomic.Int32
	channel *Channel
	metrics *Metrics

	mu        sync.Mutex
	cond      *sync.Cond
	slots     []backSlot
	bcUp      bool
	destroyed bool
	waiters   int
	secParms  []types.CallbackSecParms4
}

func newSession(c *Client, id types.SessionId4, attrs types.ChannelAttrs, program uint32, secParms []types.CallbackSecParms4, metrics *Metrics) *Session {
	n := attrs.MaxRequests
	if n < MinBackchannelSlots {
		n = MinBackchannelSlots
	}
	if n > MaxBackchannelSlots {
		n = MaxBackchannelSlots
	}

	s := &Session{
		id:       id,
		client:   c,
		program:  programOrDefault(program),
		metrics:  metrics,
		slots:    make([]backSlot, n),
		secParms: append([]types.CallbackSecParms4(nil), secParms...),
	}
	s.cond = sync.NewCond(&s.mu)
	s.channel = newChannel(ChannelV41, metrics, s.markBackchannelDown)
	s.refs.Store(1)
	return s
}

// ID returns the session id.
func (s *Session) ID() types.SessionId4 { return s.id }

// Client returns the owning client.
func (s *Session) Client() *Client { return s.client }

// Channel returns the session's back channel.
func (s *Session) Channel() *Channel { return s.channel }

// NumSlots returns the size of the slot table.
func (s *Session) NumSlots() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots)
}

// Get takes a reference.
func (s *Session) Get() { s.refs.Add(1) }

// Put drops a reference.
func (s *Session) Put() {
	if n := s.refs.Add(-1); n < 0 {
		logger.Warn("Session reference count went negative", logger.SessionID(s.id[:]), "refs", n)
	}
}

// Refs returns the current reference count.
func (s *Session) Refs() int32 { return s.refs.Load() }

// BackchannelUp reports session_bc_up.
func (s *Session) BackchannelUp() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bcUp && !s.destroyed
}

func (s *Session) setBackchannelUp() {
	s.mu.Lock()
	if !s.destroyed {
		s.bcUp = true
	}
	s.mu.Unlock()
}

// markBackchannelDown clears session_bc_up. Selectors skip the session
// until a new back channel is bound.
func (s *Session) markBackchannelDown() {
	s.mu.Lock()
	wasUp := s.bcUp
	s.bcUp = false
	s.mu.Unlock()

	if wasUp {
		logger.Info("Back channel marked down", logger.SessionID(s.id[:]), logger.ClientID(s.client.id))
	}
}

func (s *Session) secParmsSnapshot() []types.CallbackSecParms4 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.CallbackSecParms4(nil), s.secParms...)
}

func (s *Session) setSecParms(p []types.CallbackSecParms4) {
	s.mu.Lock()
	s.secParms = append([]types.CallbackSecParms4(nil), p...)
	s.mu.Unlock()
}

// ============================================================================
// Slot allocator
// ============================================================================

// FindSlot reserves the lowest free slot and speculatively advances its
// sequence id. If none is free and wait is set, it waits up to timeout
// for a release and scans once more. The second result is false when no
// slot could be reserved.
func (s *Session) FindSlot(wait bool, timeout time.Duration) (SlotLease, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return SlotLease{}, false
	}
	if lease, ok := s.reserveLocked(); ok || !wait {
		return lease, ok
	}

	s.metrics.RecordSlotWait()
	logger.Debug("Waiting for back-channel slot", logger.SessionID(s.id[:]), "timeout", timeout)

	timer := time.AfterFunc(timeout, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	s.waiters++
	s.cond.Wait()
	s.waiters--
	timer.Stop()

	if s.destroyed {
		return SlotLease{}, false
	}
	return s.reserveLocked()
}

func (s *Session) reserveLocked() (SlotLease, bool) {
	free := -1
	for i := range s.slots {
		if !s.slots[i].inUse {
			free = i
			break
		}
	}
	if free < 0 {
		return SlotLease{}, false
	}

	slot := &s.slots[free]
	slot.inUse = true
	slot.seq++

	highest := uint32(free)
	for i := len(s.slots) - 1; i > free; i-- {
		if s.slots[i].inUse {
			highest = uint32(i)
			break
		}
	}
	return SlotLease{Slot: uint32(free), Highest: highest, Seq: slot.seq}, true
}

// ReleaseSlot frees a reserved slot. When the call was never sent the
// speculative sequence advance is undone.
func (s *Session) ReleaseSlot(slot uint32, sent bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if int(slot) < len(s.slots) && s.slots[slot].inUse {
		s.slots[slot].inUse = false
		if !sent {
			s.slots[slot].seq--
		}
	}
	s.cond.Broadcast()
}

// SlotSeq returns the last reserved sequence id of slot.
func (s *Session) SlotSeq(slot uint32) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if int(slot) >= len(s.slots) {
		return 0
	}
	return s.slots[slot].seq
}

// SlotsInUse returns the number of reserved slots.
func (s *Session) SlotsInUse() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sl := range s.slots {
		if sl.inUse {
			n++
		}
	}
	return n
}

func (s *Session) waiting() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waiters
}

// destroy tears down the back channel and wakes every slot waiter.
func (s *Session) destroy() {
	s.mu.Lock()
	s.destroyed = true
	s.bcUp = false
	s.cond.Broadcast()
	s.mu.Unlock()

	s.channel.Destroy()
}

// HandleReply routes a back-channel reply that arrived on the session's
// connection to the waiting call.
func (s *Session) HandleReply(msg []byte) bool {
	return s.channel.HandleReply(msg)
}
