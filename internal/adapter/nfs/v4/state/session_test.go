package state

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/marmos91/nfscallback/internal/adapter/nfs/v4/types"
)

func newTestSession(t *testing.T, slots uint32) *Session {
	t.Helper()
	m := newTestManager(t)
	_, err := m.RegisterClient(ClientInfo{ClientID: 0x41, MinorVersion: 1})
	require.NoError(t, err)
	s, err := m.CreateSession(0x41, testSessionID(1), types.ChannelAttrs{MaxRequests: slots}, 0, sysSecParms)
	require.NoError(t, err)
	return s
}

// ============================================================================
// Slot Table Sizing
// ============================================================================

func TestSessionSlotCountClamped(t *testing.T) {
	tests := []struct {
		requested uint32
		want      int
	}{
		{0, 1},
		{1, 1},
		{8, 8},
		{64, 64},
		{1000, int(MaxBackchannelSlots)},
	}
	for _, tt := range tests {
		s := newTestSession(t, tt.requested)
		assert.Equal(t, tt.want, s.NumSlots(), "requested %d", tt.requested)
	}
}

// ============================================================================
// Reservation
// ============================================================================

func TestFindSlotLowestFree(t *testing.T) {
	s := newTestSession(t, 4)

	l0, ok := s.FindSlot(false, 0)
	require.True(t, ok)
	assert.Equal(t, SlotLease{Slot: 0, Highest: 0, Seq: 1}, l0)

	l1, ok := s.FindSlot(false, 0)
	require.True(t, ok)
	assert.Equal(t, SlotLease{Slot: 1, Highest: 1, Seq: 1}, l1)

	l2, ok := s.FindSlot(false, 0)
	require.True(t, ok)
	assert.Equal(t, uint32(2), l2.Slot)

	// Freeing slot 1 makes it the lowest free; slot 2 is still the highest in use.
	s.ReleaseSlot(1, true)
	l1b, ok := s.FindSlot(false, 0)
	require.True(t, ok)
	assert.Equal(t, SlotLease{Slot: 1, Highest: 2, Seq: 2}, l1b)
	assert.Equal(t, 3, s.SlotsInUse())
}

func TestSlotSequenceRollback(t *testing.T) {
	s := newTestSession(t, 1)

	lease, ok := s.FindSlot(false, 0)
	require.True(t, ok)
	assert.Equal(t, uint32(1), lease.Seq)

	s.ReleaseSlot(lease.Slot, false)
	assert.Equal(t, uint32(0), s.SlotSeq(0))

	lease, ok = s.FindSlot(false, 0)
	require.True(t, ok)
	assert.Equal(t, uint32(1), lease.Seq, "unsent call must not consume a sequence id")

	s.ReleaseSlot(lease.Slot, true)
	lease, ok = s.FindSlot(false, 0)
	require.True(t, ok)
	assert.Equal(t, uint32(2), lease.Seq)
}

func TestReleaseSlotIgnoresFreeSlot(t *testing.T) {
	s := newTestSession(t, 2)
	s.ReleaseSlot(0, false)
	s.ReleaseSlot(7, true)
	assert.Equal(t, uint32(0), s.SlotSeq(0))
	assert.Equal(t, 0, s.SlotsInUse())
}

func TestFindSlotNoWaitReturnsImmediately(t *testing.T) {
	s := newTestSession(t, 1)
	_, ok := s.FindSlot(false, 0)
	require.True(t, ok)

	start := time.Now()
	_, ok = s.FindSlot(false, time.Second)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestFindSlotWaitTimesOut(t *testing.T) {
	s := newTestSession(t, 1)
	_, ok := s.FindSlot(false, 0)
	require.True(t, ok)

	start := time.Now()
	_, ok = s.FindSlot(true, 100*time.Millisecond)
	elapsed := time.Since(start)

	assert.False(t, ok)
	assert.GreaterOrEqual(t, elapsed, 90*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
}

func TestFindSlotWaitWokenByRelease(t *testing.T) {
	s := newTestSession(t, 1)
	first, ok := s.FindSlot(false, 0)
	require.True(t, ok)

	got := make(chan SlotLease, 1)
	go func() {
		lease, ok := s.FindSlot(true, 5*time.Second)
		if ok {
			got <- lease
		}
		close(got)
	}()

	require.Eventually(t, func() bool { return s.waiting() == 1 }, time.Second, time.Millisecond)
	s.ReleaseSlot(first.Slot, true)

	select {
	case lease, ok := <-got:
		require.True(t, ok, "waiter did not get the slot")
		assert.Equal(t, uint32(0), lease.Slot)
		assert.Equal(t, uint32(2), lease.Seq)
	case <-time.After(time.Second):
		t.Fatal("waiter not woken by release")
	}
}

func TestFindSlotWaitWokenByDestroy(t *testing.T) {
	s := newTestSession(t, 1)
	_, ok := s.FindSlot(false, 0)
	require.True(t, ok)

	done := make(chan bool, 1)
	go func() {
		_, ok := s.FindSlot(true, 5*time.Second)
		done <- ok
	}()

	require.Eventually(t, func() bool { return s.waiting() == 1 }, time.Second, time.Millisecond)
	s.destroy()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("waiter not woken by destroy")
	}

	_, ok = s.FindSlot(false, 0)
	assert.False(t, ok, "destroyed session hands out no slots")
}

func TestSlotsExclusiveUnderContention(t *testing.T) {
	const (
		slots   = 4
		workers = 16
		rounds  = 200
	)
	s := newTestSession(t, slots)

	var holders [slots]atomic.Int32
	var reserved atomic.Int64

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for i := 0; i < rounds; i++ {
				lease, ok := s.FindSlot(true, time.Second)
				if !ok {
					continue
				}
				if !holders[lease.Slot].CompareAndSwap(0, 1) {
					t.Errorf("slot %d handed out twice", lease.Slot)
				}
				reserved.Add(1)
				holders[lease.Slot].Store(0)
				s.ReleaseSlot(lease.Slot, true)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	var seqSum int64
	for i := uint32(0); i < slots; i++ {
		seqSum += int64(s.SlotSeq(i))
	}
	assert.Equal(t, reserved.Load(), seqSum, "every sent call advances its slot's sequence exactly once")
	assert.Equal(t, 0, s.SlotsInUse())
}

// ============================================================================
// Back-channel state
// ============================================================================

func TestSessionBackchannelFlag(t *testing.T) {
	s := newTestSession(t, 1)
	assert.False(t, s.BackchannelUp())

	s.setBackchannelUp()
	assert.True(t, s.BackchannelUp())

	s.markBackchannelDown()
	assert.False(t, s.BackchannelUp())

	s.setBackchannelUp()
	s.destroy()
	assert.False(t, s.BackchannelUp())

	s.setBackchannelUp()
	assert.False(t, s.BackchannelUp(), "destroyed session stays down")
}
