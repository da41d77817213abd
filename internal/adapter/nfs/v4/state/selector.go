package state

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sys/unix"

	"github.com/marmos91/nfscallback/internal/adapter/nfs/v4/types"
	"github.com/marmos91/nfscallback/internal/logger"
)

// dispatchV41 picks a session whose back channel is up, reserves a slot
// on it and sends. Each walk first tries every session without waiting
// for a slot; if that finds nothing, a second walk may wait on each
// session in turn. A session whose send fails is marked down and the walk
// starts over from the top, again without waiting. Restarts are bounded
// by MaxSelectorRestarts and spaced by an exponential backoff.
func (m *Manager) dispatchV41(ctx context.Context, c *Client, op types.CbArgOp, refer []types.ReferringCallTriple, done CompletionFunc) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.cfg.BackoffInitial
	bo.MaxInterval = m.cfg.BackoffMax
	bo.MaxElapsedTime = 0
	bo.Reset()

	wait := false
	restarts := 0
	for {
		s, lease, ok := m.selectSession(c, wait)
		if !ok {
			if !wait {
				wait = true
				continue
			}
			if m.anyBackchannelUp(c) {
				return withErrno(unix.ENOTCONN, fmt.Errorf("%w: %w: client %016x", ErrNoBackchannel, ErrNoSlot, c.id))
			}
			return withErrno(unix.ENOTCONN, fmt.Errorf("%w: client %016x", ErrNoBackchannel, c.id))
		}

		err := m.sendV41(ctx, c, s, lease, op, refer, done)
		if err == nil {
			s.Put()
			return nil
		}

		if Errno(err) == unix.EINVAL {
			s.ReleaseSlot(lease.Slot, false)
			s.Put()
			return err
		}

		s.markBackchannelDown()
		s.ReleaseSlot(lease.Slot, false)
		s.Put()

		wait = false
		restarts++
		m.metrics.RecordSelectorRestart()
		logger.Debug("Back channel failed, restarting selection",
			logger.ClientID(c.id), logger.SessionID(s.id[:]), logger.Attempt(restarts), logger.Err(err))

		if restarts >= m.cfg.MaxSelectorRestarts {
			return withErrno(unix.ENOTCONN, fmt.Errorf("%w: client %016x: gave up after %d attempts: %v",
				ErrNoBackchannel, c.id, restarts, err))
		}

		select {
		case <-ctx.Done():
			return withErrno(unix.ENOTCONN, ctx.Err())
		case <-time.After(bo.NextBackOff()):
		}
	}
}

// selectSession walks the client's sessions under its mutex and reserves
// a slot on the first one whose back channel is up. The returned session
// carries a reference the caller drops.
func (m *Manager) selectSession(c *Client, wait bool) (*Session, SlotLease, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, s := range c.sessions {
		if !s.BackchannelUp() {
			continue
		}
		lease, ok := s.FindSlot(wait, m.cfg.SlotWait)
		if !ok {
			continue
		}
		s.Get()
		return s, lease, true
	}
	return nil, SlotLease{}, false
}

func (m *Manager) anyBackchannelUp(c *Client) bool {
	for _, s := range c.Sessions() {
		if s.BackchannelUp() {
			return true
		}
	}
	return false
}
