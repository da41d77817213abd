package state

import (
	"context"
	"errors"

	"github.com/cenkalti/backoff/v4"

	"github.com/marmos91/nfscallback/internal/adapter/nfs/rpc"
	"github.com/marmos91/nfscallback/internal/logger"
	"github.com/marmos91/nfscallback/internal/telemetry"
)

var errProbeInterrupted = errors.New("CB_NULL interrupted")

// Probe tests a client's callback path with CB_NULL and returns the RPC
// client status. A v4.0 channel is created first if needed; a v4.1 client
// is probed on its first session whose back channel is up. An RPC_INTR
// result is retried once straight away. A failed v4.0 probe marks the
// client's callback path down until a later probe succeeds or the client
// sets a new callback address.
func (m *Manager) Probe(ctx context.Context, clientID uint64) rpc.ClntStat {
	c, err := m.clients.Get(clientID)
	if err != nil {
		logger.Debug("CB_NULL probe for unknown client", logger.ClientID(clientID))
		return rpc.StatUnknownAddr
	}
	defer c.Put()

	ctx, span := telemetry.StartCallbackSpan(ctx, telemetry.SpanCBNull,
		telemetry.CBClientID(clientID), telemetry.CBMinorVersion(c.minor))
	defer span.End()

	var stat rpc.ClntStat
	attempt := 0
	op := func() error {
		attempt++
		stat = m.probeOnce(ctx, c)
		if stat == rpc.StatIntr {
			return errProbeInterrupted
		}
		return nil
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 1), ctx)
	_ = backoff.Retry(op, policy)

	m.metrics.RecordProbe(stat)
	span.SetAttributes(telemetry.CBClntStat(stat.String()))

	if stat != rpc.StatSuccess {
		if c.minor == 0 {
			c.setCallbackDown(true)
		}
		logger.Info("Callback path probe failed",
			logger.ClientID(clientID), logger.ClntStat(stat), logger.Attempt(attempt))
	} else {
		if c.minor == 0 {
			c.setCallbackDown(false)
		}
		logger.Debug("Callback path probe succeeded", logger.ClientID(clientID), logger.Attempt(attempt))
	}
	return stat
}

func (m *Manager) probeOnce(ctx context.Context, c *Client) rpc.ClntStat {
	if c.minor == 0 {
		ch, err := m.channelV40(ctx, c)
		if err != nil {
			logger.Debug("CB_NULL probe could not create channel", logger.ClientID(c.id), logger.Err(err))
		}
		return ch.CallNull(ctx, m.cfg.CallTimeout)
	}

	for _, s := range c.Sessions() {
		if s.BackchannelUp() {
			return s.channel.CallNull(ctx, m.cfg.CallTimeout)
		}
	}
	return rpc.StatIntr
}
