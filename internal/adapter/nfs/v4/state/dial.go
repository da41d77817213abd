package state

import (
	"context"

	"github.com/marmos91/nfscallback/internal/adapter/nfs/rpc"
)

// dialCallback connects to a v4.0 client's callback service and wraps the
// connection in the transport matching its netid.
func (m *Manager) dialCallback(ctx context.Context, addr CallbackAddr) (rpc.Transport, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.DialTimeout)
	defer cancel()

	maxRecord := m.cfg.MaxFragmentSize.Uint32()
	if addr.NetID.Protocol != ipprotoSCTP {
		return rpc.DialTransport(ctx, addr.NetID.network(), addr.Addr.String(), addr.NetID.Name, maxRecord, m.cfg.CallTimeout)
	}

	conn, err := dialSCTP(ctx, addr)
	if err != nil {
		return nil, err
	}
	return rpc.NewStreamTransport(conn, addr.NetID.Name, maxRecord, m.cfg.CallTimeout), nil
}
