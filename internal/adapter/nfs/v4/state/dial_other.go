//go:build !linux

package state

import (
	"context"
	"errors"
	"fmt"
	"net"
)

func dialSCTP(_ context.Context, addr CallbackAddr) (net.Conn, error) {
	return nil, fmt.Errorf("sctp connect %s: %w", addr.Addr, errors.ErrUnsupported)
}
