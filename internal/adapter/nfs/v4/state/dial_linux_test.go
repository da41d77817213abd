//go:build linux

package state

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialCallbackSCTPRefused(t *testing.T) {
	m := newTestManager(t)
	addr, err := ParseCallbackAddr("sctp", closedUAddr(t))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	tr, err := m.dialCallback(ctx, addr)
	assert.Error(t, err)
	assert.Nil(t, tr)
	assert.Contains(t, err.Error(), "sctp")
}
