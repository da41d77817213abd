package rpc

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testProgram = 0x40000000

func dialTestClient(t *testing.T, l net.Listener) *Client {
	t.Helper()
	tr, err := DialTransport(context.Background(), "tcp", l.Addr().String(), "tcp", 0, time.Second)
	require.NoError(t, err)
	c := NewClient(tr, testProgram, 1)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClient_CallSuccess(t *testing.T) {
	l := startCallbackServer(t, func(msg []byte) []byte {
		h := parseCall(t, msg)
		assert.Equal(t, uint32(testProgram), h.Prog)
		return buildAcceptedReply(h.XID, RPCSuccess, []byte{0, 0, 0, 9})
	})
	c := dialTestClient(t, l)

	reply, err := c.Call(context.Background(), 0, NewNoneAuth(), nil, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 9}, reply.Results)
	assert.Equal(t, 0, c.Pending())
}

func TestClient_CallTimeout(t *testing.T) {
	l := startCallbackServer(t, func([]byte) []byte { return nil })
	c := dialTestClient(t, l)

	start := time.Now()
	_, err := c.Call(context.Background(), 0, NewNoneAuth(), nil, 100*time.Millisecond)
	assert.Equal(t, StatTimedOut, StatusOf(err))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestClient_ContextCancelIsIntr(t *testing.T) {
	l := startCallbackServer(t, func([]byte) []byte { return nil })
	c := dialTestClient(t, l)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Call(ctx, 0, NewNoneAuth(), nil, 0)
	assert.Equal(t, StatIntr, StatusOf(err))
	assert.Equal(t, 0, c.Pending())
}

func TestClient_AuthErrorReply(t *testing.T) {
	l := startCallbackServer(t, func(msg []byte) []byte {
		return buildAuthErrorReply(parseCall(t, msg).XID, AuthRejectedCred)
	})
	c := dialTestClient(t, l)

	_, err := c.Call(context.Background(), 1, NewNoneAuth(), nil, time.Second)
	assert.True(t, IsAuthError(err))
}

func TestClient_BadReplyVerifierIsAuthError(t *testing.T) {
	l := startCallbackServer(t, func(msg []byte) []byte {
		return buildAcceptedReply(parseCall(t, msg).XID, RPCSuccess, nil)
	})
	c := dialTestClient(t, l)

	_, err := c.Call(context.Background(), 0, fixedAuth{cred: NullAuth, rejectAll: true}, nil, time.Second)
	assert.True(t, IsAuthError(err))
}

func TestClient_CloseFailsPendingWithIntr(t *testing.T) {
	l := startCallbackServer(t, func([]byte) []byte { return nil })
	c := dialTestClient(t, l)

	var fired atomic.Int32
	done := make(chan error, 1)
	_, err := c.Go(1, NewNoneAuth(), nil, 0, func(_ *Reply, err error) {
		fired.Add(1)
		done <- err
	})
	require.NoError(t, err)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	select {
	case err := <-done:
		assert.Equal(t, StatIntr, StatusOf(err))
	case <-time.After(time.Second):
		t.Fatal("completion not invoked after Close")
	}
	assert.Equal(t, int32(1), fired.Load())
	assert.True(t, c.Closed())

	_, err = c.Go(1, NewNoneAuth(), nil, 0, func(*Reply, error) {})
	assert.Equal(t, StatCantSend, StatusOf(err))
}

func TestClient_ServerHangupFailsPending(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = l.Close() }()

	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		_, _ = ReadRecord(conn, DefaultMaxRecordSize)
		_ = conn.Close()
	}()

	c := dialTestClient(t, l)
	_, err = c.Call(context.Background(), 0, NewNoneAuth(), nil, 2*time.Second)
	assert.Equal(t, StatCantRecv, StatusOf(err))
	assert.True(t, c.Closed())
}

func TestClient_BackchannelTransport(t *testing.T) {
	clientSide, serverSide := net.Pipe()
	defer func() { _ = clientSide.Close() }()
	defer func() { _ = serverSide.Close() }()

	var wmu sync.Mutex
	tr := NewBackchannelTransport(func(data []byte) error {
		wmu.Lock()
		defer wmu.Unlock()
		_, err := serverSide.Write(data)
		return err
	}, "tcp")
	c := NewClient(tr, testProgram, 1)
	defer func() { _ = c.Close() }()

	// The NFS client reads the call and answers on the same connection;
	// the fore-channel reader hands the reply to HandleReply.
	go func() {
		msg, err := ReadRecord(clientSide, DefaultMaxRecordSize)
		if err != nil {
			return
		}
		h := parseCall(t, msg)
		assert.False(t, c.HandleReply([]byte{1, 2}))
		assert.True(t, c.HandleReply(buildAcceptedReply(h.XID, RPCSuccess, nil)))
	}()

	_, err := c.Call(context.Background(), 0, NewNoneAuth(), nil, time.Second)
	require.NoError(t, err)

	require.NoError(t, c.Close())
	_, err = c.Go(0, NewNoneAuth(), nil, 0, func(*Reply, error) {})
	assert.Error(t, err)
}

func TestClient_UnknownXIDIgnored(t *testing.T) {
	c := NewClient(NewBackchannelTransport(func([]byte) error { return nil }, "tcp"), testProgram, 1)
	defer func() { _ = c.Close() }()

	assert.False(t, c.HandleReply(buildAcceptedReply(12345, RPCSuccess, nil)))
}

func TestClient_SendFailureDoesNotComplete(t *testing.T) {
	tr := NewBackchannelTransport(func([]byte) error { return net.ErrClosed }, "tcp")
	c := NewClient(tr, testProgram, 1)
	defer func() { _ = c.Close() }()

	called := false
	_, err := c.Go(1, NewNoneAuth(), nil, time.Second, func(*Reply, error) { called = true })
	assert.Equal(t, StatCantSend, StatusOf(err))
	assert.False(t, called)
	assert.Equal(t, 0, c.Pending())
}
