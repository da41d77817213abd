package rpc

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"
)

// Transport carries unframed call messages to a callback service.
type Transport interface {
	// Send transmits one complete call message.
	Send(msg []byte) error

	// Close releases the transport. It must not block on in-flight reads.
	Close() error

	// NetID names the transport ("tcp", "udp6", ...).
	NetID() string
}

// Receiver is implemented by transports that own their read side. Receive
// hands each reply message to deliver and returns when the transport
// fails or is closed.
type Receiver interface {
	Receive(deliver func(msg []byte)) error
}

// ============================================================================
// Dialed stream transport (TCP, SCTP)
// ============================================================================

// StreamTransport sends record-marked messages over a connected stream.
type StreamTransport struct {
	conn         net.Conn
	netid        string
	maxRecord    uint32
	writeTimeout time.Duration

	wmu       sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewStreamTransport wraps an established stream connection.
func NewStreamTransport(conn net.Conn, netid string, maxRecord uint32, writeTimeout time.Duration) *StreamTransport {
	if maxRecord == 0 {
		maxRecord = DefaultMaxRecordSize
	}
	return &StreamTransport{conn: conn, netid: netid, maxRecord: maxRecord, writeTimeout: writeTimeout}
}

func (t *StreamTransport) Send(msg []byte) error {
	t.wmu.Lock()
	defer t.wmu.Unlock()

	if t.writeTimeout > 0 {
		if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
			return fmt.Errorf("set write deadline: %w", err)
		}
	}
	if _, err := t.conn.Write(AddRecordMark(msg)); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

func (t *StreamTransport) Receive(deliver func(msg []byte)) error {
	for {
		rec, err := ReadRecord(t.conn, t.maxRecord)
		if err != nil {
			return err
		}
		deliver(rec)
	}
}

func (t *StreamTransport) Close() error {
	t.closeOnce.Do(func() { t.closeErr = t.conn.Close() })
	return t.closeErr
}

func (t *StreamTransport) NetID() string { return t.netid }

// RemoteAddr returns the peer address.
func (t *StreamTransport) RemoteAddr() net.Addr { return t.conn.RemoteAddr() }

// ============================================================================
// Dialed datagram transport (UDP)
// ============================================================================

const maxDatagramSize = 64 * 1024

// DatagramTransport sends one message per datagram on a connected socket.
type DatagramTransport struct {
	conn      net.Conn
	netid     string
	closeOnce sync.Once
	closeErr  error
}

// NewDatagramTransport wraps a connected datagram socket.
func NewDatagramTransport(conn net.Conn, netid string) *DatagramTransport {
	return &DatagramTransport{conn: conn, netid: netid}
}

func (t *DatagramTransport) Send(msg []byte) error {
	if len(msg) > maxDatagramSize {
		return fmt.Errorf("message of %d bytes exceeds datagram limit", len(msg))
	}
	if _, err := t.conn.Write(msg); err != nil {
		return fmt.Errorf("write datagram: %w", err)
	}
	return nil
}

func (t *DatagramTransport) Receive(deliver func(msg []byte)) error {
	buf := make([]byte, maxDatagramSize)
	for {
		n, err := t.conn.Read(buf)
		if err != nil {
			return err
		}
		msg := make([]byte, n)
		copy(msg, buf[:n])
		deliver(msg)
	}
}

func (t *DatagramTransport) Close() error {
	t.closeOnce.Do(func() { t.closeErr = t.conn.Close() })
	return t.closeErr
}

func (t *DatagramTransport) NetID() string { return t.netid }

// ============================================================================
// Back channel over an accepted connection (NFSv4.1)
// ============================================================================

// ConnWriter writes a complete framed record to a connection owned by the
// server's fore channel. Implementations serialize their own writes.
type ConnWriter func(data []byte) error

// BackchannelTransport sends calls over a client-initiated connection.
// Replies arrive interleaved with fore-channel requests, so the owner of
// the connection routes them to Client.HandleReply.
type BackchannelTransport struct {
	write  ConnWriter
	netid  string
	mu     sync.Mutex
	closed bool
}

// NewBackchannelTransport wraps the write side of an accepted connection.
func NewBackchannelTransport(write ConnWriter, netid string) *BackchannelTransport {
	return &BackchannelTransport{write: write, netid: netid}
}

func (t *BackchannelTransport) Send(msg []byte) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return net.ErrClosed
	}
	return t.write(AddRecordMark(msg))
}

// Close detaches from the connection. The connection itself stays open;
// it belongs to the fore channel.
func (t *BackchannelTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

func (t *BackchannelTransport) NetID() string { return t.netid }

// ============================================================================
// Dialing
// ============================================================================

// DialTransport connects to addr over network ("tcp", "tcp6", "udp", ...)
// and wraps the connection in the matching transport.
func DialTransport(ctx context.Context, network, addr, netid string, maxRecord uint32, writeTimeout time.Duration) (Transport, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s %s: %w", network, addr, err)
	}
	if strings.HasPrefix(network, "udp") {
		return NewDatagramTransport(conn, netid), nil
	}
	return NewStreamTransport(conn, netid, maxRecord, writeTimeout), nil
}
