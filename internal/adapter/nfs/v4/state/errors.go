package state

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// ============================================================================
// Sentinel errors
// ============================================================================

var (
	// ErrClientNotFound is returned when no confirmed client has the id.
	ErrClientNotFound = errors.New("client not found")

	// ErrClientExists is returned when registering a duplicate client id.
	ErrClientExists = errors.New("client already registered")

	// ErrSessionNotFound is returned when a client has no such session.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExists is returned when a session id is reused.
	ErrSessionExists = errors.New("session already exists")

	// ErrNoSlot is returned when every back-channel slot is busy.
	ErrNoSlot = errors.New("no free back-channel slot")

	// ErrChannelExists is returned when a v4.1 back channel is already bound.
	ErrChannelExists = errors.New("callback channel already exists")

	// ErrCallbackDown is returned for a v4.0 client whose last probe failed.
	ErrCallbackDown = errors.New("callback path is down")

	// ErrNoBackchannel is returned when no session has a usable back channel.
	ErrNoBackchannel = errors.New("no usable back channel")

	// ErrNoSecParms is returned when no offered back-channel security
	// parameter can be honored.
	ErrNoSecParms = errors.New("no supported callback security flavor offered")

	// ErrUnsupportedFlavor is returned for a security flavor the server
	// cannot build an auth handle for.
	ErrUnsupportedFlavor = errors.New("unsupported callback security flavor")

	// ErrRDMAUnsupported is returned when a back channel is offered over RDMA.
	ErrRDMAUnsupported = errors.New("RDMA back channels are not supported")

	// ErrWrongMinorVersion is returned when a v4.0-only or v4.1-only
	// operation is applied to a client of the other minor version.
	ErrWrongMinorVersion = errors.New("operation not valid for client minor version")
)

// ============================================================================
// POSIX error codes at the API boundary
// ============================================================================

// errnoError attaches a POSIX error code to a descriptive error so that
// callers can test either with errors.Is.
type errnoError struct {
	errno unix.Errno
	err   error
}

func (e *errnoError) Error() string {
	return e.err.Error()
}

func (e *errnoError) Unwrap() []error {
	return []error{e.errno, e.err}
}

// withErrno wraps err with errno. A nil err stays nil.
func withErrno(errno unix.Errno, err error) error {
	if err == nil {
		return nil
	}
	return &errnoError{errno: errno, err: err}
}

// errnof is withErrno over fmt.Errorf.
func errnof(errno unix.Errno, format string, args ...any) error {
	return withErrno(errno, fmt.Errorf(format, args...))
}

// Errno returns the POSIX code carried by err: 0 for nil, EIO when err
// carries none.
func Errno(err error) unix.Errno {
	if err == nil {
		return 0
	}
	var ee *errnoError
	if errors.As(err, &ee) {
		return ee.errno
	}
	var errno unix.Errno
	if errors.As(err, &errno) {
		return errno
	}
	return unix.EIO
}
