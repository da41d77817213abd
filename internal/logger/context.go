package logger

import (
	"context"
	"time"
)

type contextKey struct{}

var logContextKey = contextKey{}

// LogContext carries the identifiers of the callback being processed so
// that every record logged under ctx can be correlated with it.
type LogContext struct {
	TraceID   string
	SpanID    string
	ClientID  uint64
	SessionID []byte // nil for NFSv4.0
	Op        string // CB_NULL, CB_RECALL, ...
	CallID    string
	Flavor    string // RPC auth flavor name
	StartTime time.Time
}

// WithContext returns a new context with the given LogContext
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from context, or nil if not present
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext starts a LogContext for a callback to clientID.
func NewLogContext(clientID uint64, op string) *LogContext {
	return &LogContext{
		ClientID:  clientID,
		Op:        op,
		StartTime: time.Now(),
	}
}

// Clone creates a copy of the LogContext
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	c := *lc
	if lc.SessionID != nil {
		c.SessionID = append([]byte(nil), lc.SessionID...)
	}
	return &c
}

// WithSession returns a copy with the session ID set
func (lc *LogContext) WithSession(sessionID []byte) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.SessionID = append([]byte(nil), sessionID...)
	}
	return clone
}

// WithCall returns a copy carrying the call correlation ID and auth flavor
func (lc *LogContext) WithCall(callID, flavor string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.CallID = callID
		clone.Flavor = flavor
	}
	return clone
}

// WithTrace returns a copy with trace info set
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.TraceID = traceID
		clone.SpanID = spanID
	}
	return clone
}

// DurationMs returns the duration since StartTime in milliseconds
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return Duration(lc.StartTime)
}
