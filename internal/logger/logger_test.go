package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

// captureOutput redirects logger output to a buffer and restores the
// default text/INFO/stdout setup afterwards.
func captureOutput() (*bytes.Buffer, func()) {
	buf := new(bytes.Buffer)
	InitWithWriter(buf, "", "", false)

	return buf, func() {
		levelVar.Set(slog.LevelInfo)
		currentFormat.Store("text")
		InitWithWriter(os.Stdout, "", "", false)
	}
}

func decodeJSONLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry), buf.String())
	return entry
}

// ============================================================================
// Level Tests
// ============================================================================

func TestLevelFiltering(t *testing.T) {
	cases := []struct {
		level   string
		visible []string
		hidden  []string
	}{
		{"DEBUG", []string{"[DEBUG]", "[INFO]", "[WARN]", "[ERROR]"}, nil},
		{"INFO", []string{"[INFO]", "[WARN]", "[ERROR]"}, []string{"[DEBUG]"}},
		{"WARN", []string{"[WARN]", "[ERROR]"}, []string{"[DEBUG]", "[INFO]"}},
		{"ERROR", []string{"[ERROR]"}, []string{"[DEBUG]", "[INFO]", "[WARN]"}},
	}

	for _, tc := range cases {
		t.Run(tc.level, func(t *testing.T) {
			buf, cleanup := captureOutput()
			defer cleanup()

			SetLevel(tc.level)
			Debug("d")
			Info("i")
			Warn("w")
			Error("e")

			out := buf.String()
			for _, s := range tc.visible {
				assert.Contains(t, out, s)
			}
			for _, s := range tc.hidden {
				assert.NotContains(t, out, s)
			}
		})
	}
}

func TestSetLevel(t *testing.T) {
	t.Run("CaseInsensitive", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetLevel("DeBuG")
		Debug("probe sent")
		assert.Contains(t, buf.String(), "probe sent")
		assert.Equal(t, LevelDebug, GetLevel())
	})

	t.Run("InvalidValueIgnored", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetLevel("WARN")
		SetLevel("LOUD")
		Info("hidden")
		Warn("shown")

		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "shown")
		assert.Equal(t, LevelWarn, GetLevel())
	})

	t.Run("ParseLevel", func(t *testing.T) {
		l, ok := ParseLevel("warning")
		assert.True(t, ok)
		assert.Equal(t, LevelWarn, l)

		_, ok = ParseLevel("trace")
		assert.False(t, ok)
	})

	t.Run("String", func(t *testing.T) {
		assert.Equal(t, "DEBUG", LevelDebug.String())
		assert.Equal(t, "ERROR", LevelError.String())
		assert.Equal(t, "UNKNOWN", Level(99).String())
	})
}

// ============================================================================
// Text Handler Tests
// ============================================================================

func TestTextFormat(t *testing.T) {
	t.Run("TimestampAndLevel", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		Info("callback channel up")
		assert.Regexp(t, `^\[\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\.\d{3}\] \[INFO\] callback channel up`, buf.String())
	})

	t.Run("StructuredFields", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		Info("recall sent", KeyNetID, "tcp", KeySlotID, uint32(3), XID(0x1f))
		out := buf.String()
		assert.Contains(t, out, "netid=tcp")
		assert.Contains(t, out, "slot_id=3")
		assert.Contains(t, out, "xid=0x0000001f")
	})

	t.Run("QuotesValuesWithSpaces", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		Info("dial failed", KeyError, "connection refused", KeyAddr, "a=b")
		out := buf.String()
		assert.Contains(t, out, `error="connection refused"`)
		assert.Contains(t, out, `addr="a=b"`)
	})

	t.Run("NilErrorDropped", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		Info("done", Err(nil))
		assert.NotContains(t, buf.String(), "error=")
	})

	t.Run("GroupsAndWithAttrs", func(t *testing.T) {
		var buf bytes.Buffer
		h := NewColorTextHandler(&buf, nil, false)
		l := slog.New(h).With(KeyComponent, "state").WithGroup("slot")
		l.Info("acquired", "id", 2, slog.Group("seq", "next", 5))

		out := buf.String()
		assert.Contains(t, out, "component=state")
		assert.Contains(t, out, "slot.id=2")
		assert.Contains(t, out, "slot.seq.next=5")
	})

	t.Run("Color", func(t *testing.T) {
		var buf bytes.Buffer
		l := slog.New(NewColorTextHandler(&buf, nil, true))
		l.Error("boom", "k", "v")
		assert.Contains(t, buf.String(), colorRed+"ERROR"+colorReset)
		assert.Contains(t, buf.String(), colorCyan+"k"+colorReset+"=v")
	})
}

// ============================================================================
// JSON Format Tests
// ============================================================================

func TestJSONFormat(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	SetFormat("json")
	Info("probe complete", KeyClntStat, "RPC_SUCCESS", KeyAttempt, 1)

	entry := decodeJSONLine(t, buf)
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "probe complete", entry["msg"])
	assert.Equal(t, "RPC_SUCCESS", entry["clnt_stat"])
	assert.Equal(t, float64(1), entry["attempt"])
	assert.Contains(t, entry, "time")

	buf.Reset()
	SetFormat("xml")
	Info("still json")
	assert.True(t, json.Valid([]byte(strings.TrimSpace(buf.String()))))
}

// ============================================================================
// Context Logging Tests
// ============================================================================

func TestContextLogging(t *testing.T) {
	t.Run("InjectsCallbackFields", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()
		SetFormat("json")

		lc := NewLogContext(0x5f00000001, "CB_RECALL").
			WithSession([]byte{0xaa, 0xbb}).
			WithCall("c-1", "AUTH_SYS").
			WithTrace("abc123", "xyz789")
		ctx := WithContext(context.Background(), lc)

		WarnCtx(ctx, "callback failed", KeyClntStat, "RPC_TIMEDOUT")

		entry := decodeJSONLine(t, buf)
		assert.Equal(t, "abc123", entry["trace_id"])
		assert.Equal(t, "xyz789", entry["span_id"])
		assert.Equal(t, "0000005f00000001", entry["client_id"])
		assert.Equal(t, "aabb", entry["session_id"])
		assert.Equal(t, "CB_RECALL", entry["op"])
		assert.Equal(t, "c-1", entry["call_id"])
		assert.Equal(t, "AUTH_SYS", entry["flavor"])
		assert.Equal(t, "RPC_TIMEDOUT", entry["clnt_stat"])
	})

	t.Run("NoLogContext", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		require.NotPanics(t, func() {
			//nolint:staticcheck // nil context is tolerated
			InfoCtx(nil, "nil ctx")
			InfoCtx(context.Background(), "bare ctx")
		})
		assert.Contains(t, buf.String(), "nil ctx")
		assert.Contains(t, buf.String(), "bare ctx")
	})

	t.Run("DebugCtxFiltered", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		DebugCtx(WithContext(context.Background(), NewLogContext(1, "CB_NULL")), "hidden")
		assert.Empty(t, buf.String())
	})
}

func TestLogContext(t *testing.T) {
	t.Run("CloneIsDeep", func(t *testing.T) {
		lc := NewLogContext(7, "CB_SEQUENCE").WithSession([]byte{1, 2, 3})
		clone := lc.Clone()
		clone.SessionID[0] = 9
		clone.Op = "CB_RECALL"

		assert.Equal(t, byte(1), lc.SessionID[0])
		assert.Equal(t, "CB_SEQUENCE", lc.Op)
	})

	t.Run("NilReceiver", func(t *testing.T) {
		var lc *LogContext
		assert.Nil(t, lc.Clone())
		assert.Nil(t, lc.WithCall("x", "AUTH_NONE"))
		assert.Zero(t, lc.DurationMs())
	})

	t.Run("Duration", func(t *testing.T) {
		lc := NewLogContext(1, "CB_NULL")
		lc.StartTime = time.Now().Add(-20 * time.Millisecond)
		assert.GreaterOrEqual(t, lc.DurationMs(), 20.0)
	})
}

func TestFieldHelpers(t *testing.T) {
	assert.Equal(t, "00000000000000ff", ClientID(0xff).Value.String())
	assert.Equal(t, "0102", SessionID([]byte{1, 2}).Value.String())
	assert.Equal(t, "", Err(nil).Key)
	assert.Equal(t, "boom", Err(errors.New("boom")).Value.String())
	assert.Equal(t, KeyOp, Op("CB_NULL").Key)
}

// ============================================================================
// Concurrency Tests
// ============================================================================

func TestConcurrentLogging(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	const goroutines, perGoroutine = 10, 100
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				Info("slot released", KeySlotID, id, KeySeqID, j)
			}
		}(i)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, goroutines*perGoroutine)
}

func TestConcurrentLevelChanges(t *testing.T) {
	InitWithWriter(io.Discard, "DEBUG", "text", false)
	defer func() {
		levelVar.Set(slog.LevelInfo)
		InitWithWriter(os.Stdout, "", "", false)
	}()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if j%2 == 0 {
					SetLevel("DEBUG")
				} else {
					SetLevel("ERROR")
				}
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				Debug("d")
				Error("e")
			}
		}()
	}
	wg.Wait()
}

// ============================================================================
// Init Tests
// ============================================================================

func TestInit(t *testing.T) {
	defer func() {
		levelVar.Set(slog.LevelInfo)
		currentFormat.Store("text")
		InitWithWriter(os.Stdout, "", "", false)
	}()

	t.Run("Empty", func(t *testing.T) {
		require.NoError(t, Init(Config{}))
	})

	t.Run("File", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nfscb.log")
		require.NoError(t, Init(Config{Level: "debug", Format: "json", Output: path}))

		Debug("to file", KeyNetID, "tcp6")
		require.NoError(t, Init(Config{Output: "stderr"}))

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"netid":"tcp6"`)
	})

	t.Run("BadPath", func(t *testing.T) {
		err := Init(Config{Output: filepath.Join(t.TempDir(), "missing", "x.log")})
		assert.Error(t, err)
	})
}

// ============================================================================
// Benchmark Tests
// ============================================================================

func BenchmarkLogDisabled(b *testing.B) {
	InitWithWriter(io.Discard, "ERROR", "text", false)
	for i := 0; i < b.N; i++ {
		Debug("test message", "key", "value")
	}
}

func BenchmarkLogCtx(b *testing.B) {
	InitWithWriter(io.Discard, "DEBUG", "json", false)
	ctx := WithContext(context.Background(), NewLogContext(42, "CB_RECALL"))
	for i := 0; i < b.N; i++ {
		InfoCtx(ctx, "test message", "count", i)
	}
}
