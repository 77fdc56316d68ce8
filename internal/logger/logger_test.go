package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureOutput redirects logger output to a buffer for testing.
// Returns the buffer and a cleanup function restoring the previous settings.
func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	buf := new(bytes.Buffer)

	mu.Lock()
	originalOutput := output
	originalColor := useColor
	output = buf
	useColor = false
	mu.Unlock()

	originalLevel := GetLevel()
	originalFormat, _ := currentFormat.Load().(string)
	reconfigure()

	t.Cleanup(func() {
		mu.Lock()
		output = originalOutput
		useColor = originalColor
		mu.Unlock()
		SetLevel(originalLevel.String())
		currentFormat.Store(originalFormat)
		reconfigure()
	})
	return buf
}

func TestLevelFiltering(t *testing.T) {
	tests := []struct {
		level   string
		present []string
		absent  []string
	}{
		{"DEBUG", []string{"debug msg", "info msg", "warn msg", "error msg"}, nil},
		{"INFO", []string{"info msg", "warn msg", "error msg"}, []string{"debug msg"}},
		{"WARN", []string{"warn msg", "error msg"}, []string{"debug msg", "info msg"}},
		{"ERROR", []string{"error msg"}, []string{"debug msg", "info msg", "warn msg"}},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			buf := captureOutput(t)
			SetLevel(tt.level)

			Debug("debug msg")
			Info("info msg")
			Warn("warn msg")
			Error("error msg")

			out := buf.String()
			for _, s := range tt.present {
				assert.Contains(t, out, s)
			}
			for _, s := range tt.absent {
				assert.NotContains(t, out, s)
			}
		})
	}
}

func TestSetLevelIgnoresInvalid(t *testing.T) {
	captureOutput(t)
	SetLevel("WARN")
	SetLevel("chatty")
	assert.Equal(t, LevelWarn, GetLevel())
	assert.Equal(t, slog.LevelWarn, levelVar.Level())
}

func TestParseLevel(t *testing.T) {
	l, ok := ParseLevel("warning")
	assert.True(t, ok)
	assert.Equal(t, LevelWarn, l)

	_, ok = ParseLevel("nope")
	assert.False(t, ok)
}

func TestJSONFormat(t *testing.T) {
	buf := captureOutput(t)
	SetLevel("INFO")
	SetFormat("json")

	Info("object resolved", KeyBaseID, "abc", KeyCount, 3)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "object resolved", entry["msg"])
	assert.Equal(t, "abc", entry[KeyBaseID])
	assert.EqualValues(t, 3, entry[KeyCount])
}

func TestTextFormatQuotesAndGroups(t *testing.T) {
	buf := captureOutput(t)
	SetLevel("INFO")
	SetFormat("text")

	Info("queue drained", slog.Group("batch", slog.Int("size", 4)), KeyError, "boom bang")

	out := buf.String()
	assert.Contains(t, out, "queue drained")
	assert.Contains(t, out, "batch.size=4")
	assert.Contains(t, out, `error="boom bang"`)
}

func TestContextFields(t *testing.T) {
	buf := captureOutput(t)
	SetLevel("DEBUG")
	SetFormat("text")

	lc := NewLogContext("run-1", "root-a").WithComponent("loader").WithTrace("t1", "s1")
	ctx := WithContext(context.Background(), lc)

	InfoCtx(ctx, "traversal started")
	out := buf.String()
	assert.Contains(t, out, "trace_id=t1")
	assert.Contains(t, out, "span_id=s1")
	assert.Contains(t, out, "run_id=run-1")
	assert.Contains(t, out, "root_id=root-a")
	assert.Contains(t, out, "component=loader")

	buf.Reset()
	DebugCtx(context.Background(), "no context")
	assert.NotContains(t, buf.String(), "run_id")
}

func TestLogContextCloneIsIndependent(t *testing.T) {
	lc := NewLogContext("run", "root")
	other := lc.WithComponent("server")

	assert.Empty(t, lc.Component)
	assert.Equal(t, "server", other.Component)
	assert.Nil(t, (*LogContext)(nil).Clone())
	assert.Zero(t, (*LogContext)(nil).DurationMs())
}

func TestErrAttr(t *testing.T) {
	assert.True(t, Err(nil).Equal(slog.Attr{}))
	assert.Equal(t, "boom", Err(errors.New("boom")).Value.String())
}

func TestInitWithWriter(t *testing.T) {
	captureOutput(t)
	var buf strings.Builder
	InitWithWriter(&buf, "ERROR", "text", false)

	Warn("hidden")
	Error("visible")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "visible")
}

func TestSetLevelAppliesToExistingHandler(t *testing.T) {
	buf := captureOutput(t)
	SetLevel("INFO")
	SetFormat("text")

	scoped := With(KeyComponent, "writebehind")
	scoped.Debug("before")
	SetLevel("DEBUG")
	scoped.Debug("after")

	out := buf.String()
	assert.NotContains(t, out, "before")
	assert.Contains(t, out, "after")
	assert.Contains(t, out, "component=writebehind")
}

func TestTextHandlerBoundAttrs(t *testing.T) {
	var buf bytes.Buffer
	h := newTextHandler(&buf, slog.LevelDebug, false)
	l := slog.New(h).With(KeyRunID, "r1").WithGroup("store").With("type", "sql")

	l.Info("flushed", KeyCount, 2, "empty", "")

	line := buf.String()
	assert.True(t, strings.HasSuffix(line, "\n"))
	assert.Contains(t, line, "INFO  flushed run_id=r1 store.type=sql store.count=2")
	assert.Contains(t, line, `store.empty=""`)
}
