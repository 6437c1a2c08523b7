package xlog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestBuilderJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, cleanup, err := New().SetOutput(&buf).SetFormat("json").SetLevel(LevelDebug).Build()
	require.NoError(t, err)
	defer func() { _ = cleanup() }()

	ctx := context.Background()
	logger.Debug(ctx, "debug msg", Count(3))
	logger.Info(ctx, "info msg", Component("xjobstore"), Operation("acquire"))
	logger.Warn(ctx, "warn msg", Err(errors.New("boom")))
	logger.Error(ctx, "error msg", Err(nil))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 4)
	assert.Equal(t, "DEBUG", lines[0]["level"])
	assert.EqualValues(t, 3, lines[0][KeyCount])
	assert.Equal(t, "xjobstore", lines[1][KeyComponent])
	assert.Equal(t, "acquire", lines[1][KeyOperation])
	assert.Equal(t, "boom", lines[2][KeyError])
	assert.NotContains(t, lines[3], KeyError)
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := New().SetOutput(&buf).SetFormat("json").SetLevelString("warn").Build()
	require.NoError(t, err)

	ctx := context.Background()
	logger.Info(ctx, "dropped")
	logger.Warn(ctx, "kept")
	assert.False(t, logger.Enabled(ctx, LevelInfo))

	logger.SetLevel(LevelDebug)
	assert.Equal(t, LevelDebug, logger.GetLevel())
	logger.Debug(ctx, "kept too")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "kept", lines[0]["msg"])
	assert.Equal(t, "kept too", lines[1]["msg"])
}

func TestWithSharesLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := New().SetOutput(&buf).SetFormat("json").Build()
	require.NoError(t, err)

	child := logger.With(Node("node-1"), Component("store"))
	assert.Same(t, logger, logger.With())

	ctx := context.Background()
	child.Debug(ctx, "hidden")
	logger.SetLevel(LevelDebug)
	child.Debug(ctx, "visible")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "node-1", lines[0][KeyNode])
	assert.Equal(t, "store", lines[0][KeyComponent])
}

func TestTraceInjection(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := New().SetOutput(&buf).SetFormat("json").Build()
	require.NoError(t, err)

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	logger.Info(ctx, "traced")
	logger.Info(context.Background(), "untraced")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", lines[0][KeyTraceID])
	assert.Equal(t, "00f067aa0ba902b7", lines[0][KeySpanID])
	assert.NotContains(t, lines[1], KeyTraceID)
}

func TestTraceDisabled(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := New().SetOutput(&buf).SetFormat("json").SetTrace(false).Build()
	require.NoError(t, err)

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(),
		trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID}))
	logger.Info(ctx, "msg")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.NotContains(t, lines[0], KeyTraceID)
}

func TestNewTraceHandlerNil(t *testing.T) {
	_, err := NewTraceHandler(nil)
	assert.ErrorIs(t, err, ErrNilHandler)

	h, err := NewTraceHandler(slog.DiscardHandler)
	require.NoError(t, err)
	assert.NotNil(t, h.WithGroup("g"))
}

func TestBuilderErrors(t *testing.T) {
	_, _, err := New().SetFormat("xml").Build()
	assert.ErrorIs(t, err, ErrUnknownFormat)

	_, _, err = New().SetLevelString("verbose").SetFormat("json").Build()
	assert.ErrorIs(t, err, ErrUnknownLevel)

	_, _, err = New().SetRotation("", RotationConfig{}).Build()
	assert.ErrorIs(t, err, ErrEmptyFilename)
}

func TestRotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.log")
	logger, cleanup, err := New().SetRotation(path, RotationConfig{MaxSizeMB: 1}).SetFormat("json").Build()
	require.NoError(t, err)

	logger.Info(context.Background(), "to file")
	require.NoError(t, cleanup())
	require.NoError(t, cleanup())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file")
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestOnError(t *testing.T) {
	var got []error
	logger, _, err := New().SetOutput(failingWriter{}).SetOnError(func(err error) {
		got = append(got, err)
	}).Build()
	require.NoError(t, err)

	logger.Info(context.Background(), "lost")
	require.Len(t, got, 1)
	assert.Equal(t, uint64(1), ErrorCount(logger))
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{"INFO", LevelInfo},
		{" warning ", LevelWarn},
		{"error", LevelError},
		{"", LevelInfo},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	var l Level
	require.NoError(t, l.UnmarshalText([]byte("warn")))
	assert.Equal(t, LevelWarn, l)
	text, err := l.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "WARN", string(text))
	assert.Error(t, l.UnmarshalText([]byte("loud")))
}

func TestDefaultAndNop(t *testing.T) {
	assert.NotNil(t, Default())
	assert.Same(t, Default(), Default())

	nop := Nop()
	nop.Error(context.Background(), "discarded")
	SetDefault(nop)
	assert.Same(t, nop, Default())
	SetDefault(nil)
	assert.Same(t, nop, Default())
}

func TestAttrs(t *testing.T) {
	assert.Equal(t, "1.5s", Duration(1500*time.Millisecond).Value.String())
	assert.Equal(t, KeyTrigger, Trigger(stringer("g.t")).Key)
	assert.Equal(t, "g.j", Job(stringer("g.j")).Value.String())
	assert.Equal(t, "WAITING", State(stringer("WAITING")).Value.String())
}

type stringer string

func (s stringer) String() string { return string(s) }
