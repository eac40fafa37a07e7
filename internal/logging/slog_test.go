package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferedSlog(level slog.Level) (*SlogLogger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	handler := slog.NewTextHandler(buf, &slog.HandlerOptions{Level: level})

	return NewSlog(slog.New(handler)), buf
}

func TestSlogLogger_Levels(t *testing.T) {
	tests := []struct {
		name  string
		log   func(l *SlogLogger)
		level string
	}{
		{name: "debug", log: func(l *SlogLogger) { l.Debug("message", "key", "value") }, level: "level=DEBUG"},
		{name: "info", log: func(l *SlogLogger) { l.Info("message", "key", "value") }, level: "level=INFO"},
		{name: "warn", log: func(l *SlogLogger) { l.Warn("message", "key", "value") }, level: "level=WARN"},
		{name: "error", log: func(l *SlogLogger) { l.Error("message", "key", "value") }, level: "level=ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, buf := newBufferedSlog(slog.LevelDebug)
			tt.log(logger)

			output := buf.String()
			assert.Contains(t, output, "msg=message")
			assert.Contains(t, output, "key=value")
			assert.Contains(t, output, tt.level)
		})
	}
}

func TestSlogLogger_RespectsLevel(t *testing.T) {
	logger, buf := newBufferedSlog(slog.LevelWarn)
	logger.Info("hidden")
	require.Empty(t, buf.String())

	require.NotNil(t, NewSlogDefault())
}

func TestZerologLogger(t *testing.T) {
	t.Run("writes typed fields", func(t *testing.T) {
		buf := &bytes.Buffer{}
		logger := NewZerolog(zerolog.New(buf))

		logger.Error("pass failed", "error", errors.New("boom"), "count", 3, "dangling")

		output := buf.String()
		assert.Contains(t, output, `"level":"error"`)
		assert.Contains(t, output, `"message":"pass failed"`)
		assert.Contains(t, output, `"error":"boom"`)
		assert.Contains(t, output, `"count":3`)
		assert.Contains(t, output, `"dangling":"<missing>"`)
	})

	t.Run("console constructor filters by level", func(t *testing.T) {
		buf := &bytes.Buffer{}
		logger := NewZerologConsole(buf, "warn", false)

		logger.Info("hidden")
		logger.Debug("hidden")
		require.Empty(t, buf.String())

		logger.Warn("shown")
		assert.Contains(t, buf.String(), "shown")
	})

	t.Run("invalid level falls back to info", func(t *testing.T) {
		buf := &bytes.Buffer{}
		logger := NewZerologConsole(buf, "nonsense", false)

		logger.Debug("hidden")
		logger.Info("shown")
		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "shown")
	})
}

func TestWith(t *testing.T) {
	logger, buf := newBufferedSlog(slog.LevelDebug)

	tagged := With(With(logger, "component", "tracker"), "cluster", "c1")
	tagged.Info("applied", "created", 2)

	output := buf.String()
	assert.Contains(t, output, "component=tracker")
	assert.Contains(t, output, "cluster=c1")
	assert.Contains(t, output, "created=2")

	require.Same(t, logger, With(logger))
	require.IsType(t, &NopLogger{}, With(nil, "k", "v"))
}

func TestNopLogger(t *testing.T) {
	logger := NewNop()
	require.NotPanics(t, func() {
		logger.Debug("m", "k", "v")
		logger.Info("m")
		logger.Warn("m")
		logger.Error("m")
		logger.Fatal("m")
	})
}
