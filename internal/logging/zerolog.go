package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/pzmi/hermes/types"
)

// ZerologLogger implements types.Logger on top of rs/zerolog.
//
// Key-value pairs are attached as typed fields. Keys that are not strings are
// formatted with %v; a trailing key without value is logged as "<missing>".
type ZerologLogger struct {
	logger zerolog.Logger
}

var _ types.Logger = (*ZerologLogger)(nil)

// NewZerolog wraps an existing zerolog.Logger.
//
// Example:
//
//	zl := zerolog.New(os.Stdout).With().Timestamp().Logger()
//	logger := logging.NewZerolog(zl)
func NewZerolog(logger zerolog.Logger) *ZerologLogger {
	return &ZerologLogger{logger: logger}
}

// NewZerologConsole creates a zerolog logger for the given level name.
//
// Parameters:
//   - w: Output; os.Stderr when nil
//   - level: zerolog level name ("debug", "info", ...); invalid names fall back to info
//   - pretty: true for human-readable console output instead of JSON lines
//
// Returns:
//   - *ZerologLogger: Logger with timestamps enabled
func NewZerologConsole(w io.Writer, level string, pretty bool) *ZerologLogger {
	if w == nil {
		w = os.Stderr
	}
	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	return &ZerologLogger{logger: zerolog.New(w).Level(lvl).With().Timestamp().Logger()}
}

func (l *ZerologLogger) Debug(msg string, keysAndValues ...any) {
	withFields(l.logger.Debug(), keysAndValues).Msg(msg)
}

func (l *ZerologLogger) Info(msg string, keysAndValues ...any) {
	withFields(l.logger.Info(), keysAndValues).Msg(msg)
}

func (l *ZerologLogger) Warn(msg string, keysAndValues ...any) {
	withFields(l.logger.Warn(), keysAndValues).Msg(msg)
}

func (l *ZerologLogger) Error(msg string, keysAndValues ...any) {
	withFields(l.logger.Error(), keysAndValues).Msg(msg)
}

// Fatal logs at fatal level; zerolog exits the process after writing.
func (l *ZerologLogger) Fatal(msg string, keysAndValues ...any) {
	withFields(l.logger.Fatal(), keysAndValues).Msg(msg)
}

func withFields(ev *zerolog.Event, keysAndValues []any) *zerolog.Event {
	if ev == nil {
		return nil
	}
	for i := 0; i < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", keysAndValues[i])
		}
		if i+1 >= len(keysAndValues) {
			ev = ev.Str(key, "<missing>")
			continue
		}
		switch v := keysAndValues[i+1].(type) {
		case error:
			ev = ev.AnErr(key, v)
		case fmt.Stringer:
			ev = ev.Stringer(key, v)
		default:
			ev = ev.Interface(key, v)
		}
	}

	return ev
}
