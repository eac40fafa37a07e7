package logging

import "github.com/pzmi/hermes/types"

// With returns a logger that prepends fixed key-value pairs to every call.
//
// Components use it to tag their output, e.g. logging.With(logger, "component", "tracker").
// A nil logger yields a NopLogger.
func With(logger types.Logger, keysAndValues ...any) types.Logger {
	if logger == nil {
		return NewNop()
	}
	if len(keysAndValues) == 0 {
		return logger
	}
	if inner, ok := logger.(*fieldLogger); ok {
		return &fieldLogger{next: inner.next, fields: append(append([]any{}, inner.fields...), keysAndValues...)}
	}

	return &fieldLogger{next: logger, fields: append([]any{}, keysAndValues...)}
}

type fieldLogger struct {
	next   types.Logger
	fields []any
}

var _ types.Logger = (*fieldLogger)(nil)

func (l *fieldLogger) merge(keysAndValues []any) []any {
	out := make([]any, 0, len(l.fields)+len(keysAndValues))
	out = append(out, l.fields...)

	return append(out, keysAndValues...)
}

func (l *fieldLogger) Debug(msg string, keysAndValues ...any) {
	l.next.Debug(msg, l.merge(keysAndValues)...)
}

func (l *fieldLogger) Info(msg string, keysAndValues ...any) {
	l.next.Info(msg, l.merge(keysAndValues)...)
}

func (l *fieldLogger) Warn(msg string, keysAndValues ...any) {
	l.next.Warn(msg, l.merge(keysAndValues)...)
}

func (l *fieldLogger) Error(msg string, keysAndValues ...any) {
	l.next.Error(msg, l.merge(keysAndValues)...)
}

func (l *fieldLogger) Fatal(msg string, keysAndValues ...any) {
	l.next.Fatal(msg, l.merge(keysAndValues)...)
}
