package types

// Logger is the structured logger used by every component.
//
// It matches the method set of zap.SugaredLogger; implementations for slog and
// zerolog live in internal/logging. Arguments after msg are alternating
// key-value pairs.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)

	// Fatal logs at fatal level and terminates the process with os.Exit(1).
	Fatal(msg string, keysAndValues ...any)
}
