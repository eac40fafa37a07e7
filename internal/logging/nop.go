package logging

import "github.com/pzmi/hermes/types"

// NopLogger discards all log messages.
//
// Example:
//
//	b, err := hermes.NewBalancer(&cfg, nc, src, hermes.WithLogger(logging.NewNop()))
type NopLogger struct{}

var _ types.Logger = (*NopLogger)(nil)

// NewNop creates a logger that discards everything.
func NewNop() *NopLogger {
	return &NopLogger{}
}

func (n *NopLogger) Debug(string, ...any) {}
func (n *NopLogger) Info(string, ...any)  {}
func (n *NopLogger) Warn(string, ...any)  {}
func (n *NopLogger) Error(string, ...any) {}

// Fatal discards the message and does not exit.
func (n *NopLogger) Fatal(string, ...any) {}
