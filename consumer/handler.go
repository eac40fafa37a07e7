package consumer

import (
	"context"

	"github.com/nats-io/nats.go/jetstream"
)

// MessageHandler processes messages yielded by the NodeConsumer pull loop.
//
// The loop is single-threaded: Handle is not called for the next message until
// the current call returns, so a blocking handler applies backpressure. When
// Handle returns nil the message is ACKed, otherwise it is NAKed and
// redelivered up to MaxDeliver times. Handlers should be idempotent.
type MessageHandler interface {
	Handle(ctx context.Context, msg jetstream.Msg) error
}

// MessageHandlerFunc is a function adapter for MessageHandler.
type MessageHandlerFunc func(ctx context.Context, msg jetstream.Msg) error

// Handle implements MessageHandler interface.
func (f MessageHandlerFunc) Handle(ctx context.Context, msg jetstream.Msg) error { return f(ctx, msg) }
