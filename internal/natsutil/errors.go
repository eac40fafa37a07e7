// Package natsutil classifies errors returned by the NATS client.
package natsutil

import (
	"context"
	"errors"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/pzmi/hermes/types"
)

// IsConnectivityError checks if an error is caused by connectivity issues.
//
// This includes NATS timeouts, missing servers, disconnections and JetStream
// requests that got no response. Components use it to decide between serving
// cached data and failing the operation.
//
// Parameters:
//   - err: Error to check
//
// Returns:
//   - bool: true if error indicates connectivity issue
func IsConnectivityError(err error) bool {
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, types.ErrConnectivity),
		errors.Is(err, nats.ErrTimeout),
		errors.Is(err, nats.ErrNoServers),
		errors.Is(err, nats.ErrDisconnected),
		errors.Is(err, nats.ErrConnectionClosed),
		errors.Is(err, nats.ErrNoResponders),
		errors.Is(err, jetstream.ErrNoStreamResponse),
		errors.Is(err, context.DeadlineExceeded):
		return true
	}
	msg := err.Error()

	return strings.Contains(msg, "connection refused") || strings.Contains(msg, "i/o timeout")
}
