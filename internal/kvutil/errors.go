package kvutil

import (
	"errors"

	"github.com/nats-io/nats.go/jetstream"
)

// IsWrongRevision matches the JetStream "wrong last sequence" API error returned
// by revision-conditional Update and Delete calls.
func IsWrongRevision(err error) bool {
	var apiErr *jetstream.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
	}

	return false
}
