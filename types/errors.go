package types

import (
	"errors"
	"strings"
)

// Sentinel errors for the workload balancer.
//
// Use errors.Is() to check for these conditions. External errors are wrapped
// with context using fmt.Errorf("%s: %w", msg, err).
//
// Error Naming Convention:
//   - Use descriptive names with Err prefix
//   - Group by component (Balancer, Registry, Tracker, Job, etc.)

// Balancer errors - Public API errors returned by the Balancer.
var (
	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrNATSConnectionRequired is returned when NATS connection is nil.
	ErrNATSConnectionRequired = errors.New("NATS connection is required")

	// ErrSubscriptionSourceRequired is returned when the subscription source is nil.
	ErrSubscriptionSourceRequired = errors.New("subscription source is required")

	// ErrAlreadyStarted is returned when Start is called on an already running balancer.
	ErrAlreadyStarted = errors.New("balancer already started")

	// ErrNotStarted is returned when operations require a started balancer.
	ErrNotStarted = errors.New("balancer not started")

	// ErrElectionFailed is returned when leader election fails.
	ErrElectionFailed = errors.New("leader election failed")

	// ErrConnectivity indicates a NATS/KV connectivity issue.
	ErrConnectivity = errors.New("connectivity issue")

	// ErrDegraded indicates the registry has no usable node list, neither fresh nor cached.
	ErrDegraded = errors.New("degraded operation: node list unavailable")
)

// Domain errors - validation of names and balancing results.
var (
	// ErrInvalidSubscriptionName is returned when a name is not of the form <group>.<topic>$<subscription>.
	ErrInvalidSubscriptionName = errors.New("invalid subscription name")

	// ErrInvalidNodeID is returned when a node ID is empty.
	ErrInvalidNodeID = errors.New("invalid node ID")

	// ErrInvariantViolation is returned when a balancing result breaks a structural invariant.
	// A pass that produces such a result is abandoned without mutating the store.
	ErrInvariantViolation = errors.New("balancing invariant violation")
)

// Tracker errors - persisted assignment store.
var (
	// ErrCreateFailed is returned when persisting an assignment fails.
	ErrCreateFailed = errors.New("failed to create assignment")

	// ErrDeleteFailed is returned when removing an assignment fails.
	ErrDeleteFailed = errors.New("failed to delete assignment")

	// ErrMalformedAssignment is returned when a stored assignment key or value cannot be decoded.
	ErrMalformedAssignment = errors.New("malformed assignment entry")
)

// Job errors - leader-gated balancing pass.
var (
	// ErrNotLeader is returned when a pass is attempted without leadership.
	ErrNotLeader = errors.New("not the leader")

	// ErrLeadershipLost is returned when leadership was lost between computation and apply.
	ErrLeadershipLost = errors.New("leadership lost during balancing pass")
)

// Common errors - Shared errors used across multiple components.
var (
	// ErrContextCanceled is returned when an operation is canceled by context.
	ErrContextCanceled = errors.New("operation canceled by context")

	// ErrNoKeysFound is returned when NATS KV returns no keys (expected condition).
	ErrNoKeysFound = errors.New("no keys found")
)

// IsNoKeysFoundError checks if an error indicates that no keys were found in NATS KV.
//
// NATS reports an empty bucket either as a direct error ("nats: no keys found")
// or wrapped by a caller.
//
// Parameters:
//   - err: The error to check
//
// Returns:
//   - bool: true if the error indicates no keys were found, false otherwise
func IsNoKeysFoundError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNoKeysFound) {
		return true
	}

	return strings.Contains(err.Error(), "no keys found")
}
