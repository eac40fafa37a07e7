package hermes

import "github.com/pzmi/hermes/types"

// Sentinel errors returned by the Balancer.
//
// They are aliases of the errors in the types package so that errors.Is works
// with either import.
var (
	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = types.ErrInvalidConfig

	// ErrNATSConnectionRequired is returned when NATS connection is nil.
	ErrNATSConnectionRequired = types.ErrNATSConnectionRequired

	// ErrSubscriptionSourceRequired is returned when the subscription source is nil.
	ErrSubscriptionSourceRequired = types.ErrSubscriptionSourceRequired

	// ErrAlreadyStarted is returned when Start is called on an already running balancer.
	ErrAlreadyStarted = types.ErrAlreadyStarted

	// ErrNotStarted is returned when an operation needs a started balancer.
	ErrNotStarted = types.ErrNotStarted

	// ErrNotLeader is returned by RunOnce on a node that does not lead.
	ErrNotLeader = types.ErrNotLeader

	// ErrLeadershipLost is returned when a pass result was discarded because
	// leadership was lost before applying it.
	ErrLeadershipLost = types.ErrLeadershipLost

	// ErrDegraded is returned when no node list is available at all.
	ErrDegraded = types.ErrDegraded

	// ErrInvariantViolation is returned when a strategy produced an invalid result.
	ErrInvariantViolation = types.ErrInvariantViolation
)
