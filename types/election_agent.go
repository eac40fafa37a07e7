package types

import "context"

// ElectionAgent handles leader election among balancer nodes.
//
// Exactly one node runs balancing passes at a time. The election latch drives
// an ElectionAgent from its background loop:
//   - RequestLeadership while not leader
//   - RenewLeadership every lease/3 while leader
//   - ReleaseLeadership on shutdown so another node can take over quickly
//
// The built-in implementation uses a NATS KV bucket whose TTL is the lease.
// Other coordination services (ZooKeeper, etcd, Consul) can be plugged in.
type ElectionAgent interface {
	// RequestLeadership attempts to acquire leadership.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - nodeID: The node requesting leadership
	//   - leaseDuration: Lease duration in seconds
	//
	// Returns:
	//   - bool: true if leadership was acquired or is already held
	//   - error: Election error (nil on success)
	RequestLeadership(ctx context.Context, nodeID string, leaseDuration int64) (bool, error)

	// RenewLeadership extends the current lease.
	// It fails when leadership was lost to another node.
	RenewLeadership(ctx context.Context) error

	// ReleaseLeadership voluntarily gives up leadership.
	ReleaseLeadership(ctx context.Context) error

	// IsLeader confirms leadership against the coordination store.
	IsLeader(ctx context.Context) (bool, error)
}
