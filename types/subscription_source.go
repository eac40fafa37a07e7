package types

import "context"

// SubscriptionSource provides the set of active subscriptions.
//
// Implementations can be backed by:
//   - NATS KV: subscription definitions kept current by a watch feed
//   - A YAML file reloaded on change
//   - Static: fixed list for testing
//
// The balancing job calls ActiveSubscriptions once per pass. The returned list
// may be stale by a bounded amount but must never contain duplicates.
type SubscriptionSource interface {
	// ActiveSubscriptions returns all subscriptions that should receive assignments.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//
	// Returns:
	//   - []Subscription: Active subscriptions with parallelism >= 1
	//   - error: Discovery error (the pass is retried on the next tick)
	ActiveSubscriptions(ctx context.Context) ([]Subscription, error)

	// TargetParallelism returns the desired number of nodes for one active
	// subscription. The second result is false for unknown or inactive names.
	TargetParallelism(name SubscriptionName) (int, bool)
}
