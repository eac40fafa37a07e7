package types

import "context"

// Hooks defines callbacks for balancer events.
//
// All hooks are optional and are called asynchronously in background goroutines
// so they never delay a balancing pass. Hook errors are logged and otherwise
// ignored. The context passed to hooks is cancelled when the balancer stops.
//
// Example:
//
//	hooks := &hermes.Hooks{
//	    OnBalanced: func(ctx context.Context, stats hermes.BalancingStats) error {
//	        if stats.MissingResources > 0 {
//	            alerts <- stats
//	        }
//	        return nil
//	    },
//	}
type Hooks struct {
	// OnLeadershipChanged is called when this node gains or loses leadership.
	OnLeadershipChanged func(ctx context.Context, leader bool) error

	// OnBalanced is called after every applied balancing pass.
	OnBalanced func(ctx context.Context, stats BalancingStats) error

	// OnAssignmentsChanged is called when the set of subscriptions assigned to
	// this node changes (consumer side).
	OnAssignmentsChanged func(ctx context.Context, added, removed []SubscriptionName) error

	// OnError is called when a balancing pass fails.
	OnError func(ctx context.Context, err error) error
}
