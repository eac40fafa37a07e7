package strategy

import (
	"github.com/pzmi/hermes/internal/hash"
	"github.com/pzmi/hermes/types"
)

// ConsistentHash places subscription instances by walking a hash ring.
//
// The instances of a subscription go to the first nodes clockwise from the
// hash of its name that have spare capacity. Like RoundRobin it ignores the
// previous assignments, but a membership change only moves the instances
// adjacent to the joining or leaving node.
type ConsistentHash struct {
	virtualNodes int
	hashSeed     uint64
}

var _ types.BalancingStrategy = (*ConsistentHash)(nil)

// ConsistentHashOption configures a ConsistentHash strategy.
type ConsistentHashOption func(*ConsistentHash)

// NewConsistentHash creates a consistent hash strategy.
//
// Parameters:
//   - opts: Optional configuration (WithVirtualNodes, WithHashSeed)
//
// Returns:
//   - *ConsistentHash: Strategy with 150 virtual nodes per node by default
//
// Example:
//
//	b, err := hermes.NewBalancer(&cfg, nc, src,
//	    hermes.WithStrategy(strategy.NewConsistentHash(strategy.WithVirtualNodes(300))))
func NewConsistentHash(opts ...ConsistentHashOption) *ConsistentHash {
	ch := &ConsistentHash{virtualNodes: 150}
	for _, opt := range opts {
		opt(ch)
	}
	if ch.virtualNodes <= 0 {
		ch.virtualNodes = 150
	}

	return ch
}

// WithVirtualNodes sets the number of virtual nodes per node.
//
// Higher values smooth the distribution at the cost of memory. Recommended
// range: 100-300.
func WithVirtualNodes(n int) ConsistentHashOption {
	return func(ch *ConsistentHash) {
		ch.virtualNodes = n
	}
}

// WithHashSeed sets the ring hash seed.
func WithHashSeed(seed uint64) ConsistentHashOption {
	return func(ch *ConsistentHash) {
		ch.hashSeed = seed
	}
}

// Balance computes the target set from the ring. The previous set is ignored.
func (ch *ConsistentHash) Balance(subscriptions []types.Subscription, nodes []types.Node, _ *types.AssignmentSet) types.BalancingResult {
	subs := normalizeSubscriptions(subscriptions)
	live := normalizeNodes(nodes)

	capacity := make(map[types.NodeID]int, len(live))
	ids := make([]types.NodeID, 0, len(live))
	for _, n := range live {
		capacity[n.ID] = n.Capacity
		ids = append(ids, n.ID)
	}
	ring := hash.NewRing(ids, ch.virtualNodes, ch.hashSeed)
	target := types.NewAssignmentSet()

	missing := 0
	for _, sub := range subs {
		placed := 0
		ring.Walk(string(sub.Name), func(id types.NodeID) bool {
			if placed == sub.Parallelism {
				return false
			}
			if target.NodeCount(id) < capacity[id] {
				target.Add(types.Assignment{Subscription: sub.Name, Node: id})
				placed++
			}

			return placed < sub.Parallelism
		})
		missing += sub.Parallelism - placed
	}

	return types.BalancingResult{Assignments: target, MissingResources: missing}
}
