package strategy

import (
	"github.com/pzmi/hermes/types"
)

// RoundRobin places subscription instances on nodes in a rotating order.
//
// It ignores previous assignments, so any membership change reshuffles most of
// the fleet. Use it for stateless consumers where churn is cheap, or as a
// baseline when comparing strategies.
type RoundRobin struct{}

var _ types.BalancingStrategy = (*RoundRobin)(nil)

// NewRoundRobin creates a new round-robin strategy.
//
// Returns:
//   - *RoundRobin: Initialized round-robin strategy
//
// Example:
//
//	b, err := hermes.NewBalancer(&cfg, nc, src, hermes.WithStrategy(strategy.NewRoundRobin()))
func NewRoundRobin() *RoundRobin {
	return &RoundRobin{}
}

// Balance assigns instances round-robin.
//
// The algorithm:
//  1. Sort subscriptions and nodes for deterministic assignment
//  2. For every instance of every subscription, starting at a shared cursor, pick
//     the next node that has spare capacity and does not run the subscription yet
//
// The previous set is ignored.
func (rr *RoundRobin) Balance(subscriptions []types.Subscription, nodes []types.Node, _ *types.AssignmentSet) types.BalancingResult {
	subs := normalizeSubscriptions(subscriptions)
	live := normalizeNodes(nodes)
	target := types.NewAssignmentSet()

	missing := 0
	cursor := 0
	for _, sub := range subs {
		for range sub.Parallelism {
			placed := false
			for step := range len(live) {
				n := live[(cursor+step)%len(live)]
				if target.NodeCount(n.ID) >= n.Capacity || target.Contains(sub.Name, n.ID) {
					continue
				}
				target.Add(types.Assignment{Subscription: sub.Name, Node: n.ID})
				cursor = (cursor + step + 1) % len(live)
				placed = true

				break
			}
			if !placed {
				missing++
			}
		}
	}

	return types.BalancingResult{Assignments: target, MissingResources: missing}
}
