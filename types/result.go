package types

import (
	"errors"
	"fmt"
)

// BalancingResult is the output of a balancing pass.
type BalancingResult struct {
	// Assignments is the target assignment set.
	Assignments *AssignmentSet

	// MissingResources is the total parallelism that could not be placed:
	// the sum over subscriptions of target parallelism minus assigned nodes.
	MissingResources int
}

// Validate checks the result against the inputs it was computed from.
//
// The checks are the structural invariants every persisted set must satisfy:
// only active subscriptions and live nodes are referenced, no node exceeds its
// capacity and no subscription exceeds its parallelism. Every violation is
// reported; the returned error wraps ErrInvariantViolation. Duplicate
// subscriptions or nodes count once, the first occurrence wins, matching how
// the strategies read their inputs.
//
// Parameters:
//   - subscriptions: The active subscriptions used as input
//   - nodes: The live nodes used as input
//
// Returns:
//   - error: nil if the result is valid
func (r BalancingResult) Validate(subscriptions []Subscription, nodes []Node) error {
	parallelism := make(map[SubscriptionName]int, len(subscriptions))
	for _, s := range subscriptions {
		if _, seen := parallelism[s.Name]; !seen {
			parallelism[s.Name] = s.Parallelism
		}
	}
	capacity := make(map[NodeID]int, len(nodes))
	for _, n := range nodes {
		if _, seen := capacity[n.ID]; !seen {
			capacity[n.ID] = n.Capacity
		}
	}

	var errs []error
	if r.MissingResources < 0 {
		errs = append(errs, fmt.Errorf("negative missing resources %d", r.MissingResources))
	}
	if r.Assignments == nil {
		if len(errs) > 0 {
			return fmt.Errorf("%w: %w", ErrInvariantViolation, errors.Join(errs...))
		}

		return nil
	}

	for _, sub := range r.Assignments.Subscriptions() {
		p, ok := parallelism[sub]
		if !ok {
			errs = append(errs, fmt.Errorf("subscription %s is not active", sub))
			continue
		}
		if n := r.Assignments.SubscriptionCount(sub); n > p {
			errs = append(errs, fmt.Errorf("subscription %s assigned to %d nodes, parallelism %d", sub, n, p))
		}
	}
	for _, node := range r.Assignments.Nodes() {
		c, ok := capacity[node]
		if !ok {
			errs = append(errs, fmt.Errorf("node %s is not alive", node))
			continue
		}
		if n := r.Assignments.NodeCount(node); n > c {
			errs = append(errs, fmt.Errorf("node %s holds %d subscriptions, capacity %d", node, n, c))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvariantViolation, errors.Join(errs...))
	}

	return nil
}
