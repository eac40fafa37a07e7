package types

// BalancingStrategy computes a target assignment set.
//
// The balancing job calls Balance once per pass with freshly read inputs and
// the currently persisted assignments. Implementations must:
//   - Be pure (no I/O, no side effects, previous is not mutated)
//   - Be deterministic (same inputs → same output, regardless of input order)
//   - Produce a result that passes BalancingResult.Validate
type BalancingStrategy interface {
	// Balance computes the target assignments.
	//
	// Parameters:
	//   - subscriptions: Active subscriptions with their target parallelism
	//   - nodes: Live nodes with their capacity
	//   - previous: Currently persisted assignments (may be nil)
	//
	// Returns:
	//   - BalancingResult: Target set plus unplaced parallelism
	Balance(subscriptions []Subscription, nodes []Node, previous *AssignmentSet) BalancingResult
}
