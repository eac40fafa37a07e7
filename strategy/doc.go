// Package strategy provides built-in balancing strategy implementations.
//
// A strategy turns the active subscriptions, the live nodes and the currently
// persisted assignments into a target assignment set. Strategies are pure: they
// never read or write the store.
//
//   - Selective: sticky, capacity-bounded placement (default)
//   - RoundRobin: stateless rotation over nodes
//   - ConsistentHash: hash ring placement, stateless but with low churn
//
// # Strategy Selection Guide
//
// Selective:
//   - Use for consumers whose start/stop is expensive (the usual case)
//   - Keeps every valid assignment; reruns over unchanged inputs change nothing
//   - Spreads new instances onto the least-loaded nodes
//
// RoundRobin:
//   - Use for cheap, stateless consumers
//   - Guarantees even distribution
//   - Reshuffles on every membership change
//
// ConsistentHash:
//   - Use when previous assignments may be unavailable or untrusted
//   - A joining or leaving node only moves its ring neighbours' instances
//   - Distribution is statistical, not exact
//
// Custom strategies can be implemented by satisfying the types.BalancingStrategy interface.
package strategy
