// Package types provides core type definitions and interfaces for the workload balancer.
//
// This package contains shared types that are used across multiple packages of the
// module. Keeping them in a separate package avoids import cycles between the root
// hermes package and its internal implementations.
//
// Key types:
//   - Subscription / SubscriptionName: the unit of work being balanced
//   - Node / NodeID: a live consumer process with a capacity
//   - Assignment / AssignmentSet: the (subscription, node) relation, indexed both ways
//   - WorkDistributionChanges: the diff between a persisted and a target set
//   - BalancingResult: the output of a BalancingStrategy
//   - Logger / MetricsCollector / Hooks: ambient collaborators
package types
