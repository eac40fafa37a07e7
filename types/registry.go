package types

import "context"

// NodeRegistry knows which consumer nodes are alive and who the leader is.
type NodeRegistry interface {
	// List returns the currently live nodes.
	//
	// A registry that cannot reach its backing store may return the last known
	// list; it returns an error only when it has nothing to offer.
	List(ctx context.Context) ([]Node, error)

	// IsLeader reports whether this process currently holds leadership.
	// Any uncertainty (including errors reaching the store) yields false.
	IsLeader(ctx context.Context) bool

	// OnLeadershipGained registers a callback run when this process becomes leader.
	OnLeadershipGained(fn func())

	// OnLeadershipLost registers a callback run when this process stops being leader.
	OnLeadershipLost(fn func())
}

// WorkTracker persists the assignment set.
type WorkTracker interface {
	// GetAssignments returns a snapshot of the persisted assignments.
	GetAssignments(ctx context.Context) (*AssignmentSet, error)

	// Apply moves the persisted set towards target with the minimal number of
	// individual create and delete operations. It returns the changes that were
	// actually applied, which may be a subset when an error is returned.
	Apply(ctx context.Context, target *AssignmentSet) (WorkDistributionChanges, error)
}
