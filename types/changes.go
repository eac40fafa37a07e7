package types

// WorkDistributionChanges is the difference between a persisted assignment set
// and a target set: the pairs to create and the pairs to delete.
type WorkDistributionChanges struct {
	Created []Assignment
	Deleted []Assignment
}

// Diff computes the changes that turn current into target.
//
// Created holds pairs present only in target, Deleted holds pairs present only
// in current. Deleted entries keep current's revision so the store can apply
// revision-conditional deletes. Both slices are sorted by subscription, then node.
//
// Parameters:
//   - current: The persisted set (nil means empty)
//   - target: The desired set (nil means empty)
//
// Returns:
//   - WorkDistributionChanges: The minimal set of mutations
func Diff(current, target *AssignmentSet) WorkDistributionChanges {
	var changes WorkDistributionChanges
	for _, a := range current.All() {
		if target.Len() == 0 || !target.Contains(a.Subscription, a.Node) {
			changes.Deleted = append(changes.Deleted, a)
		}
	}
	for _, a := range target.All() {
		if current.Len() == 0 || !current.Contains(a.Subscription, a.Node) {
			changes.Created = append(changes.Created, a)
		}
	}

	return changes
}

// CreatedCount returns the number of created assignments.
func (c WorkDistributionChanges) CreatedCount() int {
	return len(c.Created)
}

// DeletedCount returns the number of deleted assignments.
func (c WorkDistributionChanges) DeletedCount() int {
	return len(c.Deleted)
}

// IsEmpty reports whether applying the changes would be a no-op.
func (c WorkDistributionChanges) IsEmpty() bool {
	return len(c.Created) == 0 && len(c.Deleted) == 0
}
