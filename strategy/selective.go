package strategy

import (
	"cmp"
	"slices"

	"github.com/pzmi/hermes/types"
)

// Selective implements sticky, capacity-bounded assignment of subscriptions to nodes.
//
// Each subscription is run by up to its target parallelism of distinct nodes and
// each node runs at most its capacity of subscriptions. Valid previous
// assignments are always kept, so a rerun over unchanged inputs is a fixed point
// and a lost node only causes its own assignments to move.
type Selective struct{}

var _ types.BalancingStrategy = (*Selective)(nil)

// NewSelective creates a new selective strategy.
//
// Returns:
//   - *Selective: Initialized strategy
//
// Example:
//
//	b, err := hermes.NewBalancer(&cfg, nc, src, hermes.WithStrategy(strategy.NewSelective()))
func NewSelective() *Selective {
	return &Selective{}
}

// Balance computes the target assignment set.
//
// The algorithm:
//  1. Keep previous assignments whose subscription is active and whose node is alive
//  2. Trim subscriptions above their parallelism, dropping the newest assignments first
//  3. Trim nodes above their capacity, dropping the newest assignments first
//  4. Fill in rounds: each round visits every subscription with a deficit (largest
//     deficit first, then by name) and places one more instance on the least-loaded
//     node that has spare capacity and does not already run it (ties by node ID)
//  5. Report the remaining deficit as MissingResources
//
// Validity takes priority over stability, stability over fairness, fairness over
// completeness: a subscription is never placed twice on the same node, so a
// subscription wanting more nodes than exist stays partially placed.
//
// Parameters:
//   - subscriptions: Active subscriptions with target parallelism
//   - nodes: Live nodes with capacity
//   - previous: Currently persisted assignments (not modified)
//
// Returns:
//   - types.BalancingResult: Target set and missing resources
func (s *Selective) Balance(subscriptions []types.Subscription, nodes []types.Node, previous *types.AssignmentSet) types.BalancingResult {
	subs := normalizeSubscriptions(subscriptions)
	live := normalizeNodes(nodes)

	parallelism := make(map[types.SubscriptionName]int, len(subs))
	for _, sub := range subs {
		parallelism[sub.Name] = sub.Parallelism
	}
	capacity := make(map[types.NodeID]int, len(live))
	for _, n := range live {
		capacity[n.ID] = n.Capacity
	}

	target := types.NewAssignmentSet()
	for _, a := range previous.All() {
		_, active := parallelism[a.Subscription]
		_, alive := capacity[a.Node]
		if active && alive {
			target.Add(a)
		}
	}

	for _, sub := range subs {
		trimNewest(target, target.ForSubscription(sub.Name), target.SubscriptionCount(sub.Name)-sub.Parallelism)
	}
	for _, n := range live {
		trimNewest(target, target.ForNode(n.ID), target.NodeCount(n.ID)-n.Capacity)
	}

	fill(target, subs, live)

	missing := 0
	for _, sub := range subs {
		if d := sub.Parallelism - target.SubscriptionCount(sub.Name); d > 0 {
			missing += d
		}
	}

	return types.BalancingResult{Assignments: target, MissingResources: missing}
}

// trimNewest removes the excess newest assignments from the candidates.
func trimNewest(target *types.AssignmentSet, candidates []types.Assignment, excess int) {
	if excess <= 0 {
		return
	}
	slices.SortFunc(candidates, newestFirst)
	for _, a := range candidates[:excess] {
		target.Remove(a.Subscription, a.Node)
	}
}

// newestFirst orders by revision descending. Unpersisted assignments carry
// revision 0 and therefore count as oldest; remaining ties fall back to the
// reverse of the natural (subscription, node) order.
func newestFirst(a, b types.Assignment) int {
	if c := cmp.Compare(b.Revision, a.Revision); c != 0 {
		return c
	}
	if c := cmp.Compare(b.Subscription, a.Subscription); c != 0 {
		return c
	}

	return cmp.Compare(b.Node, a.Node)
}

type nodeLoad struct {
	id       types.NodeID
	load     int
	capacity int
}

func compareLoad(a, b *nodeLoad) int {
	if c := cmp.Compare(a.load, b.load); c != 0 {
		return c
	}

	return cmp.Compare(a.id, b.id)
}

func fill(target *types.AssignmentSet, subs []types.Subscription, live []types.Node) {
	// open holds nodes with spare capacity ordered by (load, id).
	open := make([]*nodeLoad, 0, len(live))
	for _, n := range live {
		if load := target.NodeCount(n.ID); load < n.Capacity {
			open = append(open, &nodeLoad{id: n.ID, load: load, capacity: n.Capacity})
		}
	}
	slices.SortFunc(open, compareLoad)

	pending := make([]types.Subscription, 0, len(subs))
	for _, sub := range subs {
		if target.SubscriptionCount(sub.Name) < sub.Parallelism {
			pending = append(pending, sub)
		}
	}

	for len(open) > 0 && len(pending) > 0 {
		slices.SortStableFunc(pending, func(a, b types.Subscription) int {
			da := a.Parallelism - target.SubscriptionCount(a.Name)
			db := b.Parallelism - target.SubscriptionCount(b.Name)
			if c := cmp.Compare(db, da); c != 0 {
				return c
			}

			return cmp.Compare(a.Name, b.Name)
		})

		placed := false
		next := pending[:0]
		for _, sub := range pending {
			idx := slices.IndexFunc(open, func(n *nodeLoad) bool {
				return !target.Contains(sub.Name, n.id)
			})
			if idx < 0 {
				// Every node with spare capacity already runs it; later
				// rounds only shrink open, so it can never be placed.
				continue
			}

			node := open[idx]
			target.Add(types.Assignment{Subscription: sub.Name, Node: node.id})
			node.load++
			placed = true
			open = reposition(open, idx)

			if target.SubscriptionCount(sub.Name) < sub.Parallelism {
				next = append(next, sub)
			}
			if len(open) == 0 {
				break
			}
		}
		pending = next

		if !placed {
			break
		}
	}
}

// reposition restores (load, id) order after open[idx].load was incremented,
// removing the node once it is full.
func reposition(open []*nodeLoad, idx int) []*nodeLoad {
	node := open[idx]
	if node.load >= node.capacity {
		return slices.Delete(open, idx, idx+1)
	}
	for idx+1 < len(open) && compareLoad(open[idx+1], node) < 0 {
		open[idx], open[idx+1] = open[idx+1], open[idx]
		idx++
	}

	return open
}

// normalizeSubscriptions sorts by name and drops duplicates (first wins) and
// negative parallelism.
func normalizeSubscriptions(in []types.Subscription) []types.Subscription {
	out := slices.Clone(in)
	slices.SortStableFunc(out, func(a, b types.Subscription) int {
		return cmp.Compare(a.Name, b.Name)
	})
	out = slices.CompactFunc(out, func(a, b types.Subscription) bool {
		return a.Name == b.Name
	})
	for i := range out {
		out[i].Parallelism = max(out[i].Parallelism, 0)
	}

	return out
}

// normalizeNodes sorts by ID and drops duplicates (first wins) and negative capacity.
func normalizeNodes(in []types.Node) []types.Node {
	out := slices.Clone(in)
	slices.SortStableFunc(out, func(a, b types.Node) int {
		return cmp.Compare(a.ID, b.ID)
	})
	out = slices.CompactFunc(out, func(a, b types.Node) bool {
		return a.ID == b.ID
	})
	for i := range out {
		out[i].Capacity = max(out[i].Capacity, 0)
	}

	return out
}
