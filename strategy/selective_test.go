package strategy

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/pzmi/hermes/types"
	"github.com/stretchr/testify/require"
)

func sub(name string, parallelism int) types.Subscription {
	return types.Subscription{Name: types.SubscriptionName(name), Parallelism: parallelism}
}

func node(id string, capacity int) types.Node {
	return types.Node{ID: types.NodeID(id), Capacity: capacity}
}

func assigned(s, n string, revision uint64) types.Assignment {
	return types.Assignment{Subscription: types.SubscriptionName(s), Node: types.NodeID(n), Revision: revision}
}

func requireValid(t *testing.T, subs []types.Subscription, nodes []types.Node, result types.BalancingResult) {
	t.Helper()
	require.NoError(t, result.Validate(subs, nodes))
}

func TestSelective_Scenarios(t *testing.T) {
	strategy := NewSelective()
	subs := []types.Subscription{sub("g.t$A", 2), sub("g.t$B", 1), sub("g.t$C", 3)}

	t.Run("two nodes cannot host three instances of one subscription", func(t *testing.T) {
		nodes := []types.Node{node("N1", 3), node("N2", 3)}

		result := strategy.Balance(subs, nodes, nil)

		requireValid(t, subs, nodes, result)
		// C wants 3 distinct nodes but only 2 exist.
		require.Equal(t, 5, result.Assignments.Len())
		require.Equal(t, 1, result.MissingResources)
		require.LessOrEqual(t, result.Assignments.NodeCount("N1"), 3)
		require.LessOrEqual(t, result.Assignments.NodeCount("N2"), 3)
		require.Equal(t, 2, result.Assignments.SubscriptionCount("g.t$A"))
		require.Equal(t, 1, result.Assignments.SubscriptionCount("g.t$B"))
		require.Equal(t, 2, result.Assignments.SubscriptionCount("g.t$C"))
	})

	t.Run("demand equal to capacity is fully placed on enough nodes", func(t *testing.T) {
		nodes := []types.Node{node("N1", 2), node("N2", 2), node("N3", 2)}

		result := strategy.Balance(subs, nodes, nil)

		requireValid(t, subs, nodes, result)
		require.Equal(t, 6, result.Assignments.Len())
		require.Equal(t, 0, result.MissingResources)
		for _, n := range nodes {
			require.Equal(t, 2, result.Assignments.NodeCount(n.ID))
		}
	})

	t.Run("single node places one instance per subscription", func(t *testing.T) {
		nodes := []types.Node{node("N1", 3)}

		result := strategy.Balance(subs, nodes, nil)

		requireValid(t, subs, nodes, result)
		require.Equal(t, 3, result.Assignments.Len())
		require.Equal(t, 3, result.MissingResources)
		for _, s := range subs {
			require.Equal(t, 1, result.Assignments.SubscriptionCount(s.Name))
		}
	})

	t.Run("satisfied previous set is returned unchanged", func(t *testing.T) {
		nodes := []types.Node{node("N1", 3), node("N2", 3)}
		first := strategy.Balance(subs, nodes, nil)

		second := strategy.Balance(subs, nodes, first.Assignments)

		require.True(t, second.Assignments.Equal(first.Assignments))
		require.True(t, types.Diff(first.Assignments, second.Assignments).IsEmpty())
		require.Equal(t, first.MissingResources, second.MissingResources)
	})
}

func TestSelective_Balance(t *testing.T) {
	strategy := NewSelective()

	t.Run("empty inputs", func(t *testing.T) {
		result := strategy.Balance(nil, nil, nil)
		require.Equal(t, 0, result.Assignments.Len())
		require.Equal(t, 0, result.MissingResources)

		result = strategy.Balance([]types.Subscription{sub("g.t$a", 2)}, nil, nil)
		require.Equal(t, 0, result.Assignments.Len())
		require.Equal(t, 2, result.MissingResources)

		result = strategy.Balance(nil, []types.Node{node("n1", 5)}, nil)
		require.Equal(t, 0, result.Assignments.Len())
	})

	t.Run("drops assignments of inactive subscriptions and dead nodes", func(t *testing.T) {
		subs := []types.Subscription{sub("g.t$a", 1)}
		nodes := []types.Node{node("n1", 2)}
		previous := types.NewAssignmentSet(
			assigned("g.t$a", "n1", 1),
			assigned("g.t$gone", "n1", 2),
			assigned("g.t$a", "dead", 3),
		)

		result := strategy.Balance(subs, nodes, previous)

		requireValid(t, subs, nodes, result)
		require.Equal(t, []types.Assignment{assigned("g.t$a", "n1", 1)}, result.Assignments.All())
		require.Equal(t, 3, previous.Len(), "previous must not be mutated")
	})

	t.Run("lowered parallelism drops the newest assignments", func(t *testing.T) {
		subs := []types.Subscription{sub("g.t$a", 1)}
		nodes := []types.Node{node("n1", 5), node("n2", 5), node("n3", 5)}
		previous := types.NewAssignmentSet(
			assigned("g.t$a", "n1", 30),
			assigned("g.t$a", "n2", 10),
			assigned("g.t$a", "n3", 20),
		)

		result := strategy.Balance(subs, nodes, previous)

		require.Equal(t, []types.NodeID{"n2"}, result.Assignments.Nodes())
	})

	t.Run("lowered capacity drops the newest assignments", func(t *testing.T) {
		subs := []types.Subscription{sub("g.t$a", 1), sub("g.t$b", 1), sub("g.t$c", 1)}
		nodes := []types.Node{node("n1", 2)}
		previous := types.NewAssignmentSet(
			assigned("g.t$a", "n1", 5),
			assigned("g.t$b", "n1", 1),
			assigned("g.t$c", "n1", 3),
		)

		result := strategy.Balance(subs, nodes, previous)

		require.Equal(t, []types.SubscriptionName{"g.t$b", "g.t$c"}, result.Assignments.Subscriptions())
		require.Equal(t, 1, result.MissingResources)
	})

	t.Run("new instances go to the least loaded node", func(t *testing.T) {
		subs := []types.Subscription{sub("g.t$a", 1), sub("g.t$b", 1), sub("g.t$new", 1)}
		nodes := []types.Node{node("n1", 5), node("n2", 5)}
		previous := types.NewAssignmentSet(assigned("g.t$a", "n1", 1), assigned("g.t$b", "n1", 2))

		result := strategy.Balance(subs, nodes, previous)

		require.True(t, result.Assignments.Contains("g.t$new", "n2"))
	})

	t.Run("scarce capacity is shared across subscriptions", func(t *testing.T) {
		subs := []types.Subscription{sub("g.t$a", 3), sub("g.t$b", 3)}
		nodes := []types.Node{node("n1", 1), node("n2", 1), node("n3", 1), node("n4", 1)}

		result := strategy.Balance(subs, nodes, nil)

		requireValid(t, subs, nodes, result)
		require.Equal(t, 2, result.Assignments.SubscriptionCount("g.t$a"))
		require.Equal(t, 2, result.Assignments.SubscriptionCount("g.t$b"))
		require.Equal(t, 2, result.MissingResources)
	})

	t.Run("zero capacity nodes receive nothing", func(t *testing.T) {
		subs := []types.Subscription{sub("g.t$a", 2)}
		nodes := []types.Node{node("n1", 0), node("n2", 1)}

		result := strategy.Balance(subs, nodes, nil)

		require.Equal(t, []types.NodeID{"n2"}, result.Assignments.Nodes())
		require.Equal(t, 1, result.MissingResources)
	})

	t.Run("input order does not matter", func(t *testing.T) {
		subs := []types.Subscription{sub("g.t$c", 2), sub("g.t$a", 1), sub("g.t$b", 2)}
		nodes := []types.Node{node("n3", 2), node("n1", 2), node("n2", 1)}
		reversedSubs := []types.Subscription{subs[2], subs[1], subs[0]}
		reversedNodes := []types.Node{nodes[2], nodes[1], nodes[0]}

		a := strategy.Balance(subs, nodes, nil)
		b := strategy.Balance(reversedSubs, reversedNodes, nil)

		require.True(t, a.Assignments.Equal(b.Assignments))
	})
}

func randomInput(r *rand.Rand) ([]types.Subscription, []types.Node) {
	subs := make([]types.Subscription, r.IntN(30))
	for i := range subs {
		subs[i] = sub(fmt.Sprintf("g.t$s%02d", i), 1+r.IntN(4))
	}
	nodes := make([]types.Node, r.IntN(8))
	for i := range nodes {
		nodes[i] = node(fmt.Sprintf("n%02d", i), r.IntN(10))
	}

	return subs, nodes
}

func TestSelective_Properties(t *testing.T) {
	strategy := NewSelective()
	r := rand.New(rand.NewPCG(42, 7))

	for i := range 200 {
		subs, nodes := randomInput(r)

		t.Run(fmt.Sprintf("case %d", i), func(t *testing.T) {
			first := strategy.Balance(subs, nodes, nil)
			requireValid(t, subs, nodes, first)

			again := strategy.Balance(subs, nodes, nil)
			require.True(t, first.Assignments.Equal(again.Assignments), "determinism")

			fixed := strategy.Balance(subs, nodes, first.Assignments)
			require.True(t, first.Assignments.Equal(fixed.Assignments), "fixed point")
			require.Equal(t, first.MissingResources, fixed.MissingResources)

			demand := 0
			for _, s := range subs {
				demand += s.Parallelism
			}
			require.Equal(t, demand, first.Assignments.Len()+first.MissingResources)

			if len(nodes) == 0 {
				return
			}
			// Remove one node: assignments on the other nodes must survive.
			lost := nodes[r.IntN(len(nodes))]
			remaining := make([]types.Node, 0, len(nodes)-1)
			for _, n := range nodes {
				if n.ID != lost.ID {
					remaining = append(remaining, n)
				}
			}
			repaired := strategy.Balance(subs, remaining, first.Assignments)
			requireValid(t, subs, remaining, repaired)
			for _, a := range first.Assignments.All() {
				if a.Node != lost.ID {
					require.True(t, repaired.Assignments.Contains(a.Subscription, a.Node),
						"assignment %s on %s was moved", a.Subscription, a.Node)
				}
			}
		})
	}
}
