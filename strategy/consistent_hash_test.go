package strategy

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pzmi/hermes/types"
)

func TestConsistentHash_Balance(t *testing.T) {
	t.Run("places every instance on distinct nodes", func(t *testing.T) {
		strategy := NewConsistentHash()
		nodes := []types.Node{node("n0", 10), node("n1", 10), node("n2", 10)}
		subs := []types.Subscription{sub("g.t$a", 3), sub("g.t$b", 2), sub("g.t$c", 1)}

		result := strategy.Balance(subs, nodes, nil)

		requireValid(t, subs, nodes, result)
		require.Equal(t, 0, result.MissingResources)
		require.Equal(t, 6, result.Assignments.Len())
		require.Equal(t, 3, result.Assignments.SubscriptionCount("g.t$a"))
	})

	t.Run("overflows past full nodes", func(t *testing.T) {
		strategy := NewConsistentHash()
		nodes := []types.Node{node("n0", 1), node("n1", 1)}
		subs := []types.Subscription{sub("g.t$a", 1), sub("g.t$b", 1), sub("g.t$c", 1)}

		result := strategy.Balance(subs, nodes, nil)

		requireValid(t, subs, nodes, result)
		require.Equal(t, 2, result.Assignments.Len())
		require.Equal(t, 1, result.MissingResources)
	})

	t.Run("more parallelism than nodes", func(t *testing.T) {
		strategy := NewConsistentHash()
		nodes := []types.Node{node("n0", 5), node("n1", 5)}
		subs := []types.Subscription{sub("g.t$a", 3)}

		result := strategy.Balance(subs, nodes, nil)

		requireValid(t, subs, nodes, result)
		require.Equal(t, 2, result.Assignments.Len())
		require.Equal(t, 1, result.MissingResources)
	})

	t.Run("no nodes", func(t *testing.T) {
		result := NewConsistentHash().Balance([]types.Subscription{sub("g.t$a", 2)}, nil, nil)

		require.Equal(t, 0, result.Assignments.Len())
		require.Equal(t, 2, result.MissingResources)
	})

	t.Run("deterministic regardless of input order", func(t *testing.T) {
		strategy := NewConsistentHash(WithHashSeed(42), WithVirtualNodes(64))
		subs := []types.Subscription{sub("g.t$a", 2), sub("g.t$b", 1), sub("g.t$c", 2)}
		nodes := []types.Node{node("n0", 3), node("n1", 3), node("n2", 3)}

		first := strategy.Balance(subs, nodes, nil)
		second := strategy.Balance(
			[]types.Subscription{subs[2], subs[0], subs[1]},
			[]types.Node{nodes[1], nodes[2], nodes[0]},
			nil,
		)

		require.Equal(t, first.Assignments.All(), second.Assignments.All())
	})

	t.Run("a joining node takes a minority of instances", func(t *testing.T) {
		strategy := NewConsistentHash()
		subs := make([]types.Subscription, 0, 200)
		for i := range 200 {
			subs = append(subs, sub(fmt.Sprintf("g.t$s%d", i), 1))
		}
		before := strategy.Balance(subs, []types.Node{node("n0", 500), node("n1", 500), node("n2", 500)}, nil)
		after := strategy.Balance(subs, []types.Node{node("n0", 500), node("n1", 500), node("n2", 500), node("n3", 500)}, nil)

		moved := 0
		for _, a := range after.Assignments.All() {
			if !before.Assignments.Contains(a.Subscription, a.Node) {
				require.Equal(t, types.NodeID("n3"), a.Node)
				moved++
			}
		}
		require.Less(t, moved, 100)
	})
}
