// Package hermes balances message-consumer workload across a cluster of
// consumer nodes coordinated through NATS JetStream.
//
// Every node announces itself with a heartbeat, campaigns for leadership and
// watches the subscriptions assigned to it. The elected leader periodically
// reads the live nodes, the active subscriptions and the persisted assignments,
// computes a target assignment and applies the difference as individual
// creates and deletes. Passes are stateless: a new leader continues from the
// persisted assignments, and the algorithm keeps every existing assignment it
// can so consumers are not moved without reason.
//
// # Quick Start
//
//	import (
//	    "github.com/pzmi/hermes"
//	    "github.com/pzmi/hermes/source"
//	)
//
//	cfg := hermes.DefaultConfig()
//	cfg.Cluster = "dc1"
//	cfg.NodeCapacity = hermes.Capacity(100)
//
//	src := source.NewStatic([]hermes.Subscription{
//	    {Name: "pl.allegro.orders$audit", Parallelism: 2},
//	})
//	b, err := hermes.NewBalancer(&cfg, natsConn, src,
//	    hermes.WithHooks(&hermes.Hooks{
//	        OnAssignmentsChanged: func(ctx context.Context, added, removed []hermes.SubscriptionName) error {
//	            return consumers.Reconcile(added, removed)
//	        },
//	    }),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := b.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer b.Stop(context.Background())
//
// # Guarantees
//
// After every completed pass no assignment references an inactive
// subscription or a dead node, no node exceeds its capacity, and no
// subscription has more assignments than its parallelism. When capacity is
// short the shortfall is reported as missing resources instead of failing.
// A pass whose leader lost leadership after computing is discarded without
// touching the store.
//
// # Storage Layout
//
// Three JetStream KV buckets are used: the election bucket (TTL is the
// leadership lease), the node bucket (TTL expires dead nodes) and the
// assignment bucket (no TTL). Keys start with the cluster name, so several
// clusters can share buckets.
package hermes
