package source

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/pzmi/hermes/types"
)

// Static implements a subscription source with a fixed list of subscriptions.
type Static struct {
	mu            sync.RWMutex
	subscriptions []types.Subscription
}

var _ types.SubscriptionSource = (*Static)(nil)

// NewStatic creates a new static subscription source.
//
// Useful for tests and for embedding the balancer where the subscriptions are
// known at startup. Duplicate names keep the first occurrence.
//
// Parameters:
//   - subscriptions: Fixed list of subscriptions
//
// Returns:
//   - *Static: Initialized static source
//
// Example:
//
//	src := source.NewStatic([]types.Subscription{
//	    {Name: "pl.allegro.orders$audit", Parallelism: 2},
//	    {Name: "pl.allegro.payments$billing", Parallelism: 1},
//	})
//	balancer, err := hermes.NewBalancer(&cfg, nc, src)
//	if err != nil { /* handle */ }
func NewStatic(subscriptions []types.Subscription) *Static {
	s := &Static{}
	s.Update(subscriptions)

	return s
}

// ActiveSubscriptions returns a copy of the subscription list.
//
// Returns:
//   - []types.Subscription: The subscriptions sorted by name
//   - error: Always nil (never fails)
func (s *Static) ActiveSubscriptions(_ context.Context) ([]types.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.subscriptions), nil
}

// TargetParallelism returns the parallelism of a listed subscription.
func (s *Static) TargetParallelism(name types.SubscriptionName) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, found := slices.BinarySearchFunc(s.subscriptions, name, func(sub types.Subscription, name types.SubscriptionName) int {
		return cmp.Compare(sub.Name, name)
	})
	if !found {
		return 0, false
	}

	return s.subscriptions[i].Parallelism, true
}

// Update replaces the subscription list.
//
// This allows the static source to simulate administrative changes, which is
// useful for testing rebalancing.
//
// Parameters:
//   - subscriptions: New list of subscriptions
func (s *Static) Update(subscriptions []types.Subscription) {
	seen := make(map[types.SubscriptionName]struct{}, len(subscriptions))
	list := make([]types.Subscription, 0, len(subscriptions))
	for _, sub := range subscriptions {
		if _, dup := seen[sub.Name]; dup {
			continue
		}
		seen[sub.Name] = struct{}{}
		list = append(list, sub)
	}
	sortByName(list)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions = list
}
