// Package hooks provides default and asynchronous execution of types.Hooks.
package hooks

import (
	"context"

	"github.com/pzmi/hermes/types"
)

// NopHooks implements every hook as a no-op.
//
// It backs the default Hooks value so callers never need nil checks.
type NopHooks struct{}

var (
	_ func(context.Context, bool) error                                               = (*NopHooks)(nil).OnLeadershipChanged
	_ func(context.Context, types.BalancingStats) error                               = (*NopHooks)(nil).OnBalanced
	_ func(context.Context, []types.SubscriptionName, []types.SubscriptionName) error = (*NopHooks)(nil).OnAssignmentsChanged
	_ func(context.Context, error) error                                              = (*NopHooks)(nil).OnError
)

// NewNop creates hooks with no-op implementations.
func NewNop() types.Hooks {
	return Fill(nil)
}

// Fill returns a copy of h where every nil callback is replaced by a no-op.
//
// Parameters:
//   - h: User hooks (nil means all no-ops)
//
// Returns:
//   - types.Hooks: Hooks with every field set
func Fill(h *types.Hooks) types.Hooks {
	nop := &NopHooks{}
	var out types.Hooks
	if h != nil {
		out = *h
	}
	if out.OnLeadershipChanged == nil {
		out.OnLeadershipChanged = nop.OnLeadershipChanged
	}
	if out.OnBalanced == nil {
		out.OnBalanced = nop.OnBalanced
	}
	if out.OnAssignmentsChanged == nil {
		out.OnAssignmentsChanged = nop.OnAssignmentsChanged
	}
	if out.OnError == nil {
		out.OnError = nop.OnError
	}

	return out
}

// OnLeadershipChanged is a no-op implementation.
func (h *NopHooks) OnLeadershipChanged(_ context.Context, _ bool) error {
	return nil
}

// OnBalanced is a no-op implementation.
func (h *NopHooks) OnBalanced(_ context.Context, _ types.BalancingStats) error {
	return nil
}

// OnAssignmentsChanged is a no-op implementation.
func (h *NopHooks) OnAssignmentsChanged(_ context.Context, _, _ []types.SubscriptionName) error {
	return nil
}

// OnError is a no-op implementation.
func (h *NopHooks) OnError(_ context.Context, _ error) error {
	return nil
}
