package hooks

import (
	"context"
	"fmt"
	"sync"

	"github.com/pzmi/hermes/types"
)

// Runner invokes hooks in background goroutines.
//
// Hook errors and panics are logged and never reach the caller. Wait blocks
// until all started hooks returned, which lets Stop drain them after the
// context was cancelled.
type Runner struct {
	hooks  types.Hooks
	logger types.Logger
	wg     sync.WaitGroup
}

// NewRunner creates a runner for the given hooks. Nil callbacks become no-ops.
func NewRunner(h *types.Hooks, logger types.Logger) *Runner {
	return &Runner{hooks: Fill(h), logger: logger}
}

// LeadershipChanged runs OnLeadershipChanged.
func (r *Runner) LeadershipChanged(ctx context.Context, leader bool) {
	r.run(ctx, "OnLeadershipChanged", func() error { return r.hooks.OnLeadershipChanged(ctx, leader) })
}

// Balanced runs OnBalanced.
func (r *Runner) Balanced(ctx context.Context, stats types.BalancingStats) {
	r.run(ctx, "OnBalanced", func() error { return r.hooks.OnBalanced(ctx, stats) })
}

// AssignmentsChanged runs OnAssignmentsChanged.
func (r *Runner) AssignmentsChanged(ctx context.Context, added, removed []types.SubscriptionName) {
	r.run(ctx, "OnAssignmentsChanged", func() error { return r.hooks.OnAssignmentsChanged(ctx, added, removed) })
}

// Error runs OnError.
func (r *Runner) Error(ctx context.Context, err error) {
	r.run(ctx, "OnError", func() error { return r.hooks.OnError(ctx, err) })
}

// Wait blocks until every started hook has returned.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) run(ctx context.Context, name string, fn func() error) {
	if ctx.Err() != nil {
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error("hook panicked", "hook", name, "panic", fmt.Sprint(p))
			}
		}()

		if err := fn(); err != nil {
			r.logger.Warn("hook returned error", "hook", name, "error", err)
		}
	}()
}
