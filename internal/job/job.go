package job

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pzmi/hermes/internal/hooks"
	"github.com/pzmi/hermes/types"
)

// Pass outcomes reported to metrics.
const (
	OutcomeApplied = "applied"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
	OutcomeInvalid = "invalid"
)

// Config holds the collaborators of a balancing job.
type Config struct {
	Registry types.NodeRegistry
	Source   types.SubscriptionSource
	Tracker  types.WorkTracker
	Strategy types.BalancingStrategy
	Interval time.Duration
	Metrics  types.JobMetrics
	Hooks    *hooks.Runner
	Logger   types.Logger
}

// Job is the leader-only periodic balancing driver.
//
// It holds no assignment state between passes: every pass reads nodes,
// subscriptions and the persisted assignments, computes a target and applies
// the difference. The only state kept is the counters of the last completed
// pass, which are zero whenever this node is not leader.
type Job struct {
	registry types.NodeRegistry
	source   types.SubscriptionSource
	tracker  types.WorkTracker
	strategy types.BalancingStrategy
	interval time.Duration
	metrics  types.JobMetrics
	hooks    *hooks.Runner
	logger   types.Logger

	state       atomic.Int32
	all         atomic.Int64
	missing     atomic.Int64
	created     atomic.Int64
	deleted     atomic.Int64
	fingerprint atomic.Uint64
	lastPassAt  atomic.Int64
	lastPassDur atomic.Uint64

	trigger chan struct{}

	// passMu is held for the whole of a pass and while counters are reset.
	passMu sync.Mutex

	ctxMu   sync.RWMutex
	baseCtx context.Context

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

var _ types.StatsProvider = (*Job)(nil)

// New creates a job in the NotLeader state.
//
// The job registers its leadership callbacks on the registry; passes start
// once the registry reports leadership gained.
func New(cfg Config) *Job {
	j := &Job{
		registry: cfg.Registry,
		source:   cfg.Source,
		tracker:  cfg.Tracker,
		strategy: cfg.Strategy,
		interval: cfg.Interval,
		metrics:  cfg.Metrics,
		hooks:    cfg.Hooks,
		logger:   cfg.Logger,
		trigger:  make(chan struct{}, 1),
		baseCtx:  context.Background(),
	}
	j.metrics.ObserveWorkload(j)
	j.registry.OnLeadershipGained(j.OnLeadershipGained)
	j.registry.OnLeadershipLost(j.OnLeadershipLost)

	return j
}

// Bind sets the parent context of future drivers and hooks.
// Cancelling it stops a running driver as if leadership was lost.
func (j *Job) Bind(ctx context.Context) {
	j.ctxMu.Lock()
	defer j.ctxMu.Unlock()
	j.baseCtx = ctx
}

// State returns the current job state.
func (j *Job) State() types.JobState {
	return types.JobState(j.state.Load())
}

// OnLeadershipGained starts the periodic driver. The first pass runs one
// interval after leadership was gained.
func (j *Job) OnLeadershipGained() {
	j.mu.Lock()
	defer j.mu.Unlock()

	// A previous driver must be fully stopped before a new one starts.
	if j.done != nil {
		j.cancel()
		<-j.done
	}

	ctx, cancel := context.WithCancel(j.hookContext())
	j.cancel = cancel
	j.done = make(chan struct{})
	j.state.Store(int32(types.JobLeader))
	go j.run(ctx, j.done)

	j.logger.Info("balancing job started", "interval", j.interval)
}

// OnLeadershipLost stops the driver, waits for any in-flight pass to finish
// and resets the counters to zero.
func (j *Job) OnLeadershipLost() {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.state.Store(int32(types.JobNotLeader))
	if j.done != nil {
		j.cancel()
		<-j.done
		j.cancel, j.done = nil, nil
	}

	// Wait out a pass started by RunOnce outside the driver.
	j.passMu.Lock()
	j.reset()
	j.passMu.Unlock()

	j.logger.Info("balancing job stopped")
}

// Trigger requests a pass ahead of the next tick. It is a no-op when the
// driver is not running or a trigger is already pending.
func (j *Job) Trigger() {
	select {
	case j.trigger <- struct{}{}:
	default:
	}
}

// Stats returns the counters of the most recent completed pass.
func (j *Job) Stats() types.BalancingStats {
	stats := types.BalancingStats{
		AllAssignments:     j.all.Load(),
		MissingResources:   j.missing.Load(),
		CreatedAssignments: j.created.Load(),
		DeletedAssignments: j.deleted.Load(),
		Fingerprint:        j.fingerprint.Load(),
		LastPassDuration:   math.Float64frombits(j.lastPassDur.Load()),
	}
	if at := j.lastPassAt.Load(); at != 0 {
		stats.LastPassAt = time.Unix(0, at)
	}

	return stats
}

func (j *Job) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	// Drop a trigger left over from an earlier term.
	select {
	case <-j.trigger:
	default:
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-j.trigger:
		}
		if ctx.Err() != nil {
			return
		}
		_, _ = j.RunOnce(ctx)
	}
}

// RunOnce runs a single balancing pass.
//
// Passes are serialized: a call blocks while another pass is in flight. The
// pass is skipped when the job is not in the Leader state or the registry
// does not confirm leadership, and its result is discarded when leadership
// is lost between computing and applying. A failed pass changes nothing
// persisted and keeps the previous counters.
//
// Returns:
//   - types.WorkDistributionChanges: The changes applied by this pass
//   - error: types.ErrNotLeader, types.ErrLeadershipLost, an invariant violation
//     or the read/apply failure
func (j *Job) RunOnce(ctx context.Context) (changes types.WorkDistributionChanges, err error) {
	j.passMu.Lock()
	defer j.passMu.Unlock()

	if j.State() != types.JobLeader || !j.registry.IsLeader(ctx) {
		return changes, types.ErrNotLeader
	}

	start := time.Now()
	outcome := OutcomeFailed
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("balancing pass panicked: %v", p)
			outcome = OutcomeFailed
		}

		elapsed := time.Since(start)
		j.metrics.RecordBalancingPass(outcome, elapsed.Seconds())

		switch {
		case err == nil:
		case errors.Is(err, types.ErrLeadershipLost):
			j.logger.Info("leadership lost before applying assignments, result discarded", "duration", elapsed)
		default:
			j.logger.Error("balancing pass failed", "outcome", outcome, "duration", elapsed, "error", err)
			j.hooks.Error(j.hookContext(), err)
		}
	}()

	var (
		nodes   []types.Node
		subs    []types.Subscription
		current *types.AssignmentSet
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(recovered(func() (err error) {
		nodes, err = j.registry.List(gctx)
		return err
	}))
	g.Go(recovered(func() (err error) {
		subs, err = j.source.ActiveSubscriptions(gctx)
		return err
	}))
	g.Go(recovered(func() (err error) {
		current, err = j.tracker.GetAssignments(gctx)
		return err
	}))
	if err := g.Wait(); err != nil {
		return changes, fmt.Errorf("failed to read balancing inputs: %w", err)
	}

	result := j.strategy.Balance(subs, nodes, current)
	if err := result.Validate(subs, nodes); err != nil {
		outcome = OutcomeInvalid
		return changes, err
	}

	if !j.registry.IsLeader(ctx) {
		outcome = OutcomeSkipped
		return changes, types.ErrLeadershipLost
	}

	changes, err = j.tracker.Apply(ctx, result.Assignments)
	if err != nil {
		return changes, fmt.Errorf("failed to apply assignments: %w", err)
	}
	outcome = OutcomeApplied

	elapsed := time.Since(start)
	if j.State() != types.JobLeader {
		// Leadership went away during Apply; counters stay at zero.
		return changes, nil
	}
	j.all.Store(int64(result.Assignments.Len()))
	j.missing.Store(int64(result.MissingResources))
	j.created.Store(int64(changes.CreatedCount()))
	j.deleted.Store(int64(changes.DeletedCount()))
	j.fingerprint.Store(result.Assignments.Fingerprint())
	j.lastPassAt.Store(start.UnixNano())
	j.lastPassDur.Store(math.Float64bits(elapsed.Seconds()))

	stats := j.Stats()
	if changes.IsEmpty() {
		j.logger.Debug("balancing pass applied, no changes",
			"assignments", stats.AllAssignments,
			"missing", stats.MissingResources,
		)
	} else {
		j.logger.Info("balancing pass applied",
			"assignments", stats.AllAssignments,
			"missing", stats.MissingResources,
			"created", stats.CreatedAssignments,
			"deleted", stats.DeletedAssignments,
			"nodes", len(nodes),
			"subscriptions", len(subs),
			"fingerprint", fmt.Sprintf("%016x", stats.Fingerprint),
			"duration", elapsed,
		)
	}
	j.hooks.Balanced(j.hookContext(), stats)

	return changes, nil
}

// recovered turns a panic in fn into an error so it cannot escape an errgroup goroutine.
func recovered(fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("panic while reading balancing inputs: %v", p)
			}
		}()

		return fn()
	}
}

func (j *Job) hookContext() context.Context {
	j.ctxMu.RLock()
	defer j.ctxMu.RUnlock()

	return j.baseCtx
}

func (j *Job) reset() {
	j.all.Store(0)
	j.missing.Store(0)
	j.created.Store(0)
	j.deleted.Store(0)
	j.fingerprint.Store(0)
	j.lastPassAt.Store(0)
	j.lastPassDur.Store(0)
}
