package job

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pzmi/hermes/internal/hooks"
	"github.com/pzmi/hermes/internal/logging"
	"github.com/pzmi/hermes/strategy"
	"github.com/pzmi/hermes/types"
)

type fakeRegistry struct {
	mu     sync.Mutex
	nodes  []types.Node
	err    error
	leader atomic.Bool
	// leaderChecks scripts IsLeader answers; when exhausted leader is used.
	leaderChecks []bool
	gained       []func()
	lost         []func()
}

func (r *fakeRegistry) List(context.Context) ([]types.Node, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]types.Node(nil), r.nodes...), r.err
}

func (r *fakeRegistry) IsLeader(context.Context) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.leaderChecks) > 0 {
		v := r.leaderChecks[0]
		r.leaderChecks = r.leaderChecks[1:]
		return v
	}

	return r.leader.Load()
}

func (r *fakeRegistry) OnLeadershipGained(fn func()) { r.gained = append(r.gained, fn) }
func (r *fakeRegistry) OnLeadershipLost(fn func())   { r.lost = append(r.lost, fn) }

func (r *fakeRegistry) setNodes(nodes ...types.Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes = nodes
}

type fakeSource struct {
	mu   sync.Mutex
	subs []types.Subscription
}

func (s *fakeSource) ActiveSubscriptions(context.Context) ([]types.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]types.Subscription(nil), s.subs...), nil
}

func (s *fakeSource) TargetParallelism(name types.SubscriptionName) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		if sub.Name == name {
			return sub.Parallelism, true
		}
	}

	return 0, false
}

// fakeTracker keeps assignments in memory and hands out increasing revisions.
type fakeTracker struct {
	mu       sync.Mutex
	set      *types.AssignmentSet
	revision uint64
	applies  int
	applyErr error

	// Optional slow-down and gate, checked before the lock is taken.
	delay       time.Duration
	entered     chan struct{}
	release     chan struct{}
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (t *fakeTracker) GetAssignments(context.Context) (*types.AssignmentSet, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.set.Clone(), nil
}

func (t *fakeTracker) Apply(_ context.Context, target *types.AssignmentSet) (types.WorkDistributionChanges, error) {
	n := t.inFlight.Add(1)
	defer t.inFlight.Add(-1)
	for {
		peak := t.maxInFlight.Load()
		if n <= peak || t.maxInFlight.CompareAndSwap(peak, n) {
			break
		}
	}
	if t.entered != nil {
		t.entered <- struct{}{}
		<-t.release
	}
	time.Sleep(t.delay)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.applies++
	if t.applyErr != nil {
		return types.WorkDistributionChanges{}, t.applyErr
	}

	changes := types.Diff(t.set, target)
	next := t.set.Clone()
	for _, a := range changes.Deleted {
		next.Remove(a.Subscription, a.Node)
	}
	for i, a := range changes.Created {
		t.revision++
		a.Revision = t.revision
		changes.Created[i] = a
		next.Add(a)
	}
	t.set = next

	return changes, nil
}

func (t *fakeTracker) applyCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.applies
}

func (t *fakeTracker) snapshot() *types.AssignmentSet {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.set.Clone()
}

type passRecorder struct {
	mu       sync.Mutex
	outcomes []string
	provider types.StatsProvider
}

func (p *passRecorder) ObserveWorkload(provider types.StatsProvider) { p.provider = provider }

func (p *passRecorder) RecordBalancingPass(outcome string, _ float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outcomes = append(p.outcomes, outcome)
}

func (p *passRecorder) list() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]string(nil), p.outcomes...)
}

type panickingStrategy struct{}

func (panickingStrategy) Balance([]types.Subscription, []types.Node, *types.AssignmentSet) types.BalancingResult {
	panic("boom")
}

// overfillingStrategy ignores node capacity.
type overfillingStrategy struct{}

func (overfillingStrategy) Balance(subs []types.Subscription, nodes []types.Node, _ *types.AssignmentSet) types.BalancingResult {
	set := types.NewAssignmentSet()
	for _, s := range subs {
		for _, n := range nodes {
			set.Add(types.Assignment{Subscription: s.Name, Node: n.ID})
		}
	}

	return types.BalancingResult{Assignments: set}
}

type fixture struct {
	job      *Job
	registry *fakeRegistry
	source   *fakeSource
	tracker  *fakeTracker
	passes   *passRecorder
	errors   atomic.Int32
	balanced atomic.Int32
}

func newFixture(t *testing.T, strat types.BalancingStrategy, interval time.Duration) *fixture {
	t.Helper()
	f := &fixture{
		registry: &fakeRegistry{},
		source: &fakeSource{subs: []types.Subscription{
			{Name: "g.a$s", Parallelism: 2},
			{Name: "g.b$s", Parallelism: 1},
			{Name: "g.c$s", Parallelism: 3},
		}},
		tracker: &fakeTracker{set: types.NewAssignmentSet()},
		passes:  &passRecorder{},
	}
	f.registry.setNodes(types.Node{ID: "n1", Capacity: 3}, types.Node{ID: "n2", Capacity: 3}, types.Node{ID: "n3", Capacity: 2})
	f.registry.leader.Store(true)

	runner := hooks.NewRunner(&types.Hooks{
		OnError: func(context.Context, error) error {
			f.errors.Add(1)
			return nil
		},
		OnBalanced: func(context.Context, types.BalancingStats) error {
			f.balanced.Add(1)
			return nil
		},
	}, logging.NewNop())
	t.Cleanup(runner.Wait)

	f.job = New(Config{
		Registry: f.registry,
		Source:   f.source,
		Tracker:  f.tracker,
		Strategy: strat,
		Interval: interval,
		Metrics:  f.passes,
		Hooks:    runner,
		Logger:   logging.NewNop(),
	})

	return f
}

// lead moves the job into the Leader state for the duration of the test.
func (f *fixture) lead(t *testing.T) {
	t.Helper()
	f.job.OnLeadershipGained()
	t.Cleanup(f.job.OnLeadershipLost)
}

func TestJob_New(t *testing.T) {
	f := newFixture(t, strategy.NewSelective(), time.Hour)

	require.Equal(t, types.JobNotLeader, f.job.State())
	require.Len(t, f.registry.gained, 1)
	require.Len(t, f.registry.lost, 1)
	require.Same(t, f.job, f.passes.provider)
	require.Equal(t, types.BalancingStats{}, f.job.Stats())
}

func TestJob_RunOnce(t *testing.T) {
	t.Run("applies target and publishes counters", func(t *testing.T) {
		f := newFixture(t, strategy.NewSelective(), time.Hour)
		f.lead(t)

		changes, err := f.job.RunOnce(t.Context())
		require.NoError(t, err)
		require.Equal(t, 6, changes.CreatedCount())

		stats := f.job.Stats()
		require.Equal(t, int64(6), stats.AllAssignments)
		require.Zero(t, stats.MissingResources)
		require.Equal(t, int64(6), stats.CreatedAssignments)
		require.Zero(t, stats.DeletedAssignments)
		require.Equal(t, f.tracker.snapshot().Fingerprint(), stats.Fingerprint)
		require.False(t, stats.LastPassAt.IsZero())
		require.Equal(t, []string{OutcomeApplied}, f.passes.list())
		require.Eventually(t, func() bool { return f.balanced.Load() == 1 }, time.Second, 5*time.Millisecond)
	})

	t.Run("rerun with unchanged input is a fixed point", func(t *testing.T) {
		f := newFixture(t, strategy.NewSelective(), time.Hour)
		f.lead(t)

		_, err := f.job.RunOnce(t.Context())
		require.NoError(t, err)
		first := f.tracker.snapshot()

		changes, err := f.job.RunOnce(t.Context())
		require.NoError(t, err)
		require.True(t, changes.IsEmpty())
		require.True(t, first.Equal(f.tracker.snapshot()))

		stats := f.job.Stats()
		require.Equal(t, int64(6), stats.AllAssignments)
		require.Zero(t, stats.CreatedAssignments)
		require.Zero(t, stats.DeletedAssignments)
	})

	t.Run("dead node is repaired without touching others", func(t *testing.T) {
		f := newFixture(t, strategy.NewSelective(), time.Hour)
		f.lead(t)

		_, err := f.job.RunOnce(t.Context())
		require.NoError(t, err)
		before := f.tracker.snapshot()

		f.registry.setNodes(types.Node{ID: "n1", Capacity: 3}, types.Node{ID: "n2", Capacity: 3})
		_, err = f.job.RunOnce(t.Context())
		require.NoError(t, err)

		after := f.tracker.snapshot()
		require.Zero(t, after.NodeCount("n3"))
		for _, a := range before.All() {
			if a.Node != "n3" {
				require.True(t, after.Contains(a.Subscription, a.Node))
			}
		}
		require.Equal(t, int64(before.NodeCount("n3")), f.job.Stats().DeletedAssignments)
	})

	t.Run("scarcity is reported, not failed", func(t *testing.T) {
		f := newFixture(t, strategy.NewSelective(), time.Hour)
		f.lead(t)
		f.registry.setNodes(types.Node{ID: "n1", Capacity: 3})

		_, err := f.job.RunOnce(t.Context())
		require.NoError(t, err)
		require.Equal(t, int64(3), f.job.Stats().MissingResources)
		require.Equal(t, int64(3), f.job.Stats().AllAssignments)
	})

	t.Run("not leader does nothing", func(t *testing.T) {
		f := newFixture(t, strategy.NewSelective(), time.Hour)
		f.lead(t)
		f.registry.leader.Store(false)

		_, err := f.job.RunOnce(t.Context())
		require.ErrorIs(t, err, types.ErrNotLeader)
		require.Zero(t, f.tracker.applyCount())
		require.Empty(t, f.passes.list())
	})

	t.Run("job outside the leader state does nothing", func(t *testing.T) {
		f := newFixture(t, strategy.NewSelective(), time.Hour)

		_, err := f.job.RunOnce(t.Context())
		require.ErrorIs(t, err, types.ErrNotLeader)
		require.Zero(t, f.tracker.applyCount())
	})

	t.Run("leadership lost after compute discards the result", func(t *testing.T) {
		f := newFixture(t, strategy.NewSelective(), time.Hour)
		f.lead(t)
		f.registry.leaderChecks = []bool{true, false}

		_, err := f.job.RunOnce(t.Context())
		require.ErrorIs(t, err, types.ErrLeadershipLost)
		require.Zero(t, f.tracker.applyCount())
		require.Zero(t, f.tracker.snapshot().Len())
		require.Equal(t, []string{OutcomeSkipped}, f.passes.list())
		require.Equal(t, types.BalancingStats{}, f.job.Stats())
	})

	t.Run("read failure keeps previous counters", func(t *testing.T) {
		f := newFixture(t, strategy.NewSelective(), time.Hour)
		f.lead(t)
		_, err := f.job.RunOnce(t.Context())
		require.NoError(t, err)
		before := f.job.Stats()

		f.registry.mu.Lock()
		f.registry.err = errors.New("nats: timeout")
		f.registry.mu.Unlock()

		_, err = f.job.RunOnce(t.Context())
		require.Error(t, err)
		require.Equal(t, 1, f.tracker.applyCount())
		require.Equal(t, before, f.job.Stats())
		require.Equal(t, []string{OutcomeApplied, OutcomeFailed}, f.passes.list())
		require.Eventually(t, func() bool { return f.errors.Load() == 1 }, time.Second, 5*time.Millisecond)
	})

	t.Run("apply failure is reported", func(t *testing.T) {
		f := newFixture(t, strategy.NewSelective(), time.Hour)
		f.lead(t)
		f.tracker.applyErr = types.ErrCreateFailed

		_, err := f.job.RunOnce(t.Context())
		require.ErrorIs(t, err, types.ErrCreateFailed)
		require.Equal(t, []string{OutcomeFailed}, f.passes.list())
		require.Equal(t, types.BalancingStats{}, f.job.Stats())
	})

	t.Run("invalid result is never applied", func(t *testing.T) {
		f := newFixture(t, overfillingStrategy{}, time.Hour)
		f.lead(t)
		f.registry.setNodes(types.Node{ID: "n1", Capacity: 1})

		_, err := f.job.RunOnce(t.Context())
		require.ErrorIs(t, err, types.ErrInvariantViolation)
		require.Zero(t, f.tracker.applyCount())
		require.Equal(t, []string{OutcomeInvalid}, f.passes.list())
	})

	t.Run("panic is recovered", func(t *testing.T) {
		f := newFixture(t, panickingStrategy{}, time.Hour)
		f.lead(t)

		require.NotPanics(t, func() {
			_, err := f.job.RunOnce(t.Context())
			require.ErrorContains(t, err, "panicked")
		})
		require.Equal(t, []string{OutcomeFailed}, f.passes.list())
	})
}

func TestJob_Leadership(t *testing.T) {
	t.Run("driver runs while leader and resets on loss", func(t *testing.T) {
		f := newFixture(t, strategy.NewSelective(), 20*time.Millisecond)

		f.job.OnLeadershipGained()
		require.Equal(t, types.JobLeader, f.job.State())
		require.Eventually(t, func() bool { return f.job.Stats().AllAssignments == 6 }, 2*time.Second, 5*time.Millisecond)

		f.registry.leader.Store(false)
		f.job.OnLeadershipLost()
		require.Equal(t, types.JobNotLeader, f.job.State())
		require.Equal(t, types.BalancingStats{}, f.job.Stats())

		// No pass runs after the driver stopped.
		applies := f.tracker.applyCount()
		time.Sleep(100 * time.Millisecond)
		require.Equal(t, applies, f.tracker.applyCount())
	})

	t.Run("first pass waits one interval", func(t *testing.T) {
		f := newFixture(t, strategy.NewSelective(), 200*time.Millisecond)

		f.job.OnLeadershipGained()
		defer f.job.OnLeadershipLost()

		time.Sleep(50 * time.Millisecond)
		require.Zero(t, f.tracker.applyCount())
		require.Eventually(t, func() bool { return f.tracker.applyCount() >= 1 }, 2*time.Second, 5*time.Millisecond)
	})

	t.Run("trigger runs a pass early", func(t *testing.T) {
		f := newFixture(t, strategy.NewSelective(), time.Hour)

		f.job.Trigger() // dropped: not leader yet
		f.job.OnLeadershipGained()
		defer f.job.OnLeadershipLost()

		time.Sleep(50 * time.Millisecond)
		require.Zero(t, f.tracker.applyCount())

		f.job.Trigger()
		require.Eventually(t, func() bool { return f.tracker.applyCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	})

	t.Run("regaining leadership restarts a single driver", func(t *testing.T) {
		f := newFixture(t, strategy.NewSelective(), time.Hour)

		f.job.OnLeadershipGained()
		f.job.OnLeadershipGained()
		f.job.OnLeadershipLost()
		f.job.OnLeadershipLost()
		require.Equal(t, types.JobNotLeader, f.job.State())
	})

	t.Run("cancelled bind context stops the driver", func(t *testing.T) {
		f := newFixture(t, strategy.NewSelective(), 10*time.Millisecond)
		ctx, cancel := context.WithCancel(t.Context())
		f.job.Bind(ctx)

		f.job.OnLeadershipGained()
		require.Eventually(t, func() bool { return f.tracker.applyCount() >= 1 }, 2*time.Second, 5*time.Millisecond)
		cancel()
		time.Sleep(50 * time.Millisecond)

		applies := f.tracker.applyCount()
		time.Sleep(50 * time.Millisecond)
		require.Equal(t, applies, f.tracker.applyCount())
		f.job.OnLeadershipLost()
	})
}

func TestJob_SerializedPasses(t *testing.T) {
	t.Run("passes never overlap", func(t *testing.T) {
		f := newFixture(t, strategy.NewSelective(), 5*time.Millisecond)
		f.tracker.delay = 10 * time.Millisecond
		f.lead(t)

		var wg sync.WaitGroup
		for range 3 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for range 3 {
					_, _ = f.job.RunOnce(t.Context())
				}
			}()
		}
		wg.Wait()

		require.GreaterOrEqual(t, f.tracker.applyCount(), 9)
		require.Equal(t, int32(1), f.tracker.maxInFlight.Load())
	})

	t.Run("loss waits for an outside pass and keeps counters at zero", func(t *testing.T) {
		f := newFixture(t, strategy.NewSelective(), time.Hour)
		f.tracker.entered = make(chan struct{}, 1)
		f.tracker.release = make(chan struct{})
		f.lead(t)

		passDone := make(chan error, 1)
		go func() {
			_, err := f.job.RunOnce(t.Context())
			passDone <- err
		}()
		<-f.tracker.entered

		lostDone := make(chan struct{})
		go func() {
			f.job.OnLeadershipLost()
			close(lostDone)
		}()

		require.Eventually(t, func() bool { return f.job.State() == types.JobNotLeader }, time.Second, 5*time.Millisecond)
		require.Never(t, func() bool {
			select {
			case <-lostDone:
				return true
			default:
				return false
			}
		}, 50*time.Millisecond, 5*time.Millisecond)

		close(f.tracker.release)
		require.NoError(t, <-passDone)
		<-lostDone

		require.Equal(t, types.JobNotLeader, f.job.State())
		require.Equal(t, types.BalancingStats{}, f.job.Stats())
		require.Equal(t, 6, f.tracker.snapshot().Len())
	})
}
