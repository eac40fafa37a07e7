package tracker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"

	"github.com/pzmi/hermes/internal/logging"
	hermestest "github.com/pzmi/hermes/testing"
	"github.com/pzmi/hermes/types"
)

type trackerMetrics struct {
	mu      sync.Mutex
	ops     map[string]int
	created int
	deleted int
}

func (m *trackerMetrics) RecordKVOperationDuration(op string, _ float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ops == nil {
		m.ops = make(map[string]int)
	}
	m.ops[op]++
}

func (m *trackerMetrics) RecordAssignmentChange(created, deleted int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created += created
	m.deleted += deleted
}

const (
	subA types.SubscriptionName = "pl.allegro.orders$audit"
	subB types.SubscriptionName = "pl.allegro.payments$billing"
)

func pair(sub types.SubscriptionName, node types.NodeID) types.Assignment {
	return types.Assignment{Subscription: sub, Node: node}
}

func newTracker(t *testing.T) (*Tracker, jetstream.KeyValue, *trackerMetrics) {
	t.Helper()
	_, nc := hermestest.StartEmbeddedNATS(t)
	kv := hermestest.CreateJetStreamKVWithTTL(t, nc, "assignments", 0)
	m := &trackerMetrics{}

	return New(kv, "dc1", m, logging.NewNop()), kv, m
}

func TestTracker_Key(t *testing.T) {
	tr := New(nil, "dc1", &trackerMetrics{}, logging.NewNop())

	key := tr.Key(subA, "host.local_1_ab")
	require.Equal(t, "dc1.assignments.pl=2Eallegro=2Eorders=24audit.host=2Elocal_1_ab", key)

	sub, node, err := tr.parseKey(key)
	require.NoError(t, err)
	require.Equal(t, subA, sub)
	require.Equal(t, types.NodeID("host.local_1_ab"), node)

	for _, bad := range []string{
		"dc2.assignments.a.b",
		"dc1.assignments.onlyone",
		"dc1.assignments.not-a-subscription.node",
		"dc1.assignments.pl=2Ea=24b.n.extra",
	} {
		_, _, err := tr.parseKey(bad)
		require.ErrorIs(t, err, types.ErrMalformedAssignment, bad)
	}
}

func TestTracker_Apply(t *testing.T) {
	t.Run("creates target on empty store", func(t *testing.T) {
		ctx := t.Context()
		tr, _, m := newTracker(t)

		target := types.NewAssignmentSet(pair(subA, "n1"), pair(subA, "n2"), pair(subB, "n1"))
		changes, err := tr.Apply(ctx, target)
		require.NoError(t, err)
		require.Equal(t, 3, changes.CreatedCount())
		require.Zero(t, changes.DeletedCount())
		for _, a := range changes.Created {
			require.NotZero(t, a.Revision)
		}

		persisted, err := tr.GetAssignments(ctx)
		require.NoError(t, err)
		require.True(t, persisted.Equal(target))
		require.Equal(t, 3, m.created)
	})

	t.Run("minimal diff", func(t *testing.T) {
		ctx := t.Context()
		tr, _, m := newTracker(t)

		_, err := tr.Apply(ctx, types.NewAssignmentSet(pair(subA, "n1"), pair(subA, "n2"), pair(subB, "n1")))
		require.NoError(t, err)
		before, err := tr.GetAssignments(ctx)
		require.NoError(t, err)
		kept, _ := before.Get(subA, "n1")

		target := types.NewAssignmentSet(pair(subA, "n1"), pair(subB, "n1"), pair(subB, "n3"))
		changes, err := tr.Apply(ctx, target)
		require.NoError(t, err)
		require.Equal(t, []types.SubscriptionName{subB}, subscriptionsOf(changes.Created))
		require.Equal(t, []types.SubscriptionName{subA}, subscriptionsOf(changes.Deleted))
		require.Equal(t, types.NodeID("n2"), changes.Deleted[0].Node)

		after, err := tr.GetAssignments(ctx)
		require.NoError(t, err)
		require.True(t, after.Equal(target))

		// Untouched pairs keep their revision.
		stillThere, ok := after.Get(subA, "n1")
		require.True(t, ok)
		require.Equal(t, kept.Revision, stillThere.Revision)
		require.Equal(t, 4, m.created)
		require.Equal(t, 1, m.deleted)
	})

	t.Run("unchanged target is a no-op", func(t *testing.T) {
		ctx := t.Context()
		tr, _, _ := newTracker(t)
		target := types.NewAssignmentSet(pair(subA, "n1"))

		_, err := tr.Apply(ctx, target)
		require.NoError(t, err)
		changes, err := tr.Apply(ctx, target)
		require.NoError(t, err)
		require.True(t, changes.IsEmpty())
	})

	t.Run("concurrent create counts as present", func(t *testing.T) {
		ctx := t.Context()
		tr, kv, _ := newTracker(t)

		// Another writer created the key after our read.
		_, err := kv.Create(ctx, tr.Key(subA, "n1"), []byte(`{}`))
		require.NoError(t, err)
		_, created, err := tr.create(ctx, pair(subA, "n1"))
		require.NoError(t, err)
		require.False(t, created)
	})

	t.Run("delete of a rewritten key fails", func(t *testing.T) {
		ctx := t.Context()
		tr, kv, _ := newTracker(t)

		_, err := tr.Apply(ctx, types.NewAssignmentSet(pair(subA, "n1")))
		require.NoError(t, err)
		current, err := tr.GetAssignments(ctx)
		require.NoError(t, err)
		stale, _ := current.Get(subA, "n1")

		_, err = kv.Put(ctx, tr.Key(subA, "n1"), []byte(`{}`))
		require.NoError(t, err)

		done, err := tr.delete(ctx, stale)
		require.False(t, done)
		require.ErrorIs(t, err, types.ErrDeleteFailed)
	})

	t.Run("delete of a vanished key is a no-op", func(t *testing.T) {
		ctx := t.Context()
		tr, kv, _ := newTracker(t)

		_, err := tr.Apply(ctx, types.NewAssignmentSet(pair(subA, "n1")))
		require.NoError(t, err)
		current, err := tr.GetAssignments(ctx)
		require.NoError(t, err)
		stale, _ := current.Get(subA, "n1")
		require.NoError(t, kv.Delete(ctx, tr.Key(subA, "n1")))

		done, err := tr.delete(ctx, stale)
		require.NoError(t, err)
		require.False(t, done)
	})

	t.Run("cancelled context stops before mutating", func(t *testing.T) {
		tr, _, _ := newTracker(t)
		_, err := tr.Apply(t.Context(), types.NewAssignmentSet(pair(subA, "n1")))
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		_, err = tr.Apply(ctx, types.NewAssignmentSet(pair(subB, "n1")))
		require.Error(t, err)

		persisted, err := tr.GetAssignments(t.Context())
		require.NoError(t, err)
		require.True(t, persisted.Contains(subA, "n1"))
		require.False(t, persisted.Contains(subB, "n1"))
	})
}

func TestTracker_GetAssignments(t *testing.T) {
	t.Run("skips malformed entries and other clusters", func(t *testing.T) {
		ctx := t.Context()
		tr, kv, _ := newTracker(t)

		_, err := tr.Apply(ctx, types.NewAssignmentSet(pair(subA, "n1")))
		require.NoError(t, err)
		_, err = kv.Put(ctx, "dc1.assignments.garbage.n1", []byte(`{}`))
		require.NoError(t, err)
		_, err = kv.Put(ctx, "dc2.assignments.pl=2Ea=24b.n1", []byte(`{}`))
		require.NoError(t, err)

		set, err := tr.GetAssignments(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, set.Len())
		require.True(t, set.Contains(subA, "n1"))
	})

	t.Run("unreadable value still counts", func(t *testing.T) {
		ctx := t.Context()
		tr, kv, _ := newTracker(t)

		_, err := kv.Put(ctx, tr.Key(subB, "n2"), []byte("legacy"))
		require.NoError(t, err)

		set, err := tr.GetAssignments(ctx)
		require.NoError(t, err)
		a, ok := set.Get(subB, "n2")
		require.True(t, ok)
		require.False(t, a.CreatedAt.IsZero())
	})
}

func TestTracker_NodeAssignments(t *testing.T) {
	ctx := t.Context()
	tr, _, _ := newTracker(t)

	_, err := tr.Apply(ctx, types.NewAssignmentSet(pair(subA, "n1"), pair(subB, "n1"), pair(subA, "n2")))
	require.NoError(t, err)

	got, err := tr.NodeAssignments(ctx, "n1")
	require.NoError(t, err)
	require.Equal(t, []types.SubscriptionName{subA, subB}, subscriptionsOf(got))

	none, err := tr.NodeAssignments(ctx, "n9")
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestTracker_Clear(t *testing.T) {
	ctx := t.Context()
	tr, _, _ := newTracker(t)

	_, err := tr.Apply(ctx, types.NewAssignmentSet(pair(subA, "n1"), pair(subB, "n2")))
	require.NoError(t, err)

	removed, err := tr.Clear(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, removed)

	set, err := tr.GetAssignments(ctx)
	require.NoError(t, err)
	require.Zero(t, set.Len())
}

func TestTracker_WatchNode(t *testing.T) {
	ctx := t.Context()
	tr, _, _ := newTracker(t)

	_, err := tr.Apply(ctx, types.NewAssignmentSet(pair(subA, "n1"), pair(subB, "n2")))
	require.NoError(t, err)
	// A deleted key must not be replayed as an event.
	_, err = tr.Apply(ctx, types.NewAssignmentSet(pair(subA, "n1"), pair(subB, "n1")))
	require.NoError(t, err)
	_, err = tr.Apply(ctx, types.NewAssignmentSet(pair(subA, "n1")))
	require.NoError(t, err)

	watchCtx, cancel := context.WithCancel(ctx)
	events, err := tr.WatchNode(watchCtx, "n1")
	require.NoError(t, err)

	next := func() types.NodeAssignmentEvent {
		t.Helper()
		select {
		case ev := <-events:
			return ev
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for assignment event")
			return types.NodeAssignmentEvent{}
		}
	}

	ev := next()
	require.Equal(t, types.AssignmentAdded, ev.Type)
	require.Equal(t, subA, ev.Subscription)
	require.Equal(t, types.NodeID("n1"), ev.Node)

	_, err = tr.Apply(ctx, types.NewAssignmentSet(pair(subB, "n1"), pair(subB, "n2")))
	require.NoError(t, err)

	// Deletes are applied before creates.
	ev = next()
	require.Equal(t, types.AssignmentRemoved, ev.Type)
	require.Equal(t, subA, ev.Subscription)
	ev = next()
	require.Equal(t, types.AssignmentAdded, ev.Type)
	require.Equal(t, subB, ev.Subscription)

	cancel()
	require.Eventually(t, func() bool {
		_, ok := <-events
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}

func subscriptionsOf(assignments []types.Assignment) []types.SubscriptionName {
	out := make([]types.SubscriptionName, 0, len(assignments))
	for _, a := range assignments {
		out = append(out, a.Subscription)
	}

	return out
}
