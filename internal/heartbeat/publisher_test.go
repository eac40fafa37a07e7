package heartbeat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"

	"github.com/pzmi/hermes/internal/logging"
	hermestest "github.com/pzmi/hermes/testing"
	"github.com/pzmi/hermes/types"
)

type heartbeatCounter struct {
	mu      sync.Mutex
	success int
	failure int
}

func (c *heartbeatCounter) RecordHeartbeat(_ string, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if success {
		c.success++
	} else {
		c.failure++
	}
}

func (c *heartbeatCounter) successes() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.success
}

func newPublisher(kv jetstream.KeyValue, interval time.Duration, metrics types.HeartbeatMetrics) *Publisher {
	return New(kv, "dc1", interval, metrics, logging.NewNop())
}

func TestPublisher_Start(t *testing.T) {
	t.Run("publishes record immediately", func(t *testing.T) {
		ctx := t.Context()
		_, nc := hermestest.StartEmbeddedNATS(t)
		kv := hermestest.CreateJetStreamKV(t, nc, "nodes")

		publisher := newPublisher(kv, time.Second, &heartbeatCounter{})
		publisher.SetNode("node-1", 50)

		require.NoError(t, publisher.Start(ctx))
		require.True(t, publisher.IsStarted())

		entry, err := kv.Get(ctx, "dc1.node-1")
		require.NoError(t, err)

		rec, err := Decode(entry.Value())
		require.NoError(t, err)
		require.Equal(t, types.NodeID("node-1"), rec.ID)
		require.NotNil(t, rec.Capacity)
		require.Equal(t, 50, *rec.Capacity)
		require.NotZero(t, rec.PID)
		require.False(t, rec.StartedAt.IsZero())

		require.NoError(t, publisher.Stop(ctx))
	})

	t.Run("returns error if node not set", func(t *testing.T) {
		_, nc := hermestest.StartEmbeddedNATS(t)
		kv := hermestest.CreateJetStreamKV(t, nc, "nodes")

		publisher := newPublisher(kv, time.Second, &heartbeatCounter{})

		require.ErrorIs(t, publisher.Start(t.Context()), ErrNoNodeID)
		require.False(t, publisher.IsStarted())
	})

	t.Run("returns error if already started", func(t *testing.T) {
		ctx := t.Context()
		_, nc := hermestest.StartEmbeddedNATS(t)
		kv := hermestest.CreateJetStreamKV(t, nc, "nodes")

		publisher := newPublisher(kv, time.Second, &heartbeatCounter{})
		publisher.SetNode("node-1", 10)

		require.NoError(t, publisher.Start(ctx))
		require.ErrorIs(t, publisher.Start(ctx), ErrAlreadyStarted)
		require.NoError(t, publisher.Stop(ctx))
	})
}

func TestPublisher_Stop(t *testing.T) {
	t.Run("deletes heartbeat", func(t *testing.T) {
		ctx := t.Context()
		_, nc := hermestest.StartEmbeddedNATS(t)
		kv := hermestest.CreateJetStreamKV(t, nc, "nodes")

		publisher := newPublisher(kv, time.Second, &heartbeatCounter{})
		publisher.SetNode("node-1", 10)
		require.NoError(t, publisher.Start(ctx))

		require.NoError(t, publisher.Stop(ctx))
		require.False(t, publisher.IsStarted())

		_, err := kv.Get(ctx, "dc1.node-1")
		require.ErrorIs(t, err, jetstream.ErrKeyNotFound)
	})

	t.Run("returns error if not started", func(t *testing.T) {
		_, nc := hermestest.StartEmbeddedNATS(t)
		kv := hermestest.CreateJetStreamKV(t, nc, "nodes")

		publisher := newPublisher(kv, time.Second, &heartbeatCounter{})

		require.ErrorIs(t, publisher.Stop(t.Context()), ErrNotStarted)
	})

	t.Run("can restart after stop", func(t *testing.T) {
		ctx := t.Context()
		_, nc := hermestest.StartEmbeddedNATS(t)
		kv := hermestest.CreateJetStreamKV(t, nc, "nodes")

		publisher := newPublisher(kv, time.Second, &heartbeatCounter{})
		publisher.SetNode("node-1", 10)

		require.NoError(t, publisher.Start(ctx))
		require.NoError(t, publisher.Stop(ctx))
		require.NoError(t, publisher.Start(ctx))

		_, err := kv.Get(ctx, "dc1.node-1")
		require.NoError(t, err)
		require.NoError(t, publisher.Stop(ctx))
	})
}

func TestPublisher_Periodic(t *testing.T) {
	ctx := t.Context()
	_, nc := hermestest.StartEmbeddedNATS(t)
	kv := hermestest.CreateJetStreamKV(t, nc, "nodes")

	counter := &heartbeatCounter{}
	publisher := newPublisher(kv, 50*time.Millisecond, counter)
	publisher.SetNode("node-1", 10)
	require.NoError(t, publisher.Start(ctx))
	defer func() { _ = publisher.Stop(context.Background()) }()

	first, err := kv.Get(ctx, "dc1.node-1")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		entry, err := kv.Get(ctx, "dc1.node-1")
		return err == nil && entry.Revision() > first.Revision()
	}, 2*time.Second, 20*time.Millisecond)
	require.GreaterOrEqual(t, counter.successes(), 2)

	t.Run("capacity change is announced by the next heartbeat", func(t *testing.T) {
		publisher.SetNode("node-1", 99)

		require.Eventually(t, func() bool {
			entry, err := kv.Get(ctx, "dc1.node-1")
			if err != nil {
				return false
			}
			rec, err := Decode(entry.Value())
			return err == nil && rec.Capacity != nil && *rec.Capacity == 99
		}, 2*time.Second, 20*time.Millisecond)
	})
}

func TestPublisher_TTLExpiry(t *testing.T) {
	ctx := t.Context()
	_, nc := hermestest.StartEmbeddedNATS(t)
	kv := hermestest.CreateJetStreamKVWithTTL(t, nc, "nodes", time.Second)

	publisher := newPublisher(kv, time.Hour, &heartbeatCounter{})
	publisher.SetNode("node-1", 10)
	require.NoError(t, publisher.Start(ctx))

	// No further heartbeat arrives within the TTL, so the key expires.
	require.Eventually(t, func() bool {
		_, err := kv.Get(ctx, "dc1.node-1")
		return errors.Is(err, jetstream.ErrKeyNotFound)
	}, 5*time.Second, 100*time.Millisecond)

	require.NoError(t, publisher.Stop(ctx))
}

func TestKey(t *testing.T) {
	require.Equal(t, "dc1.node-1", Key("dc1", "node-1"))
	require.Equal(t, "dc1.host=2Elocal_12_ab", Key("dc1", "host.local_12_ab"))
	require.Equal(t, "dc1.>", Filter("dc1"))
}

func TestDecode(t *testing.T) {
	_, err := Decode([]byte("not json"))
	require.Error(t, err)

	_, err = Decode([]byte(`{"capacity":3}`))
	require.ErrorIs(t, err, types.ErrInvalidNodeID)
}
