package registry

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pzmi/hermes/internal/heartbeat"
	"github.com/pzmi/hermes/internal/logging"
	hermestest "github.com/pzmi/hermes/testing"
)

func TestMonitor(t *testing.T) {
	ctx := t.Context()
	_, nc := hermestest.StartEmbeddedNATS(t)
	kv := hermestest.CreateJetStreamKV(t, nc, "nodes")
	putHeartbeat(t, kv, "dc1", heartbeat.Record{ID: "node-a", Capacity: capacityOf(1)})

	var changes atomic.Int32
	monitor := NewMonitor(kv, "dc1", func() { changes.Add(1) }, logging.NewNop())
	require.NoError(t, monitor.Start(ctx))
	require.ErrorIs(t, monitor.Start(ctx), ErrMonitorAlreadyStarted)

	// Existing nodes and refreshes are not changes.
	_, err := kv.Put(ctx, heartbeat.Key("dc1", "node-a"), []byte(`{"id":"node-a"}`))
	require.NoError(t, err)
	time.Sleep(300 * time.Millisecond)
	require.Equal(t, int32(0), changes.Load())

	t.Run("join", func(t *testing.T) {
		putHeartbeat(t, kv, "dc1", heartbeat.Record{ID: "node-b", Capacity: capacityOf(1)})
		require.Eventually(t, func() bool { return changes.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("other clusters are ignored", func(t *testing.T) {
		putHeartbeat(t, kv, "dc2", heartbeat.Record{ID: "node-x", Capacity: capacityOf(1)})
		time.Sleep(300 * time.Millisecond)
		require.Equal(t, int32(1), changes.Load())
	})

	t.Run("graceful leave", func(t *testing.T) {
		require.NoError(t, kv.Delete(ctx, heartbeat.Key("dc1", "node-b")))
		require.Eventually(t, func() bool { return changes.Load() == 2 }, 2*time.Second, 10*time.Millisecond)
	})

	require.NoError(t, monitor.Stop())
	require.ErrorIs(t, monitor.Stop(), ErrMonitorNotStarted)
}
