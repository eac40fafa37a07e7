package testing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStartEmbeddedNATS(t *testing.T) {
	ns, nc := StartEmbeddedNATS(t)

	require.NotNil(t, ns)
	require.True(t, nc.IsConnected())
	require.True(t, ns.ReadyForConnections(time.Second))

	second := Connect(t, ns)
	require.True(t, second.IsConnected())
}

func TestStartEmbeddedNATS_Parallel(t *testing.T) {
	t.Parallel()

	for range 3 {
		t.Run("parallel", func(t *testing.T) {
			t.Parallel()

			_, nc := StartEmbeddedNATS(t)
			require.True(t, nc.IsConnected())
		})
	}
}

func TestCreateJetStreamKV(t *testing.T) {
	_, nc := StartEmbeddedNATS(t)
	kv := CreateJetStreamKV(t, nc, "test-bucket")

	ctx := t.Context()
	_, err := kv.Put(ctx, "a.b", []byte("value"))
	require.NoError(t, err)

	entry, err := kv.Get(ctx, "a.b")
	require.NoError(t, err)
	require.Equal(t, "value", string(entry.Value()))

	status, err := kv.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, time.Minute, status.TTL())
}
