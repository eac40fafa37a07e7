// Package testing provides test utilities for the workload balancer.
//
// It follows the net/http/httptest convention of shipping test helpers in a
// dedicated package. The main helpers start an embedded NATS server with
// JetStream so integration tests need no external infrastructure.
//
// Key utilities:
//   - StartEmbeddedNATS: single NATS server with JetStream
//   - Connect: extra client connection, one per simulated node
//   - CreateJetStreamKV / CreateJetStreamKVWithTTL: in-memory KV buckets
//   - NewTestLogger: types.Logger writing through t.Logf
//
// Example usage:
//
//	import hermestest "github.com/pzmi/hermes/testing"
//
//	func TestMyComponent(t *testing.T) {
//	    _, nc := hermestest.StartEmbeddedNATS(t)
//	}
package testing
