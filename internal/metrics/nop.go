// Package metrics provides types.MetricsCollector implementations.
package metrics

import "github.com/pzmi/hermes/types"

// NopMetrics implements a no-op metrics collector.
//
// All metrics are discarded. Useful for tests or when metrics are collected
// externally (for example by polling Balancer.Status).
type NopMetrics struct{}

var _ types.MetricsCollector = (*NopMetrics)(nil)

// NewNop creates a new no-op metrics collector.
//
// Example:
//
//	b, err := hermes.NewBalancer(&cfg, nc, src, hermes.WithMetrics(metrics.NewNop()))
func NewNop() *NopMetrics {
	return &NopMetrics{}
}

// RecordLeadershipChange discards the leadership change.
func (n *NopMetrics) RecordLeadershipChange(_ /* nodeID */ string, _ /* leader */ bool) {}

// ObserveWorkload ignores the provider.
func (n *NopMetrics) ObserveWorkload(_ /* provider */ types.StatsProvider) {}

// RecordBalancingPass discards the pass.
func (n *NopMetrics) RecordBalancingPass(_ /* outcome */ string, _ /* duration */ float64) {}

// RecordActiveNodes discards the node count.
func (n *NopMetrics) RecordActiveNodes(_ /* count */ int) {}

// RecordNodeCacheFallback discards the fallback event.
func (n *NopMetrics) RecordNodeCacheFallback() {}

// RecordKVOperationDuration discards the KV latency.
func (n *NopMetrics) RecordKVOperationDuration(_ /* operation */ string, _ /* duration */ float64) {}

// RecordAssignmentChange discards the change counts.
func (n *NopMetrics) RecordAssignmentChange(_ /* created */, _ /* deleted */ int) {}

// RecordHeartbeat discards the heartbeat.
func (n *NopMetrics) RecordHeartbeat(_ /* nodeID */ string, _ /* success */ bool) {}
