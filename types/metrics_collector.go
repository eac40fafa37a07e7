package types

// MetricsCollector defines methods for recording operational metrics.
//
// Implementations should be non-blocking and handle failures gracefully.
// All methods are called from internal goroutines and must be thread-safe.
//
// This interface composes smaller, component-focused interfaces.
type MetricsCollector interface {
	BalancerMetrics
	JobMetrics
	RegistryMetrics
	TrackerMetrics
	HeartbeatMetrics
}

// BalancerMetrics defines metrics for balancer-level events.
type BalancerMetrics interface {
	// RecordLeadershipChange records that this node gained or lost leadership.
	RecordLeadershipChange(nodeID string, leader bool)
}

// JobMetrics defines metrics for balancing passes.
type JobMetrics interface {
	// ObserveWorkload exposes the job counters as gauges.
	//
	// The collector reads the provider lazily at scrape time, so the gauges
	// always show the counters of the most recent completed pass.
	ObserveWorkload(provider StatsProvider)

	// RecordBalancingPass records one pass.
	//
	// Parameters:
	//   - outcome: "applied", "skipped", "failed" or "invalid"
	//   - duration: Wall-clock time of the pass in seconds
	RecordBalancingPass(outcome string, duration float64)
}

// RegistryMetrics defines metrics for node discovery.
type RegistryMetrics interface {
	// RecordActiveNodes sets the number of live nodes seen by the last listing.
	RecordActiveNodes(count int)

	// RecordNodeCacheFallback records that a cached node list was served
	// because the registry store was unreachable.
	RecordNodeCacheFallback()
}

// TrackerMetrics defines metrics for the persisted assignment store.
type TrackerMetrics interface {
	// RecordKVOperationDuration records NATS KV operation latency.
	//
	// Parameters:
	//   - operation: Operation type ("snapshot", "create", "delete", "watch")
	//   - duration: Time taken in seconds
	RecordKVOperationDuration(operation string, duration float64)

	// RecordAssignmentChange records the mutations of one apply.
	RecordAssignmentChange(created, deleted int)
}

// HeartbeatMetrics defines metrics for node heartbeats.
type HeartbeatMetrics interface {
	// RecordHeartbeat records a heartbeat publish attempt.
	RecordHeartbeat(nodeID string, success bool)
}
