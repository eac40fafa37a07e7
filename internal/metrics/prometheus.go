package metrics

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pzmi/hermes/types"
)

// PrometheusCollector implements types.MetricsCollector backed by Prometheus.
//
// Collectors are created and registered lazily on first use. The workload
// gauges are GaugeFuncs that read the job's counters at scrape time, so the
// exporter never touches the assignment set itself.
type PrometheusCollector struct {
	reg       prometheus.Registerer
	namespace string
	labels    prometheus.Labels
	once      sync.Once

	provider atomic.Pointer[types.StatsProvider]

	leader           prometheus.Gauge
	leadershipChange *prometheus.CounterVec
	passDuration     prometheus.Histogram
	passes           *prometheus.CounterVec
	activeNodes      prometheus.Gauge
	cacheFallbacks   prometheus.Counter
	kvDuration       *prometheus.HistogramVec
	assignmentOps    *prometheus.CounterVec
	heartbeats       *prometheus.CounterVec
}

var _ types.MetricsCollector = (*PrometheusCollector)(nil)

// NewPrometheus creates a new Prometheus-backed metrics collector.
//
// Parameters:
//   - reg: Prometheus registerer (prometheus.DefaultRegisterer if nil)
//   - namespace: Metrics namespace (defaults to "hermes" if empty)
//   - cluster: Value of the constant "cluster" label on every metric
//
// Returns:
//   - *PrometheusCollector: A MetricsCollector implementation using Prometheus
func NewPrometheus(reg prometheus.Registerer, namespace, cluster string) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "hermes"
	}

	return &PrometheusCollector{
		reg:       reg,
		namespace: namespace,
		labels:    prometheus.Labels{"cluster": cluster},
	}
}

func (p *PrometheusCollector) ensureRegistered() {
	p.once.Do(func() {
		p.leader = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   p.namespace,
			Subsystem:   "balancer",
			Name:        "leader",
			Help:        "1 if this node currently leads the balancing job, 0 otherwise.",
			ConstLabels: p.labels,
		})
		p.leadershipChange = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   p.namespace,
			Subsystem:   "balancer",
			Name:        "leadership_changes_total",
			Help:        "Leadership transitions of this node by direction (gained, lost).",
			ConstLabels: p.labels,
		}, []string{"direction"})
		p.passDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   p.namespace,
			Subsystem:   "workload",
			Name:        "balancing_duration_seconds",
			Help:        "Wall-clock duration of balancing passes in seconds.",
			ConstLabels: p.labels,
			Buckets:     prometheus.ExponentialBuckets(0.005, 2, 12),
		})
		p.passes = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   p.namespace,
			Subsystem:   "workload",
			Name:        "balancing_passes_total",
			Help:        "Balancing passes by outcome (applied, skipped, failed, invalid).",
			ConstLabels: p.labels,
		}, []string{"outcome"})
		p.activeNodes = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   p.namespace,
			Subsystem:   "registry",
			Name:        "active_nodes",
			Help:        "Number of live nodes seen by the last registry listing.",
			ConstLabels: p.labels,
		})
		p.cacheFallbacks = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   p.namespace,
			Subsystem:   "registry",
			Name:        "cache_fallbacks_total",
			Help:        "Registry listings served from cache because NATS KV was unreachable.",
			ConstLabels: p.labels,
		})
		p.kvDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   p.namespace,
			Subsystem:   "tracker",
			Name:        "kv_operation_duration_seconds",
			Help:        "NATS KV operation latency by operation.",
			ConstLabels: p.labels,
			Buckets:     prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"operation"})
		p.assignmentOps = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   p.namespace,
			Subsystem:   "tracker",
			Name:        "assignment_changes_total",
			Help:        "Persisted assignment mutations by kind (created, deleted).",
			ConstLabels: p.labels,
		}, []string{"kind"})
		p.heartbeats = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   p.namespace,
			Subsystem:   "heartbeat",
			Name:        "publish_total",
			Help:        "Heartbeat publish attempts by result (success, failure).",
			ConstLabels: p.labels,
		}, []string{"result"})

		p.reg.MustRegister(
			p.leader,
			p.leadershipChange,
			p.passDuration,
			p.passes,
			p.activeNodes,
			p.cacheFallbacks,
			p.kvDuration,
			p.assignmentOps,
			p.heartbeats,
		)
		p.registerWorkloadGauges()
	})
}

func (p *PrometheusCollector) registerWorkloadGauges() {
	gauge := func(name, help string, read func(types.BalancingStats) int64) prometheus.GaugeFunc {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   p.namespace,
			Subsystem:   "consumers_workload",
			Name:        name,
			Help:        help,
			ConstLabels: p.labels,
		}, func() float64 {
			provider := p.provider.Load()
			if provider == nil {
				return 0
			}

			return float64(read((*provider).Stats()))
		})
	}

	p.reg.MustRegister(
		gauge("all_assignments", "Assignments persisted by the most recent balancing pass.",
			func(s types.BalancingStats) int64 { return s.AllAssignments }),
		gauge("missing_resources", "Subscription parallelism that could not be placed for lack of capacity.",
			func(s types.BalancingStats) int64 { return s.MissingResources }),
		gauge("created_assignments", "Assignments created by the most recent balancing pass.",
			func(s types.BalancingStats) int64 { return s.CreatedAssignments }),
		gauge("deleted_assignments", "Assignments deleted by the most recent balancing pass.",
			func(s types.BalancingStats) int64 { return s.DeletedAssignments }),
	)
}

// RecordLeadershipChange sets the leader gauge and counts the transition.
func (p *PrometheusCollector) RecordLeadershipChange(_ string, leader bool) {
	p.ensureRegistered()
	direction := "lost"
	value := 0.0
	if leader {
		direction = "gained"
		value = 1
	}
	p.leader.Set(value)
	p.leadershipChange.WithLabelValues(direction).Inc()
}

// ObserveWorkload makes the workload gauges read from provider.
// A later call replaces the provider.
func (p *PrometheusCollector) ObserveWorkload(provider types.StatsProvider) {
	p.provider.Store(&provider)
	p.ensureRegistered()
}

// RecordBalancingPass counts the pass and observes its duration.
func (p *PrometheusCollector) RecordBalancingPass(outcome string, duration float64) {
	p.ensureRegistered()
	p.passes.WithLabelValues(outcome).Inc()
	p.passDuration.Observe(duration)
}

// RecordActiveNodes sets the live node gauge.
func (p *PrometheusCollector) RecordActiveNodes(count int) {
	p.ensureRegistered()
	p.activeNodes.Set(float64(count))
}

// RecordNodeCacheFallback counts a cached registry listing.
func (p *PrometheusCollector) RecordNodeCacheFallback() {
	p.ensureRegistered()
	p.cacheFallbacks.Inc()
}

// RecordKVOperationDuration observes KV latency for the operation.
func (p *PrometheusCollector) RecordKVOperationDuration(operation string, duration float64) {
	p.ensureRegistered()
	p.kvDuration.WithLabelValues(operation).Observe(duration)
}

// RecordAssignmentChange counts persisted creates and deletes.
func (p *PrometheusCollector) RecordAssignmentChange(created, deleted int) {
	p.ensureRegistered()
	p.assignmentOps.WithLabelValues("created").Add(float64(created))
	p.assignmentOps.WithLabelValues("deleted").Add(float64(deleted))
}

// RecordHeartbeat counts a heartbeat publish attempt.
func (p *PrometheusCollector) RecordHeartbeat(_ string, success bool) {
	p.ensureRegistered()
	p.heartbeats.WithLabelValues(resultLabel(success)).Inc()
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}

	return "failure"
}
