package hermes

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/pzmi/hermes/internal/election"
	"github.com/pzmi/hermes/internal/heartbeat"
	"github.com/pzmi/hermes/internal/hooks"
	"github.com/pzmi/hermes/internal/job"
	"github.com/pzmi/hermes/internal/kvutil"
	"github.com/pzmi/hermes/internal/logging"
	"github.com/pzmi/hermes/internal/metrics"
	"github.com/pzmi/hermes/internal/registry"
	"github.com/pzmi/hermes/internal/tracker"
	"github.com/pzmi/hermes/strategy"
	"github.com/pzmi/hermes/types"
)

const bucketRetries = 3

// Status is a point-in-time view of a Balancer, served by the admin endpoint.
type Status struct {
	NodeID   NodeID         `json:"nodeId"`
	Cluster  string         `json:"cluster"`
	Started  bool           `json:"started"`
	Leader   bool           `json:"leader"`
	JobState string         `json:"jobState"`
	Owned    int            `json:"ownedSubscriptions"`
	Stats    BalancingStats `json:"stats"`
}

// Balancer runs one consumer node of a balanced cluster.
//
// Every node publishes a heartbeat announcing its capacity, campaigns for
// leadership and watches its own assignments. The leader additionally runs the
// balancing job, which periodically distributes the active subscriptions over
// the live nodes and persists the result in the assignment bucket.
//
// Thread Safety:
//   - All public methods are safe for concurrent use
//
// Lifecycle:
//   - Create with NewBalancer()
//   - Call Start() to register the node and begin campaigning
//   - React to OnAssignmentsChanged or read Owned()
//   - Call Stop() for graceful shutdown; a Balancer cannot be restarted
type Balancer struct {
	cfg    Config
	conn   *nats.Conn
	source SubscriptionSource

	strategy BalancingStrategy
	agent    ElectionAgent
	hooks    *hooks.Runner
	metrics  MetricsCollector
	logger   Logger
	nodeID   NodeID

	publisher *heartbeat.Publisher
	latch     *election.Latch
	registry  *registry.Registry
	monitor   *registry.Monitor
	tracker   *tracker.Tracker
	job       *job.Job

	owned *xsync.Map[SubscriptionName, uint64]

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex
	stopped bool
}

// NewBalancer creates a Balancer for this process.
//
// Parameters:
//   - cfg: Configuration; missing values are filled with defaults
//   - conn: NATS connection with JetStream enabled
//   - source: Subscription source consulted on every balancing pass
//   - opts: Optional configuration (strategy, hooks, metrics, logger, node ID)
//
// Returns:
//   - *Balancer: Initialized balancer instance
//   - error: Validation error if configuration is invalid
//
// Example:
//
//	cfg := hermes.DefaultConfig()
//	cfg.Cluster = "dc1"
//	b, err := hermes.NewBalancer(&cfg, nc, source.NewStatic(subs))
//	if err != nil {
//	    return err
//	}
//	if err := b.Start(ctx); err != nil {
//	    return err
//	}
//	defer b.Stop(context.Background())
func NewBalancer(cfg *Config, conn *nats.Conn, source SubscriptionSource, opts ...Option) (*Balancer, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}
	if conn == nil {
		return nil, ErrNATSConnectionRequired
	}
	if source == nil {
		return nil, ErrSubscriptionSourceRequired
	}

	SetDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	options := &balancerOptions{}
	for _, opt := range opts {
		opt(options)
	}

	// Safe defaults for optional dependencies avoid nil checks everywhere.
	loggerInstance := options.logger
	if loggerInstance == nil {
		loggerInstance = logging.NewNop()
	}
	cfg.ValidateWithWarnings(loggerInstance)

	metricsCollector := options.metrics
	if metricsCollector == nil {
		metricsCollector = metrics.NewNop()
	}

	balancingStrategy := options.strategy
	if balancingStrategy == nil {
		balancingStrategy = strategy.NewSelective()
	}

	nodeID := options.nodeID
	if nodeID == "" {
		nodeID = NodeID(cfg.NodeID)
	}
	if nodeID == "" {
		nodeID = types.NewNodeID("")
	}

	// The copy must not share NodeCapacity with the caller.
	own := *cfg
	own.NodeCapacity = Capacity(cfg.EffectiveNodeCapacity())

	return &Balancer{
		cfg:      own,
		conn:     conn,
		source:   source,
		strategy: balancingStrategy,
		agent:    options.electionAgent,
		hooks:    hooks.NewRunner(options.hooks, loggerInstance),
		metrics:  metricsCollector,
		logger:   logging.With(loggerInstance, "cluster", cfg.Cluster, "node", nodeID),
		nodeID:   nodeID,
		owned:    xsync.NewMap[SubscriptionName, uint64](),
	}, nil
}

// Start registers the node and begins campaigning for leadership.
//
// It returns once the buckets exist, the first heartbeat is published and the
// assignment watch is open. Balancing passes start in the background as soon as
// this node wins the election.
//
// Parameters:
//   - ctx: Context bounding startup; it does not bound the Balancer's lifetime
//
// Returns:
//   - error: ErrAlreadyStarted, or a startup failure (everything started so far
//     is stopped again)
func (b *Balancer) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ctx != nil {
		return ErrAlreadyStarted
	}

	startupCtx, cancelStartup := context.WithTimeout(ctx, b.cfg.StartupTimeout)
	defer cancelStartup()

	js, err := jetstream.New(b.conn)
	if err != nil {
		return fmt.Errorf("failed to create jetstream context: %w", err)
	}

	electionKV, err := b.ensureKVBucket(startupCtx, js, b.cfg.KVBuckets.Election, b.cfg.ElectionTTL)
	if err != nil {
		return fmt.Errorf("failed to create election KV: %w", err)
	}
	nodesKV, err := b.ensureKVBucket(startupCtx, js, b.cfg.KVBuckets.Nodes, b.cfg.HeartbeatTTL)
	if err != nil {
		return fmt.Errorf("failed to create node KV: %w", err)
	}
	// No TTL: assignments persist across leader changes and restarts.
	assignmentsKV, err := b.ensureKVBucket(startupCtx, js, b.cfg.KVBuckets.Assignments, 0)
	if err != nil {
		return fmt.Errorf("failed to create assignment KV: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())

	agent := b.agent
	if agent == nil {
		agent = election.NewNATSElection(electionKV, kvutil.Key(kvutil.EncodeToken(b.cfg.Cluster), "leader"))
	}
	b.latch = election.NewLatch(agent, string(b.nodeID), b.cfg.ElectionTTL, b.logger)
	b.registry = registry.New(nodesKV, b.cfg.Cluster, b.cfg.EffectiveNodeCapacity(), b.latch, b.metrics, b.logger)
	b.tracker = tracker.New(assignmentsKV, b.cfg.Cluster, b.metrics, b.logger)
	b.job = job.New(job.Config{
		Registry: b.registry,
		Source:   b.source,
		Tracker:  b.tracker,
		Strategy: b.strategy,
		Interval: b.cfg.BalancingInterval,
		Metrics:  b.metrics,
		Hooks:    b.hooks,
		Logger:   b.logger,
	})
	b.job.Bind(runCtx)

	// Registered after the job so the job is already running when the hook fires.
	b.latch.OnLeadershipGained(func() { b.leadershipChanged(runCtx, true) })
	b.latch.OnLeadershipLost(func() { b.leadershipChanged(runCtx, false) })

	b.publisher = heartbeat.New(nodesKV, b.cfg.Cluster, b.cfg.HeartbeatInterval, b.metrics, b.logger)
	b.publisher.SetNode(b.nodeID, b.cfg.EffectiveNodeCapacity())
	if err := b.publisher.Start(startupCtx); err != nil {
		cancel()
		return fmt.Errorf("failed to start heartbeat: %w", err)
	}

	b.monitor = registry.NewMonitor(nodesKV, b.cfg.Cluster, b.onNodesChanged, b.logger)
	if err := b.monitor.Start(runCtx); err != nil {
		cancel()
		b.stopHeartbeat(ctx)
		return fmt.Errorf("failed to start node monitor: %w", err)
	}

	events, err := b.tracker.WatchNode(runCtx, b.nodeID)
	if err != nil {
		cancel()
		_ = b.monitor.Stop()
		b.stopHeartbeat(ctx)
		return fmt.Errorf("failed to watch own assignments: %w", err)
	}
	b.wg.Add(1)
	go b.followAssignments(runCtx, events)

	b.latch.Start(runCtx)

	b.ctx, b.cancel = runCtx, cancel
	b.logger.Info("balancer started",
		"capacity", b.cfg.EffectiveNodeCapacity(),
		"interval", b.cfg.BalancingInterval,
	)

	return nil
}

// Stop gracefully shuts down the balancer.
//
// A leader stops its balancing job and releases the leader key, so another
// node takes over without waiting for the lease to expire. The heartbeat is
// deleted so the next pass on the new leader already excludes this node.
// Persisted assignments are left in place.
//
// Parameters:
//   - ctx: Context for shutdown timeout
//
// Returns:
//   - error: ErrNotStarted, or shutdown errors
func (b *Balancer) Stop(ctx context.Context) error {
	b.mu.Lock()
	if b.ctx == nil || b.stopped {
		b.mu.Unlock()
		return ErrNotStarted
	}
	b.stopped = true
	b.mu.Unlock()

	stopCtx, cancel := context.WithTimeout(ctx, b.cfg.ShutdownTimeout)
	defer cancel()

	var shutdownErr error

	// Step 1: Stop campaigning. A leader stops the job and releases the key.
	b.latch.Stop(stopCtx)

	// Step 2: Stop reacting to node changes.
	if err := b.monitor.Stop(); err != nil && !errors.Is(err, registry.ErrMonitorNotStarted) {
		b.logger.Warn("failed to stop node monitor", "error", err)
	}

	// Step 3: Deregister the node.
	if err := b.publisher.Stop(stopCtx); err != nil && !errors.Is(err, heartbeat.ErrNotStarted) {
		b.logger.Error("failed to stop heartbeat", "error", err)
		shutdownErr = fmt.Errorf("heartbeat stop failed: %w", err)
	}

	// Step 4: Stop background goroutines and drain hooks.
	b.cancel()
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		b.hooks.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.logger.Info("balancer stopped gracefully")
		return shutdownErr
	case <-stopCtx.Done():
		b.logger.Error("shutdown timeout exceeded, some goroutines may still be running")
		if shutdownErr == nil {
			return stopCtx.Err()
		}

		return fmt.Errorf("shutdown timeout: %w; additional error: %w", stopCtx.Err(), shutdownErr)
	}
}

// NodeID returns the ID this node registers with.
func (b *Balancer) NodeID() NodeID {
	return b.nodeID
}

// IsLeader reports the local view of leadership.
func (b *Balancer) IsLeader() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.latch != nil && b.latch.HasLeadership()
}

// Stats returns the counters of the last completed balancing pass. They are
// zero while this node is not the leader.
func (b *Balancer) Stats() BalancingStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.job == nil {
		return BalancingStats{}
	}

	return b.job.Stats()
}

// Status returns a snapshot of the balancer for diagnostics.
func (b *Balancer) Status() Status {
	b.mu.RLock()
	started := b.ctx != nil && !b.stopped
	b.mu.RUnlock()

	st := Status{
		NodeID:   b.nodeID,
		Cluster:  b.cfg.Cluster,
		Started:  started,
		Leader:   b.IsLeader(),
		JobState: JobNotLeader.String(),
		Owned:    b.owned.Size(),
		Stats:    b.Stats(),
	}

	b.mu.RLock()
	if b.job != nil {
		st.JobState = b.job.State().String()
	}
	b.mu.RUnlock()

	return st
}

// Trigger requests a balancing pass ahead of the next tick. It is a no-op on
// nodes that are not the leader.
func (b *Balancer) Trigger() {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.job != nil {
		b.job.Trigger()
	}
}

// RunOnce runs a balancing pass immediately and returns the applied changes.
// It waits for a pass already in flight on this node.
//
// Returns:
//   - Changes: The changes applied by the pass
//   - error: ErrNotStarted, ErrNotLeader, ErrLeadershipLost or the pass failure
func (b *Balancer) RunOnce(ctx context.Context) (Changes, error) {
	j, err := b.started()
	if err != nil {
		return Changes{}, err
	}

	return j.RunOnce(ctx)
}

// Assignments returns the persisted assignments of the whole cluster.
func (b *Balancer) Assignments(ctx context.Context) (*AssignmentSet, error) {
	if _, err := b.started(); err != nil {
		return nil, err
	}

	opCtx, cancel := context.WithTimeout(ctx, b.cfg.OperationTimeout)
	defer cancel()

	return b.tracker.GetAssignments(opCtx)
}

// NodeAssignments reads the persisted assignments of this node.
func (b *Balancer) NodeAssignments(ctx context.Context) ([]Assignment, error) {
	if _, err := b.started(); err != nil {
		return nil, err
	}

	opCtx, cancel := context.WithTimeout(ctx, b.cfg.OperationTimeout)
	defer cancel()

	return b.tracker.NodeAssignments(opCtx, b.nodeID)
}

// Owned returns the subscriptions currently assigned to this node, as seen by
// its assignment watch. The result is sorted.
func (b *Balancer) Owned() []SubscriptionName {
	names := make([]SubscriptionName, 0, b.owned.Size())
	b.owned.Range(func(name SubscriptionName, _ uint64) bool {
		names = append(names, name)
		return true
	})
	slices.Sort(names)

	return names
}

// WatchAssignments streams the assignment changes of this node until ctx is done.
//
// The current assignments arrive first as AssignmentAdded events.
func (b *Balancer) WatchAssignments(ctx context.Context) (<-chan NodeAssignmentEvent, error) {
	if _, err := b.started(); err != nil {
		return nil, err
	}

	return b.tracker.WatchNode(ctx, b.nodeID)
}

// EnsureSubscriptionBucket creates or opens the subscription definition bucket
// configured in cfg. It backs source.KV.
func EnsureSubscriptionBucket(ctx context.Context, conn *nats.Conn, cfg *Config) (jetstream.KeyValue, error) {
	if conn == nil {
		return nil, ErrNATSConnectionRequired
	}
	SetDefaults(cfg)

	js, err := jetstream.New(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to create jetstream context: %w", err)
	}

	return kvutil.EnsureKVBucketWithRetry(ctx, js, jetstream.KeyValueConfig{
		Bucket:      cfg.KVBuckets.Subscriptions,
		Description: "hermes subscription definitions",
	}, bucketRetries)
}

func (b *Balancer) started() (*job.Job, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.ctx == nil || b.stopped {
		return nil, ErrNotStarted
	}

	return b.job, nil
}

func (b *Balancer) ensureKVBucket(ctx context.Context, js jetstream.JetStream, bucket string, ttl time.Duration) (jetstream.KeyValue, error) {
	return kvutil.EnsureKVBucketWithRetry(ctx, js, jetstream.KeyValueConfig{
		Bucket:  bucket,
		TTL:     ttl,
		History: 1,
	}, bucketRetries)
}

func (b *Balancer) stopHeartbeat(ctx context.Context) {
	stopCtx, cancel := context.WithTimeout(ctx, b.cfg.ShutdownTimeout)
	defer cancel()

	if err := b.publisher.Stop(stopCtx); err != nil {
		b.logger.Warn("failed to stop heartbeat", "error", err)
	}
}

func (b *Balancer) leadershipChanged(ctx context.Context, leader bool) {
	b.metrics.RecordLeadershipChange(string(b.nodeID), leader)
	b.hooks.LeadershipChanged(ctx, leader)
}

// onNodesChanged runs a pass early when a node joins or leaves gracefully.
func (b *Balancer) onNodesChanged() {
	if b.latch.HasLeadership() {
		b.job.Trigger()
	}
}

// followAssignments keeps the owned set current and fires OnAssignmentsChanged.
// Events already buffered are folded into a single hook call.
func (b *Balancer) followAssignments(ctx context.Context, events <-chan NodeAssignmentEvent) {
	defer b.wg.Done()

	for {
		var ev NodeAssignmentEvent
		var ok bool
		select {
		case <-ctx.Done():
			return
		case ev, ok = <-events:
			if !ok {
				if ctx.Err() == nil {
					b.logger.Warn("assignment watch closed unexpectedly")
				}
				return
			}
		}

		var added, removed []SubscriptionName
		for {
			switch ev.Type {
			case AssignmentAdded:
				if _, loaded := b.owned.LoadOrStore(ev.Subscription, ev.Revision); !loaded {
					added = append(added, ev.Subscription)
				}
			case AssignmentRemoved:
				if _, loaded := b.owned.LoadAndDelete(ev.Subscription); loaded {
					removed = append(removed, ev.Subscription)
				}
			}

			select {
			case ev, ok = <-events:
				if ok {
					continue
				}
			default:
			}

			break
		}

		if len(added) == 0 && len(removed) == 0 {
			continue
		}
		b.logger.Info("assignments changed", "added", added, "removed", removed, "owned", b.owned.Size())
		b.hooks.AssignmentsChanged(ctx, added, removed)
	}
}
