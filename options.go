package hermes

// Option configures a Balancer with optional dependencies.
type Option func(*balancerOptions)

// balancerOptions holds optional Balancer configuration.
type balancerOptions struct {
	strategy      BalancingStrategy
	electionAgent ElectionAgent
	hooks         *Hooks
	metrics       MetricsCollector
	logger        Logger
	nodeID        NodeID
}

// WithStrategy replaces the selective balancing strategy.
//
// Parameters:
//   - strategy: BalancingStrategy implementation
//
// Returns:
//   - Option: Functional option for NewBalancer
//
// Example:
//
//	b, err := hermes.NewBalancer(&cfg, nc, src, hermes.WithStrategy(strategy.NewRoundRobin()))
func WithStrategy(strategy BalancingStrategy) Option {
	return func(o *balancerOptions) {
		o.strategy = strategy
	}
}

// WithElectionAgent sets a custom election agent.
//
// The default agent keeps the leader key in the election KV bucket.
//
// Parameters:
//   - agent: ElectionAgent implementation
//
// Returns:
//   - Option: Functional option for NewBalancer
func WithElectionAgent(agent ElectionAgent) Option {
	return func(o *balancerOptions) {
		o.electionAgent = agent
	}
}

// WithHooks sets lifecycle event hooks.
//
// Parameters:
//   - hooks: Hooks structure with callback functions
//
// Returns:
//   - Option: Functional option for NewBalancer
//
// Example:
//
//	hooks := &hermes.Hooks{
//	    OnAssignmentsChanged: func(ctx context.Context, added, removed []hermes.SubscriptionName) error {
//	        return consumers.Reconcile(added, removed)
//	    },
//	}
//	b, err := hermes.NewBalancer(&cfg, nc, src, hermes.WithHooks(hooks))
func WithHooks(hooks *Hooks) Option {
	return func(o *balancerOptions) {
		o.hooks = hooks
	}
}

// WithMetrics sets a metrics collector.
//
// Parameters:
//   - metrics: MetricsCollector implementation
//
// Returns:
//   - Option: Functional option for NewBalancer
//
// Example:
//
//	collector := metrics.NewPrometheus(prometheus.DefaultRegisterer, "hermes", cfg.Cluster)
//	b, err := hermes.NewBalancer(&cfg, nc, src, hermes.WithMetrics(collector))
func WithMetrics(metrics MetricsCollector) Option {
	return func(o *balancerOptions) {
		o.metrics = metrics
	}
}

// WithLogger sets a logger.
//
// Parameters:
//   - logger: Logger implementation (compatible with zap.SugaredLogger)
//
// Returns:
//   - Option: Functional option for NewBalancer
func WithLogger(logger Logger) Option {
	return func(o *balancerOptions) {
		o.logger = logger
	}
}

// WithNodeID fixes the node ID instead of generating one.
//
// Two running processes must never share an ID. Mostly useful in tests.
func WithNodeID(id NodeID) Option {
	return func(o *balancerOptions) {
		o.nodeID = id
	}
}
