package hermes

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pzmi/hermes/types"
)

// KVBucketConfig configures the NATS JetStream KV bucket names.
type KVBucketConfig struct {
	// Election is the bucket holding the leader key. Its TTL is ElectionTTL.
	Election string `yaml:"election"`

	// Nodes is the bucket holding node heartbeats. Its TTL is HeartbeatTTL.
	Nodes string `yaml:"nodes"`

	// Assignments is the bucket holding assignments. It has no TTL:
	// assignments must survive leader handover and full restarts.
	Assignments string `yaml:"assignments"`

	// Subscriptions is the bucket holding subscription definitions for
	// source.KV. It is only created when that source is used.
	Subscriptions string `yaml:"subscriptions"`
}

// Config is the configuration for the Balancer.
//
// All duration fields accept standard Go duration strings like "30s", "5m", "1h".
type Config struct {
	// Cluster names the group of consumer nodes balanced together. Several
	// clusters may share the same buckets; their keys never overlap.
	Cluster string `yaml:"cluster"`

	// NodeID overrides the generated node ID. Leave empty in production:
	// the generated ID is unique per process.
	NodeID string `yaml:"nodeId"`

	// BalancingInterval is the time between balancing passes on the leader.
	// Recommended: 30 seconds.
	BalancingInterval time.Duration `yaml:"balancingInterval"`

	// NodeCapacity is the number of subscriptions this node accepts. It is
	// announced in the heartbeat and also serves as the capacity of nodes that
	// do not announce one. nil means unset and takes the default; 0 drains the
	// node.
	NodeCapacity *int `yaml:"nodeCapacity"`

	// DefaultParallelism is the number of nodes per subscription when a
	// definition does not specify one.
	DefaultParallelism int `yaml:"defaultParallelism"`

	// HeartbeatInterval is how often the node refreshes its heartbeat.
	// Recommended: 2-5 seconds.
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval"`

	// HeartbeatTTL is how long a heartbeat stays valid. A node whose
	// heartbeat expired is dead for the balancer.
	// Recommended: 3x HeartbeatInterval.
	HeartbeatTTL time.Duration `yaml:"heartbeatTtl"`

	// ElectionTTL is the leadership lease. The leader renews every ElectionTTL/3;
	// a crashed leader is replaced after at most ElectionTTL.
	// Recommended: 15 seconds.
	ElectionTTL time.Duration `yaml:"electionTtl"`

	// OperationTimeout bounds single KV operations outside balancing passes.
	// Recommended: 10 seconds.
	OperationTimeout time.Duration `yaml:"operationTimeout"`

	// StartupTimeout bounds Start: bucket setup and the first heartbeat.
	// Recommended: 30 seconds.
	StartupTimeout time.Duration `yaml:"startupTimeout"`

	// ShutdownTimeout bounds Stop: leadership release and heartbeat removal.
	// Recommended: 10 seconds.
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`

	// KVBuckets controls NATS JetStream KV bucket names.
	KVBuckets KVBucketConfig `yaml:"kvBuckets"`
}

// DefaultConfig returns a Config with sensible defaults.
//
// Returns:
//   - Config: Configuration with default values
func DefaultConfig() Config {
	return Config{
		Cluster:            "default",
		BalancingInterval:  30 * time.Second,
		NodeCapacity:       Capacity(200),
		DefaultParallelism: 1,
		HeartbeatInterval:  2 * time.Second,
		HeartbeatTTL:       6 * time.Second,
		ElectionTTL:        15 * time.Second,
		OperationTimeout:   10 * time.Second,
		StartupTimeout:     30 * time.Second,
		ShutdownTimeout:    10 * time.Second,
		KVBuckets: KVBucketConfig{
			Election:      "hermes-election",
			Nodes:         "hermes-nodes",
			Assignments:   "hermes-assignments",
			Subscriptions: "hermes-subscriptions",
		},
	}
}

// SetDefaults fills in missing configuration values with production defaults.
//
// Parameters:
//   - cfg: Config to apply defaults to (modified in place)
func SetDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Cluster == "" {
		cfg.Cluster = defaults.Cluster
	}
	if cfg.BalancingInterval == 0 {
		cfg.BalancingInterval = defaults.BalancingInterval
	}
	if cfg.NodeCapacity == nil {
		cfg.NodeCapacity = defaults.NodeCapacity
	}
	if cfg.DefaultParallelism == 0 {
		cfg.DefaultParallelism = defaults.DefaultParallelism
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = defaults.HeartbeatInterval
	}
	if cfg.HeartbeatTTL == 0 {
		cfg.HeartbeatTTL = 3 * cfg.HeartbeatInterval
	}
	if cfg.ElectionTTL == 0 {
		cfg.ElectionTTL = defaults.ElectionTTL
	}
	if cfg.OperationTimeout == 0 {
		cfg.OperationTimeout = defaults.OperationTimeout
	}
	if cfg.StartupTimeout == 0 {
		cfg.StartupTimeout = defaults.StartupTimeout
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if cfg.KVBuckets.Election == "" {
		cfg.KVBuckets.Election = defaults.KVBuckets.Election
	}
	if cfg.KVBuckets.Nodes == "" {
		cfg.KVBuckets.Nodes = defaults.KVBuckets.Nodes
	}
	if cfg.KVBuckets.Assignments == "" {
		cfg.KVBuckets.Assignments = defaults.KVBuckets.Assignments
	}
	if cfg.KVBuckets.Subscriptions == "" {
		cfg.KVBuckets.Subscriptions = defaults.KVBuckets.Subscriptions
	}
}

// Validate checks configuration constraints and returns error for invalid values.
//
// Hard Validation Rules:
//   - BalancingInterval > 0
//   - NodeCapacity set and >= 0, DefaultParallelism >= 1
//   - HeartbeatTTL >= 2 * HeartbeatInterval (allow 1 missed heartbeat)
//   - ElectionTTL >= 1s (the lease is stored with second precision)
//   - Cluster is a non-empty name without '.' or wildcards
//
// Returns:
//   - error: Validation error wrapping ErrInvalidConfig, nil if valid
func (cfg *Config) Validate() error {
	if cfg.Cluster == "" {
		return fmt.Errorf("%w: Cluster must not be empty", types.ErrInvalidConfig)
	}
	for _, c := range cfg.Cluster {
		if c == '.' || c == '*' || c == '>' || c == ' ' {
			return fmt.Errorf("%w: Cluster %q must not contain '.', '*', '>' or spaces", types.ErrInvalidConfig, cfg.Cluster)
		}
	}

	if cfg.BalancingInterval <= 0 {
		return fmt.Errorf("%w: BalancingInterval must be > 0, got %v", types.ErrInvalidConfig, cfg.BalancingInterval)
	}

	if cfg.NodeCapacity == nil {
		return fmt.Errorf("%w: NodeCapacity must be set", types.ErrInvalidConfig)
	}
	if *cfg.NodeCapacity < 0 {
		return fmt.Errorf("%w: NodeCapacity must be >= 0, got %d", types.ErrInvalidConfig, *cfg.NodeCapacity)
	}

	if cfg.DefaultParallelism < 1 {
		return fmt.Errorf("%w: DefaultParallelism must be >= 1, got %d", types.ErrInvalidConfig, cfg.DefaultParallelism)
	}

	if cfg.HeartbeatInterval <= 0 {
		return fmt.Errorf("%w: HeartbeatInterval must be > 0, got %v", types.ErrInvalidConfig, cfg.HeartbeatInterval)
	}

	if cfg.HeartbeatTTL < 2*cfg.HeartbeatInterval {
		return fmt.Errorf(
			"%w: HeartbeatTTL (%v) must be >= 2*HeartbeatInterval (%v) to allow one missed heartbeat",
			types.ErrInvalidConfig, cfg.HeartbeatTTL, cfg.HeartbeatInterval,
		)
	}

	if cfg.ElectionTTL < time.Second {
		return fmt.Errorf("%w: ElectionTTL must be >= 1s, got %v", types.ErrInvalidConfig, cfg.ElectionTTL)
	}

	if cfg.KVBuckets.Election == "" || cfg.KVBuckets.Nodes == "" || cfg.KVBuckets.Assignments == "" {
		return fmt.Errorf("%w: KV bucket names must not be empty", types.ErrInvalidConfig)
	}

	if cfg.KVBuckets.Election == cfg.KVBuckets.Nodes {
		return fmt.Errorf("%w: election and node buckets need different TTLs and must differ", types.ErrInvalidConfig)
	}

	return nil
}

// ValidateWithWarnings logs warnings for valid but non-recommended values.
//
// This is called after Validate() in NewBalancer() to provide operator guidance.
//
// Parameters:
//   - logger: Logger instance for warning output
func (cfg *Config) ValidateWithWarnings(logger Logger) {
	if cfg.HeartbeatTTL < 3*cfg.HeartbeatInterval {
		logger.Warn(
			"HeartbeatTTL is below recommended minimum, nodes may flap",
			"heartbeatTTL", cfg.HeartbeatTTL,
			"heartbeatInterval", cfg.HeartbeatInterval,
			"recommended", 3*cfg.HeartbeatInterval,
		)
	}

	if cfg.BalancingInterval < cfg.ElectionTTL/3 {
		logger.Warn(
			"BalancingInterval is shorter than the leadership renewal period",
			"balancingInterval", cfg.BalancingInterval,
			"electionTTL", cfg.ElectionTTL,
		)
	}

	if cfg.EffectiveNodeCapacity() == 0 {
		logger.Warn("NodeCapacity is 0, this node will not receive assignments")
	}
}

// Capacity returns a pointer to n for Config.NodeCapacity.
//
// Example:
//
//	cfg := hermes.DefaultConfig()
//	cfg.NodeCapacity = hermes.Capacity(0) // drain this node
func Capacity(n int) *int {
	return &n
}

// EffectiveNodeCapacity returns NodeCapacity, or the default when it is unset.
func (cfg *Config) EffectiveNodeCapacity() int {
	if cfg.NodeCapacity == nil {
		return *DefaultConfig().NodeCapacity
	}

	return *cfg.NodeCapacity
}

// TestConfig returns a configuration optimized for fast test execution.
//
// Use DefaultConfig() for production deployments.
//
// Returns:
//   - Config: Configuration with fast timings for tests
//
// Example:
//
//	cfg := hermes.TestConfig()
//	cfg.Cluster = "it"
//	balancer, err := hermes.NewBalancer(&cfg, nc, src)
func TestConfig() Config {
	cfg := DefaultConfig()

	cfg.BalancingInterval = 400 * time.Millisecond
	cfg.HeartbeatInterval = 200 * time.Millisecond
	cfg.HeartbeatTTL = 1 * time.Second
	cfg.ElectionTTL = 1 * time.Second
	cfg.OperationTimeout = 2 * time.Second
	cfg.StartupTimeout = 5 * time.Second
	cfg.ShutdownTimeout = 2 * time.Second

	return cfg
}

// LoadConfig reads a YAML configuration file, applies defaults and validates it.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %w", types.ErrInvalidConfig, err)
	}
	SetDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
