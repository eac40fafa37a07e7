package registry

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/pzmi/hermes/internal/heartbeat"
	"github.com/pzmi/hermes/internal/kvutil"
	"github.com/pzmi/hermes/internal/natsutil"
	"github.com/pzmi/hermes/types"
)

// Leadership is the part of the election latch the registry delegates to.
type Leadership interface {
	IsLeader(ctx context.Context) bool
	OnLeadershipGained(fn func())
	OnLeadershipLost(fn func())
}

// Registry lists live consumer nodes from their heartbeats and answers
// leadership questions through the election latch.
type Registry struct {
	kv              jetstream.KeyValue
	cluster         string
	defaultCapacity int
	leadership      Leadership
	metrics         types.RegistryMetrics
	logger          types.Logger

	mu     sync.RWMutex
	cached []types.Node
	seen   bool
}

var _ types.NodeRegistry = (*Registry)(nil)

// New creates a registry.
//
// Parameters:
//   - kv: Heartbeat bucket shared with heartbeat.Publisher
//   - cluster: Balancer cluster name
//   - defaultCapacity: Capacity for nodes that do not announce one
//   - leadership: Election latch of this process
//   - metrics: Registry metrics sink
//   - logger: Logger for discovery events
//
// Returns:
//   - *Registry: New registry instance
func New(
	kv jetstream.KeyValue,
	cluster string,
	defaultCapacity int,
	leadership Leadership,
	metrics types.RegistryMetrics,
	logger types.Logger,
) *Registry {
	return &Registry{
		kv:              kv,
		cluster:         cluster,
		defaultCapacity: defaultCapacity,
		leadership:      leadership,
		metrics:         metrics,
		logger:          logger,
	}
}

// List returns the live nodes sorted by ID.
//
// When the heartbeat bucket is unreachable the last successfully observed list
// is returned instead and a cache fallback is recorded. types.ErrDegraded is
// returned only when no list was ever observed.
func (r *Registry) List(ctx context.Context) ([]types.Node, error) {
	entries, err := kvutil.Snapshot(ctx, r.kv, heartbeat.Filter(r.cluster))
	if err != nil {
		if !natsutil.IsConnectivityError(err) {
			return nil, fmt.Errorf("failed to list nodes: %w", err)
		}

		return r.fallback(err)
	}

	nodes := make([]types.Node, 0, len(entries))
	for _, entry := range entries {
		node, ok := r.decode(entry)
		if ok {
			nodes = append(nodes, node)
		}
	}
	slices.SortFunc(nodes, func(a, b types.Node) int { return cmp.Compare(a.ID, b.ID) })

	r.mu.Lock()
	r.cached = nodes
	r.seen = true
	r.mu.Unlock()

	r.metrics.RecordActiveNodes(len(nodes))
	r.logger.Debug("nodes discovered", "count", len(nodes))

	return slices.Clone(nodes), nil
}

// IsLeader reports whether this process is the confirmed leader.
func (r *Registry) IsLeader(ctx context.Context) bool {
	return r.leadership.IsLeader(ctx)
}

// OnLeadershipGained registers fn with the election latch.
func (r *Registry) OnLeadershipGained(fn func()) {
	r.leadership.OnLeadershipGained(fn)
}

// OnLeadershipLost registers fn with the election latch.
func (r *Registry) OnLeadershipLost(fn func()) {
	r.leadership.OnLeadershipLost(fn)
}

func (r *Registry) fallback(cause error) ([]types.Node, error) {
	r.mu.RLock()
	nodes, seen := slices.Clone(r.cached), r.seen
	r.mu.RUnlock()

	if !seen {
		return nil, fmt.Errorf("%w: no node list available: %w", types.ErrDegraded, cause)
	}

	r.metrics.RecordNodeCacheFallback()
	r.logger.Warn("node registry unreachable, serving cached node list", "count", len(nodes), "error", cause)

	return nodes, nil
}

func (r *Registry) decode(entry jetstream.KeyValueEntry) (types.Node, bool) {
	rec, err := heartbeat.Decode(entry.Value())
	if err != nil {
		// Fall back to the key so a node with an unreadable payload still counts.
		token := strings.TrimPrefix(entry.Key(), kvutil.EncodeToken(r.cluster)+".")
		id, decErr := kvutil.DecodeToken(token)
		if decErr != nil || id == "" {
			r.logger.Warn("skipping malformed heartbeat", "key", entry.Key(), "error", err)
			return types.Node{}, false
		}
		r.logger.Debug("heartbeat payload unreadable, using default capacity", "key", entry.Key(), "error", err)

		return types.Node{ID: types.NodeID(id), Capacity: r.defaultCapacity}, true
	}

	// An announced 0 drains the node; only a missing or negative value
	// takes the default.
	capacity := r.defaultCapacity
	if rec.Capacity != nil && *rec.Capacity >= 0 {
		capacity = *rec.Capacity
	}

	return types.Node{ID: rec.ID, Capacity: capacity}, true
}
