package heartbeat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/pzmi/hermes/internal/kvutil"
	"github.com/pzmi/hermes/types"
)

// Common errors for heartbeat operations.
var (
	ErrNotStarted     = errors.New("publisher not started")
	ErrAlreadyStarted = errors.New("publisher already started")
	ErrNoNodeID       = errors.New("node ID not set")
)

// Record is the heartbeat payload. Its presence in the bucket is what makes a
// node alive; the fields describe the node to the leader.
type Record struct {
	ID        types.NodeID `json:"id"`
	Host      string       `json:"host"`
	PID       int          `json:"pid"`
	// Capacity is nil for nodes that leave it to the leader's default.
	Capacity  *int         `json:"capacity,omitempty"`
	StartedAt time.Time    `json:"startedAt"`
	Timestamp time.Time    `json:"timestamp"`
}

// Key returns the heartbeat key of a node within a cluster.
func Key(cluster string, nodeID types.NodeID) string {
	return kvutil.Key(kvutil.EncodeToken(cluster), kvutil.EncodeToken(string(nodeID)))
}

// Filter returns the key filter matching every heartbeat of a cluster.
func Filter(cluster string) string {
	return kvutil.Key(kvutil.EncodeToken(cluster), ">")
}

// Decode parses a heartbeat value.
func Decode(value []byte) (Record, error) {
	var rec Record
	if err := json.Unmarshal(value, &rec); err != nil {
		return Record{}, fmt.Errorf("failed to decode heartbeat: %w", err)
	}
	if rec.ID == "" {
		return Record{}, types.ErrInvalidNodeID
	}

	return rec, nil
}

// Publisher keeps a node registered by putting its heartbeat periodically.
//
// The bucket TTL should be about three heartbeat intervals: a node that misses
// three heartbeats expires and the leader stops assigning work to it.
type Publisher struct {
	kv       jetstream.KeyValue
	cluster  string
	interval time.Duration
	metrics  types.HeartbeatMetrics
	logger   types.Logger

	mu      sync.Mutex
	record  Record
	started bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates a new heartbeat publisher.
//
// Parameters:
//   - kv: Heartbeat bucket (TTL ~3x interval)
//   - cluster: Balancer cluster name, the first key token
//   - interval: Heartbeat interval
//   - metrics: Heartbeat metrics sink
//   - logger: Logger for publish failures
//
// Returns:
//   - *Publisher: New heartbeat publisher instance
//
// Example:
//
//	kv, _ := js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
//	    Bucket: "hermes-nodes",
//	    TTL:    6 * time.Second,
//	})
//	publisher := heartbeat.New(kv, "dc1", 2*time.Second, metrics, logger)
//	publisher.SetNode(nodeID, 200)
func New(kv jetstream.KeyValue, cluster string, interval time.Duration, metrics types.HeartbeatMetrics, logger types.Logger) *Publisher {
	return &Publisher{
		kv:       kv,
		cluster:  cluster,
		interval: interval,
		metrics:  metrics,
		logger:   logger,
	}
}

// SetNode sets the identity and capacity announced by the heartbeat.
//
// Must be called before Start. Calling it while running updates the capacity
// announced by the next heartbeat.
func (p *Publisher) SetNode(nodeID types.NodeID, capacity int) {
	host, _ := os.Hostname()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.record.ID = nodeID
	p.record.Host = host
	p.record.PID = os.Getpid()
	p.record.Capacity = &capacity
}

// Start publishes the first heartbeat synchronously, then keeps publishing in
// the background until Stop.
//
// Returns:
//   - error: ErrAlreadyStarted, ErrNoNodeID, or the initial publish error
func (p *Publisher) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return ErrAlreadyStarted
	}
	if p.record.ID == "" {
		return ErrNoNodeID
	}

	p.record.StartedAt = time.Now()
	if err := p.publishLocked(ctx); err != nil {
		return fmt.Errorf("failed to publish initial heartbeat: %w", err)
	}

	p.started = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	go p.loop(p.stopCh, p.doneCh)

	return nil
}

// Stop stops publishing and deletes the heartbeat so the node disappears from
// the registry immediately instead of after the TTL.
//
// Returns:
//   - error: ErrNotStarted if not running, or the delete error
func (p *Publisher) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return ErrNotStarted
	}
	p.started = false
	close(p.stopCh)
	doneCh := p.doneCh
	key := Key(p.cluster, p.record.ID)
	p.mu.Unlock()

	<-doneCh

	if err := p.kv.Delete(ctx, key); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("stopped but failed to delete heartbeat: %w", err)
	}

	return nil
}

// IsStarted returns whether the publisher is running.
func (p *Publisher) IsStarted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.started
}

func (p *Publisher) loop(stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), p.interval)
			p.mu.Lock()
			err := p.publishLocked(ctx)
			p.mu.Unlock()
			cancel()

			if err != nil {
				p.logger.Warn("heartbeat publish failed", "error", err)
			}
		}
	}
}

// publishLocked writes the heartbeat. p.mu must be held.
func (p *Publisher) publishLocked(ctx context.Context) error {
	p.record.Timestamp = time.Now()
	value, err := json.Marshal(p.record)
	if err != nil {
		return err
	}

	_, err = p.kv.Put(ctx, Key(p.cluster, p.record.ID), value)
	p.metrics.RecordHeartbeat(string(p.record.ID), err == nil)
	if err != nil {
		return fmt.Errorf("failed to publish heartbeat for %s: %w", p.record.ID, err)
	}

	return nil
}
